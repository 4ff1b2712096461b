// Copyright (c) 2020 Larry Ruane
// Distributed under the MIT software license, see
// https://www.opensource.org/licenses/mit-license.php.

// Package searcher implements the parallel preimage search: split
// [0, Prime) into W contiguous ranges and race W workers against each
// other, the first hit winning.
package searcher

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/vpcano/Miner-rush/internal/minerr"
	"github.com/vpcano/Miner-rush/internal/puzzle"
)

// Result is the outcome of one search.
type Result struct {
	Solution int64
	Found    bool
}

// Search partitions [0, puzzle.Prime) into workers near-equal ranges and
// scans them concurrently for x with puzzle.Hash(x) == target. It returns
// as soon as any worker finds a match, or once ctx is cancelled (the
// caller's SIGUSR2-equivalent or SIGINT-equivalent), or once every worker
// has exhausted its range with no match (only possible under
// cancellation, since Hash is a bijection over the full domain).
//
// workers must be in [1, 10]; anything else is a minerr.WorkerStartFailed.
func Search(ctx context.Context, target int64, workers int) (Result, error) {
	if workers < 1 || workers > 10 {
		return Result{}, minerr.New(minerr.WorkerStartFailed, "worker count must be in [1, 10]")
	}

	span := puzzle.Prime / int64(workers)

	// cancelled is the process-local flag every worker polls each step:
	// cheap to check on every iteration, set once by whichever worker
	// wins (or by ctx being done) and never unset within this search.
	var cancelled atomic.Bool
	var found atomic.Int64
	found.Store(-1)

	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			cancelled.Store(true)
		case <-watchDone:
		}
	}()

	g := new(errgroup.Group)
	for w := 0; w < workers; w++ {
		start := int64(w) * span
		end := start + span
		if w == workers-1 {
			end = puzzle.Prime
		}
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					cancelled.Store(true)
					err = minerr.New(minerr.WorkerJoinFailed, fmt.Sprintf("worker panicked: %v", r))
				}
			}()
			for x := start; !cancelled.Load() && x < end; x++ {
				if puzzle.Hash(x) == target {
					found.Store(x)
					cancelled.Store(true)
					return nil
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Result{}, minerr.Wrap(minerr.WorkerJoinFailed, err, "search worker failed")
	}

	if ctx.Err() != nil {
		// Cancelled externally (another peer won, or we're tearing down).
		x := found.Load()
		if x < 0 {
			return Result{Found: false}, nil
		}
		return Result{Solution: x, Found: true}, nil
	}

	x := found.Load()
	if x < 0 {
		return Result{Found: false}, nil
	}
	return Result{Solution: x, Found: true}, nil
}
