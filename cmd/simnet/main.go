// Copyright (c) 2020 Larry Ruane
// Distributed under the MIT software license, see
// https://www.opensource.org/licenses/mit-license.php.

// Command simnet runs a whole mining net as goroutines inside one
// process, using internal/simnet instead of real OS processes and
// shared memory. It is the single-binary demo/harness counterpart to
// cmd/miner: one flag-parsed CLI drives a fixed-size population and
// prints a final report.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/vpcano/Miner-rush/internal/chain"
	"github.com/vpcano/Miner-rush/internal/logging"
	"github.com/vpcano/Miner-rush/internal/peer"
	"github.com/vpcano/Miner-rush/internal/simnet"
)

var g struct {
	peers   int
	workers int
	rounds  int
	seed    int64 // -1 means use wall-clock
	debug   bool
}

func main() {
	flag.IntVar(&g.peers, "peers", 3, "number of simulated miner peers")
	flag.IntVar(&g.workers, "workers", 2, "search workers per peer, in [1, 10]")
	flag.IntVar(&g.rounds, "rounds", 5, "rounds each peer plays before leaving")
	flag.Int64Var(&g.seed, "seed", -1, "random number seed, -1 means use wall-clock")
	flag.BoolVar(&g.debug, "debug", false, "enable development-mode (console) logging")
	flag.Parse()

	if g.peers < 1 {
		fmt.Fprintln(os.Stderr, "-peers must be at least 1")
		os.Exit(2)
	}
	if g.workers < 1 || g.workers > 10 {
		fmt.Fprintln(os.Stderr, "-workers must be in [1, 10]")
		os.Exit(2)
	}
	if g.seed == -1 {
		g.seed = time.Now().UnixNano()
	}

	log := logging.New(g.debug)
	defer log.Sync()

	name := fmt.Sprintf("simnet-%d", g.seed)
	tr := simnet.New(name)

	chains := make([]*chain.Chain, g.peers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var runErr error

	founder, err := peer.New(context.Background(), tr, peer.Config{
		Workers: g.workers,
		Rounds:  g.rounds,
		Seed:    g.seed,
	}, log)
	if err != nil {
		log.Fatalw("founder could not start the net", "error", err)
	}
	chains[0] = founder.Chain()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := founder.Run(context.Background()); err != nil {
			mu.Lock()
			runErr = err
			mu.Unlock()
		}
	}()

	for i := 1; i < g.peers; i++ {
		i := i
		p, err := peer.New(context.Background(), simnet.New(name), peer.Config{
			Workers: g.workers,
			Rounds:  g.rounds,
		}, log)
		if err != nil {
			log.Fatalw("peer could not join the net", "peer", i, "error", err)
		}
		chains[i] = p.Chain()

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.Run(context.Background()); err != nil {
				mu.Lock()
				runErr = err
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	if runErr != nil {
		log.Errorw("a peer exited with error", "error", runErr)
		os.Exit(1)
	}

	for i, c := range chains {
		fmt.Printf("=== peer %d local chain ===\n", i)
		chain.Print(os.Stdout, c.Tail)
	}
}
