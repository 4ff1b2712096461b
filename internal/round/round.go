// Copyright (c) 2020 Larry Ruane
// Distributed under the MIT software license, see
// https://www.opensource.org/licenses/mit-license.php.

// Package round implements the per-peer round state machine: Idle ->
// Searching -> Claiming -> Voting -> Committing/Rejected -> NextRound ->
// Idle (or Aborted on timeout). It drives a netreg.Handle and an
// internal/searcher search; it never knows whether the handle is
// backed by internal/simnet or internal/shm.
package round

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/vpcano/Miner-rush/internal/chain"
	"github.com/vpcano/Miner-rush/internal/minerr"
	"github.com/vpcano/Miner-rush/internal/netreg"
	"github.com/vpcano/Miner-rush/internal/puzzle"
	"github.com/vpcano/Miner-rush/internal/searcher"
)

// DefaultPatience bounds how long a peer waits on the round and result
// latches: a dead peer cannot wedge the net forever.
const DefaultPatience = 3 * time.Second

// Config parameterizes one peer's round machine.
type Config struct {
	Workers  int
	Patience time.Duration
}

// Machine runs successive rounds against a single netreg.Handle.
type Machine struct {
	h    netreg.Handle
	cfg  Config
	log  *zap.SugaredLogger
	self int
}

// New builds a Machine for h. A zero Config.Patience is replaced with
// DefaultPatience.
func New(h netreg.Handle, cfg Config, log *zap.SugaredLogger) *Machine {
	if cfg.Patience <= 0 {
		cfg.Patience = DefaultPatience
	}
	return &Machine{h: h, cfg: cfg, log: log, self: h.Self()}
}

// Outcome reports what a single RunOne call did.
type Outcome struct {
	// Aborted is true when the round timed out waiting on the round,
	// voting, or result latch: the caller should stop iterating and proceed
	// straight to teardown.
	Aborted bool
	// Committed reports whether this round's vote passed. Meaningless
	// when Aborted.
	Committed bool
	// Block is the block this peer should append locally, valid only
	// when Committed.
	Block chain.Block
	// WasWinner reports whether this peer won this round's election.
	// Meaningful even when !Committed (the winner still ran the tally).
	WasWinner bool
}

// RunOne drives exactly one round to completion (or abandons it on
// timeout). Stopping after the round on a local SIGINT is handled by
// internal/peer between RunOne calls, not by anything on the net.
func (m *Machine) RunOne(ctx context.Context) (Outcome, error) {
	roundCtx, cancel := context.WithTimeout(ctx, m.cfg.Patience)
	defer cancel()
	if err := m.h.WaitRound(roundCtx); err != nil {
		if isPatienceExceeded(err) {
			return Outcome{Aborted: true}, nil
		}
		return Outcome{}, err
	}

	snap := m.h.SnapshotBlock()
	target := snap.Target
	m.log.Debugw("searching", "peer", m.self, "round", snap.ID, "target", target)

	searchCtx, cancelSearch := context.WithCancel(ctx)
	stopDraining := make(chan struct{})
	go m.drainCancelSignal(cancelSearch, stopDraining)

	result, err := searcher.Search(searchCtx, target, m.cfg.Workers)
	cancelSearch()
	close(stopDraining)
	if err != nil {
		return Outcome{}, err
	}

	won, err := m.claim(ctx, result)
	if err != nil {
		return Outcome{}, err
	}

	if won {
		return m.runAsWinner(ctx)
	}
	return m.runAsVoter(ctx)
}

// drainCancelSignal watches for the winner's SIGUSR2-equivalent broadcast
// and cancels the in-flight search. It stops when told to, or when the
// handle's signal channel is closed.
func (m *Machine) drainCancelSignal(cancelSearch context.CancelFunc, stop <-chan struct{}) {
	for {
		select {
		case sig, ok := <-m.h.Signals():
			if !ok {
				return
			}
			if sig == netreg.SignalCancelSearch {
				cancelSearch()
			}
		case <-stop:
			return
		}
	}
}

// claim runs the Claiming state. A peer that never found a preimage
// this round (result.Found == false) never attempts to claim.
func (m *Machine) claim(ctx context.Context, result searcher.Result) (won bool, err error) {
	if !result.Found {
		return false, nil
	}

	if err := m.h.AcquireWinnerGate(ctx); err != nil {
		return false, err
	}
	if m.h.CurrentWinner() != -1 {
		// Another peer already claimed this round; downgrade to voter.
		m.h.ReleaseWinnerGate()
		return false, nil
	}
	m.h.SetCurrentWinner(m.self)

	// Still holding the winner gate: close off admission, publish the
	// solution, and broadcast cancellation to every other peer before
	// finally releasing the gate.
	if err := m.h.AcquireEntry(ctx); err != nil {
		m.h.ReleaseWinnerGate()
		return false, err
	}
	m.h.PublishSolution(result.Solution)
	signalled := m.h.BroadcastCancel()
	m.h.ReleaseWinnerGate()

	m.log.Debugw("won election", "peer", m.self, "solution", result.Solution, "signalled", signalled)
	return true, nil
}

// runAsWinner runs Tally, Committing/Rejected, the winner's half of
// Commit-and-append, and NextRound.
func (m *Machine) runAsWinner(ctx context.Context) (Outcome, error) {
	n := m.h.TotalMiners()

	// Every return path below NextRound must release the entry gate
	// itself (see netreg.Handle.ReleaseEntry): only a successful
	// NextRound releases it as part of the round barrier, and every
	// other path here leaves it held unless undone explicitly.
	resultCtx, cancel := context.WithTimeout(ctx, m.cfg.Patience)
	defer cancel()
	if err := m.h.WaitVoting(resultCtx, n-1); err != nil {
		m.h.ReleaseEntry()
		if isPatienceExceeded(err) {
			return Outcome{Aborted: true}, nil
		}
		return Outcome{}, err
	}

	yes, no := m.h.Tally()
	// Commit iff yes outvotes no, or no ballots were cast at all (the
	// winner's own slot never votes, so a solo founder with no other
	// electorate still commits).
	committed := yes > no || (yes == 0 && no == 0)

	if committed {
		if err := m.h.Commit(); err != nil {
			m.h.ReleaseEntry()
			return Outcome{}, err
		}
	}
	m.h.PostResult(n - 1)

	snap := m.h.SnapshotBlock()
	out := Outcome{Committed: committed, WasWinner: true}
	if committed {
		out.Block = chain.Block{ID: snap.ID, Target: snap.Target, Solution: snap.Solution, Wallets: snap.Wallets}
	}

	if err := m.h.WaitUpdated(ctx, n-1); err != nil {
		m.h.ReleaseEntry()
		return Outcome{}, err
	}

	if err := m.h.NextRound(committed); err != nil {
		m.h.ReleaseEntry()
		return Outcome{}, err
	}
	return out, nil
}

// runAsVoter runs the Voting state and the voter's half of Commit-and-
// append, for every non-winner peer (whether it found a preimage and
// lost the claim, or never found one at all).
func (m *Machine) runAsVoter(ctx context.Context) (Outcome, error) {
	if err := m.h.AcquireWinnerGate(ctx); err != nil {
		return Outcome{}, err
	}
	snap := m.h.SnapshotBlock()
	m.h.ReleaseWinnerGate()

	yes := puzzle.Hash(snap.Solution) == snap.Target
	m.h.CastVote(yes)
	m.h.PostVoting()

	resultCtx, cancel := context.WithTimeout(ctx, m.cfg.Patience)
	defer cancel()
	if err := m.h.WaitResult(resultCtx); err != nil {
		if isPatienceExceeded(err) {
			return Outcome{Aborted: true}, nil
		}
		return Outcome{}, err
	}

	final := m.h.SnapshotBlock()
	out := Outcome{Committed: final.IsValid, WasWinner: false}
	if final.IsValid {
		out.Block = chain.Block{ID: final.ID, Target: final.Target, Solution: final.Solution, Wallets: final.Wallets}
	}
	return out, nil
}

func isPatienceExceeded(err error) bool {
	return minerr.Is(err, minerr.Timeout) || errors.Is(err, context.DeadlineExceeded)
}
