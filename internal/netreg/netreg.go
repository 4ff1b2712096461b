// Copyright (c) 2020 Larry Ruane
// Distributed under the MIT software license, see
// https://www.opensource.org/licenses/mit-license.php.

// Package netreg defines the contract between the round protocol
// (internal/round) and whichever shared-net transport backs it: one
// process-wide named region holding peer slots, the voting pool, and a
// family of named semaphores, expressed here as the Handle interface.
// It is satisfied by internal/simnet (many peer goroutines sharing one
// process) and internal/shm (many peer processes sharing a
// memory-mapped region). internal/round never imports either transport
// package directly.
package netreg

import (
	"context"
	"errors"
)

// MaxMiners is the fixed slot table size.
const MaxMiners = 200

// ErrAlreadyExists is returned by Transport.Found when another peer won
// the exclusive-create race; the caller should fall back to Join.
var ErrAlreadyExists = errors.New("netreg: net already exists")

// Signal is a peer-to-peer cancellation notice delivered over the net
// (as opposed to SIGINT, which is a local OS signal a peer receives
// directly and never routes through the net — see internal/peer).
type Signal int

const (
	// SignalCancelSearch tells a peer's in-flight search to stop: this
	// round already has a winner (the SIGUSR2 equivalent).
	SignalCancelSearch Signal = iota + 1
)

// BlockSnapshot is an immutable copy of the shared block at some instant.
type BlockSnapshot struct {
	ID       int64
	Target   int64
	Solution int64
	IsValid  bool
	// Wallets is keyed by seated slot index; a slot present in the map
	// has been seated at least once.
	Wallets map[int]int64
}

// Handle is one peer's view into the shared net. Every method here
// corresponds to one named semaphore or content mutex; the locking
// itself is an implementation detail of the transport (internal/simnet,
// internal/shm).
type Handle interface {
	// Self returns this peer's stable slot index.
	Self() int

	// TotalMiners returns the currently seated peer count, read under
	// the net content guard.
	TotalMiners() int

	// WaitRound blocks until a round ticket is available, i.e. this
	// peer may begin (or resume) a round. Patience-bounded; ctx should
	// normally carry a deadline.
	WaitRound(ctx context.Context) error

	// SnapshotBlock reads the shared block under its content guard.
	SnapshotBlock() BlockSnapshot

	// AcquireWinnerGate/ReleaseWinnerGate serialize both the winner
	// election (claimer) and the solution read (voters) through a
	// single binary gate. Not patience-bounded: a deadlocked winner gate
	// is a protocol bug, not a transient condition, so callers pass a
	// context they control themselves (typically the peer's lifetime
	// context).
	AcquireWinnerGate(ctx context.Context) error
	ReleaseWinnerGate()

	// CurrentWinner returns the seated slot index of this round's
	// winner, or -1 if none has claimed it yet. Must be called while
	// holding the winner gate.
	CurrentWinner() int
	// SetCurrentWinner records self as this round's winner. Must be
	// called while holding the winner gate, and only when
	// CurrentWinner() == -1.
	SetCurrentWinner(slot int)

	// AcquireEntry gates admission: held by the winner from election
	// through NextRound (which releases it as part of the barrier) so a
	// Join cannot interleave with a commit. ReleaseEntry exists only for
	// the winner's abort paths (round.Machine), when a timeout or an
	// error ends the winner's round before NextRound — the entry gate
	// must still be freed so future rounds aren't wedged shut.
	AcquireEntry(ctx context.Context) error
	ReleaseEntry()

	// BroadcastCancel signals every other seated peer's in-flight
	// search to stop (the SIGUSR2 broadcast): every occupied slot other
	// than self is signalled exactly once. Returns the number of peers
	// signalled.
	BroadcastCancel() int

	// PublishSolution writes this round's candidate preimage to the
	// shared block, under the block content guard. Winner-only.
	PublishSolution(solution int64)

	// CastVote records this peer's ballot in its own voting-pool slot.
	CastVote(yes bool)
	// PostVoting posts one ticket to the voting latch (one per
	// electorate peer besides the winner).
	PostVoting()
	// WaitResult blocks until the winner has tallied and released the
	// result latch. Patience-bounded.
	WaitResult(ctx context.Context) error

	// WaitVoting blocks until n voting tickets have arrived. Winner-only.
	WaitVoting(ctx context.Context, n int) error
	// Tally counts yes/no ballots across every seated slot.
	Tally() (yes, no int)
	// Commit marks the shared block valid and credits self's wallet.
	// Winner-only, called only when the tally passed.
	Commit() error
	// PostResult releases n waiting voters.
	PostResult(n int)

	// PostUpdated posts one ticket to the updated latch, after this
	// peer has appended the committed block to its local chain.
	PostUpdated()
	// WaitUpdated blocks until n updated tickets have arrived.
	// Winner-only.
	WaitUpdated(ctx context.Context, n int) error

	// NextRound performs the winner-only block-field reset and round
	// barrier release. committed reports whether this round's vote
	// passed.
	NextRound(committed bool) error

	// Signals delivers cancellation notices addressed to this peer.
	Signals() <-chan Signal

	// Close runs this peer's teardown: clears its wallet and slot,
	// decrements total_miners, and — if it was the last peer — reclaims
	// the shared regions. wasWinner must report whether self was this
	// round's winner; if not, and this isn't the last peer, Close posts
	// one updated ticket in its own stead so the winner's updated barrier
	// isn't stranded waiting for a post that will never come. lastPeer
	// reports whether this call did the reclamation.
	Close(wasWinner bool) (lastPeer bool, err error)
}

// Transport creates or opens the shared net a Handle is a view into.
type Transport interface {
	// Found attempts to create the net. Returns ErrAlreadyExists if
	// another peer's create won the race; the caller should then call
	// Join.
	Found(ctx context.Context, seed int64) (Handle, error)
	// Join seats a new peer into an existing net.
	Join(ctx context.Context) (Handle, error)
}

// Admit tries to found the net, and falls back to joining it if another
// peer already did.
func Admit(ctx context.Context, t Transport, seed int64) (Handle, error) {
	h, err := t.Found(ctx, seed)
	if err == nil {
		return h, nil
	}
	if !errors.Is(err, ErrAlreadyExists) {
		return nil, err
	}
	return t.Join(ctx)
}
