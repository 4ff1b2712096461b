// Copyright (c) 2020 Larry Ruane
// Distributed under the MIT software license, see
// https://www.opensource.org/licenses/mit-license.php.

// Package simnet is the in-process netreg.Transport: every peer is a
// goroutine in the same address space, and the shared region is an
// ordinary Go struct guarded by sync.Mutex plus a pair of
// golang.org/x/sync/semaphore.Weighted gates for the binary
// winner/entry locks. It is used by cmd/simnet (many simulated peers
// from one binary) and by every package test that needs a full net
// without spawning real processes.
package simnet

import (
	"context"
	"math/rand"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/vpcano/Miner-rush/internal/minerr"
	"github.com/vpcano/Miner-rush/internal/netreg"
	"github.com/vpcano/Miner-rush/internal/puzzle"
)

type sharedBlock struct {
	mu       sync.Mutex
	id       int64
	target   int64
	solution int64
	isValid  bool
	wallets  map[int]int64
}

func (b *sharedBlock) snapshot() netreg.BlockSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	wallets := make(map[int]int64, len(b.wallets))
	for k, v := range b.wallets {
		wallets[k] = v
	}
	return netreg.BlockSnapshot{
		ID: b.id, Target: b.target, Solution: b.solution, IsValid: b.isValid,
		Wallets: wallets,
	}
}

// registry is one named net's shared state.
type registry struct {
	mu            sync.Mutex
	occupied      [netreg.MaxMiners]bool
	totalMiners   int
	votingPool    [netreg.MaxMiners]int8 // 0 absent, 1 yes, 2 no
	currentWinner int                    // -1 means none

	winnerGate *semaphore.Weighted
	entryGate  *semaphore.Weighted

	roundTicket   *netreg.Ticket
	updatedTicket *netreg.Ticket
	votingTicket  *netreg.Ticket
	resultTicket  *netreg.Ticket

	block *sharedBlock

	signals [netreg.MaxMiners]chan netreg.Signal

	name string
}

var (
	registriesMu sync.Mutex
	registries   = map[string]*registry{}
)

// Transport is a netreg.Transport backed by the process-wide registries
// map, keyed by name so unrelated tests/simulations don't collide.
type Transport struct {
	Name string
}

// New builds a Transport for the named net.
func New(name string) *Transport { return &Transport{Name: name} }

func (t *Transport) Found(_ context.Context, seed int64) (netreg.Handle, error) {
	registriesMu.Lock()
	defer registriesMu.Unlock()
	if _, exists := registries[t.Name]; exists {
		return nil, netreg.ErrAlreadyExists
	}

	r := &registry{
		currentWinner: -1,
		winnerGate:    semaphore.NewWeighted(1),
		entryGate:     semaphore.NewWeighted(1),
		roundTicket:   netreg.NewTicket(netreg.MaxMiners),
		updatedTicket: netreg.NewTicket(netreg.MaxMiners),
		votingTicket:  netreg.NewTicket(netreg.MaxMiners),
		resultTicket:  netreg.NewTicket(netreg.MaxMiners),
		block: &sharedBlock{
			id:       1,
			target:   puzzle.RandomTarget(rand.New(rand.NewSource(seed))),
			solution: -1,
			wallets:  map[int]int64{0: 0},
		},
		name: t.Name,
	}
	r.occupied[0] = true
	r.totalMiners = 1
	for i := range r.signals {
		r.signals[i] = make(chan netreg.Signal, netreg.MaxMiners)
	}
	// The founder may enter round 1 immediately.
	r.roundTicket.Post(1)

	registries[t.Name] = r
	return &handle{reg: r, self: 0}, nil
}

func (t *Transport) Join(ctx context.Context) (netreg.Handle, error) {
	registriesMu.Lock()
	r, ok := registries[t.Name]
	registriesMu.Unlock()
	if !ok {
		return nil, minerr.New(minerr.SharedRegionFailed, "no such net: "+t.Name)
	}

	if err := r.entryGate.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	r.mu.Lock()
	slot := -1
	for i := 0; i < netreg.MaxMiners; i++ {
		if !r.occupied[i] {
			slot = i
			break
		}
	}
	if slot < 0 {
		r.mu.Unlock()
		r.entryGate.Release(1)
		return nil, minerr.New(minerr.CapacityExceeded, "slot table full")
	}
	r.occupied[slot] = true
	r.totalMiners++
	r.votingPool[slot] = 0
	r.mu.Unlock()

	r.block.mu.Lock()
	r.block.wallets[slot] = 0
	r.block.mu.Unlock()

	r.roundTicket.Post(1) // the joiner enters the next search
	r.entryGate.Release(1)

	return &handle{reg: r, self: slot}, nil
}

type handle struct {
	reg  *registry
	self int
}

func (h *handle) Self() int { return h.self }

func (h *handle) TotalMiners() int {
	h.reg.mu.Lock()
	defer h.reg.mu.Unlock()
	return h.reg.totalMiners
}

func (h *handle) WaitRound(ctx context.Context) error {
	if err := h.reg.roundTicket.Wait(ctx); err != nil {
		return minerr.Wrap(minerr.Timeout, err, "waiting for round ticket")
	}
	return nil
}

func (h *handle) SnapshotBlock() netreg.BlockSnapshot { return h.reg.block.snapshot() }

func (h *handle) AcquireWinnerGate(ctx context.Context) error {
	return h.reg.winnerGate.Acquire(ctx, 1)
}

func (h *handle) ReleaseWinnerGate() { h.reg.winnerGate.Release(1) }

func (h *handle) CurrentWinner() int {
	h.reg.mu.Lock()
	defer h.reg.mu.Unlock()
	return h.reg.currentWinner
}

func (h *handle) SetCurrentWinner(slot int) {
	h.reg.mu.Lock()
	h.reg.currentWinner = slot
	h.reg.mu.Unlock()
}

func (h *handle) AcquireEntry(ctx context.Context) error {
	return h.reg.entryGate.Acquire(ctx, 1)
}

func (h *handle) ReleaseEntry() { h.reg.entryGate.Release(1) }

func (h *handle) BroadcastCancel() int {
	h.reg.mu.Lock()
	defer h.reg.mu.Unlock()
	n := 0
	for i := 0; i < netreg.MaxMiners; i++ {
		if i == h.self || !h.reg.occupied[i] {
			continue
		}
		select {
		case h.reg.signals[i] <- netreg.SignalCancelSearch:
		default:
			// peer hasn't drained its previous cancel yet; it's already
			// going to stop searching, so dropping this one is fine.
		}
		n++
	}
	return n
}

func (h *handle) PublishSolution(solution int64) {
	b := h.reg.block
	b.mu.Lock()
	b.solution = solution
	b.mu.Unlock()
}

func (h *handle) CastVote(yes bool) {
	h.reg.mu.Lock()
	if yes {
		h.reg.votingPool[h.self] = 1
	} else {
		h.reg.votingPool[h.self] = 2
	}
	h.reg.mu.Unlock()
}

func (h *handle) PostVoting() { h.reg.votingTicket.Post(1) }

func (h *handle) WaitResult(ctx context.Context) error {
	if err := h.reg.resultTicket.Wait(ctx); err != nil {
		return minerr.Wrap(minerr.Timeout, err, "waiting for result ticket")
	}
	return nil
}

func (h *handle) WaitVoting(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		if err := h.reg.votingTicket.Wait(ctx); err != nil {
			return minerr.Wrap(minerr.Timeout, err, "waiting for votes")
		}
	}
	return nil
}

func (h *handle) Tally() (yes, no int) {
	h.reg.mu.Lock()
	defer h.reg.mu.Unlock()
	for i := 0; i < netreg.MaxMiners; i++ {
		switch h.reg.votingPool[i] {
		case 1:
			yes++
		case 2:
			no++
		}
	}
	return yes, no
}

func (h *handle) Commit() error {
	b := h.reg.block
	b.mu.Lock()
	b.isValid = true
	b.wallets[h.self]++
	b.mu.Unlock()
	return nil
}

func (h *handle) PostResult(n int) { h.reg.resultTicket.Post(n) }

func (h *handle) PostUpdated() { h.reg.updatedTicket.Post(1) }

func (h *handle) WaitUpdated(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		if err := h.reg.updatedTicket.Wait(ctx); err != nil {
			return minerr.Wrap(minerr.Timeout, err, "waiting for updated tickets")
		}
	}
	return nil
}

func (h *handle) NextRound(committed bool) error {
	b := h.reg.block
	b.mu.Lock()
	if committed {
		b.id++
		b.target = b.solution
		b.solution = -1
		b.isValid = false
	} else {
		b.solution = -1
	}
	b.mu.Unlock()

	h.reg.mu.Lock()
	h.reg.currentWinner = -1
	for i := range h.reg.votingPool {
		h.reg.votingPool[i] = 0
	}
	n := h.reg.totalMiners
	h.reg.mu.Unlock()

	h.reg.roundTicket.Post(n)
	h.reg.entryGate.Release(1)
	return nil
}

func (h *handle) Signals() <-chan netreg.Signal { return h.reg.signals[h.self] }

func (h *handle) Close(wasWinner bool) (lastPeer bool, err error) {
	b := h.reg.block
	b.mu.Lock()
	delete(b.wallets, h.self)
	b.mu.Unlock()

	h.reg.mu.Lock()
	h.reg.occupied[h.self] = false
	h.reg.totalMiners--
	last := h.reg.totalMiners <= 0
	h.reg.mu.Unlock()

	if last {
		registriesMu.Lock()
		delete(registries, h.reg.name)
		registriesMu.Unlock()
		return true, nil
	}
	if !wasWinner {
		h.reg.updatedTicket.Post(1)
	}
	return false, nil
}
