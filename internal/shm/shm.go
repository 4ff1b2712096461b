// Copyright (c) 2020 Larry Ruane
// Distributed under the MIT software license, see
// https://www.opensource.org/licenses/mit-license.php.

package shm

import (
	"context"
	"math/rand"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/vpcano/Miner-rush/internal/minerr"
	"github.com/vpcano/Miner-rush/internal/netreg"
	"github.com/vpcano/Miner-rush/internal/puzzle"
)

// Transport is a netreg.Transport backed by a single named shared region
// under /dev/shm, shared by every OS process that names the same net.
type Transport struct {
	Name string
}

// New builds a Transport for the named net.
func New(name string) *Transport { return &Transport{Name: name} }

func (t *Transport) Found(ctx context.Context, seed int64) (netreg.Handle, error) {
	r, err := createRegion(t.Name)
	if err != nil {
		return nil, err
	}

	net := &r.raw.net
	block := &r.raw.block
	for i := range net.occupied {
		net.occupied[i] = 0
		block.wallets[i] = -1
	}
	net.currentWinner = -1
	net.winnerLock = 0
	net.entryLock = 0
	net.roundCount = 0
	net.updatedCount = 0
	net.votingCount = 0
	net.resultCount = 0

	block.id = 1
	block.target = puzzle.RandomTarget(rand.New(rand.NewSource(seed)))
	block.solution = -1
	block.isValid = 0
	block.wallets[0] = 0

	net.occupied[0] = 1
	net.totalMiners = 1
	net.pids[0] = int64(os.Getpid())

	// The founder may enter round 1 immediately.
	atomic.AddInt64(&net.roundCount, 1)

	h := newHandle(r, t.Name, 0)
	return h, nil
}

func (t *Transport) Join(ctx context.Context) (netreg.Handle, error) {
	r, err := openRegion(t.Name)
	if err != nil {
		return nil, err
	}
	net := &r.raw.net
	block := &r.raw.block

	entry := spinlock{&net.entryLock}
	if err := entry.Lock(ctx); err != nil {
		r.unmap()
		return nil, err
	}

	mu := spinlock{&net.mu}
	if err := mu.Lock(ctx); err != nil {
		entry.Unlock()
		r.unmap()
		return nil, err
	}
	slot := -1
	for i := 0; i < maxMiners; i++ {
		if net.occupied[i] == 0 {
			slot = i
			break
		}
	}
	if slot < 0 {
		mu.Unlock()
		entry.Unlock()
		r.unmap()
		return nil, minerr.New(minerr.CapacityExceeded, "slot table full")
	}
	net.occupied[slot] = 1
	net.pids[slot] = int64(os.Getpid())
	net.votingPool[slot] = 0
	net.totalMiners++
	mu.Unlock()

	blockMu := spinlock{&block.mu}
	if err := blockMu.Lock(ctx); err != nil {
		entry.Unlock()
		r.unmap()
		return nil, err
	}
	block.wallets[slot] = 0
	blockMu.Unlock()

	atomic.AddInt64(&net.roundCount, 1) // the joiner enters the next search
	entry.Unlock()

	return newHandle(r, t.Name, slot), nil
}

type handle struct {
	r    *region
	name string
	self int

	sigCh  chan netreg.Signal
	stopCh chan struct{}
}

func newHandle(r *region, name string, self int) *handle {
	h := &handle{
		r:      r,
		name:   name,
		self:   self,
		sigCh:  make(chan netreg.Signal, maxMiners),
		stopCh: make(chan struct{}),
	}
	go h.watchSignals()
	return h
}

// watchSignals polls this peer's signal slot for a pending cancel count
// posted by BroadcastCancel, rather than a real SIGUSR2 handler: a
// mapped-memory counter is reliably readable across processes, whereas
// Go's os/signal delivers a process-wide notification with no payload
// distinguishing which peer it was meant for.
func (h *handle) watchSignals() {
	net := &h.r.raw.net
	p := &net.signals[h.self]
	for {
		select {
		case <-h.stopCh:
			return
		default:
		}
		cur := atomic.LoadInt64(p)
		if cur > 0 && atomic.CompareAndSwapInt64(p, cur, cur-1) {
			select {
			case h.sigCh <- netreg.SignalCancelSearch:
			default:
			}
			continue
		}
		if err := sleepOrDone(context.Background()); err != nil {
			return
		}
	}
}

func (h *handle) Self() int { return h.self }

func (h *handle) TotalMiners() int {
	net := &h.r.raw.net
	return int(atomic.LoadInt64(&net.totalMiners))
}

func (h *handle) WaitRound(ctx context.Context) error {
	t := ticket{&h.r.raw.net.roundCount}
	if err := t.Wait(ctx); err != nil {
		return minerr.Wrap(minerr.Timeout, err, "waiting for round ticket")
	}
	return nil
}

func (h *handle) snapshotWallets() map[int]int64 {
	block := &h.r.raw.block
	wallets := make(map[int]int64)
	for i := 0; i < maxMiners; i++ {
		if block.wallets[i] != -1 {
			wallets[i] = block.wallets[i]
		}
	}
	return wallets
}

func (h *handle) SnapshotBlock() netreg.BlockSnapshot {
	block := &h.r.raw.block
	mu := spinlock{&block.mu}
	_ = mu.Lock(context.Background())
	defer mu.Unlock()
	return netreg.BlockSnapshot{
		ID:       block.id,
		Target:   block.target,
		Solution: block.solution,
		IsValid:  block.isValid != 0,
		Wallets:  h.snapshotWallets(),
	}
}

func (h *handle) AcquireWinnerGate(ctx context.Context) error {
	return spinlock{&h.r.raw.net.winnerLock}.Lock(ctx)
}

func (h *handle) ReleaseWinnerGate() { spinlock{&h.r.raw.net.winnerLock}.Unlock() }

func (h *handle) CurrentWinner() int { return int(atomic.LoadInt64(&h.r.raw.net.currentWinner)) }

func (h *handle) SetCurrentWinner(slot int) {
	atomic.StoreInt64(&h.r.raw.net.currentWinner, int64(slot))
}

func (h *handle) AcquireEntry(ctx context.Context) error {
	return spinlock{&h.r.raw.net.entryLock}.Lock(ctx)
}

func (h *handle) ReleaseEntry() { spinlock{&h.r.raw.net.entryLock}.Unlock() }

func (h *handle) BroadcastCancel() int {
	net := &h.r.raw.net
	mu := spinlock{&net.mu}
	_ = mu.Lock(context.Background())
	defer mu.Unlock()
	n := 0
	for i := 0; i < maxMiners; i++ {
		if i == h.self || net.occupied[i] == 0 {
			continue
		}
		atomic.AddInt64(&net.signals[i], 1)
		// Best-effort real SIGUSR2 too; the memory counter above is what
		// watchSignals actually trusts.
		if pid := int(atomic.LoadInt64(&net.pids[i])); pid > 0 {
			_ = syscall.Kill(pid, syscall.SIGUSR2)
		}
		n++
	}
	return n
}

func (h *handle) PublishSolution(solution int64) {
	block := &h.r.raw.block
	mu := spinlock{&block.mu}
	_ = mu.Lock(context.Background())
	block.solution = solution
	mu.Unlock()
}

func (h *handle) CastVote(yes bool) {
	v := int64(2)
	if yes {
		v = 1
	}
	atomic.StoreInt64(&h.r.raw.net.votingPool[h.self], v)
}

func (h *handle) PostVoting() { ticket{&h.r.raw.net.votingCount}.Post(1) }

func (h *handle) WaitResult(ctx context.Context) error {
	if err := (ticket{&h.r.raw.net.resultCount}).Wait(ctx); err != nil {
		return minerr.Wrap(minerr.Timeout, err, "waiting for result ticket")
	}
	return nil
}

func (h *handle) WaitVoting(ctx context.Context, n int) error {
	t := ticket{&h.r.raw.net.votingCount}
	for i := 0; i < n; i++ {
		if err := t.Wait(ctx); err != nil {
			return minerr.Wrap(minerr.Timeout, err, "waiting for votes")
		}
	}
	return nil
}

func (h *handle) Tally() (yes, no int) {
	net := &h.r.raw.net
	for i := 0; i < maxMiners; i++ {
		switch atomic.LoadInt64(&net.votingPool[i]) {
		case 1:
			yes++
		case 2:
			no++
		}
	}
	return yes, no
}

func (h *handle) Commit() error {
	block := &h.r.raw.block
	mu := spinlock{&block.mu}
	_ = mu.Lock(context.Background())
	block.isValid = 1
	block.wallets[h.self]++
	mu.Unlock()
	return nil
}

func (h *handle) PostResult(n int) { ticket{&h.r.raw.net.resultCount}.Post(n) }

func (h *handle) PostUpdated() { ticket{&h.r.raw.net.updatedCount}.Post(1) }

func (h *handle) WaitUpdated(ctx context.Context, n int) error {
	t := ticket{&h.r.raw.net.updatedCount}
	for i := 0; i < n; i++ {
		if err := t.Wait(ctx); err != nil {
			return minerr.Wrap(minerr.Timeout, err, "waiting for updated tickets")
		}
	}
	return nil
}

func (h *handle) NextRound(committed bool) error {
	block := &h.r.raw.block
	blockMu := spinlock{&block.mu}
	_ = blockMu.Lock(context.Background())
	if committed {
		block.id++
		block.target = block.solution
		block.solution = -1
		block.isValid = 0
	} else {
		block.solution = -1
	}
	blockMu.Unlock()

	net := &h.r.raw.net
	mu := spinlock{&net.mu}
	_ = mu.Lock(context.Background())
	net.currentWinner = -1
	for i := range net.votingPool {
		net.votingPool[i] = 0
	}
	n := net.totalMiners
	mu.Unlock()

	ticket{&net.roundCount}.Post(int(n))
	spinlock{&net.entryLock}.Unlock()
	return nil
}

func (h *handle) Signals() <-chan netreg.Signal { return h.sigCh }

func (h *handle) Close(wasWinner bool) (lastPeer bool, err error) {
	close(h.stopCh)

	net := &h.r.raw.net
	block := &h.r.raw.block

	blockMu := spinlock{&block.mu}
	_ = blockMu.Lock(context.Background())
	block.wallets[h.self] = -1
	blockMu.Unlock()

	mu := spinlock{&net.mu}
	_ = mu.Lock(context.Background())
	net.occupied[h.self] = 0
	net.totalMiners--
	last := net.totalMiners <= 0
	mu.Unlock()

	if !wasWinner && !last {
		ticket{&net.updatedCount}.Post(1)
	}

	if err := h.r.unmap(); err != nil {
		return false, err
	}
	if last {
		if err := unlinkRegion(h.name); err != nil && !os.IsNotExist(err) {
			return true, minerr.Wrap(minerr.SharedRegionFailed, err, "unlink shared region")
		}
		return true, nil
	}
	return false, nil
}

// IgnoreDefaultSIGUSR2 keeps the default action (terminate) from firing
// on processes that admit via this package but haven't yet wired a peer
// loop to drain os/signal themselves; cmd/miner calls this once at
// startup before admission.
func IgnoreDefaultSIGUSR2() {
	signal.Ignore(syscall.SIGUSR2)
}
