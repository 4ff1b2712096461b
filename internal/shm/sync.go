// Copyright (c) 2020 Larry Ruane
// Distributed under the MIT software license, see
// https://www.opensource.org/licenses/mit-license.php.

package shm

import (
	"context"
	"sync/atomic"
	"time"
)

const spinBackoff = 200 * time.Microsecond

// spinlock is a binary mutual-exclusion lock living at a fixed address
// inside a shared mapping: the cross-process stand-in for an ordinary
// acquire/release lock, not a counting semaphore.
type spinlock struct{ p *int64 }

func (s spinlock) Lock(ctx context.Context) error {
	for {
		if atomic.CompareAndSwapInt64(s.p, 0, 1) {
			return nil
		}
		if err := sleepOrDone(ctx); err != nil {
			return err
		}
	}
}

func (s spinlock) Unlock() { atomic.StoreInt64(s.p, 0) }

// ticket is a counting semaphore living at a fixed address inside a
// shared mapping: Post adds permits unconditionally (no Wait required
// first), Wait blocks until a permit is available. This is the
// cross-process twin of internal/netreg.Ticket, backing the round,
// updated, voting, and result counting latches.
type ticket struct{ p *int64 }

func (t ticket) Post(n int) { atomic.AddInt64(t.p, int64(n)) }

func (t ticket) Wait(ctx context.Context) error {
	for {
		cur := atomic.LoadInt64(t.p)
		if cur > 0 && atomic.CompareAndSwapInt64(t.p, cur, cur-1) {
			return nil
		}
		if err := sleepOrDone(ctx); err != nil {
			return err
		}
	}
}

func sleepOrDone(ctx context.Context) error {
	timer := time.NewTimer(spinBackoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
