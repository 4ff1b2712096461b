package netreg

import "context"

// Ticket is a counting semaphore in the POSIX sense: Post adds tokens
// unconditionally (no prior Wait required, unlike golang.org/x/sync/
// semaphore.Weighted's acquire/release pool), and Wait blocks until a
// token is available or ctx is done. It backs the round, updated,
// voting, and result counting latches with a buffered channel
// (make(chan struct{}, n)).
type Ticket struct {
	c chan struct{}
}

// NewTicket builds a Ticket with room for up to capacity outstanding,
// un-waited-for posts. MaxMiners is always enough headroom for this
// protocol, since at most one post per seated peer is ever outstanding
// between two barriers.
func NewTicket(capacity int) *Ticket {
	return &Ticket{c: make(chan struct{}, capacity)}
}

// Post adds n tokens. Blocks while the ticket is at capacity, which
// would indicate a protocol bug (more posts than seated peers).
func (t *Ticket) Post(n int) {
	for i := 0; i < n; i++ {
		t.c <- struct{}{}
	}
}

// Wait blocks until a token is available or ctx is done.
func (t *Ticket) Wait(ctx context.Context) error {
	select {
	case <-t.c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
