// Copyright (c) 2020 Larry Ruane
// Distributed under the MIT software license, see
// https://www.opensource.org/licenses/mit-license.php.

// Package chain holds each peer's local, append-only history of committed
// blocks. It is exclusive to its owning peer: nothing here touches
// shared state.
package chain

import (
	"fmt"
	"io"
	"sort"
)

// Block is a peer-local snapshot of the shared round block at commit time.
type Block struct {
	ID       int64
	Target   int64
	Solution int64
	// Wallets maps seated slot index to that peer's cumulative reward
	// count. A slot present in the map has been seated at least once; a
	// slot absent from the map has never joined this net.
	Wallets map[int]int64
}

// Record is one link in a peer's local chain: a Block plus back/forward
// pointers. Forward links (Next) are redundant for the printer, which only
// walks backward, but are kept for callers that want forward traversal.
type Record struct {
	Block
	Prev *Record
	Next *Record
}

// Chain is the append-only list of committed blocks a single peer has
// observed, newest at Tail.
type Chain struct {
	Tail *Record
}

// Append copies b into a new tail record, linking it after the current
// tail (if any), and returns the new record.
func (c *Chain) Append(b Block) *Record {
	wallets := make(map[int]int64, len(b.Wallets))
	for k, v := range b.Wallets {
		wallets[k] = v
	}
	rec := &Record{
		Block: Block{ID: b.ID, Target: b.Target, Solution: b.Solution, Wallets: wallets},
		Prev:  c.Tail,
	}
	if c.Tail != nil {
		c.Tail.Next = rec
	}
	c.Tail = rec
	return rec
}

// Len walks the chain back to its root and counts records.
func (c *Chain) Len() int {
	n := 0
	for r := c.Tail; r != nil; r = r.Prev {
		n++
	}
	return n
}

// Print writes each block in reverse-chronological order: id, target,
// solution, then every occupied wallet slot, then a trailing count of
// blocks printed.
func Print(w io.Writer, tail *Record) int {
	n := 0
	for r := tail; r != nil; r = r.Prev {
		fmt.Fprintf(w, "Block number: %d; Target: %d;    Solution: %d\n", r.ID, r.Target, r.Solution)
		slots := make([]int, 0, len(r.Wallets))
		for slot := range r.Wallets {
			slots = append(slots, slot)
		}
		sort.Ints(slots)
		for _, slot := range slots {
			fmt.Fprintf(w, "%d: %d;         ", slot, r.Wallets[slot])
		}
		fmt.Fprintf(w, "\n\n\n")
		n++
	}
	fmt.Fprintf(w, "A total of %d blocks were printed\n", n)
	return n
}
