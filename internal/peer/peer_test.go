package peer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vpcano/Miner-rush/internal/logging"
	"github.com/vpcano/Miner-rush/internal/simnet"
)

func TestSoloPeerPlaysRoundsAndTearsDown(t *testing.T) {
	name := t.Name()
	tr := simnet.New(name)

	p, err := New(context.Background(), tr, Config{Workers: 2, Patience: time.Second, Rounds: 3, Seed: 1}, logging.Nop())
	require.NoError(t, err)

	require.NoError(t, p.Run(context.Background()))
	require.Equal(t, 3, p.Chain().Len())

	// Teardown reclaimed the net: a fresh founder should start clean.
	_, err = simnet.New(name).Found(context.Background(), 2)
	require.NoError(t, err)
}

// TestPeerLeavesEarlyWhileOthersContinue exercises a peer that plays
// fewer rounds than its net-mates and tears down mid-net: its final
// round's inline updated post (when it is not that round's winner) must
// be skipped, since Close posts that ticket in its place. If the two
// were ever posted together, the phantom extra ticket would let a later
// round's winner race past NextRound before the slower peers' own
// voters had read that round's result, producing mismatched chains.
func TestPeerLeavesEarlyWhileOthersContinue(t *testing.T) {
	name := t.Name()
	tr := simnet.New(name)
	patience := 2 * time.Second

	p1, err := New(context.Background(), tr, Config{Workers: 2, Patience: patience, Rounds: 4, Seed: 21}, logging.Nop())
	require.NoError(t, err)
	p2, err := New(context.Background(), simnet.New(name), Config{Workers: 2, Patience: patience, Rounds: 4}, logging.Nop())
	require.NoError(t, err)
	p3, err := New(context.Background(), simnet.New(name), Config{Workers: 2, Patience: patience, Rounds: 1}, logging.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	errs := make(chan error, 3)
	go func() { errs <- p2.Run(ctx) }()
	go func() { errs <- p3.Run(ctx) }()
	go func() { errs <- p1.Run(ctx) }()

	for i := 0; i < 3; i++ {
		require.NoError(t, <-errs)
	}

	require.Equal(t, 1, p3.Chain().Len())
	require.Equal(t, 4, p1.Chain().Len())
	require.Equal(t, 4, p2.Chain().Len())
}

func TestTwoPeersBothAppendCommittedBlocks(t *testing.T) {
	name := t.Name()
	tr := simnet.New(name)

	p1, err := New(context.Background(), tr, Config{Workers: 2, Patience: 2 * time.Second, Rounds: 2, Seed: 5}, logging.Nop())
	require.NoError(t, err)

	var p2 *Peer
	p2done := make(chan error, 1)
	go func() {
		var err error
		p2, err = New(context.Background(), simnet.New(name), Config{Workers: 2, Patience: 2 * time.Second, Rounds: 2}, logging.Nop())
		if err != nil {
			p2done <- err
			return
		}
		p2done <- p2.Run(context.Background())
	}()

	require.NoError(t, p1.Run(context.Background()))
	require.NoError(t, <-p2done)
	require.Equal(t, 2, p1.Chain().Len())
	require.Equal(t, 2, p2.Chain().Len())
}
