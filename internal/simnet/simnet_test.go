package simnet

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vpcano/Miner-rush/internal/minerr"
	"github.com/vpcano/Miner-rush/internal/netreg"
)

func freshName(t *testing.T) string { return t.Name() }

func TestFoundSeatsFounderInSlotZero(t *testing.T) {
	tr := New(freshName(t))
	h, err := tr.Found(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 0, h.Self())
	require.Equal(t, 1, h.TotalMiners())

	snap := h.SnapshotBlock()
	require.Equal(t, int64(1), snap.ID)
	require.GreaterOrEqual(t, snap.Target, int64(0))
	require.Equal(t, int64(0), snap.Wallets[0])
}

func TestFoundTwiceFails(t *testing.T) {
	tr := New(freshName(t))
	_, err := tr.Found(context.Background(), 1)
	require.NoError(t, err)
	_, err = tr.Found(context.Background(), 2)
	require.ErrorIs(t, err, netreg.ErrAlreadyExists)
}

func TestAdmitFoundsThenJoins(t *testing.T) {
	name := freshName(t)
	h1, err := netreg.Admit(context.Background(), New(name), 1)
	require.NoError(t, err)
	require.Equal(t, 0, h1.Self())

	h2, err := netreg.Admit(context.Background(), New(name), 2)
	require.NoError(t, err)
	require.Equal(t, 1, h2.Self())
	require.Equal(t, 2, h1.TotalMiners())
}

func TestJoinCapacityExceeded(t *testing.T) {
	name := freshName(t)
	tr := New(name)
	h, err := tr.Found(context.Background(), 1)
	require.NoError(t, err)

	// Fill every remaining slot.
	for i := 1; i < netreg.MaxMiners; i++ {
		_, err := New(name).Join(context.Background())
		require.NoError(t, err)
	}
	before := h.TotalMiners()
	_, err = New(name).Join(context.Background())
	require.Error(t, err)
	require.True(t, minerr.Is(err, minerr.CapacityExceeded))
	require.Equal(t, before, h.TotalMiners(), "a failed join must not mutate net state")
}

func TestCloseLastPeerReclaims(t *testing.T) {
	name := freshName(t)
	tr := New(name)
	h, err := tr.Found(context.Background(), 1)
	require.NoError(t, err)

	last, err := h.Close(true)
	require.NoError(t, err)
	require.True(t, last)

	// The net is gone: joining (or founding again) must start fresh.
	_, err = New(name).Found(context.Background(), 5)
	require.NoError(t, err)
}

func TestCloseNonLastPostsUpdatedWhenNotWinner(t *testing.T) {
	name := freshName(t)
	tr := New(name)
	h1, err := tr.Found(context.Background(), 1)
	require.NoError(t, err)
	h2, err := New(name).Join(context.Background())
	require.NoError(t, err)

	last, err := h2.Close(false)
	require.NoError(t, err)
	require.False(t, last)

	// h1 should be able to collect the stand-in `updated` ticket h2 left behind.
	require.NoError(t, h1.WaitUpdated(context.Background(), 1))
}
