package searcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vpcano/Miner-rush/internal/puzzle"
)

func TestSearchFindsKnownPreimage(t *testing.T) {
	const x0 = 12345
	target := puzzle.Hash(x0)

	res, err := Search(context.Background(), target, 4)
	require.NoError(t, err)
	require.True(t, res.Found)
	require.Equal(t, int64(x0), res.Solution)
	require.Equal(t, target, puzzle.Hash(res.Solution))
}

func TestSearchSingleWorker(t *testing.T) {
	const x0 = 777
	target := puzzle.Hash(x0)

	res, err := Search(context.Background(), target, 1)
	require.NoError(t, err)
	require.True(t, res.Found)
	require.Equal(t, int64(x0), res.Solution)
}

func TestSearchRejectsBadWorkerCount(t *testing.T) {
	_, err := Search(context.Background(), 0, 0)
	require.Error(t, err)
	_, err = Search(context.Background(), 0, 11)
	require.Error(t, err)
}

func TestSearchRespectsCancellation(t *testing.T) {
	// A target whose preimage is the last value of the last range forces
	// a near-full scan; cancel almost immediately and expect Search to
	// return without error instead of hanging until the domain is scanned.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	res, err := Search(ctx, puzzle.Hash(puzzle.Prime-1), 2)
	require.NoError(t, err)
	_ = res // Found may be true or false depending on scheduling, but must not hang.
}
