package puzzle

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashIsBijective(t *testing.T) {
	seen := make(map[int64]int64, 2000)
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 2000; i++ {
		x := r.Int63n(Prime)
		h := Hash(x)
		require.GreaterOrEqual(t, h, int64(0))
		require.Less(t, h, Prime)
		if prev, ok := seen[h]; ok {
			require.Equal(t, prev, x, "two distinct preimages mapped to the same target")
		}
		seen[h] = x
	}
}

func TestRandomTargetInDomain(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 100; i++ {
		target := RandomTarget(r)
		require.GreaterOrEqual(t, target, int64(0))
		require.Less(t, target, Prime)
	}
}
