package chain

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendLinksBackwardAndForward(t *testing.T) {
	var c Chain
	r1 := c.Append(Block{ID: 1, Target: 10, Solution: 11, Wallets: map[int]int64{0: 1}})
	require.Nil(t, r1.Prev)
	r2 := c.Append(Block{ID: 2, Target: 11, Solution: 22, Wallets: map[int]int64{0: 1, 1: 0}})
	require.Equal(t, r1, r2.Prev)
	require.Equal(t, r2, r1.Next)
	require.Equal(t, r2, c.Tail)
	require.Equal(t, 2, c.Len())
}

func TestAppendCopiesWallets(t *testing.T) {
	var c Chain
	w := map[int]int64{0: 1}
	rec := c.Append(Block{ID: 1, Target: 1, Solution: 2, Wallets: w})
	w[0] = 99
	require.Equal(t, int64(1), rec.Wallets[0], "Append must snapshot, not alias, the caller's map")
}

func TestPrintReverseChronological(t *testing.T) {
	var c Chain
	c.Append(Block{ID: 1, Target: 10, Solution: 11, Wallets: map[int]int64{0: 1}})
	c.Append(Block{ID: 2, Target: 11, Solution: 22, Wallets: map[int]int64{0: 1, 1: 0}})

	var buf bytes.Buffer
	n := Print(&buf, c.Tail)
	require.Equal(t, 2, n)
	out := buf.String()
	require.Contains(t, out, "Block number: 2")
	require.Contains(t, out, "Block number: 1")
	require.Less(t, indexOf(out, "Block number: 2"), indexOf(out, "Block number: 1"))
	require.Contains(t, out, "A total of 2 blocks were printed")
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
