package credpool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestFairness is spec property P5: over K chunks with pool of N
// credentials (K >> N), each credential is chosen between floor(K/N) and
// ceil(K/N) times.
func TestFairness(t *testing.T) {
	creds := []string{"a", "b", "c", "d"}
	pool, err := New(creds)
	require.NoError(t, err)

	const k = 4000
	counts := make(map[string]int)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := pool.Acquire()
			mu.Lock()
			counts[c]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	lo, hi := k/len(creds), (k+len(creds)-1)/len(creds)
	for _, c := range creds {
		require.GreaterOrEqual(t, counts[c], lo)
		require.LessOrEqual(t, counts[c], hi)
	}
}

func TestContainsAndFirst(t *testing.T) {
	pool, err := New([]string{"x", "y"})
	require.NoError(t, err)
	require.True(t, pool.Contains("x"))
	require.False(t, pool.Contains("z"))
	require.Equal(t, "x", pool.First())
}
