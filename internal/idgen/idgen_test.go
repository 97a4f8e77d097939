package idgen

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerator_Sequence(t *testing.T) {
	g := New("")
	require.Equal(t, "1", g.Next())
	require.Equal(t, "2", g.Next())
	require.Equal(t, "3", g.Next())
}

func TestGenerator_Prefix(t *testing.T) {
	g := New("pxm_")
	require.Equal(t, "pxm_", g.Prefix())
	require.Equal(t, "pxm_1", g.Next())
	require.Equal(t, "pxm_2", g.Next())
}

func TestGenerator_ConcurrentUnique(t *testing.T) {
	g := New("p")
	const workers, perWorker = 8, 200

	var mu sync.Mutex
	seen := make(map[string]struct{}, workers*perWorker)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				id := g.Next()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, workers*perWorker)
}
