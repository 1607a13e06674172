package lockmap

import (
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLockMap(t *testing.T) {
	m := New[int]()
	owners := make([]int, 100)

	var wg sync.WaitGroup
	for i := 0; i < 5000; i++ {
		wg.Add(1)
		go func(k int) {
			defer wg.Done()

			l := m.Lock(k)
			defer l.Unlock()

			// nobody else may hold the same key
			require.Zero(t, owners[k])
			owners[k] = 1
			runtime.Gosched()
			owners[k] = 0
		}(i % len(owners))
	}
	wg.Wait()

	require.Zero(t, m.Len())
}
