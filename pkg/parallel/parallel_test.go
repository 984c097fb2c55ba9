package parallel

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func executors() map[string]Executor {
	return map[string]Executor{
		"sequential": Sequential{},
		"pool":       NewPool(4),
		"grid":       NewGrid(3),
	}
}

func TestRunVisitsEveryItemOnce(t *testing.T) {
	for name, exec := range executors() {
		t.Run(name, func(t *testing.T) {
			for _, n := range []int{0, 1, 2, 7, 100} {
				counts := make([]int32, n)
				exec.Run(n, func(i int) { atomic.AddInt32(&counts[i], 1) })
				for i, c := range counts {
					assert.Equal(t, int32(1), c, "n=%d item %d", n, i)
				}
			}
		})
	}
}

func TestRunIsABarrier(t *testing.T) {
	for name, exec := range executors() {
		t.Run(name, func(t *testing.T) {
			var done atomic.Int64
			exec.Run(50, func(i int) { done.Add(1) })
			assert.Equal(t, int64(50), done.Load())
		})
	}
}

func TestForChunksCoversRange(t *testing.T) {
	for name, exec := range executors() {
		t.Run(name, func(t *testing.T) {
			for _, n := range []int{1, 31, 32, 33, 500} {
				var mu sync.Mutex
				seen := make([]int, n)
				ForChunks(exec, n, 32, func(lo, hi int) {
					mu.Lock()
					defer mu.Unlock()
					for i := lo; i < hi; i++ {
						seen[i]++
					}
				})
				for i, c := range seen {
					require.Equal(t, 1, c, "n=%d item %d", n, i)
				}
			}
		})
	}
}

func TestForChunksSmallRunsInline(t *testing.T) {
	calls := 0
	ForChunks(NewPool(8), 20, 32, func(lo, hi int) {
		calls++
		assert.Equal(t, 0, lo)
		assert.Equal(t, 20, hi)
	})
	assert.Equal(t, 1, calls)
}

func TestNew(t *testing.T) {
	e, err := New("grid", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, e.Workers())

	e, err = New("", 0)
	require.NoError(t, err)
	assert.IsType(t, &Pool{}, e)

	_, err = New("gpu", 1)
	assert.Error(t, err)
}
