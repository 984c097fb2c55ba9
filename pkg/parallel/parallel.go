// Package parallel runs batches of independent work items. The
// algorithms in this module describe their work as "n items, each
// writing its own slot of an output buffer", and hand that to an
// Executor; they never care which kind of Executor they were given.
package parallel

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
)

// An Executor runs fn(0) .. fn(n-1), and returns once every call has
// completed. Calls may run concurrently, in any order.
type Executor interface {
	Run(n int, fn func(i int))
	Workers() int
}

// New maps an executor name (as found in config files) to an Executor.
func New(kind string, workers int) (Executor, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	switch kind {
	case "", "pool":
		return NewPool(workers), nil
	case "grid":
		return NewGrid(workers), nil
	case "sequential":
		return Sequential{}, nil
	default:
		return nil, fmt.Errorf("no executor named '%s'", kind)
	}
}

// Sequential runs every item inline, on the calling goroutine.
type Sequential struct{}

func (Sequential) Workers() int { return 1 }

func (Sequential) Run(n int, fn func(i int)) {
	for i := 0; i < n; i++ {
		fn(i)
	}
}

// Pool is a CPU worker pool; items are fed to the workers over a
// channel.
type Pool struct {
	workers int
}

func NewPool(workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{workers: workers}
}

func (p *Pool) Workers() int { return p.workers }

func (p *Pool) Run(n int, fn func(i int)) {
	if n <= 0 {
		return
	}

	var wg sync.WaitGroup
	jobsChan := make(chan int, n)

	nWorkers := p.workers
	if nWorkers > n {
		nWorkers = n
	}
	for w := 0; w < nWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobsChan {
				fn(i)
			}
		}()
	}

	for i := 0; i < n; i++ {
		jobsChan <- i
	}
	close(jobsChan)
	wg.Wait()
}

// Grid dispatches items the way a data-parallel device does: a fixed
// number of lanes, each claiming the next unclaimed item index from a
// shared atomic counter until the grid is exhausted.
type Grid struct {
	lanes int
}

func NewGrid(lanes int) *Grid {
	if lanes < 1 {
		lanes = 1
	}
	return &Grid{lanes: lanes}
}

func (g *Grid) Workers() int { return g.lanes }

func (g *Grid) Run(n int, fn func(i int)) {
	if n <= 0 {
		return
	}

	var next atomic.Int64
	var wg sync.WaitGroup

	nLanes := g.lanes
	if nLanes > n {
		nLanes = n
	}
	for l := 0; l < nLanes; l++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(next.Add(1) - 1)
				if i >= n {
					return
				}
				fn(i)
			}
		}()
	}
	wg.Wait()
}

// ForChunks splits [0,n) into contiguous ranges and runs fn over each
// range on exec. When n is at most minChunk the whole range is run
// inline, since spinning up tasks would cost more than the work.
func ForChunks(exec Executor, n, minChunk int, fn func(lo, hi int)) {
	if n <= 0 {
		return
	}
	if minChunk < 1 {
		minChunk = 1
	}
	if n <= minChunk || exec.Workers() <= 1 {
		fn(0, n)
		return
	}

	// A few chunks per worker, so one slow chunk doesn't hold everyone up
	nChunks := exec.Workers() * 4
	if maxChunks := (n + minChunk - 1) / minChunk; nChunks > maxChunks {
		nChunks = maxChunks
	}
	chunk := (n + nChunks - 1) / nChunks
	nChunks = (n + chunk - 1) / chunk

	exec.Run(nChunks, func(c int) {
		lo := c * chunk
		hi := lo + chunk
		if hi > n {
			hi = n
		}
		fn(lo, hi)
	})
}
