package caravel

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// ============================================================================
// Pool configuration
// ============================================================================

// PoolConfig controls how operators hand work to the pool.
type PoolConfig struct {
	// MaxWorkers limits worker goroutines (0 = GOMAXPROCS).
	MaxWorkers int

	// MinRowsForParallel is the minimum rows to justify parallel overhead.
	MinRowsForParallel int

	// MorselSize is the row granularity of range partitioning.
	MorselSize int
}

// DefaultPoolConfig returns sensible defaults.
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		MaxWorkers:         0,
		MinRowsForParallel: 8192,
		MorselSize:         morselElems,
	}
}

var poolConfig = DefaultPoolConfig()

// SetPoolConfig replaces the global pool configuration.
func SetPoolConfig(cfg *PoolConfig) {
	if cfg != nil {
		poolConfig = cfg
	}
}

// GetPoolConfig returns the current configuration.
func GetPoolConfig() *PoolConfig { return poolConfig }

// ============================================================================
// Pool
// ============================================================================

// Pool is the work-dispatch abstraction the executor runs on. Both entry
// points are blocking barriers: when a dispatch returns, every invocation
// has completed and its writes are visible to the caller.
//
// The row-range-to-worker mapping is monotonically increasing in worker
// id — worker 0 always holds the lowest rows — which FIRST/LAST merges
// depend on.
type Pool struct {
	workers int
	cancel  atomic.Bool
}

var (
	globalPool *Pool
	poolOnce   sync.Once
)

// poolGet returns the process-wide pool, creating it on first use.
func poolGet() *Pool {
	poolOnce.Do(func() {
		w := poolConfig.MaxWorkers
		if w <= 0 {
			w = runtime.GOMAXPROCS(0)
		}
		globalPool = &Pool{workers: w}
	})
	return globalPool
}

// TotalWorkers returns the fixed worker count.
func (p *Pool) TotalWorkers() int { return p.workers }

// Cancel sets the cancellation flag. Kernels poll it between phases; the
// current operator returns ErrCancel once it observes the flag.
func (p *Pool) Cancel() { p.cancel.Store(true) }

// Cancelled is a relaxed load of the cancellation flag.
func (p *Pool) Cancelled() bool { return p.cancel.Load() }

// resetCancel clears the flag at the top of Execute.
func (p *Pool) resetCancel() { p.cancel.Store(false) }

// shouldParallelize reports whether n rows justify spinning up workers.
func (p *Pool) shouldParallelize(n int) bool {
	return p.workers > 1 && n >= poolConfig.MinRowsForParallel
}

// Dispatch invokes fn(worker, start, end) across disjoint contiguous row
// ranges covering [0, n). Ranges are morsel-aligned and assigned in
// ascending worker order. Blocking.
func (p *Pool) Dispatch(n int, fn func(worker, start, end int)) {
	if n <= 0 {
		return
	}
	if !p.shouldParallelize(n) {
		fn(0, 0, n)
		return
	}
	nw := p.workers
	morsel := poolConfig.MorselSize
	// Morsel-aligned chunk per worker; the last worker absorbs the remainder.
	chunk := (n + nw - 1) / nw
	chunk = (chunk + morsel - 1) / morsel * morsel
	var wg sync.WaitGroup
	for w := 0; w < nw; w++ {
		start := w * chunk
		if start >= n {
			break
		}
		end := start + chunk
		if end > n {
			end = n
		}
		wg.Add(1)
		go func(w, start, end int) {
			defer wg.Done()
			fn(w, start, end)
		}(w, start, end)
	}
	wg.Wait()
}

// DispatchN invokes fn(worker, task) once for each task id in [0, tasks).
// Tasks are pulled by an atomic counter so workers stay busy when task
// costs are uneven. Blocking.
func (p *Pool) DispatchN(tasks int, fn func(worker, task int)) {
	if tasks <= 0 {
		return
	}
	nw := p.workers
	if nw > tasks {
		nw = tasks
	}
	if nw <= 1 {
		for t := 0; t < tasks; t++ {
			fn(0, t)
		}
		return
	}
	var next atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < nw; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for {
				t := int(next.Add(1)) - 1
				if t >= tasks {
					return
				}
				fn(w, t)
			}
		}(w)
	}
	wg.Wait()
}

// workerRange returns worker w's contiguous range under the same
// partitioning Dispatch uses, for callers that size per-worker state.
func workerRange(n, workers, w int) (int, int) {
	morsel := poolConfig.MorselSize
	chunk := (n + workers - 1) / workers
	chunk = (chunk + morsel - 1) / morsel * morsel
	start := w * chunk
	if start >= n {
		return n, n
	}
	end := start + chunk
	if end > n {
		end = n
	}
	return start, end
}
