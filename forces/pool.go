package forces

import (
	"runtime"
	"sync"
)

// defaultThreshold is the minimum item count to use the worker pool.
// Below this, running inline is faster than the dispatch overhead.
const defaultThreshold = 64

// chunk is a range of items for one worker.
type chunk struct {
	start, end int
}

// pool is a set of persistent workers that process index ranges. A single
// goroutine drives it: run blocks until every chunk of the call is done.
type pool struct {
	numWorkers int
	threshold  int
	fn         func(start, end, worker int)

	workChan chan chunk     // sends work to workers
	doneChan chan struct{}  // workers signal completion
	stopChan chan struct{}  // signals workers to exit
	wg       sync.WaitGroup // tracks active workers
	running  bool
}

func newPool(workers, threshold int) *pool {
	if workers < 1 {
		workers = runtime.GOMAXPROCS(0)
	}
	if threshold < 1 {
		threshold = defaultThreshold
	}
	return &pool{numWorkers: workers, threshold: threshold}
}

// start launches the worker goroutines.
func (p *pool) start() {
	if p.running {
		return
	}
	p.workChan = make(chan chunk, p.numWorkers)
	p.doneChan = make(chan struct{}, p.numWorkers)
	p.stopChan = make(chan struct{})
	p.running = true

	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// stop signals all workers to exit and waits for them.
func (p *pool) stop() {
	if !p.running {
		return
	}
	close(p.stopChan)
	p.wg.Wait()
	close(p.workChan)
	close(p.doneChan)
	p.running = false
}

func (p *pool) worker(id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopChan:
			return
		case c, ok := <-p.workChan:
			if !ok {
				return
			}
			p.fn(c.start, c.end, id)
			p.doneChan <- struct{}{}
		}
	}
}

// run calls fn over [0, n) split into one chunk per worker, or inline as
// worker 0 when n is below the threshold.
func (p *pool) run(n int, fn func(start, end, worker int)) {
	if n == 0 {
		return
	}
	if n < p.threshold || p.numWorkers == 1 {
		fn(0, n, 0)
		return
	}
	p.start()
	p.fn = fn

	chunkSize := (n + p.numWorkers - 1) / p.numWorkers
	dispatched := 0
	for w := 0; w < p.numWorkers; w++ {
		start := w * chunkSize
		end := min(start+chunkSize, n)
		if start >= end {
			continue
		}
		p.workChan <- chunk{start: start, end: end}
		dispatched++
	}
	for i := 0; i < dispatched; i++ {
		<-p.doneChan
	}
}
