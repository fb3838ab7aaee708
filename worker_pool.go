package mwreactor

import (
	"github.com/pingcap/errors"
)

// workerPool is the fixed, ordered list of workers the dispatcher places connections on
type workerPool struct {
	workers  []*Worker
	strategy LoadBalanceStrategy
}

func newWorkerPool(numWorkers int, strategy LoadBalanceStrategy, opts *options) *workerPool {
	if numWorkers <= 0 {
		panic(numWorkers)
	}

	workers := make([]*Worker, 0, numWorkers)
	for i := 1; i <= numWorkers; i++ {
		workers = append(workers, newWorker(i, opts))
	}

	return &workerPool{
		workers:  workers,
		strategy: strategy,
	}
}

// start starts every worker, if one fails the workers already started are stopped
// and joined before returning
func (pool *workerPool) start() error {
	for i, w := range pool.workers {
		if err := w.start(); err != nil {
			started := pool.workers[:i]
			for _, sw := range started {
				sw.Stop()
			}
			for _, sw := range started {
				sw.join()
			}
			// the failed worker goroutine has returned as well
			w.join()
			return errors.Trace(err)
		}
	}
	return nil
}

// getNext must be called at the base loop goroutine
func (pool *workerPool) getNext() *Worker {
	return pool.strategy(pool.workers)
}

func (pool *workerPool) stop() {
	for _, w := range pool.workers {
		w.Stop()
	}
}

func (pool *workerPool) join() {
	for _, w := range pool.workers {
		w.join()
	}
}

func (pool *workerPool) size() int {
	return len(pool.workers)
}
