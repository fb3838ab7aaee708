package mwreactor

// LoadBalanceStrategy picks the worker for the next connection, it is called only at
// the base loop goroutine
type LoadBalanceStrategy func([]*Worker) *Worker

// RoundRobin cycles through the workers in order, it does not look at their load
func RoundRobin() LoadBalanceStrategy {
	var nextWorkerIndex int
	return func(workers []*Worker) *Worker {
		w := workers[nextWorkerIndex%len(workers)]
		nextWorkerIndex = (nextWorkerIndex + 1) % len(workers)
		return w
	}
}
