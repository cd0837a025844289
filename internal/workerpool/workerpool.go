// Package workerpool runs independent jobs on a bounded set of goroutines.
package workerpool

import (
	"runtime"
	"sync"
)

// DefaultWorkers is used when a caller asks for zero or fewer workers.
// Hashing is I/O bound, so it is a multiple of the CPU count.
var DefaultWorkers = max(4, 2*runtime.GOMAXPROCS(0))

// WorkerPool provides a reusable worker pool pattern for parallel processing.
// It manages job distribution across multiple workers and collects results.
type WorkerPool[Job any, Result any] struct {
	numWorkers int
	jobs       chan Job
	results    chan Result
	wg         sync.WaitGroup
}

// New creates a new worker pool with the specified number of workers.
// If numWorkers is 0 or negative, it defaults to DefaultWorkers.
// If numJobs is less than numWorkers, the pool is sized to match numJobs.
func New[Job any, Result any](numWorkers, numJobs int) *WorkerPool[Job, Result] {
	if numWorkers <= 0 {
		numWorkers = DefaultWorkers
	}
	if numJobs > 0 {
		numWorkers = min(numWorkers, numJobs)
	}

	return &WorkerPool[Job, Result]{
		numWorkers: numWorkers,
		jobs:       make(chan Job, numJobs),
		results:    make(chan Result, numJobs),
	}
}

// Workers returns the number of goroutines the pool starts.
func (p *WorkerPool[Job, Result]) Workers() int {
	return p.numWorkers
}

// Start begins the worker pool with the provided worker function.
// The workerFn is called for each job and should return a result.
func (p *WorkerPool[Job, Result]) Start(workerFn func(Job) Result) {
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				p.results <- workerFn(job)
			}
		}()
	}
}

// Submit adds a job to the worker pool's job queue.
func (p *WorkerPool[Job, Result]) Submit(job Job) {
	p.jobs <- job
}

// Close closes the job channel and waits for all workers to complete.
// After calling Close, the results channel will be closed automatically.
func (p *WorkerPool[Job, Result]) Close() {
	close(p.jobs)
	go func() {
		p.wg.Wait()
		close(p.results)
	}()
}

// Results returns the results channel for collecting worker outputs.
// Results arrive in completion order, not submission order.
func (p *WorkerPool[Job, Result]) Results() <-chan Result {
	return p.results
}

// Map applies fn to every input on a pool of numWorkers goroutines and
// returns the outputs in input order.
func Map[In any, Out any](numWorkers int, inputs []In, fn func(In) Out) []Out {
	out := make([]Out, len(inputs))
	if len(inputs) == 0 {
		return out
	}

	type indexed struct {
		i     int
		value Out
	}

	pool := New[int, indexed](numWorkers, len(inputs))
	pool.Start(func(i int) indexed {
		return indexed{i: i, value: fn(inputs[i])}
	})
	for i := range inputs {
		pool.Submit(i)
	}
	pool.Close()

	for r := range pool.Results() {
		out[r.i] = r.value
	}
	return out
}
