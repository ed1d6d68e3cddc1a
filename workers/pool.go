package workers

import (
	"context"
	"sync"

	"github.com/ausocean/utils/logging"
)

// Job is one unit of work run by a Pool.
type Job func(ctx context.Context)

// Pool runs queued jobs on a fixed number of workers. A pool lives for one
// bulk operation: queue everything, then Close to drain it.
type Pool struct {
	JobQueue chan Job
	Wg       sync.WaitGroup

	ctx  context.Context
	log  logging.Logger
	once sync.Once
}

func NewPool(ctx context.Context, log logging.Logger, queueSize, numWorkers int) *Pool {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if queueSize <= 0 {
		queueSize = 100
	}

	p := &Pool{
		JobQueue: make(chan Job, queueSize),
		ctx:      ctx,
		log:      log,
	}

	p.Wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go p.worker(i)
	}
	log.Debug("started sync workers", "workers", numWorkers, "queue", queueSize)

	return p
}

func (p *Pool) worker(id int) {
	defer p.Wg.Done()
	for job := range p.JobQueue {
		if p.ctx.Err() != nil {
			// keep draining so Close never blocks on a full queue
			continue
		}
		job(p.ctx)
	}
	p.log.Debug("sync worker stopping", "worker", id)
}

// Queue adds a job, blocking while the queue is full. It returns false once
// the pool's context is done.
func (p *Pool) Queue(job Job) bool {
	select {
	case p.JobQueue <- job:
		return true
	case <-p.ctx.Done():
		return false
	}
}

// Close stops accepting jobs and waits for the queued ones to finish.
func (p *Pool) Close() {
	p.once.Do(func() { close(p.JobQueue) })
	p.Wg.Wait()
}
