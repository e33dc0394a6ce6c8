package server

import (
	"sync"

	"github.com/eapache/queue"

	"github.com/danmuck/wirelink/link"
)

// queueSlotsPerWorker bounds the pending-envelope FIFO; it matches the
// arena's slot budget so the queue can never outgrow the arena.
const queueSlotsPerWorker = 32

// workerPool runs handlers on a fixed set of workers fed from one
// bounded FIFO. Each worker owns a scratchpad used as its outgoing
// response buffer, distinct from the inbound arena slot so a handler
// can read its request while composing the reply.
type workerPool struct {
	srv      *Server
	mu       sync.Mutex
	cond     *sync.Cond
	q        *queue.Queue
	capacity int
	closed   bool
	wg       sync.WaitGroup
}

func newWorkerPool(srv *Server, workers, slotSize int) *workerPool {
	p := &workerPool{
		srv:      srv,
		q:        queue.New(),
		capacity: workers * queueSlotsPerWorker,
	}
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.run(make([]byte, slotSize))
	}
	return p
}

// dispatch enqueues an envelope, blocking while the queue is full.
// After shutdown the envelope is released immediately.
func (p *workerPool) dispatch(env *link.Envelope) {
	p.mu.Lock()
	for !p.closed && p.q.Length() >= p.capacity {
		p.cond.Wait()
	}
	if p.closed {
		p.mu.Unlock()
		env.Release()
		return
	}
	p.q.Add(env)
	p.cond.Broadcast()
	p.mu.Unlock()
}

func (p *workerPool) run(scratch []byte) {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for p.q.Length() == 0 && !p.closed {
			p.cond.Wait()
		}
		if p.q.Length() == 0 && p.closed {
			p.mu.Unlock()
			return
		}
		env := p.q.Remove().(*link.Envelope)
		p.cond.Broadcast()
		p.mu.Unlock()

		p.srv.invoke(env, scratch)
		env.Release()
	}
}

// shutdown stops the workers and drains the queue, releasing every
// envelope still pending.
func (p *workerPool) shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for p.q.Length() > 0 {
		p.q.Remove().(*link.Envelope).Release()
	}
	p.cond.Broadcast()
	p.mu.Unlock()
	p.wg.Wait()
}
