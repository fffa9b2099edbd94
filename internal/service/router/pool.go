package router

import (
	"context"
	"errors"
)

var errQueueFull = errors.New("router queue full")

// Start launches the worker pool. A stopped Router cannot be restarted. Workers run on ctx with cancellation
// stripped, so a shutdown lets in-flight messages finish; Stop drains them.
func (r *Router) Start(ctx context.Context) {
	r.startMu.Lock()
	defer r.startMu.Unlock()
	if r.running || r.stopped {
		return
	}
	r.running = true

	base := context.WithoutCancel(ctx)
	for range r.cfg.Workers {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			for msg := range r.queue {
				res := Result{Message: msg, Trail: []State{StateReceived, StateVerified}, State: StateVerified}
				r.process(base, res, modeLive)
			}
		}()
	}
	r.log.Info(ctx, "message workers started", "workers", r.cfg.Workers, "queue", r.cfg.QueueSize)
}

// Stop closes the queue and waits for queued messages to finish or ctx to end.
func (r *Router) Stop(ctx context.Context) error {
	r.startMu.Lock()
	if !r.running {
		r.startMu.Unlock()
		return nil
	}
	r.running = false
	r.stopped = true
	close(r.queue)
	r.startMu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Accept verifies and decodes body, then hands the message to a worker. The
// webhook handler acknowledges as soon as Accept returns without error. A
// full queue or a stopped pool drops the message with a logged warning.
func (r *Router) Accept(ctx context.Context, body []byte, signature string) (Result, error) {
	res, err := r.Ingest(ctx, body, signature)
	if err != nil || res.State == StateDropped {
		return res, err
	}

	r.startMu.Lock()
	defer r.startMu.Unlock()
	if !r.running {
		r.dropped.Add(1)
		r.log.Warn(ctx, "router not running, message dropped", "sender", res.Message.SenderID)
		res.advance(StateDropped)
		return res, nil
	}
	select {
	case r.queue <- res.Message:
		return res, nil
	default:
		r.dropped.Add(1)
		r.log.Warn(ctx, "message dropped", "sender", res.Message.SenderID, "err", errQueueFull)
		res.advance(StateDropped)
		return res, nil
	}
}
