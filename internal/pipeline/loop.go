package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	rtsup "prionotify/internal/runtime/supervisor"
	"prionotify/internal/state"
	"prionotify/internal/transport"
	logx "prionotify/pkg/logx"
)

// event is one unit of work for the event loop. Exactly one field is set.
type event struct {
	msg   *transport.Message
	tick  bool
	flush *flush
}

// Start launches the event loop and the delivery worker. It is idempotent.
func (p *Pipeline) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.events != nil {
		return
	}
	events := make(chan event, p.cfg.EventBuffer)
	work := make(chan any, p.cfg.QueueSize)
	sup := rtsup.New(ctx, rtsup.WithLogger(p.log.With(logx.String("comp", "pipeline.sup"))))

	p.events, p.work, p.accepting = events, work, true
	p.cancel = sup.Cancel
	done := make(chan struct{})
	p.loopsDone = done

	sup.GoRestart("pipeline.events", func(c context.Context) error {
		return p.eventLoop(c, events, work)
	}, rtsup.WithPublishFirstError(true))
	sup.GoRestart("pipeline.delivery", func(c context.Context) error {
		return p.deliveryLoop(c, work)
	}, rtsup.WithPublishFirstError(true))

	go func() {
		_ = sup.Wait(context.Background())
		close(done)
	}()
	p.log.Info("pipeline started", logx.Int("queue_size", p.cfg.QueueSize))
}

// Stop refuses new events, drains queued work until ctx is done, then saves state.
func (p *Pipeline) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	p.mu.Lock()
	if p.events == nil {
		p.mu.Unlock()
		return nil
	}
	if p.stopDone != nil {
		done := p.stopDone
		p.mu.Unlock()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.accepting = false
	stopDone := make(chan struct{})
	p.stopDone = stopDone
	events, loopsDone, cancel := p.events, p.loopsDone, p.cancel
	p.mu.Unlock()

	go func() {
		p.sendWG.Wait()
		close(events)
	}()

	var drainErr error
	select {
	case <-loopsDone:
	case <-ctx.Done():
		drainErr = ctx.Err()
		p.log.Warn("pipeline drain timed out; abandoning queued alerts", logx.Int("pending", p.Pending()))
		cancel()
		select {
		case <-loopsDone:
		case <-time.After(2 * time.Second):
			p.log.Warn("pipeline workers still running after cancel")
		}
	}

	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	err := p.d.Store.Save(sctx)
	scancel()
	if err != nil {
		p.log.Error("final state save failed", logx.Err(err))
	}

	p.mu.Lock()
	p.events, p.work, p.stopDone, p.cancel = nil, nil, nil, nil
	p.mu.Unlock()
	close(stopDone)
	p.log.Info("pipeline stopped")
	if drainErr != nil {
		return drainErr
	}
	return err
}

// Handle submits an inbound message. It blocks while the event buffer is full.
func (p *Pipeline) Handle(ctx context.Context, m *transport.Message) error {
	return p.submit(ctx, event{msg: m})
}

// Tick submits a scheduler tick.
func (p *Pipeline) Tick(ctx context.Context) error {
	return p.submit(ctx, event{tick: true})
}

// Flush delivers alerts handed back by a manual unsnooze, after everything
// already admitted. done, if set, is called with the delivered and total counts.
func (p *Pipeline) Flush(ctx context.Context, alerts []state.QueuedAlert, done func(delivered, total int)) error {
	if len(alerts) == 0 {
		if done != nil {
			done(0, 0)
		}
		return nil
	}
	return p.submit(ctx, event{flush: &flush{reason: "manual", alerts: alerts, done: done}})
}

// Pending counts alerts admitted but not yet delivered.
func (p *Pipeline) Pending() int {
	p.imu.Lock()
	defer p.imu.Unlock()
	return len(p.inflight)
}

func (p *Pipeline) submit(ctx context.Context, ev event) error {
	if ctx == nil {
		ctx = context.Background()
	}
	p.mu.Lock()
	if !p.accepting {
		p.mu.Unlock()
		return ErrStopped
	}
	ch := p.events
	p.sendWG.Add(1)
	p.mu.Unlock()
	defer p.sendWG.Done()

	select {
	case ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) eventLoop(ctx context.Context, events <-chan event, work chan<- any) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				close(work)
				return nil
			}
			w := p.handleEvent(ctx, ev)
			if w == nil {
				continue
			}
			select {
			case work <- w:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// handleEvent isolates a panic to the one event that caused it.
func (p *Pipeline) handleEvent(ctx context.Context, ev event) (w any) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("event panicked; skipped", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			w = nil
		}
	}()
	switch {
	case ev.msg != nil:
		if _, j := p.admit(ctx, ev.msg); j != nil {
			return j
		}
	case ev.tick:
		if f := p.tick(); f != nil {
			return f
		}
	case ev.flush != nil:
		return ev.flush
	}
	return nil
}

func (p *Pipeline) deliveryLoop(ctx context.Context, work <-chan any) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case w, ok := <-work:
			if !ok {
				return nil
			}
			p.runWork(ctx, w)
		}
	}
}

func (p *Pipeline) runWork(ctx context.Context, w any) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("delivery panicked; skipped", logx.String("work", fmt.Sprintf("%T", w)), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	switch v := w.(type) {
	case *job:
		p.deliver(ctx, v)
	case *flush:
		p.runFlush(ctx, v)
	}
}
