// Package pipeline sequences the alert gates for each inbound message
// (snooze, contact filter, classification, dedup), delivers what survives,
// and runs the periodic tick that flushes the snooze queue.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"prionotify/internal/clock"
	"prionotify/internal/eventbus"
	"prionotify/internal/metrics"
	"prionotify/internal/notifier"
	"prionotify/internal/render"
	"prionotify/internal/snooze"
	"prionotify/internal/state"
	"prionotify/internal/transport"
	"prionotify/internal/trigger"
	logx "prionotify/pkg/logx"
)

var ErrStopped = errors.New("pipeline stopped")

// Outcome is what happened to one inbound message.
type Outcome string

const (
	Ignored       Outcome = "ignored"
	Filtered      Outcome = "filtered"
	Deduped       Outcome = "deduped"
	SnoozeQueued  Outcome = "snooze_queued"
	SnoozeDropped Outcome = "snooze_dropped"
	Accepted      Outcome = "accepted" // handed to delivery
	Delivered     Outcome = "delivered"
	Failed        Outcome = "failed"
)

// Sender is the delivery contract the pipeline needs; *notifier.Client implements it.
type Sender interface {
	Send(ctx context.Context, a notifier.Alert) bool
}

type Config struct {
	// Retention is the dedup record lifetime used by tick cleanup.
	Retention time.Duration
	// QueueSize bounds the delivery queue between the event loop and the delivery worker.
	QueueSize int
	// EventBuffer bounds pending inbound events.
	EventBuffer int
}

type Deps struct {
	Store      *state.Store
	Snooze     *snooze.Controller
	Classifier trigger.Classifier
	Renderer   render.Renderer
	Sender     Sender
	Metrics    *metrics.Metrics
	Bus        eventbus.Bus
	Clock      clock.Clock
	Log        logx.Logger
}

// job is one admitted alert awaiting delivery.
type job struct {
	id       string
	key      string
	chatID   int64
	msgID    int
	senderID int64
	category trigger.Category
	alert    notifier.Alert
}

// flush delivers a batch of queued alerts in order.
type flush struct {
	reason string // "expired" or "manual"
	alerts []state.QueuedAlert
	// fromQueue means alerts is a copy of the persisted queue; the entries are
	// removed from it afterwards.
	fromQueue bool
	done     func(delivered, total int)
}

type Pipeline struct {
	d   Deps
	cfg Config
	log logx.Logger

	imu      sync.Mutex
	inflight map[string]struct{}
	flushing bool

	// run state; see loop.go
	mu        sync.Mutex
	accepting bool
	events    chan event
	work      chan any
	sendWG    sync.WaitGroup
	stopDone  chan struct{}
	loopsDone chan struct{}
	cancel    context.CancelFunc
}

func New(cfg Config, d Deps) *Pipeline {
	if cfg.Retention <= 0 {
		cfg.Retention = state.DefaultRetention
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 256
	}
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New(d.Clock, 0)
	}
	return &Pipeline{d: d, cfg: cfg, log: d.Log, inflight: map[string]struct{}{}}
}

// Process runs one message through every gate and, if admitted, delivers it on
// the caller's goroutine.
func (p *Pipeline) Process(ctx context.Context, m *transport.Message) Outcome {
	out, j := p.admit(ctx, m)
	if j == nil {
		return out
	}
	return p.deliver(ctx, j)
}

// admit runs the gates in order and never blocks on delivery.
func (p *Pipeline) admit(ctx context.Context, m *transport.Message) (Outcome, *job) {
	if m == nil {
		return Ignored, nil
	}
	p.d.Metrics.MessageReceived()
	view := classifierView(m)
	ev := eventbus.AlertEvent{ChatID: m.Chat.ID, MessageID: m.ID, SenderID: m.SenderID()}

	if p.d.Snooze.IsSnoozed() {
		cat, ok := p.d.Classifier.Classify(ctx, view)
		if !ok {
			return Ignored, nil
		}
		ev.Category = string(cat)
		queued := p.d.Snooze.Enqueue(state.QueuedAlert{
			Message:     p.d.Renderer.Render(renderSource(m, cat)),
			TriggerType: string(cat),
			ChatID:      m.Chat.ID,
			MessageID:   m.ID,
		})
		ev.Queued = queued
		p.publish(eventbus.AlertSnoozed, ev)
		if queued {
			p.d.Metrics.SnoozedQueued()
			p.log.Debug("alert queued during snooze", logx.Int64("chat_id", m.Chat.ID), logx.Int("message_id", m.ID))
			return SnoozeQueued, nil
		}
		p.d.Metrics.SnoozedDropped()
		p.log.Debug("alert dropped during snooze", logx.Int64("chat_id", m.Chat.ID), logx.Int("message_id", m.ID))
		return SnoozeDropped, nil
	}

	if !p.d.Store.ShouldProcess(m.SenderID(), m.Chat.ID) {
		p.d.Metrics.Filtered()
		p.publish(eventbus.AlertFiltered, ev)
		return Filtered, nil
	}

	cat, ok := p.d.Classifier.Classify(ctx, view)
	if !ok {
		return Ignored, nil
	}
	ev.Category = string(cat)

	key := dedupKey(m.Chat.ID, m.ID)
	if !p.claim(key, m.Chat.ID, m.ID) {
		p.d.Metrics.DedupHit()
		p.publish(eventbus.AlertDeduped, ev)
		return Deduped, nil
	}

	body := p.d.Renderer.Render(renderSource(m, cat))
	return Accepted, &job{
		id:       uuid.NewString(),
		key:      key,
		chatID:   m.Chat.ID,
		msgID:    m.ID,
		senderID: m.SenderID(),
		category: cat,
		alert:    notifier.Alert{Body: body, Media: alertMedia(m)},
	}
}

func dedupKey(chatID int64, msgID int) string { return fmt.Sprintf("%d:%d", chatID, msgID) }

// claim marks key in flight unless it is already in flight or delivered.
func (p *Pipeline) claim(key string, chatID int64, msgID int) bool {
	p.imu.Lock()
	defer p.imu.Unlock()
	if _, busy := p.inflight[key]; busy || p.d.Store.IsProcessed(chatID, msgID) {
		return false
	}
	p.inflight[key] = struct{}{}
	return true
}

func (p *Pipeline) release(key string) {
	p.imu.Lock()
	delete(p.inflight, key)
	p.imu.Unlock()
}

func (p *Pipeline) deliver(ctx context.Context, j *job) Outcome {
	defer p.release(j.key)
	ev := eventbus.AlertEvent{JobID: j.id, ChatID: j.chatID, MessageID: j.msgID, SenderID: j.senderID, Category: string(j.category)}
	log := p.log.With(logx.String("job", j.id), logx.Int64("chat_id", j.chatID), logx.Int("message_id", j.msgID))

	if !p.d.Sender.Send(ctx, j.alert) {
		p.d.Metrics.DeliveryFailed()
		ev.Error = "delivery failed"
		p.publish(eventbus.AlertFailed, ev)
		log.Error("alert not delivered; dedup left unmarked", logx.String("category", string(j.category)))
		return Failed
	}
	p.d.Store.MarkProcessed(j.chatID, j.msgID, string(j.category))
	p.d.Metrics.AlertSent(j.category)
	p.publish(eventbus.AlertDelivered, ev)
	log.Info("alert delivered", logx.String("category", string(j.category)))
	return Delivered
}

// RunTick performs one tick on the caller's goroutine, including any flush.
func (p *Pipeline) RunTick(ctx context.Context) {
	if f := p.tick(); f != nil {
		p.runFlush(ctx, f)
	}
}

// tick does the state work of a scheduler tick and returns a flush to run, if any.
func (p *Pipeline) tick() *flush {
	if p.d.Metrics.HeartbeatDue() {
		p.d.Metrics.LogHeartbeat(p.log)
	}
	if p.d.Store.ShouldCleanup() {
		n := p.d.Store.CleanupOlderThan(p.cfg.Retention)
		p.log.Info("dedup cleanup", logx.Int("removed", n), logx.Int("kept", p.d.Store.ProcessedCount()))
	}

	expired := p.d.Snooze.CheckExpired()
	// A queue left behind by an inactive window (expired during downtime) is flushed too.
	if p.d.Store.Snooze().Active || p.d.Store.QueueLen() == 0 {
		return nil
	}
	p.imu.Lock()
	if p.flushing {
		p.imu.Unlock()
		return nil
	}
	p.flushing = true
	p.imu.Unlock()

	reason := "expired"
	if !expired {
		reason = "leftover"
	}
	return &flush{reason: reason, alerts: p.d.Store.QueuedAlerts(), fromQueue: true}
}

func (p *Pipeline) runFlush(ctx context.Context, f *flush) {
	delivered, skipped := 0, 0
	for _, a := range f.alerts {
		switch p.flushOne(ctx, a) {
		case Delivered:
			delivered++
		case Deduped:
			skipped++
		}
	}
	if f.fromQueue {
		p.d.Store.RemoveQueued(f.alerts)
		p.imu.Lock()
		p.flushing = false
		p.imu.Unlock()
	}
	p.d.Metrics.QueueFlushed(delivered)
	p.publish(eventbus.SnoozeFlushed, eventbus.FlushEvent{Reason: f.reason, Total: len(f.alerts), Delivered: delivered})
	p.log.Info("snooze queue flushed",
		logx.String("reason", f.reason),
		logx.Int("total", len(f.alerts)),
		logx.Int("delivered", delivered),
		logx.Int("already_sent", skipped),
	)
	if f.done != nil {
		f.done(delivered, len(f.alerts))
	}
}

// flushOne sends one queued alert while holding its dedup key, so a redelivered
// copy arriving mid-flush is deduped instead of sent twice.
func (p *Pipeline) flushOne(ctx context.Context, a state.QueuedAlert) Outcome {
	key := dedupKey(a.ChatID, a.MessageID)
	if !p.claim(key, a.ChatID, a.MessageID) {
		return Deduped
	}
	defer p.release(key)
	if !p.d.Sender.Send(ctx, notifier.Alert{Body: a.Message}) {
		p.d.Metrics.DeliveryFailed()
		p.log.Error("queued alert not delivered", logx.Int64("chat_id", a.ChatID), logx.Int("message_id", a.MessageID))
		return Failed
	}
	p.d.Store.MarkProcessed(a.ChatID, a.MessageID, a.TriggerType)
	p.d.Metrics.AlertSent(trigger.Category(a.TriggerType))
	return Delivered
}

func (p *Pipeline) publish(typ string, data any) {
	if p.d.Bus == nil {
		return
	}
	p.d.Bus.Publish(eventbus.Event{Type: typ, Time: p.d.Clock.Now(), Data: data})
}
