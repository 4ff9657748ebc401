// Package metrics keeps process-lifetime counters for the alert pipeline
// and logs them as a periodic heartbeat.
package metrics

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"prionotify/internal/clock"
	"prionotify/internal/trigger"
	logx "prionotify/pkg/logx"
)

const DefaultHeartbeat = time.Hour

type Metrics struct {
	clock clock.Clock
	start time.Time
	every time.Duration

	received     atomic.Uint64
	sentDM       atomic.Uint64
	sentMention  atomic.Uint64
	sentReply    atomic.Uint64
	dedupHits    atomic.Uint64
	filtered     atomic.Uint64
	snoozeDrop   atomic.Uint64
	snoozeQueue  atomic.Uint64
	failures     atomic.Uint64
	queueFlushed atomic.Uint64

	mu            sync.Mutex
	lastHeartbeat time.Time
}

// Snapshot is a consistent-enough copy for logging and /status.
type Snapshot struct {
	Uptime           time.Duration
	MessagesReceived uint64
	AlertsDM         uint64
	AlertsMention    uint64
	AlertsReply      uint64
	DedupHits        uint64
	Filtered         uint64
	SnoozedDropped   uint64
	SnoozedQueued    uint64
	DeliveryFailures uint64
	QueueFlushed     uint64
}

func (s Snapshot) AlertsSent() uint64 { return s.AlertsDM + s.AlertsMention + s.AlertsReply }

func New(clk clock.Clock, heartbeat time.Duration) *Metrics {
	if clk == nil {
		clk = clock.Real{}
	}
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	now := clk.Now()
	return &Metrics{clock: clk, start: now, every: heartbeat, lastHeartbeat: now}
}

func (m *Metrics) SetHeartbeat(d time.Duration) {
	if d <= 0 {
		d = DefaultHeartbeat
	}
	m.mu.Lock()
	m.every = d
	m.mu.Unlock()
}

func (m *Metrics) MessageReceived() { m.received.Add(1) }
func (m *Metrics) DedupHit()        { m.dedupHits.Add(1) }
func (m *Metrics) Filtered()        { m.filtered.Add(1) }
func (m *Metrics) SnoozedDropped()  { m.snoozeDrop.Add(1) }
func (m *Metrics) SnoozedQueued()   { m.snoozeQueue.Add(1) }
func (m *Metrics) DeliveryFailed()  { m.failures.Add(1) }
func (m *Metrics) QueueFlushed(n int) {
	if n > 0 {
		m.queueFlushed.Add(uint64(n))
	}
}

// AlertSent counts a delivered alert. Unknown categories are ignored.
func (m *Metrics) AlertSent(c trigger.Category) {
	switch c {
	case trigger.DM:
		m.sentDM.Add(1)
	case trigger.Mention:
		m.sentMention.Add(1)
	case trigger.Reply:
		m.sentReply.Add(1)
	}
}

func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		Uptime:           m.clock.Now().Sub(m.start),
		MessagesReceived: m.received.Load(),
		AlertsDM:         m.sentDM.Load(),
		AlertsMention:    m.sentMention.Load(),
		AlertsReply:      m.sentReply.Load(),
		DedupHits:        m.dedupHits.Load(),
		Filtered:         m.filtered.Load(),
		SnoozedDropped:   m.snoozeDrop.Load(),
		SnoozedQueued:    m.snoozeQueue.Load(),
		DeliveryFailures: m.failures.Load(),
		QueueFlushed:     m.queueFlushed.Load(),
	}
}

func (m *Metrics) HeartbeatDue() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clock.Now().Sub(m.lastHeartbeat) >= m.every
}

// LogHeartbeat writes one info record with all counters and resets the heartbeat timer.
func (m *Metrics) LogHeartbeat(log logx.Logger) {
	s := m.Snapshot()
	log.Info("heartbeat",
		logx.String("uptime", FormatUptime(s.Uptime)),
		logx.Uint64("messages_received", s.MessagesReceived),
		logx.Uint64("alerts_sent", s.AlertsSent()),
		logx.Uint64("alerts_dm", s.AlertsDM),
		logx.Uint64("alerts_mention", s.AlertsMention),
		logx.Uint64("alerts_reply", s.AlertsReply),
		logx.Uint64("dedup_hits", s.DedupHits),
		logx.Uint64("filtered", s.Filtered),
		logx.Uint64("snoozed_dropped", s.SnoozedDropped),
		logx.Uint64("snoozed_queued", s.SnoozedQueued),
		logx.Uint64("delivery_failures", s.DeliveryFailures),
		logx.Uint64("queue_flushed", s.QueueFlushed),
	)
	m.mu.Lock()
	m.lastHeartbeat = m.clock.Now()
	m.mu.Unlock()
}

// FormatUptime renders whole hours and minutes, e.g. "26h 5m".
func FormatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := int(d / time.Hour)
	mnt := int((d % time.Hour) / time.Minute)
	return fmt.Sprintf("%dh %dm", h, mnt)
}
