// Package eventbus is an in-memory, non-blocking fanout of pipeline events.
// Slow subscribers lose events; publishers never wait.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	AlertDelivered = "alert.delivered"
	AlertFailed    = "alert.failed"
	AlertDeduped   = "alert.deduped"
	AlertFiltered  = "alert.filtered"
	AlertSnoozed   = "alert.snoozed"
	SnoozeFlushed  = "snooze.flushed"
)

type Event struct {
	Type string
	Time time.Time
	Data any
}

// AlertEvent is the payload of every alert.* event.
type AlertEvent struct {
	JobID     string `json:"job_id,omitempty"`
	ChatID    int64  `json:"chat_id"`
	MessageID int    `json:"message_id"`
	SenderID  int64  `json:"sender_id,omitempty"`
	Category  string `json:"category,omitempty"`
	Queued    bool   `json:"queued,omitempty"`
	Error     string `json:"error,omitempty"`
}

// FlushEvent is the payload of snooze.flushed.
type FlushEvent struct {
	Reason    string `json:"reason"` // "expired" or "manual"
	Total     int    `json:"total"`
	Delivered int    `json:"delivered"`
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// Dropper is implemented by buses that count events lost to full subscribers.
type Dropper interface {
	Dropped() uint64
}

// New returns a bus with no background goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			// Removal and close happen under the write lock, so no Publish can be mid-send.
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }
