package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFanout(t *testing.T) {
	b := New()
	a, ua := b.Subscribe(4)
	c, uc := b.Subscribe(4)
	defer ua()
	defer uc()

	b.Publish(Event{Type: AlertDelivered, Data: AlertEvent{ChatID: 1, MessageID: 2}})

	for _, ch := range []<-chan Event{a, c} {
		e := <-ch
		assert.Equal(t, AlertDelivered, e.Type)
		assert.False(t, e.Time.IsZero())
		assert.Equal(t, 2, e.Data.(AlertEvent).MessageID)
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: AlertFailed})
	b.Publish(Event{Type: AlertFailed})

	require.Len(t, ch, 1)
	assert.EqualValues(t, 1, b.(Dropper).Dropped())
}

func TestUnsubscribeClosesAndStopsDelivery(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(2)
	unsub()
	unsub()

	_, ok := <-ch
	assert.False(t, ok)
	assert.NotPanics(t, func() { b.Publish(Event{Type: SnoozeFlushed}) })
}
