package metrics

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prionotify/internal/clock"
	"prionotify/internal/trigger"
	logx "prionotify/pkg/logx"
)

func TestCountersAndHeartbeat(t *testing.T) {
	fc := clock.NewFake(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	m := New(fc, time.Hour)

	m.MessageReceived()
	m.MessageReceived()
	m.AlertSent(trigger.DM)
	m.AlertSent(trigger.Reply)
	m.AlertSent(trigger.None)
	m.DedupHit()
	m.QueueFlushed(3)

	assert.False(t, m.HeartbeatDue())
	fc.Advance(time.Hour)
	assert.True(t, m.HeartbeatDue())

	var buf bytes.Buffer
	m.LogHeartbeat(logx.NewWriter(&buf, "info"))
	assert.False(t, m.HeartbeatDue())

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "heartbeat", rec["message"])
	assert.Equal(t, "1h 0m", rec["uptime"])
	assert.EqualValues(t, 2, rec["messages_received"])
	assert.EqualValues(t, 2, rec["alerts_sent"])
	assert.EqualValues(t, 1, rec["dedup_hits"])
	assert.EqualValues(t, 3, rec["queue_flushed"])
}

func TestFormatUptime(t *testing.T) {
	assert.Equal(t, "0h 0m", FormatUptime(-time.Second))
	assert.Equal(t, "26h 5m", FormatUptime(26*time.Hour+5*time.Minute+59*time.Second))
}
