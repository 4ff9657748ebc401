package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSender struct {
	mu    sync.Mutex
	lines []string
	chat  int64
}

func (c *captureSender) SendLog(_ context.Context, chatID int64, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chat = chatID
	c.lines = append(c.lines, text)
	return nil
}

func (c *captureSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lines)
}

func TestLoggerWithAddsFixedFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "state"))
	log.Info("saved", Int("records", 3))

	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	assert.Equal(t, "state", m["comp"])
	assert.Equal(t, float64(3), m["records"])
	assert.Equal(t, "saved", m["message"])
	assert.Contains(t, m["caller"], "service_test.go")
}

func TestZeroLoggerIsNoop(t *testing.T) {
	var l Logger
	assert.True(t, l.IsZero())
	l.Error("ignored")
	assert.False(t, Nop().IsZero())
}

func TestFormatMirrorLineSortsFields(t *testing.T) {
	line := `{"level":"warn","message":"queue nearly full","zeta":1,"alpha":"x","time":"t"}`
	got := formatMirrorLine([]byte(line))
	assert.Equal(t, "[WARN] queue nearly full\n- alpha=x\n- zeta=1", got)
	assert.Equal(t, "plain", formatMirrorLine([]byte("  plain \n")))
}

func TestServiceMirrorsWarningsOnly(t *testing.T) {
	sender := &captureSender{}
	svc, log := New(Config{
		Level:    "debug",
		Telegram: TelegramConfig{Enabled: true, MinLevel: "warn", RatePerSec: 10},
	}, sender)
	defer svc.Close()
	svc.SetTelegramTarget(42)

	log.Info("not mirrored")
	log.Warn("mirrored", String("k", "v"))

	require.Eventually(t, func() bool { return sender.count() == 1 }, time.Second, 5*time.Millisecond)
	sender.mu.Lock()
	defer sender.mu.Unlock()
	assert.Equal(t, int64(42), sender.chat)
	assert.True(t, strings.HasPrefix(sender.lines[0], "[WARN] mirrored"))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.WarnLevel, ParseLevel(" Warning ", zerolog.InfoLevel))
	assert.Equal(t, zerolog.TraceLevel, ParseLevel("TRACE", zerolog.InfoLevel))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("loud", zerolog.InfoLevel))
}

func TestNilErrAndBlankStackAddNothing(t *testing.T) {
	var buf bytes.Buffer
	NewWriter(&buf, "debug").Warn("quiet", Err(nil), Stack("  "))

	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	assert.NotContains(t, m, "err")
	assert.NotContains(t, m, "stack")
}
