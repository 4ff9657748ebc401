package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Sender delivers a mirrored log line. The Telegram adapter implements it.
type Sender interface {
	SendLog(ctx context.Context, chatID int64, text string) error
}

const (
	mirrorQueue   = 128
	mirrorTimeout = 10 * time.Second
	mirrorMaxLine = 3500
	mirrorMaxVal  = 600
)

type mirrorLine struct {
	chatID int64
	text   string
}

// mirror is the zerolog sink that forwards records to the operator chat.
// Writes never block logging; a full queue drops the line.
type mirror struct {
	sender  Sender
	queue   chan mirrorLine
	dropped atomic.Uint64

	mu       sync.Mutex
	chatID   int64
	limiter  *rate.Limiter
	minLevel zerolog.Level
	cancel   context.CancelFunc
	done     chan struct{}
}

func newMirror(sender Sender) *mirror {
	return &mirror{sender: sender, queue: make(chan mirrorLine, mirrorQueue), minLevel: zerolog.WarnLevel}
}

func (m *mirror) setChat(chatID int64) {
	m.mu.Lock()
	m.chatID = chatID
	m.mu.Unlock()
}

func (m *mirror) configure(cfg TelegramConfig) {
	rps := max(cfg.RatePerSec, 1)
	m.mu.Lock()
	m.minLevel = ParseLevel(cfg.MinLevel, zerolog.WarnLevel)
	m.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	m.mu.Unlock()
}

// start launches the delivery loop once; later calls are no-ops.
func (m *mirror) start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil || m.sender == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel, m.done = cancel, make(chan struct{})
	go m.deliver(ctx, m.done)
}

func (m *mirror) stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (m *mirror) deliver(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case ln := <-m.queue:
			sctx, cancel := context.WithTimeout(ctx, mirrorTimeout)
			_ = m.sender.SendLog(sctx, ln.chatID, ln.text)
			cancel()
		}
	}
}

func (m *mirror) Write(p []byte) (int, error) { return m.WriteLevel(zerolog.InfoLevel, p) }

func (m *mirror) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	m.mu.Lock()
	chatID, lim, minLevel := m.chatID, m.limiter, m.minLevel
	m.mu.Unlock()

	if chatID == 0 || lim == nil || level < minLevel || !lim.Allow() {
		return len(p), nil
	}
	text := formatMirrorLine(p)
	if text == "" {
		return len(p), nil
	}
	select {
	case m.queue <- mirrorLine{chatID: chatID, text: text}:
	default:
		m.dropped.Add(1)
	}
	return len(p), nil
}

// formatMirrorLine turns a JSON record into "[LEVEL] msg" plus one sorted
// "- key=value" line per field. Non-JSON input is passed through trimmed.
func formatMirrorLine(p []byte) string {
	raw := strings.TrimSpace(string(p))
	var rec map[string]any
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return clip(raw, mirrorMaxLine)
	}

	var b strings.Builder
	if lvl, _ := rec[zerolog.LevelFieldName].(string); lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	msg, _ := rec[zerolog.MessageFieldName].(string)
	b.WriteString(msg)

	delete(rec, zerolog.LevelFieldName)
	delete(rec, zerolog.MessageFieldName)
	delete(rec, zerolog.TimestampFieldName)
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s=%s", k, clip(fmt.Sprint(rec[k]), mirrorMaxVal))
	}
	return clip(b.String(), mirrorMaxLine)
}

func clip(s string, n int) string {
	switch {
	case n <= 0 || len(s) <= n:
		return s
	case n < 10:
		return s[:n]
	}
	return s[:n-3] + "..."
}
