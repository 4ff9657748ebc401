package commands

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prionotify/internal/clock"
	"prionotify/internal/snooze"
	"prionotify/internal/state"
	"prionotify/internal/storage"
	"prionotify/internal/transport"
	logx "prionotify/pkg/logx"
)

const ownerID = int64(500)

type fakeResolver map[string]transport.Contact

func (f fakeResolver) Resolve(_ context.Context, handle string) (transport.Contact, bool) {
	c, ok := f[strings.TrimPrefix(handle, "@")]
	return c, ok
}

type fakeFlusher struct {
	got []state.QueuedAlert
}

func (f *fakeFlusher) Flush(_ context.Context, alerts []state.QueuedAlert, done func(delivered, total int)) error {
	f.got = append(f.got, alerts...)
	if done != nil {
		done(len(alerts), len(alerts))
	}
	return nil
}

type harness struct {
	r       *Router
	store   *state.Store
	snooze  *snooze.Controller
	backend storage.Store
	clock   *clock.Fake
	flusher *fakeFlusher

	mu      sync.Mutex
	replies []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	be, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "state.json")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = be.Close() })

	fc := clock.NewFake(time.Date(2026, 4, 10, 8, 0, 0, 0, time.UTC))
	st := state.New(be, state.Options{Clock: fc})
	_, err = st.Load(context.Background())
	require.NoError(t, err)
	sc := snooze.New(st, fc, 10, logx.Nop())

	h := &harness{store: st, snooze: sc, backend: be, clock: fc, flusher: &fakeFlusher{}}
	h.r = NewRouter(ownerID, logx.Nop(), MWPanicRecover(logx.Nop()), MWAudit(be, fc, logx.Nop()))
	NewHandlers(Deps{
		Store:  st,
		Snooze: sc,
		Resolver: fakeResolver{
			"ann":  {ID: 11, Name: "Ann (@ann)"},
			"team": {ID: -10042, Name: "Team (@team)"},
		},
		Flusher: h.flusher,
		Clock:   fc,
	}).Register(h.r)
	return h
}

// send dispatches text from the owner and returns the replies it produced.
func (h *harness) send(t *testing.T, text string) []string {
	t.Helper()
	h.mu.Lock()
	h.replies = nil
	h.mu.Unlock()
	m := &transport.Message{ID: 1, Chat: transport.Chat{ID: ownerID, Type: transport.ChatPrivate}, Sender: &transport.User{ID: ownerID}, Text: text}
	require.True(t, h.r.Dispatch(context.Background(), m, h.collect), "not dispatched: %q", text)
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.replies...)
}

func (h *harness) collect(s string) {
	h.mu.Lock()
	h.replies = append(h.replies, s)
	h.mu.Unlock()
}

func (h *harness) one(t *testing.T, text string) string {
	t.Helper()
	out := h.send(t, text)
	require.Len(t, out, 1, "replies for %q", text)
	return out[0]
}

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		cmd  string
		args []string
		ok   bool
	}{
		{in: "/status", cmd: "status", ok: true},
		{in: "  /Snooze@PrioBot --queue 2h ", cmd: "snooze", args: []string{"--queue", "2h"}, ok: true},
		{in: "/priority   add   @ann", cmd: "priority", args: []string{"add", "@ann"}, ok: true},
		{in: "hello", ok: false},
		{in: "/", ok: false},
		{in: "/@bot", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			cmd, args, ok := Parse(tt.in)
			assert.Equal(t, tt.ok, ok)
			if !tt.ok {
				return
			}
			assert.Equal(t, tt.cmd, cmd)
			assert.Equal(t, len(tt.args), len(args))
			for i := range tt.args {
				assert.Equal(t, tt.args[i], args[i])
			}
		})
	}
}

func TestOnlyOwnerCommandsDispatch(t *testing.T) {
	h := newHarness(t)
	stranger := &transport.Message{Chat: transport.Chat{ID: 9}, Sender: &transport.User{ID: 9}, Text: "/status"}
	assert.False(t, h.r.Dispatch(context.Background(), stranger, h.collect))

	plain := &transport.Message{Chat: transport.Chat{ID: ownerID}, Sender: &transport.User{ID: ownerID}, Text: "hi there"}
	assert.False(t, h.r.Dispatch(context.Background(), plain, h.collect))
	assert.Empty(t, h.replies)

	assert.False(t, h.r.Dispatch(context.Background(), nil, h.collect))
}

func TestPriorityMode(t *testing.T) {
	h := newHarness(t)

	out := h.one(t, "/priority mode whitelist")
	assert.Equal(t, "🤖 Priority mode set to: <b>whitelist</b>\n\nOnly contacts in the priority list will trigger alerts.", out)

	out = h.one(t, "/priority mode BLACKLIST")
	assert.Contains(t, out, "All contacts except muted ones will trigger alerts.")
	assert.Contains(t, out, "⚠️ Switched from whitelist to blacklist mode.")

	out = h.one(t, "/priority mode off")
	assert.Equal(t, "🤖 Priority mode set to: <b>disabled</b>\n\nAll qualifying messages will trigger alerts.", out)
	assert.Equal(t, state.ModeDisabled, h.store.FilterMode())

	assert.Equal(t, "🤖 Invalid mode. Use: whitelist, blacklist, or off", h.one(t, "/priority mode greylist"))
	assert.Equal(t, state.ModeDisabled, h.store.FilterMode())

	assert.True(t, strings.HasPrefix(h.one(t, "/priority mode"), "Current mode: disabled"))
}

func TestPriorityAddRemoveList(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, "🤖 Usage: /priority add @username", h.one(t, "/priority add"))
	assert.Equal(t, "🤖 Could not resolve: @ghost", h.one(t, "/priority add @ghost"))
	assert.Equal(t, "🤖 Added <b>Ann (@ann)</b> to priority list", h.one(t, "/priority add @ann"))
	assert.Equal(t, "🤖 Ann (@ann) is already in the priority list", h.one(t, "/priority add ann"))
	assert.Equal(t, []state.ContactEntry{{ID: 11, Name: "Ann (@ann)"}}, h.store.PriorityContacts())

	list := h.one(t, "/priority list")
	assert.Contains(t, list, "Mode: disabled")
	assert.Contains(t, list, "  • Ann (@ann)\n")
	assert.Contains(t, list, "Filtering is disabled.")

	assert.Equal(t, "🤖 Removed <b>Ann (@ann)</b> from priority list", h.one(t, "/priority remove @ann"))
	assert.Equal(t, "🤖 Ann (@ann) was not in the priority list", h.one(t, "/priority remove @ann"))
	assert.Contains(t, h.one(t, "/priority list"), "List is empty.")

	assert.Contains(t, h.one(t, "/priority"), "<b>Priority Commands</b>")
}

func TestMuteUnmute(t *testing.T) {
	h := newHarness(t)

	out := h.one(t, "/mute @team")
	assert.Equal(t, "🤖 Muted <b>Team (@team)</b>\n\n⚠️ Note: Mute list only applies when mode is 'blacklist'. Current mode: disabled", out)
	assert.Equal(t, "🤖 Team (@team) is already muted", h.one(t, "/mute @team"))

	h.one(t, "/priority mode blacklist")
	assert.False(t, h.store.ShouldProcess(1, -10042))

	list := h.one(t, "/listmuted")
	assert.Contains(t, list, "Muted:\n  • Team (@team)\n")
	assert.Contains(t, list, "These contacts will NOT trigger alerts.")

	assert.Equal(t, "🤖 Unmuted <b>Team (@team)</b>", h.one(t, "/unmute @team"))
	assert.Equal(t, "🤖 Team (@team) was not muted", h.one(t, "/unmute @team"))
	assert.Equal(t, "🤖 Usage: /unmute @username or @groupname", h.one(t, "/unmute"))
}

func TestSnoozeActivateAndStatus(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, "🤖 Snooze: <b>Inactive</b>", h.one(t, "/snooze status"))

	out := h.one(t, "/snooze 30m")
	assert.Equal(t, "🤖 <b>Snooze Activated</b>\n\nUntil: 2026-04-10 08:30:00\n\nAlerts will be silently dropped.", out)
	assert.Equal(t, "🤖 Snooze: <b>Active</b> (30m remaining)\nBehavior: drop", h.one(t, "/snooze status"))

	h.one(t, "/timezone 5.5")
	out = h.one(t, "/snooze --queue 2h")
	assert.Equal(t, "🤖 <b>Snooze Activated</b>\n\nUntil: 2026-04-10 15:30:00\n\nAlerts will be queued and delivered when you unsnooze.", out)
	assert.Equal(t, "🤖 Snooze: <b>Active</b> (2.0h remaining)\nBehavior: queue\nQueued alerts: 0/10", h.one(t, "/snooze status"))

	h.clock.Advance(2*time.Hour + time.Second)
	assert.Equal(t, "🤖 Snooze: <b>Inactive</b>", h.one(t, "/snooze status"))
}

func TestSnoozeRejectsBadDuration(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, "Invalid duration format: 5x\n\nValid formats: 30m, 2h, 1d", h.one(t, "/snooze 5x"))
	assert.Equal(t, "Invalid duration format: 0m\n\nValid formats: 30m, 2h, 1d", h.one(t, "/snooze 0m"))
	assert.True(t, strings.HasPrefix(h.one(t, "/snooze --queue"), "Usage: /snooze --queue"))
	assert.False(t, h.snooze.Status().Active())
}

func TestUnsnooze(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, "🤖 Snooze is not active.", h.one(t, "/unsnooze"))

	h.one(t, "/snooze 1h")
	assert.Equal(t, "🤖 <b>Snooze Deactivated</b>\n\nNo queued alerts.", h.one(t, "/unsnooze"))

	h.one(t, "/snooze --queue 1h")
	require.True(t, h.snooze.Enqueue(state.QueuedAlert{Message: "a", ChatID: 1, MessageID: 1}))
	require.True(t, h.snooze.Enqueue(state.QueuedAlert{Message: "b", ChatID: 1, MessageID: 2}))

	assert.Equal(t, "🤖 <b>Snooze Deactivated</b>\n\nDelivered 2/2 queued alerts.", h.one(t, "/unsnooze"))
	require.Len(t, h.flusher.got, 2)
	assert.Equal(t, "a", h.flusher.got[0].Message)
	assert.Equal(t, 0, h.store.QueueLen())
	assert.False(t, h.snooze.Status().Active())
}

func TestTimezone(t *testing.T) {
	h := newHarness(t)
	assert.True(t, strings.HasPrefix(h.one(t, "/timezone"), "🤖 Timezone: <b>UTC+0</b>"))
	assert.Equal(t, "🤖 Timezone set to <b>UTC-3</b>", h.one(t, "/timezone -3"))
	assert.Equal(t, -3.0, h.store.TimezoneOffset())
	assert.True(t, strings.HasPrefix(h.one(t, "/timezone 15"), "🤖 Invalid offset: 15"))
	assert.True(t, strings.HasPrefix(h.one(t, "/timezone east"), "🤖 Invalid offset: east"))
	assert.Equal(t, -3.0, h.store.TimezoneOffset())
}

func TestStatus(t *testing.T) {
	h := newHarness(t)
	h.one(t, "/priority mode whitelist")
	h.one(t, "/priority add @ann")

	out := h.one(t, "/status")
	assert.Equal(t, "🤖 <b>Notifier Status</b>\n\n<b>Priority Mode:</b> whitelist\n  Priority contacts: 1\n\nSnooze: <b>Inactive</b>", out)
}

func TestUnknownCommandConsumedSilently(t *testing.T) {
	h := newHarness(t)
	assert.Empty(t, h.send(t, "/nope"))
}

func TestPanicBecomesErrorReply(t *testing.T) {
	h := newHarness(t)
	h.r.Register(Command{Name: "boom", Handle: func(context.Context, *Request) error { panic("kaboom") }})
	assert.Equal(t, "🤖 ❌ Error: internal error", h.one(t, "/boom"))
}

func TestCommandsAreAudited(t *testing.T) {
	h := newHarness(t)
	h.one(t, "/priority mode whitelist")
	h.one(t, "/snooze 5x")

	got, err := h.backend.RecentAudit(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "command", got[0].Kind)
	assert.Equal(t, "priority", got[0].Action)
	assert.Equal(t, "mode whitelist", got[0].Target)
	assert.Equal(t, ownerID, got[0].ActorID)
	assert.True(t, got[0].OK)
	assert.NotEmpty(t, got[0].ID)
	assert.Equal(t, "snooze", got[1].Action)
}

func TestMenuListsCommandsSorted(t *testing.T) {
	h := newHarness(t)
	menu := h.r.Menu()
	require.NotEmpty(t, menu)
	for i := 1; i < len(menu); i++ {
		assert.Less(t, menu[i-1].Command, menu[i].Command)
	}
	names := make([]string, 0, len(menu))
	for _, c := range menu {
		names = append(names, c.Command)
	}
	assert.Contains(t, names, "unsnooze")
	assert.Contains(t, names, "timezone")
}
