package app

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prionotify/internal/clock"
	"prionotify/internal/commands"
	"prionotify/internal/config"
	"prionotify/internal/eventbus"
	"prionotify/internal/pipeline"
	"prionotify/internal/storage"
	"prionotify/internal/transport"
	logx "prionotify/pkg/logx"
)

type fakeIntake struct {
	mu   sync.Mutex
	got  []*transport.Message
	fail error
}

func (f *fakeIntake) Handle(_ context.Context, m *transport.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, m)
	return f.fail
}

type fakeReplier struct {
	mu   sync.Mutex
	sent map[int64][]string
}

func (f *fakeReplier) Reply(_ context.Context, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sent == nil {
		f.sent = map[int64][]string{}
	}
	f.sent[chatID] = append(f.sent[chatID], text)
	return nil
}

const owner = 42

func newDispatcher(in *fakeIntake, rep *fakeReplier) *dispatcher {
	r := commands.NewRouter(owner, logx.Nop())
	r.Register(commands.Command{Name: "ping", Description: "Ping", Handle: func(_ context.Context, req *commands.Request) error {
		req.Say("pong")
		return nil
	}})
	return &dispatcher{router: r, intake: in, reply: rep, log: logx.Nop()}
}

func msg(from int64, chat int64, text string) transport.Update {
	return transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{
		ID:     7,
		Chat:   transport.Chat{ID: chat, Type: transport.ChatPrivate},
		Sender: &transport.User{ID: from},
		Text:   text,
	}}
}

func TestRouteSplitsCommandsFromAlerts(t *testing.T) {
	in, rep := &fakeIntake{}, &fakeReplier{}
	d := newDispatcher(in, rep)
	ctx := context.Background()

	d.route(ctx, msg(owner, 500, "/ping"))
	assert.Empty(t, in.got, "owner command must not reach the pipeline")
	assert.Equal(t, []string{commands.Prefix + "pong"}, rep.sent[500])

	d.route(ctx, msg(9, 600, "/ping"))
	d.route(ctx, msg(9, 600, "hello"))
	require.Len(t, in.got, 2, "non-owner traffic goes to the pipeline, commands included")
	assert.Equal(t, "/ping", in.got[0].Text)
	assert.Empty(t, rep.sent[600])

	d.route(ctx, transport.Update{Kind: transport.UpdateMessage})
	assert.Len(t, in.got, 2)
}

func TestRouteToleratesStoppedPipeline(t *testing.T) {
	in := &fakeIntake{fail: pipeline.ErrStopped}
	d := newDispatcher(in, &fakeReplier{})
	d.route(context.Background(), msg(9, 600, "late"))
	assert.Len(t, in.got, 1)
}

func TestDispatchLoopEndsOnClose(t *testing.T) {
	in := &fakeIntake{}
	d := newDispatcher(in, &fakeReplier{})
	updates := make(chan transport.Update, 2)
	updates <- msg(9, 1, "a")
	updates <- msg(9, 1, "b")
	close(updates)
	require.NoError(t, d.loop(context.Background(), updates))
	assert.Len(t, in.got, 2)
}

func TestEventAudit(t *testing.T) {
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		ev   eventbus.Event
		want storage.AuditEntry
		ok   bool
	}{
		{
			name: "delivered",
			ev: eventbus.Event{Type: eventbus.AlertDelivered, Time: at, Data: eventbus.AlertEvent{
				JobID: "j1", ChatID: 5, MessageID: 9, SenderID: 3, Category: "DM",
			}},
			want: storage.AuditEntry{At: at, Kind: "alert", Action: eventbus.AlertDelivered, ActorID: 3, ChatID: 5, MessageID: 9, Target: "DM", OK: true, Meta: "job=j1"},
			ok:   true,
		},
		{
			name: "failed",
			ev: eventbus.Event{Type: eventbus.AlertFailed, Time: at, Data: eventbus.AlertEvent{
				ChatID: 5, MessageID: 9, Error: "delivery failed",
			}},
			want: storage.AuditEntry{At: at, Kind: "alert", Action: eventbus.AlertFailed, ChatID: 5, MessageID: 9, Error: "delivery failed"},
			ok:   true,
		},
		{
			name: "snoozed",
			ev:   eventbus.Event{Type: eventbus.AlertSnoozed, Time: at, Data: eventbus.AlertEvent{ChatID: 5, MessageID: 9, Queued: true}},
			want: storage.AuditEntry{At: at, Kind: "alert", Action: eventbus.AlertSnoozed, ChatID: 5, MessageID: 9, OK: true, Meta: "queued=true"},
			ok:   true,
		},
		{
			name: "partial flush",
			ev:   eventbus.Event{Type: eventbus.SnoozeFlushed, Time: at, Data: eventbus.FlushEvent{Reason: "manual", Total: 3, Delivered: 2}},
			want: storage.AuditEntry{At: at, Kind: "alert", Action: eventbus.SnoozeFlushed, Target: "manual", Meta: "delivered=2 total=3"},
			ok:   true,
		},
		{
			name: "filtered stays out",
			ev:   eventbus.Event{Type: eventbus.AlertFiltered, Time: at, Data: eventbus.AlertEvent{ChatID: 5}},
		},
		{
			name: "unknown payload",
			ev:   eventbus.Event{Type: eventbus.AlertDelivered, Time: at, Data: "nope"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := eventAudit(tt.ev)
			require.Equal(t, tt.ok, ok)
			if !ok {
				return
			}
			assert.NotEmpty(t, got.ID)
			got.ID = ""
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRecordEventsAppendsAudit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	be, err := storage.Open(storage.Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer be.Close()

	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer unsub()
		recordEvents(ctx, events, be, logx.Nop())
	}()

	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	bus.Publish(eventbus.Event{Type: eventbus.AlertFiltered, Time: now, Data: eventbus.AlertEvent{ChatID: 1}})
	bus.Publish(eventbus.Event{Type: eventbus.AlertDelivered, Time: now, Data: eventbus.AlertEvent{ChatID: 1, MessageID: 2, Category: "Mention"}})

	require.Eventually(t, func() bool {
		got, err := be.RecentAudit(context.Background(), 10)
		return err == nil && len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	got, err := be.RecentAudit(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, eventbus.AlertDelivered, got[0].Action)
	assert.Equal(t, "Mention", got[0].Target)
}

func TestLatestCoalesces(t *testing.T) {
	sub := make(chan *config.Config, 4)
	a, b, c := &config.Config{}, &config.Config{}, &config.Config{}
	a.Logging.Level = "info"
	b.Logging.Level = "debug"
	c.Logging.Level = "warn"
	sub <- b
	sub <- c
	assert.Same(t, c, latest(sub, a))
	assert.Same(t, a, latest(sub, a))
}

func TestOpenStateLoadsSnapshot(t *testing.T) {
	rt := &config.Runtime{Storage: storage.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "state.db")}}
	clk := clock.NewFake(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))

	be, st, err := OpenState(context.Background(), rt, clk, logx.Nop())
	require.NoError(t, err)
	st.MarkProcessed(5, 9, "DM")
	require.NoError(t, be.Close())

	be, st, err = OpenState(context.Background(), rt, clk, logx.Nop())
	require.NoError(t, err)
	defer be.Close()
	assert.True(t, st.IsProcessed(5, 9))
}

func TestOpenStateUnknownDriver(t *testing.T) {
	rt := &config.Runtime{Storage: storage.Config{Driver: "etcd", Path: "x"}}
	_, _, err := OpenState(context.Background(), rt, clock.Real{}, logx.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "etcd")
}

func TestRouteBusinessChatsSkipCommands(t *testing.T) {
	in, rep := &fakeIntake{}, &fakeReplier{}
	d := newDispatcher(in, rep)

	up := msg(owner, 700, "/ping")
	up.Message.BusinessConnection = "bc-1"
	d.route(context.Background(), up)

	require.Len(t, in.got, 1)
	assert.Equal(t, "/ping", in.got[0].Text)
	assert.Empty(t, rep.sent[700])
}
