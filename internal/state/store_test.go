package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prionotify/internal/clock"
	"prionotify/internal/storage"
	logx "prionotify/pkg/logx"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T, driver string) (*Store, *clock.Fake, string) {
	t.Helper()
	name := "state.json"
	if driver == "sqlite" {
		name = "state.db"
	}
	path := filepath.Join(t.TempDir(), name)
	be, err := storage.Open(storage.Config{Driver: driver, Path: path}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = be.Close() })
	fc := clock.NewFake(t0)
	return New(be, Options{Clock: fc}), fc, path
}

func reopen(t *testing.T, driver, path string, fc *clock.Fake) *Store {
	t.Helper()
	be, err := storage.Open(storage.Config{Driver: driver, Path: path}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = be.Close() })
	st := New(be, Options{Clock: fc})
	_, err = st.Load(context.Background())
	require.NoError(t, err)
	return st
}

func TestProcessedSurvivesReload(t *testing.T) {
	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			st, fc, path := newTestStore(t, driver)
			_, err := st.Load(context.Background())
			require.NoError(t, err)

			pairs := [][2]int64{{100, 1}, {-1001234, 77}, {5, 1 << 20}}
			for _, p := range pairs {
				st.MarkProcessed(p[0], int(p[1]), "DM")
			}
			for _, p := range pairs {
				assert.True(t, st.IsProcessed(p[0], int(p[1])))
			}

			st2 := reopen(t, driver, path, fc)
			for _, p := range pairs {
				assert.True(t, st2.IsProcessed(p[0], int(p[1])), "pair %v lost on reload", p)
			}
			rec, ok := st2.Processed(100, 1)
			require.True(t, ok)
			assert.Equal(t, "DM", rec.TriggerType)
			assert.True(t, rec.At.Equal(t0))
		})
	}
}

func TestDedupIsKeyedOnPair(t *testing.T) {
	st, _, _ := newTestStore(t, "file")
	st.MarkProcessed(10, 1, "Mention")

	assert.True(t, st.IsProcessed(10, 1))
	assert.False(t, st.IsProcessed(10, 2))
	assert.False(t, st.IsProcessed(11, 1))
	assert.False(t, st.IsProcessed(1, 10))
}

func TestCleanupBoundary(t *testing.T) {
	st, fc, _ := newTestStore(t, "file")
	st.MarkProcessed(1, 1, "DM") // at t0
	fc.Advance(time.Second)
	st.MarkProcessed(1, 2, "DM") // at t0+1s

	fc.Advance(30*24*time.Hour - time.Second) // cutoff == t0
	assert.Equal(t, 0, st.CleanupOlderThan(30*24*time.Hour))
	assert.True(t, st.IsProcessed(1, 1), "record exactly at cutoff must be kept")

	fc.Advance(time.Second) // cutoff == t0+1s
	assert.Equal(t, 1, st.CleanupOlderThan(30*24*time.Hour))
	assert.False(t, st.IsProcessed(1, 1))
	assert.True(t, st.IsProcessed(1, 2))
}

func TestShouldCleanup(t *testing.T) {
	st, fc, _ := newTestStore(t, "file")
	assert.False(t, st.ShouldCleanup())
	fc.Advance(24*time.Hour - time.Minute)
	assert.False(t, st.ShouldCleanup())
	fc.Advance(time.Minute)
	assert.True(t, st.ShouldCleanup())

	st.CleanupOlderThan(0)
	assert.False(t, st.ShouldCleanup())
	assert.True(t, st.LastCleanup().Equal(fc.Now()))
}

func TestFilterModes(t *testing.T) {
	tests := []struct {
		name   string
		mode   FilterMode
		setup  func(st *Store)
		sender int64
		chat   int64
		want   bool
	}{
		{name: "disabled accepts", mode: ModeDisabled, sender: 1, chat: 2, want: true},
		{name: "empty whitelist rejects", mode: ModeWhitelist, sender: 1, chat: 2, want: false},
		{name: "empty blacklist accepts", mode: ModeBlacklist, sender: 1, chat: 2, want: true},
		{name: "whitelisted sender", mode: ModeWhitelist, setup: func(st *Store) { st.AddPriorityContact(1, "Ann") }, sender: 1, chat: 2, want: true},
		{name: "whitelisted chat", mode: ModeWhitelist, setup: func(st *Store) { st.AddPriorityContact(2, "Team") }, sender: 1, chat: 2, want: true},
		{name: "muted sender", mode: ModeBlacklist, setup: func(st *Store) { st.AddMutedContact(1, "Spam") }, sender: 1, chat: 2, want: false},
		{name: "muted chat", mode: ModeBlacklist, setup: func(st *Store) { st.AddMutedContact(2, "Noisy") }, sender: 1, chat: 2, want: false},
		{name: "muted list ignored when disabled", mode: ModeDisabled, setup: func(st *Store) { st.AddMutedContact(1, "Spam") }, sender: 1, chat: 2, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, _, _ := newTestStore(t, "file")
			if tt.setup != nil {
				tt.setup(st)
			}
			_, err := st.SetFilterMode(tt.mode)
			require.NoError(t, err)
			assert.Equal(t, tt.want, st.ShouldProcess(tt.sender, tt.chat))
		})
	}
}

func TestSwitchModePreservesLists(t *testing.T) {
	st, _, _ := newTestStore(t, "file")
	require.True(t, st.AddPriorityContact(1, "Ann"))
	require.True(t, st.AddMutedContact(2, "Bob"))

	_, err := st.SetFilterMode(ModeWhitelist)
	require.NoError(t, err)
	advisory, err := st.SetFilterMode(ModeBlacklist)
	require.NoError(t, err)
	assert.Equal(t, "Switched from whitelist to blacklist mode. The other list is preserved but inactive.", advisory)

	assert.Equal(t, []ContactEntry{{ID: 1, Name: "Ann"}}, st.PriorityContacts())
	assert.Equal(t, []ContactEntry{{ID: 2, Name: "Bob"}}, st.MutedContacts())

	advisory, err = st.SetFilterMode(ModeDisabled)
	require.NoError(t, err)
	assert.Empty(t, advisory)
}

func TestSetFilterModeInvalid(t *testing.T) {
	st, _, _ := newTestStore(t, "file")
	_, err := st.SetFilterMode("greylist")
	require.ErrorIs(t, err, ErrInvalidArgument)
	assert.Equal(t, ModeDisabled, st.FilterMode())

	_, err = ParseFilterMode("bogus")
	require.ErrorIs(t, err, ErrInvalidArgument)
	m, err := ParseFilterMode(" OFF ")
	require.NoError(t, err)
	assert.Equal(t, ModeDisabled, m)
}

func TestContactAddRemove(t *testing.T) {
	st, _, _ := newTestStore(t, "file")
	assert.True(t, st.AddPriorityContact(7, "Ann"))
	assert.False(t, st.AddPriorityContact(7, "Ann again"))
	assert.True(t, st.RemovePriorityContact(7))
	assert.False(t, st.RemovePriorityContact(7))
	assert.False(t, st.RemoveMutedContact(7))
}

func TestCorruptSnapshotIsQuarantined(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	fc := clock.NewFake(t0)
	be, err := storage.Open(storage.Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer be.Close()

	st := New(be, Options{Clock: fc})
	res, err := st.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Fresh)
	require.NotEmpty(t, res.QuarantinedTo)

	b, err := os.ReadFile(res.QuarantinedTo)
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(b))
	assert.Equal(t, ModeDisabled, st.FilterMode())
	assert.Equal(t, 0, st.ProcessedCount())
}

func TestLoadAppliesDefaultsToPartialSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	legacy := `{"processed_messages":{"5:9":{"timestamp":1700000000.5,"trigger_type":"Reply"}},
		"priority_contacts":{"mode":"blacklist","blacklist":{"42":"Spam"}}}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o600))

	st := reopen(t, "file", path, clock.NewFake(t0))
	assert.True(t, st.IsProcessed(5, 9))
	assert.Equal(t, ModeBlacklist, st.FilterMode())
	assert.Equal(t, []ContactEntry{{ID: 42, Name: "Spam"}}, st.MutedContacts())
	assert.Empty(t, st.PriorityContacts())
	assert.False(t, st.Snooze().Active)
	assert.Equal(t, BehaviorDrop, st.Snooze().Behavior)
	assert.Equal(t, 0.0, st.TimezoneOffset())
}

func TestQueuePushEvictsOldest(t *testing.T) {
	st, _, _ := newTestStore(t, "file")
	const capacity = 5
	var evictedTotal int
	for i := 0; i <= capacity; i++ {
		ev, n := st.PushQueued(QueuedAlert{Message: fmt.Sprintf("alert %d", i), MessageID: i}, capacity)
		evictedTotal += ev
		assert.LessOrEqual(t, n, capacity)
	}
	q := st.QueuedAlerts()
	require.Len(t, q, capacity)
	assert.Equal(t, 1, evictedTotal)
	assert.Equal(t, "alert 1", q[0].Message)
	assert.Equal(t, "alert 5", q[capacity-1].Message)

	assert.Equal(t, 2, st.RemoveQueued(q[:2]))
	q = st.QueuedAlerts()
	require.Len(t, q, 3)
	assert.Equal(t, "alert 3", q[0].Message)
}

func TestRemoveQueuedKeepsLaterEntries(t *testing.T) {
	st, _, _ := newTestStore(t, "file")
	const capacity = 3
	for i := 0; i < capacity; i++ {
		st.PushQueued(QueuedAlert{Message: fmt.Sprintf("old %d", i), ChatID: 1, MessageID: i}, capacity)
	}
	flushed := st.QueuedAlerts()

	// a new window evicts the whole old batch while the flush is sending
	for i := 0; i < capacity; i++ {
		st.PushQueued(QueuedAlert{Message: fmt.Sprintf("new %d", i), ChatID: 2, MessageID: i}, capacity)
	}
	assert.Zero(t, st.RemoveQueued(flushed))
	q := st.QueuedAlerts()
	require.Len(t, q, capacity)
	assert.Equal(t, "new 0", q[0].Message)
}

func TestSnoozeAndTimezonePersist(t *testing.T) {
	st, fc, path := newTestStore(t, "file")
	until := t0.Add(2 * time.Hour)
	st.SetSnooze(SnoozeState{Active: true, Until: until, Behavior: BehaviorQueue})
	st.PushQueued(QueuedAlert{Message: "held", TriggerType: "DM", ChatID: 3, MessageID: 4}, 10)
	require.NoError(t, st.SetTimezoneOffset(5.5))
	require.ErrorIs(t, st.SetTimezoneOffset(15), ErrInvalidArgument)

	st2 := reopen(t, "file", path, fc)
	sn := st2.Snooze()
	assert.True(t, sn.Active)
	assert.Equal(t, BehaviorQueue, sn.Behavior)
	assert.True(t, sn.Until.Equal(until))
	assert.Equal(t, []QueuedAlert{{Message: "held", TriggerType: "DM", ChatID: 3, MessageID: 4}}, st2.QueuedAlerts())
	assert.Equal(t, 5.5, st2.TimezoneOffset())

	assert.False(t, st2.ExpireSnooze(until))
	assert.True(t, st2.ExpireSnooze(until.Add(time.Second)))
	assert.False(t, st2.ExpireSnooze(until.Add(time.Second)))
	assert.Equal(t, 1, st2.QueueLen(), "expiry keeps the queue")

	got := st2.Deactivate()
	assert.Len(t, got, 1)
	assert.Equal(t, 0, st2.QueueLen())
}

func TestSummary(t *testing.T) {
	st, _, _ := newTestStore(t, "file")
	st.MarkProcessed(1, 1, "DM")
	st.AddPriorityContact(7, "Ann")
	st.AddMutedContact(8, "Bob")
	_, err := st.SetFilterMode(ModeWhitelist)
	require.NoError(t, err)
	until := t0.Add(time.Hour)
	st.SetSnooze(SnoozeState{Active: true, Until: until, Behavior: BehaviorQueue})
	st.PushQueued(QueuedAlert{Message: "held", ChatID: 1, MessageID: 2}, 10)

	sum := st.Summary()
	assert.Equal(t, 1, sum.Processed)
	assert.Equal(t, ModeWhitelist, sum.Mode)
	assert.Equal(t, []ContactEntry{{ID: 7, Name: "Ann"}}, sum.Priority)
	assert.Equal(t, []ContactEntry{{ID: 8, Name: "Bob"}}, sum.Muted)
	assert.True(t, sum.SnoozeActive)
	assert.True(t, sum.SnoozeUntil.Equal(until))
	assert.Equal(t, BehaviorQueue, sum.SnoozeBehavior)
	assert.Equal(t, 1, sum.Queued)
}
