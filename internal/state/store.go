// Package state owns every durable fact prionotify keeps: dedup records,
// contact lists, the snooze window with its queue, and the timezone offset.
//
// All access goes through Store. Each mutation persists a full snapshot before
// returning, so a crash loses at most the mutation in progress.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"prionotify/internal/clock"
	"prionotify/internal/storage"
	logx "prionotify/pkg/logx"
)

const (
	DefaultRetention       = 30 * 24 * time.Hour
	DefaultCleanupInterval = 24 * time.Hour
	saveTimeout            = 5 * time.Second
)

type Options struct {
	Clock           clock.Clock
	Log             logx.Logger
	CleanupInterval time.Duration
}

// Store is the single owner of persisted state. It is safe for concurrent use;
// every method holds the store mutex for its whole duration.
type Store struct {
	mu sync.Mutex

	backend storage.Store
	clock   clock.Clock
	log     logx.Logger

	cleanupEvery time.Duration

	data snapshot
}

// LoadResult describes what Load found.
type LoadResult struct {
	Fresh         bool   // nothing was persisted yet
	QuarantinedTo string // non-empty when a corrupt snapshot was moved aside
}

func New(backend storage.Store, opt Options) *Store {
	if opt.Clock == nil {
		opt.Clock = clock.Real{}
	}
	if opt.Log.IsZero() {
		opt.Log = logx.Nop()
	}
	if opt.CleanupInterval <= 0 {
		opt.CleanupInterval = DefaultCleanupInterval
	}
	return &Store{
		backend:      backend,
		clock:        opt.Clock,
		log:          opt.Log,
		cleanupEvery: opt.CleanupInterval,
		data:         freshSnapshot(opt.Clock.Now()),
	}
}

// Load replaces in-memory state with the persisted snapshot.
//
// A missing snapshot yields fresh state. A snapshot that cannot be decoded is
// quarantined by the backend and fresh state is used; this is never an error.
// Only backend read failures are returned, and fresh state is kept in that case too.
func (s *Store) Load(ctx context.Context) (LoadResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	s.data = freshSnapshot(now)

	b, err := s.backend.LoadState(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		s.log.Info("no persisted state; starting fresh")
		return LoadResult{Fresh: true}, nil
	}
	if err != nil {
		s.log.Error("state read failed; starting fresh", logx.Err(err))
		return LoadResult{Fresh: true}, err
	}

	snap, derr := decodeSnapshot(b, now)
	if derr != nil {
		where, qerr := s.backend.QuarantineState(ctx)
		if qerr != nil {
			s.log.Warn("failed to quarantine corrupt state", logx.Err(qerr))
		}
		s.log.Error("corrupt state quarantined; starting fresh", logx.Err(derr), logx.String("backup", where))
		return LoadResult{Fresh: true, QuarantinedTo: where}, nil
	}
	s.data = snap
	s.log.Info("state loaded",
		logx.Int("processed", len(snap.ProcessedMessages)),
		logx.String("mode", string(snap.PriorityContacts.Mode)),
		logx.Bool("snooze_active", snap.Snooze.Active),
		logx.Int("queued", len(snap.Snooze.Queue)),
	)
	return LoadResult{}, nil
}

// Save persists the current snapshot.
func (s *Store) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveCtxLocked(ctx)
}

func (s *Store) saveCtxLocked(ctx context.Context) error {
	b, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	return s.backend.SaveState(ctx, b)
}

// persistLocked saves after a mutation. Failures are logged; in-memory state stays authoritative.
func (s *Store) persistLocked(op string) {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := s.saveCtxLocked(ctx); err != nil {
		s.log.Error("state save failed", logx.String("op", op), logx.Err(err))
	}
}

// ---- Dedup ----

func (s *Store) IsProcessed(chatID int64, messageID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data.ProcessedMessages[processedKey(chatID, messageID)]
	return ok
}

func (s *Store) MarkProcessed(chatID int64, messageID int, triggerType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.ProcessedMessages[processedKey(chatID, messageID)] = processedRecord{
		Timestamp:   epoch(s.clock.Now()),
		TriggerType: triggerType,
	}
	s.persistLocked("mark_processed")
}

// Processed returns the dedup record for a pair, if any.
func (s *Store) Processed(chatID int64, messageID int) (ProcessedRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.data.ProcessedMessages[processedKey(chatID, messageID)]
	if !ok {
		return ProcessedRecord{}, false
	}
	return ProcessedRecord{At: fromEpoch(r.Timestamp), TriggerType: r.TriggerType}, true
}

func (s *Store) ProcessedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data.ProcessedMessages)
}

// CleanupOlderThan drops records older than now-maxAge (a record exactly at the cutoff stays)
// and stamps the cleanup time.
// It returns the number of records removed.
func (s *Store) CleanupOlderThan(maxAge time.Duration) int {
	if maxAge <= 0 {
		maxAge = DefaultRetention
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	cutoff := epoch(now.Add(-maxAge))
	removed := 0
	for k, r := range s.data.ProcessedMessages {
		if r.Timestamp < cutoff {
			delete(s.data.ProcessedMessages, k)
			removed++
		}
	}
	s.data.LastCleanup = epoch(now)
	s.persistLocked("cleanup")
	s.log.Info("dedup cleanup", logx.Int("removed", removed), logx.Int("kept", len(s.data.ProcessedMessages)))
	return removed
}

// ShouldCleanup reports whether the cleanup interval has elapsed since the last cleanup.
func (s *Store) ShouldCleanup() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock.Now().Sub(fromEpoch(s.data.LastCleanup)) >= s.cleanupEvery
}

func (s *Store) LastCleanup() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fromEpoch(s.data.LastCleanup)
}
