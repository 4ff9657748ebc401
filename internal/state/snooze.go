package state

import "time"

// The methods below are the storage half of the snooze state machine.
// Transitions are decided by internal/snooze; the store only persists them.

func (s *Store) Snooze() SnoozeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snoozeLocked()
}

func (s *Store) snoozeLocked() SnoozeState {
	sn := s.data.Snooze
	out := SnoozeState{Active: sn.Active, Behavior: sn.Behavior}
	if sn.Active && sn.Until != nil {
		out.Until = fromEpoch(*sn.Until)
	}
	return out
}

// SetSnooze replaces the window. The queue is left untouched.
func (s *Store) SetSnooze(st SnoozeState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setSnoozeLocked(st)
	s.persistLocked("set_snooze")
}

func (s *Store) setSnoozeLocked(st SnoozeState) {
	if st.Behavior != BehaviorQueue {
		st.Behavior = BehaviorDrop
	}
	s.data.Snooze.Active = st.Active
	s.data.Snooze.Behavior = st.Behavior
	s.data.Snooze.Until = nil
	if st.Active && !st.Until.IsZero() {
		u := epoch(st.Until)
		s.data.Snooze.Until = &u
	}
}

// ExpireSnooze ends an active window whose Until is strictly before now.
// It reports whether a transition happened; the queue is preserved for flushing.
func (s *Store) ExpireSnooze(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sn := s.snoozeLocked()
	if !sn.Active || sn.Until.IsZero() || !now.After(sn.Until) {
		return false
	}
	s.setSnoozeLocked(SnoozeState{Active: false, Behavior: sn.Behavior})
	s.persistLocked("expire_snooze")
	return true
}

// PushQueued appends a to the queue, evicting from the head while the queue is at capacity.
// It returns the number of evicted entries and the resulting length.
func (s *Store) PushQueued(a QueuedAlert, capacity int) (evicted, length int) {
	if capacity <= 0 {
		capacity = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.data.Snooze.Queue
	for len(q) >= capacity {
		q = q[1:]
		evicted++
	}
	q = append(q, a)
	// Reslicing from the head keeps the old backing array alive; copy once it drifts.
	if cap(q) > 2*capacity {
		q = append(make([]QueuedAlert, 0, capacity), q...)
	}
	s.data.Snooze.Queue = q
	s.persistLocked("queue_push")
	return evicted, len(q)
}

// QueuedAlerts returns a copy of the queue in insertion order.
func (s *Store) QueuedAlerts() []QueuedAlert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]QueuedAlert(nil), s.data.Snooze.Queue...)
}

func (s *Store) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data.Snooze.Queue)
}

// Deactivate ends the window and hands back the queue, leaving it empty.
func (s *Store) Deactivate() []QueuedAlert {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.data.Snooze.Queue
	s.setSnoozeLocked(SnoozeState{Active: false, Behavior: s.data.Snooze.Behavior})
	s.data.Snooze.Queue = []QueuedAlert{}
	s.persistLocked("deactivate_snooze")
	return q
}

// RemoveQueued deletes one queue entry per element of done, oldest match
// first. Entries that were evicted meanwhile are skipped, and anything queued
// after done was copied stays. It returns how many entries were removed.
func (s *Store) RemoveQueued(done []QueuedAlert) int {
	if len(done) == 0 {
		return 0
	}
	pending := make(map[QueuedAlert]int, len(done))
	for _, a := range done {
		pending[a]++
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := make([]QueuedAlert, 0, len(s.data.Snooze.Queue))
	removed := 0
	for _, a := range s.data.Snooze.Queue {
		if pending[a] > 0 {
			pending[a]--
			removed++
			continue
		}
		kept = append(kept, a)
	}
	if removed > 0 {
		s.data.Snooze.Queue = kept
		s.persistLocked("queue_flush")
	}
	return removed
}
