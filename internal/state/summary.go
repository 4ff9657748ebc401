package state

import "time"

// Summary is a read-only view of the whole store, for operator tooling.
type Summary struct {
	Processed      int            `json:"processed"`
	LastCleanup    time.Time      `json:"last_cleanup"`
	Mode           FilterMode     `json:"mode"`
	Priority       []ContactEntry `json:"priority"`
	Muted          []ContactEntry `json:"muted"`
	SnoozeActive   bool           `json:"snooze_active"`
	SnoozeUntil    time.Time      `json:"snooze_until,omitzero"`
	SnoozeBehavior Behavior       `json:"snooze_behavior"`
	Queued         int            `json:"queued"`
	TimezoneOffset float64        `json:"timezone_offset"`
}

func (s *Store) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	sn := s.snoozeLocked()
	return Summary{
		Processed:      len(s.data.ProcessedMessages),
		LastCleanup:    fromEpoch(s.data.LastCleanup),
		Mode:           s.data.PriorityContacts.Mode,
		Priority:       listContacts(s.data.PriorityContacts.Whitelist),
		Muted:          listContacts(s.data.PriorityContacts.Blacklist),
		SnoozeActive:   sn.Active,
		SnoozeUntil:    sn.Until,
		SnoozeBehavior: sn.Behavior,
		Queued:         len(s.data.Snooze.Queue),
		TimezoneOffset: s.data.TimezoneOffset,
	}
}
