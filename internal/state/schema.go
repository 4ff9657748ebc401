package state

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// SchemaVersion is written into every snapshot.
const SchemaVersion = 1

type snapshot struct {
	SchemaVersion     int                        `json:"schema_version"`
	ProcessedMessages map[string]processedRecord `json:"processed_messages"`
	LastCleanup       float64                    `json:"last_cleanup"`
	PriorityContacts  contactLists               `json:"priority_contacts"`
	Snooze            snoozeSnapshot             `json:"snooze"`
	TimezoneOffset    float64                    `json:"timezone_offset"`
}

type processedRecord struct {
	Timestamp   float64 `json:"timestamp"`
	TriggerType string  `json:"trigger_type"`
}

type contactLists struct {
	Mode      FilterMode        `json:"mode"`
	Whitelist map[string]string `json:"whitelist"`
	Blacklist map[string]string `json:"blacklist"`
}

type snoozeSnapshot struct {
	Active   bool          `json:"active"`
	Until    *float64      `json:"until"`
	Behavior Behavior      `json:"behavior"`
	Queue    []QueuedAlert `json:"queue"`
}

func freshSnapshot(now time.Time) snapshot {
	s := snapshot{}
	normalize(&s, now)
	return s
}

// normalize fills every field a snapshot may be missing. It is the only place defaults live.
func normalize(s *snapshot, now time.Time) {
	if s.SchemaVersion == 0 {
		s.SchemaVersion = SchemaVersion
	}
	if s.ProcessedMessages == nil {
		s.ProcessedMessages = map[string]processedRecord{}
	}
	if s.LastCleanup <= 0 {
		s.LastCleanup = epoch(now)
	}
	if !s.PriorityContacts.Mode.valid() {
		s.PriorityContacts.Mode = ModeDisabled
	}
	if s.PriorityContacts.Whitelist == nil {
		s.PriorityContacts.Whitelist = map[string]string{}
	}
	if s.PriorityContacts.Blacklist == nil {
		s.PriorityContacts.Blacklist = map[string]string{}
	}
	if s.Snooze.Behavior != BehaviorQueue {
		s.Snooze.Behavior = BehaviorDrop
	}
	if s.Snooze.Queue == nil {
		s.Snooze.Queue = []QueuedAlert{}
	}
	if !s.Snooze.Active {
		s.Snooze.Until = nil
	}
	if s.TimezoneOffset < MinTimezoneOffset || s.TimezoneOffset > MaxTimezoneOffset || math.IsNaN(s.TimezoneOffset) {
		s.TimezoneOffset = 0
	}
}

func decodeSnapshot(b []byte, now time.Time) (snapshot, error) {
	var s snapshot
	if err := json.Unmarshal(b, &s); err != nil {
		return snapshot{}, err
	}
	if s.SchemaVersion > SchemaVersion {
		return snapshot{}, fmt.Errorf("unsupported schema_version %d", s.SchemaVersion)
	}
	// Snapshots written before versioning carry no schema_version; they share layout 1.
	s.SchemaVersion = SchemaVersion
	normalize(&s, now)
	return s, nil
}

func processedKey(chatID int64, messageID int) string {
	return strconv.FormatInt(chatID, 10) + ":" + strconv.Itoa(messageID)
}

func contactKey(id int64) string { return strconv.FormatInt(id, 10) }

func parseContactKey(k string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(k), 10, 64)
	return id, err == nil
}

func epoch(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func fromEpoch(f float64) time.Time {
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*float64(time.Second)))
}
