package state

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidArgument marks operator input the store refuses without changing state.
var ErrInvalidArgument = errors.New("invalid argument")

// FilterMode selects which contact list gates alerts.
type FilterMode string

const (
	ModeDisabled  FilterMode = "disabled"
	ModeWhitelist FilterMode = "whitelist"
	ModeBlacklist FilterMode = "blacklist"
)

// ParseFilterMode accepts the persisted names plus "off" for disabled.
func ParseFilterMode(s string) (FilterMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "disabled", "off":
		return ModeDisabled, nil
	case "whitelist":
		return ModeWhitelist, nil
	case "blacklist":
		return ModeBlacklist, nil
	default:
		return "", fmt.Errorf("%w: filter mode %q (use whitelist, blacklist or off)", ErrInvalidArgument, s)
	}
}

func (m FilterMode) valid() bool {
	return m == ModeDisabled || m == ModeWhitelist || m == ModeBlacklist
}

// Behavior is what happens to qualifying alerts while snoozed.
type Behavior string

const (
	BehaviorDrop  Behavior = "drop"
	BehaviorQueue Behavior = "queue"
)

// SnoozeState is the persisted suppression window. Until is zero when inactive.
type SnoozeState struct {
	Active   bool
	Until    time.Time
	Behavior Behavior
}

// ContactEntry is a resolved contact kept in the priority or muted list.
type ContactEntry struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// QueuedAlert is a rendered alert held back by a queue-mode snooze.
type QueuedAlert struct {
	Message     string `json:"message"`
	TriggerType string `json:"trigger_type"`
	ChatID      int64  `json:"chat_id"`
	MessageID   int    `json:"message_id"`
}

// ProcessedRecord is the dedup marker for one (chat, message) pair.
type ProcessedRecord struct {
	At          time.Time
	TriggerType string
}
