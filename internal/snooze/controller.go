// Package snooze implements the suppression window state machine
// (Inactive, ActiveDrop, ActiveQueue) on top of state.Store.
package snooze

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"prionotify/internal/clock"
	"prionotify/internal/state"
	logx "prionotify/pkg/logx"
)

const (
	DefaultCapacity = 100
	warnRatio       = 0.8
)

// Mode is the externally visible state of the machine.
type Mode string

const (
	Inactive    Mode = "inactive"
	ActiveDrop  Mode = "active_drop"
	ActiveQueue Mode = "active_queue"
)

// Status is a point-in-time view for the command layer.
type Status struct {
	Mode      Mode
	Until     time.Time
	Remaining time.Duration
	Queued    int
	Capacity  int
}

func (s Status) Active() bool { return s.Mode != Inactive }

type Controller struct {
	store    *state.Store
	clock    clock.Clock
	log      logx.Logger
	capacity int
}

func New(store *state.Store, clk clock.Clock, capacity int, log logx.Logger) *Controller {
	if clk == nil {
		clk = clock.Real{}
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Controller{store: store, clock: clk, log: log, capacity: capacity}
}

func (c *Controller) Capacity() int { return c.capacity }

// Activate opens a window of length d. queueMode selects ActiveQueue over ActiveDrop.
func (c *Controller) Activate(d time.Duration, queueMode bool) (time.Time, error) {
	if d <= 0 {
		return time.Time{}, fmt.Errorf("%w: snooze duration must be positive, got %s", state.ErrInvalidArgument, d)
	}
	behavior := state.BehaviorDrop
	if queueMode {
		behavior = state.BehaviorQueue
	}
	until := c.clock.Now().Add(d)
	c.store.SetSnooze(state.SnoozeState{Active: true, Until: until, Behavior: behavior})
	c.log.Info("snooze activated", logx.Duration("for", d), logx.String("behavior", string(behavior)), logx.Time("until", until))
	return until, nil
}

// CheckExpired closes a window whose end has passed. It returns true once per window.
func (c *Controller) CheckExpired() bool {
	if !c.store.ExpireSnooze(c.clock.Now()) {
		return false
	}
	c.log.Info("snooze expired", logx.Int("queued", c.store.QueueLen()))
	return true
}

// IsSnoozed applies lazy expiry, then reports whether a window is open.
func (c *Controller) IsSnoozed() bool {
	c.CheckExpired()
	return c.store.Snooze().Active
}

// Enqueue holds back an alert during ActiveQueue. In any other state it is a no-op returning false.
// A full queue evicts its oldest entry.
func (c *Controller) Enqueue(a state.QueuedAlert) bool {
	if c.mode() != ActiveQueue {
		return false
	}
	before := c.store.QueueLen()
	evicted, n := c.store.PushQueued(a, c.capacity)
	if evicted > 0 {
		c.log.Warn("snooze queue at capacity; dropped oldest alert", logx.Int("capacity", c.capacity), logx.Int("evicted", evicted))
	}
	threshold := int(float64(c.capacity) * warnRatio)
	if before < threshold && n >= threshold {
		c.log.Warn("snooze queue nearly full", logx.Int("queued", n), logx.Int("capacity", c.capacity))
	}
	return true
}

// Deactivate closes any window and returns the queued alerts, leaving the queue empty.
func (c *Controller) Deactivate() []state.QueuedAlert {
	q := c.store.Deactivate()
	c.log.Info("snooze deactivated", logx.Int("returned", len(q)))
	return q
}

// Remaining reports time left in the window; ok is false when inactive.
func (c *Controller) Remaining() (time.Duration, bool) {
	sn := c.store.Snooze()
	if !sn.Active || sn.Until.IsZero() {
		return 0, false
	}
	left := sn.Until.Sub(c.clock.Now())
	if left < 0 {
		left = 0
	}
	return left, true
}

func (c *Controller) Status() Status {
	c.CheckExpired()
	sn := c.store.Snooze()
	st := Status{Mode: c.mode(), Queued: c.store.QueueLen(), Capacity: c.capacity}
	if sn.Active {
		st.Until = sn.Until
		st.Remaining, _ = c.Remaining()
	}
	return st
}

func (c *Controller) mode() Mode {
	sn := c.store.Snooze()
	switch {
	case !sn.Active:
		return Inactive
	case sn.Behavior == state.BehaviorQueue:
		return ActiveQueue
	default:
		return ActiveDrop
	}
}

var reDuration = regexp.MustCompile(`^(\d+)([mhd])$`)

// ParseDuration accepts "<int><m|h|d>", case-insensitive with surrounding space trimmed.
func ParseDuration(text string) (time.Duration, error) {
	m := reDuration.FindStringSubmatch(strings.ToLower(strings.TrimSpace(text)))
	if m == nil {
		return 0, fmt.Errorf("%w: duration %q (use e.g. 30m, 2h, 1d)", state.ErrInvalidArgument, text)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: duration %q", state.ErrInvalidArgument, text)
	}
	unit := time.Minute
	switch m[2] {
	case "h":
		unit = time.Hour
	case "d":
		unit = 24 * time.Hour
	}
	if n > int64((1<<63-1)/int64(unit)) {
		return 0, fmt.Errorf("%w: duration %q too large", state.ErrInvalidArgument, text)
	}
	return time.Duration(n) * unit, nil
}

// FormatRemaining renders a remaining duration the way status replies show it: 1.5h, 12m, 40s.
func FormatRemaining(d time.Duration) string {
	switch {
	case d >= time.Hour:
		return strconv.FormatFloat(d.Hours(), 'f', 1, 64) + "h"
	case d >= time.Minute:
		return strconv.FormatFloat(d.Minutes(), 'f', 0, 64) + "m"
	default:
		return strconv.FormatFloat(d.Seconds(), 'f', 0, 64) + "s"
	}
}
