package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"prionotify/internal/notifier"
	"prionotify/internal/storage"
	logx "prionotify/pkg/logx"
)

// Runtime is the resolved configuration with defaults applied and durations parsed.
type Runtime struct {
	Token       string
	OwnerID     int64
	AlertChatID int64
	PollTimeout time.Duration

	MonitorUserID   int64
	MonitorUsername string

	Storage      storage.Config
	Retention    time.Duration
	CleanupEvery time.Duration

	QueueCapacity int

	Delivery      notifier.Config
	DeliveryQueue int

	Tick      time.Duration
	Heartbeat time.Duration
	Timezone  string

	Logging logx.Config
}

const (
	defaultStatePath = "state.json"
	defaultRetention = 30 * 24 * time.Hour
)

// Resolve validates cfg and fills defaults. Every problem is reported, joined.
func Resolve(cfg *Config) (*Runtime, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	var errs []error
	dur := func(path, raw string, def time.Duration) time.Duration {
		d, err := durationOr(path, raw, def)
		if err != nil {
			errs = append(errs, err)
		}
		return d
	}

	rt := &Runtime{
		Token:           strings.TrimSpace(cfg.Telegram.Token),
		OwnerID:         cfg.Telegram.OwnerUserID,
		AlertChatID:     cfg.Telegram.AlertChatID,
		PollTimeout:     dur("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second),
		MonitorUserID:   cfg.Monitor.UserID,
		MonitorUsername: strings.TrimPrefix(strings.TrimSpace(cfg.Monitor.Username), "@"),
		QueueCapacity:   cfg.Snooze.QueueCapacity,
		DeliveryQueue:   cfg.Delivery.QueueSize,
		Timezone:        strings.TrimSpace(cfg.Scheduler.Timezone),
	}
	if rt.Token == "" {
		errs = append(errs, errors.New("telegram.token: required (or TELEGRAM_BOT_TOKEN)"))
	}
	if rt.OwnerID == 0 {
		errs = append(errs, errors.New("telegram.owner_user_id: required (or TELEGRAM_OWNER_ID)"))
	}
	if rt.AlertChatID == 0 {
		rt.AlertChatID = rt.OwnerID
	}
	if rt.MonitorUserID == 0 {
		rt.MonitorUserID = rt.OwnerID
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.State.Driver))
	switch driver {
	case "":
		driver = "file"
	case "file", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("state.driver: unknown driver %q (use file or sqlite)", cfg.State.Driver))
	}
	path := strings.TrimSpace(cfg.State.Path)
	if path == "" {
		path = defaultStatePath
	}
	rt.Storage = storage.Config{
		Driver:      driver,
		Path:        path,
		BusyTimeout: dur("state.busy_timeout", cfg.State.BusyTimeout, 0),
	}
	rt.Retention = dur("state.retention", cfg.State.Retention, defaultRetention)
	rt.CleanupEvery = dur("state.cleanup_every", cfg.State.CleanupEvery, 24*time.Hour)

	if rt.QueueCapacity < 0 {
		errs = append(errs, errors.New("snooze.queue_capacity: must be >= 0"))
	}

	rt.Delivery = notifier.Config{
		MinInterval:       dur("delivery.min_interval", cfg.Delivery.MinInterval, 0),
		MaxAttempts:       cfg.Delivery.MaxAttempts,
		DefaultRetryAfter: dur("delivery.default_retry_after", cfg.Delivery.DefaultRetryAfter, 0),
		BackoffBase:       dur("delivery.backoff_base", cfg.Delivery.BackoffBase, 0),
		SendTimeout:       dur("delivery.send_timeout", cfg.Delivery.SendTimeout, 0),
	}
	if cfg.Delivery.MaxAttempts < 0 {
		errs = append(errs, errors.New("delivery.max_attempts: must be >= 0"))
	}
	if cfg.Delivery.QueueSize < 0 {
		errs = append(errs, errors.New("delivery.queue_size: must be >= 0"))
	}

	rt.Tick = dur("scheduler.tick", cfg.Scheduler.Tick, 60*time.Second)
	rt.Heartbeat = dur("scheduler.heartbeat", cfg.Scheduler.Heartbeat, time.Hour)
	if rt.Timezone != "" {
		if _, err := time.LoadLocation(rt.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		}
	}

	rt.Logging = LoggingRuntime(cfg.Logging)
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return rt, nil
}

// LoggingRuntime maps the logging section. With no sink enabled, console is turned on.
func LoggingRuntime(l LoggingConfig) logx.Config {
	out := logx.Config{
		Level:   strings.TrimSpace(l.Level),
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: strings.TrimSpace(l.File.Path)},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
	if out.Level == "" {
		out.Level = "info"
	}
	if !out.Console && !out.File.Enabled {
		out.Console = true
	}
	return out
}
