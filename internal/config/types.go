// Package config loads the prionotify configuration file (JSON or YAML),
// overlays environment overrides and resolves it into typed runtime settings.
package config

// Config mirrors the file schema. Durations stay Go duration strings here and
// are parsed once in Resolve so errors carry their field path.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Monitor   MonitorConfig   `json:"monitor"`
	State     StateConfig     `json:"state"`
	Snooze    SnoozeConfig    `json:"snooze"`
	Delivery  DeliveryConfig  `json:"delivery"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Logging   LoggingConfig   `json:"logging"`
}

type TelegramConfig struct {
	Token       string `json:"token"`
	OwnerUserID int64  `json:"owner_user_id"`
	// AlertChatID receives alerts; defaults to the owner's private chat.
	AlertChatID int64  `json:"alert_chat_id,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"`
}

// MonitorConfig names the account whose DMs, mentions and replies raise alerts.
// UserID defaults to the owner.
type MonitorConfig struct {
	UserID   int64  `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
}

// StateConfig selects the persistence backend.
//
// Example:
//
//	"state": { "driver": "sqlite", "path": "./prionotify.db", "retention": "720h" }
type StateConfig struct {
	Driver       string `json:"driver,omitempty"` // file | sqlite
	Path         string `json:"path,omitempty"`
	BusyTimeout  string `json:"busy_timeout,omitempty"`
	Retention    string `json:"retention,omitempty"`
	CleanupEvery string `json:"cleanup_every,omitempty"`
}

type SnoozeConfig struct {
	QueueCapacity int `json:"queue_capacity,omitempty"`
}

// DeliveryConfig tunes alert pacing and retries. It applies live on reload.
type DeliveryConfig struct {
	MinInterval       string `json:"min_interval,omitempty"`
	MaxAttempts       int    `json:"max_attempts,omitempty"`
	DefaultRetryAfter string `json:"default_retry_after,omitempty"`
	BackoffBase       string `json:"backoff_base,omitempty"`
	SendTimeout       string `json:"send_timeout,omitempty"`
	QueueSize         int    `json:"queue_size,omitempty"`
}

type SchedulerConfig struct {
	Tick      string `json:"tick,omitempty"`
	Heartbeat string `json:"heartbeat,omitempty"`
	Timezone  string `json:"timezone,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram mirrors warn+ records into the owner chat.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}
