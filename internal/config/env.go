package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// envOverrides are the variables that take precedence over the file.
type envOverrides struct {
	Token       string `envconfig:"TELEGRAM_BOT_TOKEN"`
	AlertChatID string `envconfig:"TELEGRAM_CHAT_ID"`
	OwnerID     string `envconfig:"TELEGRAM_OWNER_ID"`
	MonitorID   string `envconfig:"MONITOR_USER_ID"`
	MonitorName string `envconfig:"MONITOR_USERNAME"`
	StateFile   string `envconfig:"STATE_FILE"`
	StateDriver string `envconfig:"STATE_DRIVER"`
	LogLevel    string `envconfig:"LOG_LEVEL"`
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays non-empty environment overrides onto cfg.
func ApplyEnv(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return fmt.Errorf("env: %w", err)
	}
	setStr := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	setID := func(name string, dst *int64, v string) error {
		v = strings.TrimSpace(v)
		if v == "" {
			return nil
		}
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("env %s: invalid id %q", name, v)
		}
		*dst = id
		return nil
	}

	setStr(&cfg.Telegram.Token, env.Token)
	setStr(&cfg.Monitor.Username, strings.TrimPrefix(strings.TrimSpace(env.MonitorName), "@"))
	setStr(&cfg.State.Path, env.StateFile)
	setStr(&cfg.State.Driver, env.StateDriver)
	setStr(&cfg.Logging.Level, env.LogLevel)
	return errors.Join(
		setID("TELEGRAM_CHAT_ID", &cfg.Telegram.AlertChatID, env.AlertChatID),
		setID("TELEGRAM_OWNER_ID", &cfg.Telegram.OwnerUserID, env.OwnerID),
		setID("MONITOR_USER_ID", &cfg.Monitor.UserID, env.MonitorID),
	)
}
