package config

import (
	"sort"
	"strings"

	logx "prionotify/pkg/logx"
)

// Sections whose changes apply without a restart.
var liveSections = map[string]bool{"logging": true, "delivery": true, "scheduler": true}

// SummarizeChange lists changed sections, safe log attrs (never the token) and
// the subset of changed sections that only take effect after a restart.
func SummarizeChange(oldCfg, newCfg *Config) (changed []string, attrs []logx.Field, restart []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	if oldCfg.Telegram != newCfg.Telegram {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", strings.TrimSpace(oldCfg.Telegram.Token) != strings.TrimSpace(newCfg.Telegram.Token)),
			logx.Int64("telegram.owner_user_id", newCfg.Telegram.OwnerUserID),
			logx.Int64("telegram.alert_chat_id", newCfg.Telegram.AlertChatID),
		)
	}
	if oldCfg.Monitor != newCfg.Monitor {
		changed = append(changed, "monitor")
		attrs = append(attrs, logx.Int64("monitor.user_id", newCfg.Monitor.UserID), logx.String("monitor.username", newCfg.Monitor.Username))
	}
	if oldCfg.State != newCfg.State {
		changed = append(changed, "state")
		attrs = append(attrs, logx.String("state.driver", newCfg.State.Driver), logx.Bool("state.path_set", strings.TrimSpace(newCfg.State.Path) != ""))
	}
	if oldCfg.Snooze != newCfg.Snooze {
		changed = append(changed, "snooze")
		attrs = append(attrs, logx.Int("snooze.queue_capacity", newCfg.Snooze.QueueCapacity))
	}
	if oldCfg.Delivery != newCfg.Delivery {
		changed = append(changed, "delivery")
		attrs = append(attrs,
			logx.String("delivery.min_interval", newCfg.Delivery.MinInterval),
			logx.Int("delivery.max_attempts", newCfg.Delivery.MaxAttempts),
		)
		if oldCfg.Delivery.QueueSize != newCfg.Delivery.QueueSize {
			restart = append(restart, "delivery.queue_size")
		}
	}
	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.tick", newCfg.Scheduler.Tick),
			logx.String("scheduler.heartbeat", newCfg.Scheduler.Heartbeat),
			logx.String("scheduler.timezone", newCfg.Scheduler.Timezone),
		)
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	for _, s := range changed {
		if !liveSections[s] {
			restart = append(restart, s)
		}
	}
	sort.Strings(changed)
	sort.Strings(restart)
	return changed, attrs, restart
}
