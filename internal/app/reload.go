package app

import (
	"strings"

	"prionotify/internal/config"
	"prionotify/internal/scheduler"
	logx "prionotify/pkg/logx"
)

// latest coalesces a burst of reloads down to the newest config.
func latest(sub <-chan *config.Config, cfg *config.Config) *config.Config {
	for {
		select {
		case newer := <-sub:
			if newer != nil {
				cfg = newer
			}
		default:
			return cfg
		}
	}
}

// applyConfig pushes the live sections into running components. Identity,
// token and storage stay as started; a change there is only reported.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	changed, attrs, restart := config.SummarizeChange(oldCfg, newCfg)
	if len(changed) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(changed, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	rt, err := config.Resolve(newCfg)
	if err != nil {
		a.log.Warn("invalid config; keeping previous", logx.Err(err))
		return
	}

	a.logs.Apply(rt.Logging)
	a.notif.Apply(rt.Delivery)
	a.metrics.SetHeartbeat(rt.Heartbeat)
	a.sched.Apply(scheduler.Config{Timezone: rt.Timezone})
	if rt.Tick != a.tick {
		if err := a.addTick(rt.Tick); err != nil {
			a.log.Warn("tick reschedule failed; keeping previous", logx.Duration("tick", a.tick), logx.Err(err))
		} else {
			a.log.Info("tick rescheduled", logx.Duration("tick", rt.Tick))
		}
	}

	if len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.String("sections", strings.Join(restart, ",")))
	}
	a.log.Info("config reloaded", fields...)
}
