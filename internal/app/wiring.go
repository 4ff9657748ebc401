package app

import (
	"context"
	"fmt"

	"prionotify/internal/clock"
	"prionotify/internal/config"
	"prionotify/internal/state"
	"prionotify/internal/storage"
	logx "prionotify/pkg/logx"
)

// Options locate the configuration. Both paths are optional; with neither,
// everything comes from the process environment.
type Options struct {
	ConfigPath string
	EnvFile    string
}

// LoadRuntime reads .env, the config file and the environment, then validates.
func LoadRuntime(opt Options) (*config.ConfigManager, *config.Runtime, error) {
	if err := config.LoadDotEnv(opt.EnvFile); err != nil {
		return nil, nil, err
	}
	cfgm := config.NewConfigManager(opt.ConfigPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, nil, err
	}
	rt, err := config.Resolve(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	return cfgm, rt, nil
}

// OpenState opens the configured backend and loads the snapshot. A corrupt
// snapshot is quarantined inside Load; only backend read failures are returned.
func OpenState(ctx context.Context, rt *config.Runtime, clk clock.Clock, log logx.Logger) (storage.Store, *state.Store, error) {
	be, err := storage.Open(rt.Storage, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, nil, err
	}
	st := state.New(be, state.Options{
		Clock:           clk,
		Log:             log.With(logx.String("comp", "state")),
		CleanupInterval: rt.CleanupEvery,
	})
	if _, err := st.Load(ctx); err != nil {
		_ = be.Close()
		return nil, nil, fmt.Errorf("load state from %s: %w", rt.Storage.Path, err)
	}
	return be, st, nil
}
