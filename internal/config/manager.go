package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	logx "prionotify/pkg/logx"
)

// ConfigManager owns the current config and republishes it when the file changes.
type ConfigManager struct {
	path     string
	debounce time.Duration

	log       logx.Logger
	validator func(ctx context.Context, cfg *Config) error

	current atomic.Pointer[committed]

	// mu also orders publish against Unsubscribe so a send never hits a closed channel.
	mu   sync.Mutex
	subs map[chan *Config]struct{}
}

type committed struct {
	cfg *Config
	sum uint64
}

// NewConfigManager reads from path. An empty path means environment-only configuration.
func NewConfigManager(path string) *ConfigManager {
	return &ConfigManager{
		path:     path,
		debounce: 250 * time.Millisecond,
		log:      logx.Nop(),
		subs:     map[chan *Config]struct{}{},
	}
}

func (m *ConfigManager) Path() string { return m.path }

func (m *ConfigManager) SetLogger(log logx.Logger) {
	if log.IsZero() {
		log = logx.Nop()
	}
	m.log = log
}

// SetValidator installs a check that Watch runs before committing a reloaded config.
func (m *ConfigManager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	m.validator = fn
}

// Parse reads the file strictly, then applies environment overrides. Unknown
// keys and anything after the first document are errors.
func (m *ConfigManager) Parse() (*Config, error) {
	cfg := new(Config)
	if strings.TrimSpace(m.path) != "" {
		raw, err := os.ReadFile(m.path)
		if err != nil {
			return nil, err
		}
		if err := decodeStrict(m.path, raw, cfg); err != nil {
			return nil, fmt.Errorf("%s: %w", m.path, err)
		}
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeStrict(path string, raw []byte, cfg *Config) error {
	doc, err := toJSON(path, raw)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("invalid config: trailing data")
	}
	return nil
}

// Commit makes cfg current without notifying subscribers.
func (m *ConfigManager) Commit(cfg *Config) {
	m.current.Store(&committed{cfg: cfg, sum: fingerprint(cfg)})
}

func (m *ConfigManager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	m.Commit(cfg)
	return cfg, nil
}

func (m *ConfigManager) Get() *Config {
	if c := m.current.Load(); c != nil {
		return c.cfg
	}
	return nil
}

// fingerprint hashes the decoded config, so whitespace and key order do not count as changes.
func fingerprint(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

// Subscribe returns a channel that receives every committed reload.
func (m *ConfigManager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, buffer)
	m.mu.Lock()
	m.subs[ch] = struct{}{}
	m.mu.Unlock()
	return ch
}

// Unsubscribe closes ch. Unknown channels are ignored.
func (m *ConfigManager) Unsubscribe(ch chan *Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[ch]; ok {
		delete(m.subs, ch)
		close(ch)
	}
}

// publish hands cfg to every subscriber. Subscribers only care about the
// newest config, so a full buffer loses its oldest entry.
func (m *ConfigManager) publish(cfg *Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ch := range m.subs {
		if !offerNewest(ch, cfg) {
			m.log.Debug("config update dropped (subscriber slow)", logx.Int("queue_cap", cap(ch)))
		}
	}
}

func offerNewest(ch chan *Config, cfg *Config) bool {
	for retried := false; ; retried = true {
		select {
		case ch <- cfg:
			return true
		default:
		}
		if retried {
			return false
		}
		select {
		case <-ch:
		default:
		}
	}
}

// reload runs on every debounced file event.
func (m *ConfigManager) reload(ctx context.Context) {
	log := m.log.With(logx.String("path", m.path))
	cfg, err := m.Parse()
	if err != nil {
		log.Warn("config parse failed", logx.Err(err))
		return
	}
	sum := fingerprint(cfg)
	if prev := m.current.Load(); prev != nil && sum != 0 && sum == prev.sum {
		log.Debug("config unchanged; skipping publish")
		return
	}
	if m.validator != nil {
		vctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := m.validator(vctx, cfg)
		cancel()
		if err != nil {
			log.Warn("config rejected", logx.Err(err))
			return
		}
	}
	m.Commit(cfg)
	m.publish(cfg)
	log.Info("config reloaded", logx.String("hash", fmt.Sprintf("%016x", sum)))
}
