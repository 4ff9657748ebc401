package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

type Config struct {
	Level    string
	Console  bool
	File     FileConfig
	Telegram TelegramConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// TelegramConfig mirrors records at or above MinLevel into the operator chat.
type TelegramConfig struct {
	Enabled    bool
	MinLevel   string
	RatePerSec int
}

const defaultLogFile = "./prionotify.log"

// Service owns the log sinks. Loggers it hands out follow every Apply.
type Service struct {
	root atomic.Pointer[zerolog.Logger]

	mu     sync.Mutex
	file   *os.File
	mirror *mirror
}

// New builds the service on cfg and returns its root Logger. sender may be
// nil when the Telegram mirror is never enabled.
func New(cfg Config, sender Sender) (*Service, Logger) {
	useGlobals()
	s := &Service{mirror: newMirror(sender)}
	s.swap(build(newConsoleWriter(os.Stdout), cfg.Level, zerolog.InfoLevel))
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

func (s *Service) swap(zl zerolog.Logger) { s.root.Store(&zl) }

// SetTelegramTarget sets the chat that receives mirrored records. 0 disables mirroring.
func (s *Service) SetTelegramTarget(chatID int64) { s.mirror.setChat(chatID) }

// Dropped counts mirror lines lost to a full queue.
func (s *Service) Dropped() uint64 { return s.mirror.dropped.Load() }

// Close stops the mirror and closes the log file.
func (s *Service) Close() error {
	s.mirror.stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// Apply rebuilds the sink set and level. Safe for concurrent use with logging.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mirror.configure(cfg.Telegram)

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	var sinks []io.Writer
	if cfg.Console {
		sinks = append(sinks, newConsoleWriter(os.Stdout))
	}
	if cfg.File.Enabled {
		if f, err := openLogFile(cfg.File.Path); err != nil {
			fmt.Fprintf(os.Stderr, "logx: %v\n", err)
		} else {
			s.file = f
			sinks = append(sinks, zerolog.SyncWriter(f))
		}
	}
	if cfg.Telegram.Enabled {
		s.mirror.start()
		sinks = append(sinks, s.mirror)
	}
	if len(sinks) == 0 {
		sinks = append(sinks, newConsoleWriter(os.Stdout))
	}
	s.swap(build(zerolog.MultiLevelWriter(sinks...), cfg.Level, zerolog.InfoLevel))
}

func openLogFile(path string) (*os.File, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = defaultLogFile
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %q: %w", path, err)
	}
	return f, nil
}
