package logx

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

const DefaultFilePath = "./stayconnect.log"

type Config struct {
	Level   string
	Console bool
	File    FileConfig
}

// FileConfig enables a JSON lines sink, appended to across restarts.
type FileConfig struct {
	Enabled bool
	Path    string
}

// Service owns the sinks and swaps them on config reload.
type Service struct {
	mu   sync.Mutex
	cfg  Config
	file *os.File

	root atomic.Pointer[zerolog.Logger]
}

// New applies cfg and returns the service with its root logger. A file sink
// that cannot be opened is reported on the returned logger; console output
// keeps working.
func New(cfg Config) (*Service, Logger) {
	s := &Service{}
	zl := consoleRoot(parseLevel(cfg.Level, zerolog.InfoLevel))
	s.root.Store(&zl)

	log := Logger{svc: s}
	if err := s.Apply(cfg); err != nil {
		log.Warn("log file sink disabled", Err(err))
	}
	return s, log
}

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

func (s *Service) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Apply rebuilds the sinks. The console is used when nothing else is
// configured, so a failing file sink never silences the process.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	var (
		writers []io.Writer
		fileErr error
	)
	if cfg.Console {
		writers = append(writers, consoleWriter(consoleOut))
	}
	if cfg.File.Enabled {
		f, err := openLogFile(cfg.File.Path)
		if err != nil {
			fileErr = err
		} else {
			s.file = f
			writers = append(writers, zerolog.SyncWriter(f))
		}
	}
	if len(writers) == 0 {
		writers = append(writers, consoleWriter(consoleOut))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(parseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.root.Store(&zl)
	return fileErr
}

func openLogFile(path string) (*os.File, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = DefaultFilePath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create log dir %s", dir)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, errors.Wrapf(err, "open log file %s", path)
	}
	return f, nil
}

// Close releases the file sink.
func (s *Service) Close() error {
	s.mu.Lock()
	f := s.file
	s.file = nil
	s.mu.Unlock()
	if f == nil {
		return nil
	}
	return f.Close()
}
