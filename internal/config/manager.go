package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	logx "stayconnect/pkg/logx"
)

// ConfigManager owns the live config: it loads the file, overlays the
// environment, and republishes validated edits to subscribers.
type ConfigManager struct {
	path   string
	lookup LookupFunc

	mu  sync.RWMutex
	cfg *Config

	// subsMu also guards against sending on a channel being closed by Unsubscribe.
	subsMu sync.Mutex
	subs   []chan *Config

	log       logx.Logger
	validator func(ctx context.Context, cfg *Config) error

	// lastHash skips redundant publishes when an editor writes the same content twice.
	lastHash uint64
}

func NewConfigManager(path string) *ConfigManager {
	return &ConfigManager{path: path, lookup: os.LookupEnv}
}

func (m *ConfigManager) Path() string { return m.path }

func (m *ConfigManager) SetLogger(log logx.Logger) { m.log = log }

// SetValidator installs a validation hook run by Watch before commit/publish.
func (m *ConfigManager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	m.validator = fn
}

// Parse reads the file and overlays the environment without committing.
func (m *ConfigManager) Parse() (*Config, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", m.path)
	}
	cfg, err := decode(m.path, b)
	if err != nil {
		return nil, err
	}
	if err := applyEnv(cfg, m.lookup); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, b []byte) (*Config, error) {
	jb, err := toJSON(path, b)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(jb)) == 0 {
		jb = []byte("{}")
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, errors.New("invalid config: trailing data")
		}
		return nil, errors.Wrap(err, "decode config")
	}
	return &cfg, nil
}

func (m *ConfigManager) Commit(cfg *Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.lastHash = hashConfig(cfg)
	m.mu.Unlock()
}

// Load parses, validates and commits the file.
func (m *ConfigManager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	m.Commit(cfg)
	return cfg, nil
}

func (m *ConfigManager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *ConfigManager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, buffer)
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

// Unsubscribe removes and closes ch.
func (m *ConfigManager) Unsubscribe(ch chan *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	if i := slices.Index(m.subs, ch); ch != nil && i >= 0 {
		m.subs = slices.Delete(m.subs, i, i+1)
		close(ch)
	}
}

// publish hands cfg to every subscriber. A full subscriber loses its oldest
// pending config so the newest always lands.
func (m *ConfigManager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		if !offerNewest(ch, cfg) {
			m.log.Debug("config update dropped (subscriber slow)", logx.Int("pending", len(ch)))
		}
	}
}

func offerNewest(ch chan *Config, cfg *Config) bool {
	for range 2 {
		select {
		case ch <- cfg:
			return true
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
	return false
}

// Reload parses the file and, when it changed and passes validation,
// commits and publishes it. It reports whether a new config was published.
func (m *ConfigManager) Reload(ctx context.Context) (bool, error) {
	cfg, err := m.Parse()
	if err != nil {
		return false, err
	}

	h := hashConfig(cfg)
	m.mu.RLock()
	unchanged := h != 0 && h == m.lastHash
	m.mu.RUnlock()
	if unchanged {
		m.log.Debug("config unchanged; skipping publish", logx.String("path", m.path))
		return false, nil
	}

	if err := Validate(cfg); err != nil {
		return false, errors.Wrap(err, "config rejected")
	}
	if m.validator != nil {
		vctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := m.validator(vctx, cfg)
		cancel()
		if err != nil {
			return false, errors.Wrap(err, "config rejected")
		}
	}

	m.Commit(cfg)
	m.publish(cfg)
	m.log.Debug("config published", logx.String("path", m.path), logx.String("hash", fmt.Sprintf("%x", h)))
	return true, nil
}
