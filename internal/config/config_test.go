package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func noEnv(string) (string, bool) { return "", false }

func envMap(m map[string]string) LookupFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

const sampleYAML = `
logging:
  level: debug
  console: true
queue:
  enabled: true
  tick: 30s
  retry_max: 5
  timezone: Europe/Paris
  jobs:
    spotify-sync-artists:
      enabled: false
      schedule: "0 3 * * *"
catalog:
  client_id: file-id
  client_secret: file-secret
storage:
  driver: sqlite
  path: ./stayconnect.db
notify:
  telegram:
    enabled: true
    token: "123:abc"
    chat_id: -1001
    thread_id: 4
`

func TestLoadYAML(t *testing.T) {
	m := NewConfigManager(writeFile(t, "config.yaml", sampleYAML))
	m.lookup = noEnv

	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Queue.Enabled)
	assert.Equal(t, "30s", cfg.Queue.Tick)
	assert.Equal(t, 5, cfg.Queue.RetryMax)
	require.Contains(t, cfg.Queue.Jobs, "spotify-sync-artists")
	o := cfg.Queue.Jobs["spotify-sync-artists"]
	require.NotNil(t, o.Enabled)
	assert.False(t, *o.Enabled)
	assert.Equal(t, "0 3 * * *", o.Schedule)
	assert.Equal(t, int64(-1001), cfg.Notify.Telegram.ChatID)
	assert.Same(t, cfg, m.Get())
}

func TestLoadJSONStrict(t *testing.T) {
	t.Run("unknown field", func(t *testing.T) {
		m := NewConfigManager(writeFile(t, "config.json", `{"queue":{"enabled":true,"workers":2}}`))
		m.lookup = noEnv
		_, err := m.Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "workers")
	})
	t.Run("unknown job override key", func(t *testing.T) {
		m := NewConfigManager(writeFile(t, "config.yaml", "queue:\n  jobs:\n    x:\n      timeout: 5s\n"))
		m.lookup = noEnv
		_, err := m.Load()
		assert.Error(t, err)
	})
	t.Run("trailing data", func(t *testing.T) {
		m := NewConfigManager(writeFile(t, "config.json", `{} {}`))
		m.lookup = noEnv
		_, err := m.Load()
		assert.Error(t, err)
	})
	t.Run("empty yaml", func(t *testing.T) {
		m := NewConfigManager(writeFile(t, "config.yml", "# nothing yet\n"))
		m.lookup = noEnv
		cfg, err := m.Load()
		require.NoError(t, err)
		assert.False(t, cfg.Queue.Enabled)
	})
	t.Run("missing file", func(t *testing.T) {
		m := NewConfigManager(filepath.Join(t.TempDir(), "nope.json"))
		_, err := m.Load()
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestEnvironmentWins(t *testing.T) {
	m := NewConfigManager(writeFile(t, "config.yaml", sampleYAML))
	m.lookup = envMap(map[string]string{
		EnvClientID:     "env-id",
		EnvClientSecret: "env-secret",
		EnvQueueEnabled: "false",
		EnvControlToken: "s3cret",
		EnvDBPath:       "/var/lib/stayconnect/db.sqlite",
	})

	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, "env-id", cfg.Catalog.ClientID)
	assert.Equal(t, "env-secret", cfg.Catalog.ClientSecret)
	assert.False(t, cfg.Queue.Enabled)
	assert.Equal(t, "s3cret", cfg.Control.Token)
	assert.Equal(t, "/var/lib/stayconnect/db.sqlite", cfg.Storage.Path)
}

func TestEnvironmentEdgeCases(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, applyEnv(cfg, envMap(map[string]string{EnvDBPath: "x.db", EnvClientID: "  "})))
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Empty(t, cfg.Catalog.ClientID)

	err := applyEnv(&Config{}, envMap(map[string]string{EnvQueueEnabled: "maybe"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), EnvQueueEnabled)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*Config)
		want string
	}{
		{"ok", func(*Config) {}, ""},
		{"bad duration", func(c *Config) { c.Queue.Tick = "soon" }, "queue.tick"},
		{"negative duration", func(c *Config) { c.Sync.Pacing = "-1s" }, "sync.pacing"},
		{"bad timezone", func(c *Config) { c.Queue.Timezone = "Mars/Olympus" }, "queue.timezone"},
		{"sqlite without path", func(c *Config) { c.Storage.Path = "" }, "storage.path"},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "postgres" }, "storage.driver"},
		{"telegram without chat", func(c *Config) { c.Notify.Telegram.ChatID = 0 }, "chat_id"},
		{"negative job retries", func(c *Config) {
			c.Queue.Jobs = map[string]JobOverride{"j": {MaxRetries: -1}}
		}, "queue.jobs.j"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := NewConfigManager(writeFile(t, "config.yaml", sampleYAML))
			m.lookup = noEnv
			cfg, err := m.Parse()
			require.NoError(t, err)
			tc.mut(cfg)
			err = Validate(cfg)
			if tc.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestParseDuration(t *testing.T) {
	d, err := ParseDurationOrDefault("x", "", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, d)

	d, err = ParseDurationOrDefault("x", " 250ms ", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d)

	_, err = ParseDurationField("x.y", "1 hour")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "x.y")
}

func TestReloadPublishesOnlyChanges(t *testing.T) {
	path := writeFile(t, "config.yaml", sampleYAML)
	m := NewConfigManager(path)
	m.lookup = noEnv
	_, err := m.Load()
	require.NoError(t, err)

	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	published, err := m.Reload(context.Background())
	require.NoError(t, err)
	assert.False(t, published)

	require.NoError(t, os.WriteFile(path, []byte(strings.Replace(sampleYAML, "tick: 30s", "tick: 45s", 1)), 0o600))
	published, err = m.Reload(context.Background())
	require.NoError(t, err)
	assert.True(t, published)
	got := <-sub
	assert.Equal(t, "45s", got.Queue.Tick)

	// A rejected edit keeps the previous config.
	m.SetValidator(func(context.Context, *Config) error { return assert.AnError })
	require.NoError(t, os.WriteFile(path, []byte(strings.Replace(sampleYAML, "tick: 30s", "tick: 50s", 1)), 0o600))
	_, err = m.Reload(context.Background())
	require.Error(t, err)
	assert.Equal(t, "45s", m.Get().Queue.Tick)
}

func TestPublishKeepsNewest(t *testing.T) {
	m := NewConfigManager("unused.json")
	sub := m.Subscribe(1)
	a, b := &Config{}, &Config{}
	m.publish(a)
	m.publish(b)
	assert.Same(t, b, <-sub)

	m.Unsubscribe(sub)
	_, ok := <-sub
	assert.False(t, ok)
	m.publish(a)
}

func TestWatchPicksUpEdits(t *testing.T) {
	if testing.Short() {
		t.Skip("uses the real file watcher")
	}
	path := writeFile(t, "config.yaml", sampleYAML)
	m := NewConfigManager(path)
	m.lookup = noEnv
	_, err := m.Load()
	require.NoError(t, err)
	sub := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	edited := strings.Replace(sampleYAML, "retry_max: 5", "retry_max: 7", 1)
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(300 * time.Millisecond)
	defer tick.Stop()
	for {
		// rewrite until the watcher is up and sees it
		require.NoError(t, os.WriteFile(path, []byte(edited), 0o600))
		select {
		case got := <-sub:
			assert.Equal(t, 7, got.Queue.RetryMax)
			return
		case <-tick.C:
		case <-deadline:
			t.Fatal("no reload published")
		}
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	off := false
	oldCfg := &Config{
		Queue:   QueueConfig{Enabled: true, Tick: "60s"},
		Control: ControlConfig{Enabled: true, Token: "a"},
	}
	newCfg := &Config{
		Queue: QueueConfig{Enabled: true, Tick: "60s", Jobs: map[string]JobOverride{
			"spotify-check-releases": {Enabled: &off},
		}},
		Control: ControlConfig{Enabled: true, Token: "b"},
		Catalog: CatalogConfig{ClientSecret: "new"},
	}

	sections, attrs, jobs := SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"queue.jobs", "catalog", "control"}, sections)
	assert.NotEmpty(t, attrs)
	assert.Equal(t, []string{"spotify-check-releases"}, jobs)

	sections, _, jobs = SummarizeConfigChange(newCfg, newCfg)
	assert.Empty(t, sections)
	assert.Empty(t, jobs)

	sections, _, _ = SummarizeConfigChange(nil, &Config{Logging: LoggingConfig{Level: "debug"}})
	assert.Equal(t, []string{"logging"}, sections)
}
