package config

// Config is the daemon configuration file (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m"). Omitted
// or zero values fall back to the component defaults.
type Config struct {
	Logging LoggingConfig `json:"logging"`
	Queue   QueueConfig   `json:"queue"`
	Catalog CatalogConfig `json:"catalog"`
	Sync    SyncConfig    `json:"sync"`
	Storage StorageConfig `json:"storage"`
	Control ControlConfig `json:"control"`
	Notify  NotifyConfig  `json:"notify"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// QueueConfig controls the job queue. QUEUE_ENABLED overrides Enabled.
//
// Defaults: tick "60s", retry_delay "5m", retry_max 3, history_size 200.
type QueueConfig struct {
	Enabled     bool   `json:"enabled"`
	Tick        string `json:"tick,omitempty"`
	RetryDelay  string `json:"retry_delay,omitempty"`
	RetryMax    int    `json:"retry_max,omitempty"`
	HistorySize int    `json:"history_size,omitempty"`
	// Timezone is the IANA zone used to compute schedules. Empty means local.
	Timezone string `json:"timezone,omitempty"`

	// Jobs holds per-job overrides keyed by job id.
	Jobs map[string]JobOverride `json:"jobs,omitempty"`
}

// JobOverride changes a built-in job definition. Enabled is a pointer so an
// omitted key keeps the built-in default.
type JobOverride struct {
	Enabled    *bool  `json:"enabled,omitempty"`
	Schedule   string `json:"schedule,omitempty"`
	MaxRetries int    `json:"max_retries,omitempty"`
}

// CatalogConfig configures the Spotify Web API client.
// SPOTIFY_CLIENT_ID and SPOTIFY_CLIENT_SECRET override the credentials.
type CatalogConfig struct {
	ClientID         string `json:"client_id,omitempty"`
	ClientSecret     string `json:"client_secret,omitempty"` // do not log
	BaseURL          string `json:"base_url,omitempty"`
	AuthURL          string `json:"auth_url,omitempty"`
	Timeout          string `json:"timeout,omitempty"`
	RateLimitRetries int    `json:"rate_limit_retries,omitempty"`
	Backoff          string `json:"backoff,omitempty"`
	MaxBackoff       string `json:"max_backoff,omitempty"`
	RefreshMargin    string `json:"refresh_margin,omitempty"`
}

// SyncConfig tunes the release check and artist sync jobs.
type SyncConfig struct {
	Pacing           string `json:"pacing,omitempty"`
	ArtistPacing     string `json:"artist_pacing,omitempty"`
	BatchSize        int    `json:"batch_size,omitempty"`
	BatchPause       string `json:"batch_pause,omitempty"`
	ReleaseWindow    string `json:"release_window,omitempty"`
	ArtistStaleAfter string `json:"artist_stale_after,omitempty"`
}

// StorageConfig controls the record store. STAYCONNECT_DB_PATH overrides Path.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./stayconnect.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// ControlConfig controls the HTTP control API. CRON_API_KEY overrides Token.
//
// Security note:
//   - Prefer binding to localhost (the default "127.0.0.1:3334").
//   - A non-loopback address needs a token or an explicit allow_insecure.
type ControlConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"` // do not log
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	// Pprof mounts the runtime profiles under /debug/pprof/, behind the token.
	Pprof bool `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `json:"telegram"`

	RetryMax     int    `json:"retry_max,omitempty"`
	DedupWindow  string `json:"dedup_window,omitempty"`
	PersistDedup bool   `json:"persist_dedup,omitempty"`
}

// TelegramConfig addresses the chat that receives job alerts.
type TelegramConfig struct {
	Enabled        bool   `json:"enabled"`
	Token          string `json:"token,omitempty"` // do not log
	ChatID         int64  `json:"chat_id,omitempty"`
	ThreadID       int    `json:"thread_id,omitempty"`
	RatePerMin     int    `json:"rate_per_min,omitempty"`
	DisablePreview bool   `json:"disable_preview,omitempty"`
	Timeout        string `json:"timeout,omitempty"`
}
