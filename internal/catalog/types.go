package catalog

import (
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

const (
	DefaultBaseURL = "https://api.spotify.com/v1"
	DefaultAuthURL = "https://accounts.spotify.com/api/token"

	DefaultTimeout          = 10 * time.Second
	DefaultRateLimitRetries = 3
	DefaultBackoff          = time.Second
	DefaultMaxBackoff       = 30 * time.Second
	DefaultRefreshMargin    = 60 * time.Second
)

var (
	ErrCredentialsMissing = errors.New("catalog credentials missing")
	ErrAuthFailed         = errors.New("catalog auth failed")
	ErrRateLimitExceeded  = errors.New("catalog rate limit exceeded")
	ErrNetwork            = errors.New("catalog network error")
)

// UpstreamError is a non-2xx, non-429 answer from the catalog API.
type UpstreamError struct {
	Endpoint string
	Status   int
	Body     string
}

func (e *UpstreamError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("catalog %s: status %d: %s", e.Endpoint, e.Status, body)
}

// Config controls the client. Zero values fall back to the defaults above.
type Config struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	AuthURL      string
	Timeout      time.Duration

	// RateLimitRetries caps retries after a 429 within one Request.
	RateLimitRetries int
	// Backoff is the first wait after a 429 without Retry-After; it doubles per retry up to MaxBackoff.
	Backoff    time.Duration
	MaxBackoff time.Duration
	// RefreshMargin renews the token this long before it expires.
	RefreshMargin time.Duration
}

func (c Config) withDefaults() Config {
	c.ClientID = strings.TrimSpace(c.ClientID)
	c.ClientSecret = strings.TrimSpace(c.ClientSecret)
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if strings.TrimSpace(c.AuthURL) == "" {
		c.AuthURL = DefaultAuthURL
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RateLimitRetries < 0 {
		c.RateLimitRetries = 0
	} else if c.RateLimitRetries == 0 {
		c.RateLimitRetries = DefaultRateLimitRetries
	}
	if c.Backoff <= 0 {
		c.Backoff = DefaultBackoff
	}
	if c.MaxBackoff < c.Backoff {
		c.MaxBackoff = DefaultMaxBackoff
		if c.MaxBackoff < c.Backoff {
			c.MaxBackoff = c.Backoff
		}
	}
	if c.RefreshMargin < 0 {
		c.RefreshMargin = 0
	} else if c.RefreshMargin == 0 {
		c.RefreshMargin = DefaultRefreshMargin
	}
	return c
}

// HasCredentials reports whether both client id and secret are set.
func (c Config) HasCredentials() bool {
	return strings.TrimSpace(c.ClientID) != "" && strings.TrimSpace(c.ClientSecret) != ""
}

// ---- API models ----

type Image struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

type Followers struct {
	Total int `json:"total"`
}

type ExternalURLs struct {
	Spotify string `json:"spotify"`
}

type Artist struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Genres       []string     `json:"genres"`
	Images       []Image      `json:"images"`
	Followers    Followers    `json:"followers"`
	Popularity   int          `json:"popularity"`
	ExternalURLs ExternalURLs `json:"external_urls"`
}

type SimpleArtist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Track struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DurationMS  int    `json:"duration_ms"`
	PreviewURL  string `json:"preview_url"`
	TrackNumber int    `json:"track_number"`
}

type Album struct {
	ID                   string         `json:"id"`
	Name                 string         `json:"name"`
	AlbumType            string         `json:"album_type"`
	ReleaseDate          string         `json:"release_date"`
	ReleaseDatePrecision string         `json:"release_date_precision"`
	TotalTracks          int            `json:"total_tracks"`
	Images               []Image        `json:"images"`
	Artists              []SimpleArtist `json:"artists"`
	ExternalURLs         ExternalURLs   `json:"external_urls"`
	Tracks               *Paging[Track] `json:"tracks,omitempty"`
}

// Released parses ReleaseDate according to its precision ("day", "month" or "year").
func (a Album) Released() (time.Time, error) {
	layouts := []string{"2006-01-02", "2006-01", "2006"}
	switch a.ReleaseDatePrecision {
	case "month":
		layouts = []string{"2006-01"}
	case "year":
		layouts = []string{"2006"}
	}
	for _, l := range layouts {
		if t, err := time.Parse(l, a.ReleaseDate); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.Newf("album %s: bad release date %q", a.ID, a.ReleaseDate)
}

// Cover returns the first image URL, if any.
func (a Album) Cover() string {
	if len(a.Images) == 0 {
		return ""
	}
	return a.Images[0].URL
}

type Paging[T any] struct {
	Items  []T    `json:"items"`
	Total  int    `json:"total"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
	Next   string `json:"next"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}
