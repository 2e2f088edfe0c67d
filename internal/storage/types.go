package storage

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Store is the record store used by the sync jobs, the app and the CLI.
type Store interface {
	CreateArtist(ctx context.Context, a Artist) (Artist, error)
	GetArtist(ctx context.Context, id string) (Artist, error)
	ListArtists(ctx context.Context) ([]Artist, error)
	ArtistsWithCatalogID(ctx context.Context) ([]Artist, error)
	// ArtistsDueForSync returns artists with a catalog id whose last catalog
	// check is missing or older than before.
	ArtistsDueForSync(ctx context.Context, before time.Time) ([]Artist, error)
	UpdateArtistCatalogData(ctx context.Context, id string, u ArtistCatalogUpdate) (Artist, error)

	ReleaseByCatalogID(ctx context.Context, catalogID string) (Release, error)
	CreateRelease(ctx context.Context, r Release) (Release, error)
	ListReleasesByArtist(ctx context.Context, artistID string) ([]Release, error)

	AppendJobRun(ctx context.Context, r JobRun) error
	RecentJobRuns(ctx context.Context, jobID string, limit int) ([]JobRun, error)

	AppendAudit(ctx context.Context, e AuditEntry) error
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	Close() error
}

type Artist struct {
	ID                 string
	Name               string
	CatalogID          string
	ProfilePicture     string
	Followers          int
	FollowersUpdatedAt time.Time
	LastCatalogCheck   time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ArtistCatalogUpdate is what a catalog sync writes back. ProfilePicture is
// only stored when the artist has none yet.
type ArtistCatalogUpdate struct {
	Followers      int
	ProfilePicture string
	CheckedAt      time.Time
}

type Release struct {
	ID          string
	ArtistID    string
	CatalogID   string
	Title       string
	Type        string
	Description string
	ReleaseDate time.Time
	URL         string
	CoverURL    string
	Automated   bool
	Secret      bool
	CreatedAt   time.Time
}

// JobRun is one finished job execution.
type JobRun struct {
	ID         string
	JobID      string
	Trigger    string
	StartedAt  time.Time
	Duration   time.Duration
	RetryCount int
	Error      string
}

// AuditEntry records an operator action taken through the control surface.
type AuditEntry struct {
	At     time.Time
	Actor  string
	Action string
	Target string
	OK     bool
	Error  string
}
