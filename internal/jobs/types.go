package jobs

import (
	"context"
	"fmt"
	"time"

	"stayconnect/internal/catalog"
	"stayconnect/internal/storage"
)

const (
	ReleaseCheckID       = "spotify-check-releases"
	ReleaseCheckName     = "Spotify release check"
	ReleaseCheckSchedule = "0 */6 * * *"

	ArtistSyncID       = "spotify-sync-artists"
	ArtistSyncName     = "Spotify artist sync"
	ArtistSyncSchedule = "0 2 * * *"
)

const (
	DefaultPacing           = 100 * time.Millisecond
	DefaultArtistPacing     = 200 * time.Millisecond
	DefaultBatchSize        = 10
	DefaultBatchPause       = 2 * time.Second
	DefaultReleaseWindow    = 96 * time.Hour
	DefaultArtistStaleAfter = 24 * time.Hour
)

// Config tunes pacing and work-list selection. Zero values use the defaults above.
type Config struct {
	Pacing           time.Duration // between artists in the release check
	ArtistPacing     time.Duration // between artists in the artist sync
	BatchSize        int
	BatchPause       time.Duration
	ReleaseWindow    time.Duration // only albums released this recently are imported
	ArtistStaleAfter time.Duration // artists checked more recently are skipped unless forced
}

func (c Config) withDefaults() Config {
	if c.Pacing < 0 {
		c.Pacing = 0
	} else if c.Pacing == 0 {
		c.Pacing = DefaultPacing
	}
	if c.ArtistPacing < 0 {
		c.ArtistPacing = 0
	} else if c.ArtistPacing == 0 {
		c.ArtistPacing = DefaultArtistPacing
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BatchPause < 0 {
		c.BatchPause = 0
	} else if c.BatchPause == 0 {
		c.BatchPause = DefaultBatchPause
	}
	if c.ReleaseWindow <= 0 {
		c.ReleaseWindow = DefaultReleaseWindow
	}
	if c.ArtistStaleAfter <= 0 {
		c.ArtistStaleAfter = DefaultArtistStaleAfter
	}
	return c
}

// Catalog is the part of the catalog client the jobs need.
type Catalog interface {
	GetArtist(ctx context.Context, id string) (catalog.Artist, error)
	GetArtistAlbums(ctx context.Context, id string, opt catalog.AlbumsOptions) (catalog.Paging[catalog.Album], error)
	GetAlbum(ctx context.Context, id string) (catalog.Album, error)
}

// Store is the part of the record store the jobs need.
type Store interface {
	GetArtist(ctx context.Context, id string) (storage.Artist, error)
	ArtistsWithCatalogID(ctx context.Context) ([]storage.Artist, error)
	ArtistsDueForSync(ctx context.Context, before time.Time) ([]storage.Artist, error)
	UpdateArtistCatalogData(ctx context.Context, id string, u storage.ArtistCatalogUpdate) (storage.Artist, error)
	ReleaseByCatalogID(ctx context.Context, catalogID string) (storage.Release, error)
	CreateRelease(ctx context.Context, r storage.Release) (storage.Release, error)
}

// Stats summarizes one job run.
type Stats struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
}

func (s Stats) String() string {
	return fmt.Sprintf("processed=%d succeeded=%d failed=%d created=%d updated=%d",
		s.Processed, s.Succeeded, s.Failed, s.Created, s.Updated)
}
