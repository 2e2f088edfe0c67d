package jobs

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"stayconnect/internal/catalog"
	"stayconnect/internal/storage"
	"stayconnect/internal/task/scheduler"
	logx "stayconnect/pkg/logx"
)

// ReleaseOptions narrows one release check run.
type ReleaseOptions struct {
	ArtistID string        // only this artist (internal id)
	Window   time.Duration // overrides Config.ReleaseWindow
}

// ReleaseChecker imports albums and singles the catalog lists for known
// artists that were released within the window and are not stored yet.
type ReleaseChecker struct {
	mu  sync.Mutex
	cfg Config

	cat Catalog
	st  Store
	log logx.Logger
	now func() time.Time
}

func NewReleaseChecker(cat Catalog, st Store, cfg Config, log logx.Logger) *ReleaseChecker {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &ReleaseChecker{
		cfg: cfg.withDefaults(),
		cat: cat,
		st:  st,
		log: log.With(logx.Comp("jobs.releases")),
		now: time.Now,
	}
}

func (c *ReleaseChecker) Apply(cfg Config) {
	c.mu.Lock()
	c.cfg = cfg.withDefaults()
	c.mu.Unlock()
}

func (c *ReleaseChecker) config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// Job is the queue definition running a full check.
func (c *ReleaseChecker) Job() scheduler.Job {
	return scheduler.Job{
		ID:       ReleaseCheckID,
		Name:     ReleaseCheckName,
		Schedule: ReleaseCheckSchedule,
		Enabled:  true,
		Run: func(ctx context.Context) error {
			_, err := c.Run(ctx, ReleaseOptions{})
			return err
		},
	}
}

func (c *ReleaseChecker) Run(ctx context.Context, opt ReleaseOptions) (Stats, error) {
	cfg := c.config()
	window := cfg.ReleaseWindow
	if opt.Window > 0 {
		window = opt.Window
	}
	cutoff := c.now().Add(-window)

	artists, err := c.workList(ctx, opt.ArtistID)
	if err != nil {
		return Stats{}, err
	}
	c.log.Info("release check started", logx.Int("artists", len(artists)), logx.Duration("window", window))

	var stats Stats
	p := newPacer(cfg.Pacing)
	for _, a := range artists {
		if err := p.Wait(ctx); err != nil {
			return stats, errors.Wrap(err, "release check interrupted")
		}
		stats.Processed++
		created, err := c.checkArtist(ctx, a, cutoff)
		stats.Created += created
		if err != nil {
			if systemic(err) {
				c.log.Error("release check aborted", logx.String("artist", a.Name), logx.Err(err))
				return stats, errors.Wrapf(err, "release check aborted at artist %q", a.Name)
			}
			stats.Failed++
			c.log.Warn("release check failed for artist", logx.String("artist", a.Name), logx.String("artist_id", a.ID), logx.Err(err))
			continue
		}
		stats.Succeeded++
	}

	c.log.Info("release check finished",
		logx.Int("processed", stats.Processed),
		logx.Int("new", stats.Created),
		logx.Int("errors", stats.Failed),
	)
	return stats, nil
}

func (c *ReleaseChecker) workList(ctx context.Context, artistID string) ([]storage.Artist, error) {
	if strings.TrimSpace(artistID) == "" {
		artists, err := c.st.ArtistsWithCatalogID(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "list artists with catalog id")
		}
		return artists, nil
	}
	a, err := c.st.GetArtist(ctx, artistID)
	if err != nil {
		return nil, errors.Wrap(err, "load artist")
	}
	if a.CatalogID == "" {
		c.log.Warn("artist has no catalog id", logx.String("artist", a.Name))
		return nil, nil
	}
	return []storage.Artist{a}, nil
}

// checkArtist returns how many releases it created.
func (c *ReleaseChecker) checkArtist(ctx context.Context, a storage.Artist, cutoff time.Time) (int, error) {
	page, err := c.cat.GetArtistAlbums(ctx, a.CatalogID, catalog.AlbumsOptions{
		IncludeGroups: []string{"album", "single"},
		Limit:         50,
	})
	if err != nil {
		return 0, err
	}

	created := 0
	for _, al := range page.Items {
		released, err := al.Released()
		if err != nil {
			c.log.Debug("album skipped", logx.String("album_id", al.ID), logx.Err(err))
			continue
		}
		if released.Before(cutoff) {
			continue
		}
		if _, err := c.st.ReleaseByCatalogID(ctx, al.ID); err == nil {
			continue
		} else if !errors.Is(err, storage.ErrNotFound) {
			return created, err
		}

		full, err := c.cat.GetAlbum(ctx, al.ID)
		if err != nil {
			return created, err
		}
		if _, err := c.st.CreateRelease(ctx, releaseFromAlbum(a, full, released)); err != nil {
			if errors.Is(err, storage.ErrConflict) {
				continue
			}
			return created, err
		}
		created++
		c.log.Info("release created", logx.String("title", full.Name), logx.String("artist", a.Name))
	}
	return created, nil
}

func releaseFromAlbum(a storage.Artist, al catalog.Album, released time.Time) storage.Release {
	if full, err := al.Released(); err == nil {
		released = full
	}
	return storage.Release{
		ArtistID:    a.ID,
		CatalogID:   al.ID,
		Title:       al.Name,
		Type:        al.AlbumType,
		Description: capitalize(al.AlbumType) + " by " + a.Name,
		ReleaseDate: released,
		URL:         "https://open.spotify.com/album/" + al.ID,
		CoverURL:    al.Cover(),
		Automated:   true,
		Secret:      false,
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
