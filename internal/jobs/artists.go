package jobs

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"stayconnect/internal/storage"
	"stayconnect/internal/task/scheduler"
	logx "stayconnect/pkg/logx"
)

// SyncOptions narrows one artist sync run.
type SyncOptions struct {
	ArtistID  string // only this artist (internal id)
	Force     bool   // ignore ArtistStaleAfter
	BatchSize int    // overrides Config.BatchSize
}

// ArtistSyncer refreshes follower counts and profile pictures from the catalog.
type ArtistSyncer struct {
	mu  sync.Mutex
	cfg Config

	cat   Catalog
	st    Store
	log   logx.Logger
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewArtistSyncer(cat Catalog, st Store, cfg Config, log logx.Logger) *ArtistSyncer {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &ArtistSyncer{
		cfg:   cfg.withDefaults(),
		cat:   cat,
		st:    st,
		log:   log.With(logx.Comp("jobs.artists")),
		now:   time.Now,
		sleep: sleepCtx,
	}
}

func (s *ArtistSyncer) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

func (s *ArtistSyncer) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Job is the queue definition syncing every stale artist.
func (s *ArtistSyncer) Job() scheduler.Job {
	return scheduler.Job{
		ID:       ArtistSyncID,
		Name:     ArtistSyncName,
		Schedule: ArtistSyncSchedule,
		Enabled:  true,
		Run: func(ctx context.Context) error {
			_, err := s.Run(ctx, SyncOptions{})
			return err
		},
	}
}

func (s *ArtistSyncer) Run(ctx context.Context, opt SyncOptions) (Stats, error) {
	cfg := s.config()
	batch := cfg.BatchSize
	if opt.BatchSize > 0 {
		batch = opt.BatchSize
	}

	artists, err := s.workList(ctx, opt, cfg)
	if err != nil {
		return Stats{}, err
	}
	if len(artists) == 0 {
		s.log.Info("no artists require syncing")
		return Stats{}, nil
	}
	batches := (len(artists) + batch - 1) / batch
	s.log.Info("artist sync started", logx.Int("artists", len(artists)), logx.Int("batches", batches), logx.Bool("force", opt.Force))

	var stats Stats
	p := newPacer(cfg.ArtistPacing)
	for i := 0; i < len(artists); i += batch {
		end := i + batch
		if end > len(artists) {
			end = len(artists)
		}
		s.log.Debug("artist batch", logx.Int("batch", i/batch+1), logx.Int("of", batches))

		for _, a := range artists[i:end] {
			if err := p.Wait(ctx); err != nil {
				return stats, errors.Wrap(err, "artist sync interrupted")
			}
			stats.Processed++
			if err := s.syncArtist(ctx, a); err != nil {
				if systemic(err) {
					s.log.Error("artist sync aborted", logx.String("artist", a.Name), logx.Err(err))
					return stats, errors.Wrapf(err, "artist sync aborted at artist %q", a.Name)
				}
				stats.Failed++
				s.log.Warn("artist sync failed for artist", logx.String("artist", a.Name), logx.String("artist_id", a.ID), logx.Err(err))
				continue
			}
			stats.Succeeded++
			stats.Updated++
		}

		if end < len(artists) {
			if err := s.sleep(ctx, cfg.BatchPause); err != nil {
				return stats, errors.Wrap(err, "artist sync interrupted")
			}
		}
	}

	s.log.Info("artist sync finished",
		logx.Int("processed", stats.Processed),
		logx.Int("updated", stats.Updated),
		logx.Int("errors", stats.Failed),
	)
	return stats, nil
}

func (s *ArtistSyncer) workList(ctx context.Context, opt SyncOptions, cfg Config) ([]storage.Artist, error) {
	if strings.TrimSpace(opt.ArtistID) != "" {
		a, err := s.st.GetArtist(ctx, opt.ArtistID)
		if err != nil {
			return nil, errors.Wrap(err, "load artist")
		}
		if a.CatalogID == "" {
			s.log.Warn("artist has no catalog id", logx.String("artist", a.Name))
			return nil, nil
		}
		return []storage.Artist{a}, nil
	}

	var (
		artists []storage.Artist
		err     error
	)
	if opt.Force {
		artists, err = s.st.ArtistsWithCatalogID(ctx)
	} else {
		artists, err = s.st.ArtistsDueForSync(ctx, s.now().Add(-cfg.ArtistStaleAfter))
	}
	if err != nil {
		return nil, errors.Wrap(err, "list artists to sync")
	}
	return artists, nil
}

func (s *ArtistSyncer) syncArtist(ctx context.Context, a storage.Artist) error {
	ca, err := s.cat.GetArtist(ctx, a.CatalogID)
	if err != nil {
		return err
	}
	picture := ""
	if len(ca.Images) > 0 {
		picture = ca.Images[0].URL
	}
	_, err = s.st.UpdateArtistCatalogData(ctx, a.ID, storage.ArtistCatalogUpdate{
		Followers:      ca.Followers.Total,
		ProfilePicture: picture,
		CheckedAt:      s.now(),
	})
	return err
}
