package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	logx "stayconnect/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

var _ Store = (*sqliteStore)(nil)

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// sqliteDSN applies the pragmas on every pooled connection. modernc reads
// them from repeated _pragma parameters.
func sqliteDSN(path string, busy time.Duration) string {
	q := url.Values{}
	for _, p := range []string{
		fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()),
		"journal_mode(WAL)",
		"synchronous(NORMAL)",
		"foreign_keys(ON)",
	} {
		q.Add("_pragma", p)
	}
	return "file:" + path + "?" + q.Encode()
}

func openSQLite(cfg Config, log logx.Logger) (*sqliteStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, errors.Wrapf(err, "sqlite: create directory for %s", path)
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}

	db, err := sql.Open("sqlite", sqliteDSN(path, busy))
	if err != nil {
		return nil, errors.Wrap(err, "sqlite: open")
	}
	// one writer; readers queue behind it instead of hitting SQLITE_BUSY
	db.SetMaxOpenConns(1)

	st := &sqliteStore{db: db, log: log}
	if _, err := db.ExecContext(context.Background(), schemaSQL); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "sqlite: apply schema")
	}
	if n, err := st.sweepDedup(context.Background(), db); err == nil && n > 0 {
		log.Debug("expired dedup marks removed", logx.Int64("rows", n))
	}
	log.Debug("sqlite store opened", logx.String("path", path), logx.Duration("busy_timeout", busy))
	return st, nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

// ---- artists ----

const artistCols = `id, name, catalog_id, profile_picture, followers, followers_updated_at, last_catalog_check, created_at, updated_at`

func (s *sqliteStore) CreateArtist(ctx context.Context, a Artist) (Artist, error) {
	a.Name = strings.TrimSpace(a.Name)
	a.CatalogID = strings.TrimSpace(a.CatalogID)
	if a.Name == "" {
		return Artist{}, errors.New("artist name is required")
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := time.Now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = a.CreatedAt

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO artists(`+artistCols+`) VALUES(?,?,?,?,?,?,?,?,?)`,
		a.ID, a.Name, nullStr(a.CatalogID), nullStr(a.ProfilePicture), a.Followers,
		nullTime(a.FollowersUpdatedAt), nullTime(a.LastCatalogCheck),
		a.CreatedAt.UnixMilli(), a.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return Artist{}, errors.Wrapf(ErrConflict, "artist with catalog id %q", a.CatalogID)
		}
		return Artist{}, errors.Wrap(err, "insert artist")
	}
	return a, nil
}

func (s *sqliteStore) GetArtist(ctx context.Context, id string) (Artist, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+artistCols+` FROM artists WHERE id = ?`, id)
	a, err := scanArtist(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Artist{}, errors.Wrapf(ErrNotFound, "artist %q", id)
	}
	return a, err
}

func (s *sqliteStore) ListArtists(ctx context.Context) ([]Artist, error) {
	return s.queryArtists(ctx, `SELECT `+artistCols+` FROM artists ORDER BY name COLLATE NOCASE`)
}

func (s *sqliteStore) ArtistsWithCatalogID(ctx context.Context) ([]Artist, error) {
	return s.queryArtists(ctx, `SELECT `+artistCols+` FROM artists
		WHERE catalog_id IS NOT NULL AND catalog_id <> '' ORDER BY name COLLATE NOCASE`)
}

func (s *sqliteStore) ArtistsDueForSync(ctx context.Context, before time.Time) ([]Artist, error) {
	return s.queryArtists(ctx, `SELECT `+artistCols+` FROM artists
		WHERE catalog_id IS NOT NULL AND catalog_id <> ''
		  AND (last_catalog_check IS NULL OR last_catalog_check < ?)
		ORDER BY COALESCE(last_catalog_check, 0), name COLLATE NOCASE`, before.UnixMilli())
}

func (s *sqliteStore) UpdateArtistCatalogData(ctx context.Context, id string, u ArtistCatalogUpdate) (Artist, error) {
	at := u.CheckedAt
	if at.IsZero() {
		at = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE artists SET
		   followers = ?,
		   followers_updated_at = ?,
		   profile_picture = CASE WHEN profile_picture IS NULL OR profile_picture = '' THEN ? ELSE profile_picture END,
		   last_catalog_check = ?,
		   updated_at = ?
		 WHERE id = ?`,
		u.Followers, at.UnixMilli(), nullStr(u.ProfilePicture), at.UnixMilli(), at.UnixMilli(), id,
	)
	if err != nil {
		return Artist{}, errors.Wrap(err, "update artist")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Artist{}, errors.Wrapf(ErrNotFound, "artist %q", id)
	}
	return s.GetArtist(ctx, id)
}

func (s *sqliteStore) queryArtists(ctx context.Context, q string, args ...any) ([]Artist, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query artists")
	}
	defer func() { _ = rows.Close() }()

	var out []Artist
	for rows.Next() {
		a, err := scanArtist(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanArtist(sc scanner) (Artist, error) {
	var (
		a                      Artist
		catalogID, picture     sql.NullString
		followersAt, lastCheck sql.NullInt64
		created, updated       int64
	)
	if err := sc.Scan(&a.ID, &a.Name, &catalogID, &picture, &a.Followers, &followersAt, &lastCheck, &created, &updated); err != nil {
		return Artist{}, err
	}
	a.CatalogID = catalogID.String
	a.ProfilePicture = picture.String
	a.FollowersUpdatedAt = fromMillis(followersAt)
	a.LastCatalogCheck = fromMillis(lastCheck)
	a.CreatedAt = time.UnixMilli(created)
	a.UpdatedAt = time.UnixMilli(updated)
	return a, nil
}

// ---- releases ----

const releaseCols = `id, artist_id, catalog_id, title, type, description, release_date, url, cover_url, automated, secret, created_at`

func (s *sqliteStore) ReleaseByCatalogID(ctx context.Context, catalogID string) (Release, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+releaseCols+` FROM releases WHERE catalog_id = ?`, catalogID)
	r, err := scanRelease(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Release{}, errors.Wrapf(ErrNotFound, "release %q", catalogID)
	}
	return r, err
}

func (s *sqliteStore) CreateRelease(ctx context.Context, r Release) (Release, error) {
	if strings.TrimSpace(r.ArtistID) == "" || strings.TrimSpace(r.Title) == "" {
		return Release{}, errors.New("release artist and title are required")
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO releases(`+releaseCols+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.ArtistID, nullStr(r.CatalogID), r.Title, r.Type, nullStr(r.Description),
		r.ReleaseDate.UnixMilli(), nullStr(r.URL), nullStr(r.CoverURL),
		boolInt(r.Automated), boolInt(r.Secret), r.CreatedAt.UnixMilli(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return Release{}, errors.Wrapf(ErrConflict, "release with catalog id %q", r.CatalogID)
		}
		return Release{}, errors.Wrap(err, "insert release")
	}
	return r, nil
}

func (s *sqliteStore) ListReleasesByArtist(ctx context.Context, artistID string) ([]Release, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+releaseCols+` FROM releases WHERE artist_id = ? ORDER BY release_date DESC, title`, artistID)
	if err != nil {
		return nil, errors.Wrap(err, "query releases")
	}
	defer func() { _ = rows.Close() }()

	var out []Release
	for rows.Next() {
		r, err := scanRelease(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRelease(sc scanner) (Release, error) {
	var (
		r                           Release
		catalogID, desc, url, cover sql.NullString
		date, created               int64
		automated, secret           int
	)
	if err := sc.Scan(&r.ID, &r.ArtistID, &catalogID, &r.Title, &r.Type, &desc, &date, &url, &cover, &automated, &secret, &created); err != nil {
		return Release{}, err
	}
	r.CatalogID = catalogID.String
	r.Description = desc.String
	r.URL = url.String
	r.CoverURL = cover.String
	r.ReleaseDate = time.UnixMilli(date).UTC()
	r.Automated = automated != 0
	r.Secret = secret != 0
	r.CreatedAt = time.UnixMilli(created)
	return r, nil
}

// ---- job runs ----

func (s *sqliteStore) AppendJobRun(ctx context.Context, r JobRun) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_runs(id, job_id, trigger_by, started_at, duration_ms, retry_count, err) VALUES(?,?,?,?,?,?,?)`,
		r.ID, r.JobID, r.Trigger, r.StartedAt.UnixMilli(), r.Duration.Milliseconds(), r.RetryCount, nullStr(r.Error),
	)
	return errors.Wrap(err, "insert job run")
}

// RecentJobRuns returns the newest runs first. An empty jobID means all jobs.
func (s *sqliteStore) RecentJobRuns(ctx context.Context, jobID string, limit int) ([]JobRun, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT id, job_id, trigger_by, started_at, duration_ms, retry_count, err FROM job_runs`
	args := []any{}
	if jobID != "" {
		q += ` WHERE job_id = ?`
		args = append(args, jobID)
	}
	q += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query job runs")
	}
	defer func() { _ = rows.Close() }()

	var out []JobRun
	for rows.Next() {
		var (
			r            JobRun
			started, dur int64
			msg          sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.JobID, &r.Trigger, &started, &dur, &r.RetryCount, &msg); err != nil {
			return nil, err
		}
		r.StartedAt = time.UnixMilli(started)
		r.Duration = time.Duration(dur) * time.Millisecond
		r.Error = msg.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// ---- helpers ----

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func fromMillis(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.UnixMilli(v.Int64)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
