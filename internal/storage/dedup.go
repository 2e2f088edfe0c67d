package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// PutDedup stores a suppress-until mark. Expired marks are swept in the same
// transaction, so the table stays as small as the live dedup window.
func (s *sqliteStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin dedup")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := s.sweepDedup(ctx, tx); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO dedup(key, until) VALUES(?, ?)
		 ON CONFLICT(key) DO UPDATE SET until = excluded.until`,
		key, until.UnixMilli(),
	); err != nil {
		return errors.Wrap(err, "upsert dedup")
	}
	return errors.Wrap(tx.Commit(), "commit dedup")
}

// GetDedup reports a live mark for key; expired marks read as absent.
func (s *sqliteStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx,
		`SELECT until FROM dedup WHERE key = ? AND until > ?`, key, time.Now().UnixMilli(),
	).Scan(&ms)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return time.Time{}, false, nil
	case err != nil:
		return time.Time{}, false, errors.Wrap(err, "select dedup")
	}
	return time.UnixMilli(ms), true, nil
}

func (s *sqliteStore) sweepDedup(ctx context.Context, ex execer) (int64, error) {
	res, err := ex.ExecContext(ctx, `DELETE FROM dedup WHERE until <= ?`, time.Now().UnixMilli())
	if err != nil {
		return 0, errors.Wrap(err, "sweep dedup")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// AppendAudit records one operator action.
func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor, action, target, ok, err) VALUES(?, ?, ?, ?, ?, ?)`,
		e.At.UnixMilli(), nullStr(e.Actor), e.Action, nullStr(e.Target), boolInt(e.OK), nullStr(e.Error),
	)
	return errors.Wrap(err, "insert audit")
}
