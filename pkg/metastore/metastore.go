// Package metastore persists the versioned binding of (user, cid, key
// material) tuples in Postgres.
//
// Version rows are append-only and immutable: an update is always a new row
// with the next version number. Uniqueness of (user_id, version) is enforced
// by the schema; the append operation recomputes and retries on a conflict,
// so concurrent stores for the same user serialize on the insert rather than
// on any in-process lock.
package metastore

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// uniqueViolation is the Postgres error code for a unique constraint hit.
const uniqueViolation = "23505"

// appendAttempts bounds the recompute-and-retry loop in AppendVersion.
const appendAttempts = 3

// ErrVersionConflict is returned when AppendVersion loses the version race
// repeatedly and runs out of attempts.
var ErrVersionConflict = errors.New("metastore: version conflict")

// Version is one immutable row of a user's recoverable history.
type Version struct {
	ID          int64
	UserID      int64
	CID         string
	KeyMaterial KeyMaterial
	Version     int
	CreatedAt   time.Time
}

// Config configures a Store.
type Config struct {
	// DSN is the Postgres connection string.
	DSN string
	// Logger is an optional logger. Defaults to logrus.New().
	Logger *logrus.Logger
}

// Store wraps a Postgres connection pool. Safe for concurrent use.
type Store struct {
	db  *sql.DB
	log *logrus.Logger
}

// New opens a connection pool for the given DSN.
func New(config Config) (*Store, error) {
	if config.DSN == "" {
		return nil, errors.New("metastore: no DSN configured")
	}
	db, err := sql.Open("postgres", config.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open metadata database")
	}
	return NewWithDB(db, config.Logger), nil
}

// NewWithDB wraps an existing pool. Used by tests and by callers that manage
// the pool themselves.
func NewWithDB(db *sql.DB, log *logrus.Logger) *Store {
	if log == nil {
		log = logrus.New()
	}
	return &Store{db: db, log: log}
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	return s.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            BIGSERIAL PRIMARY KEY,
	privy_user_id TEXT NOT NULL UNIQUE,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS user_secure_data_versions (
	id                BIGSERIAL PRIMARY KEY,
	user_id           BIGINT NOT NULL REFERENCES users (id),
	cid               TEXT NOT NULL,
	encrypted_aes_key JSONB NOT NULL,
	version           INT NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (user_id, version)
);
`

// Migrate applies the schema. Idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "failed to apply metadata schema")
	}
	return nil
}

// EnsureUser looks up the user for an external identity, creating it on
// first use. Concurrent calls for the same identity may race on the create;
// the loser re-reads the row the winner inserted.
func (s *Store) EnsureUser(ctx context.Context, externalID string) (int64, error) {
	if externalID == "" {
		return 0, errors.New("metastore: empty external user id")
	}

	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM users WHERE privy_user_id = $1`, externalID).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, errors.Wrap(err, "failed to look up user")
	}

	err = s.db.QueryRowContext(ctx,
		`INSERT INTO users (privy_user_id) VALUES ($1) RETURNING id`, externalID).Scan(&id)
	if err == nil {
		return id, nil
	}
	if isUniqueViolation(err) {
		// Lost the create race; the row exists now.
		rereadErr := s.db.QueryRowContext(ctx,
			`SELECT id FROM users WHERE privy_user_id = $1`, externalID).Scan(&id)
		if rereadErr != nil {
			return 0, errors.Wrap(rereadErr, "failed to re-read user after create race")
		}
		return id, nil
	}
	return 0, errors.Wrap(err, "failed to create user")
}

// LookupUser returns the user id for an external identity without creating
// it. The second return is false when the user does not exist yet.
func (s *Store) LookupUser(ctx context.Context, externalID string) (int64, bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM users WHERE privy_user_id = $1`, externalID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrap(err, "failed to look up user")
	}
	return id, true, nil
}

// NextVersion returns 1 + max(existing versions), or 1 when none exist. The
// value is advisory; AppendVersion's insert is the authority.
func (s *Store) NextVersion(ctx context.Context, userID int64) (int, error) {
	var next int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM user_secure_data_versions WHERE user_id = $1`,
		userID).Scan(&next)
	if err != nil {
		return 0, errors.Wrap(err, "failed to compute next version")
	}
	return next, nil
}

// AppendVersion inserts a new immutable version row and returns its row id
// and assigned version number. On a (user_id, version) conflict the version
// is recomputed and the insert retried; after appendAttempts losses it gives
// up with ErrVersionConflict.
func (s *Store) AppendVersion(ctx context.Context, userID int64, contentID string, material KeyMaterial) (int64, int, error) {
	keyJSON, err := material.MarshalJSON()
	if err != nil {
		return 0, 0, err
	}

	for attempt := 0; attempt < appendAttempts; attempt++ {
		version, err := s.NextVersion(ctx, userID)
		if err != nil {
			return 0, 0, err
		}

		var rowID int64
		err = s.db.QueryRowContext(ctx,
			`INSERT INTO user_secure_data_versions (user_id, cid, encrypted_aes_key, version)
			 VALUES ($1, $2, $3, $4) RETURNING id`,
			userID, contentID, keyJSON, version).Scan(&rowID)
		if err == nil {
			return rowID, version, nil
		}
		if !isUniqueViolation(err) {
			return 0, 0, errors.Wrap(err, "failed to insert version row")
		}

		s.log.WithFields(logrus.Fields{
			"userID":  userID,
			"version": version,
		}).Warn("version conflict on append, recomputing")
	}

	return 0, 0, ErrVersionConflict
}

// LatestVersion returns the row with the maximum version number for the
// user, or nil when the user has no versions.
func (s *Store) LatestVersion(ctx context.Context, userID int64) (*Version, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, cid, encrypted_aes_key, version, created_at
		 FROM user_secure_data_versions
		 WHERE user_id = $1
		 ORDER BY version DESC
		 LIMIT 1`, userID)

	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// AllVersions returns the user's full history, descending by version. A
// fresh query on every call.
func (s *Store) AllVersions(ctx context.Context, userID int64) ([]Version, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, cid, encrypted_aes_key, version, created_at
		 FROM user_secure_data_versions
		 WHERE user_id = $1
		 ORDER BY version DESC`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query versions")
	}
	defer rows.Close()

	var versions []Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate versions")
	}
	return versions, nil
}

// DeleteVersion removes a version row, constrained to rows owned by userID.
// A delete targeting another user's row is a silent no-op so callers cannot
// probe for foreign rows.
func (s *Store) DeleteVersion(ctx context.Context, userID, rowID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM user_secure_data_versions WHERE id = $1 AND user_id = $2`,
		rowID, userID)
	if err != nil {
		return errors.Wrap(err, "failed to delete version row")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanVersion(row rowScanner) (*Version, error) {
	var (
		v       Version
		keyJSON []byte
	)
	if err := row.Scan(&v.ID, &v.UserID, &v.CID, &keyJSON, &v.Version, &v.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to scan version row")
	}
	if err := v.KeyMaterial.UnmarshalJSON(keyJSON); err != nil {
		return nil, err
	}
	return &v, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
