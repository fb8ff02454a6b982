// Package sqlstore implements app.Store on database/sql for PostgreSQL
// (pgx stdlib driver) and SQLite (mattn/go-sqlite3).
package sqlstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dkeye/Tasting/internal/app"
	"github.com/dkeye/Tasting/internal/domain"
	"github.com/goccy/go-json"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

//go:embed schema.sql
var schema string

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Store struct {
	db *sql.DB
	// row lock suffix for MutateSession; SQLite serializes on its single
	// connection instead
	forUpdate string
}

var _ app.Store = (*Store)(nil)

// Open connects, pings and applies the schema.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	var (
		sqlDriver string
		forUpdate string
	)
	switch driver {
	case DriverPostgres:
		sqlDriver, forUpdate = "pgx", " FOR UPDATE"
	case DriverSQLite:
		sqlDriver = "sqlite3"
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}

	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	s := &Store{db: db, forUpdate: forUpdate}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info().Str("module", "sqlstore").Str("driver", driver).Msg("store ready")
	return s, nil
}

// Migrate applies the embedded schema. Every statement is IF NOT EXISTS.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Placeholders are numbered in order of first appearance: go-sqlite3 binds
// $N by position.

type rowScanner interface {
	Scan(dest ...any) error
}

const sessionColumns = `id, host_id, title, status, products, custom_tags, livestream_url, summary, started_at, last_activity_at, ended_at`

func scanSession(row rowScanner) (*domain.Session, error) {
	var (
		sess     domain.Session
		products string
		tags     string
		endedAt  sql.NullTime
	)
	err := row.Scan(&sess.ID, &sess.HostID, &sess.Title, &sess.Status, &products, &tags,
		&sess.LivestreamURL, &sess.Summary, &sess.StartedAt, &sess.LastActivityAt, &endedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("error scanning session: %w", err)
	}
	if err := json.Unmarshal([]byte(products), &sess.Products); err != nil {
		return nil, fmt.Errorf("decode products: %w", err)
	}
	if err := json.Unmarshal([]byte(tags), &sess.CustomTags); err != nil {
		return nil, fmt.Errorf("decode custom tags: %w", err)
	}
	if endedAt.Valid {
		t := endedAt.Time
		sess.EndedAt = &t
	}
	return &sess, nil
}

func encodeLists(sess *domain.Session) (string, string, error) {
	products := sess.Products
	if products == nil {
		products = []domain.Product{}
	}
	p, err := json.Marshal(products)
	if err != nil {
		return "", "", fmt.Errorf("encode products: %w", err)
	}
	tags := sess.CustomTags
	if tags == nil {
		tags = []string{}
	}
	t, err := json.Marshal(tags)
	if err != nil {
		return "", "", fmt.Errorf("encode custom tags: %w", err)
	}
	return string(p), string(t), nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func (s *Store) GetSession(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM tasting_sessions WHERE id = $1`, id)
	return scanSession(row)
}

func (s *Store) CreateSession(ctx context.Context, sess *domain.Session) error {
	products, tags, err := encodeLists(sess)
	if err != nil {
		return err
	}
	query := `INSERT INTO tasting_sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err = s.db.ExecContext(ctx, query, sess.ID, sess.HostID, sess.Title, sess.Status, products, tags,
		sess.LivestreamURL, sess.Summary, sess.StartedAt.UTC(), sess.LastActivityAt.UTC(), nullTime(sess.EndedAt))
	if err != nil {
		return fmt.Errorf("failed to insert session %s: %w", sess.ID, err)
	}
	return nil
}

// MutateSession runs fn on the current row inside one transaction, so the
// ownership check in fn and the write are a single step.
func (s *Store) MutateSession(ctx context.Context, id domain.SessionID, fn func(*domain.Session) error) (*domain.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM tasting_sessions WHERE id = $1`+s.forUpdate, id)
	sess, err := scanSession(row)
	if err != nil {
		return nil, err
	}
	if err := fn(sess); err != nil {
		return nil, err
	}
	products, tags, err := encodeLists(sess)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `UPDATE tasting_sessions
		SET host_id = $1, title = $2, status = $3, products = $4, custom_tags = $5,
		    livestream_url = $6, summary = $7, last_activity_at = $8, ended_at = $9
		WHERE id = $10`,
		sess.HostID, sess.Title, sess.Status, products, tags,
		sess.LivestreamURL, sess.Summary, sess.LastActivityAt.UTC(), nullTime(sess.EndedAt), sess.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to update session %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return sess, nil
}

func (s *Store) ListIdleSessions(ctx context.Context, before time.Time) ([]domain.SessionID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM tasting_sessions WHERE status = $1 AND last_activity_at < $2 ORDER BY id`,
		domain.StatusActive, before.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query idle sessions: %w", err)
	}
	defer rows.Close()

	var out []domain.SessionID
	for rows.Next() {
		var id domain.SessionID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan idle session: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) TouchActivity(ctx context.Context, id domain.SessionID, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasting_sessions SET last_activity_at = $1 WHERE id = $2 AND last_activity_at < $1`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to touch session %s: %w", id, err)
	}
	return nil
}

func (s *Store) SaveSummary(ctx context.Context, id domain.SessionID, summary string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tasting_sessions SET summary = $1 WHERE id = $2`, summary, id)
	if err != nil {
		return fmt.Errorf("failed to save summary for %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (s *Store) UpsertParticipant(ctx context.Context, sid domain.SessionID, uid domain.UserID, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO participants (session_id, user_id, joined_at, banned)
		VALUES ($1, $2, $3, FALSE)
		ON CONFLICT (session_id, user_id) DO NOTHING`, sid, uid, at.UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert participant: %w", err)
	}
	return nil
}

func (s *Store) IsBanned(ctx context.Context, sid domain.SessionID, uid domain.UserID) (bool, error) {
	var banned bool
	err := s.db.QueryRowContext(ctx,
		`SELECT banned FROM participants WHERE session_id = $1 AND user_id = $2`, sid, uid).Scan(&banned)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query ban: %w", err)
	}
	return banned, nil
}

// SetBanned also records users who never joined, so a kick can precede
// the first join.
func (s *Store) SetBanned(ctx context.Context, sid domain.SessionID, uid domain.UserID, banned bool) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO participants (session_id, user_id, joined_at, banned)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id, user_id) DO UPDATE SET banned = excluded.banned`,
		sid, uid, time.Now().UTC(), banned)
	if err != nil {
		return fmt.Errorf("failed to set ban: %w", err)
	}
	return nil
}

func (s *Store) ListBanned(ctx context.Context, sid domain.SessionID) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT p.user_id, COALESCE(u.display_name, ''), COALESCE(u.avatar, '')
		FROM participants p LEFT JOIN users u ON u.id = p.user_id
		WHERE p.session_id = $1 AND p.banned = TRUE
		ORDER BY p.user_id`, sid)
	if err != nil {
		return nil, fmt.Errorf("failed to query banned users: %w", err)
	}
	defer rows.Close()

	var out []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.DisplayName, &u.Avatar); err != nil {
			return nil, fmt.Errorf("failed to scan banned user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) UpsertUser(ctx context.Context, u domain.User) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO users (id, display_name, avatar) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET display_name = excluded.display_name, avatar = excluded.avatar`,
		u.ID, u.DisplayName, u.Avatar)
	if err != nil {
		return fmt.Errorf("failed to upsert user %s: %w", u.ID, err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id domain.UserID) (*domain.User, error) {
	var u domain.User
	err := s.db.QueryRowContext(ctx, `SELECT id, display_name, avatar FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.DisplayName, &u.Avatar)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user %s: %w", id, err)
	}
	return &u, nil
}

func (s *Store) IsAutoModerator(ctx context.Context, host, uid domain.UserID) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM auto_moderators WHERE host_id = $1 AND user_id = $2`, host, uid).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to query auto moderator: %w", err)
	}
	return n > 0, nil
}

func (s *Store) SetAutoModerator(ctx context.Context, host, uid domain.UserID, enabled bool) error {
	var err error
	if enabled {
		_, err = s.db.ExecContext(ctx, `INSERT INTO auto_moderators (host_id, user_id) VALUES ($1, $2)
			ON CONFLICT (host_id, user_id) DO NOTHING`, host, uid)
	} else {
		_, err = s.db.ExecContext(ctx, `DELETE FROM auto_moderators WHERE host_id = $1 AND user_id = $2`, host, uid)
	}
	if err != nil {
		return fmt.Errorf("failed to set auto moderator: %w", err)
	}
	return nil
}
