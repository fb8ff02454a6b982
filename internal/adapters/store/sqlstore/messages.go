package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dkeye/Tasting/internal/domain"
)

const messageColumns = `id, session_id, author_id, author_name, author_avatar, content, phase, product_index, hidden, created_at, edited_at`

func scanMessage(row rowScanner) (*domain.Message, error) {
	var (
		m        domain.Message
		idx      sql.NullInt64
		editedAt sql.NullTime
	)
	err := row.Scan(&m.ID, &m.SessionID, &m.AuthorID, &m.AuthorName, &m.AuthorAvatar,
		&m.Content, &m.Phase, &idx, &m.Hidden, &m.CreatedAt, &editedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrMessageNotFound
		}
		return nil, fmt.Errorf("error scanning message: %w", err)
	}
	if idx.Valid {
		v := int(idx.Int64)
		m.ProductIndex = &v
	}
	if editedAt.Valid {
		t := editedAt.Time
		m.EditedAt = &t
	}
	return &m, nil
}

func (s *Store) CreateMessage(ctx context.Context, m *domain.Message) error {
	var idx sql.NullInt64
	if m.ProductIndex != nil {
		idx = sql.NullInt64{Int64: int64(*m.ProductIndex), Valid: true}
	}
	query := `INSERT INTO messages (` + messageColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := s.db.ExecContext(ctx, query, m.ID, m.SessionID, m.AuthorID, m.AuthorName, m.AuthorAvatar,
		m.Content, m.Phase, idx, m.Hidden, m.CreatedAt.UTC(), nullTime(m.EditedAt))
	if err != nil {
		return fmt.Errorf("failed to insert message %s: %w", m.ID, err)
	}
	return nil
}

func (s *Store) GetMessage(ctx context.Context, id domain.MessageID) (*domain.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = $1 AND hidden = FALSE`, id)
	return scanMessage(row)
}

func (s *Store) UpdateMessageContent(ctx context.Context, id domain.MessageID, content string, editedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET content = $1, edited_at = $2 WHERE id = $3 AND hidden = FALSE`,
		content, editedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update message %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrMessageNotFound
	}
	return nil
}

// HideMessage is idempotent for a message that is already hidden.
func (s *Store) HideMessage(ctx context.Context, id domain.MessageID) error {
	res, err := s.db.ExecContext(ctx, `UPDATE messages SET hidden = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to hide message %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrMessageNotFound
	}
	return nil
}

func (s *Store) HideMessagesByAuthor(ctx context.Context, sid domain.SessionID, uid domain.UserID) ([]domain.MessageID, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `SELECT id FROM messages
		WHERE session_id = $1 AND author_id = $2 AND hidden = FALSE
		ORDER BY created_at, id`+s.forUpdate, sid, uid)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages by author: %w", err)
	}
	var ids []domain.MessageID
	for rows.Next() {
		var id domain.MessageID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan message id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	_, err = tx.ExecContext(ctx, `UPDATE messages SET hidden = TRUE
		WHERE session_id = $1 AND author_id = $2 AND hidden = FALSE`, sid, uid)
	if err != nil {
		return nil, fmt.Errorf("failed to hide messages by author: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return ids, nil
}

// ListMessages takes the newest limit rows and returns them oldest first.
func (s *Store) ListMessages(ctx context.Context, sid domain.SessionID, limit int) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+messageColumns+` FROM messages
		WHERE session_id = $1 AND hidden = FALSE
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, sid, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Message, 0, limit)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}

func (s *Store) UpsertRating(ctx context.Context, r domain.Rating) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO ratings (session_id, user_id, product_index, rating, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id, user_id, product_index)
		DO UPDATE SET rating = excluded.rating, updated_at = excluded.updated_at`,
		r.SessionID, r.UserID, r.ProductIndex, r.Value, r.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert rating: %w", err)
	}
	return nil
}

func (s *Store) AverageRating(ctx context.Context, sid domain.SessionID, productIndex int) (domain.RatingAverage, error) {
	avg := domain.RatingAverage{ProductIndex: productIndex}
	var mean sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `SELECT AVG(rating), COUNT(*) FROM ratings
		WHERE session_id = $1 AND product_index = $2`, sid, productIndex).Scan(&mean, &avg.Count)
	if err != nil {
		return avg, fmt.Errorf("failed to aggregate ratings: %w", err)
	}
	avg.Average = mean.Float64
	return avg, nil
}

func (s *Store) UserRatings(ctx context.Context, sid domain.SessionID, uid domain.UserID) (map[int]float64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT product_index, rating FROM ratings
		WHERE session_id = $1 AND user_id = $2`, sid, uid)
	if err != nil {
		return nil, fmt.Errorf("failed to query user ratings: %w", err)
	}
	defer rows.Close()

	out := make(map[int]float64)
	for rows.Next() {
		var (
			idx   int
			value float64
		)
		if err := rows.Scan(&idx, &value); err != nil {
			return nil, fmt.Errorf("failed to scan rating: %w", err)
		}
		out[idx] = value
	}
	return out, rows.Err()
}
