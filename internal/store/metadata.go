package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/quizpulse/quizpulse/internal/model"
)

const (
	metaLabel        = "label"
	metaLastSyncID   = "last_sync_id"
	metaLastSyncAt   = "last_sync_at"
	metaLastWarnings = "last_warnings"
)

// SetQuizMeta upserts one metadata value for a quiz.
func (s *Store) SetQuizMeta(ctx context.Context, quizID, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO quiz_metadata (quiz_id, key, value) VALUES ($1, $2, $3)
		 ON CONFLICT (quiz_id, key) DO UPDATE SET value = excluded.value`,
		quizID, key, value,
	)
	return err
}

// GetQuizMeta returns the value for a quiz metadata key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetQuizMeta(ctx context.Context, quizID, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM quiz_metadata WHERE quiz_id = $1 AND key = $2`, quizID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// SetQuizLabel stores a human-readable name for a quiz ID.
func (s *Store) SetQuizLabel(ctx context.Context, quizID, label string) error {
	return s.SetQuizMeta(ctx, quizID, metaLabel, label)
}

// RecordSync stamps the quiz with the outcome of its latest sync cycle.
func (s *Store) RecordSync(ctx context.Context, quizID, syncID string, at time.Time, warnings int) error {
	pairs := []struct{ k, v string }{
		{metaLastSyncID, syncID},
		{metaLastSyncAt, strconv.FormatInt(at.UnixMilli(), 10)},
		{metaLastWarnings, strconv.Itoa(warnings)},
	}
	for _, p := range pairs {
		if err := s.SetQuizMeta(ctx, quizID, p.k, p.v); err != nil {
			return err
		}
	}
	return nil
}

// GetQuizInfo assembles a quiz's sync state from its metadata rows and
// snapshot count.
func (s *Store) GetQuizInfo(ctx context.Context, quizID string) (*model.QuizInfo, error) {
	info := &model.QuizInfo{QuizID: quizID}
	var err error

	if info.Label, err = s.GetQuizMeta(ctx, quizID, metaLabel); err != nil {
		return nil, err
	}
	if info.LastSyncID, err = s.GetQuizMeta(ctx, quizID, metaLastSyncID); err != nil {
		return nil, err
	}
	at, err := s.GetQuizMeta(ctx, quizID, metaLastSyncAt)
	if err != nil {
		return nil, err
	}
	if at != "" {
		ms, err := strconv.ParseInt(at, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse last sync time: %w", err)
		}
		t := time.UnixMilli(ms).UTC()
		info.LastSyncAt = &t
	}
	warnings, err := s.GetQuizMeta(ctx, quizID, metaLastWarnings)
	if err != nil {
		return nil, err
	}
	if warnings != "" {
		if info.LastWarnings, err = strconv.Atoi(warnings); err != nil {
			return nil, fmt.Errorf("parse last warnings: %w", err)
		}
	}
	if info.Snapshots, err = s.SnapshotCount(ctx, quizID); err != nil {
		return nil, err
	}
	return info, nil
}

// ListQuizzes returns info for every quiz that has snapshots or metadata.
func (s *Store) ListQuizzes(ctx context.Context) ([]model.QuizInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT quiz_id FROM snapshots UNION SELECT quiz_id FROM quiz_metadata ORDER BY quiz_id`)
	if err != nil {
		return nil, fmt.Errorf("query quiz ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	infos := make([]model.QuizInfo, 0, len(ids))
	for _, id := range ids {
		info, err := s.GetQuizInfo(ctx, id)
		if err != nil {
			return nil, err
		}
		infos = append(infos, *info)
	}
	return infos, nil
}
