package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/quizpulse/quizpulse/internal/model"
)

// AppendSnapshot adds one capture to the quiz's history. The log is
// append-only and strictly ordered: a snapshot whose TakenAt is not after
// the latest stored one is rejected with ErrSnapshotOutOfOrder.
func (s *Store) AppendSnapshot(ctx context.Context, quizID string, snap model.Snapshot) error {
	roster, err := json.Marshal(snap.Roster)
	if err != nil {
		return fmt.Errorf("encode roster: %w", err)
	}

	var latest sql.NullInt64
	err = s.db.QueryRowContext(ctx,
		`SELECT MAX(taken_at) FROM snapshots WHERE quiz_id = $1`, quizID).Scan(&latest)
	if err != nil {
		return fmt.Errorf("query latest snapshot: %w", err)
	}
	takenAt := snap.TakenAt.UnixMilli()
	if latest.Valid && takenAt <= latest.Int64 {
		return fmt.Errorf("%w: quiz %s at %s", ErrSnapshotOutOfOrder, quizID, snap.TakenAt.Format(time.RFC3339))
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (quiz_id, sync_id, taken_at, students, roster)
		 VALUES ($1, $2, $3, $4, $5)`,
		quizID, snap.SyncID, takenAt, len(snap.Roster), string(roster))
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// LoadHistory returns the quiz's full snapshot log, oldest first.
func (s *Store) LoadHistory(ctx context.Context, quizID string) ([]model.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sync_id, taken_at, roster FROM snapshots WHERE quiz_id = $1 ORDER BY taken_at`, quizID)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var history []model.Snapshot
	for rows.Next() {
		var (
			snap    model.Snapshot
			takenAt int64
			roster  []byte
		)
		if err := rows.Scan(&snap.SyncID, &takenAt, &roster); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		if err := json.Unmarshal(roster, &snap.Roster); err != nil {
			return nil, fmt.Errorf("decode roster: %w", err)
		}
		snap.TakenAt = time.UnixMilli(takenAt).UTC()
		history = append(history, snap)
	}
	return history, rows.Err()
}

// LatestSnapshot returns the quiz's newest snapshot, or nil when the quiz
// has no history yet.
func (s *Store) LatestSnapshot(ctx context.Context, quizID string) (*model.Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT sync_id, taken_at, roster FROM snapshots WHERE quiz_id = $1
		 ORDER BY taken_at DESC LIMIT 1`, quizID)

	var (
		snap    model.Snapshot
		takenAt int64
		roster  []byte
	)
	if err := row.Scan(&snap.SyncID, &takenAt, &roster); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan snapshot: %w", err)
	}
	if err := json.Unmarshal(roster, &snap.Roster); err != nil {
		return nil, fmt.Errorf("decode roster: %w", err)
	}
	snap.TakenAt = time.UnixMilli(takenAt).UTC()
	return &snap, nil
}

// ListSnapshotInfos returns log metadata without the roster bodies, oldest
// first.
func (s *Store) ListSnapshotInfos(ctx context.Context, quizID string) ([]model.SnapshotInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sync_id, taken_at, students FROM snapshots WHERE quiz_id = $1 ORDER BY taken_at`, quizID)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var infos []model.SnapshotInfo
	for rows.Next() {
		var (
			info    model.SnapshotInfo
			takenAt int64
		)
		if err := rows.Scan(&info.SyncID, &takenAt, &info.Students); err != nil {
			return nil, fmt.Errorf("scan snapshot info: %w", err)
		}
		info.TakenAt = time.UnixMilli(takenAt).UTC()
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// SnapshotCount returns the number of stored snapshots for a quiz.
func (s *Store) SnapshotCount(ctx context.Context, quizID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM snapshots WHERE quiz_id = $1`, quizID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count snapshots: %w", err)
	}
	return n, nil
}

// ResetHistory deletes the quiz's entire snapshot log and returns how many
// snapshots were removed. Quiz metadata is kept.
func (s *Store) ResetHistory(ctx context.Context, quizID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE quiz_id = $1`, quizID)
	if err != nil {
		return 0, fmt.Errorf("delete snapshots: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}
