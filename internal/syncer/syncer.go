// Package syncer drives the fetch-extract-append cycle: one Sync call turns
// the live state of a quiz into one appended snapshot.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quizpulse/quizpulse/internal/extract"
	"github.com/quizpulse/quizpulse/internal/model"
	"github.com/quizpulse/quizpulse/internal/moodle"
	"github.com/quizpulse/quizpulse/internal/store"
)

// Runner runs one sync cycle for a quiz. Implemented by *Syncer; HTTP
// handlers depend on this interface so tests can substitute their own.
type Runner interface {
	Sync(ctx context.Context, quizID string) (*Result, error)
}

// Result summarizes one completed cycle.
type Result struct {
	SyncID    string    `json:"sync_id"`
	QuizID    string    `json:"quiz_id"`
	TakenAt   time.Time `json:"taken_at"`
	Students  int       `json:"students"`
	Failed    int       `json:"failed"`
	Snapshots int       `json:"snapshots"`
}

// Syncer scrapes quizzes on one Moodle instance into the store.
type Syncer struct {
	client *moodle.Client
	co     *moodle.Coordinator
	store  *store.Store
	loc    extract.Locale

	mu sync.Mutex // one cycle at a time per process
}

// New builds a Syncer. parallel bounds concurrent per-student fetches.
func New(client *moodle.Client, st *store.Store, loc extract.Locale, parallel int) *Syncer {
	return &Syncer{
		client: client,
		co:     moodle.NewCoordinator(client, extract.New(loc), parallel),
		store:  st,
		loc:    loc,
	}
}

// Sync runs one cycle: log in if needed, fetch the overview roster, scrape
// every attempt concurrently, and append the snapshot. Failing to obtain a
// non-empty roster is fatal; individual student failures degrade to empty
// records and count as warnings in the result.
func (s *Syncer) Sync(ctx context.Context, quizID string) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	started := time.Now()
	if !s.client.LoggedIn() {
		if err := s.client.Login(ctx); err != nil {
			return nil, fmt.Errorf("moodle login: %w", err)
		}
		slog.Info("logged in to moodle")
	}

	doc, err := s.client.FetchDocument(ctx, s.client.OverviewURL(quizID))
	if err != nil {
		return nil, fmt.Errorf("fetch overview for quiz %s: %w", quizID, err)
	}
	entries := moodle.ParseRoster(doc, s.loc)
	if len(entries) == 0 {
		return nil, fmt.Errorf("no attempts found for quiz %s", quizID)
	}
	for i := range entries {
		entries[i].ReviewURL = s.client.ResolveURL(entries[i].ReviewURL)
	}
	slog.Info("roster fetched", "quiz", quizID, "students", len(entries))

	records, warnings := s.co.FetchAll(ctx, entries)
	for _, w := range warnings {
		slog.Warn("student fetch failed", "quiz", quizID, "student", w.Username, "error", w.Err)
	}

	snap := model.Snapshot{
		TakenAt: time.Now().UTC(),
		SyncID:  uuid.NewString(),
		Roster:  records,
	}
	if err := s.store.AppendSnapshot(ctx, quizID, snap); err != nil {
		return nil, fmt.Errorf("append snapshot: %w", err)
	}
	if err := s.store.RecordSync(ctx, quizID, snap.SyncID, snap.TakenAt, len(warnings)); err != nil {
		slog.Warn("record sync metadata", "quiz", quizID, "error", err)
	}
	count, err := s.store.SnapshotCount(ctx, quizID)
	if err != nil {
		return nil, fmt.Errorf("count snapshots: %w", err)
	}

	slog.Info("sync complete",
		"quiz", quizID,
		"sync_id", snap.SyncID,
		"students", len(records),
		"failed", len(warnings),
		"snapshots", count,
		"took", time.Since(started).Round(time.Millisecond),
	)
	return &Result{
		SyncID:    snap.SyncID,
		QuizID:    quizID,
		TakenAt:   snap.TakenAt,
		Students:  len(records),
		Failed:    len(warnings),
		Snapshots: count,
	}, nil
}
