package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/quizpulse/quizpulse/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(context.Background(), DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testSnapshot(day int, syncID string, usernames ...string) model.Snapshot {
	ts := time.Date(2025, time.March, day, 14, 5, 0, 0, time.UTC)
	status := "Correto"
	var roster []model.StudentRecord
	for _, name := range usernames {
		roster = append(roster, model.StudentRecord{
			Username:      name,
			QuizStartTime: &ts,
			Questions: []model.QuestionRecord{{
				TotalSubmissions:    2,
				FirstSubmissionTime: &ts,
				FinalScorePercent:   75.5,
				FinalStatus:         &status,
				SubmissionHistory: []model.SubmissionEvent{
					{Step: "2", Timestamp: &ts, State: status, IsSubmission: true},
				},
				TestResults:              []model.TestCaseOutcome{{ID: "ab12cd34", Passed: true}},
				InterSubmissionDeltasMin: []int{5},
			}},
		})
	}
	return model.Snapshot{
		TakenAt: time.Date(2025, time.March, day, 18, 0, 0, 0, time.UTC),
		SyncID:  syncID,
		Roster:  roster,
	}
}

func TestSnapshotLog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Empty quiz has no history and no latest snapshot.
	history, err := s.LoadHistory(ctx, "742")
	if err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("empty quiz has %d snapshots", len(history))
	}
	latest, err := s.LatestSnapshot(ctx, "742")
	if err != nil {
		t.Fatalf("LatestSnapshot: %v", err)
	}
	if latest != nil {
		t.Errorf("LatestSnapshot = %+v, want nil", latest)
	}

	for day := 1; day <= 3; day++ {
		snap := testSnapshot(day, fmt.Sprintf("s%d", day), "ana", "bruno")
		if err := s.AppendSnapshot(ctx, "742", snap); err != nil {
			t.Fatalf("AppendSnapshot day %d: %v", day, err)
		}
	}
	// A second quiz's log is independent.
	if err := s.AppendSnapshot(ctx, "999", testSnapshot(1, "x1", "carla")); err != nil {
		t.Fatalf("AppendSnapshot other quiz: %v", err)
	}

	history, err = s.LoadHistory(ctx, "742")
	if err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("got %d snapshots, want 3", len(history))
	}
	for i, wantSync := range []string{"s1", "s2", "s3"} {
		if history[i].SyncID != wantSync {
			t.Errorf("history[%d].SyncID = %q, want %q", i, history[i].SyncID, wantSync)
		}
	}
	if !history[0].TakenAt.Before(history[2].TakenAt) {
		t.Error("history not in chronological order")
	}

	// The roster body survives the round trip.
	ana := history[0].Student("ana")
	if ana == nil {
		t.Fatal("ana missing from loaded roster")
	}
	q := ana.Questions[0]
	if q.FinalScorePercent != 75.5 || q.TotalSubmissions != 2 {
		t.Errorf("question = %+v", q)
	}
	if q.FirstSubmissionTime == nil || q.FirstSubmissionTime.IsZero() {
		t.Error("FirstSubmissionTime lost")
	}
	if q.FinalStatus == nil || *q.FinalStatus != "Correto" {
		t.Errorf("FinalStatus = %v", q.FinalStatus)
	}
	if len(q.TestResults) != 1 || q.TestResults[0].ID != "ab12cd34" || !q.TestResults[0].Passed {
		t.Errorf("TestResults = %+v", q.TestResults)
	}

	latest, err = s.LatestSnapshot(ctx, "742")
	if err != nil {
		t.Fatalf("LatestSnapshot: %v", err)
	}
	if latest == nil || latest.SyncID != "s3" {
		t.Errorf("LatestSnapshot = %+v, want sync s3", latest)
	}

	n, err := s.SnapshotCount(ctx, "742")
	if err != nil {
		t.Fatalf("SnapshotCount: %v", err)
	}
	if n != 3 {
		t.Errorf("SnapshotCount = %d, want 3", n)
	}
}

func TestAppendSnapshotOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	second := testSnapshot(2, "s2", "ana")
	if err := s.AppendSnapshot(ctx, "742", second); err != nil {
		t.Fatalf("AppendSnapshot: %v", err)
	}

	// Earlier than the latest.
	if err := s.AppendSnapshot(ctx, "742", testSnapshot(1, "s1", "ana")); !errors.Is(err, ErrSnapshotOutOfOrder) {
		t.Errorf("append earlier snapshot: err = %v, want ErrSnapshotOutOfOrder", err)
	}
	// Same instant as the latest.
	if err := s.AppendSnapshot(ctx, "742", second); !errors.Is(err, ErrSnapshotOutOfOrder) {
		t.Errorf("append equal snapshot: err = %v, want ErrSnapshotOutOfOrder", err)
	}
	// Another quiz is unaffected.
	if err := s.AppendSnapshot(ctx, "999", testSnapshot(1, "x1", "ana")); err != nil {
		t.Errorf("append to other quiz: %v", err)
	}

	if n, _ := s.SnapshotCount(ctx, "742"); n != 1 {
		t.Errorf("SnapshotCount = %d, want 1", n)
	}
}

func TestListSnapshotInfos(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.AppendSnapshot(ctx, "742", testSnapshot(1, "s1", "ana")); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendSnapshot(ctx, "742", testSnapshot(2, "s2", "ana", "bruno", "carla")); err != nil {
		t.Fatal(err)
	}

	infos, err := s.ListSnapshotInfos(ctx, "742")
	if err != nil {
		t.Fatalf("ListSnapshotInfos: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("got %d infos, want 2", len(infos))
	}
	if infos[0].Students != 1 || infos[1].Students != 3 {
		t.Errorf("student counts = %d, %d, want 1, 3", infos[0].Students, infos[1].Students)
	}
	if infos[1].SyncID != "s2" {
		t.Errorf("infos[1].SyncID = %q", infos[1].SyncID)
	}
}

func TestResetHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SetQuizLabel(ctx, "742", "Prova 1"); err != nil {
		t.Fatal(err)
	}
	for day := 1; day <= 2; day++ {
		if err := s.AppendSnapshot(ctx, "742", testSnapshot(day, "", "ana")); err != nil {
			t.Fatal(err)
		}
	}

	deleted, err := s.ResetHistory(ctx, "742")
	if err != nil {
		t.Fatalf("ResetHistory: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}
	if n, _ := s.SnapshotCount(ctx, "742"); n != 0 {
		t.Errorf("SnapshotCount after reset = %d", n)
	}
	// Metadata survives a history reset.
	if label, _ := s.GetQuizMeta(ctx, "742", "label"); label != "Prova 1" {
		t.Errorf("label after reset = %q", label)
	}
	// The log accepts fresh snapshots again, even older than the deleted ones.
	if err := s.AppendSnapshot(ctx, "742", testSnapshot(1, "", "ana")); err != nil {
		t.Errorf("append after reset: %v", err)
	}
}

func TestQuizMetadata(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Missing keys read as empty.
	if v, err := s.GetQuizMeta(ctx, "742", "label"); err != nil || v != "" {
		t.Errorf("GetQuizMeta = %q, %v", v, err)
	}

	if err := s.SetQuizMeta(ctx, "742", "label", "Prova 1"); err != nil {
		t.Fatal(err)
	}
	// Upsert overwrites.
	if err := s.SetQuizMeta(ctx, "742", "label", "Prova 1 (2025)"); err != nil {
		t.Fatal(err)
	}
	if v, _ := s.GetQuizMeta(ctx, "742", "label"); v != "Prova 1 (2025)" {
		t.Errorf("label = %q", v)
	}

	syncedAt := time.Date(2025, time.March, 13, 18, 0, 0, 0, time.UTC)
	if err := s.RecordSync(ctx, "742", "sync-abc", syncedAt, 2); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendSnapshot(ctx, "742", testSnapshot(13, "sync-abc", "ana")); err != nil {
		t.Fatal(err)
	}

	info, err := s.GetQuizInfo(ctx, "742")
	if err != nil {
		t.Fatalf("GetQuizInfo: %v", err)
	}
	if info.Label != "Prova 1 (2025)" || info.LastSyncID != "sync-abc" {
		t.Errorf("info = %+v", info)
	}
	if info.LastSyncAt == nil || !info.LastSyncAt.Equal(syncedAt) {
		t.Errorf("LastSyncAt = %v, want %v", info.LastSyncAt, syncedAt)
	}
	if info.LastWarnings != 2 || info.Snapshots != 1 {
		t.Errorf("LastWarnings = %d Snapshots = %d", info.LastWarnings, info.Snapshots)
	}
}

func TestListQuizzes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.AppendSnapshot(ctx, "742", testSnapshot(1, "", "ana")); err != nil {
		t.Fatal(err)
	}
	// A labeled quiz with no snapshots yet still shows up.
	if err := s.SetQuizLabel(ctx, "999", "Prova 2"); err != nil {
		t.Fatal(err)
	}

	quizzes, err := s.ListQuizzes(ctx)
	if err != nil {
		t.Fatalf("ListQuizzes: %v", err)
	}
	if len(quizzes) != 2 {
		t.Fatalf("got %d quizzes, want 2", len(quizzes))
	}
	if quizzes[0].QuizID != "742" || quizzes[0].Snapshots != 1 {
		t.Errorf("quizzes[0] = %+v", quizzes[0])
	}
	if quizzes[1].QuizID != "999" || quizzes[1].Label != "Prova 2" {
		t.Errorf("quizzes[1] = %+v", quizzes[1])
	}
}

func TestUserLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if n, err := s.UserCount(ctx); err != nil || n != 0 {
		t.Fatalf("UserCount = %d, %v", n, err)
	}
	if u, err := s.GetUserByUsername(ctx, "ghost"); err != nil || u != nil {
		t.Fatalf("GetUserByUsername(ghost) = %v, %v", u, err)
	}

	id, err := s.CreateUser(ctx, model.User{
		Username:     "prof",
		DisplayName:  "Professora",
		PasswordHash: "$2a$10$fakehash",
		Role:         model.UserRoleAdmin,
		Active:       true,
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if id == 0 {
		t.Fatal("CreateUser returned id 0")
	}

	u, err := s.GetUserByUsername(ctx, "prof")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if u == nil || u.ID != id || u.Role != model.UserRoleAdmin || !u.Active {
		t.Errorf("user = %+v", u)
	}
	if u.CreatedAt.IsZero() {
		t.Error("CreatedAt is zero")
	}

	byID, err := s.GetUserByID(ctx, id)
	if err != nil || byID == nil || byID.Username != "prof" {
		t.Errorf("GetUserByID = %+v, %v", byID, err)
	}

	// Duplicate usernames are rejected by the schema.
	if _, err := s.CreateUser(ctx, model.User{Username: "prof", PasswordHash: "x", Active: true}); err == nil {
		t.Error("duplicate username accepted")
	}

	// Role defaults to viewer.
	viewerID, err := s.CreateUser(ctx, model.User{Username: "aluno", PasswordHash: "y", Active: true})
	if err != nil {
		t.Fatalf("CreateUser viewer: %v", err)
	}
	viewer, _ := s.GetUserByID(ctx, viewerID)
	if viewer.Role != model.UserRoleViewer {
		t.Errorf("default role = %q", viewer.Role)
	}

	users, err := s.ListUsers(ctx)
	if err != nil || len(users) != 2 {
		t.Fatalf("ListUsers = %d users, %v", len(users), err)
	}

	active, err := s.ToggleUserActive(ctx, viewerID)
	if err != nil || active {
		t.Errorf("ToggleUserActive = %v, %v, want false", active, err)
	}
	active, err = s.ToggleUserActive(ctx, viewerID)
	if err != nil || !active {
		t.Errorf("ToggleUserActive = %v, %v, want true", active, err)
	}
	if _, err := s.ToggleUserActive(ctx, 9999); err == nil {
		t.Error("toggling unknown user succeeded")
	}
}

func TestTokenLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateUser(ctx, model.User{Username: "prof", PasswordHash: "x", Active: true})
	if err != nil {
		t.Fatal(err)
	}

	token, err := s.CreateToken(ctx, id)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	if len(token) != 64 {
		t.Errorf("token length = %d, want 64", len(token))
	}

	tok, err := s.GetToken(ctx, token)
	if err != nil {
		t.Fatalf("GetToken: %v", err)
	}
	if tok == nil || tok.UserID != id {
		t.Errorf("token = %+v", tok)
	}
	if !tok.ExpiresAt.After(tok.CreatedAt) {
		t.Error("token does not expire after creation")
	}

	if tok, err := s.GetToken(ctx, "unknown"); err != nil || tok != nil {
		t.Errorf("GetToken(unknown) = %+v, %v", tok, err)
	}

	if err := s.DeleteToken(ctx, token); err != nil {
		t.Fatalf("DeleteToken: %v", err)
	}
	if tok, _ := s.GetToken(ctx, token); tok != nil {
		t.Error("token readable after delete")
	}
}

func TestExpiredTokensAreDropped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateUser(ctx, model.User{Username: "prof", PasswordHash: "x", Active: true})
	if err != nil {
		t.Fatal(err)
	}
	past := time.Now().Add(-time.Hour).UnixMilli()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO api_tokens (id, user_id, created_at, expires_at) VALUES ($1, $2, $3, $4)`,
		"expired-token", id, past, past); err != nil {
		t.Fatal(err)
	}

	if tok, err := s.GetToken(ctx, "expired-token"); err != nil || tok != nil {
		t.Errorf("GetToken(expired) = %+v, %v", tok, err)
	}
	// The lookup removed the row.
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM api_tokens`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("expired token still stored, count = %d", n)
	}

	if err := s.DeleteExpiredTokens(ctx); err != nil {
		t.Errorf("DeleteExpiredTokens: %v", err)
	}
}
