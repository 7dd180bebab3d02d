package model

import (
	"context"
	"time"
)

// UserRole represents an API user's access level.
type UserRole string

const (
	// UserRoleViewer can read reports and history.
	UserRoleViewer UserRole = "viewer"
	// UserRoleAdmin can additionally trigger syncs, reset history, and manage users.
	UserRoleAdmin UserRole = "admin"
)

// User represents a local API user.
type User struct {
	ID           int64
	Username     string
	DisplayName  string
	PasswordHash string
	Role         UserRole
	Active       bool
	CreatedAt    time.Time
}

// APIToken represents a bearer token issued at login.
type APIToken struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

// TestCaseOutcome is the pass/fail state of one test case in one attempt state.
// ID is a stable identifier derived from the test's input and expected-output
// text; it is empty when those cells are missing from the document, in which
// case the outcome is identified by its position only.
type TestCaseOutcome struct {
	ID     string `json:"id,omitempty"`
	Passed bool   `json:"passed"`
}

// SubmissionEvent is one row of a question's response history.
// Timestamp is nil when the document's date text did not match the expected
// format; that is a degraded value, not an error.
type SubmissionEvent struct {
	Step         string     `json:"step"`
	Timestamp    *time.Time `json:"timestamp,omitempty"`
	State        string     `json:"state"`
	Score        *float64   `json:"score,omitempty"`
	IsSubmission bool       `json:"is_submission"`
}

// QuestionRecord holds everything extracted for one question of one attempt.
type QuestionRecord struct {
	// TotalSubmissions never goes below 1 even when the history shows no
	// submit actions; count SubmissionHistory directly for an exact figure.
	TotalSubmissions    int        `json:"total_submissions"`
	FirstSubmissionTime *time.Time `json:"first_submission_time,omitempty"`
	FinalScorePercent   float64    `json:"final_score_percent"`
	// ScoreDegraded marks a grading element that was present but could not
	// be parsed, as opposed to an ungraded question with no element at all.
	ScoreDegraded     bool              `json:"score_degraded,omitempty"`
	FinalStatus       *string           `json:"final_status,omitempty"`
	SubmissionHistory []SubmissionEvent `json:"submission_history"`
	TestResults       []TestCaseOutcome `json:"test_results"`
	// InterSubmissionDeltasMin are whole minutes between consecutive
	// submissions; pairs with a missing timestamp are skipped.
	InterSubmissionDeltasMin []int `json:"inter_submission_deltas_min"`
	HasTinkering             bool  `json:"has_tinkering"`
}

// Submissions returns the submit-action subset of the history, in order.
func (q QuestionRecord) Submissions() []SubmissionEvent {
	var subs []SubmissionEvent
	for _, ev := range q.SubmissionHistory {
		if ev.IsSubmission {
			subs = append(subs, ev)
		}
	}
	return subs
}

// StudentRecord is one student's extracted attempt state.
type StudentRecord struct {
	Username      string           `json:"username"`
	QuizStartTime *time.Time       `json:"quiz_start_time,omitempty"`
	QuizEndTime   *time.Time       `json:"quiz_end_time,omitempty"`
	Questions     []QuestionRecord `json:"questions"`
	// FetchFailed marks the empty record left in place of a student whose
	// page could not be fetched this cycle.
	FetchFailed bool `json:"fetch_failed,omitempty"`
}

// Snapshot is one timestamped capture of the whole roster.
type Snapshot struct {
	TakenAt time.Time       `json:"taken_at"`
	SyncID  string          `json:"sync_id,omitempty"`
	Roster  []StudentRecord `json:"roster"`
}

// Student returns the roster entry for username, or nil.
func (s Snapshot) Student(username string) *StudentRecord {
	for i := range s.Roster {
		if s.Roster[i].Username == username {
			return &s.Roster[i]
		}
	}
	return nil
}

// SnapshotInfo is the log metadata for one snapshot, without the roster body.
type SnapshotInfo struct {
	TakenAt  time.Time `json:"taken_at"`
	SyncID   string    `json:"sync_id,omitempty"`
	Students int       `json:"students"`
}

// QuizInfo describes a tracked quiz's sync state, assembled from stored
// metadata.
type QuizInfo struct {
	QuizID       string     `json:"quiz_id"`
	Label        string     `json:"label,omitempty"`
	LastSyncID   string     `json:"last_sync_id,omitempty"`
	LastSyncAt   *time.Time `json:"last_sync_at,omitempty"`
	LastWarnings int        `json:"last_warnings"`
	Snapshots    int        `json:"snapshots"`
}

// QuizConfig holds runtime scraping parameters set via CLI flags.
type QuizConfig struct {
	BaseURL       string        // Moodle base URL, e.g. https://ava.example.edu
	Username      string        // Moodle account used for scraping
	Password      string        // Moodle account password
	FetchTimeout  time.Duration // per-request ceiling
	FetchParallel int           // concurrent per-student fetches, 0 means default
}
