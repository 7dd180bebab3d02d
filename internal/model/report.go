package model

import "time"

// QuizReport is the top-level JSON structure produced by the analyzer:
// one row per student in the current roster, plus the cohort-wide failure
// ranking and summary figures.
type QuizReport struct {
	QuizID         string          `json:"quiz_id"`
	GeneratedAt    time.Time       `json:"generated_at"`
	Snapshots      int             `json:"snapshots"`
	Rows           []StudentReport `json:"rows"`
	FailureRanking []FailureCell   `json:"failure_ranking"`
	Summary        ClassSummary    `json:"summary"`
}

// StudentReport is one analytics table row.
type StudentReport struct {
	Username         string           `json:"username"`
	QuizStartTime    *time.Time       `json:"quiz_start_time,omitempty"`
	FetchFailed      bool             `json:"fetch_failed,omitempty"`
	Questions        []QuestionReport `json:"questions"`
	TotalRegressions int              `json:"total_regressions"`
	HasTinkering     bool             `json:"has_tinkering"`
}

// QuestionReport holds per-question analytics for one student.
type QuestionReport struct {
	ScorePercent float64 `json:"score_percent"`
	Regressions  int     `json:"regressions"`
	Tinkering    bool    `json:"tinkering"`
	Submissions  int     `json:"submissions"`
}

// FailureCell is one entry of the cohort failure ranking. Question and Test
// are 1-based for display.
type FailureCell struct {
	Question int `json:"question"`
	Test     int `json:"test"`
	Failures int `json:"failures"`
}

// ClassSummary aggregates the current roster.
type ClassSummary struct {
	Students         int       `json:"students"`
	FailedFetches    int       `json:"failed_fetches"`
	AverageScore     float64   `json:"average_score"`
	QuestionAverages []float64 `json:"question_averages"`
	AtRisk           []string  `json:"at_risk,omitempty"`
}

// HistoryExport is the JSON structure for dumping a quiz's raw snapshot log.
type HistoryExport struct {
	QuizID     string     `json:"quiz_id"`
	ExportedAt time.Time  `json:"exported_at"`
	Snapshots  []Snapshot `json:"snapshots"`
}
