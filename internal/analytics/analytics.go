// Package analytics turns a quiz's snapshot history into the longitudinal
// report: per-student regression counts, tinkering flags, and the cohort
// failure ranking.
//
// All cross-snapshot walks are keyed by the current roster. A student,
// question, or test case absent from an older snapshot simply contributes
// nothing to its timeline; absence is never treated as a failure.
package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/quizpulse/quizpulse/internal/model"
)

// forgivenessWindow is the number of trailing passes that wipe a test's
// regression count. A student who broke a test five times but holds it
// green now has recovered; the report should not keep punishing them.
const forgivenessWindow = 4

// RegressionCount counts pass-to-fail transitions in a chronological
// timeline. A timeline whose last forgivenessWindow entries are all passes
// counts zero regardless of earlier churn.
func RegressionCount(timeline []bool) int {
	if len(timeline) < 2 {
		return 0
	}
	if len(timeline) >= forgivenessWindow {
		forgiven := true
		for _, ok := range timeline[len(timeline)-forgivenessWindow:] {
			if !ok {
				forgiven = false
				break
			}
		}
		if forgiven {
			return 0
		}
	}
	count := 0
	for i := 1; i < len(timeline); i++ {
		if timeline[i-1] && !timeline[i] {
			count++
		}
	}
	return count
}

// testTimeline collects the chronological pass/fail states of one test case
// for one student across the history. Outcomes are matched by stable ID when
// the current outcome carries one, by table position otherwise. Snapshots
// missing the student, the question, or the test contribute nothing.
func testTimeline(history []model.Snapshot, username string, qIdx, tIdx int, outcome model.TestCaseOutcome) []bool {
	var timeline []bool
	for _, snap := range history {
		student := snap.Student(username)
		if student == nil || qIdx >= len(student.Questions) {
			continue
		}
		results := student.Questions[qIdx].TestResults
		if outcome.ID != "" {
			for i := range results {
				if results[i].ID == outcome.ID {
					timeline = append(timeline, results[i].Passed)
					break
				}
			}
			continue
		}
		if tIdx < len(results) {
			timeline = append(timeline, results[tIdx].Passed)
		}
	}
	return timeline
}

// QuestionRegressions sums the regression counts of every test case of one
// question, as currently defined for the student.
func QuestionRegressions(history []model.Snapshot, username string, qIdx int, q model.QuestionRecord) int {
	total := 0
	for tIdx, outcome := range q.TestResults {
		total += RegressionCount(testTimeline(history, username, qIdx, tIdx, outcome))
	}
	return total
}

// FailureRanking counts failing test cells across the current roster and
// returns them ordered by failure count, most failed first. Cells with equal
// counts keep their first-encountered order. Question and test numbers are
// 1-based.
func FailureRanking(current []model.StudentRecord) []model.FailureCell {
	type key struct{ q, t int }
	counts := make(map[key]int)
	var order []key
	for _, student := range current {
		for qIdx, q := range student.Questions {
			for tIdx, tc := range q.TestResults {
				if tc.Passed {
					continue
				}
				k := key{qIdx, tIdx}
				if _, seen := counts[k]; !seen {
					order = append(order, k)
				}
				counts[k]++
			}
		}
	}
	cells := make([]model.FailureCell, 0, len(order))
	for _, k := range order {
		cells = append(cells, model.FailureCell{Question: k.q + 1, Test: k.t + 1, Failures: counts[k]})
	}
	sort.SliceStable(cells, func(i, j int) bool { return cells[i].Failures > cells[j].Failures })
	return cells
}

// Summarize aggregates report rows into cohort figures. Students whose
// fetch failed are counted but excluded from the averages.
func Summarize(rows []model.StudentReport) model.ClassSummary {
	sum := model.ClassSummary{Students: len(rows)}
	var (
		qSums   []float64
		qCounts []int
		total   float64
		counted int
	)
	for _, row := range rows {
		if row.FetchFailed {
			sum.FailedFetches++
			continue
		}
		var studentTotal float64
		for qIdx, q := range row.Questions {
			if qIdx >= len(qSums) {
				qSums = append(qSums, 0)
				qCounts = append(qCounts, 0)
			}
			qSums[qIdx] += q.ScorePercent
			qCounts[qIdx]++
			studentTotal += q.ScorePercent
		}
		if len(row.Questions) > 0 {
			total += studentTotal / float64(len(row.Questions))
			counted++
		}
		if row.TotalRegressions > 0 || row.HasTinkering {
			sum.AtRisk = append(sum.AtRisk, row.Username)
		}
	}
	if counted > 0 {
		sum.AverageScore = round1(total / float64(counted))
	}
	for i := range qSums {
		qSums[i] = round1(qSums[i] / float64(qCounts[i]))
	}
	sum.QuestionAverages = qSums
	return sum
}

// BuildReport runs the full analysis of a quiz: the latest snapshot's roster
// is the report surface, and history supplies the timelines behind the
// regression counts.
func BuildReport(quizID string, current []model.StudentRecord, history []model.Snapshot) *model.QuizReport {
	rows := make([]model.StudentReport, 0, len(current))
	for _, student := range current {
		row := model.StudentReport{
			Username:      student.Username,
			QuizStartTime: student.QuizStartTime,
			FetchFailed:   student.FetchFailed,
		}
		for qIdx, q := range student.Questions {
			regressions := QuestionRegressions(history, student.Username, qIdx, q)
			row.Questions = append(row.Questions, model.QuestionReport{
				ScorePercent: q.FinalScorePercent,
				Regressions:  regressions,
				Tinkering:    q.HasTinkering,
				Submissions:  q.TotalSubmissions,
			})
			row.TotalRegressions += regressions
			if q.HasTinkering {
				row.HasTinkering = true
			}
		}
		rows = append(rows, row)
	}
	return &model.QuizReport{
		QuizID:         quizID,
		GeneratedAt:    time.Now().UTC(),
		Snapshots:      len(history),
		Rows:           rows,
		FailureRanking: FailureRanking(current),
		Summary:        Summarize(rows),
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
