package extract

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/quizpulse/quizpulse/internal/model"
)

// ErrMalformedDocument reports input that could not be parsed as a document
// at all. Anything less than that degrades to default values instead.
var ErrMalformedDocument = errors.New("malformed document")

// tinkeringThreshold is the number of timestamped submissions on a single
// question that flags trial-and-error behavior.
const tinkeringThreshold = 4

// Extractor turns attempt-review documents into student records.
// It is stateless and safe for concurrent use.
type Extractor struct {
	loc Locale
}

// New creates an Extractor for the given locale.
func New(loc Locale) *Extractor {
	return &Extractor{loc: loc}
}

// Extract parses one attempt-review document into the student's record.
// Missing or malformed sub-elements never fail the extraction; they yield
// empty or default values.
func (e *Extractor) Extract(r io.Reader, username string) (*model.StudentRecord, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	return e.ExtractDocument(doc, username), nil
}

// ExtractDocument is Extract for an already parsed document.
func (e *Extractor) ExtractDocument(doc *goquery.Document, username string) *model.StudentRecord {
	rec := &model.StudentRecord{Username: username}
	rec.QuizStartTime, rec.QuizEndTime = e.quizTimes(doc)
	doc.Find("div.que.coderunner").Each(func(_ int, div *goquery.Selection) {
		rec.Questions = append(rec.Questions, e.question(div))
	})
	return rec
}

func (e *Extractor) question(div *goquery.Selection) model.QuestionRecord {
	var q model.QuestionRecord

	partial, total, degraded := e.grading(div)
	q.ScoreDegraded = degraded
	if total > 0 {
		q.FinalScorePercent = round1(partial / total * 100)
	}

	q.TestResults = e.testResults(div)
	q.SubmissionHistory = e.history(div)

	subs := q.Submissions()
	q.TotalSubmissions = len(subs)
	if q.TotalSubmissions < 1 {
		q.TotalSubmissions = 1
	}

	if len(subs) > 0 {
		q.FirstSubmissionTime = subs[0].Timestamp
	}
	stamped := 0
	for _, sub := range subs {
		if sub.Timestamp != nil {
			stamped++
		}
	}
	for i := 1; i < len(subs); i++ {
		prev, curr := subs[i-1].Timestamp, subs[i].Timestamp
		if prev == nil || curr == nil {
			continue
		}
		q.InterSubmissionDeltasMin = append(q.InterSubmissionDeltasMin, int(curr.Sub(*prev).Minutes()))
	}
	q.HasTinkering = stamped >= tinkeringThreshold

	if badge := div.Find("div.correctness.badge").First(); badge.Length() > 0 {
		status := strings.TrimSpace(badge.Text())
		q.FinalStatus = &status
	}

	return q
}

// grading returns the question's partial and total score. A missing grading
// element yields the (0, 1) ungraded default; a present but unparsable one
// yields the same default flagged as degraded.
func (e *Extractor) grading(div *goquery.Selection) (partial, total float64, degraded bool) {
	g := div.Find("div.gradingdetails").First()
	if g.Length() == 0 {
		return 0.0, 1.0, false
	}
	fields := strings.Fields(g.Text())
	if len(fields) == 0 {
		return 0.0, 1.0, true
	}
	p, t, found := strings.Cut(fields[len(fields)-1], "/")
	if !found {
		return 0.0, 1.0, true
	}
	pv, perr := e.loc.ParseDecimal(p)
	tv, terr := e.loc.ParseGrouped(t)
	if perr != nil || terr != nil {
		return 0.0, 1.0, true
	}
	return pv, tv, false
}

func (e *Extractor) testResults(div *goquery.Selection) []model.TestCaseOutcome {
	var out []model.TestCaseOutcome
	table := div.Find("table.coderunner-test-results").First()
	table.Find("tbody tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 4 {
			return
		}
		out = append(out, model.TestCaseOutcome{
			ID:     testCaseID(cells.Eq(1).Text(), cells.Eq(2).Text()),
			Passed: cells.Eq(0).Find("i").First().HasClass("fa-check"),
		})
	})
	return out
}

func (e *Extractor) history(div *goquery.Selection) []model.SubmissionEvent {
	var events []model.SubmissionEvent
	table := div.Find("div.history table.generaltable").First()
	table.Find("tbody tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 5 {
			return
		}
		var score *float64
		if txt := strings.TrimSpace(cells.Eq(4).Text()); txt != "" {
			if v, err := e.loc.ParseDecimal(txt); err == nil {
				score = &v
			}
		}
		action := strings.TrimSpace(cells.Eq(2).Text())
		events = append(events, model.SubmissionEvent{
			Step:         strings.TrimSpace(cells.Eq(0).Text()),
			Timestamp:    e.loc.ParseTimestamp(cells.Eq(1).Text()),
			State:        strings.TrimSpace(cells.Eq(3).Text()),
			Score:        score,
			IsSubmission: strings.HasPrefix(action, e.loc.SubmitPrefix),
		})
	})
	return events
}

// quizTimes reads the attempt summary table for the localized started and
// finished rows.
func (e *Extractor) quizTimes(doc *goquery.Document) (start, end *time.Time) {
	doc.Find("table.quizreviewsummary tr").Each(func(_ int, row *goquery.Selection) {
		label := strings.TrimSpace(row.Find("th").First().Text())
		value := row.Find("td").First().Text()
		switch {
		case strings.EqualFold(label, e.loc.StartedLabel):
			start = e.loc.ParseVerboseDate(value)
		case strings.EqualFold(label, e.loc.FinishedLabel):
			end = e.loc.ParseVerboseDate(value)
		}
	})
	return start, end
}

// testCaseID derives a stable identifier from the cells that define a test
// case, so timelines survive reordering between syncs.
func testCaseID(input, expected string) string {
	input, expected = strings.TrimSpace(input), strings.TrimSpace(expected)
	if input == "" && expected == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(input + "\x00" + expected))
	return hex.EncodeToString(sum[:8])
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
