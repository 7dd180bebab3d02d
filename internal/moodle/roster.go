package moodle

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/quizpulse/quizpulse/internal/extract"
)

// RosterEntry pairs one student with the URL of their attempt-review page.
type RosterEntry struct {
	Username  string
	ReviewURL string
}

// ParseRoster reads the attempts table of an overview report page. A row
// counts only when its name cell links to a review page; header, summary,
// and not-yet-attempted rows have no such link and are skipped. The review
// link's own label is stripped from the cell text to recover the name.
func ParseRoster(doc *goquery.Document, loc extract.Locale) []RosterEntry {
	var entries []RosterEntry
	table := doc.Find("table#attempts, table.generaltable").First()
	table.Find("tbody tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 3 {
			return
		}
		cell := cells.Eq(2)
		href, ok := cell.Find(`a[href*="review.php"]`).First().Attr("href")
		if !ok {
			return
		}
		name := strings.TrimSpace(strings.ReplaceAll(cell.Text(), loc.ReviewLinkLabel, ""))
		if name == "" {
			return
		}
		entries = append(entries, RosterEntry{Username: name, ReviewURL: href})
	})
	return entries
}
