package extract

import (
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
)

// Locale bundles the document conventions of one Moodle language pack.
// Parsing is table-driven: supporting another language means adding a table,
// not new code paths.
type Locale struct {
	Tag language.Tag

	// DecimalSep and GroupSep are the locale's numeric separators.
	DecimalSep rune
	GroupSep   rune

	// Months maps lowercase month names and abbreviations to month numbers.
	Months map[string]time.Month

	// TimestampLayout is the short date format of history rows.
	TimestampLayout string

	// SubmitPrefix marks history actions that are real submissions, as
	// opposed to saves and state changes.
	SubmitPrefix string

	// ReviewLinkLabel is the link text stripped from roster cells to
	// recover the student name.
	ReviewLinkLabel string

	// StartedLabel and FinishedLabel match the attempt summary rows that
	// carry the quiz start and end times.
	StartedLabel  string
	FinishedLabel string
}

// BrazilianPortuguese matches documents rendered by Moodle's pt_br pack.
var BrazilianPortuguese = Locale{
	Tag:        language.BrazilianPortuguese,
	DecimalSep: ',',
	GroupSep:   '.',
	Months: map[string]time.Month{
		"janeiro": time.January, "jan": time.January,
		"fevereiro": time.February, "fev": time.February,
		"março": time.March, "mar": time.March,
		"abril": time.April, "abr": time.April,
		"maio": time.May, "mai": time.May,
		"junho": time.June, "jun": time.June,
		"julho": time.July, "jul": time.July,
		"agosto": time.August, "ago": time.August,
		"setembro": time.September, "set": time.September,
		"outubro": time.October, "out": time.October,
		"novembro": time.November, "nov": time.November,
		"dezembro": time.December, "dez": time.December,
	},
	TimestampLayout: "02/01/2006 15:04",
	SubmitPrefix:    "Enviar:",
	ReviewLinkLabel: "Revisão de tentativa",
	StartedLabel:    "Iniciado em",
	FinishedLabel:   "Concluída em",
}

// English matches documents rendered by Moodle's en pack.
var English = Locale{
	Tag:        language.English,
	DecimalSep: '.',
	GroupSep:   ',',
	Months: map[string]time.Month{
		"january": time.January, "jan": time.January,
		"february": time.February, "feb": time.February,
		"march": time.March, "mar": time.March,
		"april": time.April, "apr": time.April,
		"may": time.May,
		"june": time.June, "jun": time.June,
		"july": time.July, "jul": time.July,
		"august": time.August, "aug": time.August,
		"september": time.September, "sep": time.September,
		"october": time.October, "oct": time.October,
		"november": time.November, "nov": time.November,
		"december": time.December, "dec": time.December,
	},
	TimestampLayout: "02/01/2006 15:04",
	SubmitPrefix:    "Submit:",
	ReviewLinkLabel: "Review attempt",
	StartedLabel:    "Started on",
	FinishedLabel:   "Completed on",
}

// DefaultLocale is used when no locale is configured.
var DefaultLocale = BrazilianPortuguese

// ParseDecimal parses a number whose only special character is the decimal
// separator: "7,50" parses to 7.5 under pt-BR rules.
func (l Locale) ParseDecimal(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if l.DecimalSep != '.' {
		s = strings.ReplaceAll(s, string(l.DecimalSep), ".")
	}
	return strconv.ParseFloat(s, 64)
}

// ParseGrouped parses a number that may carry group separators in addition
// to the decimal separator: "1.000,50" parses to 1000.5 under pt-BR rules.
func (l Locale) ParseGrouped(s string) (float64, error) {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, string(l.GroupSep), "")
	if l.DecimalSep != '.' {
		s = strings.ReplaceAll(s, string(l.DecimalSep), ".")
	}
	return strconv.ParseFloat(s, 64)
}

// ParseTimestamp parses the short date format of history rows.
// Returns nil when the text does not match the layout.
func (l Locale) ParseTimestamp(s string) *time.Time {
	t, err := time.Parse(l.TimestampLayout, strings.TrimSpace(s))
	if err != nil {
		return nil
	}
	return &t
}

// ParseVerboseDate parses the long localized dates of attempt summaries,
// accepting both "13 de março de 2025, 14:02" and "13 mar. 2025, 14:02",
// with or without a leading weekday. Returns nil when the text does not
// contain a day, month, year, and clock in that order.
func (l Locale) ParseVerboseDate(s string) *time.Time {
	fields := strings.Fields(strings.ToLower(strings.ReplaceAll(s, ",", " ")))
	var (
		day, year    int
		month        time.Month
		hour, minute = -1, 0
	)
	for _, f := range fields {
		f = strings.TrimSuffix(f, ".")
		switch {
		case day == 0:
			// Weekday names and other prose before the day are skipped.
			if n, err := strconv.Atoi(f); err == nil && n >= 1 && n <= 31 {
				day = n
			}
		case month == 0:
			// Particles such as "de" fall through until a month matches.
			if m, ok := l.Months[f]; ok {
				month = m
			}
		case year == 0:
			if n, err := strconv.Atoi(f); err == nil && n >= 1000 {
				year = n
			}
		case hour < 0:
			if hh, mm, ok := parseClock(f); ok {
				hour, minute = hh, mm
			}
		case f == "pm" && hour < 12:
			hour += 12
		case f == "am" && hour == 12:
			hour = 0
		}
	}
	if day == 0 || month == 0 || year == 0 || hour < 0 {
		return nil
	}
	t := time.Date(year, month, day, hour, minute, 0, 0, time.UTC)
	return &t
}

func parseClock(s string) (hh, mm int, ok bool) {
	h, m, found := strings.Cut(s, ":")
	if !found {
		return 0, 0, false
	}
	hh, err1 := strconv.Atoi(h)
	mm, err2 := strconv.Atoi(m)
	if err1 != nil || err2 != nil || hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return 0, 0, false
	}
	return hh, mm, true
}
