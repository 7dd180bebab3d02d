package moodle

import (
	"context"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"

	"github.com/quizpulse/quizpulse/internal/extract"
	"github.com/quizpulse/quizpulse/internal/model"
)

// DocumentFetcher fetches one page as a parsed document. *Client implements
// it; tests substitute their own.
type DocumentFetcher interface {
	FetchDocument(ctx context.Context, url string) (*goquery.Document, error)
}

// FetchWarning records one student whose page could not be retrieved.
type FetchWarning struct {
	Username string
	Err      error
}

const defaultParallel = 8

// Coordinator fans per-student page fetches out over a bounded worker set
// and extracts each document as it arrives.
type Coordinator struct {
	fetcher   DocumentFetcher
	extractor *extract.Extractor
	parallel  int
}

// NewCoordinator builds a coordinator. parallel bounds in-flight fetches;
// zero or negative selects the default.
func NewCoordinator(f DocumentFetcher, ex *extract.Extractor, parallel int) *Coordinator {
	if parallel <= 0 {
		parallel = defaultParallel
	}
	return &Coordinator{fetcher: f, extractor: ex, parallel: parallel}
}

// FetchAll retrieves and extracts every roster entry. Each input entry
// yields exactly one record in the same order. A failed fetch degrades to an
// empty record marked FetchFailed plus a warning; it never aborts the batch.
func (co *Coordinator) FetchAll(ctx context.Context, entries []RosterEntry) ([]model.StudentRecord, []FetchWarning) {
	records := make([]model.StudentRecord, len(entries))
	failures := make([]error, len(entries))

	var g errgroup.Group
	g.SetLimit(co.parallel)
	for i, entry := range entries {
		i, entry := i, entry
		g.Go(func() error {
			doc, err := co.fetcher.FetchDocument(ctx, entry.ReviewURL)
			if err != nil {
				records[i] = model.StudentRecord{Username: entry.Username, FetchFailed: true}
				failures[i] = err
				return nil
			}
			records[i] = *co.extractor.ExtractDocument(doc, entry.Username)
			return nil
		})
	}
	g.Wait()

	var warnings []FetchWarning
	for i, err := range failures {
		if err != nil {
			warnings = append(warnings, FetchWarning{Username: entries[i].Username, Err: err})
		}
	}
	return records, warnings
}
