// Package reporting renders integrity reports: a Markdown summary and a CSV of issues.
package reporting

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"position-ledger/internal/domain"
	"position-ledger/internal/storage"
)

// Report represents the integrity report structure.
type Report struct {
	GeneratedAt time.Time

	Statistics domain.PositionStatistics

	// Issue counts (sorted by count desc, then key)
	ByType     []CountRow
	BySeverity []CountRow
	ByStatus   []CountRow

	// Unresolved issues, newest first
	OpenIssues []domain.IntegrityIssue

	// Recent validate-all runs, newest first
	Runs []*domain.BatchRun
}

// CountRow is one line of a breakdown table.
type CountRow struct {
	Key   string
	Count int
}

// Source provides the data a report is built from.
type Source interface {
	Statistics(ctx context.Context, filter domain.PositionFilter) (*domain.PositionStatistics, error)
	Issues(ctx context.Context, filter domain.IssueFilter) ([]domain.IntegrityIssue, error)
	RecentRuns(ctx context.Context, limit int) ([]*domain.BatchRun, error)
}

// Options for Generate.
type Options struct {
	Filter     domain.PositionFilter
	RunLimit   int // default 10
	IssueLimit int // open issues listed, 0 = all
	Now        func() time.Time
}

// Generate loads statistics, issues and runs from src.
func Generate(ctx context.Context, src Source, opts Options) (*Report, error) {
	if opts.RunLimit <= 0 {
		opts.RunLimit = 10
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	stats, err := src.Statistics(ctx, opts.Filter)
	if err != nil {
		return nil, fmt.Errorf("load statistics: %w", err)
	}
	issues, err := src.Issues(ctx, domain.IssueFilter{})
	if err != nil {
		return nil, fmt.Errorf("load issues: %w", err)
	}
	runs, err := src.RecentRuns(ctx, opts.RunLimit)
	if errors.Is(err, storage.ErrNotFound) {
		runs, err = nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load runs: %w", err)
	}

	r := &Report{
		GeneratedAt: opts.Now().UTC(),
		Statistics:  *stats,
		Runs:        runs,
	}

	byType := map[string]int{}
	bySeverity := map[string]int{}
	byStatus := map[string]int{}
	for _, i := range issues {
		byStatus[string(i.Status)]++
		if i.Status.IsFinal() {
			continue
		}
		byType[string(i.Type)]++
		bySeverity[string(i.Severity)]++
		if opts.IssueLimit == 0 || len(r.OpenIssues) < opts.IssueLimit {
			r.OpenIssues = append(r.OpenIssues, i)
		}
	}
	r.ByType = sortedCounts(byType)
	r.BySeverity = sortedCounts(bySeverity)
	r.ByStatus = sortedCounts(byStatus)
	return r, nil
}

func sortedCounts(m map[string]int) []CountRow {
	rows := make([]CountRow, 0, len(m))
	for k, v := range m {
		rows = append(rows, CountRow{Key: k, Count: v})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].Key < rows[j].Key
	})
	return rows
}
