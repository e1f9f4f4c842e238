// Package report assembles stored records into per-run documents for
// offline inspection.
package report

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethpandaops/scopeoor/pkg/record"
	"github.com/ethpandaops/scopeoor/pkg/store"
)

// ErrRunNotFound is returned when no run has the requested id.
var ErrRunNotFound = errors.New("run not found")

// Summary counts the contents of a run.
type Summary struct {
	Suites       int `json:"suites" yaml:"suites"`
	Tests        int `json:"tests" yaml:"tests"`
	FailedTests  int `json:"failed_tests" yaml:"failed_tests"`
	Failures     int `json:"failures" yaml:"failures"`
	Measurements int `json:"measurements" yaml:"measurements"`
}

// RunReport is everything recorded for one run, each list ordered by
// insertion.
type RunReport struct {
	Run      record.TestRun     `json:"run" yaml:"run"`
	Summary  Summary            `json:"summary" yaml:"summary"`
	Suites   []record.TestSuite `json:"suites" yaml:"suites"`
	Tests    []record.TestCase  `json:"tests" yaml:"tests"`
	Failures []record.Failure   `json:"failures" yaml:"failures"`

	Numeric []record.NumericMeasurement `json:"numeric_measurements" yaml:"numeric_measurements"`
	String  []record.StringMeasurement  `json:"string_measurements" yaml:"string_measurements"`
	Boolean []record.BooleanMeasurement `json:"boolean_measurements" yaml:"boolean_measurements"`
	Series  []record.SeriesMeasurement  `json:"series_measurements" yaml:"series_measurements"`
}

// RunID returns the id of the reported run.
func (r *RunReport) RunID() int {
	return r.Run.RunID
}

// ListRuns returns stored runs, newest first. A limit of 0 returns all.
func ListRuns(ctx context.Context, e store.Engine, limit int) ([]record.TestRun, error) {
	q, err := store.NewQuery[record.TestRun](ctx, e)
	if errors.Is(err, store.ErrTableNotFound) {
		return []record.TestRun{}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	q = q.OrderBy("run_id", store.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}

	runs, err := q.All()
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	return runs, nil
}

// Run loads the run row of runID.
func Run(ctx context.Context, e store.Engine, runID int) (record.TestRun, error) {
	runQuery, err := store.NewQuery[record.TestRun](ctx, e)
	if errors.Is(err, store.ErrTableNotFound) {
		return record.TestRun{}, fmt.Errorf("%w: %d", ErrRunNotFound, runID)
	}

	if err != nil {
		return record.TestRun{}, fmt.Errorf("loading run %d: %w", runID, err)
	}

	run, found, err := runQuery.Where("run_id", runID).First()
	if err != nil {
		return record.TestRun{}, fmt.Errorf("loading run %d: %w", runID, err)
	}

	if !found {
		return record.TestRun{}, fmt.Errorf("%w: %d", ErrRunNotFound, runID)
	}

	return run, nil
}

// Build loads the report of runID.
func Build(ctx context.Context, e store.Engine, runID int) (*RunReport, error) {
	run, err := Run(ctx, e, runID)
	if err != nil {
		return nil, err
	}

	rep := &RunReport{Run: run}

	if rep.Suites, err = forRun[record.TestSuite](ctx, e, runID); err != nil {
		return nil, err
	}

	if rep.Tests, err = forRun[record.TestCase](ctx, e, runID); err != nil {
		return nil, err
	}

	if rep.Failures, err = forRun[record.Failure](ctx, e, runID); err != nil {
		return nil, err
	}

	if rep.Numeric, err = forRun[record.NumericMeasurement](ctx, e, runID); err != nil {
		return nil, err
	}

	if rep.String, err = forRun[record.StringMeasurement](ctx, e, runID); err != nil {
		return nil, err
	}

	if rep.Boolean, err = forRun[record.BooleanMeasurement](ctx, e, runID); err != nil {
		return nil, err
	}

	if rep.Series, err = forRun[record.SeriesMeasurement](ctx, e, runID); err != nil {
		return nil, err
	}

	rep.Summary = summarize(rep)

	return rep, nil
}

// Failures loads only the failures of runID.
func Failures(ctx context.Context, e store.Engine, runID int) ([]record.Failure, error) {
	if _, err := Run(ctx, e, runID); err != nil {
		return nil, err
	}

	return forRun[record.Failure](ctx, e, runID)
}

// forRun loads the records of T for runID. A table that was never created
// holds no records.
func forRun[T any](ctx context.Context, e store.Engine, runID int) ([]T, error) {
	q, err := store.NewQuery[T](ctx, e)
	if errors.Is(err, store.ErrTableNotFound) {
		return []T{}, nil
	}

	if err != nil {
		return nil, err
	}

	out, err := q.Where("run_id", runID).OrderBy("id", store.Asc).All()
	if err != nil {
		return nil, fmt.Errorf("loading %s for run %d: %w", q.Table().Name, runID, err)
	}

	return out, nil
}

func summarize(rep *RunReport) Summary {
	s := Summary{
		Suites:   len(rep.Suites),
		Tests:    len(rep.Tests),
		Failures: len(rep.Failures),
		Measurements: len(rep.Numeric) + len(rep.String) +
			len(rep.Boolean) + len(rep.Series),
	}

	for _, tc := range rep.Tests {
		if tc.Status == record.StatusFail {
			s.FailedTests++
		}
	}

	return s
}
