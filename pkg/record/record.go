// Package record defines the typed records persisted by scopeoor.
//
// Each exported struct maps onto one table. Fields carry a `db` tag naming
// their column; embedded structs tagged `db:",squash"` contribute their
// columns to the embedding record.
package record

import "time"

// Status values conventionally used by event records.
const (
	StatusPass = "PASS"
	StatusFail = "FAIL"
)

// Record is implemented by every persistable record. The run id is
// stamped by the storage engine at write time.
type Record interface {
	GetRunID() int
	SetRunID(id int)
}

// Base carries the run identifier shared by all records.
type Base struct {
	RunID int `db:"run_id" json:"run_id" yaml:"run_id"`
}

// GetRunID returns the run the record belongs to.
func (b *Base) GetRunID() int {
	return b.RunID
}

// SetRunID attributes the record to a run.
func (b *Base) SetRunID(id int) {
	b.RunID = id
}

// Event holds the timing and outcome fields shared by runs, suites and
// test cases.
type Event struct {
	Base `db:",squash" yaml:",inline"`

	Name        string     `db:"name" json:"name" yaml:"name"`
	StartTime   time.Time  `db:"start_time" json:"start_time" yaml:"start_time"`
	EndTime     *time.Time `db:"end_time" json:"end_time,omitempty" yaml:"end_time,omitempty"`
	ElapsedTime float64    `db:"elapsed_time" json:"elapsed_time" yaml:"elapsed_time"`
	Status      string     `db:"status" json:"status" yaml:"status"`
}

// TestRun is one full execution of a suite tree.
type TestRun struct {
	Event `db:",squash" yaml:",inline"`

	Meta map[string]string `db:"meta" json:"meta,omitempty" yaml:"meta,omitempty"`
}

// TestSuite is a grouping node of a run. ParentSuiteID is nil for
// top-level suites.
type TestSuite struct {
	Event `db:",squash" yaml:",inline"`

	SuiteID       int               `db:"suite_id" json:"suite_id" yaml:"suite_id"`
	ParentSuiteID *int              `db:"parent_suite_id" json:"parent_suite_id,omitempty" yaml:"parent_suite_id,omitempty"`
	Meta          map[string]string `db:"meta" json:"meta,omitempty" yaml:"meta,omitempty"`
}

// TestCase is a leaf execution unit of a suite.
type TestCase struct {
	Event `db:",squash" yaml:",inline"`

	SuiteID *int     `db:"suite_id" json:"suite_id,omitempty" yaml:"suite_id,omitempty"`
	TestID  int      `db:"test_id" json:"test_id" yaml:"test_id"`
	Tags    []string `db:"tags" json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Failure is a failed execution step, independent of the measurement and
// event hierarchy.
type Failure struct {
	Base `db:",squash" yaml:",inline"`

	SuiteID   *int      `db:"suite_id" json:"suite_id,omitempty" yaml:"suite_id,omitempty"`
	TestID    *int      `db:"test_id" json:"test_id,omitempty" yaml:"test_id,omitempty"`
	Source    string    `db:"source" json:"source" yaml:"source"`
	Details   string    `db:"details" json:"details" yaml:"details"`
	Timestamp time.Time `db:"timestamp" json:"timestamp" yaml:"timestamp"`
}

// Compile-time interface checks.
var (
	_ Record = (*TestRun)(nil)
	_ Record = (*TestSuite)(nil)
	_ Record = (*TestCase)(nil)
	_ Record = (*Failure)(nil)
)

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}

// FloatPtr returns a pointer to v.
func FloatPtr(v float64) *float64 {
	return &v
}

// StringPtr returns a pointer to v.
func StringPtr(v string) *string {
	return &v
}

// TimePtr returns a pointer to v.
func TimePtr(v time.Time) *time.Time {
	return &v
}
