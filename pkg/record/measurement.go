package record

import "time"

// String comparison modes.
const (
	ModeLog      = "log"
	ModeEqual    = "equal"
	ModeNotEqual = "not_equal"
	ModeRegex    = "regex"
)

// Measurement holds the context fields shared by all measurement kinds.
// SuiteID and TestID are nil when no suite or test was active.
type Measurement struct {
	Base `db:",squash" yaml:",inline"`

	SuiteID   *int      `db:"suite_id" json:"suite_id,omitempty" yaml:"suite_id,omitempty"`
	TestID    *int      `db:"test_id" json:"test_id,omitempty" yaml:"test_id,omitempty"`
	Timestamp time.Time `db:"timestamp" json:"timestamp" yaml:"timestamp"`
}

// SetContext attributes the measurement to a suite and test.
func (m *Measurement) SetContext(suiteID, testID *int) {
	m.SuiteID = suiteID
	m.TestID = testID
}

// NumericMeasurement is a value checked against an optional closed range.
type NumericMeasurement struct {
	Measurement `db:",squash" yaml:",inline"`

	Name       string            `db:"name" json:"name" yaml:"name"`
	Value      float64           `db:"value" json:"value" yaml:"value"`
	LowerLimit *float64          `db:"lower_limit" json:"lower_limit,omitempty" yaml:"lower_limit,omitempty"`
	UpperLimit *float64          `db:"upper_limit" json:"upper_limit,omitempty" yaml:"upper_limit,omitempty"`
	Unit       string            `db:"unit" json:"unit,omitempty" yaml:"unit,omitempty"`
	Meta       map[string]string `db:"meta" json:"meta,omitempty" yaml:"meta,omitempty"`
}

// StringMeasurement is a string compared according to Mode.
type StringMeasurement struct {
	Measurement `db:",squash" yaml:",inline"`

	Name          string            `db:"name" json:"name" yaml:"name"`
	Value         string            `db:"value" json:"value" yaml:"value"`
	ExpectedValue *string           `db:"expected_value" json:"expected_value,omitempty" yaml:"expected_value,omitempty"`
	Mode          string            `db:"mode" json:"mode" yaml:"mode"`
	IgnoreCase    bool              `db:"ignore_case" json:"ignore_case" yaml:"ignore_case"`
	Meta          map[string]string `db:"meta" json:"meta,omitempty" yaml:"meta,omitempty"`
}

// BooleanMeasurement is a flag compared with its expected value.
type BooleanMeasurement struct {
	Measurement `db:",squash" yaml:",inline"`

	Name          string            `db:"name" json:"name" yaml:"name"`
	Value         bool              `db:"value" json:"value" yaml:"value"`
	ExpectedValue bool              `db:"expected_value" json:"expected_value" yaml:"expected_value"`
	Meta          map[string]string `db:"meta" json:"meta,omitempty" yaml:"meta,omitempty"`
}

// SeriesMeasurement is a sequence of samples checked against per-index
// limits. Limit slices are index-aligned with YData and may be shorter.
type SeriesMeasurement struct {
	Measurement `db:",squash" yaml:",inline"`

	Name        string            `db:"name" json:"name" yaml:"name"`
	XData       []float64         `db:"x_data" json:"x_data,omitempty" yaml:"x_data,omitempty"`
	YData       []float64         `db:"y_data" json:"y_data" yaml:"y_data"`
	LowerLimits []float64         `db:"lower_limits" json:"lower_limits,omitempty" yaml:"lower_limits,omitempty"`
	UpperLimits []float64         `db:"upper_limits" json:"upper_limits,omitempty" yaml:"upper_limits,omitempty"`
	XLabel      string            `db:"x_label" json:"x_label,omitempty" yaml:"x_label,omitempty"`
	YLabel      string            `db:"y_label" json:"y_label,omitempty" yaml:"y_label,omitempty"`
	XUnit       string            `db:"x_unit" json:"x_unit,omitempty" yaml:"x_unit,omitempty"`
	YUnit       string            `db:"y_unit" json:"y_unit,omitempty" yaml:"y_unit,omitempty"`
	Meta        map[string]string `db:"meta" json:"meta,omitempty" yaml:"meta,omitempty"`
}

// Contextual is implemented by records that carry a suite/test context.
type Contextual interface {
	Record
	SetContext(suiteID, testID *int)
}

var (
	_ Contextual = (*NumericMeasurement)(nil)
	_ Contextual = (*StringMeasurement)(nil)
	_ Contextual = (*BooleanMeasurement)(nil)
	_ Contextual = (*SeriesMeasurement)(nil)
)

// All returns a zero value of every built-in record type, in table
// creation order.
func All() []Record {
	return []Record{
		&TestRun{},
		&TestSuite{},
		&TestCase{},
		&Failure{},
		&NumericMeasurement{},
		&StringMeasurement{},
		&BooleanMeasurement{},
		&SeriesMeasurement{},
	}
}
