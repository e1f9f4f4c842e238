package ingest

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event types.
const (
	TypeSuiteStart = "suite_start"
	TypeSuiteEnd   = "suite_end"
	TypeTestStart  = "test_start"
	TypeTestEnd    = "test_end"
	TypeKeywordEnd = "keyword_end"
	TypeNumeric    = "numeric"
	TypeString     = "string"
	TypeBoolean    = "boolean"
	TypeSeries     = "series"
	TypeClose      = "close"
)

// Event is one line of the event stream. Which fields are meaningful
// depends on Type.
type Event struct {
	Type string `json:"type"`
	Name string `json:"name"`

	// Lifecycle results.
	StartTime   *time.Time        `json:"start_time,omitempty"`
	EndTime     *time.Time        `json:"end_time,omitempty"`
	ElapsedTime float64           `json:"elapsed_time,omitempty"`
	Status      string            `json:"status,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Message     string            `json:"message,omitempty"`
	Meta        map[string]string `json:"meta,omitempty"`

	// Measurement inputs. Value and ExpectedValue are a number, string
	// or boolean depending on Type.
	Value         json.RawMessage `json:"value,omitempty"`
	ExpectedValue json.RawMessage `json:"expected_value,omitempty"`
	LowerLimit    *float64        `json:"lower_limit,omitempty"`
	UpperLimit    *float64        `json:"upper_limit,omitempty"`
	Unit          string          `json:"unit,omitempty"`
	Mode          string          `json:"mode,omitempty"`
	IgnoreCase    bool            `json:"ignore_case,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`

	XData       []float64 `json:"x_data,omitempty"`
	YData       []float64 `json:"y_data,omitempty"`
	LowerLimits []float64 `json:"lower_limits,omitempty"`
	UpperLimits []float64 `json:"upper_limits,omitempty"`
	XLabel      string    `json:"x_label,omitempty"`
	YLabel      string    `json:"y_label,omitempty"`
	XUnit       string    `json:"x_unit,omitempty"`
	YUnit       string    `json:"y_unit,omitempty"`
}

func (e *Event) numberValue() (float64, error) {
	var v float64
	if err := decodeField("value", e.Value, &v); err != nil {
		return 0, err
	}

	return v, nil
}

func (e *Event) stringValue() (string, error) {
	var v string
	if err := decodeField("value", e.Value, &v); err != nil {
		return "", err
	}

	return v, nil
}

func (e *Event) expectedString() (*string, error) {
	if isAbsent(e.ExpectedValue) {
		return nil, nil
	}

	var v string
	if err := decodeField("expected_value", e.ExpectedValue, &v); err != nil {
		return nil, err
	}

	return &v, nil
}

func (e *Event) boolValue() (bool, error) {
	var v bool
	if err := decodeField("value", e.Value, &v); err != nil {
		return false, err
	}

	return v, nil
}

// expectedBool defaults to true.
func (e *Event) expectedBool() (bool, error) {
	if isAbsent(e.ExpectedValue) {
		return true, nil
	}

	var v bool
	if err := decodeField("expected_value", e.ExpectedValue, &v); err != nil {
		return false, err
	}

	return v, nil
}

func isAbsent(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func decodeField(name string, raw json.RawMessage, out any) error {
	if isAbsent(raw) {
		return fmt.Errorf("missing %s", name)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}

	return nil
}
