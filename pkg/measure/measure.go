// Package measure validates measurements and records every observation,
// passing or failing, through the store.
package measure

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/scopeoor/pkg/record"
	"github.com/ethpandaops/scopeoor/pkg/store"
)

// ErrUnsupportedMode is returned for a string comparison mode other than
// log, equal, not_equal or regex.
var ErrUnsupportedMode = errors.New("unsupported string comparison mode")

// AssertionError is a failed check. The observation has already been
// recorded when it is returned.
type AssertionError struct {
	Kind    string
	Name    string
	Message string
}

func (e *AssertionError) Error() string {
	return e.Message
}

// IsAssertion reports whether err is a failed check.
func IsAssertion(err error) bool {
	var ae *AssertionError

	return errors.As(err, &ae)
}

// ContextProvider supplies the suite and test new measurements are
// attributed to. Either id may be nil.
type ContextProvider interface {
	CurrentSuiteID() *int
	CurrentTestID() *int
}

// NumericCheck holds the inputs of a numeric check. Nil limits are
// unbounded.
type NumericCheck struct {
	Name         string
	Value        float64
	LowerLimit   *float64
	UpperLimit   *float64
	Unit         string
	ErrorMessage string
	Meta         map[string]string
}

// StringCheck holds the inputs of a string check. An empty mode means
// equal. Without an expected value nothing is compared.
type StringCheck struct {
	Name          string
	Value         string
	ExpectedValue *string
	Mode          string
	IgnoreCase    bool
	ErrorMessage  string
	Meta          map[string]string
}

// BooleanCheck holds the inputs of a boolean check.
type BooleanCheck struct {
	Name          string
	Value         bool
	ExpectedValue bool
	ErrorMessage  string
	Meta          map[string]string
}

// SeriesCheck holds the inputs of a series check. Limits are aligned with
// YData by index; missing entries are unbounded.
type SeriesCheck struct {
	Name         string
	XData        []float64
	YData        []float64
	LowerLimits  []float64
	UpperLimits  []float64
	XLabel       string
	YLabel       string
	XUnit        string
	YUnit        string
	ErrorMessage string
	Meta         map[string]string
}

// Checker records measurements and evaluates their pass/fail outcome.
// A nil error means the check passed. Failed checks return an
// *AssertionError; store.ErrNoActiveRun and configuration errors are
// returned as is. Persistence failures are logged and do not fail a check.
type Checker interface {
	CheckNumeric(ctx context.Context, in NumericCheck) error
	CheckString(ctx context.Context, in StringCheck) error
	CheckBoolean(ctx context.Context, in BooleanCheck) error
	CheckSeries(ctx context.Context, in SeriesCheck) error
}

// Compile-time interface check.
var _ Checker = (*checker)(nil)

type checker struct {
	log      logrus.FieldLogger
	engine   store.Engine
	provider ContextProvider
	now      func() time.Time
}

// NewChecker creates a checker writing to engine. engine may be nil, in
// which case measurements are only validated. A nil provider attributes
// measurements to the engine's most recently allocated suite and test.
func NewChecker(
	log logrus.FieldLogger, engine store.Engine, provider ContextProvider,
) Checker {
	return &checker{
		log:      log.WithField("component", "measure"),
		engine:   engine,
		provider: provider,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (c *checker) CheckNumeric(ctx context.Context, in NumericCheck) error {
	m := &record.NumericMeasurement{
		Name:       in.Name,
		Value:      in.Value,
		LowerLimit: in.LowerLimit,
		UpperLimit: in.UpperLimit,
		Unit:       in.Unit,
		Meta:       in.Meta,
	}

	if err := c.record(ctx, m, &m.Measurement); err != nil {
		return err
	}

	lower, upper := bounds(in.LowerLimit, in.UpperLimit)
	if lower <= in.Value && in.Value <= upper {
		return nil
	}

	return &AssertionError{
		Kind: "numeric",
		Name: in.Name,
		Message: fmt.Sprintf("Numeric check failed: %s not in [%s...%s].%s",
			formatValue(in.Value, in.Unit),
			formatValue(lower, in.Unit),
			formatValue(upper, in.Unit),
			suffix(in.ErrorMessage)),
	}
}

func (c *checker) CheckString(ctx context.Context, in StringCheck) error {
	mode := in.Mode
	if mode == "" {
		mode = record.ModeEqual
	}

	// Configuration errors are raised before anything is recorded.
	var pattern *regexp.Regexp

	switch mode {
	case record.ModeLog, record.ModeEqual, record.ModeNotEqual:
	case record.ModeRegex:
		if in.ExpectedValue != nil {
			var err error

			pattern, err = compileMatch(*in.ExpectedValue, in.IgnoreCase)
			if err != nil {
				return fmt.Errorf("string check %q: invalid pattern: %w", in.Name, err)
			}
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedMode, in.Mode)
	}

	m := &record.StringMeasurement{
		Name:          in.Name,
		Value:         in.Value,
		ExpectedValue: in.ExpectedValue,
		Mode:          mode,
		IgnoreCase:    in.IgnoreCase,
		Meta:          in.Meta,
	}

	if err := c.record(ctx, m, &m.Measurement); err != nil {
		return err
	}

	if in.ExpectedValue == nil {
		return nil
	}

	expected := *in.ExpectedValue

	got, want := in.Value, expected
	if in.IgnoreCase {
		got, want = strings.ToLower(got), strings.ToLower(want)
	}

	var msg string

	switch mode {
	case record.ModeLog:
		c.log.WithFields(logrus.Fields{
			"name":     in.Name,
			"value":    in.Value,
			"expected": expected,
		}).Info("String log")

		return nil
	case record.ModeEqual:
		if got == want {
			return nil
		}

		msg = fmt.Sprintf("String check failed: '%s' != '%s'.", in.Value, expected)
	case record.ModeNotEqual:
		if got != want {
			return nil
		}

		msg = fmt.Sprintf("String check failed: '%s' == '%s' (unexpected).", in.Value, expected)
	case record.ModeRegex:
		if pattern.MatchString(in.Value) {
			return nil
		}

		msg = fmt.Sprintf("String regex check failed: '%s' does not match '%s'.", in.Value, expected)
	}

	return &AssertionError{Kind: "string", Name: in.Name, Message: msg + suffix(in.ErrorMessage)}
}

func (c *checker) CheckBoolean(ctx context.Context, in BooleanCheck) error {
	m := &record.BooleanMeasurement{
		Name:          in.Name,
		Value:         in.Value,
		ExpectedValue: in.ExpectedValue,
		Meta:          in.Meta,
	}

	if err := c.record(ctx, m, &m.Measurement); err != nil {
		return err
	}

	if in.Value == in.ExpectedValue {
		return nil
	}

	return &AssertionError{
		Kind: "boolean",
		Name: in.Name,
		Message: fmt.Sprintf("Boolean check failed: %t != %t.%s",
			in.Value, in.ExpectedValue, suffix(in.ErrorMessage)),
	}
}

// CheckSeries stops at the first sample outside its limits; later samples
// are not evaluated.
func (c *checker) CheckSeries(ctx context.Context, in SeriesCheck) error {
	m := &record.SeriesMeasurement{
		Name:        in.Name,
		XData:       nonNil(in.XData),
		YData:       nonNil(in.YData),
		LowerLimits: nonNil(in.LowerLimits),
		UpperLimits: nonNil(in.UpperLimits),
		XLabel:      in.XLabel,
		YLabel:      in.YLabel,
		XUnit:       in.XUnit,
		YUnit:       in.YUnit,
		Meta:        in.Meta,
	}

	if err := c.record(ctx, m, &m.Measurement); err != nil {
		return err
	}

	for i, y := range in.YData {
		lower, upper := math.Inf(-1), math.Inf(1)

		if i < len(in.LowerLimits) {
			lower = in.LowerLimits[i]
		}

		if i < len(in.UpperLimits) {
			upper = in.UpperLimits[i]
		}

		if lower <= y && y <= upper {
			continue
		}

		return &AssertionError{
			Kind: "series",
			Name: in.Name,
			Message: fmt.Sprintf("Series check failed at index %d: %s not in [%s...%s].%s",
				i, formatFloat(y), formatFloat(lower), formatFloat(upper),
				suffix(in.ErrorMessage)),
		}
	}

	return nil
}

// record persists rec attributed to the current context. Only run-state
// errors are returned; anything else is logged.
func (c *checker) record(
	ctx context.Context, rec record.Record, m *record.Measurement,
) error {
	log := c.log.WithField("measurement", fmt.Sprintf("%T", rec))

	if c.engine == nil || !c.engine.Connected() {
		log.Warn("Database not connected, measurement not recorded")

		return nil
	}

	m.Timestamp = c.now()
	m.SetContext(c.currentContext())

	err := c.engine.AddRecord(ctx, rec)
	if err == nil {
		return nil
	}

	if errors.Is(err, store.ErrNoActiveRun) {
		return err
	}

	log.WithError(err).Error("Failed to record measurement")

	return nil
}

func (c *checker) currentContext() (suiteID, testID *int) {
	if c.provider != nil {
		return c.provider.CurrentSuiteID(), c.provider.CurrentTestID()
	}

	active, ok := c.engine.RunState().(store.ActiveRun)
	if !ok {
		return nil, nil
	}

	if active.SuiteCounter > 0 {
		suiteID = record.IntPtr(active.SuiteCounter)
	}

	if active.TestCounter > 0 {
		testID = record.IntPtr(active.TestCounter)
	}

	return suiteID, testID
}

// compileMatch builds a pattern that, like a prefix match, only has to
// match at the start of the value.
func compileMatch(expr string, ignoreCase bool) (*regexp.Regexp, error) {
	flags := ""
	if ignoreCase {
		flags = "(?i)"
	}

	return regexp.Compile(flags + "^(?:" + expr + ")")
}

func bounds(lower, upper *float64) (float64, float64) {
	lo, hi := math.Inf(-1), math.Inf(1)

	if lower != nil {
		lo = *lower
	}

	if upper != nil {
		hi = *upper
	}

	return lo, hi
}

// formatValue renders v with an SI prefix when a unit is given.
func formatValue(v float64, unit string) string {
	if unit == "" {
		return formatFloat(v)
	}

	if math.IsInf(v, 0) {
		return formatFloat(v) + " " + unit
	}

	return humanize.SIWithDigits(v, 3, unit)
}

func formatFloat(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	default:
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
}

func suffix(msg string) string {
	if msg == "" {
		return ""
	}

	return " " + msg
}

func nonNil(v []float64) []float64 {
	if v == nil {
		return []float64{}
	}

	return v
}
