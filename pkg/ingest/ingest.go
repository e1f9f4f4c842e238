// Package ingest replays a JSON-lines stream of runner events through a
// listener and a measurement checker.
package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/scopeoor/pkg/listener"
	"github.com/ethpandaops/scopeoor/pkg/measure"
)

// maxLineSize bounds a single event line.
const maxLineSize = 16 * 1024 * 1024

// ErrUnknownEvent is returned for an event type the stream does not know.
var ErrUnknownEvent = errors.New("unknown event type")

// Result summarizes an ingested stream.
type Result struct {
	Events         int      `json:"events"`
	Checks         int      `json:"checks"`
	FailedChecks   int      `json:"failed_checks"`
	FailedMessages []string `json:"failed_messages,omitempty"`
	RunID          int      `json:"run_id"`
	Closed         bool     `json:"closed"`
}

// Ingester dispatches decoded events.
type Ingester struct {
	log      logrus.FieldLogger
	listener listener.Listener
	checker  measure.Checker
}

// New creates an ingester. checker should use l as its context provider so
// measurements land on the current suite and test.
func New(log logrus.FieldLogger, l listener.Listener, checker measure.Checker) *Ingester {
	return &Ingester{
		log:      log.WithField("component", "ingest"),
		listener: l,
		checker:  checker,
	}
}

// Run reads events from r until a close event or EOF. Failed checks are
// counted and do not stop the stream; any other error aborts it. A stream
// that ends without a close event is closed at EOF.
func (i *Ingester) Run(ctx context.Context, r io.Reader) (*Result, error) {
	res := &Result{}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	line := 0

	for scanner.Scan() {
		line++

		if err := ctx.Err(); err != nil {
			return res, err
		}

		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			return res, fmt.Errorf("line %d: decoding event: %w", line, err)
		}

		res.Events++

		if err := i.dispatch(ctx, &ev, res); err != nil {
			return res, fmt.Errorf("line %d: %s event: %w", line, ev.Type, err)
		}

		if res.Closed {
			break
		}
	}

	if err := scanner.Err(); err != nil {
		return res, fmt.Errorf("reading events: %w", err)
	}

	if !res.Closed {
		i.log.Debug("Event stream ended without close, closing run")

		if err := i.close(ctx, res); err != nil {
			return res, err
		}
	}

	i.log.WithFields(logrus.Fields{
		"events":        res.Events,
		"checks":        res.Checks,
		"failed_checks": res.FailedChecks,
		"run_id":        res.RunID,
	}).Info("Ingest complete")

	return res, nil
}

func (i *Ingester) dispatch(ctx context.Context, ev *Event, res *Result) error {
	switch ev.Type {
	case TypeSuiteStart:
		return i.listener.StartSuite(ctx, ev.Name)
	case TypeSuiteEnd:
		return i.listener.EndSuite(ctx, listener.SuiteResult{Result: ev.result(), Meta: ev.Meta})
	case TypeTestStart:
		return i.listener.StartTest(ctx, ev.Name)
	case TypeTestEnd:
		return i.listener.EndTest(ctx, listener.TestResult{Result: ev.result(), Tags: ev.Tags})
	case TypeKeywordEnd:
		kw := listener.KeywordResult{
			Name:    ev.Name,
			Status:  ev.Status,
			Message: ev.Message,
		}

		if ev.EndTime != nil {
			kw.EndTime = ev.EndTime.UTC()
		}

		return i.listener.EndKeyword(ctx, kw)
	case TypeNumeric, TypeString, TypeBoolean, TypeSeries:
		return i.check(ctx, ev, res)
	case TypeClose:
		return i.close(ctx, res)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Type)
	}
}

func (i *Ingester) check(ctx context.Context, ev *Event, res *Result) error {
	var err error

	switch ev.Type {
	case TypeNumeric:
		err = i.checkNumeric(ctx, ev)
	case TypeString:
		err = i.checkString(ctx, ev)
	case TypeBoolean:
		err = i.checkBoolean(ctx, ev)
	case TypeSeries:
		err = i.checker.CheckSeries(ctx, measure.SeriesCheck{
			Name:         ev.Name,
			XData:        ev.XData,
			YData:        ev.YData,
			LowerLimits:  ev.LowerLimits,
			UpperLimits:  ev.UpperLimits,
			XLabel:       ev.XLabel,
			YLabel:       ev.YLabel,
			XUnit:        ev.XUnit,
			YUnit:        ev.YUnit,
			ErrorMessage: ev.ErrorMessage,
			Meta:         ev.Meta,
		})
	}

	if err == nil {
		res.Checks++

		return nil
	}

	if !measure.IsAssertion(err) {
		return err
	}

	res.Checks++
	res.FailedChecks++
	res.FailedMessages = append(res.FailedMessages, err.Error())

	i.log.WithField("measurement", ev.Name).Warn(err.Error())

	return nil
}

func (i *Ingester) checkNumeric(ctx context.Context, ev *Event) error {
	v, err := ev.numberValue()
	if err != nil {
		return err
	}

	return i.checker.CheckNumeric(ctx, measure.NumericCheck{
		Name:         ev.Name,
		Value:        v,
		LowerLimit:   ev.LowerLimit,
		UpperLimit:   ev.UpperLimit,
		Unit:         ev.Unit,
		ErrorMessage: ev.ErrorMessage,
		Meta:         ev.Meta,
	})
}

func (i *Ingester) checkString(ctx context.Context, ev *Event) error {
	v, err := ev.stringValue()
	if err != nil {
		return err
	}

	expected, err := ev.expectedString()
	if err != nil {
		return err
	}

	return i.checker.CheckString(ctx, measure.StringCheck{
		Name:          ev.Name,
		Value:         v,
		ExpectedValue: expected,
		Mode:          ev.Mode,
		IgnoreCase:    ev.IgnoreCase,
		ErrorMessage:  ev.ErrorMessage,
		Meta:          ev.Meta,
	})
}

func (i *Ingester) checkBoolean(ctx context.Context, ev *Event) error {
	v, err := ev.boolValue()
	if err != nil {
		return err
	}

	expected, err := ev.expectedBool()
	if err != nil {
		return err
	}

	return i.checker.CheckBoolean(ctx, measure.BooleanCheck{
		Name:          ev.Name,
		Value:         v,
		ExpectedValue: expected,
		ErrorMessage:  ev.ErrorMessage,
		Meta:          ev.Meta,
	})
}

func (i *Ingester) close(ctx context.Context, res *Result) error {
	if runID, ok := i.listener.RunID(); ok {
		res.RunID = runID
	}

	res.Closed = true

	return i.listener.Close(ctx)
}

func (e *Event) result() listener.Result {
	r := listener.Result{
		Name:        e.Name,
		ElapsedTime: e.ElapsedTime,
		Status:      e.Status,
	}

	if e.StartTime != nil {
		r.StartTime = e.StartTime.UTC()
	}

	if e.EndTime != nil {
		end := e.EndTime.UTC()
		r.EndTime = &end
	}

	return r
}
