// Package listener adapts test-runner lifecycle callbacks onto the store:
// it tracks the suite stack and the current test and records suites,
// test cases and failed keywords.
package listener

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/scopeoor/pkg/measure"
	"github.com/ethpandaops/scopeoor/pkg/record"
	"github.com/ethpandaops/scopeoor/pkg/store"
)

// ErrInvalidMeta is returned for a run meta string that is not a comma
// separated list of key=value pairs.
var ErrInvalidMeta = errors.New("invalid meta string")

// ErrNoSuite is returned when a suite ends that was never started.
var ErrNoSuite = errors.New("no suite in progress")

// ErrNoTest is returned when a test ends that was never started.
var ErrNoTest = errors.New("no test in progress")

// Config configures the run a listener starts.
type Config struct {
	DatabaseURL string
	RunName     string
	// RunMeta has the form "key1=value1,key2=value2".
	RunMeta string
}

// Result carries the outcome of a suite or test as reported by the runner.
type Result struct {
	Name        string
	StartTime   time.Time
	EndTime     *time.Time
	ElapsedTime float64
	Status      string
}

// SuiteResult is the outcome of a finished suite.
type SuiteResult struct {
	Result
	Meta map[string]string
}

// TestResult is the outcome of a finished test case.
type TestResult struct {
	Result
	Tags []string
}

// KeywordResult is the outcome of a finished keyword.
type KeywordResult struct {
	Name    string
	Status  string
	Message string
	EndTime time.Time
}

// Listener receives runner lifecycle events. The run is started lazily on
// the first suite start.
type Listener interface {
	measure.ContextProvider

	StartSuite(ctx context.Context, name string) error
	EndSuite(ctx context.Context, res SuiteResult) error
	StartTest(ctx context.Context, name string) error
	EndTest(ctx context.Context, res TestResult) error
	EndKeyword(ctx context.Context, res KeywordResult) error
	// Close ends the run and disconnects. It only warns when no run was
	// ever started.
	Close(ctx context.Context) error

	Initialized() bool
	RunID() (int, bool)
}

// Compile-time interface check.
var _ Listener = (*listener)(nil)

type listener struct {
	log    logrus.FieldLogger
	engine store.Engine
	cfg    Config

	mu          sync.Mutex
	initialized bool
	runID       int
	suites      []int
	testID      *int
}

// New creates a listener recording into engine.
func New(log logrus.FieldLogger, engine store.Engine, cfg Config) Listener {
	return &listener{
		log:    log.WithField("component", "listener"),
		engine: engine,
		cfg:    cfg,
	}
}

// ParseMeta parses "key1=value1,key2=value2". Keys and values are trimmed
// and a value may itself contain '='. An empty string yields an empty map.
func ParseMeta(s string) (map[string]string, error) {
	meta := make(map[string]string)

	if s == "" {
		return meta, nil
	}

	for _, item := range strings.Split(s, ",") {
		key, value, ok := strings.Cut(item, "=")
		if !ok {
			return nil, fmt.Errorf(
				"%w: %q: expected 'key1=value1,key2=value2'", ErrInvalidMeta, s)
		}

		meta[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}

	return meta, nil
}

func (l *listener) initLocked(ctx context.Context) error {
	meta, err := ParseMeta(l.cfg.RunMeta)
	if err != nil {
		return err
	}

	l.log.WithField("meta", meta).Info("Initializing listener")

	if err := l.engine.Connect(ctx, l.cfg.DatabaseURL); err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}

	runID, err := l.engine.StartRun(ctx, l.cfg.RunName, meta)
	if err != nil {
		return fmt.Errorf("starting run: %w", err)
	}

	l.runID = runID
	l.initialized = true

	return nil
}

func (l *listener) StartSuite(ctx context.Context, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.initialized {
		if err := l.initLocked(ctx); err != nil {
			return err
		}
	}

	suiteID, err := l.engine.AllocateSuiteID()
	if err != nil {
		return err
	}

	l.log.WithFields(logrus.Fields{
		"suite":           name,
		"suite_id":        suiteID,
		"parent_suite_id": l.parentLocked(),
	}).Info("Starting suite")

	l.suites = append(l.suites, suiteID)

	return nil
}

func (l *listener) EndSuite(ctx context.Context, res SuiteResult) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.suites) == 0 {
		return fmt.Errorf("%w: ending suite %q", ErrNoSuite, res.Name)
	}

	suiteID := l.suites[len(l.suites)-1]
	l.suites = l.suites[:len(l.suites)-1]

	l.log.WithFields(logrus.Fields{
		"suite":    res.Name,
		"suite_id": suiteID,
		"status":   res.Status,
	}).Info("Ending suite")

	return l.addLocked(ctx, &record.TestSuite{
		Event:         res.event(),
		SuiteID:       suiteID,
		ParentSuiteID: l.parentLocked(),
		Meta:          res.Meta,
	})
}

func (l *listener) StartTest(ctx context.Context, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	testID, err := l.engine.AllocateTestID()
	if err != nil {
		return err
	}

	l.log.WithFields(logrus.Fields{
		"test":     name,
		"test_id":  testID,
		"suite_id": l.currentSuiteLocked(),
	}).Info("Starting test")

	l.testID = &testID

	return nil
}

func (l *listener) EndTest(ctx context.Context, res TestResult) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.testID == nil {
		return fmt.Errorf("%w: ending test %q", ErrNoTest, res.Name)
	}

	testID := *l.testID

	l.log.WithFields(logrus.Fields{
		"test":     res.Name,
		"test_id":  testID,
		"suite_id": l.currentSuiteLocked(),
		"tags":     res.Tags,
	}).Info("Ending test")

	tags := res.Tags
	if tags == nil {
		tags = []string{}
	}

	err := l.addLocked(ctx, &record.TestCase{
		Event:   res.event(),
		SuiteID: l.currentSuiteLocked(),
		TestID:  testID,
		Tags:    tags,
	})

	l.testID = nil

	return err
}

// EndKeyword records a failure for keywords that failed and ignores all
// others.
func (l *listener) EndKeyword(ctx context.Context, res KeywordResult) error {
	if res.Status != record.StatusFail {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.log.WithFields(logrus.Fields{
		"keyword":  res.Name,
		"test_id":  l.testID,
		"suite_id": l.currentSuiteLocked(),
	}).Info("Recording failure")

	ts := res.EndTime
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	return l.addLocked(ctx, &record.Failure{
		SuiteID:   l.currentSuiteLocked(),
		TestID:    l.testID,
		Source:    res.Name,
		Details:   res.Message,
		Timestamp: ts,
	})
}

func (l *listener) Close(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.initialized {
		l.log.Warn("Database was not initialized, skipping end of run and disconnect")

		return nil
	}

	l.log.WithField("run_id", l.runID).Info("Closing listener")

	endErr := l.engine.EndRun(ctx)
	if endErr != nil && errors.Is(endErr, store.ErrPersist) {
		l.log.WithError(endErr).Error("Failed to finalize run")

		endErr = nil
	}

	l.initialized = false
	l.suites = nil
	l.testID = nil

	return errors.Join(endErr, l.engine.Disconnect())
}

func (l *listener) CurrentSuiteID() *int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.currentSuiteLocked()
}

func (l *listener) CurrentTestID() *int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.testID == nil {
		return nil
	}

	return record.IntPtr(*l.testID)
}

func (l *listener) Initialized() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.initialized
}

func (l *listener) RunID() (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.runID, l.initialized
}

func (l *listener) currentSuiteLocked() *int {
	if len(l.suites) == 0 {
		return nil
	}

	return record.IntPtr(l.suites[len(l.suites)-1])
}

// parentLocked is the suite a newly started or just ended suite nests in.
func (l *listener) parentLocked() *int {
	return l.currentSuiteLocked()
}

// addLocked writes rec. Persistence failures are logged and swallowed.
func (l *listener) addLocked(ctx context.Context, rec record.Record) error {
	err := l.engine.AddRecord(ctx, rec)
	if err == nil || !errors.Is(err, store.ErrPersist) {
		return err
	}

	l.log.WithError(err).WithField("record", fmt.Sprintf("%T", rec)).
		Error("Failed to record event")

	return nil
}

func (r Result) event() record.Event {
	elapsed := r.ElapsedTime
	if elapsed == 0 && r.EndTime != nil && !r.StartTime.IsZero() {
		elapsed = r.EndTime.Sub(r.StartTime).Seconds()
	}

	return record.Event{
		Name:        r.Name,
		StartTime:   r.StartTime,
		EndTime:     r.EndTime,
		ElapsedTime: elapsed,
		Status:      r.Status,
	}
}
