package listener_test

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/scopeoor/pkg/listener"
	"github.com/ethpandaops/scopeoor/pkg/record"
	"github.com/ethpandaops/scopeoor/pkg/store"
)

func newLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func TestParseMeta(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    map[string]string
		wantErr bool
	}{
		{name: "empty", input: "", want: map[string]string{}},
		{name: "single", input: "env=ci", want: map[string]string{"env": "ci"}},
		{
			name:  "trimmed",
			input: " env = ci , board= rev-b ",
			want:  map[string]string{"env": "ci", "board": "rev-b"},
		},
		{
			name:  "value with equals",
			input: "query=a=b",
			want:  map[string]string{"query": "a=b"},
		},
		{name: "missing equals", input: "env=ci,broken", wantErr: true},
		{name: "trailing comma", input: "env=ci,", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := listener.ParseMeta(tt.input)
			if tt.wantErr {
				require.ErrorIs(t, err, listener.ErrInvalidMeta)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// setupTestListener returns a listener over a shared in-memory engine. The
// engine is not disconnected by the listener's Close in these tests.
func setupTestListener(t *testing.T, meta string) (listener.Listener, store.Engine) {
	t.Helper()

	e := store.NewEngine(newLogger())
	t.Cleanup(func() { _ = e.Disconnect() })

	l := listener.New(newLogger(), e, listener.Config{
		DatabaseURL: "sqlite://:memory:",
		RunName:     "Nightly",
		RunMeta:     meta,
	})

	return l, e
}

func at(sec int) time.Time {
	return time.Date(2025, 2, 1, 7, 0, sec, 0, time.UTC)
}

func result(name, status string, start, end int) listener.Result {
	return listener.Result{
		Name:      name,
		StartTime: at(start),
		EndTime:   record.TimePtr(at(end)),
		Status:    status,
	}
}

func TestListener_LazyInitialization(t *testing.T) {
	l, e := setupTestListener(t, "env=ci,board=rev-b")
	ctx := context.Background()

	assert.False(t, l.Initialized())
	assert.False(t, e.Connected())

	require.NoError(t, l.StartSuite(ctx, "Root"))

	assert.True(t, l.Initialized())
	assert.True(t, e.Connected())

	runID, ok := l.RunID()
	require.True(t, ok)
	assert.Equal(t, 1, runID)

	q, err := store.NewQuery[record.TestRun](ctx, e)
	require.NoError(t, err)

	run, found, err := q.First()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Nightly", run.Name)
	assert.Equal(t, map[string]string{"env": "ci", "board": "rev-b"}, run.Meta)
}

func TestListener_InvalidMetaFailsBeforeConnecting(t *testing.T) {
	l, e := setupTestListener(t, "no-equals-here")

	err := l.StartSuite(context.Background(), "Root")
	require.ErrorIs(t, err, listener.ErrInvalidMeta)
	assert.False(t, l.Initialized())
	assert.False(t, e.Connected())
}

func TestListener_SuiteTreeAndTests(t *testing.T) {
	l, e := setupTestListener(t, "")
	ctx := context.Background()

	require.NoError(t, l.StartSuite(ctx, "Root"))
	require.NoError(t, l.StartSuite(ctx, "Child"))

	require.NotNil(t, l.CurrentSuiteID())
	assert.Equal(t, 2, *l.CurrentSuiteID())
	assert.Nil(t, l.CurrentTestID())

	require.NoError(t, l.StartTest(ctx, "Test A"))
	require.NotNil(t, l.CurrentTestID())
	assert.Equal(t, 1, *l.CurrentTestID())

	require.NoError(t, l.EndKeyword(ctx, listener.KeywordResult{Name: "Log", Status: "PASS"}))
	require.NoError(t, l.EndKeyword(ctx, listener.KeywordResult{
		Name: "Should Be Equal", Status: "FAIL", Message: "1 != 2", EndTime: at(3),
	}))

	require.NoError(t, l.EndTest(ctx, listener.TestResult{
		Result: result("Test A", "FAIL", 1, 4),
		Tags:   []string{"smoke"},
	}))
	assert.Nil(t, l.CurrentTestID())

	require.NoError(t, l.EndSuite(ctx, listener.SuiteResult{Result: result("Child", "FAIL", 0, 5)}))
	require.NoError(t, l.EndSuite(ctx, listener.SuiteResult{
		Result: result("Root", "FAIL", 0, 6),
		Meta:   map[string]string{"owner": "qa"},
	}))
	assert.Nil(t, l.CurrentSuiteID())

	sq, err := store.NewQuery[record.TestSuite](ctx, e)
	require.NoError(t, err)

	suites, err := sq.OrderBy("suite_id", store.Asc).All()
	require.NoError(t, err)
	require.Len(t, suites, 2)

	assert.Equal(t, "Root", suites[0].Name)
	assert.Nil(t, suites[0].ParentSuiteID)
	assert.Equal(t, map[string]string{"owner": "qa"}, suites[0].Meta)

	assert.Equal(t, "Child", suites[1].Name)
	require.NotNil(t, suites[1].ParentSuiteID)
	assert.Equal(t, 1, *suites[1].ParentSuiteID)
	assert.InDelta(t, 5.0, suites[1].ElapsedTime, 1e-9)

	tq, err := store.NewQuery[record.TestCase](ctx, e)
	require.NoError(t, err)

	tc, found, err := tq.First()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 1, tc.TestID)
	require.NotNil(t, tc.SuiteID)
	assert.Equal(t, 2, *tc.SuiteID)
	assert.Equal(t, []string{"smoke"}, tc.Tags)

	fq, err := store.NewQuery[record.Failure](ctx, e)
	require.NoError(t, err)

	failures, err := fq.All()
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "Should Be Equal", failures[0].Source)
	assert.Equal(t, "1 != 2", failures[0].Details)
	require.NotNil(t, failures[0].TestID)
	assert.Equal(t, 1, *failures[0].TestID)
	assert.True(t, at(3).Equal(failures[0].Timestamp))
}

func TestListener_EndSuiteWithoutStart(t *testing.T) {
	l, _ := setupTestListener(t, "")

	err := l.EndSuite(context.Background(), listener.SuiteResult{Result: listener.Result{Name: "Ghost"}})
	assert.ErrorIs(t, err, listener.ErrNoSuite)
}

func TestListener_EndTestWithoutStart(t *testing.T) {
	l, e := setupTestListener(t, "")
	ctx := context.Background()

	require.NoError(t, l.StartSuite(ctx, "Root"))

	err := l.EndTest(ctx, listener.TestResult{Result: listener.Result{Name: "Ghost"}})
	require.ErrorIs(t, err, listener.ErrNoTest)

	// Nothing was recorded for the test that never started.
	q, err := store.NewQuery[record.TestCase](ctx, e)
	require.NoError(t, err)

	n, err := q.Count()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestListener_StartTestBeforeRun(t *testing.T) {
	l, _ := setupTestListener(t, "")

	err := l.StartTest(context.Background(), "Orphan")
	assert.ErrorIs(t, err, store.ErrNoActiveRun)
}

func TestListener_CloseAggregatesRun(t *testing.T) {
	e := store.NewEngine(newLogger())
	ctx := context.Background()

	dir := t.TempDir()
	url := "sqlite://" + dir + "/results.db"

	l := listener.New(newLogger(), e, listener.Config{DatabaseURL: url, RunName: "Close"})

	require.NoError(t, l.StartSuite(ctx, "Root"))
	require.NoError(t, l.StartSuite(ctx, "Child"))
	require.NoError(t, l.EndSuite(ctx, listener.SuiteResult{Result: result("Child", "PASS", 4, 9)}))
	require.NoError(t, l.EndSuite(ctx, listener.SuiteResult{Result: result("Root", "PASS", 0, 9)}))
	require.NoError(t, l.Close(ctx))

	assert.False(t, l.Initialized())
	assert.False(t, e.Connected())

	// Reopen the file to inspect the finalized run.
	require.NoError(t, e.Connect(ctx, url))
	t.Cleanup(func() { _ = e.Disconnect() })

	q, err := store.NewQuery[record.TestRun](ctx, e)
	require.NoError(t, err)

	run, found, err := q.First()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, record.StatusPass, run.Status)
	assert.True(t, at(0).Equal(run.StartTime))
	assert.InDelta(t, 4.0, run.ElapsedTime, 1e-9)
}

func TestListener_CloseWithoutInitialization(t *testing.T) {
	l, e := setupTestListener(t, "")

	require.NoError(t, l.Close(context.Background()))
	assert.False(t, e.Connected())
}
