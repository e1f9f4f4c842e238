package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ethpandaops/scopeoor/pkg/record"
	"github.com/ethpandaops/scopeoor/pkg/schema"
)

func at(sec int) time.Time {
	return time.Date(2025, 1, 1, 12, 0, sec, 0, time.UTC)
}

func TestAggregateStatus(t *testing.T) {
	tests := []struct {
		name     string
		statuses []string
		want     string
	}{
		{name: "no suites", want: record.StatusPass},
		{name: "all pass", statuses: []string{"PASS", "PASS"}, want: record.StatusPass},
		{name: "one fail", statuses: []string{"PASS", "FAIL", "PASS"}, want: record.StatusFail},
		{name: "other statuses", statuses: []string{"SKIP", "NOT RUN"}, want: record.StatusPass},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			suites := make([]record.TestSuite, 0, len(tt.statuses))
			for _, s := range tt.statuses {
				suites = append(suites, record.TestSuite{Event: record.Event{Status: s}})
			}

			assert.Equal(t, tt.want, aggregateStatus(suites))
		})
	}
}

func TestAggregateTiming(t *testing.T) {
	suite := func(start time.Time, end *time.Time) record.TestSuite {
		return record.TestSuite{Event: record.Event{StartTime: start, EndTime: end}}
	}

	tests := []struct {
		name      string
		suites    []record.TestSuite
		wantStart time.Time
		wantEnd   time.Time
		wantOK    bool
	}{
		{name: "empty"},
		{
			name:   "no timing",
			suites: []record.TestSuite{suite(time.Time{}, nil)},
		},
		{
			name: "overlapping suites",
			suites: []record.TestSuite{
				suite(at(10), record.TimePtr(at(20))),
				suite(at(5), record.TimePtr(at(15))),
			},
			wantStart: at(5),
			wantEnd:   at(10),
			wantOK:    true,
		},
		{
			name: "end times are ignored",
			suites: []record.TestSuite{
				suite(at(1), record.TimePtr(at(3))),
				suite(at(9), nil),
			},
			wantStart: at(1),
			wantEnd:   at(9),
			wantOK:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, ok := aggregateTiming(tt.suites)

			assert.Equal(t, tt.wantOK, ok)
			assert.True(t, tt.wantStart.Equal(start), "start %s", start)
			assert.True(t, tt.wantEnd.Equal(end), "end %s", end)
		})
	}
}

func TestOpenDialector(t *testing.T) {
	tests := []struct {
		url         string
		wantDialect string
		wantErr     bool
	}{
		{url: "sqlite://results.db", wantDialect: schema.DialectSQLite},
		{url: "sqlite3://:memory:", wantDialect: schema.DialectSQLite},
		{url: "SQLITE:///tmp/x.db", wantDialect: schema.DialectSQLite},
		{url: "postgres://u:p@localhost:5432/db", wantDialect: schema.DialectPostgres},
		{url: "postgresql://localhost/db", wantDialect: schema.DialectPostgres},
		{url: "sqlite://", wantErr: true},
		{url: "mysql://localhost/db", wantErr: true},
		{url: "results.db", wantErr: true},
		{url: "://x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			dialector, dialect, err := openDialector(tt.url)
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.NotNil(t, dialector)
			assert.Equal(t, tt.wantDialect, dialect)
		})
	}
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "postgres://bob:xxxxx@db:5432/results",
		redactURL("postgres://bob:secret@db:5432/results"))
	assert.Equal(t, "postgres://bob@db/results", redactURL("postgres://bob@db/results"))
	assert.Equal(t, "sqlite://results.db", redactURL("sqlite://results.db"))
	assert.Equal(t, "garbage", redactURL("garbage"))
}

func TestParseTime(t *testing.T) {
	want := time.Date(2025, 6, 1, 8, 30, 15, 500000000, time.UTC)

	inputs := []string{
		"2025-06-01 08:30:15.5 +0000 UTC",
		"2025-06-01 08:30:15.5 +0000 UTC m=+0.001",
		"2025-06-01 10:30:15.5+02:00",
		"2025-06-01T08:30:15.5Z",
		"2025-06-01 08:30:15.5",
	}

	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			got, err := parseTime(in)
			require.NoError(t, err)
			assert.True(t, want.Equal(got), "got %s", got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}

	_, err := parseTime("yesterday")
	assert.Error(t, err)
}

func TestEncodeValue(t *testing.T) {
	listCol := schema.Column{Name: "tags", Kind: schema.KindList}
	timeCol := schema.Column{Name: "start_time", Kind: schema.KindTime}
	intCol := schema.Column{Name: "suite_id", Kind: schema.KindInt, Nullable: true}

	v, err := encodeValue(listCol, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, `["a","b"]`, v)

	v, err = encodeValue(listCol, []string(nil))
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = encodeValue(timeCol, time.Time{})
	require.NoError(t, err)
	assert.Nil(t, v)

	local := time.Date(2025, 1, 1, 14, 0, 0, 0, time.FixedZone("CET", 3600))
	v, err = encodeValue(timeCol, local)
	require.NoError(t, err)
	assert.Equal(t, local.UTC(), v)

	v, err = encodeValue(intCol, (*int)(nil))
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = encodeValue(intCol, record.IntPtr(3))
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)

	_, err = encodeValue(timeCol, "not a time")
	assert.Error(t, err)
}

func TestDecodeRow(t *testing.T) {
	table, err := schema.NewRegistry().Derive(&record.StringMeasurement{})
	require.NoError(t, err)

	got, err := decodeRow[record.StringMeasurement](table, map[string]any{
		"id":             int64(99),
		"run_id":         int64(4),
		"suite_id":       int64(2),
		"test_id":        nil,
		"timestamp":      "2025-06-01 08:30:15 +0000 UTC",
		"name":           "firmware",
		"value":          []byte("v1.2"),
		"expected_value": "v1.*",
		"mode":           record.ModeRegex,
		"ignore_case":    int64(1),
		"meta":           `{"board":"rev-b"}`,
	})
	require.NoError(t, err)

	assert.Equal(t, 4, got.RunID)
	require.NotNil(t, got.SuiteID)
	assert.Equal(t, 2, *got.SuiteID)
	assert.Nil(t, got.TestID)
	assert.Equal(t, "v1.2", got.Value)
	require.NotNil(t, got.ExpectedValue)
	assert.Equal(t, "v1.*", *got.ExpectedValue)
	assert.True(t, got.IgnoreCase)
	assert.Equal(t, map[string]string{"board": "rev-b"}, got.Meta)
	assert.True(t, time.Date(2025, 6, 1, 8, 30, 15, 0, time.UTC).Equal(got.Timestamp))
}

type closingPool struct {
	gorm.ConnPool
	closed bool
}

func (p *closingPool) Close() error {
	p.closed = true

	return nil
}

func TestCloseConnPool(t *testing.T) {
	pool := &closingPool{}

	closeConnPool(&gorm.DB{Config: &gorm.Config{ConnPool: pool}})
	assert.True(t, pool.closed)

	// Pools without Close are left alone.
	assert.NotPanics(t, func() {
		closeConnPool(&gorm.DB{Config: &gorm.Config{ConnPool: struct{ gorm.ConnPool }{}}})
	})
}
