package store_test

import (
	"context"
	"testing"

	"github.com/spf13/cast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ethpandaops/scopeoor/pkg/record"
	"github.com/ethpandaops/scopeoor/pkg/store"
)

// seedMeasurements stores a, b and c in run 1 and d in run 2.
func seedMeasurements(t *testing.T) store.Engine {
	t.Helper()

	e := setupTestEngine(t)
	ctx := context.Background()

	add := func(name string, value float64, suiteID int) {
		m := &record.NumericMeasurement{Name: name, Value: value, Unit: "V"}
		m.Timestamp = ts(9, 0, 0)
		m.SetContext(record.IntPtr(suiteID), nil)

		require.NoError(t, e.AddRecord(ctx, m))
	}

	_, err := e.StartRun(ctx, "first", nil)
	require.NoError(t, err)

	add("a", 1, 1)
	add("b", 5, 1)
	add("c", 3, 2)

	_, err = e.StartRun(ctx, "second", nil)
	require.NoError(t, err)

	add("d", 10, 1)

	return e
}

func newNumericQuery(t *testing.T, e store.Engine) *store.Query[record.NumericMeasurement] {
	t.Helper()

	q, err := store.NewQuery[record.NumericMeasurement](context.Background(), e)
	require.NoError(t, err)

	return q
}

func names(recs []record.NumericMeasurement) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Name)
	}

	return out
}

func TestNewQuery_Errors(t *testing.T) {
	e := setupTestEngine(t)
	ctx := context.Background()

	_, err := store.NewQuery[record.BooleanMeasurement](ctx, e)
	assert.ErrorIs(t, err, store.ErrTableNotFound)

	_, err = store.NewQuery[int](ctx, e)
	assert.ErrorIs(t, err, store.ErrInvalidQuery)

	_, err = store.NewQuery[record.TestRun](ctx, store.NewEngine(newLogger()))
	assert.ErrorIs(t, err, store.ErrNotConnected)
}

func TestQuery_Filters(t *testing.T) {
	e := seedMeasurements(t)

	tests := []struct {
		name     string
		build    func(q *store.Query[record.NumericMeasurement]) *store.Query[record.NumericMeasurement]
		expected []string
	}{
		{
			name:     "no filter keeps insertion order",
			build:    func(q *store.Query[record.NumericMeasurement]) *store.Query[record.NumericMeasurement] { return q },
			expected: []string{"a", "b", "c", "d"},
		},
		{
			name: "where run ordered desc",
			build: func(q *store.Query[record.NumericMeasurement]) *store.Query[record.NumericMeasurement] {
				return q.Where("run_id", 1).OrderBy("value", store.Desc)
			},
			expected: []string{"b", "c", "a"},
		},
		{
			name: "where in",
			build: func(q *store.Query[record.NumericMeasurement]) *store.Query[record.NumericMeasurement] {
				return q.WhereIn("name", []string{"a", "d", "zz"}).OrderBy("id", "")
			},
			expected: []string{"a", "d"},
		},
		{
			name: "filter predicate",
			build: func(q *store.Query[record.NumericMeasurement]) *store.Query[record.NumericMeasurement] {
				return q.Where("run_id", 1).Filter(func(tx *gorm.DB) *gorm.DB {
					return tx.Where("value > ?", 2.0)
				}).OrderBy("value", store.Asc)
			},
			expected: []string{"c", "b"},
		},
		{
			name: "limit and offset",
			build: func(q *store.Query[record.NumericMeasurement]) *store.Query[record.NumericMeasurement] {
				return q.OrderBy("value", store.Asc).Offset(1).Limit(2)
			},
			expected: []string{"c", "b"},
		},
		{
			name: "where nil matches null",
			build: func(q *store.Query[record.NumericMeasurement]) *store.Query[record.NumericMeasurement] {
				return q.Where("test_id", nil).Where("suite_id", 2)
			},
			expected: []string{"c"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := tt.build(newNumericQuery(t, e)).All()
			require.NoError(t, err)
			assert.Equal(t, tt.expected, names(recs))
		})
	}
}

func TestQuery_AllDecodesRecords(t *testing.T) {
	e := seedMeasurements(t)

	recs, err := newNumericQuery(t, e).Where("name", "c").All()
	require.NoError(t, err)
	require.Len(t, recs, 1)

	got := recs[0]
	assert.Equal(t, 1, got.RunID)
	assert.Equal(t, 3.0, got.Value)
	assert.Equal(t, "V", got.Unit)
	require.NotNil(t, got.SuiteID)
	assert.Equal(t, 2, *got.SuiteID)
	assert.Nil(t, got.TestID)
	assert.Nil(t, got.LowerLimit)
	assert.True(t, ts(9, 0, 0).Equal(got.Timestamp))
}

func TestQuery_First(t *testing.T) {
	e := seedMeasurements(t)

	rec, found, err := newNumericQuery(t, e).OrderBy("value", store.Desc).First()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "d", rec.Name)

	_, found, err = newNumericQuery(t, e).Where("name", "missing").First()
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = newNumericQuery(t, e).Limit(0).First()
	require.NoError(t, err)
	assert.False(t, found)
}

func TestQuery_Aggregates(t *testing.T) {
	e := seedMeasurements(t)

	n, err := newNumericQuery(t, e).Where("run_id", 1).Count()
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	// Ordering and paging do not affect aggregates.
	n, err = newNumericQuery(t, e).OrderBy("value", store.Desc).Limit(1).Count()
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	lowest, err := newNumericQuery(t, e).Min("value")
	require.NoError(t, err)
	assert.Equal(t, 1.0, cast.ToFloat64(lowest))

	highest, err := newNumericQuery(t, e).Where("run_id", 1).Limit(1).Max("value")
	require.NoError(t, err)
	assert.Equal(t, 5.0, cast.ToFloat64(highest))

	runID, err := newNumericQuery(t, e).MaxInt("run_id")
	require.NoError(t, err)
	assert.Equal(t, 2, runID)

	none, err := newNumericQuery(t, e).Where("name", "missing").Max("value")
	require.NoError(t, err)
	assert.Nil(t, none)

	zero, err := newNumericQuery(t, e).Where("name", "missing").MaxInt("run_id")
	require.NoError(t, err)
	assert.Equal(t, 0, zero)
}

func TestQuery_ValuesAndGroupBy(t *testing.T) {
	e := seedMeasurements(t)

	rows, err := newNumericQuery(t, e).
		Where("run_id", 1).
		GroupBy("suite_id").
		OrderBy("suite_id", store.Asc).
		Values("suite_id")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 1, cast.ToInt(rows[0]["suite_id"]))
	assert.Equal(t, 2, cast.ToInt(rows[1]["suite_id"]))

	rows, err = newNumericQuery(t, e).Where("name", "b").Values("name", "value")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Len(t, rows[0], 2)
	assert.Equal(t, "b", rows[0]["name"])
	assert.Equal(t, 5.0, cast.ToFloat64(rows[0]["value"]))
}

func TestQuery_Explain(t *testing.T) {
	e := seedMeasurements(t)

	sql, err := newNumericQuery(t, e).
		Where("run_id", 2).
		OrderBy("value", store.Desc).
		Limit(5).
		Explain()
	require.NoError(t, err)
	assert.Contains(t, sql, "numeric_measurement")
	assert.Contains(t, sql, "run_id")
	assert.Contains(t, sql, "DESC")
	assert.Contains(t, sql, "LIMIT 5")
}

func TestQuery_ErrorsAreDeferred(t *testing.T) {
	e := seedMeasurements(t)

	tests := []struct {
		name    string
		build   func(q *store.Query[record.NumericMeasurement]) *store.Query[record.NumericMeasurement]
		wantErr error
	}{
		{
			name: "unknown where field",
			build: func(q *store.Query[record.NumericMeasurement]) *store.Query[record.NumericMeasurement] {
				return q.Where("voltage", 1)
			},
			wantErr: store.ErrUnknownField,
		},
		{
			name: "unknown order field",
			build: func(q *store.Query[record.NumericMeasurement]) *store.Query[record.NumericMeasurement] {
				return q.OrderBy("voltage", store.Asc)
			},
			wantErr: store.ErrUnknownField,
		},
		{
			name: "unknown group field",
			build: func(q *store.Query[record.NumericMeasurement]) *store.Query[record.NumericMeasurement] {
				return q.GroupBy("name", "voltage")
			},
			wantErr: store.ErrUnknownField,
		},
		{
			name: "first error wins",
			build: func(q *store.Query[record.NumericMeasurement]) *store.Query[record.NumericMeasurement] {
				return q.WhereIn("voltage", []int{1}).Limit(-1)
			},
			wantErr: store.ErrUnknownField,
		},
		{
			name: "bad direction",
			build: func(q *store.Query[record.NumericMeasurement]) *store.Query[record.NumericMeasurement] {
				return q.OrderBy("value", "sideways")
			},
			wantErr: store.ErrInvalidQuery,
		},
		{
			name: "negative limit",
			build: func(q *store.Query[record.NumericMeasurement]) *store.Query[record.NumericMeasurement] {
				return q.Limit(-1)
			},
			wantErr: store.ErrInvalidQuery,
		},
		{
			name: "negative offset",
			build: func(q *store.Query[record.NumericMeasurement]) *store.Query[record.NumericMeasurement] {
				return q.Offset(-2)
			},
			wantErr: store.ErrInvalidQuery,
		},
		{
			name: "where in needs a slice",
			build: func(q *store.Query[record.NumericMeasurement]) *store.Query[record.NumericMeasurement] {
				return q.WhereIn("name", "a")
			},
			wantErr: store.ErrInvalidQuery,
		},
		{
			name: "nil filter",
			build: func(q *store.Query[record.NumericMeasurement]) *store.Query[record.NumericMeasurement] {
				return q.Filter(nil)
			},
			wantErr: store.ErrInvalidQuery,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := tt.build(newNumericQuery(t, e))
			require.ErrorIs(t, q.Err(), tt.wantErr)

			_, err := q.All()
			assert.ErrorIs(t, err, tt.wantErr)

			_, _, err = q.First()
			assert.ErrorIs(t, err, tt.wantErr)

			_, err = q.Count()
			assert.ErrorIs(t, err, tt.wantErr)

			_, err = q.Explain()
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err := newNumericQuery(t, e).Max("voltage")
	assert.ErrorIs(t, err, store.ErrUnknownField)

	_, err = newNumericQuery(t, e).Values("name", "voltage")
	assert.ErrorIs(t, err, store.ErrUnknownField)

	_, err = newNumericQuery(t, e).Values()
	assert.ErrorIs(t, err, store.ErrInvalidQuery)
}
