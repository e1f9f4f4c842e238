package store

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/spf13/cast"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ethpandaops/scopeoor/pkg/schema"
)

var (
	// ErrTableNotFound is returned when querying a record type whose table
	// has not been created yet.
	ErrTableNotFound = errors.New("table does not exist")

	// ErrUnknownField is returned when a query references a field that is
	// not a column of the record type.
	ErrUnknownField = errors.New("unknown field")

	// ErrInvalidQuery is returned for malformed query arguments.
	ErrInvalidQuery = errors.New("invalid query")
)

// Direction is a sort direction.
type Direction string

// Sort directions.
const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Query is a lazily executed query over the table of record type T.
// Chained calls only record the pending query; SQL runs on All, First,
// Count, Min, Max, MaxInt and Values. The first invalid call records an
// error that every terminal operation returns.
type Query[T any] struct {
	ctx   context.Context
	db    *gorm.DB
	table *schema.Table

	conds  []clause.Expression
	scopes []func(*gorm.DB) *gorm.DB
	orders []clause.OrderByColumn
	groups []string
	limit  *int
	offset *int

	err error
}

// NewQuery starts a query over the table of T. It fails when the table
// does not exist.
func NewQuery[T any](ctx context.Context, e Engine) (*Query[T], error) {
	var zero T

	if t := reflect.TypeOf((*T)(nil)).Elem(); t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %s is not a record struct", ErrInvalidQuery, t)
	}

	table, exists, err := e.TableExists(ctx, &zero)
	if err != nil {
		return nil, err
	}

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, table.Name)
	}

	db, err := e.DB()
	if err != nil {
		return nil, err
	}

	return &Query[T]{
		ctx:   ctx,
		db:    db,
		table: table,
	}, nil
}

// Err returns the first error recorded while building the query.
func (q *Query[T]) Err() error {
	return q.err
}

// Table returns the table the query reads from.
func (q *Query[T]) Table() *schema.Table {
	return q.table
}

func (q *Query[T]) fail(err error) *Query[T] {
	if q.err == nil {
		q.err = err
	}

	return q
}

func (q *Query[T]) checkField(field string) bool {
	if q.table.HasColumn(field) {
		return true
	}

	q.fail(fmt.Errorf("%w: %q is not a field of %s", ErrUnknownField, field, q.table.Name))

	return false
}

// queryValue encodes a filter value the way the column stores it.
func (q *Query[T]) queryValue(field string, value any) (any, error) {
	col, ok := q.table.Column(field)
	if !ok {
		return value, nil
	}

	return encodeValue(col, value)
}

// Where adds an equality filter. A nil value matches NULL.
func (q *Query[T]) Where(field string, value any) *Query[T] {
	if !q.checkField(field) {
		return q
	}

	v, err := q.queryValue(field, value)
	if err != nil {
		return q.fail(fmt.Errorf("%w: %s: %w", ErrInvalidQuery, field, err))
	}

	q.conds = append(q.conds, clause.Eq{
		Column: clause.Column{Name: field},
		Value:  v,
	})

	return q
}

// WhereIn adds a set-membership filter. values must be a slice or array.
func (q *Query[T]) WhereIn(field string, values any) *Query[T] {
	if !q.checkField(field) {
		return q
	}

	rv := reflect.ValueOf(values)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return q.fail(fmt.Errorf("%w: WhereIn %s expects a slice, got %T", ErrInvalidQuery, field, values))
	}

	in := make([]any, 0, rv.Len())

	for i := 0; i < rv.Len(); i++ {
		v, err := q.queryValue(field, rv.Index(i).Interface())
		if err != nil {
			return q.fail(fmt.Errorf("%w: %s: %w", ErrInvalidQuery, field, err))
		}

		in = append(in, v)
	}

	q.conds = append(q.conds, clause.IN{
		Column: clause.Column{Name: field},
		Values: in,
	})

	return q
}

// Filter adds an arbitrary predicate as a gorm scope applied to the
// underlying table statement.
func (q *Query[T]) Filter(scope func(*gorm.DB) *gorm.DB) *Query[T] {
	if scope == nil {
		return q.fail(fmt.Errorf("%w: nil filter", ErrInvalidQuery))
	}

	q.scopes = append(q.scopes, scope)

	return q
}

// OrderBy sorts by field. An empty direction sorts ascending.
func (q *Query[T]) OrderBy(field string, dir Direction) *Query[T] {
	if !q.checkField(field) {
		return q
	}

	switch dir {
	case "", Asc:
		dir = Asc
	case Desc:
	default:
		return q.fail(fmt.Errorf("%w: unknown sort direction %q", ErrInvalidQuery, dir))
	}

	q.orders = append(q.orders, clause.OrderByColumn{
		Column: clause.Column{Name: field},
		Desc:   dir == Desc,
	})

	return q
}

// Limit caps the number of returned records.
func (q *Query[T]) Limit(n int) *Query[T] {
	if n < 0 {
		return q.fail(fmt.Errorf("%w: negative limit %d", ErrInvalidQuery, n))
	}

	q.limit = &n

	return q
}

// Offset skips the first n records.
func (q *Query[T]) Offset(n int) *Query[T] {
	if n < 0 {
		return q.fail(fmt.Errorf("%w: negative offset %d", ErrInvalidQuery, n))
	}

	q.offset = &n

	return q
}

// GroupBy groups rows by the given fields.
func (q *Query[T]) GroupBy(fields ...string) *Query[T] {
	for _, f := range fields {
		if !q.checkField(f) {
			return q
		}
	}

	q.groups = append(q.groups, fields...)

	return q
}

// build applies the pending query to base. Filters are always applied;
// shape adds grouping, ordering and paging.
func (q *Query[T]) build(base *gorm.DB, shape bool) *gorm.DB {
	tx := base.Table(q.table.Name)

	for _, cond := range q.conds {
		tx = tx.Where(cond)
	}

	if len(q.scopes) > 0 {
		tx = tx.Scopes(q.scopes...)
	}

	if !shape {
		return tx
	}

	for _, g := range q.groups {
		tx = tx.Group(g)
	}

	for _, o := range q.orders {
		tx = tx.Order(o)
	}

	if q.limit != nil {
		tx = tx.Limit(*q.limit)
	}

	if q.offset != nil {
		tx = tx.Offset(*q.offset)
	}

	return tx
}

func (q *Query[T]) session() *gorm.DB {
	return q.db.WithContext(q.ctx)
}

// All runs the query and returns every matching record.
func (q *Query[T]) All() ([]T, error) {
	if q.err != nil {
		return nil, q.err
	}

	var rows []map[string]any
	if err := q.build(q.session(), true).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying %s: %w", q.table.Name, err)
	}

	out := make([]T, 0, len(rows))

	for _, row := range rows {
		rec, err := decodeRow[T](q.table, row)
		if err != nil {
			return nil, err
		}

		out = append(out, rec)
	}

	return out, nil
}

// First returns the first matching record. found is false when nothing
// matches.
func (q *Query[T]) First() (rec T, found bool, err error) {
	if q.err != nil {
		return rec, false, q.err
	}

	if q.limit != nil && *q.limit == 0 {
		return rec, false, nil
	}

	var rows []map[string]any
	if err := q.build(q.session(), true).Limit(1).Find(&rows).Error; err != nil {
		return rec, false, fmt.Errorf("querying %s: %w", q.table.Name, err)
	}

	if len(rows) == 0 {
		return rec, false, nil
	}

	rec, err = decodeRow[T](q.table, rows[0])
	if err != nil {
		return rec, false, err
	}

	return rec, true, nil
}

// Count returns the number of matching rows. Grouping, ordering and
// paging are ignored.
func (q *Query[T]) Count() (int64, error) {
	if q.err != nil {
		return 0, q.err
	}

	var n int64
	if err := q.build(q.session(), false).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("counting %s: %w", q.table.Name, err)
	}

	return n, nil
}

// Min returns the smallest value of field over the matching rows, or nil
// when there are none.
func (q *Query[T]) Min(field string) (any, error) {
	return q.aggregate("MIN", field)
}

// Max returns the largest value of field over the matching rows, or nil
// when there are none.
func (q *Query[T]) Max(field string) (any, error) {
	return q.aggregate("MAX", field)
}

// MaxInt is Max converted to an int, with 0 for an empty result.
func (q *Query[T]) MaxInt(field string) (int, error) {
	v, err := q.Max(field)
	if err != nil {
		return 0, err
	}

	n, err := cast.ToIntE(v)
	if err != nil {
		return 0, fmt.Errorf("converting max(%s): %w", field, err)
	}

	return n, nil
}

func (q *Query[T]) aggregate(fn, field string) (any, error) {
	q.checkField(field)

	if q.err != nil {
		return nil, q.err
	}

	var v any

	row := q.build(q.session(), false).
		Select(fn + "(" + schema.QuoteIdent(field) + ")").
		Row()
	if err := row.Scan(&v); err != nil {
		return nil, fmt.Errorf("%s(%s) on %s: %w", fn, field, q.table.Name, err)
	}

	return normalizeScalar(v), nil
}

// Values runs the query and returns only the given fields of each row.
func (q *Query[T]) Values(fields ...string) ([]map[string]any, error) {
	if len(fields) == 0 {
		q.fail(fmt.Errorf("%w: Values needs at least one field", ErrInvalidQuery))
	}

	for _, f := range fields {
		q.checkField(f)
	}

	if q.err != nil {
		return nil, q.err
	}

	var rows []map[string]any
	if err := q.build(q.session(), true).Select(fields).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying %s: %w", q.table.Name, err)
	}

	for _, row := range rows {
		for k, v := range row {
			row[k] = normalizeScalar(v)
		}
	}

	return rows, nil
}

// Explain renders the SQL that All would run, without executing it.
func (q *Query[T]) Explain() (string, error) {
	if q.err != nil {
		return "", q.err
	}

	return q.session().ToSQL(func(tx *gorm.DB) *gorm.DB {
		var rows []map[string]any

		return q.build(tx, true).Find(&rows)
	}), nil
}
