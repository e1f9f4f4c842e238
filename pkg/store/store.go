// Package store persists test records and run state in a relational
// database through gorm.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/ethpandaops/scopeoor/pkg/record"
	"github.com/ethpandaops/scopeoor/pkg/schema"
)

var (
	// ErrNoActiveRun is returned for run-scoped operations before a run
	// has been started.
	ErrNoActiveRun = errors.New(
		"no active test run: call StartRun before recording data " +
			"(a listener starts the run on the first suite start, " +
			"an ingest stream on its first suite_start event)")

	// ErrNotConnected is returned when the engine has no open connection.
	ErrNotConnected = errors.New("database not connected: call Connect first")

	// ErrPersist wraps write failures. They are reported to the caller but
	// must not abort the caller's test flow.
	ErrPersist = errors.New("persisting record")
)

// Engine owns the database connection, the schema cache and the run-scoped
// id counters. One Engine is created per process and shared by reference.
type Engine interface {
	// Connect opens the database. It is a no-op when already connected.
	Connect(ctx context.Context, url string) error
	// Disconnect releases the database connection.
	Disconnect() error
	Connected() bool

	// DB returns the underlying gorm handle.
	DB() (*gorm.DB, error)
	Registry() *schema.Registry

	// EnsureTable returns the table of rec, creating it if absent.
	EnsureTable(ctx context.Context, rec any) (*schema.Table, error)
	// TableExists derives the table of rec and reports whether it exists.
	TableExists(ctx context.Context, rec any) (*schema.Table, bool, error)

	StartRun(ctx context.Context, name string, meta map[string]string) (int, error)
	EndRun(ctx context.Context) error
	AllocateSuiteID() (int, error)
	AllocateTestID() (int, error)
	RunState() RunState

	// AddRecord stamps rec with the current run id and inserts it in its
	// own transaction. Write failures are returned wrapped in ErrPersist.
	AddRecord(ctx context.Context, rec record.Record) error
}

// Compile-time interface check.
var _ Engine = (*engine)(nil)

type engine struct {
	log      logrus.FieldLogger
	registry *schema.Registry

	mu      sync.Mutex
	db      *gorm.DB
	dialect string
	created map[string]struct{}
	state   RunState
}

// NewEngine creates an unconnected engine. The built-in record types are
// registered immediately; an unsupported field type panics.
func NewEngine(log logrus.FieldLogger) Engine {
	registry := schema.NewRegistry()
	registry.MustRegister(toAny(record.All())...)

	return &engine{
		log:      log.WithField("component", "store"),
		registry: registry,
		created:  make(map[string]struct{}, 8),
		state:    NoActiveRun{},
	}
}

func toAny(recs []record.Record) []any {
	out := make([]any, 0, len(recs))
	for _, r := range recs {
		out = append(out, r)
	}

	return out
}

// coreRecords are created on connect.
var coreRecords = []any{
	&record.TestRun{},
	&record.TestSuite{},
	&record.TestCase{},
	&record.Failure{},
}

func (e *engine) Connect(ctx context.Context, url string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.db != nil {
		return nil
	}

	dialector, dialect, err := openDialector(url)
	if err != nil {
		return err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Discard,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	if dialect == schema.DialectSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			closeConnPool(db)

			return fmt.Errorf("getting underlying db: %w", err)
		}

		// A single connection keeps :memory: databases alive and avoids
		// SQLITE_BUSY between writers of the same file.
		sqlDB.SetMaxOpenConns(1)
	}

	e.db = db
	e.dialect = dialect
	e.created = make(map[string]struct{}, 8)

	for _, rec := range coreRecords {
		if _, err := e.ensureTableLocked(ctx, rec); err != nil {
			_ = e.closeLocked()

			return err
		}
	}

	e.log.WithField("url", redactURL(url)).Info("Database connected")

	return nil
}

// closeConnPool releases the connection pool of a handle whose *sql.DB
// could not be obtained.
func closeConnPool(db *gorm.DB) {
	if c, ok := db.ConnPool.(interface{ Close() error }); ok {
		_ = c.Close()
	}
}

func (e *engine) Disconnect() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.db == nil {
		return nil
	}

	if err := e.closeLocked(); err != nil {
		return err
	}

	e.log.Debug("Database disconnected")

	return nil
}

func (e *engine) closeLocked() error {
	sqlDB, err := e.db.DB()

	e.db = nil
	e.created = make(map[string]struct{}, 8)

	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

func (e *engine) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.db != nil
}

func (e *engine) DB() (*gorm.DB, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.db == nil {
		return nil, ErrNotConnected
	}

	return e.db, nil
}

func (e *engine) Registry() *schema.Registry {
	return e.registry
}

func (e *engine) EnsureTable(ctx context.Context, rec any) (*schema.Table, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.ensureTableLocked(ctx, rec)
}

func (e *engine) ensureTableLocked(ctx context.Context, rec any) (*schema.Table, error) {
	table, err := e.registry.Derive(rec)
	if err != nil {
		return nil, err
	}

	if _, ok := e.created[table.Name]; ok {
		return table, nil
	}

	if e.db == nil {
		return nil, ErrNotConnected
	}

	ddl, err := table.CreateTableSQL(e.dialect)
	if err != nil {
		return nil, err
	}

	db := e.db.WithContext(ctx)

	if !db.Migrator().HasTable(table.Name) {
		if err := db.Exec(ddl).Error; err != nil {
			return nil, fmt.Errorf("%w: creating table %s: %w", ErrPersist, table.Name, err)
		}

		e.log.WithField("table", table.Name).Debug("Table created")
	}

	e.created[table.Name] = struct{}{}

	return table, nil
}

func (e *engine) TableExists(ctx context.Context, rec any) (*schema.Table, bool, error) {
	table, err := e.registry.Derive(rec)
	if err != nil {
		return nil, false, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.db == nil {
		return table, false, ErrNotConnected
	}

	if _, ok := e.created[table.Name]; ok {
		return table, true, nil
	}

	return table, e.db.WithContext(ctx).Migrator().HasTable(table.Name), nil
}

func (e *engine) RunState() RunState {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state
}

func (e *engine) activeRun() (ActiveRun, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	active, ok := e.state.(ActiveRun)
	if !ok {
		return ActiveRun{}, ErrNoActiveRun
	}

	return active, nil
}

func (e *engine) AllocateSuiteID() (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	active, ok := e.state.(ActiveRun)
	if !ok {
		return 0, ErrNoActiveRun
	}

	active.SuiteCounter++
	e.state = active

	return active.SuiteCounter, nil
}

func (e *engine) AllocateTestID() (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	active, ok := e.state.(ActiveRun)
	if !ok {
		return 0, ErrNoActiveRun
	}

	active.TestCounter++
	e.state = active

	return active.TestCounter, nil
}

func (e *engine) AddRecord(ctx context.Context, rec record.Record) error {
	if rec == nil {
		return fmt.Errorf("%w: nil record", schema.ErrUnsupportedType)
	}

	active, err := e.activeRun()
	if err != nil {
		return err
	}

	rec.SetRunID(active.ID)

	table, err := e.EnsureTable(ctx, rec)
	if err != nil {
		if errors.Is(err, ErrNotConnected) {
			return fmt.Errorf("%w: %w", ErrPersist, err)
		}

		return err
	}

	cols, vals, err := encodeRow(table, rec)
	if err != nil {
		return fmt.Errorf("%w: encoding %s: %w", ErrPersist, table.Name, err)
	}

	db, err := e.DB()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Exec(insertSQL(table.Name, cols), vals...).Error
	})
	if err != nil {
		return fmt.Errorf("%w: inserting into %s: %w", ErrPersist, table.Name, err)
	}

	e.log.WithFields(logrus.Fields{
		"table":  table.Name,
		"run_id": active.ID,
	}).Debug("Record added")

	return nil
}

func insertSQL(table string, cols []string) string {
	sql := "INSERT INTO " + schema.QuoteIdent(table) + " ("
	placeholders := ""

	for i, c := range cols {
		if i > 0 {
			sql += ", "
			placeholders += ", "
		}

		sql += schema.QuoteIdent(c)
		placeholders += "?"
	}

	return sql + ") VALUES (" + placeholders + ")"
}

func (e *engine) StartRun(
	ctx context.Context, name string, meta map[string]string,
) (int, error) {
	q, err := NewQuery[record.TestRun](ctx, e)
	if err != nil {
		return 0, fmt.Errorf("allocating run id: %w", err)
	}

	maxID, err := q.MaxInt("run_id")
	if err != nil {
		return 0, fmt.Errorf("allocating run id: %w", err)
	}

	runID := maxID + 1

	e.mu.Lock()
	e.state = ActiveRun{ID: runID}
	e.mu.Unlock()

	e.log.WithFields(logrus.Fields{
		"run_id": runID,
		"name":   name,
	}).Info("Test run started")

	run := &record.TestRun{
		Event: record.Event{
			Name:      name,
			StartTime: time.Now().UTC(),
		},
		Meta: meta,
	}

	if err := e.AddRecord(ctx, run); err != nil {
		if !errors.Is(err, ErrPersist) {
			return runID, err
		}

		e.log.WithError(err).WithField("run_id", runID).
			Error("Failed to record test run")
	}

	return runID, nil
}

func (e *engine) EndRun(ctx context.Context) error {
	active, err := e.activeRun()
	if err != nil {
		return err
	}

	log := e.log.WithField("run_id", active.ID)

	suitesQuery, err := NewQuery[record.TestSuite](ctx, e)
	if err != nil {
		return fmt.Errorf("querying suites: %w", err)
	}

	suites, err := suitesQuery.Where("run_id", active.ID).OrderBy("id", Asc).All()
	if err != nil {
		return fmt.Errorf("querying suites: %w", err)
	}

	status := aggregateStatus(suites)
	if len(suites) == 0 {
		log.Warn("No test suites found for run, defaulting status to PASS")
	}

	start, end, ok := aggregateTiming(suites)
	if !ok {
		start = time.Now().UTC()
		end = start

		log.Warn("No suite timings found for run, setting elapsed time to 0")
	}

	elapsed := end.Sub(start).Seconds()

	runQuery, err := NewQuery[record.TestRun](ctx, e)
	if err != nil {
		return fmt.Errorf("querying run: %w", err)
	}

	_, found, err := runQuery.Where("run_id", active.ID).First()
	if err != nil {
		return fmt.Errorf("querying run: %w", err)
	}

	if !found {
		log.Warn("No test run record found, skipping run aggregation")

		return nil
	}

	db, err := e.DB()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}

	runTable, err := e.registry.Derive(&record.TestRun{})
	if err != nil {
		return err
	}

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Table(runTable.Name).
			Where(clause.Eq{Column: clause.Column{Name: "run_id"}, Value: active.ID}).
			Updates(map[string]any{
				"status":       status,
				"start_time":   start.UTC(),
				"end_time":     end.UTC(),
				"elapsed_time": elapsed,
			}).Error
	})
	if err != nil {
		return fmt.Errorf("%w: updating run %d: %w", ErrPersist, active.ID, err)
	}

	log.WithFields(logrus.Fields{
		"status":  status,
		"start":   start,
		"end":     end,
		"elapsed": fmt.Sprintf("%.3fs", elapsed),
	}).Info("Test run finished")

	return nil
}

// aggregateStatus is FAIL when any suite failed and PASS otherwise,
// including when there are no suites.
func aggregateStatus(suites []record.TestSuite) string {
	for _, s := range suites {
		if s.Status == record.StatusFail {
			return record.StatusFail
		}
	}

	return record.StatusPass
}

// aggregateTiming spans the earliest to the latest suite start time. Suite
// end times do not take part. ok is false when no suite has timing.
func aggregateTiming(suites []record.TestSuite) (start, end time.Time, ok bool) {
	for _, s := range suites {
		if s.StartTime.IsZero() {
			continue
		}

		if !ok || s.StartTime.Before(start) {
			start = s.StartTime
		}

		if !ok || s.StartTime.After(end) {
			end = s.StartTime
		}

		ok = true
	}

	return start, end, ok
}
