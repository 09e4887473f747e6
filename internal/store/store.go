package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-sqlite3"
	"golang.org/x/sync/singleflight"

	"github.com/vivacius/asistenciacampo/internal/record"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - queued attendance, follow-ups, locations, confirmed snapshots
// 2 - retry bookkeeping (attempts, next_attempt_at, last_error)
//
// There are no incremental migrations: any other version is rebuilt.
const schemaVersion = 2

type schemaObject struct {
	kind string // "table" or "index"
	name string
}

// expectedObjects must match schema.sql exactly.
var expectedObjects = []schemaObject{
	{"table", "queued_attendance"},
	{"index", "idx_queued_attendance_user"},
	{"index", "idx_queued_attendance_date"},
	{"index", "idx_queued_attendance_timestamp"},
	{"index", "idx_queued_attendance_user_date"},
	{"table", "queued_followups"},
	{"index", "idx_queued_followups_user_date"},
	{"table", "queued_locations"},
	{"index", "idx_queued_locations_user"},
	{"table", "confirmed_snapshots"},
}

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("store closed")

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for self-heal and fallback warnings.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Store is the durable local queue.
//
// The database handle is opened lazily on first use. Opening and repairing
// go through a singleflight group so concurrent callers share one attempt,
// and a generation counter keeps a repair requested against an old handle
// from discarding a database someone else already rebuilt.
//
// Thread-safety: Store is safe for concurrent use. Operations hold mu for
// reading; open, repair and Close hold it for writing.
type Store struct {
	path   string
	logger *slog.Logger

	mu       sync.RWMutex
	db       *sql.DB
	gen      uint64
	rebuilds int
	closed   bool

	flight singleflight.Group
}

// New returns a store for the SQLite file at path without touching disk.
func New(path string, opts ...Option) *Store {
	s := &Store{path: path, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open creates a store and opens it eagerly, validating (and if necessary
// rebuilding) the schema.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	s := New(path, opts...)
	if err := s.ensureOpen(ctx); err != nil {
		return nil, storageUnavailable("store.open", err)
	}
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection. Later calls fail with ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// DB returns the underlying sql.DB, or nil if the store is not open.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db
}

// Rebuilds reports how many times the database was discarded and recreated
// since this Store was created.
func (s *Store) Rebuilds() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rebuilds
}

// Repair discards the local database, including anything still queued, and
// recreates it empty. Concurrent calls collapse into a single rebuild.
func (s *Store) Repair(ctx context.Context) error {
	s.mu.RLock()
	gen := s.gen
	s.mu.RUnlock()

	if err := s.repair(ctx, gen, "requested"); err != nil {
		return storageUnavailable("store.repair", err)
	}
	return nil
}

// do runs fn against the open database. A failure that indicates a damaged
// schema triggers one rebuild and one retry.
func (s *Store) do(ctx context.Context, op string, fn func(db *sql.DB) error) error {
	for attempt := 0; ; attempt++ {
		if err := s.ensureOpen(ctx); err != nil {
			return storageUnavailable(op, err)
		}

		s.mu.RLock()
		db, gen := s.db, s.gen
		var err error = ErrClosed
		if db != nil {
			err = fn(db)
		}
		s.mu.RUnlock()

		if err == nil {
			return nil
		}
		if attempt == 0 && isSchemaDamage(err) {
			if rerr := s.repair(ctx, gen, err.Error()); rerr != nil {
				return storageUnavailable(op, rerr)
			}
			continue
		}
		return storageUnavailable(op, err)
	}
}

func (s *Store) ensureOpen(ctx context.Context) error {
	s.mu.RLock()
	ready, closed := s.db != nil, s.closed
	s.mu.RUnlock()

	if closed {
		return ErrClosed
	}
	if ready {
		return nil
	}

	_, err, _ := s.flight.Do("open", func() (any, error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.closed {
			return nil, ErrClosed
		}
		if s.db != nil {
			return nil, nil
		}
		return nil, s.openLocked(ctx)
	})
	return err
}

// openLocked opens the database and validates its schema, rebuilding it
// from scratch on mismatch or corruption. Caller holds mu for writing.
func (s *Store) openLocked(ctx context.Context) error {
	db, err := openDB(s.path)
	if err != nil && !isCorrupt(err) {
		return err
	}

	var mismatch *record.Error
	if err != nil {
		mismatch = record.WrapError(record.CodeSchemaMismatch, "store.open", "database unreadable", err)
	} else {
		reason, err := checkSchema(ctx, db)
		switch {
		case err != nil && isCorrupt(err):
			mismatch = record.WrapError(record.CodeSchemaMismatch, "store.open", "database unreadable", err)
		case err != nil:
			db.Close()
			return err
		case reason != "":
			mismatch = record.NewError(record.CodeSchemaMismatch, "store.open", reason)
		}
	}

	if mismatch != nil {
		discarded := -1
		if db != nil {
			discarded = countQueued(ctx, db)
			db.Close()
		}
		if db, err = s.recreate(ctx); err != nil {
			return err
		}
		s.rebuilds++
		s.logger.Warn("local store rebuilt, queued data discarded",
			"path", s.path,
			"reason", mismatch.Error(),
			"discarded_queued", discarded,
		)
	}

	s.db = db
	s.gen++
	return nil
}

// repair rebuilds the database unless it was already rebuilt (or reopened)
// after generation seen was observed.
func (s *Store) repair(ctx context.Context, seen uint64, reason string) error {
	_, err, _ := s.flight.Do("repair", func() (any, error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.closed {
			return nil, ErrClosed
		}
		if s.gen != seen {
			return nil, nil
		}

		discarded := -1
		if s.db != nil {
			discarded = countQueued(ctx, s.db)
			s.db.Close()
			s.db = nil
		}

		db, err := s.recreate(ctx)
		if err != nil {
			return nil, err
		}
		s.db = db
		s.gen++
		s.rebuilds++
		s.logger.Warn("local store rebuilt, queued data discarded",
			"path", s.path,
			"reason", reason,
			"discarded_queued", discarded,
		)
		return nil, nil
	})
	return err
}

// recreate deletes the database files and creates a fresh schema.
func (s *Store) recreate(ctx context.Context) (*sql.DB, error) {
	for _, p := range []string{s.path, s.path + "-wal", s.path + "-shm", s.path + "-journal"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove %s: %w", p, err)
		}
	}

	db, err := openDB(s.path)
	if err != nil {
		return nil, err
	}
	if err := applySchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// openDB opens the SQLite file and applies pragmas.
func openDB(path string) (*sql.DB, error) {
	// Open database (creates file if doesn't exist)
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Verify connection works
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	return db, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates every container and stamps the schema version.
func applySchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// checkSchema initializes an empty database, or reports why an existing one
// does not match. An empty reason means the schema is valid.
func checkSchema(ctx context.Context, db *sql.DB) (string, error) {
	present, err := listObjects(ctx, db)
	if err != nil {
		return "", err
	}
	if len(present) == 0 {
		return "", applySchema(ctx, db)
	}

	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return "", fmt.Errorf("get user_version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Sprintf("schema version %d, want %d", version, schemaVersion), nil
	}

	var missing []string
	for _, obj := range expectedObjects {
		if !present[obj] {
			missing = append(missing, obj.kind+" "+obj.name)
		}
	}
	if len(missing) > 0 {
		return "missing " + strings.Join(missing, ", "), nil
	}
	return "", nil
}

func listObjects(ctx context.Context, db *sql.DB) (map[schemaObject]bool, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT type, name FROM sqlite_master
		WHERE type IN ('table', 'index') AND name NOT LIKE 'sqlite_%'
	`)
	if err != nil {
		return nil, fmt.Errorf("list schema objects: %w", err)
	}
	defer rows.Close()

	present := make(map[schemaObject]bool)
	for rows.Next() {
		var obj schemaObject
		if err := rows.Scan(&obj.kind, &obj.name); err != nil {
			return nil, fmt.Errorf("scan schema object: %w", err)
		}
		present[obj] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schema objects: %w", err)
	}
	return present, nil
}

// countQueued counts rows that a rebuild is about to discard. Containers
// that cannot be read count as zero.
func countQueued(ctx context.Context, db *sql.DB) int {
	total := 0
	for _, table := range []string{"queued_attendance", "queued_followups", "queued_locations"} {
		var n int
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err == nil {
			total += n
		}
	}
	return total
}

func storageUnavailable(op string, err error) error {
	return record.WrapError(record.CodeStorageUnavailable, op, "local store inaccessible", err)
}

// isCorrupt reports SQLite errors meaning the file is not a usable database.
func isCorrupt(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrCorrupt || se.Code == sqlite3.ErrNotADB
	}
	return false
}

// isSchemaDamage reports errors that a rebuild can fix.
func isSchemaDamage(err error) bool {
	if isCorrupt(err) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "no such table") || strings.Contains(msg, "no such column")
}

func isMissingIndex(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such index")
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	db := s.DB()
	if db == nil {
		return ErrClosed
	}
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
