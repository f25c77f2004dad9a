// Package registry records every reconstructed and merged object of a case
// in a SQLite database. Writers serialize on an exclusive file lock next to
// the database so concurrent runs never interleave registry updates.
package registry

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema changes.
const schemaVersion = 1

var (
	// ErrSchemaMismatch indicates the database was created by another schema version
	ErrSchemaMismatch = errors.New("schema version mismatch")

	// ErrNotFound is returned when no record matches
	ErrNotFound = errors.New("object record not found")
)

const lockRetryDelay = 50 * time.Millisecond

// Record is the registry entry of one object volume
type Record struct {
	Case         string
	Segmentation string
	Object       string
	Artifact     string

	// SegmentNumber is the decoded segment number; composites are numbered
	// after the highest segment of their segmentation
	SegmentNumber int

	// Composite is set for merged objects; Constituents lists their inputs
	Composite    bool
	Constituents []string
	MergeMode    string

	Stats
	RunID     string
	UpdatedAt time.Time
}

// Registry manages object records backed by SQLite.
type Registry struct {
	db   *sql.DB
	path string

	// mu serializes writers within the process; lock serializes processes
	mu   sync.Mutex
	lock *flock.Flock
}

// Open initializes or connects to the registry database at path.
func Open(path string) (*Registry, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("ensure registry directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	r := &Registry{db: db, path: path, lock: flock.New(path + ".lock")}
	if err := r.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

// Path returns the database path
func (r *Registry) Path() string { return r.path }

// Close closes the underlying database connection.
func (r *Registry) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *Registry) initSchema(ctx context.Context) error {
	var tableExists int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		return r.withLock(ctx, r.createSchema)
	}

	var version int
	if err := r.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete the registry to rebuild it)",
			ErrSchemaMismatch, version, schemaVersion)
	}
	return nil
}

func (r *Registry) createSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	var n int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM schema_version").Scan(&n); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if n == 0 {
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// withLock runs fn while holding the exclusive registry file lock
func (r *Registry) withLock(ctx context.Context, fn func(context.Context) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ok, err := r.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("acquire registry lock: %w", err)
	}
	if !ok {
		return errors.New("registry lock not acquired")
	}
	defer func() { _ = r.lock.Unlock() }()
	return fn(ctx)
}

// Put inserts or replaces the record of an object
func (r *Registry) Put(ctx context.Context, rec Record) error {
	if rec.Case == "" || rec.Segmentation == "" || rec.Object == "" {
		return fmt.Errorf("record needs case, segmentation and object: %+v", rec)
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}

	return r.withLock(ctx, func(ctx context.Context) error {
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin registry tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if err := upsert(ctx, tx, rec); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit registry tx: %w", err)
		}
		return nil
	})
}

// PutComposite records a composite object and returns its segment number. A
// composite already registered keeps its number; a new one gets one past the
// highest number of its segmentation, or floor+1 when that is higher. The
// number is allocated under the writer lock in the same transaction as the
// insert.
func (r *Registry) PutComposite(ctx context.Context, rec Record, floor int) (int, error) {
	if rec.Case == "" || rec.Segmentation == "" || rec.Object == "" {
		return 0, fmt.Errorf("record needs case, segmentation and object: %+v", rec)
	}
	rec.Composite = true
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}

	err := r.withLock(ctx, func(ctx context.Context) error {
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin registry tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var current int
		err = tx.QueryRowContext(ctx,
			"SELECT segment_number FROM objects WHERE case_name = ? AND segmentation = ? AND object = ?",
			rec.Case, rec.Segmentation, rec.Object,
		).Scan(&current)
		switch {
		case err == nil && current > 0:
			rec.SegmentNumber = current
		case err != nil && !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("query segment number of %s: %w", rec.Object, err)
		default:
			next, err := nextSegmentNumber(ctx, tx, rec.Case, rec.Segmentation, floor)
			if err != nil {
				return err
			}
			rec.SegmentNumber = next
		}

		if err := upsert(ctx, tx, rec); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit registry tx: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return rec.SegmentNumber, nil
}

func upsert(ctx context.Context, tx *sql.Tx, rec Record) error {
	var id int64
	err := tx.QueryRowContext(ctx, `
INSERT INTO objects (case_name, segmentation, object, artifact, segment_number, composite, merge_mode,
    slices, voxel_count, nonzero_slices, mean_slice_fill, max_slice_fill, run_id, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (case_name, segmentation, object) DO UPDATE SET
    artifact = excluded.artifact,
    segment_number = excluded.segment_number,
    composite = excluded.composite,
    merge_mode = excluded.merge_mode,
    slices = excluded.slices,
    voxel_count = excluded.voxel_count,
    nonzero_slices = excluded.nonzero_slices,
    mean_slice_fill = excluded.mean_slice_fill,
    max_slice_fill = excluded.max_slice_fill,
    run_id = excluded.run_id,
    updated_at = excluded.updated_at
RETURNING id`,
		rec.Case, rec.Segmentation, rec.Object, rec.Artifact, rec.SegmentNumber, rec.Composite, rec.MergeMode,
		rec.Slices, rec.VoxelCount, rec.NonZeroSlices, rec.MeanSliceFill, rec.MaxSliceFill,
		rec.RunID, rec.UpdatedAt.Format(time.RFC3339Nano),
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("upsert object %s: %w", rec.Object, err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM constituents WHERE object_id = ?", id); err != nil {
		return fmt.Errorf("clear constituents of %s: %w", rec.Object, err)
	}
	for i, name := range rec.Constituents {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO constituents (object_id, position, name) VALUES (?, ?, ?)", id, i, name,
		); err != nil {
			return fmt.Errorf("record constituent %s of %s: %w", name, rec.Object, err)
		}
	}
	return nil
}

// Get returns the record of one object
func (r *Registry) Get(ctx context.Context, caseName, segmentation, object string) (Record, error) {
	recs, err := r.query(ctx, "WHERE case_name = ? AND segmentation = ? AND object = ?", caseName, segmentation, object)
	if err != nil {
		return Record{}, err
	}
	if len(recs) == 0 {
		return Record{}, fmt.Errorf("%s/%s/%s: %w", caseName, segmentation, object, ErrNotFound)
	}
	return recs[0], nil
}

// List returns the records of a segmentation ordered by object name. An
// empty segmentation lists the whole case.
func (r *Registry) List(ctx context.Context, caseName, segmentation string) ([]Record, error) {
	if segmentation == "" {
		return r.query(ctx, "WHERE case_name = ?", caseName)
	}
	return r.query(ctx, "WHERE case_name = ? AND segmentation = ?", caseName, segmentation)
}

// Composites returns the merged objects registered for a segmentation
func (r *Registry) Composites(ctx context.Context, caseName, segmentation string) ([]Record, error) {
	return r.query(ctx, "WHERE case_name = ? AND segmentation = ? AND composite = 1", caseName, segmentation)
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func nextSegmentNumber(ctx context.Context, q rowQuerier, caseName, segmentation string, floor int) (int, error) {
	var highest sql.NullInt64
	err := q.QueryRowContext(ctx,
		"SELECT MAX(segment_number) FROM objects WHERE case_name = ? AND segmentation = ?",
		caseName, segmentation,
	).Scan(&highest)
	if err != nil {
		return 0, fmt.Errorf("query segment numbers: %w", err)
	}
	if highest.Valid && int(highest.Int64) > floor {
		floor = int(highest.Int64)
	}
	return floor + 1, nil
}

func (r *Registry) query(ctx context.Context, where string, args ...any) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, case_name, segmentation, object, artifact, segment_number, composite, merge_mode,
    slices, voxel_count, nonzero_slices, mean_slice_fill, max_slice_fill, run_id, updated_at
FROM objects `+where+` ORDER BY segmentation, object`, args...)
	if err != nil {
		return nil, fmt.Errorf("query objects: %w", err)
	}
	defer rows.Close()

	var (
		out []Record
		ids []int64
	)
	for rows.Next() {
		var (
			rec     Record
			id      int64
			updated string
		)
		if err := rows.Scan(&id, &rec.Case, &rec.Segmentation, &rec.Object, &rec.Artifact, &rec.SegmentNumber, &rec.Composite,
			&rec.MergeMode, &rec.Slices, &rec.VoxelCount, &rec.NonZeroSlices, &rec.MeanSliceFill,
			&rec.MaxSliceFill, &rec.RunID, &updated); err != nil {
			return nil, fmt.Errorf("scan object: %w", err)
		}
		rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		out = append(out, rec)
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate objects: %w", err)
	}
	rows.Close()

	for i, id := range ids {
		if !out[i].Composite {
			continue
		}
		names, err := r.constituents(ctx, id)
		if err != nil {
			return nil, err
		}
		out[i].Constituents = names
	}
	return out, nil
}

func (r *Registry) constituents(ctx context.Context, id int64) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT name FROM constituents WHERE object_id = ? ORDER BY position", id)
	if err != nil {
		return nil, fmt.Errorf("query constituents: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan constituent: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
