// Package recorder persists triangulated output of a run to a per-recording
// SQLite database.
package recorder

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/ltrt/ltrt/pkg/logger"
	"github.com/ltrt/ltrt/pkg/types"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	// DatabaseFile is the database name inside a recording folder
	DatabaseFile = "points.db"

	// DefaultRootName is the recordings folder created in the home directory
	DefaultRootName = "ltrt_recordings"
)

// ErrClosed is returned by writes after Close
var ErrClosed = errors.New("recorder closed")

// NewRecordingName names a recording folder after its start time
func NewRecordingName(t time.Time) string {
	return "recording_" + t.Format("20060102_150405")
}

// RecordingDir returns the root folder for recordings, defaulting to
// ~/ltrt_recordings when root is empty
func RecordingDir(root string) (string, error) {
	if root != "" {
		return root, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, DefaultRootName), nil
}

// Session describes the run being recorded
type Session struct {
	ID        string
	Name      string
	Cameras   []types.CameraID
	TargetFPS float64
	StartedAt time.Time
}

// Recorder is an interfaces.OutputSink writing every triangulated instant
// of one session
type Recorder struct {
	db      *sql.DB
	dir     string
	session Session
	log     logger.Logger

	mu      sync.Mutex
	closed  bool
	written int64
}

// Open creates dir/<session.Name>/points.db, migrates it and registers the
// session
func Open(ctx context.Context, dir string, session Session, log logger.Logger) (*Recorder, error) {
	if session.Name == "" {
		session.Name = NewRecordingName(session.StartedAt)
	}
	folder := filepath.Join(dir, session.Name)
	if err := os.MkdirAll(folder, 0755); err != nil {
		return nil, fmt.Errorf("failed to create recording folder: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(folder, DatabaseFile))
	if err != nil {
		return nil, fmt.Errorf("failed to open recording database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, name, cameras, target_fps, started_at) VALUES (?, ?, ?, ?, ?)`,
		session.ID, session.Name, formatCameras(session.Cameras), session.TargetFPS, session.StartedAt.UTC())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to register session: %w", err)
	}

	r := &Recorder{db: db, dir: folder, session: session, log: log.WithStage("recorder")}
	r.log.Info("Recording started", logger.WithField("path", folder))
	return r, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	// The migrate instance is not closed: that would close db
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// Dir returns the recording folder
func (r *Recorder) Dir() string { return r.dir }

// Written returns the number of instants recorded
func (r *Recorder) Written() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written
}

// Write implements interfaces.OutputSink
func (r *Recorder) Write(ctx context.Context, result *types.Triangulated) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO frames (session_id, instant, captured_at) VALUES (?, ?, ?)`,
		r.session.ID, int64(result.Instant), result.CapturedAt)
	if err != nil {
		return fmt.Errorf("instant %d: failed to insert frame: %w", result.Instant, err)
	}
	frameID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("instant %d: %w", result.Instant, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO points (frame_id, joint, x, y, z) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare point insert: %w", err)
	}
	defer stmt.Close()

	for j, p := range result.Points {
		if _, err := stmt.ExecContext(ctx, frameID, j, nullable(p.X), nullable(p.Y), nullable(p.Z)); err != nil {
			return fmt.Errorf("instant %d joint %d: %w", result.Instant, j, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("instant %d: failed to commit: %w", result.Instant, err)
	}
	r.written++
	return nil
}

// Frames reads the recorded instants back in instant order
func (r *Recorder) Frames(ctx context.Context) ([]*types.Triangulated, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	return readFrames(ctx, r.db, r.session.ID)
}

func readFrames(ctx context.Context, db *sql.DB, sessionID string) ([]*types.Triangulated, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT f.instant, f.captured_at, p.joint, p.x, p.y, p.z
		FROM frames f
		LEFT JOIN points p ON p.frame_id = f.frame_id
		WHERE f.session_id = ?
		ORDER BY f.instant, p.joint`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query frames: %w", err)
	}
	defer rows.Close()

	var out []*types.Triangulated
	for rows.Next() {
		var (
			instant, capturedAt int64
			joint               sql.NullInt64
			x, y, z             sql.NullFloat64
		)
		if err := rows.Scan(&instant, &capturedAt, &joint, &x, &y, &z); err != nil {
			return nil, fmt.Errorf("failed to scan frame: %w", err)
		}
		if len(out) == 0 || out[len(out)-1].Instant != uint64(instant) {
			out = append(out, &types.Triangulated{Instant: uint64(instant), CapturedAt: capturedAt})
		}
		if joint.Valid {
			last := out[len(out)-1]
			last.Points = append(last.Points, types.Point3D{X: fromNull(x), Y: fromNull(y), Z: fromNull(z)})
		}
	}
	return out, rows.Err()
}

// Close marks the session ended and closes the database. Idempotent.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	_, err := r.db.Exec(`UPDATE sessions SET ended_at = ? WHERE session_id = ?`, time.Now().UTC(), r.session.ID)
	if cerr := r.db.Close(); err == nil {
		err = cerr
	}
	r.log.Info("Recording closed",
		logger.WithField("path", r.dir),
		logger.WithField("instants", r.written))
	return err
}

func nullable(v float64) sql.NullFloat64 {
	if math.IsNaN(v) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func fromNull(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

func formatCameras(ids []types.CameraID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(int(id))
	}
	return strings.Join(parts, ",")
}
