// Package history persists a log of playback sessions backed by SQLite.
// The player records a play when it starts an item and finishes it with
// an outcome; the administration surface reads recent plays and prunes
// by age.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"medley/internal/config"
	"medley/internal/media"
)

// Outcome is how a recorded play ended.
type Outcome string

const (
	OutcomeCompleted   Outcome = "completed"
	OutcomeFailed      Outcome = "failed"
	OutcomeSkipped     Outcome = "skipped"
	OutcomeInterrupted Outcome = "interrupted"
)

// Play is one playback session.
type Play struct {
	ID         int64      `json:"id"`
	Path       string     `json:"path"`
	Kind       media.Kind `json:"kind"`
	EngineID   string     `json:"engine_id,omitempty"`
	SourceRoot string     `json:"source_root,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Outcome    Outcome    `json:"outcome,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Store manages play-history persistence.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the history database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := cfg.HistoryDBPath()
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record inserts a play that just started and returns its identifier. A
// zero StartedAt defaults to now.
func (s *Store) Record(ctx context.Context, play Play) (int64, error) {
	started := play.StartedAt
	if started.IsZero() {
		started = time.Now()
	}

	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO plays (path, kind, engine_id, source_root, started_at)
         VALUES (?, ?, ?, ?, ?)`,
		play.Path,
		string(play.Kind),
		nullableString(play.EngineID),
		nullableString(play.SourceRoot),
		started.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("insert play: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// Finish marks a recorded play as ended with the given outcome.
func (s *Store) Finish(ctx context.Context, id int64, outcome Outcome, errMsg string) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE plays SET finished_at = ?, outcome = ?, error_message = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano),
		string(outcome),
		nullableString(errMsg),
		id,
	)
	if err != nil {
		return fmt.Errorf("finish play: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("finish play: no play with id %d", id)
	}
	return nil
}

// Recent returns the newest plays, most recent first. Non-positive
// limits default to 50.
func (s *Store) Recent(ctx context.Context, limit int) ([]*Play, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+playColumns+` FROM plays ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent plays: %w", err)
	}
	defer rows.Close()

	var plays []*Play
	for rows.Next() {
		play, err := scanPlay(rows)
		if err != nil {
			return nil, err
		}
		plays = append(plays, play)
	}
	return plays, rows.Err()
}

// CountsByKind returns play totals grouped by media kind.
func (s *Store) CountsByKind(ctx context.Context) (map[media.Kind]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(1) FROM plays GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("count plays: %w", err)
	}
	defer rows.Close()

	counts := make(map[media.Kind]int)
	for rows.Next() {
		var kind string
		var count int
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, err
		}
		counts[media.Kind(kind)] = count
	}
	return counts, rows.Err()
}

// Prune deletes plays that started before the retention window and
// returns how many were removed. Non-positive retention disables
// pruning.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-retention).UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `DELETE FROM plays WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune plays: %w", err)
	}
	return res.RowsAffected()
}

const playColumns = "id, path, kind, engine_id, source_root, started_at, finished_at, outcome, error_message"

func scanPlay(scanner interface{ Scan(dest ...any) error }) (*Play, error) {
	var (
		id          int64
		path        string
		kind        string
		engineID    sql.NullString
		sourceRoot  sql.NullString
		startedRaw  string
		finishedRaw sql.NullString
		outcome     sql.NullString
		errMsg      sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&path,
		&kind,
		&engineID,
		&sourceRoot,
		&startedRaw,
		&finishedRaw,
		&outcome,
		&errMsg,
	); err != nil {
		return nil, err
	}

	play := &Play{
		ID:         id,
		Path:       path,
		Kind:       media.Kind(kind),
		EngineID:   engineID.String,
		SourceRoot: sourceRoot.String,
		Outcome:    Outcome(outcome.String),
		Error:      errMsg.String,
	}
	if started, err := parseTimeString(startedRaw); err == nil {
		play.StartedAt = started
	}
	if finishedRaw.Valid {
		if finished, err := parseTimeString(finishedRaw.String); err == nil {
			play.FinishedAt = &finished
		}
	}
	return play, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	return time.Parse(time.RFC3339Nano, value)
}
