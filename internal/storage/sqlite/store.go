// Package sqlite is the default storage backend: a single SQLite file opened
// through the pure-Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cbgabler/ehr-module-simulator/internal/shared/config"
	apperrors "github.com/cbgabler/ehr-module-simulator/internal/shared/errors"
	"github.com/cbgabler/ehr-module-simulator/internal/shared/metrics"
	"github.com/cbgabler/ehr-module-simulator/internal/shared/types"
	"github.com/cbgabler/ehr-module-simulator/internal/simulation"
	"github.com/cbgabler/ehr-module-simulator/internal/storage/sqlite/migrations"
)

const backend = "sqlite"

// Store implements simulation.Repository on SQLite
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at cfg.Path and applies
// pending migrations.
func Open(ctx context.Context, cfg config.SQLiteConfig) (*Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		filepath.Clean(path), busy.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := migrate(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Health pings the database
func (s *Store) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func observe(operation string, start time.Time) {
	metrics.RecordDBQuery(backend, operation, time.Since(start))
}

// CreateUser inserts a user, or updates the role of the user with the same
// display name, and returns the stored id.
func (s *Store) CreateUser(ctx context.Context, u simulation.User) (types.ID, error) {
	defer observe("create_user", time.Now())
	if strings.TrimSpace(u.DisplayName) == "" {
		return "", apperrors.Validation("display name is required", map[string]string{"displayName": "required"})
	}
	if u.ID.IsZero() {
		u.ID = types.NewID()
	}
	if u.Role == "" {
		u.Role = "trainee"
	}

	var id types.ID
	err := s.db.QueryRowContext(ctx, `
INSERT INTO users (id, display_name, role) VALUES (?, ?, ?)
ON CONFLICT(display_name) DO UPDATE SET role = excluded.role
RETURNING id
`, u.ID, u.DisplayName, u.Role).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// CreateScenario inserts or replaces a scenario by id
func (s *Store) CreateScenario(ctx context.Context, sc simulation.Scenario) (types.ID, error) {
	defer observe("create_scenario", time.Now())
	if sc.ID.IsZero() {
		sc.ID = types.NewID()
	}
	def, err := json.Marshal(sc.Definition)
	if err != nil {
		return "", fmt.Errorf("encode scenario definition: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO scenarios (id, name, definition) VALUES (?, ?, ?)
ON CONFLICT(id) DO UPDATE SET name = excluded.name, definition = excluded.definition
`, sc.ID, sc.Name, string(def))
	if err != nil {
		return "", fmt.Errorf("create scenario: %w", err)
	}
	return sc.ID, nil
}

func (s *Store) ResolveUser(ctx context.Context, id types.ID) (*simulation.User, error) {
	defer observe("resolve_user", time.Now())
	var u simulation.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, display_name, role FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.DisplayName, &u.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("user", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}
	return &u, nil
}

func (s *Store) ResolveScenario(ctx context.Context, id types.ID) (*simulation.Scenario, error) {
	defer observe("resolve_scenario", time.Now())
	var (
		sc  simulation.Scenario
		def string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, definition FROM scenarios WHERE id = ?`, id,
	).Scan(&sc.ID, &sc.Name, &def)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("scenario", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("resolve scenario: %w", err)
	}
	if err := json.Unmarshal([]byte(def), &sc.Definition); err != nil {
		return nil, fmt.Errorf("decode scenario %s: %w", id, err)
	}
	return &sc, nil
}

// ListScenarios returns every scenario ordered by name
func (s *Store) ListScenarios(ctx context.Context) ([]simulation.Scenario, error) {
	defer observe("list_scenarios", time.Now())
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, definition FROM scenarios ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list scenarios: %w", err)
	}
	defer rows.Close()

	var out []simulation.Scenario
	for rows.Next() {
		var (
			sc  simulation.Scenario
			def string
		)
		if err := rows.Scan(&sc.ID, &sc.Name, &def); err != nil {
			return nil, fmt.Errorf("scan scenario: %w", err)
		}
		if err := json.Unmarshal([]byte(def), &sc.Definition); err != nil {
			return nil, fmt.Errorf("decode scenario %s: %w", sc.ID, err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *Store) RecordSessionCreated(ctx context.Context, scenarioID, userID types.ID, startedAt time.Time) (types.ID, error) {
	defer observe("record_session", time.Now())
	id := types.NewID()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, scenario_id, user_id, started_at) VALUES (?, ?, ?, ?)`,
		id, scenarioID, userID, startedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return "", fmt.Errorf("record session: %w", err)
	}
	return id, nil
}

func (s *Store) MarkSessionEnded(ctx context.Context, sessionID types.ID, endedAt time.Time) error {
	defer observe("mark_session_ended", time.Now())
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ? WHERE id = ?`,
		endedAt.UTC().UnixMilli(), sessionID,
	)
	if err != nil {
		return fmt.Errorf("mark session ended: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperrors.NotFound("session", sessionID.String())
	}
	return nil
}

func (s *Store) AppendAction(ctx context.Context, entry simulation.ActionEntry) error {
	defer observe("append_action", time.Now())
	var details sql.NullString
	if len(entry.Details) > 0 {
		b, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("encode action details: %w", err)
		}
		details = sql.NullString{String: string(b), Valid: true}
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO session_actions (session_id, user_id, action_type, action_label, details, created_at)
VALUES (?, ?, ?, ?, ?, ?)
`,
		entry.SessionID,
		entry.UserID,
		entry.ActionType,
		entry.ActionLabel,
		details,
		entry.CreatedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("append action: %w", err)
	}
	return nil
}

func (s *Store) FetchActions(ctx context.Context, sessionID types.ID) ([]simulation.ActionEntry, error) {
	defer observe("fetch_actions", time.Now())
	rows, err := s.db.QueryContext(ctx, `
SELECT id, session_id, user_id, action_type, action_label, details, created_at
FROM session_actions
WHERE session_id = ?
ORDER BY created_at ASC, id ASC
`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("fetch actions: %w", err)
	}
	defer rows.Close()

	var out []simulation.ActionEntry
	for rows.Next() {
		var (
			e         simulation.ActionEntry
			details   sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.UserID, &e.ActionType, &e.ActionLabel, &details, &createdAt); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		if details.Valid {
			if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
				return nil, fmt.Errorf("decode action details: %w", err)
			}
		}
		e.CreatedAt = time.UnixMilli(createdAt).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) FetchSummary(ctx context.Context, sessionID types.ID) (*simulation.Summary, error) {
	defer observe("fetch_summary", time.Now())
	row := s.db.QueryRowContext(ctx, `
SELECT id, session_id, user_id, scenario_id, scenario_name, summary, created_at
FROM session_summaries
WHERE session_id = ?
`, sessionID)
	sum, err := scanSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch summary: %w", err)
	}
	return sum, nil
}

// PersistSummary stores the summary. A session keeps its first summary.
func (s *Store) PersistSummary(ctx context.Context, sum simulation.Summary) error {
	defer observe("persist_summary", time.Now())
	if sum.CreatedAt.IsZero() {
		sum.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO session_summaries (session_id, user_id, scenario_id, scenario_name, summary, created_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(session_id) DO NOTHING
`,
		sum.SessionID,
		sum.UserID,
		sum.ScenarioID,
		sum.ScenarioName,
		sum.Text,
		sum.CreatedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("persist summary: %w", err)
	}
	return nil
}

// ListSummaries returns a user's summaries, newest first
func (s *Store) ListSummaries(ctx context.Context, userID types.ID) ([]simulation.Summary, error) {
	defer observe("list_summaries", time.Now())
	rows, err := s.db.QueryContext(ctx, `
SELECT id, session_id, user_id, scenario_id, scenario_name, summary, created_at
FROM session_summaries
WHERE user_id = ?
ORDER BY created_at DESC, id DESC
`, userID)
	if err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}
	defer rows.Close()

	var out []simulation.Summary
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		out = append(out, *sum)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSummary(row scanner) (*simulation.Summary, error) {
	var (
		sum       simulation.Summary
		createdAt int64
	)
	if err := row.Scan(&sum.ID, &sum.SessionID, &sum.UserID, &sum.ScenarioID, &sum.ScenarioName, &sum.Text, &createdAt); err != nil {
		return nil, err
	}
	sum.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &sum, nil
}
