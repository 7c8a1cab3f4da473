// Package postgres stores simulator records in PostgreSQL for multi-instance
// deployments.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cbgabler/ehr-module-simulator/internal/shared/database"
	apperrors "github.com/cbgabler/ehr-module-simulator/internal/shared/errors"
	"github.com/cbgabler/ehr-module-simulator/internal/shared/metrics"
	"github.com/cbgabler/ehr-module-simulator/internal/shared/types"
	"github.com/cbgabler/ehr-module-simulator/internal/simulation"
)

const backend = "postgres"

// Store implements simulation.Repository using PostgreSQL
type Store struct {
	db   *database.DB
	pool *pgxpool.Pool
}

// New creates a store on an open, migrated database
func New(db *database.DB) *Store {
	return &Store{db: db, pool: db.Pool}
}

func (s *Store) Close() error {
	s.db.Close()
	return nil
}

func (s *Store) Health(ctx context.Context) error {
	return s.db.Health(ctx)
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

	query := `
		INSERT INTO users (id, display_name, role) VALUES ($1, $2, $3)
		ON CONFLICT (display_name) DO UPDATE SET role = EXCLUDED.role
		RETURNING id`

	var id types.ID
	if err := s.pool.QueryRow(ctx, query, u.ID, u.DisplayName, u.Role).Scan(&id); err != nil {
		return "", apperrors.Wrap(err, "failed to create user")
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
		return "", apperrors.Wrap(err, "failed to marshal scenario definition")
	}

	query := `
		INSERT INTO scenarios (id, name, definition) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, definition = EXCLUDED.definition, updated_at = NOW()`

	if _, err := s.pool.Exec(ctx, query, sc.ID, sc.Name, def); err != nil {
		return "", apperrors.Wrap(err, "failed to save scenario")
	}
	return sc.ID, nil
}

func (s *Store) ResolveUser(ctx context.Context, id types.ID) (*simulation.User, error) {
	defer observe("resolve_user", time.Now())
	u := &simulation.User{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, display_name, role FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.DisplayName, &u.Role)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("user", id.String())
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to find user")
	}
	return u, nil
}

func (s *Store) ResolveScenario(ctx context.Context, id types.ID) (*simulation.Scenario, error) {
	defer observe("resolve_scenario", time.Now())
	sc := &simulation.Scenario{}
	var def []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, definition FROM scenarios WHERE id = $1`, id,
	).Scan(&sc.ID, &sc.Name, &def)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("scenario", id.String())
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to find scenario")
	}
	if err := json.Unmarshal(def, &sc.Definition); err != nil {
		return nil, apperrors.Wrap(err, "failed to unmarshal scenario definition")
	}
	return sc, nil
}

func (s *Store) ListScenarios(ctx context.Context) ([]simulation.Scenario, error) {
	defer observe("list_scenarios", time.Now())
	rows, err := s.pool.Query(ctx, `SELECT id, name, definition FROM scenarios ORDER BY name, id`)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list scenarios")
	}
	defer rows.Close()

	var out []simulation.Scenario
	for rows.Next() {
		var (
			sc  simulation.Scenario
			def []byte
		)
		if err := rows.Scan(&sc.ID, &sc.Name, &def); err != nil {
			return nil, apperrors.Wrap(err, "failed to scan scenario")
		}
		if err := json.Unmarshal(def, &sc.Definition); err != nil {
			return nil, apperrors.Wrap(err, "failed to unmarshal scenario definition")
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *Store) RecordSessionCreated(ctx context.Context, scenarioID, userID types.ID, startedAt time.Time) (types.ID, error) {
	defer observe("record_session", time.Now())
	id := types.NewID()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (id, scenario_id, user_id, started_at) VALUES ($1, $2, $3, $4)`,
		id, scenarioID, userID, startedAt,
	)
	if err != nil {
		return "", apperrors.Wrap(err, "failed to record session")
	}
	return id, nil
}

func (s *Store) MarkSessionEnded(ctx context.Context, sessionID types.ID, endedAt time.Time) error {
	defer observe("mark_session_ended", time.Now())
	tag, err := s.pool.Exec(ctx, `UPDATE sessions SET ended_at = $1 WHERE id = $2`, endedAt, sessionID)
	if err != nil {
		return apperrors.Wrap(err, "failed to mark session ended")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("session", sessionID.String())
	}
	return nil
}

func (s *Store) AppendAction(ctx context.Context, entry simulation.ActionEntry) error {
	defer observe("append_action", time.Now())
	var details []byte
	if len(entry.Details) > 0 {
		var err error
		if details, err = json.Marshal(entry.Details); err != nil {
			return apperrors.Wrap(err, "failed to marshal action details")
		}
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO session_actions (session_id, user_id, action_type, action_label, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, query,
		entry.SessionID, entry.UserID, entry.ActionType, entry.ActionLabel, details, entry.CreatedAt,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to append action")
	}
	return nil
}

func (s *Store) FetchActions(ctx context.Context, sessionID types.ID) ([]simulation.ActionEntry, error) {
	defer observe("fetch_actions", time.Now())
	query := `
		SELECT id, session_id, user_id, action_type, action_label, details, created_at
		FROM session_actions
		WHERE session_id = $1
		ORDER BY created_at ASC, id ASC`

	rows, err := s.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to fetch actions")
	}
	defer rows.Close()

	var out []simulation.ActionEntry
	for rows.Next() {
		var (
			e       simulation.ActionEntry
			details []byte
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.UserID, &e.ActionType, &e.ActionLabel, &details, &e.CreatedAt); err != nil {
			return nil, apperrors.Wrap(err, "failed to scan action")
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, apperrors.Wrap(err, "failed to unmarshal action details")
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const summaryColumns = `id, session_id, user_id, scenario_id, scenario_name, summary, created_at`

func scanSummary(row pgx.Row) (*simulation.Summary, error) {
	sum := &simulation.Summary{}
	err := row.Scan(&sum.ID, &sum.SessionID, &sum.UserID, &sum.ScenarioID, &sum.ScenarioName, &sum.Text, &sum.CreatedAt)
	return sum, err
}

func (s *Store) FetchSummary(ctx context.Context, sessionID types.ID) (*simulation.Summary, error) {
	defer observe("fetch_summary", time.Now())
	sum, err := scanSummary(s.pool.QueryRow(ctx,
		`SELECT `+summaryColumns+` FROM session_summaries WHERE session_id = $1`, sessionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to fetch summary")
	}
	return sum, nil
}

// PersistSummary stores the summary. A session keeps its first summary.
func (s *Store) PersistSummary(ctx context.Context, sum simulation.Summary) error {
	defer observe("persist_summary", time.Now())
	if sum.CreatedAt.IsZero() {
		sum.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO session_summaries (session_id, user_id, scenario_id, scenario_name, summary, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		sum.SessionID, sum.UserID, sum.ScenarioID, sum.ScenarioName, sum.Text, sum.CreatedAt,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to persist summary")
	}
	return nil
}

func (s *Store) ListSummaries(ctx context.Context, userID types.ID) ([]simulation.Summary, error) {
	defer observe("list_summaries", time.Now())
	rows, err := s.pool.Query(ctx,
		`SELECT `+summaryColumns+` FROM session_summaries WHERE user_id = $1 ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list summaries")
	}
	defer rows.Close()

	var out []simulation.Summary
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to scan summary")
		}
		out = append(out, *sum)
	}
	return out, rows.Err()
}
