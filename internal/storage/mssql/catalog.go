// Package mssql reads scenario definitions from an institution's SQL Server
// training database. The catalog is read-only; sessions, action logs and
// summaries stay in the main storage backend.
package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"time"

	_ "github.com/denisenkom/go-mssqldb" // SQL Server driver

	"github.com/cbgabler/ehr-module-simulator/internal/scenario"
	"github.com/cbgabler/ehr-module-simulator/internal/shared/config"
	apperrors "github.com/cbgabler/ehr-module-simulator/internal/shared/errors"
	"github.com/cbgabler/ehr-module-simulator/internal/shared/metrics"
	"github.com/cbgabler/ehr-module-simulator/internal/shared/types"
	"github.com/cbgabler/ehr-module-simulator/internal/simulation"
)

const backend = "mssql"

// tableName accepts schema-qualified identifiers such as dbo.TrainingScenarios
// or [training].[Scenarios].
var tableName = regexp.MustCompile(`^(\[?[A-Za-z_][A-Za-z0-9_]*\]?\.)?\[?[A-Za-z_][A-Za-z0-9_]*\]?$`)

// Catalog implements simulation.ScenarioCatalog. The table needs the columns
// ScenarioID, Name, Definition (JSON or YAML text) and IsActive.
type Catalog struct {
	db    *sql.DB
	table string
}

// ConnectionString builds a sqlserver:// URL for the driver
func ConnectionString(cfg config.MSSQLConfig) string {
	q := url.Values{}
	q.Set("database", cfg.Database)
	if cfg.Encrypt {
		q.Set("encrypt", "true")
		q.Set("TrustServerCertificate", "true")
	} else {
		q.Set("encrypt", "disable")
	}
	u := url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     cfg.Host + ":" + strconv.Itoa(cfg.Port),
		RawQuery: q.Encode(),
	}
	return u.String()
}

// Open connects to SQL Server and verifies the connection
func Open(ctx context.Context, cfg config.MSSQLConfig) (*Catalog, error) {
	if !tableName.MatchString(cfg.ScenarioTable) {
		return nil, fmt.Errorf("invalid scenario table name %q", cfg.ScenarioTable)
	}

	db, err := sql.Open("sqlserver", ConnectionString(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Catalog{db: db, table: cfg.ScenarioTable}, nil
}

// ResolveScenario loads an active scenario by id
func (c *Catalog) ResolveScenario(ctx context.Context, id types.ID) (*simulation.Scenario, error) {
	defer func(start time.Time) {
		metrics.RecordDBQuery(backend, "resolve_scenario", time.Since(start))
	}(time.Now())

	query := fmt.Sprintf(`
		SELECT ScenarioID, Name, Definition
		FROM %s
		WHERE ScenarioID = @id AND IsActive = 1`, c.table)

	var (
		sc  simulation.Scenario
		def string
	)
	err := c.db.QueryRowContext(ctx, query, sql.Named("id", id.String())).Scan(&sc.ID, &sc.Name, &def)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("scenario", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query scenario: %w", err)
	}

	sc.Definition, err = scenario.ParseDefinition([]byte(def))
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", id, err)
	}
	return &sc, nil
}

// Health checks database connectivity
func (c *Catalog) Health(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close closes the connection pool
func (c *Catalog) Close() error {
	return c.db.Close()
}
