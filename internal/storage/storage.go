// Package storage selects the persistence backend for the simulator.
package storage

import (
	"context"
	"fmt"

	"github.com/cbgabler/ehr-module-simulator/internal/shared/config"
	"github.com/cbgabler/ehr-module-simulator/internal/shared/database"
	"github.com/cbgabler/ehr-module-simulator/internal/shared/types"
	"github.com/cbgabler/ehr-module-simulator/internal/simulation"
	"github.com/cbgabler/ehr-module-simulator/internal/storage/memory"
	"github.com/cbgabler/ehr-module-simulator/internal/storage/postgres"
	"github.com/cbgabler/ehr-module-simulator/internal/storage/sqlite"
)

// Backend is a complete storage implementation: every port the engine needs
// plus the seeding and lifecycle calls used by the commands.
type Backend interface {
	simulation.Repository

	CreateUser(ctx context.Context, user simulation.User) (types.ID, error)
	CreateScenario(ctx context.Context, scenario simulation.Scenario) (types.ID, error)
	ListScenarios(ctx context.Context) ([]simulation.Scenario, error)

	Health(ctx context.Context) error
	Close() error
}

var (
	_ Backend = (*memory.Store)(nil)
	_ Backend = (*sqlite.Store)(nil)
	_ Backend = (*postgres.Store)(nil)
)

// Open connects to the backend named by cfg.Storage.Driver and brings its
// schema up to date.
func Open(ctx context.Context, cfg *config.Config) (Backend, error) {
	switch cfg.Storage.Driver {
	case "memory":
		return memory.New(), nil
	case "sqlite":
		return sqlite.Open(ctx, cfg.SQLite)
	case "postgres":
		db, err := database.New(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		if err := database.Migrate(ctx, db.Pool); err != nil {
			db.Close()
			return nil, err
		}
		return postgres.New(db), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// Migrate applies pending schema migrations without keeping the connection
func Migrate(ctx context.Context, cfg *config.Config) error {
	backend, err := Open(ctx, cfg)
	if err != nil {
		return err
	}
	return backend.Close()
}
