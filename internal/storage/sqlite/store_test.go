package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cbgabler/ehr-module-simulator/internal/shared/config"
	apperrors "github.com/cbgabler/ehr-module-simulator/internal/shared/errors"
	"github.com/cbgabler/ehr-module-simulator/internal/shared/types"
	"github.com/cbgabler/ehr-module-simulator/internal/simulation"
	"github.com/cbgabler/ehr-module-simulator/internal/storage/sqlite"
	"github.com/cbgabler/ehr-module-simulator/internal/storage/storagetest"
)

func openStore(t *testing.T, path string) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(context.Background(), config.SQLiteConfig{Path: path, BusyTimeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storagetest.Backend {
		return openStore(t, filepath.Join(t.TempDir(), "simulator.db"))
	})
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := sqlite.Open(context.Background(), config.SQLiteConfig{Path: "  "})
	assert.Error(t, err)
}

func TestReopenKeepsDataAndSkipsMigrations(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "simulator.db")

	first, err := sqlite.Open(ctx, config.SQLiteConfig{Path: path})
	require.NoError(t, err)
	id, err := first.CreateUser(ctx, simulation.User{DisplayName: "nurse.jackie"})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second := openStore(t, path)
	require.NoError(t, second.Health(ctx))
	user, err := second.ResolveUser(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "trainee", user.Role)
}

func TestCreateUserIsIdempotentByName(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, filepath.Join(t.TempDir(), "simulator.db"))

	first, err := store.CreateUser(ctx, simulation.User{DisplayName: "dr.house", Role: "trainee"})
	require.NoError(t, err)
	second, err := store.CreateUser(ctx, simulation.User{DisplayName: "dr.house", Role: "instructor"})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	user, err := store.ResolveUser(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "instructor", user.Role)

	_, err = store.CreateUser(ctx, simulation.User{})
	assert.Equal(t, "VALIDATION_ERROR", apperrors.CodeOf(err))
}

func TestMarkUnknownSessionEnded(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "simulator.db"))
	err := store.MarkSessionEnded(context.Background(), types.NewID(), time.Now())
	assert.True(t, apperrors.IsNotFound(err))
}
