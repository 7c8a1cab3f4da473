package simulation

import (
	"context"
	"time"

	"github.com/cbgabler/ehr-module-simulator/internal/shared/types"
)

// UserDirectory resolves trainees. A missing user is reported with a
// NotFound application error.
type UserDirectory interface {
	ResolveUser(ctx context.Context, id types.ID) (*User, error)
}

// ScenarioCatalog resolves scenario definitions
type ScenarioCatalog interface {
	ResolveScenario(ctx context.Context, id types.ID) (*Scenario, error)
}

// SessionRecorder owns the durable session rows
type SessionRecorder interface {
	RecordSessionCreated(ctx context.Context, scenarioID, userID types.ID, startedAt time.Time) (types.ID, error)
	MarkSessionEnded(ctx context.Context, sessionID types.ID, endedAt time.Time) error
}

// ActionLog is the per-session audit trail. FetchActions returns entries
// ordered by creation time.
type ActionLog interface {
	AppendAction(ctx context.Context, entry ActionEntry) error
	FetchActions(ctx context.Context, sessionID types.ID) ([]ActionEntry, error)
}

// SummaryStore persists end-of-session summaries. FetchSummary returns
// nil, nil when the session has none.
type SummaryStore interface {
	FetchSummary(ctx context.Context, sessionID types.ID) (*Summary, error)
	PersistSummary(ctx context.Context, summary Summary) error
	ListSummaries(ctx context.Context, userID types.ID) ([]Summary, error)
}

// Collaborators bundles the storage ports the engine depends on. A single
// backend usually implements all of them.
type Collaborators struct {
	Users     UserDirectory
	Scenarios ScenarioCatalog
	Sessions  SessionRecorder
	Actions   ActionLog
	Summaries SummaryStore
}

// Repository is implemented by storage backends that provide every port
type Repository interface {
	UserDirectory
	ScenarioCatalog
	SessionRecorder
	ActionLog
	SummaryStore
}

// CollaboratorsFrom wires every port to one repository
func CollaboratorsFrom(repo Repository) Collaborators {
	return Collaborators{
		Users:     repo,
		Scenarios: repo,
		Sessions:  repo,
		Actions:   repo,
		Summaries: repo,
	}
}
