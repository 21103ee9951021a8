// Package catalogue persists session descriptors only (never event
// history, which is a replayable adapter/session concern) so a
// sessions_list survives a daemon restart. Two backends are offered:
// an in-memory one for single-instance deployments and a pgx-backed one
// for sharing the catalogue across daemon instances.
package catalogue

import (
	"context"

	"github.com/relaywire/agentbridge/internal/protocol"
)

// Catalogue is the storage contract the orchestrator depends on.
type Catalogue interface {
	Upsert(ctx context.Context, d protocol.SessionDescriptor) error
	List(ctx context.Context) ([]protocol.SessionDescriptor, error)
	Delete(ctx context.Context, sessionID string) error
	Close()
}
