package handler

import (
	"context"

	"github.com/guardline/guardline/pkg/dispatch"
	"github.com/guardline/guardline/pkg/geo"
	"github.com/guardline/guardline/pkg/messages"
	"github.com/guardline/guardline/pkg/postgres"
)

// Archive is the read side of the optional durable record, satisfied by
// postgres.Pool. Handlers serve it when attached so history survives
// restarts, and fall back to in-memory state when it is absent or a query
// fails.
type Archive interface {
	ListIncidents(ctx context.Context, filter postgres.IncidentFilter) ([]dispatch.Incident, error)
	ListMessages(ctx context.Context, limit int) ([]messages.Outbound, error)
	LastPosition(ctx context.Context) (geo.Position, error)
}
