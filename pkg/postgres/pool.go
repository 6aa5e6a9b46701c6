// Package postgres provides PostgreSQL connection pooling and the durable
// record of incidents, outbound messages, and position snapshots.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/guardline/guardline/pkg/dispatch"
	"github.com/guardline/guardline/pkg/geo"
	"github.com/guardline/guardline/pkg/messages"
)

// Pool wraps pgxpool.Pool with domain-specific query methods
type Pool struct {
	*pgxpool.Pool
}

// Config holds PostgreSQL connection configuration
type Config struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string

	// Pool settings
	MaxConns    int32
	MinConns    int32
	MaxConnLife time.Duration
	MaxConnIdle time.Duration
	HealthCheck time.Duration
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Host:        "localhost",
		Port:        5432,
		Database:    "guardline",
		User:        "guardline",
		Password:    "guardline",
		SSLMode:     "disable",
		MaxConns:    25,
		MinConns:    5,
		MaxConnLife: time.Hour,
		MaxConnIdle: 30 * time.Minute,
		HealthCheck: time.Minute,
	}
}

// ConnectionString builds a PostgreSQL connection string
func (c Config) ConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// NewPool creates a new PostgreSQL connection pool
func NewPool(ctx context.Context, cfg Config) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLife
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdle
	poolCfg.HealthCheckPeriod = cfg.HealthCheck

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// NewPoolFromURL creates a pool from a connection URL
func NewPoolFromURL(ctx context.Context, url string) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// EnsureSchema creates the engine tables when they do not exist
func (p *Pool) EnsureSchema(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS incidents (
			incident_id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			priority TEXT NOT NULL,
			state TEXT NOT NULL,
			location_lat DOUBLE PRECISION,
			location_lng DOUBLE PRECISION,
			location_known BOOLEAN NOT NULL DEFAULT FALSE,
			identity JSONB,
			responder_eta_min INT,
			created_at TIMESTAMPTZ NOT NULL,
			dispatched_at TIMESTAMPTZ,
			resolved_at TIMESTAMPTZ
		);

		CREATE TABLE IF NOT EXISTS outbound_messages (
			message_id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			recipient TEXT NOT NULL,
			body TEXT NOT NULL,
			delivery_state TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS position_snapshots (
			id BIGSERIAL PRIMARY KEY,
			lat DOUBLE PRECISION NOT NULL,
			lng DOUBLE PRECISION NOT NULL,
			accuracy_m DOUBLE PRECISION NOT NULL,
			observed_at TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_incidents_state ON incidents(state);
		CREATE INDEX IF NOT EXISTS idx_positions_observed ON position_snapshots(observed_at DESC);
	`
	if _, err := p.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// SaveIncident upserts an incident row on its latest state
func (p *Pool) SaveIncident(ctx context.Context, incident dispatch.Incident) error {
	var identity []byte
	if incident.Identity != nil {
		identity, _ = json.Marshal(incident.Identity)
	}

	_, err := p.Exec(ctx, `
		INSERT INTO incidents (
			incident_id, kind, priority, state,
			location_lat, location_lng, location_known, identity, responder_eta_min,
			created_at, dispatched_at, resolved_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (incident_id) DO UPDATE SET
			priority = EXCLUDED.priority,
			state = EXCLUDED.state,
			location_lat = EXCLUDED.location_lat,
			location_lng = EXCLUDED.location_lng,
			location_known = EXCLUDED.location_known,
			identity = EXCLUDED.identity,
			responder_eta_min = EXCLUDED.responder_eta_min,
			dispatched_at = EXCLUDED.dispatched_at,
			resolved_at = EXCLUDED.resolved_at
	`,
		incident.ID, string(incident.Kind), string(incident.Priority), string(incident.State),
		incident.Location.Lat, incident.Location.Lng, incident.LocationKnown, identity,
		incident.ResponderETAMin, incident.CreatedAt, incident.DispatchedAt, incident.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save incident: %w", err)
	}
	return nil
}

// SaveMessage upserts an outbound message on its latest delivery state
func (p *Pool) SaveMessage(ctx context.Context, msg messages.Outbound) error {
	_, err := p.Exec(ctx, `
		INSERT INTO outbound_messages (
			message_id, kind, recipient, body, delivery_state, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (message_id) DO UPDATE SET
			delivery_state = EXCLUDED.delivery_state
	`,
		msg.ID, string(msg.Kind), msg.Recipient, msg.Body,
		string(msg.DeliveryState), msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// SavePosition appends a position snapshot
func (p *Pool) SavePosition(ctx context.Context, pos geo.Position) error {
	_, err := p.Exec(ctx, `
		INSERT INTO position_snapshots (lat, lng, accuracy_m, observed_at)
		VALUES ($1, $2, $3, $4)
	`, pos.Lat, pos.Lng, pos.AccuracyM, pos.ObservedAt)
	if err != nil {
		return fmt.Errorf("failed to save position: %w", err)
	}
	return nil
}

// IncidentFilter defines filter options for incident queries
type IncidentFilter struct {
	State string
	Kind  string
	Since *time.Time
	Limit int
}

// ListIncidents retrieves incidents with optional filtering, newest first
func (p *Pool) ListIncidents(ctx context.Context, filter IncidentFilter) ([]dispatch.Incident, error) {
	query := `
		SELECT
			incident_id, kind, priority, state,
			location_lat, location_lng, location_known, identity, responder_eta_min,
			created_at, dispatched_at, resolved_at
		FROM incidents
		WHERE 1=1
	`
	args := []interface{}{}
	argNum := 1

	if filter.State != "" {
		query += fmt.Sprintf(" AND state = $%d", argNum)
		args = append(args, filter.State)
		argNum++
	}

	if filter.Kind != "" {
		query += fmt.Sprintf(" AND kind = $%d", argNum)
		args = append(args, filter.Kind)
		argNum++
	}

	if filter.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argNum)
		args = append(args, *filter.Since)
		argNum++
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filter.Limit)
	}

	rows, err := p.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query incidents: %w", err)
	}
	defer rows.Close()

	var incidents []dispatch.Incident
	for rows.Next() {
		var inc dispatch.Incident
		var kind, priority, state string
		var identity []byte

		err := rows.Scan(
			&inc.ID, &kind, &priority, &state,
			&inc.Location.Lat, &inc.Location.Lng, &inc.LocationKnown, &identity,
			&inc.ResponderETAMin, &inc.CreatedAt, &inc.DispatchedAt, &inc.ResolvedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan incident: %w", err)
		}

		inc.Kind = dispatch.Kind(kind)
		inc.Priority = dispatch.Priority(priority)
		inc.State = dispatch.State(state)
		if len(identity) > 0 {
			var v messages.IdentityVerification
			if err := json.Unmarshal(identity, &v); err == nil {
				inc.Identity = &v
			}
		}
		incidents = append(incidents, inc)
	}

	return incidents, rows.Err()
}

// ListMessages retrieves outbound messages, newest first
func (p *Pool) ListMessages(ctx context.Context, limit int) ([]messages.Outbound, error) {
	query := `
		SELECT message_id, kind, recipient, body, delivery_state, created_at
		FROM outbound_messages
		ORDER BY created_at DESC
	`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := p.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var out []messages.Outbound
	for rows.Next() {
		var msg messages.Outbound
		var kind, state string
		if err := rows.Scan(&msg.ID, &kind, &msg.Recipient, &msg.Body, &state,
			&msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Kind = messages.Kind(kind)
		msg.DeliveryState = messages.DeliveryState(state)
		out = append(out, msg)
	}

	return out, rows.Err()
}

// LastPosition returns the most recent position snapshot
func (p *Pool) LastPosition(ctx context.Context) (geo.Position, error) {
	var pos geo.Position
	err := p.QueryRow(ctx, `
		SELECT lat, lng, accuracy_m, observed_at
		FROM position_snapshots
		ORDER BY observed_at DESC
		LIMIT 1
	`).Scan(&pos.Lat, &pos.Lng, &pos.AccuracyM, &pos.ObservedAt)
	if err != nil {
		return geo.Position{}, fmt.Errorf("failed to query last position: %w", err)
	}
	return pos, nil
}
