package catalogue

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaywire/agentbridge/internal/protocol"
)

// Postgres is the pgx-backed catalogue, used when operators want session
// descriptors shared across multiple daemon instances (paired with the
// NATS relay in internal/relay so every instance's gateway sees every
// other instance's sessions too).
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to dsn, configures a small pool sized for this
// daemon's light read/write volume, and ensures the sessions table exists.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse catalogue dsn: %w", err)
	}
	poolConfig.MaxConns = 8
	poolConfig.MinConns = 1
	poolConfig.ConnConfig.ConnectTimeout = 10 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create catalogue pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping catalogue database: %w", err)
	}

	p := &Postgres{pool: pool}
	if err := p.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS agentbridge_sessions (
			id                     TEXT PRIMARY KEY,
			adapter                TEXT NOT NULL,
			project_path           TEXT NOT NULL,
			display_name           TEXT NOT NULL DEFAULT '',
			status                 TEXT NOT NULL,
			created_at             TEXT NOT NULL,
			last_activity          TEXT NOT NULL,
			first_user_message     TEXT NOT NULL DEFAULT '',
			last_assistant_message TEXT NOT NULL DEFAULT '',
			model_id               TEXT NOT NULL DEFAULT '',
			permission_mode        TEXT NOT NULL DEFAULT ''
		)`)
	if err != nil {
		return fmt.Errorf("migrate agentbridge_sessions: %w", err)
	}
	return nil
}

func (p *Postgres) Upsert(ctx context.Context, d protocol.SessionDescriptor) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO agentbridge_sessions
			(id, adapter, project_path, display_name, status, created_at, last_activity,
			 first_user_message, last_assistant_message, model_id, permission_mode)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			adapter = EXCLUDED.adapter,
			project_path = EXCLUDED.project_path,
			display_name = EXCLUDED.display_name,
			status = EXCLUDED.status,
			last_activity = EXCLUDED.last_activity,
			first_user_message = EXCLUDED.first_user_message,
			last_assistant_message = EXCLUDED.last_assistant_message,
			model_id = EXCLUDED.model_id,
			permission_mode = EXCLUDED.permission_mode`,
		d.ID, d.Adapter, d.ProjectPath, d.DisplayName, string(d.Status), d.CreatedAt, d.LastActivity,
		d.FirstUserMessage, d.LastAssistantMessage, d.ModelID, d.PermissionMode)
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", d.ID, err)
	}
	return nil
}

func (p *Postgres) List(ctx context.Context) ([]protocol.SessionDescriptor, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, adapter, project_path, display_name, status, created_at, last_activity,
		       first_user_message, last_assistant_message, model_id, permission_mode
		FROM agentbridge_sessions`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []protocol.SessionDescriptor
	for rows.Next() {
		var d protocol.SessionDescriptor
		var status string
		if err := rows.Scan(&d.ID, &d.Adapter, &d.ProjectPath, &d.DisplayName, &status, &d.CreatedAt,
			&d.LastActivity, &d.FirstUserMessage, &d.LastAssistantMessage, &d.ModelID, &d.PermissionMode); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		d.Status = protocol.SessionStatus(status)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}
	return out, nil
}

func (p *Postgres) Delete(ctx context.Context, sessionID string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM agentbridge_sessions WHERE id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

var _ Catalogue = (*Postgres)(nil)
