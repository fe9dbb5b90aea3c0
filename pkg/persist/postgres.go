package persist

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Postgres is a Sink backed by a pgx connection pool.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Open connects to url, verifies the connection and applies migrations.
func Open(ctx context.Context, url string, logger *slog.Logger) (*Postgres, error) {
	if url == "" {
		return nil, ErrMissingURL
	}
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("persist: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("persist: ping: %w", err)
	}

	p := &Postgres{pool: pool, logger: logger.With("component", "persist.postgres")}
	if err := p.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// Migrate applies the embedded schema migrations.
func (p *Postgres) Migrate(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(p.pool)
	defer db.Close()

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("persist: dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("persist: migrate: %w", err)
	}

	version, err := goose.GetDBVersionContext(ctx, db)
	if err == nil {
		p.logger.Info("schema ready", "version", version)
	}
	return nil
}

func (p *Postgres) CreateSession(ctx context.Context, s Session) error {
	if s.StartedAt.IsZero() {
		s.StartedAt = time.Now()
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO sessions (id, conversation_id, status, scope, started_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (id) DO NOTHING`,
		s.ID, s.ConversationID, s.Status, s.Scope, s.StartedAt)
	if err != nil {
		return fmt.Errorf("persist: create session: %w", err)
	}
	return nil
}

func (p *Postgres) UpdateSession(ctx context.Context, id, status, scope string) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE sessions SET status = $2, scope = COALESCE(NULLIF($3, ''), scope), updated_at = now()
		WHERE id = $1`,
		id, status, scope)
	if err != nil {
		return fmt.Errorf("persist: update session: %w", err)
	}
	return nil
}

func (p *Postgres) AppendMessage(ctx context.Context, m Message) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO messages (id, session_id, conversation_id, sender, body, meta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.New(), m.SessionID, m.ConversationID, m.From, m.Text, m.Meta, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("persist: append message: %w", err)
	}
	return nil
}

// Messages returns a conversation's messages in order.
func (p *Postgres) Messages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT session_id, conversation_id, sender, body, meta, created_at
		FROM messages WHERE conversation_id = $1 ORDER BY created_at`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("persist: messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.SessionID, &m.ConversationID, &m.From, &m.Text, &m.Meta, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("persist: scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
