// Package consent persists the append-only audit trail of consent
// grants for gated source tiers. Records are immutable once written:
// the store exposes Append and read paths only.
package consent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	contractx "github.com/voyagent/voyagent/agent/contract"
)

// Config holds the Postgres connection settings for the consent log.
type Config struct {
	DSN          string        `envconfig:"DSN" required:"true"`
	MaxOpenConns int           `envconfig:"MAX_OPEN_CONNS" split_words:"true" default:"4"`
	DialTimeout  time.Duration `envconfig:"DIAL_TIMEOUT" split_words:"true" default:"5s"`
}

// Record is a single consent grant. It never carries query text or
// fetched results, only who consented for which session and tier.
type Record struct {
	bun.BaseModel `bun:"table:consent_records"`

	ID        string    `bun:"id,pk"`
	ActorID   string    `bun:"actor_id,notnull"`
	SessionID string    `bun:"session_id,notnull"`
	Tier      int       `bun:"tier,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

// Store writes consent records to Postgres through bun.
type Store struct {
	db *bun.DB
}

// Open connects to Postgres and returns a ready store. The caller owns
// the store and should Close it on shutdown.
func Open(cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("consent store DSN is required")
	}
	connector := pgdriver.NewConnector(
		pgdriver.WithDSN(cfg.DSN),
		pgdriver.WithTimeout(cfg.DialTimeout),
	)
	sqldb := sql.OpenDB(connector)
	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	return &Store{db: bun.NewDB(sqldb, pgdialect.New())}, nil
}

// NewStore wraps an existing bun handle. Used by tests that stub the
// database layer.
func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the consent table when it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.NewCreateTable().
		Model((*Record)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create consent table: %w", err)
	}
	return nil
}

// Append inserts one consent record. There is no update or delete
// counterpart on purpose.
func (s *Store) Append(ctx context.Context, rec contractx.ConsentRecord) error {
	if rec.ID == "" {
		return errors.New("consent record id is required")
	}
	row := &Record{
		ID:        rec.ID,
		ActorID:   rec.ActorID,
		SessionID: rec.SessionID,
		Tier:      rec.Tier,
		CreatedAt: rec.CreatedAt,
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return fmt.Errorf("append consent record: %w", err)
	}
	return nil
}

// BySession returns the session's consent records oldest first.
func (s *Store) BySession(ctx context.Context, sessionID string) ([]contractx.ConsentRecord, error) {
	var rows []Record
	err := s.db.NewSelect().
		Model(&rows).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("load consent records: %w", err)
	}
	out := make([]contractx.ConsentRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, contractx.ConsentRecord{
			ID:        row.ID,
			ActorID:   row.ActorID,
			SessionID: row.SessionID,
			Tier:      row.Tier,
			CreatedAt: row.CreatedAt,
		})
	}
	return out, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}
