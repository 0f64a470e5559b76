package stats

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/internal/query"
	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/pkg/postgres"
)

const schema = `
CREATE TABLE IF NOT EXISTS term_stats (
	expression TEXT   NOT NULL,
	grp        TEXT   NOT NULL DEFAULT '',
	frequency  BIGINT NOT NULL,
	doc_count  BIGINT NOT NULL,
	PRIMARY KEY (expression, grp)
)`

// Postgres serves precomputed statistics from the term_stats table, keyed by
// canonical expression and group ('' for the default collection).
type Postgres struct {
	client *postgres.Client
	logger *slog.Logger
}

func NewPostgres(client *postgres.Client) *Postgres {
	return &Postgres{
		client: client,
		logger: slog.Default().With("component", "postgres-stats"),
	}
}

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.client.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating term_stats table: %w", err)
	}
	return nil
}

func (p *Postgres) NodeStatistics(ctx context.Context, n *query.Node) (Stats, error) {
	return p.GroupNodeStatistics(ctx, n, "")
}

// GroupNodeStatistics returns zero statistics for expressions absent from the
// table.
func (p *Postgres) GroupNodeStatistics(ctx context.Context, n *query.Node, group string) (Stats, error) {
	var s Stats
	err := p.client.DB.QueryRowContext(ctx,
		`SELECT frequency, doc_count FROM term_stats WHERE expression = $1 AND grp = $2`,
		n.String(), group,
	).Scan(&s.Frequency, &s.DocumentCount)
	if errors.Is(err, sql.ErrNoRows) {
		return Stats{}, nil
	}
	if err != nil {
		return Stats{}, fmt.Errorf("querying statistics for %s: %w", n, err)
	}
	return s, nil
}

// Import upserts entries in a single transaction.
func (p *Postgres) Import(ctx context.Context, entries []Entry) error {
	err := p.client.InTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO term_stats (expression, grp, frequency, doc_count)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (expression, grp)
			DO UPDATE SET frequency = EXCLUDED.frequency, doc_count = EXCLUDED.doc_count`)
		if err != nil {
			return fmt.Errorf("preparing upsert: %w", err)
		}
		defer stmt.Close()
		for _, e := range entries {
			if _, err := stmt.ExecContext(ctx, e.Expression, e.Group, e.Stats.Frequency, e.Stats.DocumentCount); err != nil {
				return fmt.Errorf("upserting %s: %w", e.Expression, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	p.logger.Info("statistics imported", "rows", len(entries))
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}
