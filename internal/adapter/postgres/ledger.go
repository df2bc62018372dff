package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/phixarhasse/musikhjaelpen-alert/internal/domain"
)

const insertEventSQL = `
INSERT INTO donation_events (sequence, class, amount, total_after, occurred_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (occurred_at, total_after) DO NOTHING`

const recentEventsSQL = `
SELECT sequence, class, amount, total_after, occurred_at
FROM donation_events
ORDER BY occurred_at DESC, id DESC
LIMIT $1`

// Ledger records every distributed event. It is write-only from the
// pipeline's point of view: nothing is ever replayed from it.
type Ledger struct {
	pool *pgxpool.Pool
}

func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

func (l *Ledger) Name() string {
	return "ledger"
}

func (l *Ledger) Connect(ctx context.Context) error {
	if err := l.pool.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

func (l *Ledger) Deliver(ctx context.Context, ev domain.DonationEvent) error {
	_, err := l.pool.Exec(ctx, insertEventSQL,
		int64(ev.Sequence), ev.Class.String(), ev.Amount, ev.TotalAfter, ev.OccurredAt)
	if err != nil {
		return fmt.Errorf("failed to record donation event: %w", err)
	}
	return nil
}

// Close is a no-op: the pool is shared and closed at shutdown.
func (l *Ledger) Close() error {
	return nil
}

// Recent returns up to limit events, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]domain.DonationEvent, error) {
	rows, err := l.pool.Query(ctx, recentEventsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query donation events: %w", err)
	}

	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.DonationEvent, error) {
		var (
			ev    domain.DonationEvent
			seq   int64
			class string
		)
		if err := row.Scan(&seq, &class, &ev.Amount, &ev.TotalAfter, &ev.OccurredAt); err != nil {
			return ev, err
		}
		parsed, err := domain.ParseEventClass(class)
		if err != nil {
			return ev, err
		}
		ev.Sequence = uint64(seq)
		ev.Class = parsed
		return ev, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read donation events: %w", err)
	}
	return events, nil
}
