package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solecraft/checkout-service/internal/domain/outbox"
)

const insertTaskSQL = `INSERT INTO outbox (id, order_id, kind, payload, dedup_key)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (dedup_key) DO NOTHING`

// claimDueSQL locks due pending tasks so concurrent dispatchers never hand
// out the same task twice.
const claimDueSQL = `SELECT id, order_id, kind, payload, dedup_key, status,
	attempts, next_attempt_at, created_at, updated_at
	FROM outbox
	WHERE status = 'pending' AND next_attempt_at <= $1
	ORDER BY next_attempt_at
	LIMIT $2
	FOR UPDATE SKIP LOCKED`

const markTaskDoneSQL = `UPDATE outbox
	SET status = 'done', updated_at = now()
	WHERE id = $1`

const rescheduleTaskSQL = `UPDATE outbox
	SET attempts = $2, next_attempt_at = $3, updated_at = now()
	WHERE id = $1`

const markTaskFailedSQL = `UPDATE outbox
	SET status = 'failed', attempts = attempts + 1, updated_at = now()
	WHERE id = $1`

var _ outbox.Repository = (*OutboxRepository)(nil)

// OutboxRepository implements outbox.Repository backed by PostgreSQL.
type OutboxRepository struct {
	pool *pgxpool.Pool
}

// NewOutboxRepository returns an OutboxRepository that uses the given pool.
func NewOutboxRepository(pool *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{pool: pool}
}

// Enqueue inserts tasks, silently skipping dedup-key collisions.
func (r *OutboxRepository) Enqueue(ctx context.Context, tasks ...outbox.Task) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if err := insertTasks(ctx, tx, tasks); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// ClaimDue selects up to limit due tasks. Claims are scoped to the statement:
// once the SELECT returns the row locks are released, so the dispatcher is
// expected to be the single consumer per deployment or tolerate duplicate
// delivery (handlers are idempotent either way).
func (r *OutboxRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]outbox.Task, error) {
	rows, err := r.pool.Query(ctx, claimDueSQL, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claiming due tasks: %w", err)
	}
	defer rows.Close()

	var tasks []outbox.Task
	for rows.Next() {
		var t outbox.Task
		err := rows.Scan(
			&t.ID, &t.OrderID, &t.Kind, &t.Payload, &t.DedupKey, &t.Status,
			&t.Attempts, &t.NextAttemptAt, &t.CreatedAt, &t.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (r *OutboxRepository) MarkDone(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, markTaskDoneSQL, id)
	if err != nil {
		return fmt.Errorf("marking task %q done: %w", id, err)
	}
	return nil
}

func (r *OutboxRepository) Reschedule(ctx context.Context, id string, attempts int, nextAttemptAt time.Time) error {
	_, err := r.pool.Exec(ctx, rescheduleTaskSQL, id, attempts, nextAttemptAt)
	if err != nil {
		return fmt.Errorf("rescheduling task %q: %w", id, err)
	}
	return nil
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, markTaskFailedSQL, id)
	if err != nil {
		return fmt.Errorf("marking task %q failed: %w", id, err)
	}
	return nil
}

// insertTasks writes tasks inside an existing transaction. Shared with the
// order repository so state changes and their side-effect tasks commit
// together.
func insertTasks(ctx context.Context, tx pgx.Tx, tasks []outbox.Task) error {
	for _, t := range tasks {
		_, err := tx.Exec(ctx, insertTaskSQL, t.ID, t.OrderID, t.Kind, t.Payload, t.DedupKey)
		if err != nil {
			return fmt.Errorf("enqueueing %s task for order %q: %w", t.Kind, t.OrderID, err)
		}
	}
	return nil
}
