package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solecraft/checkout-service/internal/domain/cart"
)

const getCartSQL = `SELECT items, version FROM carts WHERE user_id = $1`

// clearCartSQL empties the cart only when it is still at the expected
// version; a bumped version means the cart changed after checkout read it.
const clearCartSQL = `UPDATE carts
	SET items = '[]', version = version + 1, updated_at = now()
	WHERE user_id = $1 AND version = $2`

const upsertCartSQL = `INSERT INTO carts (user_id, items, version)
	VALUES ($1, $2, 1)
	ON CONFLICT (user_id) DO UPDATE
	SET items = EXCLUDED.items, version = carts.version + 1, updated_at = now()`

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

func (r *CartRepository) Get(ctx context.Context, userID string) (*cart.Cart, error) {
	var (
		items   []byte
		version int64
	)
	err := r.pool.QueryRow(ctx, getCartSQL, userID).Scan(&items, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, cart.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting cart for user %q: %w", userID, err)
	}

	c := &cart.Cart{UserID: userID, Version: version}
	if err := json.Unmarshal(items, &c.Items); err != nil {
		return nil, fmt.Errorf("unmarshaling cart items for user %q: %w", userID, err)
	}
	return c, nil
}

func (r *CartRepository) Clear(ctx context.Context, userID string, version int64) error {
	tag, err := r.pool.Exec(ctx, clearCartSQL, userID, version)
	if err != nil {
		return fmt.Errorf("clearing cart for user %q: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return &cart.ConflictError{UserID: userID, Version: version}
	}
	return nil
}

func (r *CartRepository) Upsert(ctx context.Context, userID string, items []cart.Item) error {
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshaling cart items: %w", err)
	}
	_, err = r.pool.Exec(ctx, upsertCartSQL, userID, itemsJSON)
	if err != nil {
		return fmt.Errorf("upserting cart for user %q: %w", userID, err)
	}
	return nil
}
