package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solecraft/checkout-service/internal/domain/inventory"
)

// decrementStockSQL only matches when enough stock remains; zero rows means
// the decrement would go negative (or the variant does not exist).
const decrementStockSQL = `UPDATE variants
	SET stock = stock - $4
	WHERE product_id = $1 AND size = $2 AND color = $3 AND stock >= $4`

const incrementStockSQL = `INSERT INTO variants (product_id, size, color, stock)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (product_id, size, color) DO UPDATE
	SET stock = variants.stock + EXCLUDED.stock`

var _ inventory.Repository = (*VariantRepository)(nil)

// VariantRepository implements inventory.Repository backed by PostgreSQL.
// Decrements are conditional UPDATEs, so concurrent batches can never drive
// a variant below zero.
type VariantRepository struct {
	pool *pgxpool.Pool
}

// NewVariantRepository returns a VariantRepository that uses the given pool.
func NewVariantRepository(pool *pgxpool.Pool) *VariantRepository {
	return &VariantRepository{pool: pool}
}

// Apply executes the adjustments inside a single transaction. When any
// decrement cannot be satisfied the whole batch rolls back, so a retried
// batch never re-applies adjustments that already went through.
func (r *VariantRepository) Apply(ctx context.Context, adjustments []inventory.Adjustment) error {
	return inTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, adj := range adjustments {
			switch adj.Direction {
			case inventory.Decrement:
				tag, err := tx.Exec(ctx, decrementStockSQL,
					adj.ProductID, adj.Size, adj.Color, adj.Quantity,
				)
				if err != nil {
					return fmt.Errorf("decrementing stock of %q: %w", adj.ProductID, err)
				}
				if tag.RowsAffected() == 0 {
					return &inventory.InsufficientStockError{
						ProductID: adj.ProductID,
						Size:      adj.Size,
						Color:     adj.Color,
					}
				}
			case inventory.Increment:
				_, err := tx.Exec(ctx, incrementStockSQL,
					adj.ProductID, adj.Size, adj.Color, adj.Quantity,
				)
				if err != nil {
					return fmt.Errorf("incrementing stock of %q: %w", adj.ProductID, err)
				}
			default:
				return fmt.Errorf("invalid inventory direction %q", adj.Direction)
			}
		}
		return nil
	})
}
