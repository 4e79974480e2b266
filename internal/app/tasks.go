package app

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/solecraft/checkout-service/internal/domain/cart"
	"github.com/solecraft/checkout-service/internal/domain/inventory"
	"github.com/solecraft/checkout-service/internal/domain/outbox"
)

// registerTaskHandlers binds the side-effect task kinds to the collaborator
// repositories.
func registerTaskHandlers(d *outbox.Dispatcher, carts cart.Repository, variants inventory.Repository) {
	d.Handle(outbox.KindClearCart, clearCartHandler(carts))
	d.Handle(outbox.KindAdjustInventory, adjustInventoryHandler(variants))
}

// clearCartHandler empties the cart recorded at checkout. A version conflict
// means the user kept shopping after paying; the newer cart wins and the task
// is acknowledged without clearing.
func clearCartHandler(carts cart.Repository) outbox.HandlerFunc {
	return func(ctx context.Context, task outbox.Task) error {
		var p outbox.ClearCartPayload
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			return errors.Wrap(err, "decode clear-cart payload")
		}

		err := carts.Clear(ctx, p.UserID, p.CartVersion)
		var conflict *cart.ConflictError
		if errors.As(err, &conflict) {
			zctx.From(ctx).Info("cart changed since checkout, leaving it alone",
				zap.String("user_id", p.UserID),
				zap.Int64("checkout_version", p.CartVersion))
			return nil
		}
		return err
	}
}

// adjustInventoryHandler applies stock deltas. Errors, including insufficient
// stock, bubble up so the dispatcher retries and eventually parks the task
// for manual reconciliation.
func adjustInventoryHandler(variants inventory.Repository) outbox.HandlerFunc {
	return func(ctx context.Context, task outbox.Task) error {
		var p outbox.AdjustInventoryPayload
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			return errors.Wrap(err, "decode adjust-inventory payload")
		}

		adjustments := make([]inventory.Adjustment, len(p.Adjustments))
		for i, a := range p.Adjustments {
			direction, err := inventory.ToDirection(a.Direction)
			if err != nil {
				return err
			}
			adjustments[i] = inventory.Adjustment{
				ProductID: a.ProductID,
				Size:      a.Size,
				Color:     a.Color,
				Quantity:  a.Quantity,
				Direction: direction,
			}
		}

		return variants.Apply(ctx, adjustments)
	}
}
