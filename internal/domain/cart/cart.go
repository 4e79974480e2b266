// Package cart holds the checkout-facing cart contract. Cart CRUD itself
// lives with the cart collaborator; the order workflow only reads a cart and
// later clears it with a compare-and-swap on the version it read.
package cart

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound means the user has no cart (or an empty one, which checkout
// treats the same way).
var ErrNotFound = errors.New("cart not found")

// ConflictError reports a Clear whose version check failed: the cart changed
// after it was read.
type ConflictError struct {
	UserID  string
	Version int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("cart for user %s no longer at version %d", e.UserID, e.Version)
}

// Item is one cart line. Price and description are snapshots taken when the
// item was added.
type Item struct {
	ProductID   string          `json:"product_id"`
	Description string          `json:"description"`
	Color       string          `json:"color"`
	Size        string          `json:"size"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
}

// Cart is a user's current cart plus its optimistic-concurrency version.
// Every mutation bumps Version, so a checkout that read version N can detect
// concurrent changes when it clears.
type Cart struct {
	UserID  string
	Items   []Item
	Version int64
}

// Repository is the contract the order workflow consumes.
type Repository interface {
	// Get returns the user's cart. ErrNotFound when there is none.
	Get(ctx context.Context, userID string) (*Cart, error)

	// Clear empties the cart only if it is still at the given version,
	// returning a ConflictError otherwise.
	Clear(ctx context.Context, userID string, version int64) error

	// Upsert replaces the cart contents and bumps the version. Used by
	// seeding and tests; the cart collaborator owns the richer item-level
	// mutations.
	Upsert(ctx context.Context, userID string, items []Item) error
}
