// Package inventory defines per-variant stock adjustments. A delta is always
// a positive quantity plus an explicit direction; there is no signed-quantity
// or boolean-flag redundancy to invert by accident.
package inventory

import (
	"context"
	"fmt"
)

// Direction says which way the stock moves.
type Direction string

const (
	Increment Direction = "INCREMENT"
	Decrement Direction = "DECREMENT"
)

// ToDirection parses a direction string.
func ToDirection(s string) (Direction, error) {
	switch Direction(s) {
	case Increment:
		return Increment, nil
	case Decrement:
		return Decrement, nil
	}
	return "", fmt.Errorf("invalid inventory direction %q", s)
}

// Adjustment moves the stock of one (product, size, color) variant by
// Quantity units in Direction. Quantity must be positive.
type Adjustment struct {
	ProductID string
	Size      string
	Color     string
	Quantity  int
	Direction Direction
}

// InsufficientStockError reports a decrement that would take a variant below
// zero. The conditional-update guard applies only to decrements; increments
// are unconditional.
type InsufficientStockError struct {
	ProductID string
	Size      string
	Color     string
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s (size %s, color %s)", e.ProductID, e.Size, e.Color)
}

// Repository applies adjustments against the variant store. Apply is
// all-or-nothing: when an adjustment cannot be satisfied it returns an
// InsufficientStockError and none of the batch takes effect, so callers
// may retry the whole batch safely.
type Repository interface {
	Apply(ctx context.Context, adjustments []Adjustment) error
}
