// Package outbox persists the cross-service side effects of the order
// workflow (clear cart, adjust inventory) as durable tasks. Tasks are written
// in the same database transaction as the order-state change that caused
// them, then executed asynchronously with retries by the Dispatcher — the
// order handler never fires downstream calls inline.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind identifies the side effect a task carries.
type Kind string

const (
	KindClearCart       Kind = "clear_cart"
	KindAdjustInventory Kind = "adjust_inventory"
)

// TaskStatus is the dispatch state of a task.
type TaskStatus string

const (
	StatusPending TaskStatus = "pending"
	StatusDone    TaskStatus = "done"
	// StatusFailed marks a task that exhausted its attempts and needs manual
	// reconciliation.
	StatusFailed TaskStatus = "failed"
)

// Task is one pending side effect keyed by order and deduplicated by
// DedupKey: re-running the enqueue path for the same order inserts nothing.
type Task struct {
	ID            string
	OrderID       string
	Kind          Kind
	Payload       json.RawMessage
	DedupKey      string
	Status        TaskStatus
	Attempts      int
	NextAttemptAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewTask builds a pending task with the payload serialized to JSON. The
// dedup key is derived from the order, the kind, and a step label so that two
// distinct steps of one order never collide while retried enqueues do.
func NewTask(orderID string, kind Kind, step string, payload any) (Task, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Task{}, fmt.Errorf("marshaling %s payload: %w", kind, err)
	}
	return Task{
		ID:       uuid.New().String(),
		OrderID:  orderID,
		Kind:     kind,
		Payload:  raw,
		DedupKey: fmt.Sprintf("%s:%s:%s", orderID, kind, step),
		Status:   StatusPending,
	}, nil
}

// ClearCartPayload asks the cart collaborator to clear a user's cart, but
// only if the cart is still at the version observed during checkout.
type ClearCartPayload struct {
	UserID      string `json:"user_id"`
	CartVersion int64  `json:"cart_version"`
}

// AdjustInventoryPayload carries signed stock adjustments for the product
// collaborator.
type AdjustInventoryPayload struct {
	Adjustments []InventoryAdjustment `json:"adjustments"`
}

// InventoryAdjustment mirrors inventory.Adjustment in a wire-stable shape.
type InventoryAdjustment struct {
	ProductID string `json:"product_id"`
	Size      string `json:"size"`
	Color     string `json:"color"`
	Quantity  int    `json:"quantity"`
	Direction string `json:"direction"`
}

// Repository defines persistence for tasks. ClaimDue must hand each due task
// to at most one dispatcher at a time (FOR UPDATE SKIP LOCKED or equivalent).
type Repository interface {
	Enqueue(ctx context.Context, tasks ...Task) error
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]Task, error)
	MarkDone(ctx context.Context, id string) error
	Reschedule(ctx context.Context, id string, attempts int, nextAttemptAt time.Time) error
	MarkFailed(ctx context.Context, id string) error
}
