package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/pharmos/backend/internal/domain/shared"
)

// Allocation is one per-batch deduction selected by the allocator
type Allocation struct {
	BatchNumber string
	ExpiryDate  *time.Time
	Quantity    decimal.Decimal
}

// Allocate selects batches for the required quantity using FEFO order:
// soonest-expiring batches are consumed first, batches without an expiry
// date last. Batches with a non-positive balance are discarded. If the sum
// of positive batch balances is less than the required quantity, it fails
// with INSUFFICIENT_STOCK carrying the available total, before any mutation.
//
// On success the allocations conserve quantity:
// sum(Allocation.Quantity) == required.
func Allocate(required decimal.Decimal, batches []BatchBalance) ([]Allocation, error) {
	if required.LessThanOrEqual(decimal.Zero) {
		return nil, shared.NewDomainError("INVALID_QUANTITY", "Requested quantity must be positive")
	}

	available := make([]BatchBalance, 0, len(batches))
	for _, b := range batches {
		if b.Quantity.IsPositive() {
			available = append(available, b)
		}
	}

	total := TotalAvailable(available)
	if total.LessThan(required) {
		return nil, shared.NewInsufficientStockError(required, total)
	}

	SortFEFO(available)

	allocations := make([]Allocation, 0, len(available))
	remaining := required
	for _, b := range available {
		if remaining.IsZero() {
			break
		}
		take := decimal.Min(remaining, b.Quantity)
		allocations = append(allocations, Allocation{
			BatchNumber: b.BatchNumber,
			ExpiryDate:  b.ExpiryDate,
			Quantity:    take,
		})
		remaining = remaining.Sub(take)
	}

	return allocations, nil
}
