package ledger

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BatchBalance is the derived stock position of one batch: the signed sum of
// ledger entry deltas for a (store, product, batch) scope. It is always
// recomputed from the ledger, never stored.
type BatchBalance struct {
	StoreID     uuid.UUID
	ProductID   uuid.UUID
	BatchNumber string
	ExpiryDate  *time.Time
	Quantity    decimal.Decimal
}

// IsExpiredAt returns true if the batch has an expiry date before the given time
func (b BatchBalance) IsExpiredAt(t time.Time) bool {
	return b.ExpiryDate != nil && b.ExpiryDate.Before(t)
}

// SortFEFO sorts batch balances in place by nearest expiry first. A batch
// without an expiry date is treated as never expiring and sorts last; ties
// break on batch number to keep the order deterministic.
func SortFEFO(batches []BatchBalance) {
	sort.SliceStable(batches, func(i, j int) bool {
		bi, bj := batches[i], batches[j]
		switch {
		case bi.ExpiryDate != nil && bj.ExpiryDate != nil:
			if !bi.ExpiryDate.Equal(*bj.ExpiryDate) {
				return bi.ExpiryDate.Before(*bj.ExpiryDate)
			}
		case bi.ExpiryDate != nil:
			return true
		case bj.ExpiryDate != nil:
			return false
		}
		return bi.BatchNumber < bj.BatchNumber
	})
}

// TotalAvailable sums the positive batch quantities
func TotalAvailable(batches []BatchBalance) decimal.Decimal {
	total := decimal.Zero
	for _, b := range batches {
		if b.Quantity.IsPositive() {
			total = total.Add(b.Quantity)
		}
	}
	return total
}
