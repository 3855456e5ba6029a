package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pharmos/backend/internal/domain/ledger"
)

// OpeningStockRequest records initial stock for one batch
type OpeningStockRequest struct {
	StoreID     uuid.UUID
	ProductID   uuid.UUID
	BatchNumber string
	ExpiryDate  *time.Time
	Quantity    decimal.Decimal
	Note        string
}

// AdjustmentRequest records a manual correction of either sign
type AdjustmentRequest struct {
	StoreID     uuid.UUID
	ProductID   uuid.UUID
	BatchNumber string
	ExpiryDate  *time.Time
	// QuantityDelta is signed: positive for found stock, negative for
	// damage, expiry write-offs, or count corrections
	QuantityDelta decimal.Decimal
	Reason        string
}

// BatchBalanceView is one batch aggregate in a snapshot
type BatchBalanceView struct {
	StoreID     uuid.UUID       `json:"store_id"`
	ProductID   uuid.UUID       `json:"product_id"`
	BatchNumber string          `json:"batch_number"`
	ExpiryDate  *time.Time      `json:"expiry_date,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
}

// EntryView is one recorded stock movement
type EntryView struct {
	ID            uuid.UUID       `json:"id"`
	StoreID       uuid.UUID       `json:"store_id"`
	ProductID     uuid.UUID       `json:"product_id"`
	BatchNumber   string          `json:"batch_number"`
	ExpiryDate    *time.Time      `json:"expiry_date,omitempty"`
	Kind          string          `json:"kind"`
	QuantityDelta decimal.Decimal `json:"quantity_delta"`
	Reference     string          `json:"reference,omitempty"`
	Note          string          `json:"note,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// ToBatchBalanceView maps a domain batch aggregate to its DTO
func ToBatchBalanceView(b ledger.BatchBalance) BatchBalanceView {
	return BatchBalanceView{
		StoreID:     b.StoreID,
		ProductID:   b.ProductID,
		BatchNumber: b.BatchNumber,
		ExpiryDate:  b.ExpiryDate,
		Quantity:    b.Quantity,
	}
}

// ToEntryView maps a ledger entry to its DTO
func ToEntryView(e *ledger.Entry) EntryView {
	return EntryView{
		ID:            e.ID,
		StoreID:       e.StoreID,
		ProductID:     e.ProductID,
		BatchNumber:   e.BatchNumber,
		ExpiryDate:    e.ExpiryDate,
		Kind:          e.Kind.String(),
		QuantityDelta: e.QuantityDelta,
		Reference:     e.Reference,
		Note:          e.Note,
		CreatedAt:     e.CreatedAt,
	}
}
