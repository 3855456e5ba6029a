package dispense

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pharmos/backend/internal/domain/shared"
)

// ReturnStatus represents the status of a return
type ReturnStatus string

const (
	ReturnStatusDraft     ReturnStatus = "DRAFT"
	ReturnStatusApproved  ReturnStatus = "APPROVED"
	ReturnStatusCancelled ReturnStatus = "CANCELLED"
)

// IsValid checks if the status is a valid ReturnStatus
func (s ReturnStatus) IsValid() bool {
	switch s {
	case ReturnStatusDraft, ReturnStatusApproved, ReturnStatusCancelled:
		return true
	}
	return false
}

// String returns the string representation
func (s ReturnStatus) String() string { return string(s) }

// CanTransitionTo checks if the status can transition to the target status.
// APPROVED and CANCELLED are terminal; an approved return can never be
// cancelled — a corrective new sale must be issued instead.
func (s ReturnStatus) CanTransitionTo(target ReturnStatus) bool {
	if s != ReturnStatusDraft {
		return false
	}
	return target == ReturnStatusApproved || target == ReturnStatusCancelled
}

// ReturnLine references one original sale line and the quantity coming back.
// Batch and expiry are copied from that sale line; stock is always restored
// to the batch it was dispensed from.
type ReturnLine struct {
	shared.BaseEntity
	ReturnID    uuid.UUID       `gorm:"type:uuid;not null;index"`
	SaleLineID  uuid.UUID       `gorm:"type:uuid;not null;index"`
	ProductID   uuid.UUID       `gorm:"type:uuid;not null"`
	ProductName string          `gorm:"type:varchar(150);not null"`
	BatchNumber string          `gorm:"type:varchar(100);not null"`
	ExpiryDate  *time.Time      `gorm:"type:date"`
	Quantity    decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	TaxAmount   decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	LineTotal   decimal.Decimal `gorm:"type:decimal(18,4);not null"`
}

// TableName returns the table name for GORM
func (ReturnLine) TableName() string { return "return_lines" }

// Return is the header of a stock return against one sale
type Return struct {
	shared.TenantAggregateRoot
	// ReturnNumber is unique per tenant; the guarding index is
	// (tenant_id, return_number).
	ReturnNumber string       `gorm:"type:varchar(50);not null;index"`
	SaleID       uuid.UUID    `gorm:"type:uuid;not null;index"`
	SaleNumber   string       `gorm:"type:varchar(50);not null"`
	PatientID    uuid.UUID    `gorm:"type:uuid;not null;index"`
	StoreID      uuid.UUID    `gorm:"type:uuid;not null"`
	Status       ReturnStatus `gorm:"type:varchar(20);not null;index"`
	Reason       string       `gorm:"type:varchar(255);not null"`
	Subtotal     decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	TaxTotal     decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	Total        decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	Lines        []ReturnLine    `gorm:"foreignKey:ReturnID"`
	ApprovedAt   *time.Time
	ApprovedBy   *uuid.UUID `gorm:"type:uuid"`
	CancelledAt  *time.Time
	CancelReason string `gorm:"type:varchar(255)"`
}

// TableName returns the table name for GORM
func (Return) TableName() string { return "returns" }

// NewReturn creates a return in DRAFT status against a returnable sale
func NewReturn(tenantID uuid.UUID, returnNumber string, sale *Sale, reason string) (*Return, error) {
	if returnNumber == "" {
		return nil, shared.NewDomainError("INVALID_RETURN_NUMBER", "Return number cannot be empty")
	}
	if sale == nil {
		return nil, shared.NewDomainError("INVALID_SALE", "Sale cannot be nil")
	}
	if !sale.IsReturnable() {
		return nil, shared.NewDomainError(shared.CodeInvalidState,
			fmt.Sprintf("Cannot create a return for a sale in %s status", sale.Status))
	}
	if reason == "" {
		return nil, shared.NewDomainError("INVALID_REASON", "Return reason is required")
	}

	return &Return{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		ReturnNumber:        returnNumber,
		SaleID:              sale.ID,
		SaleNumber:          sale.SaleNumber,
		PatientID:           sale.PatientID,
		StoreID:             sale.StoreID,
		Status:              ReturnStatusDraft,
		Reason:              reason,
		Subtotal:            decimal.Zero,
		TaxTotal:            decimal.Zero,
		Total:               decimal.Zero,
		Lines:               make([]ReturnLine, 0),
	}, nil
}

// AddLine adds a return line against one sale line. The supplied batch must
// match the sale line's batch exactly, and the quantity must not exceed the
// quantity still returnable on that line (sold minus previous non-cancelled
// returns, supplied by the caller).
func (r *Return) AddLine(saleLine *SaleLine, batchNumber string, quantity, alreadyReturned decimal.Decimal) (*ReturnLine, error) {
	if r.Status != ReturnStatusDraft {
		return nil, shared.NewDomainError(shared.CodeInvalidState, "Cannot add lines to a non-draft return")
	}
	if saleLine == nil {
		return nil, shared.NewDomainError(shared.CodeNotFound, "Sale line not found")
	}
	if quantity.LessThanOrEqual(decimal.Zero) {
		return nil, shared.NewDomainError("INVALID_QUANTITY", "Return quantity must be positive")
	}
	if batchNumber != saleLine.BatchNumber {
		return nil, shared.NewDomainError(shared.CodeBatchMismatch,
			fmt.Sprintf("Batch %q does not match the original batch %q", batchNumber, saleLine.BatchNumber))
	}
	for _, l := range r.Lines {
		if l.SaleLineID == saleLine.ID {
			return nil, shared.NewDomainError("DUPLICATE_LINE", "Sale line already present in this return")
		}
	}

	returnable := saleLine.Quantity.Sub(alreadyReturned)
	if quantity.GreaterThan(returnable) {
		return nil, shared.NewExceedsSoldQuantityError(quantity, returnable)
	}

	// Tax comes back in proportion to the returned quantity.
	ratio := quantity.Div(saleLine.Quantity)
	tax := saleLine.TaxAmount.Mul(ratio).Round(4)
	subtotal := quantity.Mul(saleLine.UnitPrice).Sub(saleLine.Discount.Mul(ratio).Round(4))

	line := ReturnLine{
		BaseEntity:  shared.NewBaseEntity(),
		ReturnID:    r.ID,
		SaleLineID:  saleLine.ID,
		ProductID:   saleLine.ProductID,
		ProductName: saleLine.ProductName,
		BatchNumber: saleLine.BatchNumber,
		ExpiryDate:  saleLine.ExpiryDate,
		Quantity:    quantity,
		UnitPrice:   saleLine.UnitPrice,
		TaxAmount:   tax,
		LineTotal:   subtotal.Add(tax),
	}
	r.Lines = append(r.Lines, line)
	r.recalculateTotals()
	r.Touch()

	return &r.Lines[len(r.Lines)-1], nil
}

// Approve transitions the return DRAFT -> APPROVED (terminal)
func (r *Return) Approve(approverID uuid.UUID) error {
	if !r.Status.CanTransitionTo(ReturnStatusApproved) {
		return shared.NewDomainError(shared.CodeInvalidState,
			fmt.Sprintf("Cannot approve return in %s status", r.Status))
	}
	if len(r.Lines) == 0 {
		return shared.NewDomainError("NO_LINES", "Cannot approve a return without lines")
	}
	now := time.Now()
	r.Status = ReturnStatusApproved
	r.ApprovedAt = &now
	r.ApprovedBy = &approverID
	r.UpdatedAt = now
	return nil
}

// Cancel transitions the return DRAFT -> CANCELLED (terminal)
func (r *Return) Cancel(reason string) error {
	if !r.Status.CanTransitionTo(ReturnStatusCancelled) {
		return shared.NewDomainError(shared.CodeInvalidState,
			fmt.Sprintf("Cannot cancel return in %s status", r.Status))
	}
	now := time.Now()
	r.Status = ReturnStatusCancelled
	r.CancelledAt = &now
	r.CancelReason = reason
	r.UpdatedAt = now
	return nil
}

// IsDraft returns true if the return is in draft status
func (r *Return) IsDraft() bool { return r.Status == ReturnStatusDraft }

// IsApproved returns true if the return is approved
func (r *Return) IsApproved() bool { return r.Status == ReturnStatusApproved }

// IsCancelled returns true if the return is cancelled
func (r *Return) IsCancelled() bool { return r.Status == ReturnStatusCancelled }

func (r *Return) recalculateTotals() {
	subtotal, tax, total := decimal.Zero, decimal.Zero, decimal.Zero
	for _, l := range r.Lines {
		subtotal = subtotal.Add(l.LineTotal.Sub(l.TaxAmount))
		tax = tax.Add(l.TaxAmount)
		total = total.Add(l.LineTotal)
	}
	r.Subtotal = subtotal
	r.TaxTotal = tax
	r.Total = total
}
