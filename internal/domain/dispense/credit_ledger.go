package dispense

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pharmos/backend/internal/domain/shared"
)

// CreditLedgerEntry is one movement of a patient's deferred-payment balance
// with the resulting balance snapshot. Debits raise the outstanding balance
// (credit sale completed), credits reduce it (credit sale returned). The
// resulting balance must never go negative.
type CreditLedgerEntry struct {
	shared.BaseEntity
	TenantID  uuid.UUID       `gorm:"type:uuid;not null;index:idx_credit_patient,priority:1"`
	PatientID uuid.UUID       `gorm:"type:uuid;not null;index:idx_credit_patient,priority:2"`
	Debit     decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	Credit    decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	Balance   decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	Reference string          `gorm:"type:varchar(50);index"`
	Note      string          `gorm:"type:varchar(255)"`
}

// TableName returns the table name for GORM
func (CreditLedgerEntry) TableName() string { return "credit_ledger_entries" }

// NewCreditDebit records an increase of the patient's outstanding balance
func NewCreditDebit(tenantID, patientID uuid.UUID, amount, currentBalance decimal.Decimal, reference string) (*CreditLedgerEntry, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, shared.NewDomainError("INVALID_AMOUNT", "Debit amount must be positive")
	}
	return &CreditLedgerEntry{
		BaseEntity: shared.NewBaseEntity(),
		TenantID:   tenantID,
		PatientID:  patientID,
		Debit:      amount,
		Credit:     decimal.Zero,
		Balance:    currentBalance.Add(amount),
		Reference:  reference,
	}, nil
}

// NewCreditReversal records a reduction of the patient's outstanding balance.
// It fails with NEGATIVE_CREDIT_BALANCE when the reduction would push the
// balance below zero.
func NewCreditReversal(tenantID, patientID uuid.UUID, amount, currentBalance decimal.Decimal, reference string) (*CreditLedgerEntry, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, shared.NewDomainError("INVALID_AMOUNT", "Credit amount must be positive")
	}
	newBalance := currentBalance.Sub(amount)
	if newBalance.IsNegative() {
		return nil, shared.NewDomainError(shared.CodeNegativeCreditBalance,
			"Credit reversal of "+amount.String()+" exceeds the outstanding balance of "+currentBalance.String())
	}
	return &CreditLedgerEntry{
		BaseEntity: shared.NewBaseEntity(),
		TenantID:   tenantID,
		PatientID:  patientID,
		Debit:      decimal.Zero,
		Credit:     amount,
		Balance:    newBalance,
		Reference:  reference,
	}, nil
}
