package dispense

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pharmos/backend/internal/domain/dispense"
	"github.com/pharmos/backend/internal/domain/shared"
)

// CreditService answers credit ledger queries. All mutation goes through the
// sale and return orchestrators; this service is read-only.
type CreditService struct {
	scope TransactionScope
}

// NewCreditService creates a new CreditService
func NewCreditService(scope TransactionScope) *CreditService {
	return &CreditService{scope: scope}
}

// CreditEntryView is one recorded credit movement
type CreditEntryView struct {
	ID        uuid.UUID       `json:"id"`
	PatientID uuid.UUID       `json:"patient_id"`
	Debit     decimal.Decimal `json:"debit"`
	Credit    decimal.Decimal `json:"credit"`
	Balance   decimal.Decimal `json:"balance"`
	Reference string          `json:"reference,omitempty"`
	Note      string          `json:"note,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// CreditStatement is a patient's outstanding balance with its movements
type CreditStatement struct {
	PatientID uuid.UUID         `json:"patient_id"`
	Balance   decimal.Decimal   `json:"balance"`
	Entries   []CreditEntryView `json:"entries"`
}

// GetStatement returns the patient's current outstanding balance and credit
// movements. The patient must exist in the tenant.
func (s *CreditService) GetStatement(ctx context.Context, tenantID, patientID uuid.UUID, filter shared.Filter) (*CreditStatement, error) {
	var statement CreditStatement
	err := s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		if _, err := repos.Patients().FindByIDForTenant(ctx, tenantID, patientID); err != nil {
			return err
		}
		balance, err := repos.Credit().CurrentBalance(ctx, tenantID, patientID)
		if err != nil {
			return err
		}
		entries, err := repos.Credit().FindByPatient(ctx, tenantID, patientID, filter)
		if err != nil {
			return err
		}
		statement = CreditStatement{
			PatientID: patientID,
			Balance:   balance,
			Entries:   toCreditEntryViews(entries),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &statement, nil
}

func toCreditEntryViews(entries []dispense.CreditLedgerEntry) []CreditEntryView {
	views := make([]CreditEntryView, 0, len(entries))
	for i := range entries {
		e := &entries[i]
		views = append(views, CreditEntryView{
			ID:        e.ID,
			PatientID: e.PatientID,
			Debit:     e.Debit,
			Credit:    e.Credit,
			Balance:   e.Balance,
			Reference: e.Reference,
			Note:      e.Note,
			CreatedAt: e.CreatedAt,
		})
	}
	return views
}
