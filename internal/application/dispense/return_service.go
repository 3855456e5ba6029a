package dispense

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/pharmos/backend/internal/domain/audit"
	"github.com/pharmos/backend/internal/domain/dispense"
	"github.com/pharmos/backend/internal/domain/ledger"
	"github.com/pharmos/backend/internal/domain/masterdata"
	"github.com/pharmos/backend/internal/domain/shared"
)

// ReturnService orchestrates the two-phase return flow: a DRAFT return
// stages quantities against a completed sale without touching stock, and
// approval restores stock, reverses invoice charges, and credits the patient
// ledger atomically.
type ReturnService struct {
	scope    TransactionScope
	recorder audit.Recorder
	logger   *zap.Logger
}

// NewReturnService creates a new ReturnService
func NewReturnService(scope TransactionScope, recorder audit.Recorder, logger *zap.Logger) *ReturnService {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReturnService{scope: scope, recorder: recorder, logger: logger}
}

// CreateReturn stages a DRAFT return against a completed sale. Quantities are
// bounded by sold minus all previous non-cancelled returns, so two drafts
// cannot together stage more than was sold. No stock moves at this stage.
func (s *ReturnService) CreateReturn(ctx context.Context, tenantID, actorID uuid.UUID, req CreateReturnRequest) (*ReturnDetail, error) {
	if len(req.Lines) == 0 {
		return nil, shared.NewDomainError("NO_LINES", "A return requires at least one line")
	}

	var (
		ret        *dispense.Return
		controlled bool
	)
	err := s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		sale, err := repos.Sales().FindByIDForTenant(ctx, tenantID, req.SaleID)
		if err != nil {
			return err
		}

		returnNumber, err := repos.Returns().NextNumber(ctx, tenantID, dispense.NumberPrefixReturn)
		if err != nil {
			return err
		}

		ret, err = dispense.NewReturn(tenantID, returnNumber, sale, req.Reason)
		if err != nil {
			return err
		}
		ret.SetCreatedBy(actorID)

		saleLines := make([]*dispense.SaleLine, 0, len(req.Lines))
		lineProducts := make([]uuid.UUID, 0, len(req.Lines))
		for _, line := range req.Lines {
			saleLine := sale.GetLine(line.SaleLineID)
			if saleLine == nil {
				return shared.NewDomainError(shared.CodeNotFound, "Sale line not found on this sale")
			}
			saleLines = append(saleLines, saleLine)
			lineProducts = append(lineProducts, saleLine.ProductID)
		}

		// The product row locks serialize the bound read against competing
		// drafts: without them, two concurrent drafts could both read the
		// same staged quantities and together exceed what was sold.
		if err := lockProducts(ctx, repos, tenantID, lineProducts); err != nil {
			return err
		}

		// Draft and approved returns both consume the returnable bound.
		alreadyReturned, err := repos.Returns().ReturnedQuantities(ctx, tenantID, sale.ID,
			[]dispense.ReturnStatus{dispense.ReturnStatusDraft, dispense.ReturnStatusApproved})
		if err != nil {
			return err
		}

		for idx, line := range req.Lines {
			saleLine := saleLines[idx]
			if _, err := ret.AddLine(saleLine, line.BatchNumber, line.Quantity, alreadyReturned[saleLine.ID]); err != nil {
				return err
			}
		}

		controlled, err = s.hasControlledProduct(ctx, repos, tenantID, ret)
		if err != nil {
			return err
		}

		return repos.Returns().Save(ctx, ret)
	})
	if err != nil {
		return nil, err
	}

	detail := ToReturnDetail(ret)
	s.audit(ctx, tenantID, actorID, ret.ID, audit.ActionCreate, "", detail)
	if controlled {
		s.audit(ctx, tenantID, actorID, ret.ID, audit.ActionComplianceDraft, "", detail)
	}
	return &detail, nil
}

// ApproveReturn executes an approved return: it rechecks the returnable
// bound against approved returns only, restores stock to the original
// batches, reverses invoice charges, and credits the patient ledger. The
// sale flips to RETURNED once every line is fully returned.
func (s *ReturnService) ApproveReturn(ctx context.Context, tenantID, actorID, returnID uuid.UUID, expectedVersion int) (*ReturnDetail, error) {
	var (
		ret        *dispense.Return
		controlled bool
	)
	err := s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		var err error
		ret, err = repos.Returns().FindByIDForTenant(ctx, tenantID, returnID)
		if err != nil {
			return err
		}
		if ret.Version != expectedVersion {
			return shared.ErrVersionConflict
		}
		if !ret.IsDraft() {
			return shared.NewDomainError(shared.CodeInvalidState,
				"Cannot approve return in "+ret.Status.String()+" status")
		}

		sale, err := repos.Sales().FindByIDForTenant(ctx, tenantID, ret.SaleID)
		if err != nil {
			return err
		}

		// The product row locks must be held before the bound is recomputed,
		// otherwise two concurrent approvals could both pass the recheck.
		lineProducts := make([]uuid.UUID, 0, len(ret.Lines))
		for _, line := range ret.Lines {
			lineProducts = append(lineProducts, line.ProductID)
		}
		if err := lockProducts(ctx, repos, tenantID, lineProducts); err != nil {
			return err
		}

		// Recheck the bound against approved returns only. A competing draft
		// that was approved first may have consumed this return's quantities.
		approved, err := repos.Returns().ReturnedQuantities(ctx, tenantID, sale.ID,
			[]dispense.ReturnStatus{dispense.ReturnStatusApproved})
		if err != nil {
			return err
		}
		for _, line := range ret.Lines {
			saleLine := sale.GetLine(line.SaleLineID)
			if saleLine == nil {
				return shared.NewDomainError(shared.CodeNotFound, "Sale line not found on this sale")
			}
			returnable := saleLine.Quantity.Sub(approved[saleLine.ID])
			if line.Quantity.GreaterThan(returnable) {
				return shared.NewExceedsSoldQuantityError(line.Quantity, returnable)
			}
		}

		// Stock goes back to the exact batch it was dispensed from.
		for _, line := range ret.Lines {
			entry, err := ledger.NewEntry(tenantID, ret.StoreID, line.ProductID, line.BatchNumber,
				line.ExpiryDate, ledger.EntryKindReturnIn, line.Quantity)
			if err != nil {
				return err
			}
			entry.WithReference(ret.ReturnNumber).WithCreatedBy(actorID)
			if err := repos.Ledger().Append(ctx, entry); err != nil {
				return err
			}
		}

		if sale.InvoiceID != nil {
			invoice, err := repos.Invoices().FindByIDForTenant(ctx, tenantID, *sale.InvoiceID)
			if err != nil {
				return err
			}
			item := masterdata.NewInvoiceLineItem(invoice.ID, "Return "+ret.ReturnNumber+" against sale "+sale.SaleNumber,
				ret.Total.Neg(), ret.ReturnNumber)
			if err := repos.Invoices().AppendLineItem(ctx, item); err != nil {
				return err
			}
			invoice.ApplyReversal(ret.Total)
			if err := repos.Invoices().UpdateTotals(ctx, invoice); err != nil {
				return err
			}
		}

		if sale.CreditSale {
			if err := s.postCreditReversal(ctx, repos, ret); err != nil {
				return err
			}
		}

		if err := ret.Approve(actorID); err != nil {
			return err
		}
		if err := repos.Returns().SaveWithVersion(ctx, ret, expectedVersion); err != nil {
			return err
		}

		if saleFullyReturned(sale, approved, ret) && sale.IsCompleted() {
			if err := sale.MarkReturned(); err != nil {
				return err
			}
			if err := repos.Sales().Save(ctx, sale); err != nil {
				return err
			}
		}

		controlled, err = s.hasControlledProduct(ctx, repos, tenantID, ret)
		return err
	})
	if err != nil {
		return nil, err
	}

	detail := ToReturnDetail(ret)
	s.audit(ctx, tenantID, actorID, ret.ID, audit.ActionUpdate, string(dispense.ReturnStatusDraft), detail)
	if controlled {
		s.audit(ctx, tenantID, actorID, ret.ID, audit.ActionComplianceApprove, "", detail)
	}
	return &detail, nil
}

// CancelReturn discards a DRAFT return. Nothing was moved at draft time, so
// cancellation only releases the staged quantities back to the returnable
// bound.
func (s *ReturnService) CancelReturn(ctx context.Context, tenantID, actorID, returnID uuid.UUID, expectedVersion int, reason string) (*ReturnDetail, error) {
	var ret *dispense.Return
	err := s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		var err error
		ret, err = repos.Returns().FindByIDForTenant(ctx, tenantID, returnID)
		if err != nil {
			return err
		}
		if ret.Version != expectedVersion {
			return shared.ErrVersionConflict
		}
		if err := ret.Cancel(reason); err != nil {
			return err
		}
		return repos.Returns().SaveWithVersion(ctx, ret, expectedVersion)
	})
	if err != nil {
		return nil, err
	}

	detail := ToReturnDetail(ret)
	s.audit(ctx, tenantID, actorID, ret.ID, audit.ActionCancel, string(dispense.ReturnStatusDraft), detail)
	return &detail, nil
}

// GetReturn retrieves one return with its lines
func (s *ReturnService) GetReturn(ctx context.Context, tenantID, returnID uuid.UUID) (*ReturnDetail, error) {
	var detail ReturnDetail
	err := s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		ret, err := repos.Returns().FindByIDForTenant(ctx, tenantID, returnID)
		if err != nil {
			return err
		}
		detail = ToReturnDetail(ret)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &detail, nil
}

// ListReturns retrieves returns with filtering and pagination
func (s *ReturnService) ListReturns(ctx context.Context, tenantID uuid.UUID, filter shared.Filter) ([]ReturnDetail, int64, error) {
	var (
		details []ReturnDetail
		total   int64
	)
	err := s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		returns, err := repos.Returns().FindAllForTenant(ctx, tenantID, filter)
		if err != nil {
			return err
		}
		total, err = repos.Returns().CountForTenant(ctx, tenantID, filter)
		if err != nil {
			return err
		}
		details = make([]ReturnDetail, 0, len(returns))
		for i := range returns {
			details = append(details, ToReturnDetail(&returns[i]))
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return details, total, nil
}

// postCreditReversal lowers the patient's outstanding balance under the
// patient row lock. NEGATIVE_CREDIT_BALANCE from the ledger entry rolls the
// whole approval back.
func (s *ReturnService) postCreditReversal(ctx context.Context, repos TransactionalRepositories, ret *dispense.Return) error {
	if err := repos.Locker().LockPatient(ctx, ret.TenantID, ret.PatientID); err != nil {
		return err
	}
	balance, err := repos.Credit().CurrentBalance(ctx, ret.TenantID, ret.PatientID)
	if err != nil {
		return err
	}
	entry, err := dispense.NewCreditReversal(ret.TenantID, ret.PatientID, ret.Total, balance, ret.ReturnNumber)
	if err != nil {
		return err
	}
	return repos.Credit().Append(ctx, entry)
}

// saleFullyReturned reports whether previously approved returns plus the
// return approved in this transaction cover every sale line completely.
func saleFullyReturned(sale *dispense.Sale, approved map[uuid.UUID]decimal.Decimal, ret *dispense.Return) bool {
	covered := make(map[uuid.UUID]decimal.Decimal, len(approved))
	for id, qty := range approved {
		covered[id] = qty
	}
	for _, line := range ret.Lines {
		covered[line.SaleLineID] = covered[line.SaleLineID].Add(line.Quantity)
	}
	for _, saleLine := range sale.Lines {
		if covered[saleLine.ID].LessThan(saleLine.Quantity) {
			return false
		}
	}
	return true
}

// hasControlledProduct reports whether any returned line refers to a
// controlled substance; such returns carry extra compliance audit records.
func (s *ReturnService) hasControlledProduct(ctx context.Context, repos TransactionalRepositories, tenantID uuid.UUID, ret *dispense.Return) (bool, error) {
	seen := make(map[uuid.UUID]bool, len(ret.Lines))
	for _, line := range ret.Lines {
		if seen[line.ProductID] {
			continue
		}
		seen[line.ProductID] = true
		product, err := repos.Products().FindByIDForTenant(ctx, tenantID, line.ProductID)
		if err != nil {
			return false, err
		}
		if product.ControlledSubstance {
			return true, nil
		}
	}
	return false, nil
}

func (s *ReturnService) audit(ctx context.Context, tenantID, actorID, entityID uuid.UUID, action audit.Action, oldValue string, newValue interface{}) {
	payload, err := json.Marshal(newValue)
	if err != nil {
		s.logger.Warn("failed to encode audit payload", zap.Error(err))
		payload = nil
	}
	s.recorder.Record(ctx, audit.Record{
		TenantID:   tenantID,
		ActorID:    actorID,
		EntityType: "RETURN",
		EntityID:   entityID,
		Action:     action,
		OldValue:   oldValue,
		NewValue:   string(payload),
		OccurredAt: time.Now(),
	})
}
