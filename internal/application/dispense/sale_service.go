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

// SaleService orchestrates dispensing transactions: validation, FEFO
// allocation, ledger writes, invoice charges, and credit-ledger postings,
// all inside one atomic unit of work.
type SaleService struct {
	scope    TransactionScope
	recorder audit.Recorder
	logger   *zap.Logger
}

// NewSaleService creates a new SaleService
func NewSaleService(scope TransactionScope, recorder audit.Recorder, logger *zap.Logger) *SaleService {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SaleService{scope: scope, recorder: recorder, logger: logger}
}

// CreateSale validates the request, allocates stock FEFO, and persists the
// sale with its ledger entries, invoice charges, and credit posting in one
// transaction. Any precondition failure or allocation shortfall rolls the
// whole unit of work back.
func (s *SaleService) CreateSale(ctx context.Context, tenantID, actorID uuid.UUID, req CreateSaleRequest) (*SaleDetail, error) {
	if !req.Channel.IsValid() {
		return nil, shared.NewDomainError("INVALID_CHANNEL", "Invalid sale channel")
	}
	if len(req.Lines) == 0 {
		return nil, shared.NewDomainError("NO_LINES", "A sale requires at least one line")
	}
	for _, line := range req.Lines {
		if line.Quantity.LessThanOrEqual(decimal.Zero) {
			return nil, shared.NewDomainError("INVALID_QUANTITY", "Requested quantity must be positive")
		}
		if line.Discount.IsNegative() {
			return nil, shared.NewDomainError("INVALID_DISCOUNT", "Discount cannot be negative")
		}
	}

	var sale *dispense.Sale
	err := s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		patient, err := repos.Patients().FindByIDForTenant(ctx, tenantID, req.PatientID)
		if err != nil {
			return err
		}
		if !patient.Active {
			return shared.NewDomainError(shared.CodeInvalidState, "Patient is not active")
		}

		store, err := repos.Stores().FindByIDForTenant(ctx, tenantID, req.StoreID)
		if err != nil {
			return err
		}
		if !store.Active {
			return shared.NewDomainError(shared.CodeInvalidState, "Store is not active")
		}

		var invoice *masterdata.Invoice
		if req.InvoiceID != nil {
			invoice, err = repos.Invoices().FindByIDForTenant(ctx, tenantID, *req.InvoiceID)
			if err != nil {
				return err
			}
		}

		var prescription *masterdata.Prescription
		if req.PrescriptionID != nil {
			prescription, err = repos.Prescriptions().FindByIDForTenant(ctx, tenantID, *req.PrescriptionID)
			if err != nil {
				return err
			}
			if prescription.IsCancelled() {
				return shared.NewDomainError(shared.CodeInvalidState, "Prescription has been cancelled")
			}
		}

		products := make(map[uuid.UUID]*masterdata.Product, len(req.Lines))
		for _, line := range req.Lines {
			if _, seen := products[line.ProductID]; seen {
				continue
			}
			product, err := repos.Products().FindByIDForTenant(ctx, tenantID, line.ProductID)
			if err != nil {
				return err
			}
			if !product.Active {
				return shared.NewDomainError(shared.CodeInvalidState, "Product "+product.Name+" is not active")
			}
			if product.ControlledSubstance && prescription == nil {
				return shared.NewDomainError(shared.CodePrescriptionRequired,
					"Product "+product.Name+" is a controlled substance and requires a prescription")
			}
			products[line.ProductID] = product
		}

		saleNumber, err := repos.Sales().NextNumber(ctx, tenantID, dispense.SaleNumberPrefix(req.Channel))
		if err != nil {
			return err
		}

		sale, err = dispense.NewSale(tenantID, saleNumber, req.PatientID, req.StoreID, req.Channel)
		if err != nil {
			return err
		}
		sale.SetCreatedBy(actorID)
		if req.VisitID != nil {
			sale.AttachVisit(*req.VisitID)
		}
		if req.AdmissionID != nil {
			sale.AttachAdmission(*req.AdmissionID)
		}
		if req.InvoiceID != nil {
			sale.AttachInvoice(*req.InvoiceID)
		}
		if req.PrescriptionID != nil {
			sale.AttachPrescription(*req.PrescriptionID)
		}
		if req.CreditSale {
			if err := sale.MarkCreditSale(); err != nil {
				return err
			}
		}

		// Allocate under the product row locks so concurrent sales cannot
		// both count the same units as available. Locks are taken for all
		// products up front, in canonical order.
		lineProducts := make([]uuid.UUID, 0, len(req.Lines))
		for _, line := range req.Lines {
			lineProducts = append(lineProducts, line.ProductID)
		}
		if err := lockProducts(ctx, repos, tenantID, lineProducts); err != nil {
			return err
		}
		for _, line := range req.Lines {
			batches, err := repos.Ledger().BatchBalances(ctx, tenantID, req.StoreID, line.ProductID)
			if err != nil {
				return err
			}
			allocations, err := ledger.Allocate(line.Quantity, batches)
			if err != nil {
				return err
			}

			product := products[line.ProductID]
			for _, alloc := range allocations {
				// Spread the requested discount over the expanded lines in
				// proportion to quantity.
				discount := line.Discount.Mul(alloc.Quantity).Div(line.Quantity).Round(4)
				if _, err := sale.AddLine(product.ID, product.Name, alloc.BatchNumber, alloc.ExpiryDate,
					alloc.Quantity, product.UnitPrice, discount, product.TaxRate); err != nil {
					return err
				}

				entry, err := ledger.NewEntry(tenantID, req.StoreID, product.ID, alloc.BatchNumber,
					alloc.ExpiryDate, ledger.EntryKindSaleOut, alloc.Quantity.Neg())
				if err != nil {
					return err
				}
				entry.WithReference(saleNumber).WithCreatedBy(actorID)
				if err := repos.Ledger().Append(ctx, entry); err != nil {
					return err
				}
			}
		}

		// IP dispensing is always synchronous; OP sales stay in DRAFT only
		// while payment is pending.
		completeNow := req.Channel == dispense.SaleChannelInpatient || !req.PendingPayment
		if completeNow {
			if err := sale.Complete(); err != nil {
				return err
			}
		}

		if invoice != nil {
			item := masterdata.NewInvoiceLineItem(invoice.ID, "Pharmacy sale "+saleNumber, sale.NetTotal, saleNumber)
			if err := repos.Invoices().AppendLineItem(ctx, item); err != nil {
				return err
			}
			invoice.ApplyCharge(sale.NetTotal)
			if err := repos.Invoices().UpdateTotals(ctx, invoice); err != nil {
				return err
			}
		}

		if prescription != nil {
			productIDs := make([]uuid.UUID, 0, len(products))
			for id := range products {
				productIDs = append(productIDs, id)
			}
			if err := repos.Prescriptions().MarkItemsDispensed(ctx, prescription.ID, productIDs); err != nil {
				return err
			}
		}

		if sale.CreditSale && completeNow {
			if err := s.postCreditDebit(ctx, repos, sale); err != nil {
				return err
			}
		}

		return repos.Sales().Save(ctx, sale)
	})
	if err != nil {
		return nil, err
	}

	detail := ToSaleDetail(sale)
	s.audit(ctx, tenantID, actorID, "SALE", sale.ID, audit.ActionCreate, "", detail)
	return &detail, nil
}

// CompleteSale transitions a DRAFT sale to COMPLETED (the OP pending-payment
// flow) and posts the credit-ledger debit for credit sales. The caller's
// last-seen version guards against concurrent transitions.
func (s *SaleService) CompleteSale(ctx context.Context, tenantID, actorID, saleID uuid.UUID, expectedVersion int) (*SaleDetail, error) {
	var sale *dispense.Sale
	err := s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		var err error
		sale, err = repos.Sales().FindByIDForTenant(ctx, tenantID, saleID)
		if err != nil {
			return err
		}
		if sale.Version != expectedVersion {
			return shared.ErrVersionConflict
		}
		if err := sale.Complete(); err != nil {
			return err
		}
		if sale.CreditSale {
			if err := s.postCreditDebit(ctx, repos, sale); err != nil {
				return err
			}
		}
		return repos.Sales().SaveWithVersion(ctx, sale, expectedVersion)
	})
	if err != nil {
		return nil, err
	}

	detail := ToSaleDetail(sale)
	s.audit(ctx, tenantID, actorID, "SALE", sale.ID, audit.ActionUpdate, string(dispense.SaleStatusDraft), detail)
	return &detail, nil
}

// CancelSale cancels a DRAFT sale, restoring its allocated stock with
// offsetting adjustment entries and reversing invoice charges. Completed
// sales cannot be cancelled; they are undone through returns.
func (s *SaleService) CancelSale(ctx context.Context, tenantID, actorID, saleID uuid.UUID, expectedVersion int) (*SaleDetail, error) {
	var sale *dispense.Sale
	err := s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		var err error
		sale, err = repos.Sales().FindByIDForTenant(ctx, tenantID, saleID)
		if err != nil {
			return err
		}
		if sale.Version != expectedVersion {
			return shared.ErrVersionConflict
		}
		if err := sale.Cancel(); err != nil {
			return err
		}

		// The ledger is corrected by offsetting entries, never by deletion.
		lineProducts := make([]uuid.UUID, 0, len(sale.Lines))
		for _, line := range sale.Lines {
			lineProducts = append(lineProducts, line.ProductID)
		}
		if err := lockProducts(ctx, repos, tenantID, lineProducts); err != nil {
			return err
		}
		for _, line := range sale.Lines {
			entry, err := ledger.NewEntry(tenantID, sale.StoreID, line.ProductID, line.BatchNumber,
				line.ExpiryDate, ledger.EntryKindAdjustment, line.Quantity)
			if err != nil {
				return err
			}
			entry.WithReference(sale.SaleNumber).WithNote("Sale cancelled").WithCreatedBy(actorID)
			if err := repos.Ledger().Append(ctx, entry); err != nil {
				return err
			}
		}

		if sale.InvoiceID != nil {
			invoice, err := repos.Invoices().FindByIDForTenant(ctx, tenantID, *sale.InvoiceID)
			if err != nil {
				return err
			}
			item := masterdata.NewInvoiceLineItem(invoice.ID, "Sale "+sale.SaleNumber+" cancelled", sale.NetTotal.Neg(), sale.SaleNumber)
			if err := repos.Invoices().AppendLineItem(ctx, item); err != nil {
				return err
			}
			invoice.ApplyReversal(sale.NetTotal)
			if err := repos.Invoices().UpdateTotals(ctx, invoice); err != nil {
				return err
			}
		}

		return repos.Sales().SaveWithVersion(ctx, sale, expectedVersion)
	})
	if err != nil {
		return nil, err
	}

	detail := ToSaleDetail(sale)
	s.audit(ctx, tenantID, actorID, "SALE", sale.ID, audit.ActionCancel, string(dispense.SaleStatusDraft), detail)
	return &detail, nil
}

// GetSale retrieves one sale with its lines
func (s *SaleService) GetSale(ctx context.Context, tenantID, saleID uuid.UUID) (*SaleDetail, error) {
	var detail SaleDetail
	err := s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		sale, err := repos.Sales().FindByIDForTenant(ctx, tenantID, saleID)
		if err != nil {
			return err
		}
		detail = ToSaleDetail(sale)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &detail, nil
}

// ListSales retrieves sales with filtering and pagination
func (s *SaleService) ListSales(ctx context.Context, tenantID uuid.UUID, filter shared.Filter) ([]SaleDetail, int64, error) {
	var (
		details []SaleDetail
		total   int64
	)
	err := s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		sales, err := repos.Sales().FindAllForTenant(ctx, tenantID, filter)
		if err != nil {
			return err
		}
		total, err = repos.Sales().CountForTenant(ctx, tenantID, filter)
		if err != nil {
			return err
		}
		details = make([]SaleDetail, 0, len(sales))
		for i := range sales {
			details = append(details, ToSaleDetail(&sales[i]))
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return details, total, nil
}

// postCreditDebit raises the patient's outstanding balance under the patient
// row lock so concurrent credit mutations cannot race the read-then-write.
func (s *SaleService) postCreditDebit(ctx context.Context, repos TransactionalRepositories, sale *dispense.Sale) error {
	if err := repos.Locker().LockPatient(ctx, sale.TenantID, sale.PatientID); err != nil {
		return err
	}
	balance, err := repos.Credit().CurrentBalance(ctx, sale.TenantID, sale.PatientID)
	if err != nil {
		return err
	}
	entry, err := dispense.NewCreditDebit(sale.TenantID, sale.PatientID, sale.NetTotal, balance, sale.SaleNumber)
	if err != nil {
		return err
	}
	return repos.Credit().Append(ctx, entry)
}

// audit sends a fire-and-forget audit record; failures never surface.
func (s *SaleService) audit(ctx context.Context, tenantID, actorID uuid.UUID, entityType string, entityID uuid.UUID, action audit.Action, oldValue string, newValue interface{}) {
	payload, err := json.Marshal(newValue)
	if err != nil {
		s.logger.Warn("failed to encode audit payload", zap.Error(err))
		payload = nil
	}
	s.recorder.Record(ctx, audit.Record{
		TenantID:   tenantID,
		ActorID:    actorID,
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		OldValue:   oldValue,
		NewValue:   string(payload),
		OccurredAt: time.Now(),
	})
}
