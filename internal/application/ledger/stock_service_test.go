package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appdispense "github.com/pharmos/backend/internal/application/dispense"
	"github.com/pharmos/backend/internal/domain/dispense"
	"github.com/pharmos/backend/internal/domain/ledger"
	"github.com/pharmos/backend/internal/domain/masterdata"
	"github.com/pharmos/backend/internal/domain/shared"
)

// The stock service only touches the ledger, master-data lookups, and the
// locker; the dispensing repositories stay nil.

type memLedgerRepo struct {
	entries []ledger.Entry
}

func (r *memLedgerRepo) Append(ctx context.Context, entry *ledger.Entry) error {
	if entry.QuantityDelta.IsNegative() {
		balance, err := r.BatchBalance(ctx, entry.TenantID, entry.StoreID, entry.ProductID, entry.BatchNumber)
		if err != nil {
			return err
		}
		if balance.Add(entry.QuantityDelta).IsNegative() {
			return shared.NewInsufficientStockError(entry.QuantityDelta.Neg(), balance)
		}
	}
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *memLedgerRepo) BatchBalance(_ context.Context, tenantID, storeID, productID uuid.UUID, batchNumber string) (decimal.Decimal, error) {
	balance := decimal.Zero
	for _, e := range r.entries {
		if e.TenantID == tenantID && e.StoreID == storeID && e.ProductID == productID && e.BatchNumber == batchNumber {
			balance = balance.Add(e.QuantityDelta)
		}
	}
	return balance, nil
}

func (r *memLedgerRepo) ProductBalance(_ context.Context, tenantID, storeID, productID uuid.UUID) (decimal.Decimal, error) {
	balance := decimal.Zero
	for _, e := range r.entries {
		if e.TenantID == tenantID && e.StoreID == storeID && e.ProductID == productID {
			balance = balance.Add(e.QuantityDelta)
		}
	}
	return balance, nil
}

func (r *memLedgerRepo) BatchBalances(ctx context.Context, tenantID, storeID, productID uuid.UUID) ([]ledger.BatchBalance, error) {
	all, err := r.Snapshot(ctx, tenantID, &storeID)
	if err != nil {
		return nil, err
	}
	rows := make([]ledger.BatchBalance, 0, len(all))
	for _, b := range all {
		if b.ProductID == productID {
			rows = append(rows, b)
		}
	}
	return rows, nil
}

func (r *memLedgerRepo) Snapshot(_ context.Context, tenantID uuid.UUID, storeID *uuid.UUID) ([]ledger.BatchBalance, error) {
	type key struct {
		store, product uuid.UUID
		batch          string
	}
	byKey := make(map[key]*ledger.BatchBalance)
	order := make([]key, 0)
	for _, e := range r.entries {
		if e.TenantID != tenantID {
			continue
		}
		if storeID != nil && e.StoreID != *storeID {
			continue
		}
		k := key{e.StoreID, e.ProductID, e.BatchNumber}
		b, ok := byKey[k]
		if !ok {
			b = &ledger.BatchBalance{
				StoreID:     e.StoreID,
				ProductID:   e.ProductID,
				BatchNumber: e.BatchNumber,
				ExpiryDate:  e.ExpiryDate,
				Quantity:    decimal.Zero,
			}
			byKey[k] = b
			order = append(order, k)
		}
		b.Quantity = b.Quantity.Add(e.QuantityDelta)
	}

	rows := make([]ledger.BatchBalance, 0, len(order))
	for _, k := range order {
		if byKey[k].Quantity.IsPositive() {
			rows = append(rows, *byKey[k])
		}
	}
	ledger.SortFEFO(rows)
	return rows, nil
}

func (r *memLedgerRepo) FindByReference(_ context.Context, tenantID uuid.UUID, reference string) ([]ledger.Entry, error) {
	var entries []ledger.Entry
	for _, e := range r.entries {
		if e.TenantID == tenantID && e.Reference == reference {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

type memStoreRepo struct {
	stores map[uuid.UUID]*masterdata.Store
}

func (r *memStoreRepo) FindByIDForTenant(_ context.Context, tenantID, id uuid.UUID) (*masterdata.Store, error) {
	s, ok := r.stores[id]
	if !ok || s.TenantID != tenantID {
		return nil, shared.ErrNotFound
	}
	return s, nil
}

type memProductRepo struct {
	products map[uuid.UUID]*masterdata.Product
}

func (r *memProductRepo) FindByIDForTenant(_ context.Context, tenantID, id uuid.UUID) (*masterdata.Product, error) {
	p, ok := r.products[id]
	if !ok || p.TenantID != tenantID {
		return nil, shared.ErrNotFound
	}
	return p, nil
}

type memLocker struct {
	productLocks []uuid.UUID
}

func (l *memLocker) LockProduct(_ context.Context, _, productID uuid.UUID) error {
	l.productLocks = append(l.productLocks, productID)
	return nil
}

func (l *memLocker) LockPatient(_ context.Context, _, _ uuid.UUID) error { return nil }

type stubRepos struct {
	ledgerRepo *memLedgerRepo
	storeRepo  *memStoreRepo
	prodRepo   *memProductRepo
	lock       *memLocker
}

func (s *stubRepos) Ledger() ledger.EntryRepository                    { return s.ledgerRepo }
func (s *stubRepos) Sales() dispense.SaleRepository                    { return nil }
func (s *stubRepos) Returns() dispense.ReturnRepository                { return nil }
func (s *stubRepos) Credit() dispense.CreditLedgerRepository           { return nil }
func (s *stubRepos) Products() masterdata.ProductRepository            { return s.prodRepo }
func (s *stubRepos) Patients() masterdata.PatientRepository            { return nil }
func (s *stubRepos) Stores() masterdata.StoreRepository                { return s.storeRepo }
func (s *stubRepos) Prescriptions() masterdata.PrescriptionRepository { return nil }
func (s *stubRepos) Invoices() masterdata.InvoiceRepository            { return nil }
func (s *stubRepos) Locker() dispense.EntityLocker                     { return s.lock }

var _ appdispense.TransactionalRepositories = (*stubRepos)(nil)

type stockFixture struct {
	tenantID uuid.UUID
	actorID  uuid.UUID
	repos    *stubRepos
	svc      *StockService
	store    *masterdata.Store
	product  *masterdata.Product
}

func newStockFixture(t *testing.T) *stockFixture {
	t.Helper()
	tenantID := uuid.New()

	store := &masterdata.Store{BaseEntity: shared.NewBaseEntity(), TenantID: tenantID, Code: "MAIN", Name: "Main Pharmacy", Active: true}
	product := &masterdata.Product{
		BaseEntity: shared.NewBaseEntity(),
		TenantID:   tenantID,
		Code:       "AMOX500",
		Name:       "Amoxicillin 500mg",
		UnitPrice:  decimal.RequireFromString("3.00"),
		Active:     true,
	}

	repos := &stubRepos{
		ledgerRepo: &memLedgerRepo{},
		storeRepo:  &memStoreRepo{stores: map[uuid.UUID]*masterdata.Store{store.ID: store}},
		prodRepo:   &memProductRepo{products: map[uuid.UUID]*masterdata.Product{product.ID: product}},
		lock:       &memLocker{},
	}

	return &stockFixture{
		tenantID: tenantID,
		actorID:  uuid.New(),
		repos:    repos,
		svc:      NewStockService(&appdispense.NoOpTransactionScope{Repos: repos}, nil, nil),
		store:    store,
		product:  product,
	}
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	var domainErr *shared.DomainError
	require.True(t, errors.As(err, &domainErr), "expected a domain error, got %v", err)
	assert.Equal(t, code, domainErr.Code)
}

func qty(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func datePtr(y int, m time.Month, d int) *time.Time {
	ts := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &ts
}

func TestStockService_RecordOpeningStock(t *testing.T) {
	f := newStockFixture(t)

	view, err := f.svc.RecordOpeningStock(context.Background(), f.tenantID, f.actorID, OpeningStockRequest{
		StoreID:     f.store.ID,
		ProductID:   f.product.ID,
		BatchNumber: "B-001",
		ExpiryDate:  datePtr(2027, 1, 1),
		Quantity:    qty("100"),
		Note:        "initial count",
	})
	require.NoError(t, err)

	assert.Equal(t, ledger.EntryKindOpening.String(), view.Kind)
	assert.True(t, view.QuantityDelta.Equal(qty("100")))
	assert.Equal(t, "initial count", view.Note)

	balance, err := f.svc.GetBatchBalance(context.Background(), f.tenantID, f.store.ID, f.product.ID, "B-001")
	require.NoError(t, err)
	assert.True(t, balance.Equal(qty("100")))
}

func TestStockService_RecordOpeningStock_RejectsNegative(t *testing.T) {
	f := newStockFixture(t)

	_, err := f.svc.RecordOpeningStock(context.Background(), f.tenantID, f.actorID, OpeningStockRequest{
		StoreID:     f.store.ID,
		ProductID:   f.product.ID,
		BatchNumber: "B-001",
		Quantity:    qty("-5"),
	})
	assertCode(t, err, "INVALID_QUANTITY")
}

func TestStockService_RecordOpeningStock_ScopeChecks(t *testing.T) {
	f := newStockFixture(t)

	t.Run("unknown store", func(t *testing.T) {
		_, err := f.svc.RecordOpeningStock(context.Background(), f.tenantID, f.actorID, OpeningStockRequest{
			StoreID: uuid.New(), ProductID: f.product.ID, BatchNumber: "B-001", Quantity: qty("1"),
		})
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("inactive store", func(t *testing.T) {
		closed := &masterdata.Store{BaseEntity: shared.NewBaseEntity(), TenantID: f.tenantID, Code: "OLD", Name: "Closed", Active: false}
		f.repos.storeRepo.stores[closed.ID] = closed
		_, err := f.svc.RecordOpeningStock(context.Background(), f.tenantID, f.actorID, OpeningStockRequest{
			StoreID: closed.ID, ProductID: f.product.ID, BatchNumber: "B-001", Quantity: qty("1"),
		})
		assertCode(t, err, shared.CodeInvalidState)
	})

	t.Run("inactive product", func(t *testing.T) {
		discontinued := &masterdata.Product{BaseEntity: shared.NewBaseEntity(), TenantID: f.tenantID, Code: "X", Name: "Discontinued", Active: false}
		f.repos.prodRepo.products[discontinued.ID] = discontinued
		_, err := f.svc.RecordOpeningStock(context.Background(), f.tenantID, f.actorID, OpeningStockRequest{
			StoreID: f.store.ID, ProductID: discontinued.ID, BatchNumber: "B-001", Quantity: qty("1"),
		})
		assertCode(t, err, shared.CodeInvalidState)
	})
}

func TestStockService_RecordAdjustment(t *testing.T) {
	f := newStockFixture(t)
	f.seed(t, "B-001", datePtr(2027, 1, 1), "10")

	view, err := f.svc.RecordAdjustment(context.Background(), f.tenantID, f.actorID, AdjustmentRequest{
		StoreID:       f.store.ID,
		ProductID:     f.product.ID,
		BatchNumber:   "B-001",
		ExpiryDate:    datePtr(2027, 1, 1),
		QuantityDelta: qty("-3"),
		Reason:        "damaged in storage",
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.EntryKindAdjustment.String(), view.Kind)
	assert.Equal(t, "damaged in storage", view.Note)

	// Adjustments run under the product row lock.
	assert.Contains(t, f.repos.lock.productLocks, f.product.ID)

	balance, err := f.svc.GetBatchBalance(context.Background(), f.tenantID, f.store.ID, f.product.ID, "B-001")
	require.NoError(t, err)
	assert.True(t, balance.Equal(qty("7")))

	// Positive corrections are the same operation with the opposite sign.
	_, err = f.svc.RecordAdjustment(context.Background(), f.tenantID, f.actorID, AdjustmentRequest{
		StoreID:       f.store.ID,
		ProductID:     f.product.ID,
		BatchNumber:   "B-001",
		QuantityDelta: qty("2"),
		Reason:        "found during recount",
	})
	require.NoError(t, err)
	balance, _ = f.svc.GetBatchBalance(context.Background(), f.tenantID, f.store.ID, f.product.ID, "B-001")
	assert.True(t, balance.Equal(qty("9")))
}

func TestStockService_RecordAdjustment_CannotGoNegative(t *testing.T) {
	f := newStockFixture(t)
	f.seed(t, "B-001", nil, "5")

	_, err := f.svc.RecordAdjustment(context.Background(), f.tenantID, f.actorID, AdjustmentRequest{
		StoreID:       f.store.ID,
		ProductID:     f.product.ID,
		BatchNumber:   "B-001",
		QuantityDelta: qty("-6"),
		Reason:        "write-off",
	})
	assertCode(t, err, shared.CodeInsufficientStock)

	balance, _ := f.svc.GetBatchBalance(context.Background(), f.tenantID, f.store.ID, f.product.ID, "B-001")
	assert.True(t, balance.Equal(qty("5")))
}

func TestStockService_RecordAdjustment_RequiresReason(t *testing.T) {
	f := newStockFixture(t)

	_, err := f.svc.RecordAdjustment(context.Background(), f.tenantID, f.actorID, AdjustmentRequest{
		StoreID:       f.store.ID,
		ProductID:     f.product.ID,
		BatchNumber:   "B-001",
		QuantityDelta: qty("1"),
	})
	assertCode(t, err, "INVALID_REASON")
}

func TestStockService_GetBatchBalances_FEFO(t *testing.T) {
	f := newStockFixture(t)
	f.seed(t, "B-LATE", datePtr(2027, 6, 1), "30")
	f.seed(t, "B-SOON", datePtr(2026, 10, 1), "20")
	f.seed(t, "B-NOEXP", nil, "10")

	views, err := f.svc.GetBatchBalances(context.Background(), f.tenantID, f.store.ID, f.product.ID)
	require.NoError(t, err)

	require.Len(t, views, 3)
	assert.Equal(t, "B-SOON", views[0].BatchNumber)
	assert.Equal(t, "B-LATE", views[1].BatchNumber)
	assert.Equal(t, "B-NOEXP", views[2].BatchNumber)
}

func TestStockService_GetProductBalance(t *testing.T) {
	f := newStockFixture(t)
	f.seed(t, "B-1", nil, "10")
	f.seed(t, "B-2", nil, "5.5")

	balance, err := f.svc.GetProductBalance(context.Background(), f.tenantID, f.store.ID, f.product.ID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(qty("15.5")))
}

func TestStockService_GetSnapshot(t *testing.T) {
	f := newStockFixture(t)
	f.seed(t, "B-1", datePtr(2026, 12, 1), "10")

	other := &masterdata.Store{BaseEntity: shared.NewBaseEntity(), TenantID: f.tenantID, Code: "WARD", Name: "Ward Store", Active: true}
	f.repos.storeRepo.stores[other.ID] = other
	entry, err := ledger.NewEntry(f.tenantID, other.ID, f.product.ID, "B-2", datePtr(2026, 11, 1), ledger.EntryKindOpening, qty("4"))
	require.NoError(t, err)
	require.NoError(t, f.repos.ledgerRepo.Append(context.Background(), entry))

	all, err := f.svc.GetSnapshot(context.Background(), f.tenantID, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "B-2", all[0].BatchNumber)

	scoped, err := f.svc.GetSnapshot(context.Background(), f.tenantID, &f.store.ID)
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, "B-1", scoped[0].BatchNumber)
}

func TestStockService_GetMovements(t *testing.T) {
	f := newStockFixture(t)

	entry, err := ledger.NewEntry(f.tenantID, f.store.ID, f.product.ID, "B-1", nil, ledger.EntryKindSaleOut, qty("-2"))
	require.NoError(t, err)
	entry.WithReference("OPS-2026-00001")
	require.NoError(t, f.repos.ledgerRepo.Append(context.Background(), &ledger.Entry{
		BaseEntity: shared.NewBaseEntity(), TenantID: f.tenantID, StoreID: f.store.ID, ProductID: f.product.ID,
		BatchNumber: "B-1", Kind: ledger.EntryKindOpening, QuantityDelta: qty("10"),
	}))
	require.NoError(t, f.repos.ledgerRepo.Append(context.Background(), entry))

	views, err := f.svc.GetMovements(context.Background(), f.tenantID, "OPS-2026-00001")
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, ledger.EntryKindSaleOut.String(), views[0].Kind)
	assert.True(t, views[0].QuantityDelta.Equal(qty("-2")))
}

func (f *stockFixture) seed(t *testing.T, batchNumber string, expiryDate *time.Time, quantity string) {
	t.Helper()
	_, err := f.svc.RecordOpeningStock(context.Background(), f.tenantID, f.actorID, OpeningStockRequest{
		StoreID:     f.store.ID,
		ProductID:   f.product.ID,
		BatchNumber: batchNumber,
		ExpiryDate:  expiryDate,
		Quantity:    qty(quantity),
	})
	require.NoError(t, err)
}
