package dispense

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/pharmos/backend/internal/domain/audit"
	"github.com/pharmos/backend/internal/domain/dispense"
	"github.com/pharmos/backend/internal/domain/ledger"
	"github.com/pharmos/backend/internal/domain/masterdata"
	"github.com/pharmos/backend/internal/domain/shared"
)

// callLog records the order of cross-repository calls so tests can assert
// that bound reads happen under the serializing locks.
type callLog struct {
	events []string
}

func (c *callLog) add(event string) {
	if c != nil {
		c.events = append(c.events, event)
	}
}

// captureRecorder keeps every audit record for assertions
type captureRecorder struct {
	records []audit.Record
}

func (r *captureRecorder) Record(_ context.Context, rec audit.Record) {
	r.records = append(r.records, rec)
}

func (r *captureRecorder) countByAction(action audit.Action) int {
	n := 0
	for _, rec := range r.records {
		if rec.Action == action {
			n++
		}
	}
	return n
}

// In-memory repositories mirroring the persistence layer's contracts,
// including the non-negative balance check on Append and the optimistic
// version guard on SaveWithVersion.

type fakeLedgerRepo struct {
	entries []ledger.Entry
}

func (r *fakeLedgerRepo) Append(ctx context.Context, entry *ledger.Entry) error {
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

func (r *fakeLedgerRepo) BatchBalance(_ context.Context, tenantID, storeID, productID uuid.UUID, batchNumber string) (decimal.Decimal, error) {
	balance := decimal.Zero
	for _, e := range r.entries {
		if e.TenantID == tenantID && e.StoreID == storeID && e.ProductID == productID && e.BatchNumber == batchNumber {
			balance = balance.Add(e.QuantityDelta)
		}
	}
	return balance, nil
}

func (r *fakeLedgerRepo) ProductBalance(_ context.Context, tenantID, storeID, productID uuid.UUID) (decimal.Decimal, error) {
	balance := decimal.Zero
	for _, e := range r.entries {
		if e.TenantID == tenantID && e.StoreID == storeID && e.ProductID == productID {
			balance = balance.Add(e.QuantityDelta)
		}
	}
	return balance, nil
}

func (r *fakeLedgerRepo) BatchBalances(_ context.Context, tenantID, storeID, productID uuid.UUID) ([]ledger.BatchBalance, error) {
	byBatch := make(map[string]*ledger.BatchBalance)
	order := make([]string, 0)
	for _, e := range r.entries {
		if e.TenantID != tenantID || e.StoreID != storeID || e.ProductID != productID {
			continue
		}
		b, ok := byBatch[e.BatchNumber]
		if !ok {
			b = &ledger.BatchBalance{
				StoreID:     e.StoreID,
				ProductID:   e.ProductID,
				BatchNumber: e.BatchNumber,
				ExpiryDate:  e.ExpiryDate,
				Quantity:    decimal.Zero,
			}
			byBatch[e.BatchNumber] = b
			order = append(order, e.BatchNumber)
		}
		b.Quantity = b.Quantity.Add(e.QuantityDelta)
	}

	rows := make([]ledger.BatchBalance, 0, len(order))
	for _, batch := range order {
		if byBatch[batch].Quantity.IsPositive() {
			rows = append(rows, *byBatch[batch])
		}
	}
	ledger.SortFEFO(rows)
	return rows, nil
}

func (r *fakeLedgerRepo) Snapshot(ctx context.Context, tenantID uuid.UUID, storeID *uuid.UUID) ([]ledger.BatchBalance, error) {
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

func (r *fakeLedgerRepo) FindByReference(_ context.Context, tenantID uuid.UUID, reference string) ([]ledger.Entry, error) {
	var entries []ledger.Entry
	for _, e := range r.entries {
		if e.TenantID == tenantID && e.Reference == reference {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// entriesOfKind filters the recorded entries for assertions
func (r *fakeLedgerRepo) entriesOfKind(kind ledger.EntryKind) []ledger.Entry {
	var out []ledger.Entry
	for _, e := range r.entries {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

type fakeSaleRepo struct {
	sales map[uuid.UUID]*dispense.Sale
	// seq is keyed by tenant and prefix: every tenant runs its own sequence,
	// mirroring the per-tenant derivation in the persistence layer.
	seq map[string]int64
}

func newFakeSaleRepo() *fakeSaleRepo {
	return &fakeSaleRepo{sales: make(map[uuid.UUID]*dispense.Sale), seq: make(map[string]int64)}
}

func (r *fakeSaleRepo) Save(_ context.Context, sale *dispense.Sale) error {
	r.sales[sale.ID] = sale
	return nil
}

func (r *fakeSaleRepo) SaveWithVersion(_ context.Context, sale *dispense.Sale, expectedVersion int) error {
	stored, ok := r.sales[sale.ID]
	if !ok || stored.Version != expectedVersion {
		return shared.ErrVersionConflict
	}
	sale.Version = expectedVersion + 1
	r.sales[sale.ID] = sale
	return nil
}

func (r *fakeSaleRepo) FindByIDForTenant(_ context.Context, tenantID, id uuid.UUID) (*dispense.Sale, error) {
	sale, ok := r.sales[id]
	if !ok || sale.TenantID != tenantID {
		return nil, shared.ErrNotFound
	}
	return sale, nil
}

func (r *fakeSaleRepo) FindBySaleNumber(_ context.Context, tenantID uuid.UUID, saleNumber string) (*dispense.Sale, error) {
	for _, sale := range r.sales {
		if sale.TenantID == tenantID && sale.SaleNumber == saleNumber {
			return sale, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *fakeSaleRepo) FindAllForTenant(_ context.Context, tenantID uuid.UUID, _ shared.Filter) ([]dispense.Sale, error) {
	var out []dispense.Sale
	for _, sale := range r.sales {
		if sale.TenantID == tenantID {
			out = append(out, *sale)
		}
	}
	return out, nil
}

func (r *fakeSaleRepo) CountForTenant(ctx context.Context, tenantID uuid.UUID, filter shared.Filter) (int64, error) {
	sales, _ := r.FindAllForTenant(ctx, tenantID, filter)
	return int64(len(sales)), nil
}

func (r *fakeSaleRepo) NextNumber(_ context.Context, tenantID uuid.UUID, prefix string) (string, error) {
	key := tenantID.String() + "/" + prefix
	r.seq[key]++
	return dispense.FormatNumber(prefix, time.Now().Year(), r.seq[key]), nil
}

type fakeReturnRepo struct {
	returns map[uuid.UUID]*dispense.Return
	seq     map[uuid.UUID]int64
	calls   *callLog
}

func newFakeReturnRepo() *fakeReturnRepo {
	return &fakeReturnRepo{returns: make(map[uuid.UUID]*dispense.Return), seq: make(map[uuid.UUID]int64)}
}

func (r *fakeReturnRepo) Save(_ context.Context, ret *dispense.Return) error {
	r.returns[ret.ID] = ret
	return nil
}

func (r *fakeReturnRepo) SaveWithVersion(_ context.Context, ret *dispense.Return, expectedVersion int) error {
	stored, ok := r.returns[ret.ID]
	if !ok || stored.Version != expectedVersion {
		return shared.ErrVersionConflict
	}
	ret.Version = expectedVersion + 1
	r.returns[ret.ID] = ret
	return nil
}

func (r *fakeReturnRepo) FindByIDForTenant(_ context.Context, tenantID, id uuid.UUID) (*dispense.Return, error) {
	ret, ok := r.returns[id]
	if !ok || ret.TenantID != tenantID {
		return nil, shared.ErrNotFound
	}
	return ret, nil
}

func (r *fakeReturnRepo) FindAllForTenant(_ context.Context, tenantID uuid.UUID, _ shared.Filter) ([]dispense.Return, error) {
	var out []dispense.Return
	for _, ret := range r.returns {
		if ret.TenantID == tenantID {
			out = append(out, *ret)
		}
	}
	return out, nil
}

func (r *fakeReturnRepo) CountForTenant(ctx context.Context, tenantID uuid.UUID, filter shared.Filter) (int64, error) {
	returns, _ := r.FindAllForTenant(ctx, tenantID, filter)
	return int64(len(returns)), nil
}

func (r *fakeReturnRepo) NextNumber(_ context.Context, tenantID uuid.UUID, prefix string) (string, error) {
	r.seq[tenantID]++
	return dispense.FormatNumber(prefix, time.Now().Year(), r.seq[tenantID]), nil
}

func (r *fakeReturnRepo) ReturnedQuantities(_ context.Context, tenantID, saleID uuid.UUID, statuses []dispense.ReturnStatus) (map[uuid.UUID]decimal.Decimal, error) {
	r.calls.add("read returned quantities")
	allowed := make(map[dispense.ReturnStatus]bool, len(statuses))
	for _, s := range statuses {
		allowed[s] = true
	}
	out := make(map[uuid.UUID]decimal.Decimal)
	for _, ret := range r.returns {
		if ret.TenantID != tenantID || ret.SaleID != saleID || !allowed[ret.Status] {
			continue
		}
		for _, line := range ret.Lines {
			out[line.SaleLineID] = out[line.SaleLineID].Add(line.Quantity)
		}
	}
	return out, nil
}

type fakeCreditRepo struct {
	entries []dispense.CreditLedgerEntry
}

func (r *fakeCreditRepo) Append(_ context.Context, entry *dispense.CreditLedgerEntry) error {
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *fakeCreditRepo) CurrentBalance(_ context.Context, tenantID, patientID uuid.UUID) (decimal.Decimal, error) {
	balance := decimal.Zero
	for _, e := range r.entries {
		if e.TenantID == tenantID && e.PatientID == patientID {
			balance = balance.Add(e.Debit).Sub(e.Credit)
		}
	}
	return balance, nil
}

func (r *fakeCreditRepo) FindByPatient(_ context.Context, tenantID, patientID uuid.UUID, _ shared.Filter) ([]dispense.CreditLedgerEntry, error) {
	var out []dispense.CreditLedgerEntry
	for _, e := range r.entries {
		if e.TenantID == tenantID && e.PatientID == patientID {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeProductRepo struct {
	products map[uuid.UUID]*masterdata.Product
}

func (r *fakeProductRepo) FindByIDForTenant(_ context.Context, tenantID, id uuid.UUID) (*masterdata.Product, error) {
	p, ok := r.products[id]
	if !ok || p.TenantID != tenantID {
		return nil, shared.ErrNotFound
	}
	return p, nil
}

type fakePatientRepo struct {
	patients map[uuid.UUID]*masterdata.Patient
}

func (r *fakePatientRepo) FindByIDForTenant(_ context.Context, tenantID, id uuid.UUID) (*masterdata.Patient, error) {
	p, ok := r.patients[id]
	if !ok || p.TenantID != tenantID {
		return nil, shared.ErrNotFound
	}
	return p, nil
}

type fakeStoreRepo struct {
	stores map[uuid.UUID]*masterdata.Store
}

func (r *fakeStoreRepo) FindByIDForTenant(_ context.Context, tenantID, id uuid.UUID) (*masterdata.Store, error) {
	s, ok := r.stores[id]
	if !ok || s.TenantID != tenantID {
		return nil, shared.ErrNotFound
	}
	return s, nil
}

type fakePrescriptionRepo struct {
	prescriptions map[uuid.UUID]*masterdata.Prescription
	dispensed     map[uuid.UUID][]uuid.UUID
}

func newFakePrescriptionRepo() *fakePrescriptionRepo {
	return &fakePrescriptionRepo{
		prescriptions: make(map[uuid.UUID]*masterdata.Prescription),
		dispensed:     make(map[uuid.UUID][]uuid.UUID),
	}
}

func (r *fakePrescriptionRepo) FindByIDForTenant(_ context.Context, tenantID, id uuid.UUID) (*masterdata.Prescription, error) {
	p, ok := r.prescriptions[id]
	if !ok || p.TenantID != tenantID {
		return nil, shared.ErrNotFound
	}
	return p, nil
}

func (r *fakePrescriptionRepo) MarkItemsDispensed(_ context.Context, prescriptionID uuid.UUID, productIDs []uuid.UUID) error {
	r.dispensed[prescriptionID] = append(r.dispensed[prescriptionID], productIDs...)
	return nil
}

type fakeInvoiceRepo struct {
	invoices  map[uuid.UUID]*masterdata.Invoice
	lineItems []masterdata.InvoiceLineItem
}

func newFakeInvoiceRepo() *fakeInvoiceRepo {
	return &fakeInvoiceRepo{invoices: make(map[uuid.UUID]*masterdata.Invoice)}
}

func (r *fakeInvoiceRepo) FindByIDForTenant(_ context.Context, tenantID, id uuid.UUID) (*masterdata.Invoice, error) {
	inv, ok := r.invoices[id]
	if !ok || inv.TenantID != tenantID {
		return nil, shared.ErrNotFound
	}
	return inv, nil
}

func (r *fakeInvoiceRepo) UpdateTotals(_ context.Context, invoice *masterdata.Invoice) error {
	r.invoices[invoice.ID] = invoice
	return nil
}

func (r *fakeInvoiceRepo) AppendLineItem(_ context.Context, item *masterdata.InvoiceLineItem) error {
	r.lineItems = append(r.lineItems, *item)
	return nil
}

type fakeLocker struct {
	productLocks []uuid.UUID
	patientLocks []uuid.UUID
	calls        *callLog
}

func (l *fakeLocker) LockProduct(_ context.Context, _, productID uuid.UUID) error {
	l.calls.add("lock product")
	l.productLocks = append(l.productLocks, productID)
	return nil
}

func (l *fakeLocker) LockPatient(_ context.Context, _, patientID uuid.UUID) error {
	l.patientLocks = append(l.patientLocks, patientID)
	return nil
}

type fakeRepos struct {
	ledger        *fakeLedgerRepo
	sales         *fakeSaleRepo
	returns       *fakeReturnRepo
	credit        *fakeCreditRepo
	products      *fakeProductRepo
	patients      *fakePatientRepo
	stores        *fakeStoreRepo
	prescriptions *fakePrescriptionRepo
	invoices      *fakeInvoiceRepo
	locker        *fakeLocker
}

func (f *fakeRepos) Ledger() ledger.EntryRepository                      { return f.ledger }
func (f *fakeRepos) Sales() dispense.SaleRepository                      { return f.sales }
func (f *fakeRepos) Returns() dispense.ReturnRepository                  { return f.returns }
func (f *fakeRepos) Credit() dispense.CreditLedgerRepository             { return f.credit }
func (f *fakeRepos) Products() masterdata.ProductRepository              { return f.products }
func (f *fakeRepos) Patients() masterdata.PatientRepository              { return f.patients }
func (f *fakeRepos) Stores() masterdata.StoreRepository                  { return f.stores }
func (f *fakeRepos) Prescriptions() masterdata.PrescriptionRepository   { return f.prescriptions }
func (f *fakeRepos) Invoices() masterdata.InvoiceRepository              { return f.invoices }
func (f *fakeRepos) Locker() dispense.EntityLocker                       { return f.locker }

var _ TransactionalRepositories = (*fakeRepos)(nil)

// fixture wires the services to in-memory repositories with one active
// store and patient
type fixture struct {
	t        *testing.T
	tenantID uuid.UUID
	actorID  uuid.UUID
	repos    *fakeRepos
	scope    *NoOpTransactionScope
	store    *masterdata.Store
	patient  *masterdata.Patient
	calls    *callLog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tenantID := uuid.New()

	repos := &fakeRepos{
		ledger:        &fakeLedgerRepo{},
		sales:         newFakeSaleRepo(),
		returns:       newFakeReturnRepo(),
		credit:        &fakeCreditRepo{},
		products:      &fakeProductRepo{products: make(map[uuid.UUID]*masterdata.Product)},
		patients:      &fakePatientRepo{patients: make(map[uuid.UUID]*masterdata.Patient)},
		stores:        &fakeStoreRepo{stores: make(map[uuid.UUID]*masterdata.Store)},
		prescriptions: newFakePrescriptionRepo(),
		invoices:      newFakeInvoiceRepo(),
		locker:        &fakeLocker{},
	}
	calls := &callLog{}
	repos.locker.calls = calls
	repos.returns.calls = calls

	store := &masterdata.Store{BaseEntity: shared.NewBaseEntity(), TenantID: tenantID, Code: "MAIN", Name: "Main Pharmacy", Active: true}
	repos.stores.stores[store.ID] = store

	patient := &masterdata.Patient{BaseEntity: shared.NewBaseEntity(), TenantID: tenantID, Code: "P-001", Name: "Jordan Reyes", Active: true}
	repos.patients.patients[patient.ID] = patient

	return &fixture{
		t:        t,
		tenantID: tenantID,
		actorID:  uuid.New(),
		repos:    repos,
		scope:    &NoOpTransactionScope{Repos: repos},
		store:    store,
		patient:  patient,
		calls:    calls,
	}
}

func (f *fixture) addProduct(name, unitPrice, taxRate string, controlled bool) *masterdata.Product {
	f.t.Helper()
	product := &masterdata.Product{
		BaseEntity:          shared.NewBaseEntity(),
		TenantID:            f.tenantID,
		Code:                "PRD-" + name,
		Name:                name,
		UnitPrice:           decimal.RequireFromString(unitPrice),
		TaxRate:             decimal.RequireFromString(taxRate),
		ControlledSubstance: controlled,
		Active:              true,
	}
	f.repos.products.products[product.ID] = product
	return product
}

func (f *fixture) addStock(productID uuid.UUID, batchNumber string, expiryDate *time.Time, quantity string) {
	f.t.Helper()
	entry, err := ledger.NewEntry(f.tenantID, f.store.ID, productID, batchNumber, expiryDate,
		ledger.EntryKindOpening, decimal.RequireFromString(quantity))
	require.NoError(f.t, err)
	require.NoError(f.t, f.repos.ledger.Append(context.Background(), entry))
}

func (f *fixture) addPrescription(productIDs ...uuid.UUID) *masterdata.Prescription {
	f.t.Helper()
	prescription := &masterdata.Prescription{
		BaseEntity: shared.NewBaseEntity(),
		TenantID:   f.tenantID,
		PatientID:  f.patient.ID,
		Status:     masterdata.PrescriptionStatusActive,
	}
	for _, productID := range productIDs {
		prescription.Items = append(prescription.Items, masterdata.PrescriptionItem{
			BaseEntity:     shared.NewBaseEntity(),
			PrescriptionID: prescription.ID,
			ProductID:      productID,
			Quantity:       decimal.NewFromInt(1),
		})
	}
	f.repos.prescriptions.prescriptions[prescription.ID] = prescription
	return prescription
}

func (f *fixture) addInvoice() *masterdata.Invoice {
	f.t.Helper()
	invoice := &masterdata.Invoice{
		BaseEntity:  shared.NewBaseEntity(),
		TenantID:    f.tenantID,
		PatientID:   f.patient.ID,
		Number:      "INV-2026-00001",
		Subtotal:    decimal.Zero,
		Total:       decimal.Zero,
		Outstanding: decimal.Zero,
	}
	f.repos.invoices.invoices[invoice.ID] = invoice
	return invoice
}

func qty(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func datePtr(y int, m time.Month, d int) *time.Time {
	ts := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &ts
}
