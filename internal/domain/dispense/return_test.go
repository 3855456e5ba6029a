package dispense

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmos/backend/internal/domain/shared"
)

func completedSale(t *testing.T) *Sale {
	t.Helper()
	sale := newDraftSale(t, SaleChannelOutpatient)
	// 10 x 3.00 with 10% tax, no discount
	_, err := sale.AddLine(uuid.New(), "Amoxicillin 500mg", "B-001", datePtr(2027, 1, 1),
		qty("10"), qty("3.00"), decimal.Zero, qty("0.10"))
	require.NoError(t, err)
	require.NoError(t, sale.Complete())
	return sale
}

func newDraftReturn(t *testing.T, sale *Sale) *Return {
	t.Helper()
	ret, err := NewReturn(sale.TenantID, "RTN-2026-00001", sale, "damaged packaging")
	require.NoError(t, err)
	return ret
}

func TestNewReturn(t *testing.T) {
	sale := completedSale(t)
	ret := newDraftReturn(t, sale)

	assert.Equal(t, ReturnStatusDraft, ret.Status)
	assert.Equal(t, sale.ID, ret.SaleID)
	assert.Equal(t, sale.SaleNumber, ret.SaleNumber)
	assert.Equal(t, sale.PatientID, ret.PatientID)
	assert.Equal(t, 1, ret.Version)
}

func TestNewReturn_Validation(t *testing.T) {
	sale := completedSale(t)

	_, err := NewReturn(sale.TenantID, "", sale, "reason")
	assert.Error(t, err)

	_, err = NewReturn(sale.TenantID, "RTN-2026-00001", nil, "reason")
	assert.Error(t, err)

	_, err = NewReturn(sale.TenantID, "RTN-2026-00001", sale, "")
	assert.Error(t, err)

	draft := newDraftSale(t, SaleChannelOutpatient)
	_, err = NewReturn(draft.TenantID, "RTN-2026-00001", draft, "reason")
	assertCode(t, err, shared.CodeInvalidState)

	cancelled := newDraftSale(t, SaleChannelOutpatient)
	require.NoError(t, cancelled.Cancel())
	_, err = NewReturn(cancelled.TenantID, "RTN-2026-00001", cancelled, "reason")
	assertCode(t, err, shared.CodeInvalidState)
}

func TestReturn_AddLine(t *testing.T) {
	sale := completedSale(t)
	saleLine := &sale.Lines[0]
	ret := newDraftReturn(t, sale)

	line, err := ret.AddLine(saleLine, "B-001", qty("4"), decimal.Zero)
	require.NoError(t, err)

	assert.Equal(t, saleLine.ID, line.SaleLineID)
	assert.Equal(t, "B-001", line.BatchNumber)
	// Tax returns in proportion: 3.00 total tax, 4/10 returned = 1.20
	assert.True(t, line.TaxAmount.Equal(qty("1.20")))
	// Subtotal 4 x 3.00 = 12.00, total 13.20
	assert.True(t, line.LineTotal.Equal(qty("13.20")))
	assert.True(t, ret.Subtotal.Equal(qty("12.00")))
	assert.True(t, ret.TaxTotal.Equal(qty("1.20")))
	assert.True(t, ret.Total.Equal(qty("13.20")))
}

func TestReturn_AddLine_BatchMismatch(t *testing.T) {
	sale := completedSale(t)
	ret := newDraftReturn(t, sale)

	_, err := ret.AddLine(&sale.Lines[0], "B-999", qty("1"), decimal.Zero)
	assertCode(t, err, shared.CodeBatchMismatch)
}

func TestReturn_AddLine_ExceedsSoldQuantity(t *testing.T) {
	sale := completedSale(t)
	ret := newDraftReturn(t, sale)

	_, err := ret.AddLine(&sale.Lines[0], "B-001", qty("11"), decimal.Zero)
	assertCode(t, err, shared.CodeExceedsSoldQuantity)

	// Previous returns shrink the bound.
	_, err = ret.AddLine(&sale.Lines[0], "B-001", qty("5"), qty("6"))
	assertCode(t, err, shared.CodeExceedsSoldQuantity)

	// Exactly the remaining quantity is fine.
	_, err = ret.AddLine(&sale.Lines[0], "B-001", qty("4"), qty("6"))
	assert.NoError(t, err)
}

func TestReturn_AddLine_DuplicateSaleLine(t *testing.T) {
	sale := completedSale(t)
	ret := newDraftReturn(t, sale)

	_, err := ret.AddLine(&sale.Lines[0], "B-001", qty("2"), decimal.Zero)
	require.NoError(t, err)

	_, err = ret.AddLine(&sale.Lines[0], "B-001", qty("1"), decimal.Zero)
	assertCode(t, err, "DUPLICATE_LINE")
}

func TestReturn_AddLine_Validation(t *testing.T) {
	sale := completedSale(t)
	ret := newDraftReturn(t, sale)

	_, err := ret.AddLine(nil, "B-001", qty("1"), decimal.Zero)
	assertCode(t, err, shared.CodeNotFound)

	_, err = ret.AddLine(&sale.Lines[0], "B-001", decimal.Zero, decimal.Zero)
	assertCode(t, err, "INVALID_QUANTITY")
}

func TestReturn_Approve(t *testing.T) {
	sale := completedSale(t)
	ret := newDraftReturn(t, sale)
	approver := uuid.New()

	err := ret.Approve(approver)
	assertCode(t, err, "NO_LINES")

	_, err = ret.AddLine(&sale.Lines[0], "B-001", qty("2"), decimal.Zero)
	require.NoError(t, err)
	require.NoError(t, ret.Approve(approver))

	assert.Equal(t, ReturnStatusApproved, ret.Status)
	assert.NotNil(t, ret.ApprovedAt)
	require.NotNil(t, ret.ApprovedBy)
	assert.Equal(t, approver, *ret.ApprovedBy)

	// APPROVED is terminal.
	err = ret.Approve(approver)
	assertCode(t, err, shared.CodeInvalidState)
	err = ret.Cancel("too late")
	assertCode(t, err, shared.CodeInvalidState)
}

func TestReturn_Cancel(t *testing.T) {
	sale := completedSale(t)
	ret := newDraftReturn(t, sale)

	require.NoError(t, ret.Cancel("entered by mistake"))
	assert.Equal(t, ReturnStatusCancelled, ret.Status)
	assert.Equal(t, "entered by mistake", ret.CancelReason)
	assert.NotNil(t, ret.CancelledAt)

	// CANCELLED is terminal.
	err := ret.Cancel("again")
	assertCode(t, err, shared.CodeInvalidState)
	err = ret.Approve(uuid.New())
	assertCode(t, err, shared.CodeInvalidState)

	_, err = ret.AddLine(&sale.Lines[0], "B-001", qty("1"), decimal.Zero)
	assertCode(t, err, shared.CodeInvalidState)
}

func TestReturnStatus_CanTransitionTo(t *testing.T) {
	assert.True(t, ReturnStatusDraft.CanTransitionTo(ReturnStatusApproved))
	assert.True(t, ReturnStatusDraft.CanTransitionTo(ReturnStatusCancelled))
	assert.False(t, ReturnStatusApproved.CanTransitionTo(ReturnStatusCancelled))
	assert.False(t, ReturnStatusApproved.CanTransitionTo(ReturnStatusDraft))
	assert.False(t, ReturnStatusCancelled.CanTransitionTo(ReturnStatusApproved))
}
