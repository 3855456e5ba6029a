package dispense

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pharmos/backend/internal/domain/dispense"
)

// RequestedLine is one product/quantity a caller asks to dispense. The
// allocator may expand it into several sale lines across batches.
type RequestedLine struct {
	ProductID uuid.UUID
	Quantity  decimal.Decimal
	// Discount is an absolute per-line discount amount
	Discount decimal.Decimal
}

// CreateSaleRequest is the input to SaleService.CreateSale
type CreateSaleRequest struct {
	PatientID      uuid.UUID
	StoreID        uuid.UUID
	Channel        dispense.SaleChannel
	VisitID        *uuid.UUID
	AdmissionID    *uuid.UUID
	InvoiceID      *uuid.UUID
	PrescriptionID *uuid.UUID
	// CreditSale defers payment into the patient credit ledger (OP only)
	CreditSale bool
	// PendingPayment keeps an OP sale in DRAFT until CompleteSale;
	// stock is allocated either way
	PendingPayment bool
	Lines          []RequestedLine
}

// SaleLineDetail is one allocated batch deduction
type SaleLineDetail struct {
	ID          uuid.UUID       `json:"id"`
	ProductID   uuid.UUID       `json:"product_id"`
	ProductName string          `json:"product_name"`
	BatchNumber string          `json:"batch_number"`
	ExpiryDate  *time.Time      `json:"expiry_date,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Discount    decimal.Decimal `json:"discount"`
	TaxAmount   decimal.Decimal `json:"tax_amount"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

// SaleDetail is the orchestrator's view of a sale
type SaleDetail struct {
	ID            uuid.UUID        `json:"id"`
	SaleNumber    string           `json:"sale_number"`
	PatientID     uuid.UUID        `json:"patient_id"`
	StoreID       uuid.UUID        `json:"store_id"`
	Channel       string           `json:"channel"`
	Status        string           `json:"status"`
	InvoiceID     *uuid.UUID       `json:"invoice_id,omitempty"`
	CreditSale    bool             `json:"credit_sale"`
	GrossTotal    decimal.Decimal  `json:"gross_total"`
	DiscountTotal decimal.Decimal  `json:"discount_total"`
	TaxTotal      decimal.Decimal  `json:"tax_total"`
	NetTotal      decimal.Decimal  `json:"net_total"`
	Version       int              `json:"version"`
	Lines         []SaleLineDetail `json:"lines"`
	CreatedAt     time.Time        `json:"created_at"`
}

// ToSaleDetail maps a sale aggregate to its DTO
func ToSaleDetail(s *dispense.Sale) SaleDetail {
	lines := make([]SaleLineDetail, 0, len(s.Lines))
	for _, l := range s.Lines {
		lines = append(lines, SaleLineDetail{
			ID:          l.ID,
			ProductID:   l.ProductID,
			ProductName: l.ProductName,
			BatchNumber: l.BatchNumber,
			ExpiryDate:  l.ExpiryDate,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			Discount:    l.Discount,
			TaxAmount:   l.TaxAmount,
			LineTotal:   l.LineTotal,
		})
	}
	return SaleDetail{
		ID:            s.ID,
		SaleNumber:    s.SaleNumber,
		PatientID:     s.PatientID,
		StoreID:       s.StoreID,
		Channel:       s.Channel.String(),
		Status:        s.Status.String(),
		InvoiceID:     s.InvoiceID,
		CreditSale:    s.CreditSale,
		GrossTotal:    s.GrossTotal,
		DiscountTotal: s.DiscountTotal,
		TaxTotal:      s.TaxTotal,
		NetTotal:      s.NetTotal,
		Version:       s.Version,
		Lines:         lines,
		CreatedAt:     s.CreatedAt,
	}
}

// RequestedReturnLine is one sale line a caller asks to return
type RequestedReturnLine struct {
	SaleLineID  uuid.UUID
	BatchNumber string
	Quantity    decimal.Decimal
}

// CreateReturnRequest is the input to ReturnService.CreateReturn
type CreateReturnRequest struct {
	SaleID uuid.UUID
	Reason string
	Lines  []RequestedReturnLine
}

// ReturnLineDetail is one staged return line
type ReturnLineDetail struct {
	ID          uuid.UUID       `json:"id"`
	SaleLineID  uuid.UUID       `json:"sale_line_id"`
	ProductID   uuid.UUID       `json:"product_id"`
	ProductName string          `json:"product_name"`
	BatchNumber string          `json:"batch_number"`
	ExpiryDate  *time.Time      `json:"expiry_date,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

// ReturnDetail is the orchestrator's view of a return
type ReturnDetail struct {
	ID           uuid.UUID          `json:"id"`
	ReturnNumber string             `json:"return_number"`
	SaleID       uuid.UUID          `json:"sale_id"`
	SaleNumber   string             `json:"sale_number"`
	PatientID    uuid.UUID          `json:"patient_id"`
	Status       string             `json:"status"`
	Reason       string             `json:"reason"`
	Subtotal     decimal.Decimal    `json:"subtotal"`
	TaxTotal     decimal.Decimal    `json:"tax_total"`
	Total        decimal.Decimal    `json:"total"`
	Version      int                `json:"version"`
	Lines        []ReturnLineDetail `json:"lines"`
	CreatedAt    time.Time          `json:"created_at"`
}

// ToReturnDetail maps a return aggregate to its DTO
func ToReturnDetail(r *dispense.Return) ReturnDetail {
	lines := make([]ReturnLineDetail, 0, len(r.Lines))
	for _, l := range r.Lines {
		lines = append(lines, ReturnLineDetail{
			ID:          l.ID,
			SaleLineID:  l.SaleLineID,
			ProductID:   l.ProductID,
			ProductName: l.ProductName,
			BatchNumber: l.BatchNumber,
			ExpiryDate:  l.ExpiryDate,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			LineTotal:   l.LineTotal,
		})
	}
	return ReturnDetail{
		ID:           r.ID,
		ReturnNumber: r.ReturnNumber,
		SaleID:       r.SaleID,
		SaleNumber:   r.SaleNumber,
		PatientID:    r.PatientID,
		Status:       r.Status.String(),
		Reason:       r.Reason,
		Subtotal:     r.Subtotal,
		TaxTotal:     r.TaxTotal,
		Total:        r.Total,
		Version:      r.Version,
		Lines:        lines,
		CreatedAt:    r.CreatedAt,
	}
}
