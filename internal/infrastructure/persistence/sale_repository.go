package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pharmos/backend/internal/domain/dispense"
	"github.com/pharmos/backend/internal/domain/shared"
)

// GormSaleRepository implements dispense.SaleRepository using GORM
type GormSaleRepository struct {
	db *gorm.DB
}

// NewGormSaleRepository creates a new GormSaleRepository
func NewGormSaleRepository(db *gorm.DB) *GormSaleRepository {
	return &GormSaleRepository{db: db}
}

// Save creates or updates a sale together with its lines
func (r *GormSaleRepository) Save(ctx context.Context, sale *dispense.Sale) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Lines").Save(sale).Error; err != nil {
			return err
		}
		// Lines are append-only: a draft gains lines but never loses them,
		// so upsert is enough.
		for i := range sale.Lines {
			sale.Lines[i].SaleID = sale.ID
			if err := tx.Save(&sale.Lines[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveWithVersion updates the sale header guarded by the optimistic version.
// Fails with VERSION_CONFLICT when the stored version moved on.
func (r *GormSaleRepository) SaveWithVersion(ctx context.Context, sale *dispense.Sale, expectedVersion int) error {
	sale.Version = expectedVersion + 1
	sale.UpdatedAt = time.Now()

	result := r.db.WithContext(ctx).
		Model(&dispense.Sale{}).
		Where("id = ? AND version = ?", sale.ID, expectedVersion).
		Updates(map[string]any{
			"status":       sale.Status,
			"credit_sale":  sale.CreditSale,
			"completed_at": sale.CompletedAt,
			"cancelled_at": sale.CancelledAt,
			"version":      sale.Version,
			"updated_at":   sale.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrVersionConflict
	}
	return nil
}

// FindByIDForTenant finds a sale by ID within a tenant, with its lines
func (r *GormSaleRepository) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*dispense.Sale, error) {
	var sale dispense.Sale
	if err := r.db.WithContext(ctx).
		Preload("Lines").
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&sale).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &sale, nil
}

// FindBySaleNumber finds a sale by its document number within a tenant
func (r *GormSaleRepository) FindBySaleNumber(ctx context.Context, tenantID uuid.UUID, saleNumber string) (*dispense.Sale, error) {
	var sale dispense.Sale
	if err := r.db.WithContext(ctx).
		Preload("Lines").
		Where("tenant_id = ? AND sale_number = ?", tenantID, saleNumber).
		First(&sale).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &sale, nil
}

// FindAllForTenant finds sales for a tenant with filtering and pagination
func (r *GormSaleRepository) FindAllForTenant(ctx context.Context, tenantID uuid.UUID, filter shared.Filter) ([]dispense.Sale, error) {
	var sales []dispense.Sale
	query := r.applyFilter(
		r.db.WithContext(ctx).Model(&dispense.Sale{}).Preload("Lines").Where("tenant_id = ?", tenantID),
		filter,
	)
	if err := query.Find(&sales).Error; err != nil {
		return nil, err
	}
	return sales, nil
}

// CountForTenant counts sales for a tenant matching the filter
func (r *GormSaleRepository) CountForTenant(ctx context.Context, tenantID uuid.UUID, filter shared.Filter) (int64, error) {
	var count int64
	query := r.applyConditions(
		r.db.WithContext(ctx).Model(&dispense.Sale{}).Where("tenant_id = ?", tenantID),
		filter,
	)
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// NextNumber derives the next document number for the prefix from the
// highest existing number in the current year. It must run inside the
// caller's transaction; a concurrent creator loses on the unique index and
// retries.
func (r *GormSaleRepository) NextNumber(ctx context.Context, tenantID uuid.UUID, prefix string) (string, error) {
	return nextDocumentNumber(ctx, r.db, &dispense.Sale{}, "sale_number", tenantID, prefix)
}

func (r *GormSaleRepository) applyConditions(query *gorm.DB, filter shared.Filter) *gorm.DB {
	for field, value := range filter.Filters {
		switch field {
		case "status":
			query = query.Where("status = ?", value)
		case "channel":
			query = query.Where("channel = ?", value)
		case "patient_id":
			query = query.Where("patient_id = ?", value)
		case "store_id":
			query = query.Where("store_id = ?", value)
		}
	}
	return query
}

func (r *GormSaleRepository) applyFilter(query *gorm.DB, filter shared.Filter) *gorm.DB {
	query = r.applyConditions(query, filter)

	orderBy := ValidateSortField(filter.OrderBy, SaleSortFields, "created_at")
	orderDir := ValidateSortOrder(filter.OrderDir)
	query = query.Order(orderBy + " " + orderDir)

	if filter.PageSize > 0 {
		offset := (filter.Page - 1) * filter.PageSize
		if offset < 0 {
			offset = 0
		}
		query = query.Offset(offset).Limit(filter.PageSize)
	}
	return query
}

var _ dispense.SaleRepository = (*GormSaleRepository)(nil)
