package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/pharmos/backend/internal/domain/dispense"
	"github.com/pharmos/backend/internal/domain/shared"
)

// GormReturnRepository implements dispense.ReturnRepository using GORM
type GormReturnRepository struct {
	db *gorm.DB
}

// NewGormReturnRepository creates a new GormReturnRepository
func NewGormReturnRepository(db *gorm.DB) *GormReturnRepository {
	return &GormReturnRepository{db: db}
}

// Save creates or updates a return together with its lines
func (r *GormReturnRepository) Save(ctx context.Context, ret *dispense.Return) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Lines").Save(ret).Error; err != nil {
			return err
		}
		for i := range ret.Lines {
			ret.Lines[i].ReturnID = ret.ID
			if err := tx.Save(&ret.Lines[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveWithVersion updates the return header guarded by the optimistic version
func (r *GormReturnRepository) SaveWithVersion(ctx context.Context, ret *dispense.Return, expectedVersion int) error {
	ret.Version = expectedVersion + 1
	ret.UpdatedAt = time.Now()

	result := r.db.WithContext(ctx).
		Model(&dispense.Return{}).
		Where("id = ? AND version = ?", ret.ID, expectedVersion).
		Updates(map[string]any{
			"status":        ret.Status,
			"approved_at":   ret.ApprovedAt,
			"approved_by":   ret.ApprovedBy,
			"cancelled_at":  ret.CancelledAt,
			"cancel_reason": ret.CancelReason,
			"version":       ret.Version,
			"updated_at":    ret.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrVersionConflict
	}
	return nil
}

// FindByIDForTenant finds a return by ID within a tenant, with its lines
func (r *GormReturnRepository) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*dispense.Return, error) {
	var ret dispense.Return
	if err := r.db.WithContext(ctx).
		Preload("Lines").
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&ret).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &ret, nil
}

// FindAllForTenant finds returns for a tenant with filtering and pagination
func (r *GormReturnRepository) FindAllForTenant(ctx context.Context, tenantID uuid.UUID, filter shared.Filter) ([]dispense.Return, error) {
	var returns []dispense.Return
	query := r.applyFilter(
		r.db.WithContext(ctx).Model(&dispense.Return{}).Preload("Lines").Where("tenant_id = ?", tenantID),
		filter,
	)
	if err := query.Find(&returns).Error; err != nil {
		return nil, err
	}
	return returns, nil
}

// CountForTenant counts returns for a tenant matching the filter
func (r *GormReturnRepository) CountForTenant(ctx context.Context, tenantID uuid.UUID, filter shared.Filter) (int64, error) {
	var count int64
	query := r.applyConditions(
		r.db.WithContext(ctx).Model(&dispense.Return{}).Where("tenant_id = ?", tenantID),
		filter,
	)
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// NextNumber derives the next return number for the prefix
func (r *GormReturnRepository) NextNumber(ctx context.Context, tenantID uuid.UUID, prefix string) (string, error) {
	return nextDocumentNumber(ctx, r.db, &dispense.Return{}, "return_number", tenantID, prefix)
}

// ReturnedQuantities sums return-line quantities per sale line across the
// sale's returns in the given statuses
func (r *GormReturnRepository) ReturnedQuantities(ctx context.Context, tenantID, saleID uuid.UUID, statuses []dispense.ReturnStatus) (map[uuid.UUID]decimal.Decimal, error) {
	type row struct {
		SaleLineID uuid.UUID
		Total      decimal.Decimal
	}
	var rows []row
	err := r.db.WithContext(ctx).
		Model(&dispense.ReturnLine{}).
		Select("return_lines.sale_line_id AS sale_line_id, SUM(return_lines.quantity) AS total").
		Joins("JOIN returns ON returns.id = return_lines.return_id").
		Where("returns.tenant_id = ? AND returns.sale_id = ? AND returns.status IN ?", tenantID, saleID, statuses).
		Group("return_lines.sale_line_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	quantities := make(map[uuid.UUID]decimal.Decimal, len(rows))
	for _, row := range rows {
		quantities[row.SaleLineID] = row.Total
	}
	return quantities, nil
}

func (r *GormReturnRepository) applyConditions(query *gorm.DB, filter shared.Filter) *gorm.DB {
	for field, value := range filter.Filters {
		switch field {
		case "status":
			query = query.Where("status = ?", value)
		case "sale_id":
			query = query.Where("sale_id = ?", value)
		case "patient_id":
			query = query.Where("patient_id = ?", value)
		}
	}
	return query
}

func (r *GormReturnRepository) applyFilter(query *gorm.DB, filter shared.Filter) *gorm.DB {
	query = r.applyConditions(query, filter)

	orderBy := ValidateSortField(filter.OrderBy, ReturnSortFields, "created_at")
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

var _ dispense.ReturnRepository = (*GormReturnRepository)(nil)
