package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pharmos/backend/internal/domain/dispense"
)

// nextDocumentNumber derives the next PREFIX-YYYY-NNNNN number from the
// tenant's highest existing number with the same prefix and year. The
// per-tenant unique index on the number column is the real guard: when two
// transactions derive the same number, one insert fails and the caller
// retries.
func nextDocumentNumber(ctx context.Context, db *gorm.DB, model any, column string, tenantID uuid.UUID, prefix string) (string, error) {
	year := time.Now().Year()
	like := fmt.Sprintf("%s-%04d-%%", prefix, year)

	// Length-first ordering keeps the comparison numeric once the sequence
	// outgrows its 5-digit padding: OPS-2026-100000 must beat OPS-2026-99999.
	var last string
	err := db.WithContext(ctx).
		Model(model).
		Select(column).
		Where("tenant_id = ? AND "+column+" LIKE ?", tenantID, like).
		Order("LENGTH(" + column + ") DESC, " + column + " DESC").
		Limit(1).
		Scan(&last).Error
	if err != nil {
		return "", err
	}

	return dispense.FormatNumber(prefix, year, dispense.SequenceOf(last)+1), nil
}
