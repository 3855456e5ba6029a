package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pharmos/backend/internal/interfaces/http/dto"
)

// Context keys set by Identity
const (
	TenantIDKey = "tenant_id"
	UserIDKey   = "user_id"
)

// Identity resolves the calling tenant and user from the X-Tenant-ID and
// X-User-ID headers set by the API gateway. Requests without a valid tenant
// are rejected; the user ID is required because every mutation records an
// actor.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, err := uuid.Parse(c.GetHeader("X-Tenant-ID"))
		if err != nil || tenantID == uuid.Nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				dto.NewErrorResponse(dto.ErrCodeUnauthorized, "Missing or invalid X-Tenant-ID header"))
			return
		}
		userID, err := uuid.Parse(c.GetHeader("X-User-ID"))
		if err != nil || userID == uuid.Nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				dto.NewErrorResponse(dto.ErrCodeUnauthorized, "Missing or invalid X-User-ID header"))
			return
		}

		c.Set(TenantIDKey, tenantID)
		c.Set(UserIDKey, userID)
		c.Next()
	}
}

// GetTenantID returns the tenant resolved by Identity
func GetTenantID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(TenantIDKey)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}

// GetUserID returns the user resolved by Identity
func GetUserID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(UserIDKey)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}
