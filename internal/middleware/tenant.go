package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// tenantKey is the context key the handlers read the tenant scope from.
const tenantKey = "tenant_id"

// TenantHeader carries the caller's tenant scope. Authentication itself is
// handled upstream; this middleware only enforces that a scope is present.
const TenantHeader = "X-Tenant-ID"

// TenantMiddleware rejects any request without a tenant scope and makes the
// scope available to handlers. Every admin endpoint runs behind it.
func TenantMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := c.GetHeader(TenantHeader)
		if tenantID == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing tenant scope", "message": TenantHeader + " header required"})
			return
		}
		c.Set(tenantKey, tenantID)
		c.Next()
	}
}

// TenantID returns the request's tenant scope, empty if the middleware did
// not run.
func TenantID(c *gin.Context) string {
	return c.GetString(tenantKey)
}
