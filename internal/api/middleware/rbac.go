package middleware

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"

	apperrors "tollgate.io/tollgate/internal/pkg/errors"
)

// Permissions carried in the token's permissions claim.
const (
	PermAdmin         = "platform:admin"
	PermWorkflowWrite = "workflow:write"
	PermOutcomeSubmit = "outcome:submit"
	PermDecide        = "approval:decide"
)

// HasPermission reports whether the authenticated actor holds permission.
// platform:admin implies every permission.
func HasPermission(c *gin.Context, permission string) bool {
	perms, ok := c.Get(KeyPermissions)
	if !ok {
		return false
	}
	list, ok := perms.([]string)
	if !ok {
		return false
	}
	return slices.Contains(list, PermAdmin) || slices.Contains(list, permission)
}

// RequirePermission returns middleware that rejects actors without permission.
func RequirePermission(permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, exists := c.Get(KeyPermissions); !exists {
			abortWithError(c, http.StatusForbidden, apperrors.CodeForbidden, "no permissions in context")
			return
		}
		if !HasPermission(c, permission) {
			abortWithError(c, http.StatusForbidden, apperrors.CodeForbidden, "insufficient permissions")
			return
		}
		c.Next()
	}
}
