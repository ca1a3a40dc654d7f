package middleware

import (
	"net/http"
	"slices"

	"github.com/labstack/echo/v4"
)

const (
	PermissionIngest    = "knowledge.ingest"
	PermissionViewGraph = "knowledge.view:graph"
	PermissionViewQueue = "knowledge.view:status"
)

var allPermissions = []string{
	PermissionIngest,
	PermissionViewGraph,
	PermissionViewQueue,
}

// Can reports whether u holds any of permissions.
func (u *AppUser) Can(permissions ...string) bool {
	if u == nil {
		return false
	}
	return slices.ContainsFunc(permissions, func(p string) bool {
		return slices.Contains(u.Permissions, p)
	})
}

// permissionsFromClaim reads the "permissions" claim. Admins without an
// explicit list get every permission.
func permissionsFromClaim(claim any, role string) []string {
	var permissions []string
	if list, ok := claim.([]any); ok {
		for _, p := range list {
			if s, ok := p.(string); ok {
				permissions = append(permissions, s)
			}
		}
	}
	if role == "admin" && len(permissions) == 0 {
		return allPermissions
	}
	return permissions
}

// RequirePermission lets the request through when the authenticated user
// holds at least one of permissions. It must run after AuthMiddleware.
func RequirePermission(permissions ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user := c.(*AppContext).User
			if user == nil {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			}
			if !user.Can(permissions...) {
				return c.JSON(http.StatusForbidden, map[string]string{"error": "Forbidden: missing required permission"})
			}
			return next(c)
		}
	}
}
