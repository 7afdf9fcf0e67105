package middleware

import (
	"net/http"
	"slices"

	"github.com/OFFIS-RIT/ingest/backend/pkg/ingest"

	"github.com/labstack/echo/v4"
)

func HasPermission(user *AppUser, permission string) bool {
	if user == nil {
		return false
	}
	return slices.Contains(user.Permissions, permission)
}

func IsAdmin(user *AppUser) bool {
	if user == nil {
		return false
	}
	return user.Role == "admin"
}

// Owner is the owner recorded for files the user uploads. Anonymous uploads
// have no owner.
func Owner(user *AppUser) *string {
	if user == nil || user.Anonymous || user.UserID == "" {
		return nil
	}
	id := user.UserID
	return &id
}

// CanViewFile reports whether user may see f. Admins and holders of
// file.view:all see every file, everybody else their own and anonymous ones.
func CanViewFile(user *AppUser, f ingest.File) bool {
	if user == nil {
		return false
	}
	if IsAdmin(user) || HasPermission(user, "file.view:all") {
		return true
	}
	if f.Owner == nil {
		return true
	}
	return !user.Anonymous && *f.Owner == user.UserID
}

func RequirePermission(permission string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user := c.(*AppContext).User
			if user == nil {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			}

			if !HasPermission(user, permission) && !IsAdmin(user) {
				return c.JSON(http.StatusForbidden, map[string]string{"error": "Forbidden: missing permission " + permission})
			}

			return next(c)
		}
	}
}
