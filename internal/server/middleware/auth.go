package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var allPermissions = []string{
	"file.upload",
	"file.process",
	"file.view:all",
	"session.cancel",
	"relationship.create",
	"tag.create",
}

var anonymousPermissions = []string{
	"file.upload",
	"file.process",
	"tag.create",
}

func AuthMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		cc := c.(*AppContext)
		app := cc.App

		authHeader := c.Request().Header.Get("Authorization")
		if authHeader == "" && app.AllowAnonymous {
			cc.User = &AppUser{
				Role:        "anonymous",
				Permissions: anonymousPermissions,
				Anonymous:   true,
			}
			return next(c)
		}
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))

		// Master API Key bypass
		if app.MasterAPIKey != "" && app.MasterUserID != "" && app.MasterUserRole != "" && token == app.MasterAPIKey {
			cc.User = &AppUser{
				UserID:      app.MasterUserID,
				Role:        app.MasterUserRole,
				Permissions: allPermissions,
			}
			return next(c)
		}

		if app.Keyfunc == nil {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		}
		parsed, err := jwt.Parse(token, app.Keyfunc)
		if err != nil || !parsed.Valid {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		}

		claims, ok := parsed.Claims.(jwt.MapClaims)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		}

		userID, ok := userIDFromClaims(claims)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Invalid user ID"})
		}

		role := "user"
		if roleClaim, ok := claims["role"].(string); ok {
			role = roleClaim
		}

		var permissions []string
		if permsClaim, ok := claims["permissions"].([]any); ok {
			for _, p := range permsClaim {
				if pStr, ok := p.(string); ok {
					permissions = append(permissions, pStr)
				}
			}
		}

		if role == "admin" && len(permissions) == 0 {
			permissions = allPermissions
		}

		cc.User = &AppUser{
			UserID:      userID,
			Role:        role,
			Permissions: permissions,
		}

		return next(c)
	}
}

// userIDFromClaims reads the "id" claim, string or number, and falls back to
// "sub".
func userIDFromClaims(claims jwt.MapClaims) (string, bool) {
	switch id := claims["id"].(type) {
	case string:
		if id != "" {
			return id, true
		}
	case float64:
		return strconv.FormatInt(int64(id), 10), true
	}
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		return sub, true
	}
	return "", false
}
