package api

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/banking/fraud-service/internal/config"
)

const actorIDContextKey = "actor_id"

// AdminAuth validates the bearer token on the blacklist admin surface and
// requires the configured admin role claim. The evaluation endpoint is not
// behind this middleware; it is called service-to-service.
func AdminAuth(cfg *config.SecurityConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization header format")
			}

			token, err := jwt.Parse(parts[1], func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(cfg.AdminJWTSecret), nil
			})
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token")
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token claims")
			}

			if !hasRole(claims, cfg.AdminRole) {
				return echo.NewHTTPError(http.StatusForbidden, "insufficient privileges")
			}

			if sub, ok := claims["sub"].(string); ok {
				c.Set(actorIDContextKey, sub)
			}

			return next(c)
		}
	}
}

// hasRole accepts either a single "role" claim or a "roles" list
func hasRole(claims jwt.MapClaims, role string) bool {
	if r, ok := claims["role"].(string); ok && r == role {
		return true
	}
	if roles, ok := claims["roles"].([]interface{}); ok {
		for _, r := range roles {
			if s, ok := r.(string); ok && s == role {
				return true
			}
		}
	}
	return false
}

// actorID returns the authenticated admin's subject, or "unknown" when the
// request reached the handler without one
func actorID(c echo.Context) string {
	if id, ok := c.Get(actorIDContextKey).(string); ok && id != "" {
		return id
	}
	return "unknown"
}
