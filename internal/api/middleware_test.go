package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banking/fraud-service/internal/config"
)

const testSecret = "test-secret"

func securityConfig() *config.SecurityConfig {
	return &config.SecurityConfig{
		AdminJWTSecret: testSecret,
		AdminRole:      "compliance_admin",
	}
}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func runProtected(t *testing.T, authHeader string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := AdminAuth(securityConfig())(func(c echo.Context) error {
		return c.String(http.StatusOK, actorID(c))
	})
	return rec, handler(c)
}

func TestAdminAuthAcceptsValidToken(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"sub":  "admin-1",
		"role": "compliance_admin",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})

	rec, err := runProtected(t, "Bearer "+token)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "admin-1", rec.Body.String())
}

func TestAdminAuthAcceptsRolesList(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"sub":   "admin-2",
		"roles": []string{"support", "compliance_admin"},
		"exp":   time.Now().Add(time.Hour).Unix(),
	})

	rec, err := runProtected(t, "Bearer "+token)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminAuthRejectsMissingHeader(t *testing.T) {
	_, err := runProtected(t, "")
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
}

func TestAdminAuthRejectsMalformedHeader(t *testing.T) {
	_, err := runProtected(t, "Token abc")
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
}

func TestAdminAuthRejectsWrongSignature(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "admin-1",
		"role": "compliance_admin",
	})
	signed, err := token.SignedString([]byte("other-secret"))
	require.NoError(t, err)

	_, err = runProtected(t, "Bearer "+signed)
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
}

func TestAdminAuthRejectsExpiredToken(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"sub":  "admin-1",
		"role": "compliance_admin",
		"exp":  time.Now().Add(-time.Hour).Unix(),
	})

	_, err := runProtected(t, "Bearer "+token)
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
}

func TestAdminAuthRejectsMissingRole(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"sub":  "user-1",
		"role": "support",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})

	_, err := runProtected(t, "Bearer "+token)
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusForbidden, httpErr.Code)
}
