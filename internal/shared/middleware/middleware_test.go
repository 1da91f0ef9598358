package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tablewait/internal/shared/config"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func staffRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{JWT: config.JWTConfig{Secret: testSecret}}

	router := gin.New()
	router.GET("/admin", JWTAuthWithConfig(cfg), RequireRoles(RoleStaff, RoleAdmin), func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	return router
}

func callAdmin(router *gin.Engine, authorization string) int {
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec.Code
}

func TestStaffAuth(t *testing.T) {
	router := staffRouter()
	expires := time.Now().Add(time.Hour).Unix()

	staff := signToken(t, testSecret, jwt.MapClaims{"type": "access", "role": RoleStaff, "user_id": "u1", "exp": expires})
	customer := signToken(t, testSecret, jwt.MapClaims{"type": "access", "role": "CUSTOMER", "exp": expires})
	refresh := signToken(t, testSecret, jwt.MapClaims{"type": "refresh", "role": RoleAdmin, "exp": expires})
	forged := signToken(t, "other-secret", jwt.MapClaims{"type": "access", "role": RoleAdmin, "exp": expires})
	expired := signToken(t, testSecret, jwt.MapClaims{"type": "access", "role": RoleAdmin, "exp": time.Now().Add(-time.Minute).Unix()})

	tests := []struct {
		name          string
		authorization string
		want          int
	}{
		{"staff token", "Bearer " + staff, http.StatusOK},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + staff, http.StatusUnauthorized},
		{"customer role", "Bearer " + customer, http.StatusForbidden},
		{"refresh token", "Bearer " + refresh, http.StatusUnauthorized},
		{"wrong secret", "Bearer " + forged, http.StatusUnauthorized},
		{"expired", "Bearer " + expired, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, callAdmin(router, tt.authorization))
		})
	}
}
