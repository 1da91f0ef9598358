package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetRateLimitType(t *testing.T) {
	tests := []struct {
		method string
		path   string
		want   RateLimitType
	}{
		{"GET", "/health", RateLimitTypeHealth},
		{"GET", "/metrics", RateLimitTypeHealth},
		{"POST", "/api/v1/admin/waitlist/slots", RateLimitTypeSlotFeed},
		{"GET", "/api/v1/admin/waitlist/stats", RateLimitTypeAdmin},
		{"POST", "/api/v1/admin/waitlist/entries/:id/cancel", RateLimitTypeAdmin},
		{"POST", "/api/v1/waitlist/entries/:id/confirm", RateLimitTypeResponse},
		{"POST", "/api/v1/waitlist/entries/:id/cancel", RateLimitTypeResponse},
		{"POST", "/api/v1/waitlist", RateLimitTypeIntake},
		{"GET", "/api/v1/waitlist/entries/:id", RateLimitTypeLookup},
		{"GET", "/unknown", RateLimitTypeDefault},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, getRateLimitType(tt.method, tt.path))
		})
	}
}

func TestIsAllowed_DisabledSkipsRedis(t *testing.T) {
	limiter := NewRateLimiter(nil, &Config{
		Enabled:        false,
		WindowDuration: time.Minute,
		IntakeRequests: 5,
	})

	result, err := limiter.IsAllowed(context.Background(), "10.0.0.1", RateLimitTypeIntake)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, 5, result.Limit)
}

func TestIsAllowed_WhitelistedIPSkipsRedis(t *testing.T) {
	limiter := NewRateLimiter(nil, &Config{
		Enabled:        true,
		WindowDuration: time.Minute,
		AdminRequests:  3,
		WhitelistedIPs: []string{"10.0.0.9"},
	})

	result, err := limiter.IsAllowed(context.Background(), "10.0.0.9", RateLimitTypeAdmin)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, 3, result.Limit)
}

func TestMiddleware_SetsHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := NewRateLimiter(nil, &Config{Enabled: false, WindowDuration: time.Minute, LookupRequests: 7})

	engine := gin.New()
	engine.Use(Middleware(limiter))
	engine.GET("/api/v1/waitlist/entries/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/waitlist/entries/abc", nil)
	req.Header.Set("X-Forwarded-For", "192.168.1.10, 10.0.0.1")
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "7", rec.Header().Get("X-RateLimit-Limit"))
}

func TestToInt(t *testing.T) {
	assert.Equal(t, 4, toInt(int64(4)))
	assert.Equal(t, 9, toInt("9"))
	assert.Equal(t, 0, toInt(nil))
}
