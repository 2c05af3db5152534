package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/ksred/klear-funding/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(service *auth.Service, permission string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/api/v1/internal/ping", JWTAuth(service, permission), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("clientID"))
	})
	return router
}

func TestJWTAuth(t *testing.T) {
	service := auth.NewService("secret", map[string]string{"ops": "ops-secret"})
	token, err := service.GenerateToken(auth.Credentials{APIKey: "ops", APISecret: "ops-secret"})
	require.NoError(t, err)

	tests := []struct {
		name       string
		header     string
		permission string
		status     int
	}{
		{"missing header", "", auth.PermissionSettlementAdmin, http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", auth.PermissionSettlementAdmin, http.StatusUnauthorized},
		{"garbage token", "Bearer abc", auth.PermissionSettlementAdmin, http.StatusUnauthorized},
		{"valid", "Bearer " + token.Token, auth.PermissionSettlementAdmin, http.StatusOK},
		{"missing permission", "Bearer " + token.Token, "payments:root", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/internal/ping", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			newRouter(service, tt.permission).ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, "ops", w.Body.String())
			}
		})
	}
}

func TestRateLimitOnAuthRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RateLimit())
	router.POST("/api/v1/auth/token", func(c *gin.Context) { c.Status(http.StatusOK) })

	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", nil)
		req.RemoteAddr = "203.0.113.7:1234"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, send())
	assert.Equal(t, http.StatusTooManyRequests, send())
}
