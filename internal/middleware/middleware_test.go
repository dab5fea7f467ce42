package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/javajoker/imi-market/internal/authz"
	"github.com/javajoker/imi-market/internal/utils"
)

var caller = common.HexToAddress("0x00000000000000000000000000000000000000a1")

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(I18nMiddleware())
	r.GET("/", append(handlers, func(c *gin.Context) {
		p, _ := utils.GetPrincipalFromContext(c)
		c.String(http.StatusOK, p.Address.Hex())
	})...)
	return r
}

func get(r http.Handler, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthRequired(t *testing.T) {
	utils.SetJWTSecret("test-secret")
	r := newRouter(AuthRequired())

	assert.Equal(t, http.StatusUnauthorized, get(r, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, map[string]string{"Authorization": "Token abc"}).Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, map[string]string{"Authorization": "Bearer abc"}).Code)

	token, err := utils.GenerateJWT(caller, nil, 1)
	require.NoError(t, err)
	w := get(r, map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, caller.Hex(), w.Body.String())
}

func TestCapabilityRequired(t *testing.T) {
	utils.SetJWTSecret("test-secret")
	r := newRouter(AuthRequired(), CapabilityRequired(authz.CapArbitrator))

	plain, err := utils.GenerateJWT(caller, []authz.Capability{authz.CapAdmin}, 1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, get(r, map[string]string{"Authorization": "Bearer " + plain}).Code)

	arb, err := utils.GenerateJWT(caller, []authz.Capability{authz.CapArbitrator}, 1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, get(r, map[string]string{"Authorization": "Bearer " + arb}).Code)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(rate.Every(time.Hour), 2)
	r := newRouter(rl.Middleware())

	assert.Equal(t, http.StatusOK, get(r, nil).Code)
	assert.Equal(t, http.StatusOK, get(r, nil).Code)
	w := get(r, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestRateLimiterKeysAndEviction(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(rate.Every(time.Hour), 1)
	rl.now = func() time.Time { return now }

	_, ok := rl.reserve("addr:a")
	assert.True(t, ok)
	wait, ok := rl.reserve("addr:a")
	assert.False(t, ok)
	assert.InDelta(t, time.Hour.Seconds(), wait.Seconds(), 1)
	_, ok = rl.reserve("addr:b")
	assert.True(t, ok)

	now = now.Add(bucketIdleTTL + time.Second)
	assert.Equal(t, 2, rl.evictIdle())
	_, ok = rl.reserve("addr:a")
	assert.True(t, ok)
}

func TestNegotiateLang(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"", "en"},
		{"fr-FR,fr;q=0.9", "en"},
		{"zh-TW,zh;q=0.9,en;q=0.8", "zh_TW"},
		{"en-US;q=0.5,zh-Hant;q=0.8", "zh_TW"},
		{"zh-HK;q=0.2,en-GB;q=0.7", "en"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, negotiateLang(tt.header), tt.header)
	}
}
