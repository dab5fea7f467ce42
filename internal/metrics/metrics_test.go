package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/imi-market/internal/ledger"
	"github.com/javajoker/imi-market/internal/marketplace"
	"github.com/javajoker/imi-market/internal/store"
)

func TestObserveCommit(t *testing.T) {
	m := New()
	now := time.Now()
	m.ObserveCommit("market.buy_listing", []store.Event{
		{Type: ledger.EventPaymentDistributed, OccurredAt: now},
		{Type: marketplace.EventListingSold, OccurredAt: now, Payload: marketplace.Settlement{
			Source:       marketplace.SourceListing,
			Kind:         marketplace.SaleSecondary,
			Price:        decimal.NewFromInt(1000),
			Distribution: ledger.Distribution{Royalty: decimal.NewFromInt(100)},
		}},
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues(marketplace.EventListingSold)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.settlements.WithLabelValues("listing", "secondary")))
	assert.Equal(t, 1000.0, testutil.ToFloat64(m.volume.WithLabelValues("secondary")))
	assert.Equal(t, 100.0, testutil.ToFloat64(m.royalties))
}

func TestMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New()
	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/v1/assets/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/metrics", gin.WrapH(m.Handler()))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/assets/7", nil))
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/v1/assets/:id", "204")))

	m.ObservePayout("manual", "completed")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), `imi_market_payouts_total{executor="manual",status="completed"} 1`))
}
