package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzzdr/options-risk-desk/config"
	"github.com/rzzdr/options-risk-desk/internal/desk"
	"github.com/rzzdr/options-risk-desk/internal/portfolio"
	"github.com/rzzdr/options-risk-desk/pkg/metrics"
	"github.com/rzzdr/options-risk-desk/pkg/models"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func newTestServer(t *testing.T, apiCfg config.APIConfig) http.Handler {
	t.Helper()
	return newTestServerWithRecorder(t, apiCfg, metrics.NewRecorder())
}

func newTestServerWithRecorder(t *testing.T, apiCfg config.APIConfig, recorder *metrics.Recorder) http.Handler {
	t.Helper()
	agg := portfolio.NewAggregator(portfolio.MustSpotGrid(portfolio.DefaultGridConfig()))
	svc := desk.NewService(agg, config.TradeDefaults{
		Spot: 100, Quantity: 1, Volatility: 0.2, Rate: 0.01, Maturity: 0.5, Kind: "Call", Side: "Long",
	}, recorder)
	return NewServer(apiCfg, svc, nil, recorder).Handler()
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestHealth(t *testing.T) {
	h := newTestServer(t, config.APIConfig{})
	rec := do(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestTradeBookRiskFlow(t *testing.T) {
	h := newTestServer(t, config.APIConfig{})

	rec := do(t, h, http.MethodPost, "/api/v1/trades", "{}")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var result models.TradeResult
	decode(t, rec, &result)
	assert.True(t, result.Accepted)
	require.NotNil(t, result.Position)
	assert.Equal(t, 5.88, result.Position.EntryPrice)

	rec = do(t, h, http.MethodPost, "/api/v1/trades", map[string]interface{}{
		"kind": "Put", "side": "SELL", "strike": 90, "quantity": 2, "entry_price": 1.5,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/v1/book?spot=105", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var book struct {
		Spot      float64          `json:"spot"`
		Positions []models.BookRow `json:"positions"`
	}
	decode(t, rec, &book)
	assert.Equal(t, 105.0, book.Spot)
	require.Len(t, book.Positions, 2)
	assert.Equal(t, "Short", book.Positions[1].Side)
	assert.Equal(t, 3.0, book.Positions[1].Premium)

	rec = do(t, h, http.MethodGet, "/api/v1/risk", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var risk models.RiskSummary
	decode(t, rec, &risk)
	assert.Equal(t, 2, risk.Positions)
	assert.Equal(t, 100.0, risk.Spot)

	rec = do(t, h, http.MethodGet, "/api/v1/curves", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var curves models.CurveBundle
	decode(t, rec, &curves)
	assert.Len(t, curves.Grid, 200)
	assert.Len(t, curves.Rho, 200)
	assert.Equal(t, []float64{100, 90}, curves.Strikes)

	rec = do(t, h, http.MethodPost, "/api/v1/book/flatten", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"removed":2}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/v1/snapshot?spot=100", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var snap models.DeskSnapshot
	decode(t, rec, &snap)
	assert.Empty(t, snap.Book)
	assert.Equal(t, uint64(3), snap.Sequence)
}

func TestTradeRejections(t *testing.T) {
	h := newTestServer(t, config.APIConfig{})

	tests := []struct {
		name   string
		body   interface{}
		status int
	}{
		{"negative entry price", map[string]interface{}{"entry_price": -2}, http.StatusBadRequest},
		{"unknown kind", map[string]interface{}{"kind": "Straddle"}, http.StatusBadRequest},
		{"unknown side", map[string]interface{}{"side": "Hold"}, http.StatusBadRequest},
		{"malformed json", "{", http.StatusBadRequest},
		{"zero volatility", map[string]interface{}{"volatility": 0}, http.StatusUnprocessableEntity},
		{"negative quantity", map[string]interface{}{"quantity": -1}, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/v1/trades", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())

			var result models.TradeResult
			decode(t, rec, &result)
			assert.False(t, result.Accepted)
			assert.NotEmpty(t, result.Reason)
		})
	}

	rec := do(t, h, http.MethodGet, "/api/v1/book", nil)
	assert.Contains(t, rec.Body.String(), `"positions":[]`)
}

func TestSpotQueryValidation(t *testing.T) {
	h := newTestServer(t, config.APIConfig{})

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/v1/risk?spot=abc", nil).Code)
	rec := do(t, h, http.MethodGet, "/api/v1/book?spot=-3", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"type":"invalid_argument"`)
}

func TestQuote(t *testing.T) {
	h := newTestServer(t, config.APIConfig{})

	rec := do(t, h, http.MethodPost, "/api/v1/pricing/quote", map[string]interface{}{"kind": "Call"})
	require.Equal(t, http.StatusOK, rec.Code)
	var q models.Quote
	decode(t, rec, &q)
	assert.InDelta(t, 5.876024233827607, q.Price, 1e-9)
	assert.InDelta(t, 0.028051246304186254, q.Gamma, 1e-12)

	rec = do(t, h, http.MethodPost, "/api/v1/pricing/quote", map[string]interface{}{"maturity": -1})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/pricing/quote", map[string]interface{}{"kind": "Digital"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(t, config.APIConfig{})
	do(t, h, http.MethodGet, "/api/v1/curves", nil)

	rec := do(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `desk_api_requests_total{method="GET",path="/api/v1/curves",status="200"} 1`)
}

func TestNotFound(t *testing.T) {
	h := newTestServer(t, config.APIConfig{})
	rec := do(t, h, http.MethodGet, "/api/v1/orders", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"type":"not_found"`)
}

func TestCORS(t *testing.T) {
	h := newTestServer(t, config.APIConfig{CORS: config.CORSConfig{
		AllowedOrigins: []string{"https://desk.example.com"},
		AllowedMethods: []string{"GET", "POST"},
	}})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/trades", nil)
	req.Header.Set("Origin", "https://desk.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://desk.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST", rec.Header().Get("Access-Control-Allow-Methods"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	h := newTestServer(t, config.APIConfig{RateLimit: 0.001, RateBurst: 2})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, do(t, h, http.MethodGet, "/health", nil).Code)
	}
	assert.Equal(t, []int{200, 200, 429}, codes)
}

func TestPanicRecovery(t *testing.T) {
	engine := gin.New()
	engine.Use(ErrorMiddleware())
	engine.GET("/boom", func(c *gin.Context) { panic("kaboom") })

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "kaboom"))
	assert.Contains(t, rec.Body.String(), `"type":"internal"`)
}

func TestBindFailuresCountAsRejectedTrades(t *testing.T) {
	recorder := metrics.NewRecorder()
	h := newTestServerWithRecorder(t, config.APIConfig{}, recorder)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/v1/trades", map[string]interface{}{"kind": "Straddle"}).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/v1/trades", "{").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/v1/trades", map[string]interface{}{"entry_price": -1}).Code)

	rec := do(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `desk_trades_rejected_total{reason="invalid_argument"} 3`)
}

func TestIPLimiterEvictsIdleClients(t *testing.T) {
	clock := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	l := newIPLimiter(10, 1, time.Minute)
	l.now = func() time.Time { return clock }
	l.lastSweep = clock

	first := l.get("10.0.0.1")
	l.get("10.0.0.2")
	assert.Len(t, l.limiters, 2)

	clock = clock.Add(30 * time.Second)
	assert.Same(t, first, l.get("10.0.0.1"))

	clock = clock.Add(45 * time.Second)
	l.get("10.0.0.3")
	assert.Len(t, l.limiters, 2)
	assert.NotContains(t, l.limiters, "10.0.0.2")
	assert.Contains(t, l.limiters, "10.0.0.1")

	clock = clock.Add(2 * time.Minute)
	assert.NotSame(t, first, l.get("10.0.0.1"))
	assert.Len(t, l.limiters, 1)
}
