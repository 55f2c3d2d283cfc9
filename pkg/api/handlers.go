package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rzzdr/options-risk-desk/config"
	"github.com/rzzdr/options-risk-desk/pkg/metrics"
	"github.com/rzzdr/options-risk-desk/pkg/models"
	"github.com/rzzdr/options-risk-desk/pkg/utils/errors"
	"github.com/rzzdr/options-risk-desk/pkg/utils/logger"
)

// Desk is the trading desk as seen by the HTTP layer
type Desk interface {
	SubmitTrade(ctx context.Context, req models.TradeRequest) (models.TradeResult, error)
	Flatten(ctx context.Context) int
	Book(spot float64) ([]models.BookRow, error)
	Risk(spot float64) (models.RiskSummary, error)
	Curves() models.CurveBundle
	Snapshot(spot float64) (*models.DeskSnapshot, error)
	QuoteRequest(req models.QuoteRequest) (models.Quote, error)
	Defaults() config.TradeDefaults
}

// Handlers contains all HTTP handlers for the API
type Handlers struct {
	desk     Desk
	recorder *metrics.Recorder
	log      *logger.Logger
}

// NewHandlers creates new API handlers
func NewHandlers(desk Desk, recorder *metrics.Recorder) *Handlers {
	return &Handlers{
		desk:     desk,
		recorder: recorder,
		log:      logger.GetLogger("api.handlers"),
	}
}

// HealthCheckHandler handles health check requests
func (h *Handlers) HealthCheckHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"version":   "1.0.0",
	})
}

// SubmitTradeHandler books a trade ticket
func (h *Handlers) SubmitTradeHandler(c *gin.Context) {
	var req models.TradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		// tickets that never reach the desk still count as rejected
		rejected := errors.Wrap(errors.InvalidArgument(err.Error()), "Invalid trade data")
		h.recorder.RecordTradeRejected(errors.TypeOf(rejected).String())
		c.JSON(http.StatusBadRequest, models.TradeResult{
			Accepted: false,
			Reason:   rejected.Error(),
		})
		return
	}

	result, err := h.desk.SubmitTrade(c.Request.Context(), req)
	if err != nil {
		c.JSON(statusFor(err), result)
		return
	}

	c.JSON(http.StatusCreated, result)
}

// FlattenHandler empties the book
func (h *Handlers) FlattenHandler(c *gin.Context) {
	removed := h.desk.Flatten(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

// GetBookHandler lists the book marked at ?spot=
func (h *Handlers) GetBookHandler(c *gin.Context) {
	spot, ok := h.spotParam(c)
	if !ok {
		return
	}

	rows, err := h.desk.Book(spot)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"spot": spot, "positions": rows})
}

// GetRiskHandler returns the risk strip at ?spot=
func (h *Handlers) GetRiskHandler(c *gin.Context) {
	spot, ok := h.spotParam(c)
	if !ok {
		return
	}

	risk, err := h.desk.Risk(spot)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, risk)
}

// GetCurvesHandler returns the portfolio curves over the grid
func (h *Handlers) GetCurvesHandler(c *gin.Context) {
	c.JSON(http.StatusOK, h.desk.Curves())
}

// GetSnapshotHandler returns book, risk and curves in one response
func (h *Handlers) GetSnapshotHandler(c *gin.Context) {
	spot, ok := h.spotParam(c)
	if !ok {
		return
	}

	snapshot, err := h.desk.Snapshot(spot)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, snapshot)
}

// QuoteHandler values a contract without booking it
func (h *Handlers) QuoteHandler(c *gin.Context) {
	var req models.QuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("Invalid quote data: %v", err),
		})
		return
	}

	quote, err := h.desk.QuoteRequest(req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, quote)
}

// NotFoundHandler handles unknown routes
func (h *Handlers) NotFoundHandler(c *gin.Context) {
	h.respondError(c, errors.NotFound(fmt.Sprintf("Route %s %s not found", c.Request.Method, c.Request.URL.Path)))
}

// spotParam reads ?spot=, falling back to the default spot
func (h *Handlers) spotParam(c *gin.Context) (float64, bool) {
	raw := c.Query("spot")
	if raw == "" {
		return h.desk.Defaults().Spot, true
	}

	spot, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("spot must be a number, got %q", raw),
		})
		return 0, false
	}
	return spot, true
}

func (h *Handlers) respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Errorf("Request %s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(status, errorBody(err))
}

func errorBody(err error) gin.H {
	return gin.H{
		"error": err.Error(),
		"type":  errors.TypeOf(err).String(),
	}
}

func statusFor(err error) int {
	switch errors.TypeOf(err) {
	case errors.ErrorTypeInvalidArgument:
		return http.StatusBadRequest
	case errors.ErrorTypeDomain:
		return http.StatusUnprocessableEntity
	case errors.ErrorTypeNotFound:
		return http.StatusNotFound
	case errors.ErrorTypeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
