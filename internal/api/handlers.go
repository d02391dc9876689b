package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/trogers1052/portfolio-tracker/internal/alerts"
	"github.com/trogers1052/portfolio-tracker/internal/database"
	"github.com/trogers1052/portfolio-tracker/internal/market"
	"github.com/trogers1052/portfolio-tracker/internal/models"
	"github.com/trogers1052/portfolio-tracker/internal/portfolio"
	"github.com/trogers1052/portfolio-tracker/internal/risk"
	"go.uber.org/zap"
)

// PortfolioService defines the portfolio operations the handlers need
type PortfolioService interface {
	GetPortfolio(ctx context.Context, userID string) (*models.PortfolioView, error)
	GetRiskMetrics(ctx context.Context, userID string, opts portfolio.RiskOptions) (*models.RiskMetrics, error)
	ListPositions(ctx context.Context, userID string) ([]*models.Position, error)
	AddPosition(ctx context.Context, userID string, in portfolio.PositionInput) (*models.Position, error)
	UpdatePosition(ctx context.Context, userID string, id int, upd portfolio.PositionUpdate) (*models.Position, error)
	DeletePosition(ctx context.Context, userID string, id int) error
	ReplacePositions(ctx context.Context, userID string, inputs []portfolio.PositionInput) ([]*models.Position, error)
	GetQuote(ctx context.Context, assetType models.AssetType, symbol string) (models.Quote, error)
}

// AlertService defines the alert operations the handlers need
type AlertService interface {
	CreateAlert(ctx context.Context, userID string, positionID int, direction models.AlertDirection, threshold decimal.Decimal) (*models.PriceAlert, error)
	ListAlerts(ctx context.Context, userID string) ([]*models.PriceAlert, error)
	DeleteAlert(ctx context.Context, userID string, id int) error
	HandleTicks(ctx context.Context, ticks []models.PriceTick) ([]models.TriggeredAlert, error)
}

// Pinger is a backing service that can report liveness
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health lists the backing services reported by /health. Nil entries are
// reported as not configured.
type Health struct {
	Postgres     Pinger
	Redis        Pinger
	KafkaEnabled bool
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	portfolios PortfolioService
	alerts     AlertService
	health     Health
	validate   *validator.Validate
	logger     *zap.Logger
}

// NewHandler creates a new Handler
func NewHandler(portfolios PortfolioService, alertService AlertService, health Health, logger *zap.Logger) *Handler {
	return &Handler{
		portfolios: portfolios,
		alerts:     alertService,
		health:     health,
		validate:   newValidator(),
		logger:     logger,
	}
}

// newValidator lets numeric tags such as gt=0 apply to decimal fields
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	return v
}

// ---------------------------------------------------------------------------
// Request bodies
// ---------------------------------------------------------------------------

type positionRequest struct {
	Symbol        string           `json:"symbol" validate:"required,max=20"`
	AssetType     models.AssetType `json:"asset_type" validate:"required,oneof=CRYPTO STOCK"`
	Quantity      decimal.Decimal  `json:"quantity" validate:"gt=0"`
	PurchasePrice decimal.Decimal  `json:"purchase_price" validate:"gt=0"`
	PurchaseDate  *time.Time       `json:"purchase_date"`
	Notes         string           `json:"notes" validate:"max=500"`
}

func (req *positionRequest) normalize() {
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	req.AssetType = models.AssetType(strings.ToUpper(strings.TrimSpace(string(req.AssetType))))
}

func (req positionRequest) input() portfolio.PositionInput {
	in := portfolio.PositionInput{
		Symbol:        req.Symbol,
		AssetType:     req.AssetType,
		Quantity:      req.Quantity,
		PurchasePrice: req.PurchasePrice,
		Notes:         req.Notes,
	}
	if req.PurchaseDate != nil {
		in.PurchaseDate = *req.PurchaseDate
	}
	return in
}

type positionUpdateRequest struct {
	Quantity      *decimal.Decimal `json:"quantity" validate:"omitempty,gt=0"`
	PurchasePrice *decimal.Decimal `json:"purchase_price" validate:"omitempty,gt=0"`
	PurchaseDate  *time.Time       `json:"purchase_date"`
	Notes         *string          `json:"notes" validate:"omitempty,max=500"`
}

type replacePositionsRequest struct {
	Positions []positionRequest `json:"positions" validate:"dive"`
}

type alertRequest struct {
	PositionID     int                   `json:"position_id" validate:"required,gt=0"`
	Direction      models.AlertDirection `json:"direction" validate:"required,oneof=ABOVE BELOW"`
	ThresholdPrice decimal.Decimal       `json:"threshold_price" validate:"gt=0"`
}

type tickRequest struct {
	Symbol    string           `json:"symbol" validate:"required,max=20"`
	AssetType models.AssetType `json:"asset_type" validate:"omitempty,oneof=CRYPTO STOCK"`
	Price     decimal.Decimal  `json:"price" validate:"gt=0"`
	Timestamp *time.Time       `json:"timestamp"`
	Source    string           `json:"source"`
}

type ticksRequest struct {
	Ticks []tickRequest `json:"ticks" validate:"required,min=1,dive"`
}

// ---------------------------------------------------------------------------
// Portfolio
// ---------------------------------------------------------------------------

// GetPortfolio handles GET /users/{userID}/portfolio
func (h *Handler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	view, err := h.portfolios.GetPortfolio(r.Context(), mux.Vars(r)["userID"])
	if err != nil {
		h.respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, view)
}

// GetRiskMetrics handles GET /users/{userID}/portfolio/risk
func (h *Handler) GetRiskMetrics(w http.ResponseWriter, r *http.Request) {
	opts := portfolio.RiskOptions{Benchmark: r.URL.Query().Get("benchmark")}
	if days := r.URL.Query().Get("days"); days != "" {
		n, err := strconv.Atoi(days)
		if err != nil || n < 2 || n > 3650 {
			respondMessage(w, http.StatusBadRequest, "days must be an integer between 2 and 3650")
			return
		}
		opts.Days = n
	}

	metrics, err := h.portfolios.GetRiskMetrics(r.Context(), mux.Vars(r)["userID"], opts)
	if err != nil {
		h.respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, metrics)
}

// ---------------------------------------------------------------------------
// Positions
// ---------------------------------------------------------------------------

// ListPositions handles GET /users/{userID}/positions
func (h *Handler) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.portfolios.ListPositions(r.Context(), mux.Vars(r)["userID"])
	if err != nil {
		h.respondError(w, err)
		return
	}
	if positions == nil {
		positions = []*models.Position{}
	}

	respondJSON(w, http.StatusOK, positions)
}

// AddPosition handles POST /users/{userID}/positions
func (h *Handler) AddPosition(w http.ResponseWriter, r *http.Request) {
	var req positionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.normalize()
	if err := h.validate.Struct(req); err != nil {
		respondMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	position, err := h.portfolios.AddPosition(r.Context(), mux.Vars(r)["userID"], req.input())
	if err != nil {
		h.respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, position)
}

// ReplacePositions handles PUT /users/{userID}/positions
func (h *Handler) ReplacePositions(w http.ResponseWriter, r *http.Request) {
	var req replacePositionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	inputs := make([]portfolio.PositionInput, 0, len(req.Positions))
	for i := range req.Positions {
		req.Positions[i].normalize()
		inputs = append(inputs, req.Positions[i].input())
	}
	if err := h.validate.Struct(req); err != nil {
		respondMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	positions, err := h.portfolios.ReplacePositions(r.Context(), mux.Vars(r)["userID"], inputs)
	if err != nil {
		h.respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, positions)
}

// UpdatePosition handles PUT /users/{userID}/positions/{id}
func (h *Handler) UpdatePosition(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req positionUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	position, err := h.portfolios.UpdatePosition(r.Context(), mux.Vars(r)["userID"], id, portfolio.PositionUpdate{
		Quantity:      req.Quantity,
		PurchasePrice: req.PurchasePrice,
		PurchaseDate:  req.PurchaseDate,
		Notes:         req.Notes,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, position)
}

// DeletePosition handles DELETE /users/{userID}/positions/{id}
func (h *Handler) DeletePosition(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.portfolios.DeletePosition(r.Context(), mux.Vars(r)["userID"], id); err != nil {
		h.respondError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Alerts
// ---------------------------------------------------------------------------

// ListAlerts handles GET /users/{userID}/alerts
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	list, err := h.alerts.ListAlerts(r.Context(), mux.Vars(r)["userID"])
	if err != nil {
		h.respondError(w, err)
		return
	}
	if list == nil {
		list = []*models.PriceAlert{}
	}

	respondJSON(w, http.StatusOK, list)
}

// CreateAlert handles POST /users/{userID}/alerts
func (h *Handler) CreateAlert(w http.ResponseWriter, r *http.Request) {
	var req alertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Direction = models.AlertDirection(strings.ToUpper(strings.TrimSpace(string(req.Direction))))
	if err := h.validate.Struct(req); err != nil {
		respondMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	alert, err := h.alerts.CreateAlert(r.Context(), mux.Vars(r)["userID"], req.PositionID, req.Direction, req.ThresholdPrice)
	if err != nil {
		h.respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, alert)
}

// DeleteAlert handles DELETE /users/{userID}/alerts/{id}
func (h *Handler) DeleteAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.alerts.DeleteAlert(r.Context(), mux.Vars(r)["userID"], id); err != nil {
		h.respondError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// IngestTicks handles POST /ticks. Ticks are evaluated against armed alerts
// and the alerts that fired are returned.
func (h *Handler) IngestTicks(w http.ResponseWriter, r *http.Request) {
	var req ticksRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	for i := range req.Ticks {
		req.Ticks[i].AssetType = models.AssetType(strings.ToUpper(strings.TrimSpace(string(req.Ticks[i].AssetType))))
	}
	if err := h.validate.Struct(req); err != nil {
		respondMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now().UTC()
	ticks := make([]models.PriceTick, 0, len(req.Ticks))
	for _, t := range req.Ticks {
		tick := models.PriceTick{
			Symbol:    strings.ToUpper(strings.TrimSpace(t.Symbol)),
			AssetType: t.AssetType,
			Price:     t.Price,
			Timestamp: now,
			Source:    t.Source,
		}
		if t.Timestamp != nil {
			tick.Timestamp = *t.Timestamp
		}
		if tick.Source == "" {
			tick.Source = "api"
		}
		ticks = append(ticks, tick)
	}

	triggered, err := h.alerts.HandleTicks(r.Context(), ticks)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if triggered == nil {
		triggered = []models.TriggeredAlert{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"processed": len(ticks),
		"triggered": triggered,
	})
}

// ---------------------------------------------------------------------------
// Quotes
// ---------------------------------------------------------------------------

// GetQuote handles GET /quotes/{assetType}/{symbol}
func (h *Handler) GetQuote(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	assetType := models.AssetType(strings.ToUpper(vars["assetType"]))

	q, err := h.portfolios.GetQuote(r.Context(), assetType, vars["symbol"])
	if err != nil {
		h.respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, q)
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"services":  map[string]string{},
	}
	services := health["services"].(map[string]string)
	allHealthy := true

	// Postgres is required
	if h.health.Postgres != nil {
		if err := h.health.Postgres.Ping(ctx); err != nil {
			services["postgres"] = "unhealthy: " + err.Error()
			allHealthy = false
		} else {
			services["postgres"] = "healthy"
		}
	} else {
		services["postgres"] = "not configured"
		allHealthy = false
	}

	// Redis is optional; quotes fall back to the in-memory cache
	if h.health.Redis != nil {
		if err := h.health.Redis.Ping(ctx); err != nil {
			services["redis"] = "unhealthy: " + err.Error()
		} else {
			services["redis"] = "healthy"
		}
	} else {
		services["redis"] = "not configured"
	}

	if h.health.KafkaEnabled {
		services["kafka"] = "configured"
	} else {
		services["kafka"] = "not configured"
	}

	if !allHealthy {
		health["status"] = "degraded"
	}

	respondJSON(w, http.StatusOK, health)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func pathID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil || id <= 0 {
		respondMessage(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

// respondError maps domain errors onto HTTP statuses
func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		respondMessage(w, http.StatusNotFound, err.Error())
	case errors.Is(err, portfolio.ErrInvalidPosition), errors.Is(err, alerts.ErrInvalidAlert):
		respondMessage(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, risk.ErrInsufficientData):
		respondMessage(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, market.ErrUnsupportedSymbol):
		respondMessage(w, http.StatusNotFound, err.Error())
	default:
		var statusErr *market.StatusError
		if errors.As(err, &statusErr) {
			h.logger.Warn("Market data provider error", zap.Error(err))
			respondMessage(w, http.StatusBadGateway, "market data unavailable")
			return
		}
		h.logger.Error("Request failed", zap.Error(err))
		respondMessage(w, http.StatusInternalServerError, "internal error")
	}
}

func respondMessage(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
