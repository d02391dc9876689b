package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trogers1052/portfolio-tracker/internal/alerts"
	"github.com/trogers1052/portfolio-tracker/internal/database"
	"github.com/trogers1052/portfolio-tracker/internal/market"
	"github.com/trogers1052/portfolio-tracker/internal/models"
	"github.com/trogers1052/portfolio-tracker/internal/portfolio"
	"github.com/trogers1052/portfolio-tracker/internal/risk"
	"go.uber.org/zap"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakePortfolios struct {
	view      *models.PortfolioView
	metrics   *models.RiskMetrics
	positions []*models.Position
	quote     models.Quote
	err       error

	gotUser     string
	gotRisk     portfolio.RiskOptions
	gotInput    portfolio.PositionInput
	gotUpdate   portfolio.PositionUpdate
	gotReplace  []portfolio.PositionInput
	gotID       int
	gotSymbol   string
	gotAssetTyp models.AssetType
}

func (f *fakePortfolios) GetPortfolio(ctx context.Context, userID string) (*models.PortfolioView, error) {
	f.gotUser = userID
	return f.view, f.err
}

func (f *fakePortfolios) GetRiskMetrics(ctx context.Context, userID string, opts portfolio.RiskOptions) (*models.RiskMetrics, error) {
	f.gotUser = userID
	f.gotRisk = opts
	return f.metrics, f.err
}

func (f *fakePortfolios) ListPositions(ctx context.Context, userID string) ([]*models.Position, error) {
	f.gotUser = userID
	return f.positions, f.err
}

func (f *fakePortfolios) AddPosition(ctx context.Context, userID string, in portfolio.PositionInput) (*models.Position, error) {
	f.gotUser = userID
	f.gotInput = in
	if f.err != nil {
		return nil, f.err
	}
	return &models.Position{ID: 7, Symbol: in.Symbol, AssetType: in.AssetType, Quantity: in.Quantity, PurchasePrice: in.PurchasePrice}, nil
}

func (f *fakePortfolios) UpdatePosition(ctx context.Context, userID string, id int, upd portfolio.PositionUpdate) (*models.Position, error) {
	f.gotUser = userID
	f.gotID = id
	f.gotUpdate = upd
	if f.err != nil {
		return nil, f.err
	}
	return &models.Position{ID: id}, nil
}

func (f *fakePortfolios) DeletePosition(ctx context.Context, userID string, id int) error {
	f.gotUser = userID
	f.gotID = id
	return f.err
}

func (f *fakePortfolios) ReplacePositions(ctx context.Context, userID string, inputs []portfolio.PositionInput) ([]*models.Position, error) {
	f.gotUser = userID
	f.gotReplace = inputs
	if f.err != nil {
		return nil, f.err
	}
	out := make([]*models.Position, 0, len(inputs))
	for _, in := range inputs {
		out = append(out, &models.Position{Symbol: in.Symbol})
	}
	return out, nil
}

func (f *fakePortfolios) GetQuote(ctx context.Context, assetType models.AssetType, symbol string) (models.Quote, error) {
	f.gotAssetTyp = assetType
	f.gotSymbol = symbol
	return f.quote, f.err
}

type fakeAlerts struct {
	list      []*models.PriceAlert
	triggered []models.TriggeredAlert
	err       error

	gotDirection models.AlertDirection
	gotThreshold decimal.Decimal
	gotTicks     []models.PriceTick
}

func (f *fakeAlerts) CreateAlert(ctx context.Context, userID string, positionID int, direction models.AlertDirection, threshold decimal.Decimal) (*models.PriceAlert, error) {
	f.gotDirection = direction
	f.gotThreshold = threshold
	if f.err != nil {
		return nil, f.err
	}
	return &models.PriceAlert{ID: 1, PositionID: positionID, UserID: userID, Direction: direction, ThresholdPrice: threshold, Active: true}, nil
}

func (f *fakeAlerts) ListAlerts(ctx context.Context, userID string) ([]*models.PriceAlert, error) {
	return f.list, f.err
}

func (f *fakeAlerts) DeleteAlert(ctx context.Context, userID string, id int) error {
	return f.err
}

func (f *fakeAlerts) HandleTicks(ctx context.Context, ticks []models.PriceTick) ([]models.TriggeredAlert, error) {
	f.gotTicks = ticks
	return f.triggered, f.err
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(ctx context.Context) error { return p.err }

func newTestServer(p *fakePortfolios, a *fakeAlerts, health Health) http.Handler {
	return SetupRoutes(NewHandler(p, a, health, zap.NewNop()), nil)
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// ---------------------------------------------------------------------------
// Portfolio
// ---------------------------------------------------------------------------

func TestGetPortfolio(t *testing.T) {
	p := &fakePortfolios{view: &models.PortfolioView{PortfolioID: 3, UserID: "u1"}}
	rec := do(t, newTestServer(p, &fakeAlerts{}, Health{}), "GET", "/api/v1/users/u1/portfolio", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1", p.gotUser)
	var view models.PortfolioView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, 3, view.PortfolioID)
}

func TestGetRiskMetrics_QueryOptions(t *testing.T) {
	p := &fakePortfolios{metrics: &models.RiskMetrics{SampleSize: 29, RiskLevel: "LOW"}}
	rec := do(t, newTestServer(p, &fakeAlerts{}, Health{}), "GET", "/api/v1/users/u1/portfolio/risk?days=30&benchmark=none", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, portfolio.RiskOptions{Days: 30, Benchmark: "none"}, p.gotRisk)
}

func TestGetRiskMetrics_InvalidDays(t *testing.T) {
	for _, days := range []string{"abc", "1", "0", "99999"} {
		rec := do(t, newTestServer(&fakePortfolios{}, &fakeAlerts{}, Health{}), "GET", "/api/v1/users/u1/portfolio/risk?days="+days, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, "days=%s", days)
	}
}

func TestGetRiskMetrics_InsufficientData(t *testing.T) {
	p := &fakePortfolios{err: fmt.Errorf("risk: %w", risk.ErrInsufficientData)}
	rec := do(t, newTestServer(p, &fakeAlerts{}, Health{}), "GET", "/api/v1/users/u1/portfolio/risk", "")

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

// ---------------------------------------------------------------------------
// Positions
// ---------------------------------------------------------------------------

func TestListPositions_EmptyIsArray(t *testing.T) {
	rec := do(t, newTestServer(&fakePortfolios{}, &fakeAlerts{}, Health{}), "GET", "/api/v1/users/u1/positions", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestAddPosition(t *testing.T) {
	p := &fakePortfolios{}
	body := `{"symbol":" aapl ","asset_type":"stock","quantity":"10","purchase_price":"150.25"}`
	rec := do(t, newTestServer(p, &fakeAlerts{}, Health{}), "POST", "/api/v1/users/u1/positions", body)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "AAPL", p.gotInput.Symbol)
	assert.Equal(t, models.AssetStock, p.gotInput.AssetType)
	assert.True(t, p.gotInput.PurchasePrice.Equal(decimal.RequireFromString("150.25")))
	assert.True(t, p.gotInput.PurchaseDate.IsZero())
}

func TestAddPosition_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"symbol":`},
		{"missing symbol", `{"asset_type":"STOCK","quantity":"1","purchase_price":"1"}`},
		{"unknown asset type", `{"symbol":"X","asset_type":"BOND","quantity":"1","purchase_price":"1"}`},
		{"zero quantity", `{"symbol":"X","asset_type":"STOCK","quantity":"0","purchase_price":"1"}`},
		{"negative price", `{"symbol":"X","asset_type":"STOCK","quantity":"1","purchase_price":"-5"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakePortfolios{}
			rec := do(t, newTestServer(p, &fakeAlerts{}, Health{}), "POST", "/api/v1/users/u1/positions", tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, p.gotUser, "service must not be called")
		})
	}
}

func TestAddPosition_ServiceRejects(t *testing.T) {
	p := &fakePortfolios{err: fmt.Errorf("%w: purchase date is in the future", portfolio.ErrInvalidPosition)}
	body := `{"symbol":"BTC","asset_type":"CRYPTO","quantity":"0.5","purchase_price":"30000","purchase_date":"2999-01-01T00:00:00Z"}`
	rec := do(t, newTestServer(p, &fakeAlerts{}, Health{}), "POST", "/api/v1/users/u1/positions", body)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "future")
}

func TestUpdatePosition_PartialFields(t *testing.T) {
	p := &fakePortfolios{}
	rec := do(t, newTestServer(p, &fakeAlerts{}, Health{}), "PUT", "/api/v1/users/u1/positions/12", `{"quantity":"3"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 12, p.gotID)
	require.NotNil(t, p.gotUpdate.Quantity)
	assert.True(t, p.gotUpdate.Quantity.Equal(decimal.NewFromInt(3)))
	assert.Nil(t, p.gotUpdate.PurchasePrice)
	assert.Nil(t, p.gotUpdate.Notes)
}

func TestUpdatePosition_NotFound(t *testing.T) {
	p := &fakePortfolios{err: database.ErrNotFound}
	rec := do(t, newTestServer(p, &fakeAlerts{}, Health{}), "PUT", "/api/v1/users/u1/positions/12", `{"notes":"x"}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeletePosition(t *testing.T) {
	p := &fakePortfolios{}
	h := newTestServer(p, &fakeAlerts{}, Health{})

	rec := do(t, h, "DELETE", "/api/v1/users/u1/positions/5", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 5, p.gotID)

	rec = do(t, h, "DELETE", "/api/v1/users/u1/positions/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReplacePositions(t *testing.T) {
	p := &fakePortfolios{}
	body := `{"positions":[{"symbol":"eth","asset_type":"crypto","quantity":"2","purchase_price":"1800"},{"symbol":"MSFT","asset_type":"STOCK","quantity":"1","purchase_price":"300"}]}`
	rec := do(t, newTestServer(p, &fakeAlerts{}, Health{}), "PUT", "/api/v1/users/u1/positions", body)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, p.gotReplace, 2)
	assert.Equal(t, "ETH", p.gotReplace[0].Symbol)
	assert.Equal(t, models.AssetCrypto, p.gotReplace[0].AssetType)
}

func TestReplacePositions_InvalidEntryRejectsAll(t *testing.T) {
	p := &fakePortfolios{}
	body := `{"positions":[{"symbol":"ETH","asset_type":"CRYPTO","quantity":"2","purchase_price":"1800"},{"symbol":"MSFT","asset_type":"STOCK","quantity":"0","purchase_price":"300"}]}`
	rec := do(t, newTestServer(p, &fakeAlerts{}, Health{}), "PUT", "/api/v1/users/u1/positions", body)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, p.gotReplace)
}

// ---------------------------------------------------------------------------
// Alerts
// ---------------------------------------------------------------------------

func TestCreateAlert(t *testing.T) {
	a := &fakeAlerts{}
	rec := do(t, newTestServer(&fakePortfolios{}, a, Health{}), "POST", "/api/v1/users/u1/alerts",
		`{"position_id":4,"direction":"below","threshold_price":"95.5"}`)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, models.DirectionBelow, a.gotDirection)
	assert.True(t, a.gotThreshold.Equal(decimal.RequireFromString("95.5")))
}

func TestCreateAlert_Validation(t *testing.T) {
	for _, body := range []string{
		`{"position_id":4,"direction":"SIDEWAYS","threshold_price":"1"}`,
		`{"position_id":4,"direction":"ABOVE","threshold_price":"0"}`,
		`{"direction":"ABOVE","threshold_price":"1"}`,
	} {
		rec := do(t, newTestServer(&fakePortfolios{}, &fakeAlerts{}, Health{}), "POST", "/api/v1/users/u1/alerts", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestCreateAlert_ForeignPosition(t *testing.T) {
	a := &fakeAlerts{err: fmt.Errorf("position 4: %w", database.ErrNotFound)}
	rec := do(t, newTestServer(&fakePortfolios{}, a, Health{}), "POST", "/api/v1/users/u1/alerts",
		`{"position_id":4,"direction":"ABOVE","threshold_price":"1"}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateAlert_ServiceRejects(t *testing.T) {
	a := &fakeAlerts{err: fmt.Errorf("%w: bad", alerts.ErrInvalidAlert)}
	rec := do(t, newTestServer(&fakePortfolios{}, a, Health{}), "POST", "/api/v1/users/u1/alerts",
		`{"position_id":4,"direction":"ABOVE","threshold_price":"1"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListAlerts_EmptyIsArray(t *testing.T) {
	rec := do(t, newTestServer(&fakePortfolios{}, &fakeAlerts{}, Health{}), "GET", "/api/v1/users/u1/alerts", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestIngestTicks(t *testing.T) {
	a := &fakeAlerts{triggered: []models.TriggeredAlert{{AlertID: 1, Symbol: "AAPL"}}}
	rec := do(t, newTestServer(&fakePortfolios{}, a, Health{}), "POST", "/api/v1/ticks",
		`{"ticks":[{"symbol":"aapl","price":"201.5"}]}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, a.gotTicks, 1)
	assert.Equal(t, "AAPL", a.gotTicks[0].Symbol)
	assert.Equal(t, "api", a.gotTicks[0].Source)
	assert.False(t, a.gotTicks[0].Timestamp.IsZero())

	var resp struct {
		Processed int                     `json:"processed"`
		Triggered []models.TriggeredAlert `json:"triggered"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Processed)
	assert.Len(t, resp.Triggered, 1)
}

func TestIngestTicks_AssetType(t *testing.T) {
	a := &fakeAlerts{}
	rec := do(t, newTestServer(&fakePortfolios{}, a, Health{}), "POST", "/api/v1/ticks",
		`{"ticks":[{"symbol":"sol","asset_type":"stock","price":"2"},{"symbol":"BTC","price":"60000"}]}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, a.gotTicks, 2)
	assert.Equal(t, models.AssetStock, a.gotTicks[0].AssetType)
	assert.Empty(t, a.gotTicks[1].AssetType)
}

func TestIngestTicks_RejectsEmptyAndNonPositive(t *testing.T) {
	for _, body := range []string{
		`{"ticks":[]}`,
		`{"ticks":[{"symbol":"AAPL","price":"0"}]}`,
		`{"ticks":[{"symbol":"AAPL","asset_type":"BOND","price":"1"}]}`,
	} {
		a := &fakeAlerts{}
		rec := do(t, newTestServer(&fakePortfolios{}, a, Health{}), "POST", "/api/v1/ticks", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Nil(t, a.gotTicks)
	}
}

// ---------------------------------------------------------------------------
// Quotes
// ---------------------------------------------------------------------------

func TestGetQuote(t *testing.T) {
	p := &fakePortfolios{quote: models.Quote{Symbol: "BTC", AssetType: models.AssetCrypto, Available: true}}
	rec := do(t, newTestServer(p, &fakeAlerts{}, Health{}), "GET", "/api/v1/quotes/crypto/btc", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.AssetCrypto, p.gotAssetTyp)
	assert.Equal(t, "btc", p.gotSymbol)
}

func TestGetQuote_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unsupported symbol", fmt.Errorf("coingecko: %w", market.ErrUnsupportedSymbol), http.StatusNotFound},
		{"provider failure", &market.StatusError{Provider: "yahoo", StatusCode: 503}, http.StatusBadGateway},
		{"bad asset type", fmt.Errorf("%w: asset type", portfolio.ErrInvalidPosition), http.StatusBadRequest},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakePortfolios{err: tt.err}
			rec := do(t, newTestServer(p, &fakeAlerts{}, Health{}), "GET", "/api/v1/quotes/STOCK/XYZ", "")
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

// ---------------------------------------------------------------------------
// Health and metrics
// ---------------------------------------------------------------------------

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		name       string
		health     Health
		wantStatus string
		services   map[string]string
	}{
		{
			name:       "all healthy",
			health:     Health{Postgres: fakePinger{}, Redis: fakePinger{}, KafkaEnabled: true},
			wantStatus: "healthy",
			services:   map[string]string{"postgres": "healthy", "redis": "healthy", "kafka": "configured"},
		},
		{
			name:       "redis down is not degraded",
			health:     Health{Postgres: fakePinger{}, Redis: fakePinger{err: errors.New("refused")}},
			wantStatus: "healthy",
			services:   map[string]string{"postgres": "healthy", "redis": "unhealthy: refused", "kafka": "not configured"},
		},
		{
			name:       "postgres down",
			health:     Health{Postgres: fakePinger{err: errors.New("timeout")}},
			wantStatus: "degraded",
			services:   map[string]string{"postgres": "unhealthy: timeout", "redis": "not configured", "kafka": "not configured"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, newTestServer(&fakePortfolios{}, &fakeAlerts{}, tt.health), "GET", "/health", "")
			require.Equal(t, http.StatusOK, rec.Code)

			var body struct {
				Status   string            `json:"status"`
				Services map[string]string `json:"services"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantStatus, body.Status)
			assert.Equal(t, tt.services, body.Services)
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(&fakePortfolios{}, &fakeAlerts{}, Health{})
	do(t, h, "GET", "/api/v1/users/u1/positions", "")

	rec := do(t, h, "GET", "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `portfolio_http_request_duration_seconds_count{method="GET",route="/api/v1/users/{userID}/positions",status="200"}`)
}

func TestMetricsEndpoint_UnmatchedRouteLabel(t *testing.T) {
	h := newTestServer(&fakePortfolios{}, &fakeAlerts{}, Health{})
	rec := do(t, h, "GET", "/api/v1/no-such-path-7f3a", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, "GET", "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `method="GET",route="unmatched",status="404"`)
	assert.NotContains(t, body, "no-such-path-7f3a")
}
