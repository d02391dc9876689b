// Package portfolio loads a user's holdings, prices them and derives the
// portfolio valuation and risk profile.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/trogers1052/portfolio-tracker/internal/metrics"
	"github.com/trogers1052/portfolio-tracker/internal/models"
	"github.com/trogers1052/portfolio-tracker/internal/quote"
	"github.com/trogers1052/portfolio-tracker/internal/valuation"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidPosition is returned when position input breaks a holding invariant
var ErrInvalidPosition = errors.New("invalid position")

// Store defines the persistence operations the service needs
type Store interface {
	GetOrCreatePortfolio(ctx context.Context, userID string) (*models.Portfolio, error)
	GetPositionsByPortfolio(ctx context.Context, portfolioID int) ([]*models.Position, error)
	GetPositionForUser(ctx context.Context, userID string, positionID int) (*models.Position, error)
	CreatePosition(ctx context.Context, p *models.Position) error
	UpdatePosition(ctx context.Context, userID string, p *models.Position) error
	DeletePosition(ctx context.Context, userID string, id int) error
	ReplacePortfolioPositions(ctx context.Context, portfolioID int, positions []*models.Position) ([]int64, error)
}

// MarketData supplies raw quotes and price history
type MarketData interface {
	FetchQuote(ctx context.Context, assetType models.AssetType, symbol string) (quote.Source, []byte, error)
	FetchDailyCloses(ctx context.Context, assetType models.AssetType, symbol string, days int) ([]models.DailyClose, error)
}

// QuoteCache keeps the last good quote per symbol
type QuoteCache interface {
	SetQuote(ctx context.Context, q models.Quote, ttl time.Duration) error
	GetQuote(ctx context.Context, assetType models.AssetType, symbol string) (models.Quote, bool, error)
}

// Config tunes pricing and risk defaults
type Config struct {
	RiskFreeRate     float64
	Benchmark        string
	HistoryDays      int
	QuoteTTL         time.Duration
	FetchConcurrency int
}

// Service prices portfolios. It holds no per-user state.
type Service struct {
	store  Store
	market MarketData
	quotes QuoteCache
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a portfolio Service. quotes may be nil.
func NewService(store Store, market MarketData, quotes QuoteCache, cfg Config, logger *zap.Logger) *Service {
	if cfg.HistoryDays <= 0 {
		cfg.HistoryDays = 90
	}
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = 8
	}
	return &Service{
		store:  store,
		market: market,
		quotes: quotes,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// GetPortfolio values every position of the user's portfolio against live quotes
func (s *Service) GetPortfolio(ctx context.Context, userID string) (*models.PortfolioView, error) {
	pf, positions, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	quotes := s.fetchQuotes(ctx, positions)
	posMetrics := valuation.ValueAll(positions, quotes)
	summary, allocation := valuation.Aggregate(posMetrics)
	metrics.Valuations.Inc()

	return &models.PortfolioView{
		PortfolioID: pf.ID,
		UserID:      pf.UserID,
		Positions:   posMetrics,
		Summary:     summary,
		Allocation:  allocation,
		QuotedAt:    s.now(),
	}, nil
}

// ListPositions returns the user's raw holdings
func (s *Service) ListPositions(ctx context.Context, userID string) ([]*models.Position, error) {
	_, positions, err := s.load(ctx, userID)
	return positions, err
}

func (s *Service) load(ctx context.Context, userID string) (*models.Portfolio, []*models.Position, error) {
	pf, err := s.store.GetOrCreatePortfolio(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	positions, err := s.store.GetPositionsByPortfolio(ctx, pf.ID)
	if err != nil {
		return nil, nil, err
	}
	pf.Positions = positions
	return pf, positions, nil
}

// fetchQuotes prices every distinct instrument once. Failures leave the
// instrument out of the map, which the valuer treats as unavailable.
func (s *Service) fetchQuotes(ctx context.Context, positions []*models.Position) map[string]models.Quote {
	refs := distinctRefs(positions)

	var mu sync.Mutex
	quotes := make(map[string]models.Quote, len(refs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.FetchConcurrency)
	for _, ref := range refs {
		g.Go(func() error {
			q := s.quoteFor(gctx, ref.AssetType, ref.Symbol)
			mu.Lock()
			quotes[valuation.QuoteKey(ref.AssetType, ref.Symbol)] = q
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return quotes
}

// GetQuote returns the normalized quote for one instrument. When the provider
// fails the last cached quote is used; with neither, the error is returned.
func (s *Service) GetQuote(ctx context.Context, assetType models.AssetType, symbol string) (models.Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if !assetType.Valid() || symbol == "" {
		return models.Quote{}, fmt.Errorf("%w: asset type %q symbol %q", ErrInvalidPosition, assetType, symbol)
	}

	q, err := s.fetchQuote(ctx, assetType, symbol)
	if err == nil && q.HasPrice() {
		return q, nil
	}
	if cached, ok := s.lastQuote(ctx, assetType, symbol); ok {
		return cached, nil
	}
	if err != nil {
		return models.Quote{}, err
	}
	return q, nil
}

// quoteFor never fails; it degrades to the last cached quote, then to the
// unavailable sentinel
func (s *Service) quoteFor(ctx context.Context, assetType models.AssetType, symbol string) models.Quote {
	q, err := s.fetchQuote(ctx, assetType, symbol)
	if err == nil && q.HasPrice() {
		return q
	}
	if err != nil {
		s.logger.Warn("Quote fetch failed",
			zap.String("symbol", symbol),
			zap.String("asset_type", string(assetType)),
			zap.Error(err))
	}
	if cached, ok := s.lastQuote(ctx, assetType, symbol); ok {
		return cached
	}
	if err != nil {
		return models.UnavailableQuote(symbol, assetType, s.now())
	}
	return q
}

func (s *Service) fetchQuote(ctx context.Context, assetType models.AssetType, symbol string) (models.Quote, error) {
	source, raw, err := s.market.FetchQuote(ctx, assetType, symbol)
	if err != nil {
		return models.Quote{}, err
	}

	q := quote.Normalize(source, symbol, assetType, raw, s.now())
	status := "available"
	if !q.Available {
		status = "unavailable"
	}
	metrics.QuotesNormalized.WithLabelValues(string(source), status).Inc()

	if q.HasPrice() && s.quotes != nil {
		if err := s.quotes.SetQuote(ctx, q, s.cfg.QuoteTTL); err != nil {
			s.logger.Debug("Failed to cache quote", zap.String("symbol", symbol), zap.Error(err))
		}
	}
	return q, nil
}

func (s *Service) lastQuote(ctx context.Context, assetType models.AssetType, symbol string) (models.Quote, bool) {
	if s.quotes == nil {
		return models.Quote{}, false
	}
	q, ok, err := s.quotes.GetQuote(ctx, assetType, symbol)
	if err != nil {
		s.logger.Debug("Failed to read cached quote", zap.String("symbol", symbol), zap.Error(err))
		return models.Quote{}, false
	}
	return q, ok
}

func distinctRefs(positions []*models.Position) []models.SymbolRef {
	seen := make(map[string]bool)
	refs := make([]models.SymbolRef, 0, len(positions))
	for _, p := range positions {
		k := valuation.QuoteKey(p.AssetType, p.Symbol)
		if seen[k] {
			continue
		}
		seen[k] = true
		refs = append(refs, models.SymbolRef{Symbol: p.Symbol, AssetType: p.AssetType})
	}
	return refs
}

// ---------------------------------------------------------------------------
// Position management
// ---------------------------------------------------------------------------

// PositionInput is a new holding as submitted by a client
type PositionInput struct {
	Symbol        string
	AssetType     models.AssetType
	Quantity      decimal.Decimal
	PurchasePrice decimal.Decimal
	PurchaseDate  time.Time
	Notes         string
}

// PositionUpdate carries the mutable fields of a holding; nil leaves a field unchanged
type PositionUpdate struct {
	Quantity      *decimal.Decimal
	PurchasePrice *decimal.Decimal
	PurchaseDate  *time.Time
	Notes         *string
}

func (s *Service) validate(p *models.Position) error {
	switch {
	case p.Symbol == "":
		return fmt.Errorf("%w: symbol is required", ErrInvalidPosition)
	case !p.AssetType.Valid():
		return fmt.Errorf("%w: unknown asset type %q", ErrInvalidPosition, p.AssetType)
	case !p.Quantity.IsPositive():
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidPosition)
	case !p.PurchasePrice.IsPositive():
		return fmt.Errorf("%w: purchase price must be positive", ErrInvalidPosition)
	case p.PurchaseDate.After(s.now()):
		return fmt.Errorf("%w: purchase date is in the future", ErrInvalidPosition)
	}
	return nil
}

func (s *Service) newPosition(in PositionInput) (*models.Position, error) {
	p := &models.Position{
		Symbol:        strings.ToUpper(strings.TrimSpace(in.Symbol)),
		AssetType:     models.AssetType(strings.ToUpper(string(in.AssetType))),
		Quantity:      in.Quantity,
		PurchasePrice: in.PurchasePrice,
		PurchaseDate:  in.PurchaseDate,
		Notes:         strings.TrimSpace(in.Notes),
	}
	if p.PurchaseDate.IsZero() {
		p.PurchaseDate = s.now()
	}
	if err := s.validate(p); err != nil {
		return nil, err
	}
	return p, nil
}

// AddPosition records a new holding in the user's portfolio
func (s *Service) AddPosition(ctx context.Context, userID string, in PositionInput) (*models.Position, error) {
	p, err := s.newPosition(in)
	if err != nil {
		return nil, err
	}

	pf, err := s.store.GetOrCreatePortfolio(ctx, userID)
	if err != nil {
		return nil, err
	}
	p.PortfolioID = pf.ID

	if err := s.store.CreatePosition(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info("Position added",
		zap.String("user_id", userID),
		zap.Int("position_id", p.ID),
		zap.String("symbol", p.Symbol))
	return p, nil
}

// UpdatePosition changes quantity, purchase price, date or notes of a holding
func (s *Service) UpdatePosition(ctx context.Context, userID string, id int, upd PositionUpdate) (*models.Position, error) {
	p, err := s.store.GetPositionForUser(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	if upd.Quantity != nil {
		p.Quantity = *upd.Quantity
	}
	if upd.PurchasePrice != nil {
		p.PurchasePrice = *upd.PurchasePrice
	}
	if upd.PurchaseDate != nil {
		p.PurchaseDate = *upd.PurchaseDate
	}
	if upd.Notes != nil {
		p.Notes = strings.TrimSpace(*upd.Notes)
	}
	if err := s.validate(p); err != nil {
		return nil, err
	}

	if err := s.store.UpdatePosition(ctx, userID, p); err != nil {
		return nil, err
	}
	return p, nil
}

// DeletePosition removes a holding and its alerts
func (s *Service) DeletePosition(ctx context.Context, userID string, id int) error {
	return s.store.DeletePosition(ctx, userID, id)
}

// ReplacePositions reconciles the user's holdings with a snapshot. Holdings
// still present keep their id and alerts; the snapshot is rejected as a whole
// if any holding is invalid.
func (s *Service) ReplacePositions(ctx context.Context, userID string, inputs []PositionInput) ([]*models.Position, error) {
	positions := make([]*models.Position, 0, len(inputs))
	for i, in := range inputs {
		p, err := s.newPosition(in)
		if err != nil {
			return nil, fmt.Errorf("position %d: %w", i, err)
		}
		positions = append(positions, p)
	}

	pf, err := s.store.GetOrCreatePortfolio(ctx, userID)
	if err != nil {
		return nil, err
	}
	removed, err := s.store.ReplacePortfolioPositions(ctx, pf.ID, positions)
	if err != nil {
		return nil, err
	}
	if len(removed) > 0 {
		s.logger.Info("Positions removed by snapshot, their alerts were deleted",
			zap.String("user_id", userID),
			zap.Int64s("position_ids", removed))
	}
	return positions, nil
}
