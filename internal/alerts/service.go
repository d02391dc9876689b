package alerts

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
	"github.com/trogers1052/portfolio-tracker/internal/notify"
	"go.uber.org/zap"
)

// ErrInvalidAlert is returned for a non-positive threshold or unknown direction
var ErrInvalidAlert = errors.New("invalid alert")

// Store defines the alert persistence operations the service needs
type Store interface {
	CreateAlert(ctx context.Context, a *models.PriceAlert) error
	ListAlertsByUser(ctx context.Context, userID string) ([]*models.PriceAlert, error)
	DeleteAlert(ctx context.Context, userID string, id int) error
	// GetArmedAlerts returns active alerts for a symbol; an empty assetType
	// matches every asset type.
	GetArmedAlerts(ctx context.Context, symbol string, assetType models.AssetType) ([]*models.PriceAlert, error)
	GetArmedSymbols(ctx context.Context) ([]models.SymbolRef, error)
	// DeactivateAlert flips an active alert to inactive and reports whether
	// this call performed the transition.
	DeactivateAlert(ctx context.Context, id int, triggeredAt time.Time) (bool, error)
}

// PositionLookup resolves a user's position for alert creation
type PositionLookup interface {
	GetPositionForUser(ctx context.Context, userID string, positionID int) (*models.Position, error)
}

// Service evaluates price ticks against stored alerts. Ticks for one symbol
// are serialized; different symbols proceed in parallel.
type Service struct {
	store     Store
	positions PositionLookup
	notifier  notify.Notifier
	logger    *zap.Logger

	locks sync.Map // symbol -> *sync.Mutex
}

// NewService creates a new alert Service
func NewService(store Store, positions PositionLookup, notifier notify.Notifier, logger *zap.Logger) *Service {
	return &Service{
		store:     store,
		positions: positions,
		notifier:  notifier,
		logger:    logger,
	}
}

// CreateAlert arms a new alert on one of the user's positions
func (s *Service) CreateAlert(ctx context.Context, userID string, positionID int, direction models.AlertDirection, threshold decimal.Decimal) (*models.PriceAlert, error) {
	if !threshold.IsPositive() {
		return nil, fmt.Errorf("%w: threshold must be positive", ErrInvalidAlert)
	}
	if direction != models.DirectionAbove && direction != models.DirectionBelow {
		return nil, fmt.Errorf("%w: unknown direction %q", ErrInvalidAlert, direction)
	}

	pos, err := s.positions.GetPositionForUser(ctx, userID, positionID)
	if err != nil {
		return nil, err
	}

	alert := &models.PriceAlert{
		PositionID:     pos.ID,
		UserID:         userID,
		Symbol:         pos.Symbol,
		AssetType:      pos.AssetType,
		Direction:      direction,
		ThresholdPrice: threshold,
		Active:         true,
	}
	if err := s.store.CreateAlert(ctx, alert); err != nil {
		return nil, err
	}

	s.logger.Info("Alert armed",
		zap.Int("alert_id", alert.ID),
		zap.String("symbol", alert.Symbol),
		zap.String("direction", string(direction)),
		zap.String("threshold", threshold.String()))
	return alert, nil
}

// ListAlerts returns every alert owned by the user
func (s *Service) ListAlerts(ctx context.Context, userID string) ([]*models.PriceAlert, error) {
	return s.store.ListAlertsByUser(ctx, userID)
}

// DeleteAlert removes one of the user's alerts
func (s *Service) DeleteAlert(ctx context.Context, userID string, id int) error {
	return s.store.DeleteAlert(ctx, userID, id)
}

// ArmedSymbols lists the instruments that still have an active alert
func (s *Service) ArmedSymbols(ctx context.Context) ([]models.SymbolRef, error) {
	return s.store.GetArmedSymbols(ctx)
}

// HandleTicks evaluates ticks in arrival order and returns the alerts that
// fired and were delivered to the notifier. Invalid ticks are dropped. A tick
// with an asset type only fires alerts on positions of that type.
func (s *Service) HandleTicks(ctx context.Context, ticks []models.PriceTick) ([]models.TriggeredAlert, error) {
	var order []string
	groups := make(map[string][]models.PriceTick)
	for _, t := range ticks {
		t.Symbol = strings.ToUpper(strings.TrimSpace(t.Symbol))
		t.AssetType = models.AssetType(strings.ToUpper(strings.TrimSpace(string(t.AssetType))))
		if t.Symbol == "" || !t.Price.IsPositive() || (t.AssetType != "" && !t.AssetType.Valid()) {
			s.logger.Warn("Dropping invalid price tick",
				zap.String("symbol", t.Symbol),
				zap.String("asset_type", string(t.AssetType)),
				zap.String("price", t.Price.String()))
			continue
		}
		if t.Timestamp.IsZero() {
			t.Timestamp = time.Now().UTC()
		}
		if _, seen := groups[t.Symbol]; !seen {
			order = append(order, t.Symbol)
		}
		groups[t.Symbol] = append(groups[t.Symbol], t)
		metrics.TicksProcessed.WithLabelValues(sourceLabel(t.Source)).Inc()
	}

	var fired []models.TriggeredAlert
	var errs []error
	for _, symbol := range order {
		got, err := s.handleSymbol(ctx, symbol, groups[symbol])
		fired = append(fired, got...)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return fired, errors.Join(errs...)
}

func (s *Service) handleSymbol(ctx context.Context, symbol string, ticks []models.PriceTick) ([]models.TriggeredAlert, error) {
	mu := s.lock(symbol)
	mu.Lock()
	defer mu.Unlock()

	armed, err := s.store.GetArmedAlerts(ctx, symbol, commonAssetType(ticks))
	if err != nil {
		return nil, fmt.Errorf("failed to load alerts for %s: %w", symbol, err)
	}
	if len(armed) == 0 {
		return nil, nil
	}

	var fired []models.TriggeredAlert
	var errs []error
	for _, t := range EvaluateBatch(ticks, armed) {
		// Only the caller whose update flips the row delivers the notification
		ok, err := s.store.DeactivateAlert(ctx, t.AlertID, t.Timestamp)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to deactivate alert %d: %w", t.AlertID, err))
			continue
		}
		if !ok {
			s.logger.Debug("Alert already triggered", zap.Int("alert_id", t.AlertID))
			continue
		}

		metrics.AlertsTriggered.WithLabelValues(string(t.Direction)).Inc()
		s.logger.Info("Alert triggered",
			zap.Int("alert_id", t.AlertID),
			zap.String("symbol", t.Symbol),
			zap.String("asset_type", string(t.AssetType)),
			zap.String("direction", string(t.Direction)),
			zap.String("threshold", t.Threshold.String()),
			zap.String("price", t.TriggeringPrice.String()))

		if s.notifier != nil {
			if err := s.notifier.Notify(ctx, t); err != nil {
				s.logger.Warn("Alert notification incomplete",
					zap.Int("alert_id", t.AlertID), zap.Error(err))
			}
		}
		fired = append(fired, t)
	}
	return fired, errors.Join(errs...)
}

// commonAssetType is the asset type shared by every tick, or empty when the
// ticks are untyped or mixed.
func commonAssetType(ticks []models.PriceTick) models.AssetType {
	if len(ticks) == 0 {
		return ""
	}
	at := ticks[0].AssetType
	for _, t := range ticks[1:] {
		if t.AssetType != at {
			return ""
		}
	}
	return at
}

func (s *Service) lock(symbol string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(symbol, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func sourceLabel(source string) string {
	if source == "" {
		return "unknown"
	}
	return source
}
