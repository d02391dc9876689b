// Package alerts decides which price alerts fire for incoming ticks and
// drives their one-way ARMED -> TRIGGERED transition.
package alerts

import (
	"strings"

	"github.com/google/uuid"
	"github.com/trogers1052/portfolio-tracker/internal/models"
)

// Crosses reports whether price satisfies the alert's threshold condition
func Crosses(a *models.PriceAlert, tick models.PriceTick) bool {
	switch a.Direction {
	case models.DirectionAbove:
		return tick.Price.GreaterThanOrEqual(a.ThresholdPrice)
	case models.DirectionBelow:
		return tick.Price.LessThanOrEqual(a.ThresholdPrice)
	default:
		return false
	}
}

// Evaluate checks one tick against the alerts for its instrument. Every alert
// that crosses is deactivated in place and reported once. Inactive alerts,
// alerts for other symbols and, when the tick carries an asset type, alerts
// for other asset types are ignored, so re-evaluating is a no-op.
func Evaluate(tick models.PriceTick, alerts []*models.PriceAlert) []models.TriggeredAlert {
	var fired []models.TriggeredAlert
	for _, a := range alerts {
		if a == nil || !a.Active || !strings.EqualFold(a.Symbol, tick.Symbol) {
			continue
		}
		if tick.AssetType != "" && a.AssetType != tick.AssetType {
			continue
		}
		if !Crosses(a, tick) {
			continue
		}

		at := tick.Timestamp
		a.Active = false
		a.TriggeredAt = &at

		fired = append(fired, models.TriggeredAlert{
			EventID:         uuid.NewString(),
			AlertID:         a.ID,
			PositionID:      a.PositionID,
			UserID:          a.UserID,
			Symbol:          a.Symbol,
			AssetType:       a.AssetType,
			Direction:       a.Direction,
			Threshold:       a.ThresholdPrice,
			TriggeringPrice: tick.Price,
			Timestamp:       tick.Timestamp,
		})
	}
	return fired
}

// EvaluateBatch applies ticks in arrival order. An alert that fires on an
// earlier tick is inactive for the rest of the batch.
func EvaluateBatch(ticks []models.PriceTick, alerts []*models.PriceAlert) []models.TriggeredAlert {
	var fired []models.TriggeredAlert
	for _, tick := range ticks {
		fired = append(fired, Evaluate(tick, alerts)...)
	}
	return fired
}
