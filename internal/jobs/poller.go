// Package jobs holds scheduled background work.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/trogers1052/portfolio-tracker/internal/models"
	"go.uber.org/zap"
)

// SymbolSource lists the instruments worth polling
type SymbolSource interface {
	ArmedSymbols(ctx context.Context) ([]models.SymbolRef, error)
}

// Quoter returns a normalized quote
type Quoter interface {
	GetQuote(ctx context.Context, assetType models.AssetType, symbol string) (models.Quote, error)
}

// TickHandler evaluates price ticks against armed alerts
type TickHandler interface {
	HandleTicks(ctx context.Context, ticks []models.PriceTick) ([]models.TriggeredAlert, error)
}

// PricePoller periodically quotes every symbol with an armed alert and
// feeds the prices to the alert service as ticks
type PricePoller struct {
	symbols  SymbolSource
	quoter   Quoter
	handler  TickHandler
	schedule string
	timeout  time.Duration
	cron     *cron.Cron
	logger   *zap.Logger

	running sync.Mutex
}

// NewPricePoller creates a poller for the given cron schedule (e.g. "@every 1m")
func NewPricePoller(symbols SymbolSource, quoter Quoter, handler TickHandler, schedule string, logger *zap.Logger) *PricePoller {
	return &PricePoller{
		symbols:  symbols,
		quoter:   quoter,
		handler:  handler,
		schedule: schedule,
		timeout:  time.Minute,
		cron:     cron.New(),
		logger:   logger,
	}
}

// Start registers the poll job and starts the scheduler
func (p *PricePoller) Start() error {
	_, err := p.cron.AddFunc(p.schedule, func() {
		// a slow provider must not stack overlapping polls
		if !p.running.TryLock() {
			p.logger.Warn("Skipping price poll, previous run still in progress")
			return
		}
		defer p.running.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()

		if _, err := p.Poll(ctx); err != nil {
			p.logger.Error("Price poll failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid poll schedule %q: %w", p.schedule, err)
	}

	p.cron.Start()
	p.logger.Info("Price poller started", zap.String("schedule", p.schedule))
	return nil
}

// Stop stops the scheduler and waits for a running poll to finish
func (p *PricePoller) Stop() {
	<-p.cron.Stop().Done()
	p.logger.Info("Price poller stopped")
}

// Poll runs one polling cycle and returns the alerts that fired
func (p *PricePoller) Poll(ctx context.Context) ([]models.TriggeredAlert, error) {
	refs, err := p.symbols.ArmedSymbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list armed symbols: %w", err)
	}
	if len(refs) == 0 {
		return nil, nil
	}

	ticks := make([]models.PriceTick, 0, len(refs))
	for _, ref := range refs {
		q, err := p.quoter.GetQuote(ctx, ref.AssetType, ref.Symbol)
		if err != nil {
			p.logger.Warn("Skipping symbol in price poll",
				zap.String("symbol", ref.Symbol),
				zap.Error(err))
			continue
		}
		if !q.HasPrice() {
			continue
		}
		ticks = append(ticks, models.PriceTick{
			Symbol:    q.Symbol,
			AssetType: ref.AssetType,
			Price:     q.CurrentPrice,
			Timestamp: q.AsOf,
			Source:    "poller:" + q.Source,
		})
	}
	if len(ticks) == 0 {
		return nil, nil
	}

	triggered, err := p.handler.HandleTicks(ctx, ticks)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("Price poll complete",
		zap.Int("symbols", len(refs)),
		zap.Int("ticks", len(ticks)),
		zap.Int("triggered", len(triggered)))
	return triggered, nil
}
