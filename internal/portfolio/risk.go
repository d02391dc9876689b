package portfolio

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/trogers1052/portfolio-tracker/internal/models"
	"github.com/trogers1052/portfolio-tracker/internal/risk"
	"github.com/trogers1052/portfolio-tracker/internal/valuation"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// NoBenchmark disables beta and alpha when passed as RiskOptions.Benchmark
const NoBenchmark = "none"

// RiskOptions selects the lookback window and benchmark for GetRiskMetrics.
// Zero values fall back to the service defaults.
type RiskOptions struct {
	Days      int
	Benchmark string
}

// GetRiskMetrics derives risk statistics from the daily value of the user's
// current holdings over the lookback window. A benchmark that cannot be
// fetched is dropped rather than failing the request.
func (s *Service) GetRiskMetrics(ctx context.Context, userID string, opts RiskOptions) (*models.RiskMetrics, error) {
	days := opts.Days
	if days <= 0 {
		days = s.cfg.HistoryDays
	}
	benchmark := strings.ToUpper(strings.TrimSpace(opts.Benchmark))
	if benchmark == "" {
		benchmark = strings.ToUpper(s.cfg.Benchmark)
	}

	_, positions, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(positions) == 0 {
		return nil, fmt.Errorf("%w: portfolio has no positions", risk.ErrInsufficientData)
	}

	values, err := s.valueSeries(ctx, positions, days+1)
	if err != nil {
		return nil, err
	}
	returns := risk.DailyReturns(closesOf(values))

	var benchReturns []float64
	if benchmark != "" && benchmark != strings.ToUpper(NoBenchmark) {
		if bench := s.benchmarkCloses(ctx, benchmark, days+1); len(bench) > 0 {
			pv, bv := joinOnDates(values, bench)
			if len(pv) >= 3 {
				returns = risk.DailyReturns(pv)
				benchReturns = risk.DailyReturns(bv)
			} else {
				s.logger.Warn("Benchmark shares too few dates with portfolio, computing without beta",
					zap.String("benchmark", benchmark),
					zap.Int("common_dates", len(pv)))
			}
		}
	}

	m, err := risk.Compute(returns, benchReturns, s.cfg.RiskFreeRate)
	if err != nil {
		return nil, err
	}
	if benchReturns != nil {
		m.Benchmark = benchmark
	}
	return m, nil
}

// valueSeries sums quantity-weighted closes per day. Stock trading days set
// the calendar when the portfolio holds stocks; crypto closes are carried
// forward onto it, so a weekend crypto move lands on the next trading day.
func (s *Service) valueSeries(ctx context.Context, positions []*models.Position, points int) ([]models.DailyClose, error) {
	refs := distinctRefs(positions)
	hasStock := false
	for _, ref := range refs {
		if ref.AssetType == models.AssetStock {
			hasStock = true
		}
	}

	histories := make([][]models.DailyClose, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.FetchConcurrency)
	for i, ref := range refs {
		g.Go(func() error {
			n := points
			if hasStock && ref.AssetType == models.AssetCrypto {
				n = calendarSpan(points)
			}
			closes, err := s.market.FetchDailyCloses(gctx, ref.AssetType, ref.Symbol, n)
			if err != nil {
				return fmt.Errorf("failed to load history for %s: %w", ref.Symbol, err)
			}
			histories[i] = closes
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var calendar []time.Time
	if hasStock {
		var stocks [][]models.DailyClose
		for i, ref := range refs {
			if ref.AssetType == models.AssetStock {
				stocks = append(stocks, histories[i])
			}
		}
		calendar = commonDates(stocks)
	} else {
		calendar = commonDates(histories)
	}

	// every holding needs a close on or before the first day
	for _, h := range histories {
		if len(h) == 0 {
			calendar = nil
			break
		}
		for len(calendar) > 0 && calendar[0].Before(h[0].Date) {
			calendar = calendar[1:]
		}
	}
	if len(calendar) > points {
		calendar = calendar[len(calendar)-points:]
	}
	if len(calendar) < 3 {
		return nil, fmt.Errorf("%w: only %d common price points", risk.ErrInsufficientData, len(calendar))
	}

	index := make(map[string]int, len(refs))
	aligned := make([][]float64, len(refs))
	for i, ref := range refs {
		index[valuation.QuoteKey(ref.AssetType, ref.Symbol)] = i
		aligned[i] = carryForward(histories[i], calendar)
	}

	values := make([]models.DailyClose, len(calendar))
	for t, day := range calendar {
		values[t].Date = day
	}
	for _, p := range positions {
		h := aligned[index[valuation.QuoteKey(p.AssetType, p.Symbol)]]
		qty := p.Quantity.InexactFloat64()
		for t := range values {
			values[t].Close += qty * h[t]
		}
	}
	return values, nil
}

func (s *Service) benchmarkCloses(ctx context.Context, symbol string, points int) []models.DailyClose {
	closes, err := s.market.FetchDailyCloses(ctx, models.AssetStock, symbol, points)
	if err != nil {
		s.logger.Warn("Benchmark unavailable, computing without beta",
			zap.String("benchmark", symbol),
			zap.Error(err))
		return nil
	}
	return closes
}

// calendarSpan is the number of calendar days that covers points trading
// days, with slack for market holidays
func calendarSpan(points int) int {
	return points*7/5 + 7
}

// commonDates returns the dates present in every series, oldest first
func commonDates(series [][]models.DailyClose) []time.Time {
	if len(series) == 0 {
		return nil
	}
	seen := make(map[int64]int)
	for _, h := range series {
		for _, c := range h {
			seen[c.Date.Unix()]++
		}
	}
	var dates []time.Time
	for day, n := range seen {
		if n == len(series) {
			dates = append(dates, time.Unix(day, 0).UTC())
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

// carryForward samples h on calendar, taking the latest close on or before
// each day. Both inputs are oldest first and h starts no later than calendar.
func carryForward(h []models.DailyClose, calendar []time.Time) []float64 {
	out := make([]float64, len(calendar))
	j := 0
	for t, day := range calendar {
		for j+1 < len(h) && !h[j+1].Date.After(day) {
			j++
		}
		out[t] = h[j].Close
	}
	return out
}

// joinOnDates pairs the closes of a and b that share a date
func joinOnDates(a, b []models.DailyClose) ([]float64, []float64) {
	var av, bv []float64
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i].Date.Before(b[j].Date):
			i++
		case b[j].Date.Before(a[i].Date):
			j++
		default:
			av = append(av, a[i].Close)
			bv = append(bv, b[j].Close)
			i++
			j++
		}
	}
	return av, bv
}

func closesOf(series []models.DailyClose) []float64 {
	out := make([]float64, len(series))
	for i, c := range series {
		out[i] = c.Close
	}
	return out
}
