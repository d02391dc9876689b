// Package risk derives volatility, Sharpe ratio, beta/alpha and value-at-risk
// from daily return series. Every statistic uses sample (n-1) estimators and
// is annualized over 252 trading days.
package risk

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/montanaflynn/stats"
	"github.com/trogers1052/portfolio-tracker/internal/models"
)

const (
	// TradingDays is the annualization factor for daily series
	TradingDays = 252

	// DefaultRiskFreeRate is the annual risk-free rate used when none is given
	DefaultRiskFreeRate = 0.02

	// MinVaRSamples is the smallest series for which VaR is reported
	MinVaRSamples = 20

	varConfidenceTail = 0.05
)

var (
	// ErrInsufficientData is returned when a series is too short for the statistic
	ErrInsufficientData = errors.New("insufficient data")

	// ErrBenchmarkLength is returned when benchmark and portfolio series differ in length
	ErrBenchmarkLength = errors.New("benchmark returns must match portfolio returns in length")
)

// Compute derives RiskMetrics from daily fractional returns. benchmark may be
// nil, in which case beta and alpha are left nil. Neither slice is modified.
func Compute(returns, benchmark []float64, riskFreeRate float64) (*models.RiskMetrics, error) {
	n := len(returns)
	if n < 2 {
		return nil, fmt.Errorf("%w: need at least 2 returns, got %d", ErrInsufficientData, n)
	}
	if benchmark != nil && len(benchmark) != n {
		return nil, fmt.Errorf("%w: %d vs %d", ErrBenchmarkLength, len(benchmark), n)
	}

	data := stats.Float64Data(returns)
	mean, err := stats.Mean(data)
	if err != nil {
		return nil, fmt.Errorf("failed to compute mean return: %w", err)
	}
	sd, err := stats.StandardDeviationSample(data)
	if err != nil {
		return nil, fmt.Errorf("failed to compute return deviation: %w", err)
	}

	annualReturn := mean * TradingDays
	volatility := sd * math.Sqrt(TradingDays)

	m := &models.RiskMetrics{
		Volatility:   volatility,
		SampleSize:   n,
		RiskFreeRate: riskFreeRate,
		RiskLevel:    Level(volatility),
		MaxDrawdown:  MaxDrawdown(Cumulative(returns)),
	}

	if volatility > 0 {
		sharpe := (annualReturn - riskFreeRate) / volatility
		m.SharpeRatio = &sharpe
	}

	if benchmark != nil {
		beta, alpha, ok, err := betaAlpha(data, stats.Float64Data(benchmark), annualReturn, riskFreeRate)
		if err != nil {
			return nil, err
		}
		if ok {
			m.Beta = &beta
			m.Alpha = &alpha
		}
	}

	if v, err := ValueAtRisk95(returns); err == nil {
		m.ValueAtRisk95 = &v
		m.ValueAtRiskStatus = models.VaRStatusOK
	} else {
		m.ValueAtRiskStatus = models.VaRStatusInsufficientData
	}

	return m, nil
}

// betaAlpha returns ok=false when the benchmark has zero variance
func betaAlpha(returns, benchmark stats.Float64Data, annualReturn, riskFreeRate float64) (float64, float64, bool, error) {
	cov, err := stats.Covariance(returns, benchmark)
	if err != nil {
		return 0, 0, false, fmt.Errorf("failed to compute covariance: %w", err)
	}
	variance, err := stats.SampleVariance(benchmark)
	if err != nil {
		return 0, 0, false, fmt.Errorf("failed to compute benchmark variance: %w", err)
	}
	if variance == 0 {
		return 0, 0, false, nil
	}
	benchMean, err := stats.Mean(benchmark)
	if err != nil {
		return 0, 0, false, fmt.Errorf("failed to compute benchmark mean: %w", err)
	}

	beta := cov / variance
	alpha := annualReturn - (riskFreeRate + beta*(benchMean*TradingDays-riskFreeRate))
	return beta, alpha, true, nil
}

// ValueAtRisk95 is the historical one-day 95% VaR, reported as a positive
// loss fraction: -(sorted[floor(0.05*n)]).
func ValueAtRisk95(returns []float64) (float64, error) {
	n := len(returns)
	if n < MinVaRSamples {
		return 0, fmt.Errorf("%w: VaR needs at least %d returns, got %d", ErrInsufficientData, MinVaRSamples, n)
	}
	sorted := make([]float64, n)
	copy(sorted, returns)
	sort.Float64s(sorted)
	return -sorted[int(math.Floor(varConfidenceTail*float64(n)))], nil
}

// DailyReturns converts a price series (oldest first) into fractional
// returns. Steps whose previous price is not positive are skipped.
func DailyReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		prev := prices[i-1]
		if prev <= 0 {
			continue
		}
		out = append(out, (prices[i]-prev)/prev)
	}
	return out
}

// Cumulative turns returns into a growth-of-one value series
func Cumulative(returns []float64) []float64 {
	values := make([]float64, 0, len(returns)+1)
	v := 1.0
	values = append(values, v)
	for _, r := range returns {
		v *= 1 + r
		values = append(values, v)
	}
	return values
}

// MaxDrawdown is the largest peak-to-trough decline of a value series as a
// positive fraction
func MaxDrawdown(values []float64) float64 {
	var peak, worst float64
	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

// Level buckets annualized volatility into low, moderate and high
func Level(volatility float64) string {
	switch {
	case volatility < 0.10:
		return "low"
	case volatility < 0.20:
		return "moderate"
	default:
		return "high"
	}
}
