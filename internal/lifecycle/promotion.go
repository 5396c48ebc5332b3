package lifecycle

import (
	"fmt"

	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/config"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/models"
)

// epsilon absorbs float error so boundary values compare like decimals.
const epsilon = 1e-9

type Thresholds struct {
	MinTrades      int
	MaxDrawdown    float64
	MaxWinRateDrop float64
	MinWinRateGain float64
	MinSharpeGain  float64
}

func ThresholdsFrom(cfg config.LifecycleConfig) Thresholds {
	t := Thresholds{
		MinTrades:      cfg.MinTrades,
		MaxDrawdown:    cfg.MaxDrawdown,
		MaxWinRateDrop: cfg.MaxWinRateDrop,
		MinWinRateGain: cfg.MinWinRateGain,
		MinSharpeGain:  cfg.MinSharpeGain,
	}
	if t.MinTrades <= 0 {
		t.MinTrades = 100
	}
	if t.MaxDrawdown <= 0 {
		t.MaxDrawdown = 0.15
	}
	if t.MaxWinRateDrop <= 0 {
		t.MaxWinRateDrop = 0.05
	}
	if t.MinWinRateGain <= 0 {
		t.MinWinRateGain = 0.02
	}
	if t.MinSharpeGain <= 0 {
		t.MinSharpeGain = 0.1
	}
	return t
}

type Verdict struct {
	Promote bool
	Reason  string
}

// Evaluate decides whether shadow replaces active. A nil active promotes
// unconditionally.
func Evaluate(shadow models.ModelMetrics, active *models.ModelMetrics, t Thresholds) Verdict {
	if active == nil {
		return Verdict{Promote: true, Reason: "no active model"}
	}
	if shadow.TotalTrades < t.MinTrades {
		return Verdict{Reason: fmt.Sprintf("total_trades %d < %d", shadow.TotalTrades, t.MinTrades)}
	}
	if shadow.MaxDD > t.MaxDrawdown+epsilon {
		return Verdict{Reason: fmt.Sprintf("max_dd %.4f > %.4f", shadow.MaxDD, t.MaxDrawdown)}
	}
	floor := active.WinRate - t.MaxWinRateDrop
	if shadow.WinRate < floor-epsilon {
		return Verdict{Reason: fmt.Sprintf("win_rate %.4f regresses below %.4f", shadow.WinRate, floor)}
	}
	dWin := shadow.WinRate - active.WinRate
	dSharpe := shadow.Sharpe - active.Sharpe
	switch {
	case dWin >= t.MinWinRateGain-epsilon:
		return Verdict{Promote: true, Reason: fmt.Sprintf("win_rate +%.4f", dWin)}
	case dSharpe >= t.MinSharpeGain-epsilon:
		return Verdict{Promote: true, Reason: fmt.Sprintf("sharpe +%.4f", dSharpe)}
	}
	return Verdict{Reason: fmt.Sprintf("no material improvement (win_rate %+.4f, sharpe %+.4f)", dWin, dSharpe)}
}
