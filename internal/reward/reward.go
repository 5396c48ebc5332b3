// Package reward scores a closed trade for training. The score is PnL
// normalized by volatility with a heavier penalty on losses, adjusted for
// conviction, risk efficiency and light sentiment/news modifiers, and
// clipped to [-3, 3].
package reward

import "math"

const (
	eps         = 1e-9
	lossPenalty = 1.5
	clipBound   = 3.0
)

type Inputs struct {
	PnL        float64 // price units, signed by trade direction
	ATR        float64
	Confidence float64 // [-1, 1]
	TPDist     float64
	SLDist     float64
	Sentiment  float64 // [-1, 1]
	News       float64 // [0, 1]
}

func Score(in Inputs) float64 {
	pnlR := in.PnL / (in.ATR + eps)
	if pnlR < 0 {
		pnlR *= lossPenalty
	}
	convR := 0.5 * in.Confidence * sign(in.PnL)

	dir := -1.0
	if in.PnL > 0 {
		dir = 1.0
	}
	eff := 0.2 * (in.TPDist / (in.SLDist + eps)) * dir

	base := pnlR + convR + eff
	out := base*(1-0.2*in.News) + 0.1*in.Sentiment*sign(in.PnL)
	return clip(out, -clipBound, clipBound)
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

func clip(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(lo, math.Min(hi, v))
}
