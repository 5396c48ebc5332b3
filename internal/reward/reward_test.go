package reward

import (
	"math"
	"testing"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func TestScoreWinner(t *testing.T) {
	got := Score(Inputs{PnL: 1, ATR: 2, Confidence: 0.6, TPDist: 4, SLDist: 2})
	// 0.5 + 0.3 + 0.4
	if !approx(got, 1.2) {
		t.Fatalf("expected 1.2, got %v", got)
	}
}

func TestScoreLoserIsPenalizedHarder(t *testing.T) {
	win := Score(Inputs{PnL: 1, ATR: 2})
	loss := Score(Inputs{PnL: -1, ATR: 2})
	// win: 0.5 + 0 + 0; loss: -0.75 + 0 + 0
	if !approx(win, 0.5) || !approx(loss, -0.75) {
		t.Fatalf("unexpected win=%v loss=%v", win, loss)
	}
}

func TestScoreClips(t *testing.T) {
	if got := Score(Inputs{PnL: 100, ATR: 1}); got != 3 {
		t.Fatalf("expected clip at 3, got %v", got)
	}
	if got := Score(Inputs{PnL: -100, ATR: 1}); got != -3 {
		t.Fatalf("expected clip at -3, got %v", got)
	}
}

func TestScoreNewsAndSentiment(t *testing.T) {
	got := Score(Inputs{PnL: 1, ATR: 1, News: 0.5, Sentiment: 1})
	// base 1, *0.9 + 0.1
	if !approx(got, 1.0) {
		t.Fatalf("expected 1.0, got %v", got)
	}
}
