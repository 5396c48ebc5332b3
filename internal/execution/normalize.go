package execution

import (
	"github.com/shopspring/decimal"

	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/apperr"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/models"
)

// Constraints are a broker's trading increments for one symbol.
type Constraints struct {
	StepSize decimal.Decimal
	TickSize decimal.Decimal
	MinQty   decimal.Decimal
}

func ConstraintsFor(b models.BrokerConnection) Constraints {
	return Constraints{StepSize: b.StepSize, TickSize: b.TickSize, MinQty: b.MinQty}
}

// Order is a signal after normalization.
type Order struct {
	Qty        decimal.Decimal
	LimitPrice *decimal.Decimal
	SL         *decimal.Decimal
	TP         *decimal.Decimal
}

// Normalize floors qty to the step size and rounds prices to the tick size.
// A quantity below the minimum after flooring is a ValidationError.
func Normalize(sig models.Signal, c Constraints) (Order, error) {
	qty := FloorToStep(sig.Qty, c.StepSize)
	if !qty.IsPositive() {
		return Order{}, &apperr.ValidationError{Field: "qty", Reason: "quantity rounds to zero"}
	}
	if qty.LessThan(c.MinQty) {
		return Order{}, &apperr.ValidationError{
			Field:  "qty",
			Reason: "normalized quantity " + qty.String() + " below minimum " + c.MinQty.String(),
		}
	}
	return Order{
		Qty:        qty,
		LimitPrice: roundPtr(sig.LimitPrice, c.TickSize),
		SL:         roundPtr(sig.SL, c.TickSize),
		TP:         roundPtr(sig.TP, c.TickSize),
	}, nil
}

func FloorToStep(v, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return v
	}
	return v.Div(step).Floor().Mul(step)
}

func RoundToTick(v, tick decimal.Decimal) decimal.Decimal {
	if !tick.IsPositive() {
		return v
	}
	return v.Div(tick).Round(0).Mul(tick)
}

func roundPtr(v *decimal.Decimal, tick decimal.Decimal) *decimal.Decimal {
	if v == nil {
		return nil
	}
	r := RoundToTick(*v, tick)
	return &r
}
