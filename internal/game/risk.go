package game

import "github.com/shopspring/decimal"

func (e *Engine) breachedLocked(p *Participant) bool {
	if p.Position == 0 {
		return false
	}
	limit := decimal.NewFromInt(-e.rules.LossLimit)
	return UnrealizedPL(p.Position, p.AvgPrice, e.marketPrice).LessThan(limit)
}

// liquidateIfBreachedLocked force-closes p at the current price when its unrealized loss is
// beyond the loss limit. It does not recompute the market price.
func (e *Engine) liquidateIfBreachedLocked(p *Participant) bool {
	if !e.breachedLocked(p) {
		return false
	}
	rec := e.executeLocked(p, -p.Position, true)
	e.rec.Liquidated()
	e.log.Info("forced liquidation",
		"session", p.ID,
		"name", p.DisplayName,
		"side", rec.Side,
		"qty", rec.Quantity,
		"price", rec.ExecPrice,
	)
	e.emit(Event{
		Kind: EventLiquidation,
		Payload: LiquidationPayload{
			UserID:   p.ID,
			Name:     p.DisplayName,
			Quantity: rec.Quantity,
			Price:    rec.ExecPrice,
		},
	})
	return true
}

// riskPassLocked checks every participant against the same tick price. Liquidations inside
// the pass do not move the price seen by later participants; the price is recomputed once
// afterwards.
func (e *Engine) riskPassLocked() {
	liquidated := false
	for _, p := range e.sortedParticipantsLocked() {
		if e.liquidateIfBreachedLocked(p) {
			liquidated = true
		}
	}
	if liquidated {
		e.recomputePriceLocked()
	}
}
