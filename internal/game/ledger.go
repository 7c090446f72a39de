package game

import "github.com/shopspring/decimal"

// SubmitTrade executes a signed market order for the session at the current spread.
// A zero quantity is ignored.
func (e *Engine) SubmitTrade(id string, qty int64) error {
	return e.update("trade", id, func() error {
		if e.phase != PhaseRunning {
			return ErrNotRunning
		}
		if qty == 0 {
			return nil
		}
		p := e.ensureParticipantLocked(id)
		e.executeLocked(p, qty, false)
		e.recomputePriceLocked()
		if e.liquidateIfBreachedLocked(p) {
			e.recomputePriceLocked()
		}
		e.publishSnapshotLocked()
		return nil
	})
}

// executeLocked books qty for p at the current market price's bid or ask. It updates the
// participant's cash, position and cost basis, every volume counter, and the trade log.
// The caller recomputes the market price.
func (e *Engine) executeLocked(p *Participant, qty int64, forced bool) TradeRecord {
	price := e.marketPrice
	exec := ExecPrice(price, qty)
	oldPos := p.Position
	newPos := oldPos + qty

	rec := TradeRecord{
		SimTime:        e.timeElapsed,
		Timestamp:      e.now(),
		Side:           sideOf(qty),
		Quantity:       abs64(qty),
		ExecPrice:      exec,
		MarketPrice:    price,
		PositionBefore: oldPos,
		PositionAfter:  newPos,
		Forced:         forced,
	}
	p.TradeHistory = append(p.TradeHistory, rec)

	volume := float64(rec.Quantity)
	if qty > 0 {
		p.CumulativeBuys += rec.Quantity
		e.marketBuys += volume
		e.curSecBuy += volume
	} else {
		p.CumulativeSells += rec.Quantity
		e.marketSells += volume
		e.curSecSell += volume
	}

	p.Cash = p.Cash.Sub(decimal.NewFromInt(qty * exec))
	p.AvgPrice = nextAvgPrice(oldPos, qty, p.AvgPrice, exec)
	p.Position = newPos

	e.rec.TradeExecuted(rec.Side, rec.Quantity)
	return rec
}

// nextAvgPrice applies the cost basis rules: opening from flat or flipping sign re-bases
// at exec, adding in the same direction takes the weighted average, reducing keeps it,
// and landing on flat clears it.
func nextAvgPrice(oldPos, qty int64, oldAvg decimal.Decimal, exec int64) decimal.Decimal {
	newPos := oldPos + qty
	switch {
	case newPos == 0:
		return decimal.Zero
	case oldPos == 0:
		return decimal.NewFromInt(exec)
	case (oldPos > 0) == (qty > 0):
		oldVal := decimal.NewFromInt(abs64(oldPos)).Mul(oldAvg)
		newVal := decimal.NewFromInt(abs64(qty)).Mul(decimal.NewFromInt(exec))
		return oldVal.Add(newVal).Div(decimal.NewFromInt(abs64(newPos)))
	case (oldPos > 0) != (newPos > 0):
		return decimal.NewFromInt(exec)
	default:
		return oldAvg
	}
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
