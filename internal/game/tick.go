package game

import "time"

const newsPersistence = 0.95

// ensureDriverLocked starts the scheduler goroutine unless one is already running.
func (e *Engine) ensureDriverLocked() {
	if e.driving || e.closed {
		return
	}
	e.driving = true
	e.wg.Add(1)
	go e.drive()
}

func (e *Engine) drive() {
	defer e.wg.Done()
	t := e.newTicker(e.rules.TickEvery)
	defer t.Stop()
	for {
		select {
		case <-e.done:
			return
		case <-t.C():
			if !e.tick() {
				return
			}
		}
	}
}

// tick runs one scheduler step and reports whether the driver should keep going.
func (e *Engine) tick() bool {
	keep := false
	started := time.Now()
	var phase Phase
	_ = e.update("tick", "", func() error {
		phase = e.phase
		switch e.phase {
		case PhaseCountdown:
			e.countdownTickLocked()
			keep = true
		case PhaseRunning:
			e.runningTickLocked()
			keep = e.phase == PhaseRunning
		}
		if !keep {
			e.driving = false
		}
		return nil
	})
	e.rec.TickProcessed(phase, time.Since(started))
	return keep
}

func (e *Engine) countdownTickLocked() {
	e.countdown--
	if e.countdown <= 0 {
		e.countdown = 0
		e.timeLeft = e.rules.SessionSeconds
		e.timeElapsed = 0
		now := e.now()
		e.startedAt = &now
		e.setPhaseLocked(PhaseRunning)
	}
	e.publishSnapshotLocked()
}

func (e *Engine) runningTickLocked() {
	e.timeLeft--
	e.timeElapsed++

	if e.timeElapsed <= e.rules.QuietAfter {
		e.newsLocked()
	}

	target := RobotTarget(e.fundamental)
	robotTrade := target - e.robotDemand
	e.robotDemand = target
	if robotTrade > 0 {
		e.marketBuys += robotTrade
		e.curSecBuy += robotTrade
	} else if robotTrade < 0 {
		e.marketSells -= robotTrade
		e.curSecSell -= robotTrade
	}

	e.recomputePriceLocked()
	e.riskPassLocked()

	e.history.push(HistoryPoint{
		T:       e.timeElapsed,
		Price:   e.marketPrice,
		VolBuy:  int64(e.curSecBuy),
		VolSell: int64(e.curSecSell),
		Bid:     Bid(e.marketPrice),
		Ask:     Ask(e.marketPrice),
	})
	e.curSecBuy = 0
	e.curSecSell = 0

	e.publishSnapshotLocked()

	if e.timeLeft <= 0 {
		e.endSessionLocked()
	}
}

// newsLocked moves the fundamental value one step. The first step picks a direction at
// random; later steps keep it with probability newsPersistence.
func (e *Engine) newsLocked() {
	var direction int
	switch {
	case e.lastNews == 0:
		direction = 1
		if e.rand.Float64() >= 0.5 {
			direction = -1
		}
	case e.rand.Float64() < newsPersistence:
		direction = e.lastNews
	default:
		direction = -e.lastNews
	}
	e.fundamental += int64(direction)
	e.lastNews = direction
}

func (e *Engine) endSessionLocked() {
	e.setPhaseLocked(PhaseEnded)
	results := SessionResults{
		EndedAt:          e.now(),
		FundamentalValue: e.fundamental,
		Results:          map[string]FinalResult{},
	}
	if e.startedAt != nil {
		started := *e.startedAt
		results.StartedAt = &started
	}
	for id, p := range e.participants {
		if e.isAdminLocked(id) {
			continue
		}
		results.Results[id] = FinalResult{
			Name:             p.DisplayName,
			FinalWealth:      e.finalWealthLocked(p),
			FundamentalValue: e.fundamental,
		}
	}
	e.log.Info("session ended",
		"elapsed", e.timeElapsed,
		"fundamental", e.fundamental,
		"participants", len(results.Results),
	)
	e.emit(Event{Kind: EventSessionEnded, Payload: results})
	e.publishSnapshotLocked()
}
