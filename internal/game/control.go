package game

import (
	"sort"
	"time"
)

// Start begins the pre-session countdown. Only valid from idle.
func (e *Engine) Start(id string) error {
	return e.update("admin_start", id, func() error {
		if err := e.requireAdminLocked(id); err != nil {
			return err
		}
		switch e.phase {
		case PhaseCountdown, PhaseRunning:
			return ErrAlreadyActive
		case PhaseEnded:
			return ErrResetRequired
		}
		e.countdown = e.rules.CountdownSeconds
		e.setPhaseLocked(PhaseCountdown)
		e.log.Info("countdown started", "admin", id, "seconds", e.countdown)
		e.ensureDriverLocked()
		e.publishSnapshotLocked()
		return nil
	})
}

// Cancel aborts a countdown in progress and returns to idle.
func (e *Engine) Cancel(id string) error {
	return e.update("admin_cancel", id, func() error {
		if err := e.requireAdminLocked(id); err != nil {
			return err
		}
		if e.phase != PhaseCountdown {
			return ErrNotCountingDown
		}
		e.countdown = e.rules.CountdownSeconds
		e.setPhaseLocked(PhaseIdle)
		e.log.Info("countdown cancelled", "admin", id)
		e.publishSnapshotLocked()
		return nil
	})
}

// Reset returns the market to idle from any phase and clears all trading state.
func (e *Engine) Reset(id string) error {
	return e.update("admin_reset", id, func() error {
		if err := e.requireAdminLocked(id); err != nil {
			return err
		}
		prev := e.phase
		e.resetLocked()
		e.rec.PhaseChanged(PhaseIdle)
		e.log.Info("market reset", "admin", id, "previous_phase", prev)
		e.emit(Event{Kind: EventResetConfirmed, SessionID: id, Payload: MessagePayload{Message: "market reset"}})
		e.publishSnapshotLocked()
		return nil
	})
}

// Export dumps every non-admin participant's stats and trade log, sorted by display name.
func (e *Engine) Export(id string) (Export, error) {
	var out Export
	err := e.update("admin_export", id, func() error {
		if err := e.requireAdminLocked(id); err != nil {
			return err
		}
		out = e.buildExportLocked()
		e.emit(Event{Kind: EventExportResult, SessionID: id, Payload: out})
		return nil
	})
	return out, err
}

func (e *Engine) buildExportLocked() Export {
	info := ExportGameInfo{
		Duration:              e.timeElapsed,
		FinalFundamentalValue: e.fundamental,
		IsCompleted:           e.timeLeft <= 0 && e.timeElapsed > 0,
	}
	if e.startedAt != nil {
		started := e.startedAt.Truncate(time.Second)
		info.StartTime = &started
	}

	users := []ExportUser{}
	for id, p := range e.participants {
		if e.isAdminLocked(id) {
			continue
		}
		trades := make([]TradeRecord, len(p.TradeHistory))
		copy(trades, p.TradeHistory)
		users = append(users, ExportUser{
			UserID: shortID(id),
			Name:   p.DisplayName,
			FinalStats: ExportStats{
				Position:        p.Position,
				Cash:            p.Cash,
				AvgPrice:        p.AvgPrice,
				TotalBuys:       p.CumulativeBuys,
				TotalSells:      p.CumulativeSells,
				NetTransactions: p.CumulativeBuys - p.CumulativeSells,
				FinalWealth:     e.finalWealthLocked(p),
			},
			TradeHistory: trades,
			sortKey:      id,
		})
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].Name != users[j].Name {
			return users[i].Name < users[j].Name
		}
		return users[i].sortKey < users[j].sortKey
	})
	return Export{GameInfo: info, Users: users}
}
