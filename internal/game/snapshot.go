package game

import (
	"sort"

	"github.com/shopspring/decimal"
)

func (e *Engine) publishSnapshotLocked() {
	e.seq++
	snap := e.buildSnapshotLocked()
	e.emit(Event{Kind: EventSnapshot, Payload: &snap})
}

func (e *Engine) buildSnapshotLocked() Snapshot {
	var userBuys, userSells int64
	participants := map[string]ParticipantView{}
	online := []OnlineUser{}
	for id, p := range e.participants {
		if e.isAdminLocked(id) {
			continue
		}
		userBuys += p.CumulativeBuys
		userSells += p.CumulativeSells
		if !p.Connected {
			continue
		}
		online = append(online, OnlineUser{ID: id, Name: p.DisplayName})
		participants[id] = e.participantViewLocked(p)
	}
	sort.Slice(online, func(i, j int) bool {
		if online[i].Name != online[j].Name {
			return online[i].Name < online[j].Name
		}
		return online[i].ID < online[j].ID
	})

	admins := make(map[string]struct{}, len(e.admins))
	for id := range e.admins {
		admins[id] = struct{}{}
	}

	marketBuys := int64(e.marketBuys)
	marketSells := int64(e.marketSells)
	return Snapshot{
		Market: MarketView{
			Seq:              e.seq,
			Phase:            e.phase,
			IsRunning:        e.phase == PhaseRunning,
			IsCountdown:      e.phase == PhaseCountdown,
			Countdown:        e.countdown,
			TimeLeft:         e.timeLeft,
			TimeElapsed:      e.timeElapsed,
			MarketPrice:      e.marketPrice,
			Bid:              Bid(e.marketPrice),
			Ask:              Ask(e.marketPrice),
			FundamentalValue: e.fundamental,
			MarketBuys:       marketBuys,
			MarketSells:      marketSells,
			MarketNet:        marketBuys - marketSells,
			TotalUserBuys:    userBuys,
			TotalUserSells:   userSells,
			TotalUserNet:     userBuys - userSells,
			History:          e.history.last(e.rules.SnapshotHistory),
			OnlineCount:      len(online),
			OnlineUsers:      online,
		},
		Participants: participants,
		Admins:       admins,
	}
}

// participantViewLocked derives the P&L split: total equity marks the position to market,
// and realized is what remains after removing the unrealized part.
func (e *Engine) participantViewLocked(p *Participant) ParticipantView {
	unrealized := UnrealizedPL(p.Position, p.AvgPrice, e.marketPrice)
	equity := p.Cash.Add(decimal.NewFromInt(p.Position).Mul(decimal.NewFromInt(e.marketPrice)))
	return ParticipantView{
		ID:          p.ID,
		Name:        p.DisplayName,
		Position:    p.Position,
		Buys:        p.CumulativeBuys,
		Sells:       p.CumulativeSells,
		Net:         p.CumulativeBuys - p.CumulativeSells,
		AvgPrice:    p.AvgPrice,
		Cash:        p.Cash,
		Realized:    equity.Sub(unrealized),
		Unrealized:  unrealized,
		Exposure:    p.Position,
		TotalEquity: equity,
	}
}
