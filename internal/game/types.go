package game

import (
	"time"

	"github.com/shopspring/decimal"
)

type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseCountdown Phase = "countdown"
	PhaseRunning   Phase = "running"
	PhaseEnded     Phase = "ended"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

func sideOf(qty int64) Side {
	if qty > 0 {
		return SideBuy
	}
	return SideSell
}

type HistoryPoint struct {
	T       int   `json:"t"`
	Price   int64 `json:"p"`
	VolBuy  int64 `json:"volBuy"`
	VolSell int64 `json:"volSell"`
	Bid     int64 `json:"b"`
	Ask     int64 `json:"a"`
}

type TradeRecord struct {
	SimTime        int       `json:"time"`
	Timestamp      time.Time `json:"timestamp"`
	Side           Side      `json:"action"`
	Quantity       int64     `json:"quantity"`
	ExecPrice      int64     `json:"price"`
	MarketPrice    int64     `json:"market_price"`
	PositionBefore int64     `json:"demand_before"`
	PositionAfter  int64     `json:"demand_after"`
	Forced         bool      `json:"forced,omitempty"`
}

type Participant struct {
	ID              string
	DisplayName     string
	Position        int64
	Cash            decimal.Decimal
	AvgPrice        decimal.Decimal
	CumulativeBuys  int64
	CumulativeSells int64
	Connected       bool
	TradeHistory    []TradeRecord
}

func newParticipant(id string) *Participant {
	return &Participant{
		ID:          id,
		DisplayName: DefaultDisplayName(id),
		Cash:        decimal.Zero,
		AvgPrice:    decimal.Zero,
	}
}

func (p *Participant) resetTrading() {
	p.Position = 0
	p.Cash = decimal.Zero
	p.AvgPrice = decimal.Zero
	p.CumulativeBuys = 0
	p.CumulativeSells = 0
	p.TradeHistory = nil
}

// ParticipantView is the private per-participant part of a snapshot.
type ParticipantView struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Position    int64           `json:"demand"`
	Buys        int64           `json:"buys"`
	Sells       int64           `json:"sells"`
	Net         int64           `json:"net"`
	AvgPrice    decimal.Decimal `json:"avg_price"`
	Cash        decimal.Decimal `json:"cash"`
	Realized    decimal.Decimal `json:"realized"`
	Unrealized  decimal.Decimal `json:"unrealized"`
	Exposure    int64           `json:"exposure"`
	TotalEquity decimal.Decimal `json:"total_equity"`
}

type OnlineUser struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// MarketView is the part of a snapshot shared by every recipient.
type MarketView struct {
	Seq              uint64         `json:"seq"`
	Phase            Phase          `json:"phase"`
	IsRunning        bool           `json:"is_running"`
	IsCountdown      bool           `json:"is_countdown"`
	Countdown        int            `json:"countdown"`
	TimeLeft         int            `json:"time_left"`
	TimeElapsed      int            `json:"time_elapsed"`
	MarketPrice      int64          `json:"market_price"`
	Bid              int64          `json:"bid"`
	Ask              int64          `json:"ask"`
	FundamentalValue int64          `json:"fundamental_value"`
	MarketBuys       int64          `json:"market_buys"`
	MarketSells      int64          `json:"market_sells"`
	MarketNet        int64          `json:"market_net"`
	TotalUserBuys    int64          `json:"total_user_buys"`
	TotalUserSells   int64          `json:"total_user_sells"`
	TotalUserNet     int64          `json:"total_user_net"`
	History          []HistoryPoint `json:"history"`
	OnlineCount      int            `json:"online_count"`
	OnlineUsers      []OnlineUser   `json:"online_users"`
}

// Snapshot is an immutable, consistent read of the engine taken under its lock.
type Snapshot struct {
	Market       MarketView
	Participants map[string]ParticipantView
	Admins       map[string]struct{}
}

func (s *Snapshot) IsAdmin(id string) bool {
	_, ok := s.Admins[id]
	return ok
}

type FinalResult struct {
	Name             string          `json:"name"`
	FinalWealth      decimal.Decimal `json:"final_wealth"`
	FundamentalValue int64           `json:"fundamental_value"`
}

type SessionResults struct {
	StartedAt        *time.Time             `json:"started_at,omitempty"`
	EndedAt          time.Time              `json:"ended_at"`
	FundamentalValue int64                  `json:"fundamental_value"`
	Results          map[string]FinalResult `json:"results"`
}

type ExportGameInfo struct {
	StartTime             *time.Time `json:"start_time"`
	Duration              int        `json:"duration"`
	FinalFundamentalValue int64      `json:"final_fundamental_value"`
	IsCompleted           bool       `json:"is_completed"`
}

type ExportStats struct {
	Position        int64           `json:"demand"`
	Cash            decimal.Decimal `json:"cash"`
	AvgPrice        decimal.Decimal `json:"avg_price"`
	TotalBuys       int64           `json:"total_buys"`
	TotalSells      int64           `json:"total_sells"`
	NetTransactions int64           `json:"net_transactions"`
	FinalWealth     decimal.Decimal `json:"final_wealth"`
}

type ExportUser struct {
	UserID       string        `json:"user_id"`
	Name         string        `json:"name"`
	FinalStats   ExportStats   `json:"final_stats"`
	TradeHistory []TradeRecord `json:"trade_history"`

	sortKey string
}

type Export struct {
	GameInfo ExportGameInfo `json:"game_info"`
	Users    []ExportUser   `json:"users"`
}
