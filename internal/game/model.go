package game

import (
	"errors"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const (
	// BasePrice is the price with zero outstanding demand and the initial fundamental value.
	BasePrice = int64(500)
	// Lambda is the price impact of one unit of demand.
	Lambda = 0.125

	MaxDisplayNameRunes = 20
)

var (
	ErrNotRunning      = errors.New("market is not running, wait for the session to start")
	ErrNotAdmin        = errors.New("admin privileges required")
	ErrBadCredentials  = errors.New("invalid admin secret")
	ErrAlreadyActive   = errors.New("a countdown or session is already in progress")
	ErrNotCountingDown = errors.New("no countdown in progress")
	ErrResetRequired   = errors.New("session has ended, reset before starting again")
	ErrInvalidMessage  = errors.New("invalid message")
	ErrEngineClosed    = errors.New("engine is shut down")
)

// ErrorKind classifies rejections reported back to a session.
type ErrorKind string

const (
	KindPrecondition  ErrorKind = "precondition"
	KindAuthorization ErrorKind = "authorization"
	KindStateConflict ErrorKind = "state_conflict"
	KindValidation    ErrorKind = "validation"
	KindInternal      ErrorKind = "internal"
)

func KindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrNotRunning), errors.Is(err, ErrEngineClosed):
		return KindPrecondition
	case errors.Is(err, ErrNotAdmin), errors.Is(err, ErrBadCredentials):
		return KindAuthorization
	case errors.Is(err, ErrAlreadyActive), errors.Is(err, ErrNotCountingDown), errors.Is(err, ErrResetRequired):
		return KindStateConflict
	case errors.Is(err, ErrInvalidMessage):
		return KindValidation
	default:
		return KindInternal
	}
}

// Rules are the tunable parameters of one trading session.
type Rules struct {
	SessionSeconds   int
	CountdownSeconds int
	QuietAfter       int
	LossLimit        int64
	HistoryCapacity  int
	SnapshotHistory  int
	TickEvery        time.Duration
}

func DefaultRules() Rules {
	return Rules{
		SessionSeconds:   280,
		CountdownSeconds: 5,
		QuietAfter:       270,
		LossLimit:        500,
		HistoryCapacity:  500,
		SnapshotHistory:  100,
		TickEvery:        time.Second,
	}
}

func (r Rules) withDefaults() Rules {
	d := DefaultRules()
	if r.SessionSeconds <= 0 {
		r.SessionSeconds = d.SessionSeconds
	}
	if r.CountdownSeconds <= 0 {
		r.CountdownSeconds = d.CountdownSeconds
	}
	if r.QuietAfter <= 0 {
		r.QuietAfter = d.QuietAfter
	}
	if r.LossLimit <= 0 {
		r.LossLimit = d.LossLimit
	}
	if r.HistoryCapacity <= 0 {
		r.HistoryCapacity = d.HistoryCapacity
	}
	if r.SnapshotHistory <= 0 {
		r.SnapshotHistory = d.SnapshotHistory
	}
	if r.TickEvery <= 0 {
		r.TickEvery = d.TickEvery
	}
	return r
}

// MarketPrice is the price formed by the robot's demand plus the sum of all participant
// positions. The offset is floored toward negative infinity.
func MarketPrice(robotDemand float64, totalPosition int64) int64 {
	offset := math.Floor(Lambda * (robotDemand + float64(totalPosition)))
	return BasePrice + int64(offset)
}

func Bid(price int64) int64 { return price - 1 }

func Ask(price int64) int64 { return price + 1 }

// ExecPrice returns the side of the synthetic spread a trade of qty pays.
func ExecPrice(price, qty int64) int64 {
	if qty > 0 {
		return Ask(price)
	}
	return Bid(price)
}

// RobotTarget is the robot demand that moves the market price onto the fundamental value.
func RobotTarget(fundamental int64) float64 {
	return float64(fundamental-BasePrice) / Lambda
}

// UnrealizedPL marks a position against price. Flat positions and a zero cost basis yield zero.
func UnrealizedPL(position int64, avgPrice decimal.Decimal, price int64) decimal.Decimal {
	if position == 0 || avgPrice.IsZero() {
		return decimal.Zero
	}
	return decimal.NewFromInt(position).Mul(decimal.NewFromInt(price).Sub(avgPrice))
}

// FinalWealth marks a position to the fundamental value rather than the market.
func FinalWealth(cash decimal.Decimal, position, fundamental int64) decimal.Decimal {
	return cash.Add(decimal.NewFromInt(position).Mul(decimal.NewFromInt(fundamental)))
}

func DefaultDisplayName(id string) string {
	return "Trader-" + shortID(id)
}

// NormalizeDisplayName trims the name, falls back to the default for id and truncates
// to MaxDisplayNameRunes.
func NormalizeDisplayName(id, name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultDisplayName(id)
	}
	if utf8.RuneCountInString(name) > MaxDisplayNameRunes {
		name = string([]rune(name)[:MaxDisplayNameRunes])
	}
	return name
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
