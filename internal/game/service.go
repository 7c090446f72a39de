package game

import (
	"log/slog"
	mathrand "math/rand"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Authenticator checks the shared admin secret.
type Authenticator interface {
	CheckAdminSecret(secret string) bool
}

// Ticker is the scheduler's clock source.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

func newTimeTicker(d time.Duration) Ticker { return timeTicker{t: time.NewTicker(d)} }

type Options struct {
	Rules         Rules
	Logger        *slog.Logger
	Publisher     Publisher
	Recorder      Recorder
	Authenticator Authenticator
	Rand          *mathrand.Rand
	Now           func() time.Time
	NewTicker     func(time.Duration) Ticker
}

// Engine owns the whole market state. Every read-modify-write happens under mu; events
// produced while holding it are queued in outbox and published after it is released.
type Engine struct {
	mu        sync.Mutex
	pubMu     sync.Mutex
	rules     Rules
	log       *slog.Logger
	pub       Publisher
	rec       Recorder
	auth      Authenticator
	rand      *mathrand.Rand
	now       func() time.Time
	newTicker func(time.Duration) Ticker

	phase        Phase
	countdown    int
	timeLeft     int
	timeElapsed  int
	fundamental  int64
	lastNews     int
	robotDemand  float64
	marketPrice  int64
	marketBuys   float64
	marketSells  float64
	curSecBuy    float64
	curSecSell   float64
	history      *history
	participants map[string]*Participant
	admins       map[string]struct{}
	startedAt    *time.Time
	seq          uint64

	outbox  []Event
	driving bool
	closed  bool
	done    chan struct{}
	wg      sync.WaitGroup
}

func NewEngine(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Publisher == nil {
		opts.Publisher = PublisherFunc(func(Event) {})
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.Rand == nil {
		opts.Rand = mathrand.New(mathrand.NewSource(time.Now().UnixNano()))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewTicker == nil {
		opts.NewTicker = newTimeTicker
	}
	rules := opts.Rules.withDefaults()
	e := &Engine{
		rules:        rules,
		log:          opts.Logger,
		pub:          opts.Publisher,
		rec:          opts.Recorder,
		auth:         opts.Authenticator,
		rand:         opts.Rand,
		now:          opts.Now,
		newTicker:    opts.NewTicker,
		history:      newHistory(rules.HistoryCapacity),
		participants: map[string]*Participant{},
		admins:       map[string]struct{}{},
		done:         make(chan struct{}),
	}
	e.resetLocked()
	return e
}

func (e *Engine) Rules() Rules { return e.rules }

// Shutdown stops the scheduler and rejects every later operation.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.done)
	e.mu.Unlock()
	e.wg.Wait()
}

// resetLocked returns the market to its initial state. Identities, names, connection
// flags and admin flags are kept.
func (e *Engine) resetLocked() {
	e.phase = PhaseIdle
	e.countdown = e.rules.CountdownSeconds
	e.timeLeft = e.rules.SessionSeconds
	e.timeElapsed = 0
	e.fundamental = BasePrice
	e.lastNews = 0
	e.robotDemand = 0
	e.marketPrice = BasePrice
	e.marketBuys = 0
	e.marketSells = 0
	e.curSecBuy = 0
	e.curSecSell = 0
	e.startedAt = nil
	e.history.reset(HistoryPoint{
		T:     0,
		Price: e.marketPrice,
		Bid:   Bid(e.marketPrice),
		Ask:   Ask(e.marketPrice),
	})
	for _, p := range e.participants {
		p.resetTrading()
	}
}

// update runs fn under the engine lock and then publishes whatever fn queued. When fn fails
// and rejectTo is set, a rejection addressed to that session is published as well.
func (e *Engine) update(op, rejectTo string, fn func() error) error {
	e.mu.Lock()
	var err error
	if e.closed {
		err = ErrEngineClosed
	} else {
		err = fn()
	}
	if err != nil && rejectTo != "" {
		e.log.Debug("operation rejected", "op", op, "session", rejectTo, "err", err)
		e.emit(Event{
			Kind:      EventRejected,
			SessionID: rejectTo,
			Payload:   RejectedPayload{Op: op, Kind: KindOf(err), Message: err.Error()},
		})
	}
	out := e.outbox
	e.outbox = nil
	// pubMu is taken before mu is released so events leave in commit order.
	e.pubMu.Lock()
	e.mu.Unlock()
	defer e.pubMu.Unlock()
	for _, ev := range out {
		e.pub.Publish(ev)
	}
	return err
}

func (e *Engine) emit(ev Event) {
	e.outbox = append(e.outbox, ev)
}

func (e *Engine) setPhaseLocked(phase Phase) {
	if e.phase == phase {
		return
	}
	e.log.Info("phase change", "from", e.phase, "to", phase, "elapsed", e.timeElapsed)
	e.phase = phase
	e.rec.PhaseChanged(phase)
}

func (e *Engine) ensureParticipantLocked(id string) *Participant {
	p, ok := e.participants[id]
	if !ok {
		p = newParticipant(id)
		e.participants[id] = p
	}
	return p
}

func (e *Engine) isAdminLocked(id string) bool {
	_, ok := e.admins[id]
	return ok
}

func (e *Engine) requireAdminLocked(id string) error {
	if !e.isAdminLocked(id) {
		return ErrNotAdmin
	}
	return nil
}

// sortedParticipantsLocked returns participants in id order so passes over them are deterministic.
func (e *Engine) sortedParticipantsLocked() []*Participant {
	out := make([]*Participant, 0, len(e.participants))
	for _, p := range e.participants {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (e *Engine) totalPositionLocked() int64 {
	var total int64
	for _, p := range e.participants {
		total += p.Position
	}
	return total
}

func (e *Engine) recomputePriceLocked() {
	e.marketPrice = MarketPrice(e.robotDemand, e.totalPositionLocked())
}

// IsAdmin reports whether the session holds admin status.
func (e *Engine) IsAdmin(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isAdminLocked(id)
}

// Snapshot returns a consistent view of the current state without publishing it.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buildSnapshotLocked()
}

func (e *Engine) finalWealthLocked(p *Participant) decimal.Decimal {
	return FinalWealth(p.Cash, p.Position, e.fundamental)
}
