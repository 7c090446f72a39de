package game

import (
	"errors"
	"io"
	"log/slog"
	mathrand "math/rand"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

const testSecret = "s3cret"

type secretAuth string

func (s secretAuth) CheckAdminSecret(secret string) bool { return secret == string(s) }

type manualTicker struct{ ch chan time.Time }

func (m *manualTicker) C() <-chan time.Time { return m.ch }
func (m *manualTicker) Stop()               {}

type capture struct {
	mu     sync.Mutex
	events []Event
}

func (c *capture) Publish(ev Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *capture) all() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

func (c *capture) ofKind(kind EventKind) []Event {
	var out []Event
	for _, ev := range c.all() {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func (c *capture) clear() {
	c.mu.Lock()
	c.events = nil
	c.mu.Unlock()
}

type testEngine struct {
	*Engine
	pub    *capture
	ticker *manualTicker
}

func newTestEngine(t *testing.T, rules Rules) *testEngine {
	t.Helper()
	pub := &capture{}
	ticker := &manualTicker{ch: make(chan time.Time)}
	e := NewEngine(Options{
		Rules:         rules,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		Publisher:     pub,
		Authenticator: secretAuth(testSecret),
		Rand:          mathrand.New(mathrand.NewSource(1)),
		Now:           func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
		NewTicker:     func(time.Duration) Ticker { return ticker },
	})
	t.Cleanup(e.Shutdown)
	return &testEngine{Engine: e, pub: pub, ticker: ticker}
}

func (te *testEngine) login(t *testing.T, id string) {
	t.Helper()
	if err := te.Connect(id); err != nil {
		t.Fatalf("connect %s: %v", id, err)
	}
	if err := te.AuthenticateAdmin(id, testSecret); err != nil {
		t.Fatalf("admin login %s: %v", id, err)
	}
}

// run starts a session and ticks through the countdown without advancing the clock.
func (te *testEngine) run(t *testing.T, admin string) {
	t.Helper()
	if err := te.Start(admin); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < te.rules.CountdownSeconds; i++ {
		te.tick()
	}
	if te.phase != PhaseRunning {
		t.Fatalf("phase after countdown: %s", te.phase)
	}
}

func (te *testEngine) participant(t *testing.T, id string) *Participant {
	t.Helper()
	p, ok := te.participants[id]
	if !ok {
		t.Fatalf("participant %s missing", id)
	}
	return p
}

func TestFirstBuyScenario(t *testing.T) {
	te := newTestEngine(t, Rules{})
	te.login(t, "admin")
	te.Connect("alice")
	te.run(t, "admin")

	if err := te.SubmitTrade("alice", 10); err != nil {
		t.Fatalf("trade: %v", err)
	}
	p := te.participant(t, "alice")
	if p.Position != 10 {
		t.Fatalf("position got %d want 10", p.Position)
	}
	if !p.Cash.Equal(decimal.NewFromInt(-5010)) {
		t.Fatalf("cash got %s want -5010", p.Cash)
	}
	if !p.AvgPrice.Equal(decimal.NewFromInt(501)) {
		t.Fatalf("avg got %s want 501", p.AvgPrice)
	}
	snap := te.Snapshot()
	if snap.Market.MarketPrice != 501 || snap.Market.Bid != 500 || snap.Market.Ask != 502 {
		t.Fatalf("market got price=%d bid=%d ask=%d", snap.Market.MarketPrice, snap.Market.Bid, snap.Market.Ask)
	}
	trade := p.TradeHistory[0]
	if trade.Side != SideBuy || trade.ExecPrice != 501 || trade.MarketPrice != 500 || trade.PositionAfter != 10 {
		t.Fatalf("trade record %+v", trade)
	}
}

func TestTradeRejectedOutsideRunning(t *testing.T) {
	te := newTestEngine(t, Rules{})
	te.Connect("alice")

	err := te.SubmitTrade("alice", 5)
	if !errors.Is(err, ErrNotRunning) {
		t.Fatalf("got %v want ErrNotRunning", err)
	}
	rejected := te.pub.ofKind(EventRejected)
	if len(rejected) != 1 || rejected[0].SessionID != "alice" {
		t.Fatalf("rejections %+v", rejected)
	}
	payload := rejected[0].Payload.(RejectedPayload)
	if payload.Kind != KindPrecondition || payload.Op != "trade" {
		t.Fatalf("rejection payload %+v", payload)
	}
	if p := te.participant(t, "alice"); p.Position != 0 || len(p.TradeHistory) != 0 {
		t.Fatalf("rejected trade changed state: %+v", p)
	}
}

func TestZeroQuantityIsIgnored(t *testing.T) {
	te := newTestEngine(t, Rules{})
	te.login(t, "admin")
	te.Connect("alice")
	te.run(t, "admin")
	te.pub.clear()

	if err := te.SubmitTrade("alice", 0); err != nil {
		t.Fatalf("zero trade: %v", err)
	}
	if evs := te.pub.all(); len(evs) != 0 {
		t.Fatalf("zero trade published %d events", len(evs))
	}
}

func TestPriceTracksDemandAfterEveryOperation(t *testing.T) {
	te := newTestEngine(t, Rules{})
	te.login(t, "admin")
	ids := []string{"a", "b", "c"}
	for _, id := range ids {
		te.Connect(id)
	}
	te.run(t, "admin")

	r := mathrand.New(mathrand.NewSource(7))
	for step := 0; step < 120; step++ {
		if step%3 == 0 {
			te.tick()
		} else {
			qty := int64(r.Intn(21) - 10)
			te.SubmitTrade(ids[r.Intn(len(ids))], qty)
		}
		if te.phase != PhaseRunning {
			break
		}
		want := MarketPrice(te.robotDemand, te.totalPositionLocked())
		if te.marketPrice != want {
			t.Fatalf("step %d: price %d want %d", step, te.marketPrice, want)
		}
		for _, p := range te.participants {
			if (p.Position == 0) != p.AvgPrice.IsZero() {
				t.Fatalf("step %d: %s position=%d avg=%s", step, p.ID, p.Position, p.AvgPrice)
			}
		}
	}
}

func TestTradeTriggersOwnLiquidation(t *testing.T) {
	te := newTestEngine(t, Rules{})
	te.login(t, "admin")
	te.Connect("a")
	te.Connect("b")
	te.run(t, "admin")

	te.SubmitTrade("a", 100)
	te.SubmitTrade("b", -200)
	if p := te.participant(t, "a"); p.Position != 100 {
		t.Fatalf("a should not be checked on b's trade, position %d", p.Position)
	}
	if te.marketPrice != 487 {
		t.Fatalf("price got %d want 487", te.marketPrice)
	}

	te.SubmitTrade("a", 1)
	a := te.participant(t, "a")
	if a.Position != 0 || !a.AvgPrice.IsZero() {
		t.Fatalf("a not flattened: position=%d avg=%s", a.Position, a.AvgPrice)
	}
	if !a.Cash.Equal(decimal.NewFromInt(-1502)) {
		t.Fatalf("cash got %s want -1502", a.Cash)
	}
	last := a.TradeHistory[len(a.TradeHistory)-1]
	if !last.Forced || last.Side != SideSell || last.Quantity != 101 || last.ExecPrice != 486 {
		t.Fatalf("forced trade %+v", last)
	}
	if te.marketPrice != 475 {
		t.Fatalf("price after liquidation got %d want 475", te.marketPrice)
	}
	liq := te.pub.ofKind(EventLiquidation)
	if len(liq) != 1 || !liq[0].Broadcast() {
		t.Fatalf("liquidation events %+v", liq)
	}
}

func TestTickRiskPassLiquidates(t *testing.T) {
	te := newTestEngine(t, Rules{})
	te.login(t, "admin")
	te.Connect("a")
	te.Connect("b")
	te.run(t, "admin")

	te.SubmitTrade("a", 100)
	te.SubmitTrade("b", -200)
	te.tick()

	a := te.participant(t, "a")
	if a.Position != 0 {
		t.Fatalf("a position got %d want 0", a.Position)
	}
	if b := te.participant(t, "b"); b.Position != -200 {
		t.Fatalf("b position got %d want -200", b.Position)
	}
	if got := len(te.pub.ofKind(EventLiquidation)); got != 1 {
		t.Fatalf("liquidations got %d want 1", got)
	}
	if want := MarketPrice(te.robotDemand, -200); te.marketPrice != want {
		t.Fatalf("price got %d want %d", te.marketPrice, want)
	}
}

func TestCountdownCancelAndRestart(t *testing.T) {
	te := newTestEngine(t, Rules{})
	te.login(t, "admin")

	if err := te.Start("admin"); err != nil {
		t.Fatalf("start: %v", err)
	}
	te.tick()
	te.tick()
	if te.countdown != 3 {
		t.Fatalf("countdown got %d want 3", te.countdown)
	}
	if err := te.Cancel("admin"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if te.phase != PhaseIdle {
		t.Fatalf("phase got %s want idle", te.phase)
	}
	if err := te.Start("admin"); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if te.countdown != 5 {
		t.Fatalf("countdown got %d want 5", te.countdown)
	}
	if err := te.Cancel("admin"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := te.Cancel("admin"); !errors.Is(err, ErrNotCountingDown) {
		t.Fatalf("second cancel got %v", err)
	}
}

func TestStartConflicts(t *testing.T) {
	te := newTestEngine(t, Rules{SessionSeconds: 3, QuietAfter: 2})
	te.login(t, "admin")
	te.Connect("alice")

	if err := te.Start("alice"); !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("non-admin start got %v", err)
	}
	if te.phase != PhaseIdle {
		t.Fatalf("non-admin start changed phase to %s", te.phase)
	}
	te.run(t, "admin")
	if err := te.Start("admin"); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("start while running got %v", err)
	}
	for i := 0; i < 3; i++ {
		te.tick()
	}
	if te.phase != PhaseEnded {
		t.Fatalf("phase got %s want ended", te.phase)
	}
	if err := te.Start("admin"); !errors.Is(err, ErrResetRequired) {
		t.Fatalf("start after end got %v", err)
	}
}

func TestAdminLogin(t *testing.T) {
	te := newTestEngine(t, Rules{})
	te.Connect("x")

	if err := te.AuthenticateAdmin("x", "wrong"); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("bad secret got %v", err)
	}
	if te.IsAdmin("x") {
		t.Fatal("bad secret granted admin")
	}
	results := te.pub.ofKind(EventAdminAuthResult)
	if len(results) != 1 || results[0].Payload.(AdminAuthPayload).Success {
		t.Fatalf("auth results %+v", results)
	}
	if got := len(te.pub.ofKind(EventRejected)); got != 0 {
		t.Fatalf("failed login also published %d rejections", got)
	}

	if err := te.AuthenticateAdmin("x", testSecret); err != nil {
		t.Fatalf("login: %v", err)
	}
	snap := te.Snapshot()
	if !snap.IsAdmin("x") {
		t.Fatal("admin missing from snapshot")
	}
	if _, ok := snap.Participants["x"]; ok {
		t.Fatal("admin listed as participant")
	}
	if snap.Market.OnlineCount != 0 {
		t.Fatalf("online count got %d want 0", snap.Market.OnlineCount)
	}
}

func TestSessionEndsWithFinalWealth(t *testing.T) {
	te := newTestEngine(t, Rules{})
	te.login(t, "admin")
	te.Connect("alice")
	te.run(t, "admin")

	for te.timeElapsed < 279 {
		te.tick()
	}
	if te.phase != PhaseRunning {
		t.Fatalf("phase at elapsed 279: %s", te.phase)
	}
	p := te.participant(t, "alice")
	te.mu.Lock()
	te.fundamental = 530
	p.Position = 5
	p.Cash = decimal.NewFromInt(100)
	p.AvgPrice = decimal.NewFromInt(530)
	te.mu.Unlock()

	if keep := te.tick(); keep {
		t.Fatal("driver should stop after the last tick")
	}
	if te.phase != PhaseEnded || te.timeElapsed != 280 || te.timeLeft != 0 {
		t.Fatalf("phase=%s elapsed=%d left=%d", te.phase, te.timeElapsed, te.timeLeft)
	}
	ended := te.pub.ofKind(EventSessionEnded)
	if len(ended) != 1 {
		t.Fatalf("session ended events got %d", len(ended))
	}
	results := ended[0].Payload.(SessionResults)
	if _, ok := results.Results["admin"]; ok {
		t.Fatal("admin included in results")
	}
	got := results.Results["alice"]
	if !got.FinalWealth.Equal(decimal.NewFromInt(2750)) || got.FundamentalValue != 530 {
		t.Fatalf("result %+v", got)
	}
	if err := te.SubmitTrade("alice", 1); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("trade after end got %v", err)
	}
}

func TestQuietPeriodFreezesFundamental(t *testing.T) {
	te := newTestEngine(t, Rules{SessionSeconds: 20, QuietAfter: 10})
	te.login(t, "admin")
	te.run(t, "admin")

	for te.timeElapsed < 10 {
		te.tick()
	}
	frozen := te.fundamental
	if d := frozen - BasePrice; d > 10 || d < -10 {
		t.Fatalf("fundamental moved %d in 10 ticks", d)
	}
	for te.phase == PhaseRunning {
		te.tick()
		if te.fundamental != frozen {
			t.Fatalf("fundamental moved during quiet period at t=%d", te.timeElapsed)
		}
	}
}

func TestHistoryCapacityAndSnapshotWindow(t *testing.T) {
	te := newTestEngine(t, Rules{SessionSeconds: 30, HistoryCapacity: 8, SnapshotHistory: 4})
	te.login(t, "admin")
	te.run(t, "admin")
	for i := 0; i < 12; i++ {
		te.tick()
	}
	if te.history.len() != 8 {
		t.Fatalf("history len got %d want 8", te.history.len())
	}
	hist := te.Snapshot().Market.History
	if len(hist) != 4 {
		t.Fatalf("snapshot history got %d want 4", len(hist))
	}
	for i, want := range []int{9, 10, 11, 12} {
		if hist[i].T != want {
			t.Fatalf("point %d got t=%d want %d", i, hist[i].T, want)
		}
		if hist[i].Bid != hist[i].Price-1 || hist[i].Ask != hist[i].Price+1 {
			t.Fatalf("point %d spread %+v", i, hist[i])
		}
	}
}

func TestResetRestoresInitialState(t *testing.T) {
	te := newTestEngine(t, Rules{})
	te.login(t, "admin")
	te.Connect("alice")
	te.SetDisplayName("alice", "Alice")
	initial := te.Snapshot()

	te.run(t, "admin")
	te.SubmitTrade("alice", 7)
	te.tick()
	te.tick()
	if err := te.Reset("admin"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	after := te.Snapshot()

	if after.Market.Phase != PhaseIdle || after.Market.MarketPrice != BasePrice || after.Market.FundamentalValue != BasePrice {
		t.Fatalf("market after reset %+v", after.Market)
	}
	want := []HistoryPoint{{T: 0, Price: 500, Bid: 499, Ask: 501}}
	if len(after.Market.History) != 1 || after.Market.History[0] != want[0] {
		t.Fatalf("history after reset %+v", after.Market.History)
	}
	alice := after.Participants["alice"]
	if alice.Name != "Alice" || alice.Position != 0 || !alice.Cash.IsZero() || alice.Buys != 0 {
		t.Fatalf("alice after reset %+v", alice)
	}
	if after.Market.MarketBuys != initial.Market.MarketBuys || after.Market.TimeLeft != initial.Market.TimeLeft {
		t.Fatalf("market counters differ: before %+v after %+v", initial.Market, after.Market)
	}
	if !after.IsAdmin("admin") {
		t.Fatal("reset dropped admin status")
	}
	if got := len(te.pub.ofKind(EventResetConfirmed)); got != 1 {
		t.Fatalf("reset confirmations got %d", got)
	}
}

func TestExportSortedByName(t *testing.T) {
	te := newTestEngine(t, Rules{})
	te.login(t, "admin")
	te.Connect("11111111-zz")
	te.Connect("22222222-aa")
	te.SetDisplayName("11111111-zz", "bob")
	te.SetDisplayName("22222222-aa", "alice")
	te.run(t, "admin")
	te.SubmitTrade("11111111-zz", 3)

	if _, err := te.Export("11111111-zz"); !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("non-admin export got %v", err)
	}
	out, err := te.Export("admin")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(out.Users) != 2 {
		t.Fatalf("users got %d want 2", len(out.Users))
	}
	if out.Users[0].Name != "alice" || out.Users[1].Name != "bob" {
		t.Fatalf("order %s, %s", out.Users[0].Name, out.Users[1].Name)
	}
	bob := out.Users[1]
	if bob.UserID != "11111111" || bob.FinalStats.TotalBuys != 3 || len(bob.TradeHistory) != 1 {
		t.Fatalf("bob export %+v", bob)
	}
	if out.GameInfo.IsCompleted || out.GameInfo.StartTime == nil {
		t.Fatalf("game info %+v", out.GameInfo)
	}
	exports := te.pub.ofKind(EventExportResult)
	if len(exports) != 1 || exports[0].SessionID != "admin" {
		t.Fatalf("export events %+v", exports)
	}
}

func TestSnapshotListsConnectedParticipantsByName(t *testing.T) {
	te := newTestEngine(t, Rules{})
	te.Connect("b")
	te.Connect("a")
	te.Connect("c")
	te.SetDisplayName("a", "zed")
	te.SetDisplayName("b", "amy")
	te.SetDisplayName("c", "max")
	te.Disconnect("c")

	snap := te.Snapshot()
	if snap.Market.OnlineCount != 2 {
		t.Fatalf("online count got %d want 2", snap.Market.OnlineCount)
	}
	if snap.Market.OnlineUsers[0].Name != "amy" || snap.Market.OnlineUsers[1].Name != "zed" {
		t.Fatalf("online users %+v", snap.Market.OnlineUsers)
	}
	if _, ok := snap.Participants["c"]; ok {
		t.Fatal("disconnected participant in snapshot")
	}
}

func TestSnapshotSequenceIncreases(t *testing.T) {
	te := newTestEngine(t, Rules{})
	te.login(t, "admin")
	te.Connect("alice")
	te.run(t, "admin")
	te.SubmitTrade("alice", 2)
	te.tick()

	var last uint64
	for _, ev := range te.pub.ofKind(EventSnapshot) {
		seq := ev.Payload.(*Snapshot).Market.Seq
		if seq <= last {
			t.Fatalf("seq %d after %d", seq, last)
		}
		last = seq
	}
}

func TestDriverRunsCountdownOnTicker(t *testing.T) {
	te := newTestEngine(t, Rules{})
	te.login(t, "admin")
	if err := te.Start("admin"); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < 6; i++ {
		te.ticker.ch <- time.Time{}
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		snap := te.Snapshot()
		if snap.Market.Phase == PhaseRunning && snap.Market.TimeElapsed >= 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("driver did not advance: phase=%s elapsed=%d", snap.Market.Phase, snap.Market.TimeElapsed)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestShutdownRejectsOperations(t *testing.T) {
	te := newTestEngine(t, Rules{})
	te.login(t, "admin")
	te.Start("admin")
	te.Shutdown()
	if err := te.Connect("late"); !errors.Is(err, ErrEngineClosed) {
		t.Fatalf("connect after shutdown got %v", err)
	}
}

func TestConcurrentTradesTicksAndSnapshots(t *testing.T) {
	te := newTestEngine(t, Rules{SessionSeconds: 10000, QuietAfter: 10000})
	te.login(t, "admin")
	traders := []string{"t1", "t2", "t3", "t4"}
	for _, id := range traders {
		te.Connect(id)
	}
	te.run(t, "admin")

	const rounds = 300
	var wg sync.WaitGroup
	for i, id := range traders {
		wg.Add(1)
		go func(id string, seed int64) {
			defer wg.Done()
			r := mathrand.New(mathrand.NewSource(seed))
			for n := 0; n < rounds; n++ {
				if err := te.SubmitTrade(id, int64(r.Intn(41)-20)); err != nil {
					t.Errorf("trade %s: %v", id, err)
					return
				}
				snap := te.Snapshot()
				if snap.Market.Bid != snap.Market.MarketPrice-1 || snap.Market.Ask != snap.Market.MarketPrice+1 {
					t.Errorf("spread off price: %+v", snap.Market)
					return
				}
				for _, v := range snap.Participants {
					if (v.Position == 0) != v.AvgPrice.IsZero() {
						t.Errorf("%s: position %d with avg %s", v.ID, v.Position, v.AvgPrice)
						return
					}
				}
				if n%50 == 0 {
					_ = te.Disconnect(id)
					_ = te.Connect(id)
				}
			}
		}(id, int64(i+1))
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for n := 0; n < rounds; n++ {
			if !te.tick() {
				t.Errorf("driver stopped at tick %d", n)
				return
			}
		}
	}()
	wg.Wait()

	te.mu.Lock()
	defer te.mu.Unlock()
	if te.phase != PhaseRunning {
		t.Fatalf("phase got %s want running", te.phase)
	}
	if want := MarketPrice(te.robotDemand, te.totalPositionLocked()); te.marketPrice != want {
		t.Fatalf("market price %d, demand implies %d", te.marketPrice, want)
	}
	var trades int
	for id, p := range te.participants {
		if (p.Position == 0) != p.AvgPrice.IsZero() {
			t.Fatalf("%s: position %d with avg %s", id, p.Position, p.AvgPrice)
		}
		var pos int64
		for _, rec := range p.TradeHistory {
			if rec.Side == SideBuy {
				pos += rec.Quantity
			} else {
				pos -= rec.Quantity
			}
		}
		if pos != p.Position {
			t.Fatalf("%s: trade log sums to %d, position %d", id, pos, p.Position)
		}
		trades += len(p.TradeHistory)
	}
	if trades == 0 {
		t.Fatal("no trades recorded")
	}
	if te.timeElapsed != rounds {
		t.Fatalf("elapsed got %d want %d", te.timeElapsed, rounds)
	}
}
