package main

import (
	"context"
	"fmt"
	"log/slog"
	mathrand "math/rand"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	cl "tradepit/internal/cli"
	"tradepit/internal/config"
	"tradepit/internal/game"
	"tradepit/internal/wire"

	"github.com/joho/godotenv"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()
	cfg := config.LoadBotsFromEnv()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	logger.Info("bots started",
		"server", cfg.ServerURL,
		"count", cfg.Count,
		"trade_every", cfg.TradeEvery.String(),
		"max_qty", cfg.MaxQty,
	)

	var wg sync.WaitGroup
	for i := 0; i < cfg.Count; i++ {
		b := &bot{
			name:   fmt.Sprintf("bot-%02d", i+1),
			cfg:    cfg,
			log:    logger.With("bot", i+1),
			random: mathrand.New(mathrand.NewSource(time.Now().UnixNano() + int64(i))),
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.run(ctx)
		}()
	}
	wg.Wait()
	logger.Info("bots shutdown")
}

type bot struct {
	name        string
	cfg         config.BotsConfig
	log         *slog.Logger
	random      *mathrand.Rand
	session     string
	resumeToken string
	running     atomic.Bool
}

// run keeps one bot connected until ctx is done, reconnecting with the same session.
func (b *bot) run(ctx context.Context) {
	for {
		err := b.connectOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		b.log.Warn("bot disconnected", "err", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}

func (b *bot) connectOnce(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	stream, err := cl.Dial(dialCtx, b.cfg.ServerURL, b.session, b.resumeToken)
	cancel()
	if err != nil {
		return err
	}
	defer stream.Close()
	b.session = stream.SessionID()
	b.resumeToken = stream.ResumeToken()
	if err := stream.Send(wire.TypeSetUsername, wire.SetUsername{Name: b.name}); err != nil {
		return err
	}

	readErr := make(chan error, 1)
	go func() { readErr <- b.read(ctx, stream) }()

	// stagger bots so they do not all trade on the same tick
	jitter := time.Duration(b.random.Int63n(int64(b.cfg.TradeEvery)))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-readErr:
		return err
	case <-time.After(jitter):
	}

	ticker := time.NewTicker(b.cfg.TradeEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return err
		case <-ticker.C:
			if !b.running.Load() {
				continue
			}
			qty := b.nextQty()
			if err := stream.Send(wire.TypeTrade, wire.Trade{Qty: qty}); err != nil {
				return err
			}
			b.log.Debug("trade sent", "qty", qty)
		}
	}
}

func (b *bot) read(ctx context.Context, stream *cl.Stream) error {
	for {
		env, err := stream.Next(ctx)
		if err != nil {
			return err
		}
		switch env.Type {
		case string(game.EventSnapshot):
			st, err := cl.DecodeState(env.Payload)
			if err != nil {
				return err
			}
			b.running.Store(st.Market.Phase == game.PhaseRunning)
		case string(game.EventLiquidation):
			b.log.Info("liquidation observed", "payload", string(env.Payload))
		case string(game.EventRejected):
			b.log.Debug("frame rejected", "payload", string(env.Payload))
		case string(game.EventSessionEnded):
			b.running.Store(false)
			b.log.Info("session ended")
		}
	}
}

// nextQty returns a non-zero quantity in [-MaxQty, MaxQty].
func (b *bot) nextQty() int64 {
	n := int64(b.random.Intn(b.cfg.MaxQty) + 1)
	if b.random.Intn(2) == 0 {
		return -n
	}
	return n
}
