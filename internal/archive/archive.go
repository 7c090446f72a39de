package archive

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tradepit/internal/game"
)

const queueSize = 16

// Run is one finished session ready to be written.
type Run struct {
	ID               uuid.UUID
	StartedAt        *time.Time
	EndedAt          time.Time
	FundamentalValue int64
	Rows             []Row
}

type Row struct {
	ParticipantID string
	Name          string
	FinalWealth   string
}

// Sink writes ended sessions to Postgres from a background worker. Publish never blocks;
// when the queue is full the run is dropped and logged.
type Sink struct {
	log   *slog.Logger
	write func(ctx context.Context, run Run) error
	queue chan Run
	wg    sync.WaitGroup
}

func NewSink(pool *pgxpool.Pool, logger *slog.Logger) *Sink {
	return newSink(logger, func(ctx context.Context, run Run) error {
		return writeRun(ctx, pool, run)
	})
}

func newSink(logger *slog.Logger, write func(context.Context, Run) error) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		log:   logger.With("component", "archive"),
		write: write,
		queue: make(chan Run, queueSize),
	}
}

func (s *Sink) Publish(ev game.Event) {
	if ev.Kind != game.EventSessionEnded {
		return
	}
	results, ok := ev.Payload.(game.SessionResults)
	if !ok {
		return
	}
	run := runFromResults(results)
	select {
	case s.queue <- run:
	default:
		s.log.Warn("archive queue full, dropping session", "run_id", run.ID)
	}
}

// Start runs the worker until ctx is cancelled. Queued runs are flushed before it returns.
func (s *Sink) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case run := <-s.queue:
				s.store(ctx, run)
			case <-ctx.Done():
				for {
					select {
					case run := <-s.queue:
						s.store(context.Background(), run)
					default:
						return
					}
				}
			}
		}
	}()
}

func (s *Sink) Wait() { s.wg.Wait() }

func (s *Sink) store(ctx context.Context, run Run) {
	writeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := s.write(writeCtx, run); err != nil {
		s.log.Error("archive session failed", "run_id", run.ID, "err", err)
		return
	}
	s.log.Info("session archived", "run_id", run.ID, "participants", len(run.Rows))
}

func runFromResults(results game.SessionResults) Run {
	run := Run{
		ID:               uuid.New(),
		StartedAt:        results.StartedAt,
		EndedAt:          results.EndedAt,
		FundamentalValue: results.FundamentalValue,
		Rows:             make([]Row, 0, len(results.Results)),
	}
	for id, r := range results.Results {
		run.Rows = append(run.Rows, Row{
			ParticipantID: id,
			Name:          r.Name,
			FinalWealth:   r.FinalWealth.String(),
		})
	}
	sort.Slice(run.Rows, func(i, j int) bool { return run.Rows[i].ParticipantID < run.Rows[j].ParticipantID })
	return run
}

// EnsureSchema creates the archive tables when they are missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE SCHEMA IF NOT EXISTS tradepit;
		CREATE TABLE IF NOT EXISTS tradepit.sessions (
		    id uuid PRIMARY KEY,
		    started_at timestamptz,
		    ended_at timestamptz NOT NULL,
		    fundamental_value bigint NOT NULL
		);
		CREATE TABLE IF NOT EXISTS tradepit.session_results (
		    session_id uuid NOT NULL REFERENCES tradepit.sessions(id) ON DELETE CASCADE,
		    participant_id text NOT NULL,
		    display_name text NOT NULL,
		    final_wealth numeric NOT NULL,
		    PRIMARY KEY (session_id, participant_id)
		);
	`)
	if err != nil {
		return fmt.Errorf("ensure archive schema: %w", err)
	}
	return nil
}

func writeRun(ctx context.Context, pool *pgxpool.Pool, run Run) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO tradepit.sessions (id, started_at, ended_at, fundamental_value)
		VALUES ($1, $2, $3, $4)
	`, run.ID, run.StartedAt, run.EndedAt, run.FundamentalValue); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	batch := &pgx.Batch{}
	for _, row := range run.Rows {
		batch.Queue(`
			INSERT INTO tradepit.session_results (session_id, participant_id, display_name, final_wealth)
			VALUES ($1, $2, $3, $4::numeric)
		`, run.ID, row.ParticipantID, row.Name, row.FinalWealth)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert results: %w", err)
	}
	return tx.Commit(ctx)
}
