// Package selfplay benchmarks the engine against a uniformly random player.
package selfplay

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/hailam/othello/internal/board"
	"github.com/hailam/othello/internal/engine"
	"github.com/hailam/othello/internal/storage"
)

// Config controls a benchmark run. At least one of Games and Duration must
// be set; the run ends at whichever limit is reached first.
type Config struct {
	Games      int           // Matches to finish (0 = no limit)
	Duration   time.Duration // Wall-clock window (0 = no limit)
	MoveTimeMs int           // Engine budget per move
	Parallel   int           // Matches played at once, each with its own engine
	Seed       uint64        // Seed for the random player
	Engine     engine.Config
	Storage    *storage.Storage // nil skips persisting the run
	Logger     zerolog.Logger
}

// Outcome is a match result from the engine's point of view.
type Outcome int

const (
	Loss Outcome = iota - 1
	Draw
	Win
)

func (o Outcome) String() string {
	switch o {
	case Win:
		return "win"
	case Loss:
		return "loss"
	}
	return "draw"
}

// Match is one finished game.
type Match struct {
	ID          uuid.UUID
	EngineFirst bool
	EngineDiscs int
	RandomDiscs int
	Plies       int
	Depths      []int // Completed depth of every searched engine move
}

// Outcome reports who won.
func (m Match) Outcome() Outcome {
	switch {
	case m.EngineDiscs > m.RandomDiscs:
		return Win
	case m.EngineDiscs < m.RandomDiscs:
		return Loss
	}
	return Draw
}

// Summary totals a run.
type Summary struct {
	ID             string
	Started        time.Time
	Elapsed        time.Duration
	Games          int
	Wins           int
	Losses         int
	Draws          int
	GamesPerSecond float64
	MeanDepth      float64
	Matches        []Match
}

// WinRate returns the engine's win rate as a percentage (0-100)
func (s Summary) WinRate() float64 {
	if s.Games == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Games) * 100
}

// Run plays matches until the configured limit and returns the totals.
// Matches still running when the window closes are discarded. When ctx is
// cancelled the finished matches are returned with ctx's error.
func Run(ctx context.Context, cfg Config) (Summary, error) {
	if cfg.Games <= 0 && cfg.Duration <= 0 {
		return Summary{}, errors.New("selfplay: need a game count or a duration")
	}
	parallel := max(cfg.Parallel, 1)
	log := cfg.Logger.With().Str("component", "selfplay").Logger()

	sum := Summary{ID: uuid.NewString(), Started: time.Now()}

	window := ctx
	if cfg.Duration > 0 {
		var cancel context.CancelFunc
		window, cancel = context.WithTimeout(ctx, cfg.Duration)
		defer cancel()
	}

	// One engine per concurrent match; each keeps its table across matches.
	engines := make(chan *engine.Engine, parallel)
	for range parallel {
		engines <- engine.NewEngine(cfg.Engine)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(window)
	g.SetLimit(parallel)

	for i := 0; cfg.Games <= 0 || i < cfg.Games; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			rng := rand.New(rand.NewPCG(cfg.Seed, uint64(i)))
			eng := <-engines
			defer func() { engines <- eng }()

			m, err := playMatch(gctx, eng, rng, i%2 == 0, cfg.MoveTimeMs)
			if err != nil {
				// The window closed mid-game.
				return nil
			}

			log.Debug().
				Str("match", m.ID.String()).
				Str("outcome", m.Outcome().String()).
				Int("engine", m.EngineDiscs).
				Int("random", m.RandomDiscs).
				Msg("match-complete")

			mu.Lock()
			sum.Matches = append(sum.Matches, m)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sum.Elapsed = time.Since(sum.Started)
	sum.tally()

	log.Info().
		Str("run", sum.ID).
		Int("games", sum.Games).
		Float64("win-rate", sum.WinRate()).
		Float64("games-per-second", sum.GamesPerSecond).
		Float64("mean-depth", sum.MeanDepth).
		Msg("bench-complete")

	if cfg.Storage != nil {
		run := storage.BenchRun{
			ID:             sum.ID,
			Started:        sum.Started,
			Duration:       sum.Elapsed,
			TimeMs:         cfg.MoveTimeMs,
			Threads:        cfg.Engine.Threads,
			Games:          sum.Games,
			Wins:           sum.Wins,
			Losses:         sum.Losses,
			Draws:          sum.Draws,
			GamesPerSecond: sum.GamesPerSecond,
			MeanDepth:      sum.MeanDepth,
		}
		if err := cfg.Storage.RecordBenchRun(run); err != nil {
			return sum, fmt.Errorf("selfplay: %w", err)
		}
	}

	return sum, ctx.Err()
}

func (s *Summary) tally() {
	s.Games = len(s.Matches)
	s.Wins = lo.CountBy(s.Matches, func(m Match) bool { return m.Outcome() == Win })
	s.Losses = lo.CountBy(s.Matches, func(m Match) bool { return m.Outcome() == Loss })
	s.Draws = s.Games - s.Wins - s.Losses

	if secs := s.Elapsed.Seconds(); secs > 0 {
		s.GamesPerSecond = float64(s.Games) / secs
	}

	depths := lo.FlatMap(s.Matches, func(m Match, _ int) []int { return m.Depths })
	if len(depths) > 0 {
		s.MeanDepth = float64(lo.Sum(depths)) / float64(len(depths))
	}
}

// playMatch plays one game between eng and a random mover.
func playMatch(ctx context.Context, eng *engine.Engine, rng *rand.Rand, engineFirst bool, moveTimeMs int) (Match, error) {
	m := Match{ID: uuid.New(), EngineFirst: engineFirst}
	pos := board.StartPosition()
	engineToMove := engineFirst

	for !pos.GameOver() {
		if err := ctx.Err(); err != nil {
			return Match{}, err
		}

		moves := pos.ValidMoves()
		sq := board.Pass
		switch {
		case moves == 0:
		case engineToMove:
			res := eng.Search(ctx, pos, engine.Limits{MoveTime: time.Duration(moveTimeMs) * time.Millisecond})
			sq = res.Move
			if res.Depth > 0 {
				m.Depths = append(m.Depths, res.Depth)
			}
		default:
			squares := moves.Squares()
			sq = squares[rng.IntN(len(squares))]
		}

		pos = pos.Play(sq)
		engineToMove = !engineToMove
		m.Plies++
	}

	if engineToMove {
		m.EngineDiscs, m.RandomDiscs = pos.Mover.PopCount(), pos.Opponent.PopCount()
	} else {
		m.EngineDiscs, m.RandomDiscs = pos.Opponent.PopCount(), pos.Mover.PopCount()
	}
	return m, nil
}
