package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/hailam/othello/internal/engine"
	"github.com/hailam/othello/internal/selfplay"
	"github.com/hailam/othello/internal/storage"
)

var (
	games    = flag.Int("games", 100, "matches to play (0 = until -duration ends)")
	duration = flag.Duration("duration", 0, "wall-clock limit for the run")
	moveTime = flag.Int("time", 100, "engine budget per move in ms")
	parallel = flag.Int("parallel", 1, "matches played at once")
	threads  = flag.Int("threads", 0, "search threads per engine (0 = CPU count)")
	hashMB   = flag.Int("hash", 16, "transposition table size per engine in MB")
	seed     = flag.Uint64("seed", uint64(time.Now().UnixNano()), "random player seed")
	logLevel = flag.String("log-level", "info", "log level (debug, info, warn, error)")
	noStore  = flag.Bool("no-store", false, "do not record the run in the data directory")
	history  = flag.Bool("history", false, "print recorded runs and exit")
)

func main() {
	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -log-level: %v\n", err)
		os.Exit(2)
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).With().Timestamp().Logger()

	if err := run(logger); err != nil {
		logger.Error().Err(err).Msg("bench-failed")
		os.Exit(1)
	}
}

func run(logger zerolog.Logger) error {
	var store *storage.Storage
	if !*noStore || *history {
		s, err := storage.NewStorage()
		if err != nil {
			return err
		}
		defer s.Close()
		store = s
	}

	if *history {
		return printHistory(store)
	}

	cfg := engine.DefaultConfig()
	if *threads > 0 {
		cfg.Threads = *threads
	}
	cfg.TableSizeMB = *hashMB

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sum, err := selfplay.Run(ctx, selfplay.Config{
		Games:      *games,
		Duration:   *duration,
		MoveTimeMs: *moveTime,
		Parallel:   *parallel,
		Seed:       *seed,
		Engine:     cfg,
		Storage:    store,
		Logger:     logger,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	fmt.Printf("games      %d (%d wins, %d losses, %d draws)\n", sum.Games, sum.Wins, sum.Losses, sum.Draws)
	fmt.Printf("win rate   %.1f%%\n", sum.WinRate())
	fmt.Printf("elapsed    %s\n", sum.Elapsed.Round(time.Millisecond))
	fmt.Printf("games/sec  %.2f\n", sum.GamesPerSecond)
	fmt.Printf("mean depth %.2f\n", sum.MeanDepth)
	return nil
}

func printHistory(store *storage.Storage) error {
	runs, err := store.BenchRuns()
	if err != nil {
		return err
	}
	for _, r := range runs {
		fmt.Printf("%s  %s  %4d games  %5.1f%%  %6.2f games/s  depth %.2f  %dms\n",
			r.Started.Format(time.DateTime), r.ID[:8], r.Games, r.WinRate(),
			r.GamesPerSecond, r.MeanDepth, r.TimeMs)
	}
	stats, err := store.LoadBenchStats()
	if err != nil {
		return err
	}
	fmt.Printf("total: %d runs, %d games, %.1f%% wins\n", stats.Runs, stats.Games, stats.GetWinRate())
	return nil
}
