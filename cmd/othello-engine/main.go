package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/hailam/othello/internal/book"
	"github.com/hailam/othello/internal/engine"
	"github.com/hailam/othello/internal/protocol"
	"github.com/hailam/othello/internal/storage"
)

var (
	cpuprofile = flag.String("cpuprofile", "", "write cpu profile to file")
	logLevel   = flag.String("log-level", "info", "log level (debug, info, warn, error)")
	threads    = flag.Int("threads", 0, "search threads (0 = saved preference or CPU count)")
	hashMB     = flag.Int("hash", 64, "transposition table size in MB")
	noBook     = flag.Bool("no-book", false, "run without the opening book")
	dataDir    = flag.String("data-dir", "", "data directory (default: per-user app data)")
	bookImport = flag.String("book-import", "", "import book records from file and exit")
	bookExport = flag.String("book-export", "", "export book records to file and exit")
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
		logger.Error().Err(err).Msg("engine-exit")
		os.Exit(1)
	}
}

func run(logger zerolog.Logger) error {
	// Start CPU profiling if requested (via flag or environment variable)
	profilePath := *cpuprofile
	if profilePath == "" {
		profilePath = os.Getenv("CPUPROFILE")
	}
	if profilePath != "" {
		f, err := os.Create(profilePath)
		if err != nil {
			return fmt.Errorf("create cpu profile: %w", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			return fmt.Errorf("start cpu profile: %w", err)
		}
		defer pprof.StopCPUProfile()
		logger.Info().Str("path", profilePath).Msg("cpu-profiling")
	}

	store, err := openStorage()
	if err != nil {
		return err
	}
	defer store.Close()

	prefs, err := store.LoadPreferences()
	if err != nil {
		logger.Warn().Err(err).Msg("preferences-unreadable")
		prefs = storage.DefaultPreferences()
	}
	if *threads > 0 {
		prefs.Threads = *threads
	}
	if *noBook {
		prefs.Book = false
	}

	bk, err := book.New(store.DB(), logger)
	if err != nil {
		return err
	}
	defer bk.Close()

	if *bookImport != "" || *bookExport != "" {
		return transferBook(bk, logger)
	}

	cfg := engine.DefaultConfig()
	cfg.TableSizeMB = *hashMB
	cfg.Logger = logger
	eng := engine.NewEngine(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := protocol.New(eng, os.Stdout, protocol.Options{
		Book:        bk,
		Storage:     store,
		Preferences: prefs,
		Logger:      logger,
	})
	return p.Run(ctx, os.Stdin)
}

func openStorage() (*storage.Storage, error) {
	if *dataDir != "" {
		return storage.Open(*dataDir)
	}
	return storage.NewStorage()
}

func transferBook(bk *book.Book, logger zerolog.Logger) error {
	if *bookImport != "" {
		f, err := os.Open(*bookImport)
		if err != nil {
			return err
		}
		defer f.Close()
		n, err := bk.Import(f)
		if err != nil {
			return fmt.Errorf("import %s: %w", *bookImport, err)
		}
		logger.Info().Int("records", n).Str("path", *bookImport).Msg("book-imported")
	}

	if *bookExport != "" {
		f, err := os.Create(*bookExport)
		if err != nil {
			return err
		}
		n, err := bk.Export(f)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("export %s: %w", *bookExport, err)
		}
		logger.Info().Int("records", n).Str("path", *bookExport).Msg("book-exported")
	}
	return nil
}
