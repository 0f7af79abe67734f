package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Storage keys
const (
	keyPreferences = "preferences"
	keyBenchStats  = "bench_stats"
	prefixBenchRun = "bench/"
)

// Preferences stores the engine settings chosen through the protocol.
type Preferences struct {
	MaxDepth int       `json:"max_depth"`
	Threads  int       `json:"threads"` // 0 uses every CPU
	TimeMs   int       `json:"time_ms"` // default budget for "go"
	Book     bool      `json:"book"`
	Metrics  bool      `json:"metrics"`
	LastUsed time.Time `json:"last_used"`
}

// DefaultPreferences returns default engine preferences
func DefaultPreferences() *Preferences {
	return &Preferences{
		MaxDepth: 64,
		TimeMs:   1000,
		Book:     true,
	}
}

// BenchRun is the outcome of one self-play benchmark run.
type BenchRun struct {
	ID             string        `json:"id"`
	Started        time.Time     `json:"started"`
	Duration       time.Duration `json:"duration"`
	TimeMs         int           `json:"time_ms"`
	Threads        int           `json:"threads"`
	Games          int           `json:"games"`
	Wins           int           `json:"wins"`
	Losses         int           `json:"losses"`
	Draws          int           `json:"draws"`
	GamesPerSecond float64       `json:"games_per_second"`
	MeanDepth      float64       `json:"mean_depth"`
}

// WinRate returns the run's win rate as a percentage (0-100)
func (r BenchRun) WinRate() float64 {
	if r.Games == 0 {
		return 0
	}
	return float64(r.Wins) / float64(r.Games) * 100
}

// BenchStats aggregates every recorded benchmark run.
type BenchStats struct {
	Runs      int           `json:"runs"`
	Games     int           `json:"games"`
	Wins      int           `json:"wins"`
	Losses    int           `json:"losses"`
	Draws     int           `json:"draws"`
	TotalTime time.Duration `json:"total_time"`
	LastRun   string        `json:"last_run"`
}

// GetWinRate returns the win rate as a percentage (0-100)
func (s *BenchStats) GetWinRate() float64 {
	if s.Games == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Games) * 100
}

// Storage wraps BadgerDB for persistent storage
type Storage struct {
	db *badger.DB
}

// NewStorage opens the database in the platform data directory.
func NewStorage() (*Storage, error) {
	dbDir, err := GetDatabaseDir()
	if err != nil {
		return nil, err
	}
	return Open(dbDir)
}

// Open opens the database in dir. An empty dir keeps everything in memory.
func Open(dir string) (*Storage, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil // Disable logging

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", dir, err)
	}

	return &Storage{db: db}, nil
}

// DB exposes the underlying database so other stores can share it under
// their own key prefix.
func (s *Storage) DB() *badger.DB {
	return s.db
}

// Close closes the database
func (s *Storage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Storage) put(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

// get decodes key into v, leaving v untouched when the key is missing.
func (s *Storage) get(key string, v any) error {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
	if err != nil {
		return fmt.Errorf("load %s: %w", key, err)
	}
	return nil
}

// SavePreferences saves engine preferences
func (s *Storage) SavePreferences(prefs *Preferences) error {
	prefs.LastUsed = time.Now()
	return s.put(keyPreferences, prefs)
}

// LoadPreferences loads engine preferences, returns defaults if not found
func (s *Storage) LoadPreferences() (*Preferences, error) {
	prefs := DefaultPreferences()
	err := s.get(keyPreferences, prefs)
	return prefs, err
}

// LoadBenchStats loads the benchmark totals, returns empty stats if not found
func (s *Storage) LoadBenchStats() (*BenchStats, error) {
	stats := &BenchStats{}
	err := s.get(keyBenchStats, stats)
	return stats, err
}

// RecordBenchRun stores run under its ID and folds it into the totals.
func (s *Storage) RecordBenchRun(run BenchRun) error {
	if run.ID == "" {
		return errors.New("record bench run: empty id")
	}
	if err := s.put(prefixBenchRun+run.ID, run); err != nil {
		return err
	}

	stats, err := s.LoadBenchStats()
	if err != nil {
		return err
	}

	stats.Runs++
	stats.Games += run.Games
	stats.Wins += run.Wins
	stats.Losses += run.Losses
	stats.Draws += run.Draws
	stats.TotalTime += run.Duration
	stats.LastRun = run.ID

	return s.put(keyBenchStats, stats)
}

// BenchRuns returns every recorded run, oldest first.
func (s *Storage) BenchRuns() ([]BenchRun, error) {
	var runs []BenchRun

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(prefixBenchRun)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var run BenchRun
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &run)
			})
			if err != nil {
				return err
			}
			runs = append(runs, run)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list bench runs: %w", err)
	}

	sort.Slice(runs, func(i, j int) bool { return runs[i].Started.Before(runs[j].Started) })
	return runs, nil
}
