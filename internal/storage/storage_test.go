package storage

import (
	"os"
	"testing"
	"time"
)

func openMemory(t *testing.T) *Storage {
	t.Helper()
	s, err := Open("")
	if err != nil {
		t.Fatalf("Open in memory: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPreferences(t *testing.T) {
	s := openMemory(t)

	t.Run("Defaults", func(t *testing.T) {
		prefs, err := s.LoadPreferences()
		if err != nil {
			t.Fatalf("LoadPreferences: %v", err)
		}
		if prefs.MaxDepth != 64 || prefs.TimeMs != 1000 || !prefs.Book {
			t.Errorf("unexpected defaults: %+v", prefs)
		}
	})

	t.Run("RoundTrip", func(t *testing.T) {
		prefs := DefaultPreferences()
		prefs.MaxDepth = 9
		prefs.Threads = 3
		prefs.Metrics = true
		prefs.Book = false
		if err := s.SavePreferences(prefs); err != nil {
			t.Fatalf("SavePreferences: %v", err)
		}

		got, err := s.LoadPreferences()
		if err != nil {
			t.Fatalf("LoadPreferences: %v", err)
		}
		if got.MaxDepth != 9 || got.Threads != 3 || !got.Metrics || got.Book {
			t.Errorf("loaded %+v", got)
		}
		if got.LastUsed.IsZero() {
			t.Error("LastUsed not set on save")
		}
	})
}

func TestBenchRuns(t *testing.T) {
	s := openMemory(t)
	start := time.Now()

	runs := []BenchRun{
		{ID: "b", Started: start.Add(time.Second), Games: 10, Wins: 9, Losses: 1, Duration: time.Second},
		{ID: "a", Started: start, Games: 4, Wins: 2, Draws: 2, Duration: 2 * time.Second},
	}
	for _, r := range runs {
		if err := s.RecordBenchRun(r); err != nil {
			t.Fatalf("RecordBenchRun(%s): %v", r.ID, err)
		}
	}

	stats, err := s.LoadBenchStats()
	if err != nil {
		t.Fatalf("LoadBenchStats: %v", err)
	}
	if stats.Runs != 2 || stats.Games != 14 || stats.Wins != 11 || stats.Draws != 2 || stats.Losses != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.TotalTime != 3*time.Second || stats.LastRun != "a" {
		t.Errorf("stats = %+v", stats)
	}

	got, err := s.BenchRuns()
	if err != nil {
		t.Fatalf("BenchRuns: %v", err)
	}
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Errorf("BenchRuns = %+v, want a then b", got)
	}
	if got[1].WinRate() != 90 {
		t.Errorf("WinRate = %v, want 90", got[1].WinRate())
	}

	if err := s.RecordBenchRun(BenchRun{}); err == nil {
		t.Error("run without id should be rejected")
	}
}

func TestWinRate(t *testing.T) {
	stats := &BenchStats{Games: 10, Wins: 5, Losses: 3, Draws: 2}
	if rate := stats.GetWinRate(); rate != 50 {
		t.Errorf("Expected 50%% win rate, got %.2f%%", rate)
	}
	if (&BenchStats{}).GetWinRate() != 0 {
		t.Error("Expected 0 win rate")
	}
}

func TestOnDisk(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	prefs := DefaultPreferences()
	prefs.TimeMs = 250
	if err := s.SavePreferences(prefs); err != nil {
		t.Fatalf("SavePreferences: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, err := s.LoadPreferences()
	if err != nil {
		t.Fatalf("LoadPreferences: %v", err)
	}
	if got.TimeMs != 250 {
		t.Errorf("TimeMs = %d after reopen, want 250", got.TimeMs)
	}
}

func TestDataPaths(t *testing.T) {
	t.Setenv(DataDirEnv, t.TempDir()+"/data")

	dataDir, err := GetDataDir()
	if err != nil {
		t.Fatalf("GetDataDir failed: %v", err)
	}
	if _, err := os.Stat(dataDir); os.IsNotExist(err) {
		t.Errorf("Data directory was not created: %s", dataDir)
	}

	dbDir, err := GetDatabaseDir()
	if err != nil {
		t.Fatalf("GetDatabaseDir failed: %v", err)
	}
	t.Logf("Database directory: %s", dbDir)
}
