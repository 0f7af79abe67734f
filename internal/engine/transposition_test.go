package engine

import (
	"sync"
	"testing"

	"github.com/hailam/othello/internal/board"
)

func TestTTStoreProbe(t *testing.T) {
	tt := NewTranspositionTable(1)
	pos := board.StartPosition()

	if _, ok := tt.Probe(pos); ok {
		t.Fatal("empty table returned an entry")
	}

	tt.Store(pos, 3, 12.5, TTExact, board.D3)
	e, ok := tt.Probe(pos)
	if !ok {
		t.Fatal("stored entry not found")
	}
	if e.Key != pos || e.Score != 12.5 || e.Depth != 3 || e.Flag != TTExact || e.BestMove != board.D3 {
		t.Errorf("entry = %+v", e)
	}

	if _, ok := tt.Probe(pos.SwitchSides()); ok {
		t.Error("switched position must not share the entry")
	}
}

func TestTTDepthReplacement(t *testing.T) {
	tt := NewTranspositionTable(1)
	pos := board.StartPosition()

	tt.Store(pos, 5, 1, TTExact, board.D3)
	tt.Store(pos, 3, 2, TTExact, board.C4)
	if e, _ := tt.Probe(pos); e.Depth != 5 || e.Score != 1 {
		t.Errorf("shallower result replaced entry: %+v", e)
	}

	tt.Store(pos, 5, 3, TTLowerBound, board.F5)
	if e, _ := tt.Probe(pos); e.Score != 3 || e.Flag != TTLowerBound {
		t.Errorf("equal depth result did not replace entry: %+v", e)
	}
}

func TestTTClear(t *testing.T) {
	tt := NewTranspositionTable(1)
	pos := board.StartPosition()
	tt.Store(pos, 2, 1, TTExact, board.D3)

	tt.Clear()
	if _, ok := tt.Probe(pos); ok {
		t.Error("entry survived Clear")
	}
	if tt.HashFull() != 0 {
		t.Errorf("HashFull after Clear = %d", tt.HashFull())
	}

	tt.Store(pos, 1, 4, TTExact, board.C4)
	if e, ok := tt.Probe(pos); !ok || e.Score != 4 {
		t.Errorf("store after Clear: %+v, %v", e, ok)
	}
}

// sameBucket returns n distinct positions that hash to one bucket.
func sameBucket(tt *TranspositionTable, n int) []board.Position {
	var out []board.Position
	var target uint64
	for m := uint64(1); len(out) < n; m++ {
		pos := board.Position{Mover: board.Bitboard(m)}
		b := hashPosition(pos) & tt.mask
		if len(out) == 0 {
			target = b
		}
		if b == target {
			out = append(out, pos)
		}
	}
	return out
}

func TestTTEvictsShallowest(t *testing.T) {
	tt := NewTranspositionTable(1)
	positions := sameBucket(tt, ttBucketSize+1)

	depths := []int{4, 2, 5, 3}
	for i, d := range depths {
		tt.Store(positions[i], d, float64(i), TTExact, board.NoSquare)
	}
	tt.Store(positions[4], 6, 4, TTExact, board.NoSquare)

	if _, ok := tt.Probe(positions[1]); ok {
		t.Error("shallowest entry should have been evicted")
	}
	for _, i := range []int{0, 2, 3, 4} {
		if e, ok := tt.Probe(positions[i]); !ok || e.Score != float64(i) {
			t.Errorf("entry %d lost: %+v, %v", i, e, ok)
		}
	}
}

func TestTTConcurrent(t *testing.T) {
	tt := NewTranspositionTable(1)
	positions := randomPositions(4, 4)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i, pos := range positions {
				if (i+g)%2 == 0 {
					tt.Store(pos, g%4+1, float64(pos.Mover), TTExact, board.NoSquare)
					continue
				}
				if e, ok := tt.Probe(pos); ok && (e.Key != pos || e.Score != float64(pos.Mover)) {
					t.Errorf("torn entry for %v: %+v", pos, e)
				}
			}
		}(g)
	}
	wg.Wait()
}

func TestTTHashFull(t *testing.T) {
	tt := NewTranspositionTable(1)
	if tt.HashFull() != 0 {
		t.Fatalf("new table HashFull = %d", tt.HashFull())
	}
	for m := uint64(1); m < 200000; m++ {
		tt.Store(board.Position{Mover: board.Bitboard(m)}, 1, 0, TTExact, board.NoSquare)
	}
	if hf := tt.HashFull(); hf < 500 {
		t.Errorf("HashFull = %d after filling the table", hf)
	}
}
