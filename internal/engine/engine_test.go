package engine

import (
	"context"
	"math/rand/v2"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hailam/othello/internal/board"
)

func newTestEngine(threads int) *Engine {
	cfg := DefaultConfig()
	cfg.Threads = threads
	cfg.TableSizeMB = 16
	return NewEngine(cfg)
}

// randomPositions plays seeded random games and returns every position seen.
func randomPositions(seed uint64, games int) []board.Position {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b9))
	var out []board.Position
	for g := 0; g < games; g++ {
		pos := board.StartPosition()
		for !pos.GameOver() {
			out = append(out, pos)
			squares := pos.ValidMoves().Squares()
			if len(squares) == 0 {
				pos = pos.Play(board.Pass)
				continue
			}
			pos = pos.Play(squares[rng.IntN(len(squares))])
		}
		out = append(out, pos)
	}
	return out
}

func TestSearchOpening(t *testing.T) {
	eng := newTestEngine(4)
	move := eng.TurnDecision(board.StartPosition(), 1000)

	if !board.StartPosition().ValidMoves().IsSet(move) {
		t.Fatalf("TurnDecision returned %s, not an opening move", move)
	}
	t.Logf("Best move: %s", move)
}

func TestForcedMoveShortCircuit(t *testing.T) {
	// a1 against b1: c1 is the only move.
	pos := board.Position{Mover: board.SquareBB(board.A1), Opponent: board.SquareBB(board.B1)}
	if n := pos.ValidMoves().PopCount(); n != 1 {
		t.Fatalf("fixture has %d moves, want 1", n)
	}

	eng := newTestEngine(2)
	for _, budget := range []int{0, 1, 100} {
		if got := eng.TurnDecision(pos, budget); got != board.C1 {
			t.Errorf("TurnDecision(budget=%d) = %s, want c1", budget, got)
		}
	}

	res := eng.Search(context.Background(), pos, Limits{})
	if res.Depth != 0 || res.Stats.Nodes != 0 {
		t.Errorf("forced move searched: depth %d, %d nodes", res.Depth, res.Stats.Nodes)
	}
}

func TestNoLegalMoveReturnsPass(t *testing.T) {
	pos := board.Position{
		Mover:    board.SquareBB(board.B1) | board.SquareBB(board.C1),
		Opponent: board.SquareBB(board.A1),
	}
	if got := newTestEngine(1).TurnDecision(pos, 50); got != board.Pass {
		t.Errorf("TurnDecision = %s, want pass", got)
	}
}

func TestZeroBudgetStillMoves(t *testing.T) {
	eng := newTestEngine(4)
	for i, pos := range randomPositions(3, 5) {
		if !pos.HasMoves() {
			continue
		}
		move := eng.TurnDecision(pos, 0)
		if !pos.ValidMoves().IsSet(move) {
			t.Fatalf("position %d: zero budget returned illegal %s\n%v", i, move, pos)
		}
	}
}

func TestSearchRespectsBudget(t *testing.T) {
	eng := newTestEngine(4)
	var pos board.Position
	for _, p := range randomPositions(11, 1)[20:] {
		if p.ValidMoves().PopCount() > 1 {
			pos = p
			break
		}
	}

	const budget = 50 * time.Millisecond
	start := time.Now()
	res := eng.Search(context.Background(), pos, Limits{MoveTime: budget})
	elapsed := time.Since(start)

	// Depth 1 is tiny here; everything after it must stop near the deadline.
	if elapsed > budget+100*time.Millisecond {
		t.Errorf("search took %v with a %v budget", elapsed, budget)
	}
	if res.Depth < 1 {
		t.Errorf("no depth completed")
	}
	t.Logf("depth %d in %v, %d nodes", res.Depth, elapsed, res.Stats.Nodes)
}

func TestSearchDepthLimit(t *testing.T) {
	eng := newTestEngine(2)
	res := eng.Search(context.Background(), board.StartPosition(), Limits{Depth: 3, Infinite: true})
	if res.Depth != 3 {
		t.Errorf("Depth = %d, want 3", res.Depth)
	}
}

func TestSearchCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	eng := newTestEngine(2)
	res := eng.Search(ctx, board.StartPosition(), Limits{Infinite: true})
	if res.Depth != 1 {
		t.Errorf("Depth = %d, want only the first iteration", res.Depth)
	}
	if !board.StartPosition().ValidMoves().IsSet(res.Move) {
		t.Errorf("cancelled search returned illegal %s", res.Move)
	}
}

func TestEndgameExact(t *testing.T) {
	// a8 and h8 empty, b8 and g8 opponent, everything else mover. Either
	// move wins all 64 discs after the opponent passes.
	empty := board.SquareBB(board.A8) | board.SquareBB(board.H8)
	opp := board.SquareBB(board.B8) | board.SquareBB(board.G8)
	pos := board.Position{Mover: board.Universe &^ empty &^ opp, Opponent: opp}

	res := newTestEngine(2).Search(context.Background(), pos, Limits{Infinite: true})
	if want := float64(64 * TerminalScale); res.Score != want {
		t.Errorf("Score = %v, want %v", res.Score, want)
	}
	if res.Move != board.A8 && res.Move != board.H8 {
		t.Errorf("Move = %s, want a8 or h8", res.Move)
	}
	if res.Depth != 2 {
		t.Errorf("Depth = %d, want 2", res.Depth)
	}
}

func TestOnePlyFromFullBoardWin(t *testing.T) {
	// h8 empty, g8 opponent, everything else mover: h8 flips g8 and fills
	// the board with the mover's discs.
	opp := board.SquareBB(board.G8)
	pos := board.Position{Mover: board.Universe &^ opp &^ board.SquareBB(board.H8), Opponent: opp}

	var abort atomic.Bool
	w := newWorker(0, NewTranspositionTable(1), &abort, time.Time{}, false, false)
	score, ok := w.negamax(pos, 1, -Infinity, Infinity)
	if !ok {
		t.Fatal("search aborted")
	}
	if !IsTerminalScore(score) || score != float64(64*TerminalScale) {
		t.Errorf("score = %v, want %v", score, float64(64*TerminalScale))
	}
}

func TestSerialParallelAgree(t *testing.T) {
	pos := board.StartPosition().Play(board.F5).Play(board.F6)
	limits := Limits{Depth: 4, Infinite: true}

	serial := newTestEngine(1).Search(context.Background(), pos, limits)
	parallel := newTestEngine(8).Search(context.Background(), pos, limits)

	if serial.Score != parallel.Score || serial.Move != parallel.Move {
		t.Errorf("serial %s/%v, parallel %s/%v", serial.Move, serial.Score, parallel.Move, parallel.Score)
	}
}

func TestNegamaxIdempotent(t *testing.T) {
	tt := NewTranspositionTable(4)
	var abort atomic.Bool

	for i, pos := range randomPositions(5, 2)[:40] {
		w := newWorker(0, tt, &abort, time.Time{}, false, false)
		first, ok1 := w.negamax(pos, 3, -Infinity, Infinity)
		second, ok2 := w.negamax(pos, 3, -Infinity, Infinity)
		if !ok1 || !ok2 {
			t.Fatalf("position %d: search aborted", i)
		}
		if first != second {
			t.Errorf("position %d: %v then %v", i, first, second)
		}
	}
}

func TestNegamaxAbort(t *testing.T) {
	var abort atomic.Bool
	abort.Store(true)
	w := newWorker(0, NewTranspositionTable(1), &abort, time.Time{}, false, false)
	if _, ok := w.negamax(board.StartPosition(), 4, -Infinity, Infinity); ok {
		t.Error("negamax should report an abort")
	}
}

func TestNegamaxMatchesPlainMinimax(t *testing.T) {
	var abort atomic.Bool
	for i, pos := range randomPositions(9, 1)[10:30] {
		w := newWorker(0, NewTranspositionTable(1), &abort, time.Time{}, false, false)
		got, _ := w.negamax(pos, 3, -Infinity, Infinity)
		if want := minimax(pos, 3); got != want {
			t.Errorf("position %d: negamax %v, minimax %v", i, got, want)
		}
	}
}

// minimax is an unpruned reference search with the same pass handling.
func minimax(pos board.Position, depth int) float64 {
	if depth <= 0 || pos.IsFull() {
		return Evaluate(pos)
	}
	moves := pos.ValidMoves()
	if moves == 0 {
		if !pos.SwitchSides().HasMoves() {
			return Evaluate(pos)
		}
		return -minimax(pos.SwitchSides(), depth)
	}
	best := -Infinity
	for moves != 0 {
		best = max(best, -minimax(pos.Play(moves.PopLSB()), depth-1))
	}
	return best
}

func TestStatsCollected(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Threads = 2
	cfg.CollectMetrics = true
	eng := NewEngine(cfg)

	var infos []SearchInfo
	eng.OnInfo = func(info SearchInfo) { infos = append(infos, info) }

	res := eng.Search(context.Background(), board.StartPosition(), Limits{Depth: 4, Infinite: true})
	s := res.Stats
	if s.Nodes == 0 || s.TTProbes == 0 || s.Explored == 0 {
		t.Errorf("counters not filled: %+v", s)
	}
	if s.Explored > s.Branches {
		t.Errorf("explored %d of %d branches", s.Explored, s.Branches)
	}
	if len(infos) != 4 {
		t.Fatalf("got %d info callbacks, want 4", len(infos))
	}
	for i, info := range infos {
		if info.Depth != i+1 {
			t.Errorf("info %d depth = %d", i, info.Depth)
		}
	}
	t.Logf("pruned %.1f%%, branch factor %.2f, tt hits %.1f%%", s.PrunedPercent(), s.BranchFactor(), s.HitRate())
}

func TestRootStoredInTable(t *testing.T) {
	eng := newTestEngine(2)
	pos := board.StartPosition()
	res := eng.Search(context.Background(), pos, Limits{Depth: 2, Infinite: true})

	e, ok := eng.tt.Probe(pos)
	if !ok {
		t.Fatal("root position not in table")
	}
	if e.BestMove != res.Move || e.Flag != TTExact || int(e.Depth) != 2 {
		t.Errorf("root entry = %+v, result move %s", e, res.Move)
	}
}
