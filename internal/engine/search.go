package engine

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/hailam/othello/internal/board"
)

// Search constants
const (
	Infinity = math.MaxFloat64
	MaxDepth = 64
)

// worker runs negamax for one goroutine. Workers share the transposition
// table and the abort flag; counters are private and merged after the
// iteration's barrier.
type worker struct {
	id        int
	tt        *TranspositionTable
	abort     *atomic.Bool
	deadline  time.Time
	checkTime bool
	metrics   bool
	stats     Stats
}

func newWorker(id int, tt *TranspositionTable, abort *atomic.Bool, deadline time.Time, checkTime, metrics bool) *worker {
	return &worker{
		id:        id,
		tt:        tt,
		abort:     abort,
		deadline:  deadline,
		checkTime: checkTime,
		metrics:   metrics,
	}
}

// stopped reports whether the search must unwind. The first worker to see
// the deadline pass raises the shared flag.
func (w *worker) stopped() bool {
	if w.abort.Load() {
		return true
	}
	if w.checkTime && !time.Now().Before(w.deadline) {
		w.abort.CompareAndSwap(false, true)
		return true
	}
	return false
}

// negamax searches pos to depth plies within (alpha, beta) and returns the
// score from the mover's perspective. ok is false when the search was
// aborted; the score is meaningless then and nothing is stored.
func (w *worker) negamax(pos board.Position, depth int, alpha, beta float64) (float64, bool) {
	if w.stopped() {
		return 0, false
	}
	w.stats.Nodes++

	alphaOrig := alpha
	ttMove := board.NoSquare

	if w.metrics {
		w.stats.TTProbes++
	}
	if e, ok := w.tt.Probe(pos); ok {
		if w.metrics {
			w.stats.TTHits++
		}
		ttMove = e.BestMove
		if int(e.Depth) >= depth {
			switch e.Flag {
			case TTExact:
				return e.Score, true
			case TTLowerBound:
				alpha = max(alpha, e.Score)
			case TTUpperBound:
				beta = min(beta, e.Score)
			}
			if alpha >= beta {
				return e.Score, true
			}
		}
	}

	if depth <= 0 || pos.IsFull() {
		return Evaluate(pos), true
	}

	moves := pos.ValidMoves()
	if moves == 0 {
		next := pos.SwitchSides()
		if !next.HasMoves() {
			return Evaluate(pos), true
		}
		// A pass costs no depth: next has a move, so this cannot recurse
		// again without placing a disc.
		v, ok := w.negamax(next, depth, -beta, -alpha)
		if !ok {
			return 0, false
		}
		score := -v
		w.tt.Store(pos, depth, score, boundFlag(score, alphaOrig, beta), board.Pass)
		return score, true
	}

	if w.metrics {
		w.stats.Interior++
		w.stats.Branches += uint64(moves.PopCount())
	}

	best := -Infinity
	bestMove := board.NoSquare

	// The table move goes first, then the rest in square order.
	if moves.IsSet(ttMove) {
		moves = moves.Clear(ttMove)
	} else {
		ttMove = board.NoSquare
	}

	for moves != 0 || ttMove != board.NoSquare {
		var sq board.Square
		if ttMove != board.NoSquare {
			sq, ttMove = ttMove, board.NoSquare
		} else {
			sq = moves.PopLSB()
		}
		if w.metrics {
			w.stats.Explored++
		}

		v, ok := w.negamax(pos.Play(sq), depth-1, -beta, -alpha)
		if !ok {
			return 0, false
		}
		v = -v

		if v > best {
			best = v
			bestMove = sq
		}
		alpha = max(alpha, v)
		if alpha >= beta {
			if w.metrics {
				w.stats.Cutoffs++
			}
			break
		}
	}

	w.tt.Store(pos, depth, best, boundFlag(best, alphaOrig, beta), bestMove)
	return best, true
}

// boundFlag classifies a score against the window it was searched with.
func boundFlag(score, alpha, beta float64) TTFlag {
	switch {
	case score <= alpha:
		return TTUpperBound
	case score >= beta:
		return TTLowerBound
	}
	return TTExact
}
