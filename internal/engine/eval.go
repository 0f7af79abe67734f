package engine

import (
	"math"

	"github.com/hailam/othello/internal/board"
)

// TerminalScale multiplies the final disc differential of a finished game so
// that any decided outcome outranks every heuristic score.
const TerminalScale = 1 << 30

// Evaluation weights.
const (
	// discCrossover is the disc count below which owning fewer discs is
	// preferred. Early on, fewer discs means fewer frontier squares for the
	// opponent to use.
	discCrossover = 40

	cornerWeight   = 300
	mobilityWeight = 2.0
)

// squareWeights scores each square for its owner. The table is symmetric
// under every board rotation and reflection.
var squareWeights = [64]int{
	100, -20, 10, 5, 5, 10, -20, 100,
	-20, -50, -2, -2, -2, -2, -50, -20,
	10, -2, -1, -1, -1, -1, -2, 10,
	5, -2, -1, 0, 0, -1, -2, 5,
	5, -2, -1, 0, 0, -1, -2, 5,
	10, -2, -1, -1, -1, -1, -2, 10,
	-20, -50, -2, -2, -2, -2, -50, -20,
	100, -20, 10, 5, 5, 10, -20, 100,
}

// Evaluate scores pos from the mover's perspective. Positive is good for the
// mover. Evaluate(p) == -Evaluate(p.SwitchSides()) holds for every p.
//
// A finished game scores its disc differential times TerminalScale.
func Evaluate(pos board.Position) float64 {
	if pos.IsFull() {
		return terminalScore(pos)
	}

	ownMoves := pos.ValidMoves().PopCount()
	oppMoves := pos.SwitchSides().ValidMoves().PopCount()
	if ownMoves == 0 && oppMoves == 0 {
		return terminalScore(pos)
	}

	score := 0

	discs := pos.DiscDiff()
	if pos.Occupied().PopCount() < discCrossover {
		score -= discs
	} else {
		score += discs
	}

	score += positional(pos.Mover) - positional(pos.Opponent)

	corners := (pos.Mover & board.Corners).PopCount() - (pos.Opponent & board.Corners).PopCount()
	score += corners * cornerWeight

	return float64(score) + mobilityScore(ownMoves, oppMoves)
}

// terminalScore is the exact value of a finished game.
func terminalScore(pos board.Position) float64 {
	return float64(pos.DiscDiff()) * TerminalScale
}

// IsTerminalScore reports whether a score can only come from a finished game.
func IsTerminalScore(score float64) bool {
	return math.Abs(score) >= TerminalScale
}

func positional(b board.Bitboard) int {
	sum := 0
	for b != 0 {
		sum += squareWeights[b.PopLSB()]
	}
	return sum
}

// mobilityScore is the mobility difference as a percentage of all moves.
func mobilityScore(own, opp int) float64 {
	if own+opp == 0 {
		return 0
	}
	return 100 * float64(own-opp) / float64(own+opp) * mobilityWeight
}
