package board

import (
	"errors"
	"fmt"
	"strings"
)

// ErrOverlap is returned when a square is claimed by both sides.
var ErrOverlap = errors.New("mover and opponent overlap")

// Position is an Othello board seen from the side to move. Mover and
// Opponent are roles, not colors: they swap every ply.
type Position struct {
	Mover    Bitboard
	Opponent Bitboard
}

// Standard opening: black (to move) on d5 and e4, white on d4 and e5.
const (
	startMover    = Bitboard(1)<<D5 | Bitboard(1)<<E4
	startOpponent = Bitboard(1)<<D4 | Bitboard(1)<<E5
)

// StartPosition returns the standard opening position with black to move.
func StartPosition() Position {
	return Position{Mover: startMover, Opponent: startOpponent}
}

// NewPosition builds a position from raw masks, rejecting overlapping discs.
func NewPosition(mover, opponent uint64) (Position, error) {
	if mover&opponent != 0 {
		return Position{}, fmt.Errorf("%w: %016x", ErrOverlap, mover&opponent)
	}
	return Position{Mover: Bitboard(mover), Opponent: Bitboard(opponent)}, nil
}

// Occupied returns all discs on the board.
func (p Position) Occupied() Bitboard {
	return p.Mover | p.Opponent
}

// Empty returns all empty squares.
func (p Position) Empty() Bitboard {
	return ^(p.Mover | p.Opponent)
}

// Empties returns the number of empty squares.
func (p Position) Empties() int {
	return p.Empty().PopCount()
}

// IsFull reports whether every square holds a disc.
func (p Position) IsFull() bool {
	return p.Empty() == 0
}

// DiscDiff returns mover discs minus opponent discs.
func (p Position) DiscDiff() int {
	return p.Mover.PopCount() - p.Opponent.PopCount()
}

// SwitchSides relabels the mover and opponent roles.
func (p Position) SwitchSides() Position {
	return Position{Mover: p.Opponent, Opponent: p.Mover}
}

// ValidMoves returns every square where the mover may legally place a disc.
//
// For each direction the run of opponent discs adjacent to the mover's discs
// is grown six times (the longest possible bracketed run), then shifted once
// more onto empty squares.
func (p Position) ValidMoves() Bitboard {
	empty := p.Empty()
	var moves Bitboard

	for _, d := range directions {
		run := d(p.Mover) & p.Opponent
		run |= d(run) & p.Opponent
		run |= d(run) & p.Opponent
		run |= d(run) & p.Opponent
		run |= d(run) & p.Opponent
		run |= d(run) & p.Opponent
		moves |= d(run) & empty
	}

	return moves
}

// HasMoves reports whether the mover has at least one legal move.
func (p Position) HasMoves() bool {
	return p.ValidMoves() != 0
}

// GameOver reports whether neither side can move (two consecutive passes).
// A full board is always game over.
func (p Position) GameOver() bool {
	if p.IsFull() {
		return true
	}
	return !p.HasMoves() && !p.SwitchSides().HasMoves()
}

// flips returns the opponent discs flipped by a mover disc on sq.
func (p Position) flips(sq Square) Bitboard {
	disc := SquareBB(sq)
	var flipped Bitboard

	for _, d := range directions {
		run := d(disc) & p.Opponent
		run |= d(run) & p.Opponent
		run |= d(run) & p.Opponent
		run |= d(run) & p.Opponent
		run |= d(run) & p.Opponent
		run |= d(run) & p.Opponent
		if d(run)&p.Mover != 0 {
			flipped |= run
		}
	}

	return flipped
}

// ApplyMove places the mover's disc on sq and flips every bracketed opponent
// run. The roles are not switched. Callers must pass a square taken from
// ValidMoves; placing on an occupied square panics.
func (p Position) ApplyMove(sq Square) Position {
	if !sq.IsValid() {
		panic(fmt.Sprintf("board: apply move to invalid square %d", sq))
	}
	if p.Occupied().IsSet(sq) {
		panic(fmt.Sprintf("board: apply move to occupied square %s", sq))
	}

	flipped := p.flips(sq)
	return Position{
		Mover:    p.Mover | flipped | SquareBB(sq),
		Opponent: p.Opponent &^ flipped,
	}
}

// Play applies sq and hands the turn to the other side. Play(Pass) only
// switches sides.
func (p Position) Play(sq Square) Position {
	if sq == Pass {
		return p.SwitchSides()
	}
	return p.ApplyMove(sq).SwitchSides()
}

// Validate checks the disjointness invariant.
func (p Position) Validate() error {
	if p.Mover&p.Opponent != 0 {
		return fmt.Errorf("%w: %016x", ErrOverlap, uint64(p.Mover&p.Opponent))
	}
	return nil
}

// String returns a visual representation of the position. X marks the
// mover, O the opponent and * the mover's legal moves.
func (p Position) String() string {
	moves := p.ValidMoves()
	var sb strings.Builder
	sb.WriteString("\n   a b c d e f g h\n")
	for rank := 7; rank >= 0; rank-- {
		fmt.Fprintf(&sb, "%d  ", rank+1)
		for file := 0; file < 8; file++ {
			sq := NewSquare(file, rank)
			switch {
			case p.Mover.IsSet(sq):
				sb.WriteString("X ")
			case p.Opponent.IsSet(sq):
				sb.WriteString("O ")
			case moves.IsSet(sq):
				sb.WriteString("* ")
			default:
				sb.WriteString(". ")
			}
		}
		sb.WriteByte('\n')
	}
	fmt.Fprintf(&sb, "\nMover: %d  Opponent: %d  Empty: %d\n",
		p.Mover.PopCount(), p.Opponent.PopCount(), p.Empties())
	fmt.Fprintf(&sb, "Bitboards: %016x %016x\n", uint64(p.Mover), uint64(p.Opponent))
	return sb.String()
}
