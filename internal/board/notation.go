package board

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidBoard is returned when a board string cannot be parsed.
var ErrInvalidBoard = errors.New("invalid board")

// StartBoard is the board string of the starting position.
const StartBoard = "---------------------------OX------XO---------------------------"

// ParseBoard parses a 64-character board string, a1 first and h8 last.
// 'X' marks the mover, 'O' the opponent and '-' or '.' an empty square.
// Whitespace and '/' separators between ranks are ignored.
func ParseBoard(s string) (Position, error) {
	var pos Position
	sq := 0

	for _, c := range s {
		switch c {
		case ' ', '\t', '\n', '/':
			continue
		}
		if sq >= 64 {
			return Position{}, fmt.Errorf("%w: more than 64 squares", ErrInvalidBoard)
		}
		switch c {
		case 'X', 'x':
			pos.Mover = pos.Mover.Set(Square(sq))
		case 'O', 'o':
			pos.Opponent = pos.Opponent.Set(Square(sq))
		case '-', '.':
		default:
			return Position{}, fmt.Errorf("%w: unexpected %q at square %d", ErrInvalidBoard, c, sq)
		}
		sq++
	}

	if sq != 64 {
		return Position{}, fmt.Errorf("%w: got %d squares, want 64", ErrInvalidBoard, sq)
	}
	return pos, nil
}

// BoardString returns the 64-character form accepted by ParseBoard.
func (p Position) BoardString() string {
	var sb strings.Builder
	sb.Grow(64)
	for sq := A1; sq <= H8; sq++ {
		switch {
		case p.Mover.IsSet(sq):
			sb.WriteByte('X')
		case p.Opponent.IsSet(sq):
			sb.WriteByte('O')
		default:
			sb.WriteByte('-')
		}
	}
	return sb.String()
}

// ParseBitboards parses a mover and opponent mask given in decimal or
// 0x-prefixed hexadecimal.
func ParseBitboards(mover, opponent string) (Position, error) {
	m, err := strconv.ParseUint(mover, 0, 64)
	if err != nil {
		return Position{}, fmt.Errorf("%w: mover mask: %v", ErrInvalidBoard, err)
	}
	o, err := strconv.ParseUint(opponent, 0, 64)
	if err != nil {
		return Position{}, fmt.Errorf("%w: opponent mask: %v", ErrInvalidBoard, err)
	}
	return NewPosition(m, o)
}

// MoveList formats squares as space separated notation.
func MoveList(moves Bitboard) string {
	squares := moves.Squares()
	parts := make([]string, len(squares))
	for i, sq := range squares {
		parts[i] = sq.String()
	}
	return strings.Join(parts, " ")
}
