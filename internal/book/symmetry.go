package book

import (
	"math/bits"

	"github.com/hailam/othello/internal/board"
)

// The board has eight symmetries. Transform i applies, in order, a vertical
// flip when bit 0 is set, a horizontal mirror for bit 1 and an a1-h8
// diagonal flip for bit 2.
const numSymmetries = 8

func flipVertical(b board.Bitboard) board.Bitboard {
	return board.Bitboard(bits.ReverseBytes64(uint64(b)))
}

func mirrorHorizontal(b board.Bitboard) board.Bitboard {
	const (
		k1 = 0x5555555555555555
		k2 = 0x3333333333333333
		k4 = 0x0f0f0f0f0f0f0f0f
	)
	b = ((b >> 1) & k1) | ((b & k1) << 1)
	b = ((b >> 2) & k2) | ((b & k2) << 2)
	b = ((b >> 4) & k4) | ((b & k4) << 4)
	return b
}

func flipDiagonal(b board.Bitboard) board.Bitboard {
	const (
		k1 = 0x5500550055005500
		k2 = 0x3333000033330000
		k4 = 0x0f0f0f0f00000000
	)
	t := k4 & (b ^ (b << 28))
	b ^= t ^ (t >> 28)
	t = k2 & (b ^ (b << 14))
	b ^= t ^ (t >> 14)
	t = k1 & (b ^ (b << 7))
	b ^= t ^ (t >> 7)
	return b
}

func transform(b board.Bitboard, sym int) board.Bitboard {
	if sym&1 != 0 {
		b = flipVertical(b)
	}
	if sym&2 != 0 {
		b = mirrorHorizontal(b)
	}
	if sym&4 != 0 {
		b = flipDiagonal(b)
	}
	return b
}

// squareTo and squareFrom map squares into and out of each symmetry.
var squareTo, squareFrom [numSymmetries][64]board.Square

func init() {
	for sym := 0; sym < numSymmetries; sym++ {
		for sq := board.A1; sq <= board.H8; sq++ {
			to := transform(board.SquareBB(sq), sym).LSB()
			squareTo[sym][sq] = to
			squareFrom[sym][to] = sq
		}
	}
}

// canonical returns the smallest of the eight symmetric images of pos and the
// transform that produced it.
func canonical(pos board.Position) (board.Position, int) {
	best, bestSym := pos, 0
	for sym := 1; sym < numSymmetries; sym++ {
		img := board.Position{
			Mover:    transform(pos.Mover, sym),
			Opponent: transform(pos.Opponent, sym),
		}
		if img.Mover < best.Mover || (img.Mover == best.Mover && img.Opponent < best.Opponent) {
			best, bestSym = img, sym
		}
	}
	return best, bestSym
}
