package board

// Perft counts the leaf nodes at the given depth. A forced pass counts as a
// move; a finished game is a leaf.
func Perft(p Position, depth int) uint64 {
	if depth == 0 {
		return 1
	}

	moves := p.ValidMoves()
	if moves == 0 {
		if !p.SwitchSides().HasMoves() {
			return 1
		}
		return Perft(p.SwitchSides(), depth-1)
	}

	if depth == 1 {
		return uint64(moves.PopCount())
	}

	var nodes uint64
	for moves != 0 {
		sq := moves.PopLSB()
		nodes += Perft(p.Play(sq), depth-1)
	}
	return nodes
}
