package board

// RunLength is the number of consecutive cells that wins.
const RunLength = 4

// scan order matters: first match wins.
var directions = [4][2]int{
	{0, 1},  // right
	{1, 0},  // down
	{1, 1},  // down-right
	{1, -1}, // down-left
}

// Winner scans every occupied cell row-major as a run start and returns the
// first player owning RunLength consecutive in-bounds cells along one of the
// four directions. Empty means no winner.
func (b *Board) Winner() Cell {
	for r := 0; r < Size; r++ {
		for c := 0; c < Size; c++ {
			p := b[r][c]
			if p == Empty {
				continue
			}
			for _, d := range directions {
				if b.runFrom(r, c, d[0], d[1], p) {
					return p
				}
			}
		}
	}
	return Empty
}

func (b *Board) runFrom(r, c, dr, dc int, p Cell) bool {
	for k := 0; k < RunLength; k++ {
		rr, cc := r+dr*k, c+dc*k
		if !InBounds(rr, cc) || b[rr][cc] != p {
			return false
		}
	}
	return true
}
