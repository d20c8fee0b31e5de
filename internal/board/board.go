// Package board holds the pure rules of the 8x8 four-in-a-row game:
// reconstructing a grid from the move log, placement legality, win
// detection and turn derivation. Nothing here performs I/O.
package board

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/park285/cheese-connect/internal/domain"
)

// Size is the edge length of the square board.
const Size = 8

// Cell is the content of one square.
type Cell uint8

const (
	Empty Cell = iota
	Player1
	Player2
)

func (c Cell) String() string {
	switch c {
	case Player1:
		return "player1"
	case Player2:
		return "player2"
	default:
		return "empty"
	}
}

// Opponent returns the other player; Empty stays Empty.
func (c Cell) Opponent() Cell {
	switch c {
	case Player1:
		return Player2
	case Player2:
		return Player1
	default:
		return Empty
	}
}

var (
	ErrIllegalPlacement = errors.New("illegal placement")
	ErrOutOfBounds      = fmt.Errorf("%w: cell out of bounds", ErrIllegalPlacement)
	ErrCellOccupied     = fmt.Errorf("%w: cell already occupied", ErrIllegalPlacement)
	ErrUnsupported      = fmt.Errorf("%w: no supporting piece above, above-left or left", ErrIllegalPlacement)
)

// Board is a derived 8x8 grid indexed [row][column]. Row 0 is the top edge,
// column 0 the left edge.
type Board [Size][Size]Cell

// InBounds reports whether (row, col) lies on the board.
func InBounds(row, col int) bool {
	return row >= 0 && row < Size && col >= 0 && col < Size
}

// PlayerForOrder returns the owner of the k-th move (1-based): odd k is player1.
func PlayerForOrder(k int) Cell {
	if k%2 == 1 {
		return Player1
	}
	return Player2
}

// Reconstruct rebuilds the grid from a game's move log. The log is ordered by
// Order; an unordered slice is sorted on a copy so the caller's slice is left
// untouched. Ownership follows position in the log, never the move's player id.
func Reconstruct(moves []domain.Move) Board {
	ordered := moves
	if !sort.SliceIsSorted(moves, func(i, j int) bool { return moves[i].Order < moves[j].Order }) {
		ordered = append([]domain.Move(nil), moves...)
		sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Order < ordered[j].Order })
	}
	var b Board
	for i, mv := range ordered {
		if !InBounds(mv.Row, mv.Column) {
			continue
		}
		b[mv.Row][mv.Column] = PlayerForOrder(i + 1)
	}
	return b
}

// At returns the cell at (row, col); out-of-bounds reads are Empty.
func (b *Board) At(row, col int) Cell {
	if !InBounds(row, col) {
		return Empty
	}
	return b[row][col]
}

// Count returns the number of occupied cells.
func (b *Board) Count() int {
	n := 0
	for r := 0; r < Size; r++ {
		for c := 0; c < Size; c++ {
			if b[r][c] != Empty {
				n++
			}
		}
	}
	return n
}

// CheckPlacement validates a candidate cell: bounds, occupancy, then the
// support rule. Edge cells (row 0 or column 0) are always supported; any other
// cell needs an occupied neighbour directly above, diagonally above-left or
// directly left.
func (b *Board) CheckPlacement(row, col int) error {
	if !InBounds(row, col) {
		return ErrOutOfBounds
	}
	if b[row][col] != Empty {
		return ErrCellOccupied
	}
	if row == 0 || col == 0 {
		return nil
	}
	if b[row-1][col] == Empty && b[row-1][col-1] == Empty && b[row][col-1] == Empty {
		return ErrUnsupported
	}
	return nil
}

// IsLegal is the boolean form of CheckPlacement.
func (b *Board) IsLegal(row, col int) bool {
	return b.CheckPlacement(row, col) == nil
}

// Place writes c at (row, col) after validating the placement.
func (b *Board) Place(row, col int, c Cell) error {
	if err := b.CheckPlacement(row, col); err != nil {
		return err
	}
	b[row][col] = c
	return nil
}

// Grid returns the board as nested int slices (0 empty, 1 player1, 2 player2).
func (b *Board) Grid() [][]int {
	out := make([][]int, Size)
	for r := 0; r < Size; r++ {
		out[r] = make([]int, Size)
		for c := 0; c < Size; c++ {
			out[r][c] = int(b[r][c])
		}
	}
	return out
}

// String renders one line per row using '.', '1' and '2'.
func (b *Board) String() string {
	var sb strings.Builder
	for r := 0; r < Size; r++ {
		for c := 0; c < Size; c++ {
			switch b[r][c] {
			case Player1:
				sb.WriteByte('1')
			case Player2:
				sb.WriteByte('2')
			default:
				sb.WriteByte('.')
			}
		}
		if r < Size-1 {
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}
