// apps/go-server/internal/board/board.go
//
// Letter grid and the pure selection checks used by word claims.
// Responsibilities:
//   - Represent the R×C grid (empty string = blank cell, otherwise one uppercase letter).
//   - Check that a selection of cells is a single straight run.
//   - Check that every selected cell holds a letter.
//   - Rebuild the candidate word from the cells in the order the caller gave them.
//
// Nothing here knows about turns, players or sessions.
package board

import (
	"errors"
	"sort"
	"strings"
)

var (
	ErrGeometry            = errors.New("cells do not form a straight line")
	ErrIncompleteSelection = errors.New("selection includes empty cells")
)

// Cell addresses one square on the board.
type Cell struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// Board is a row-major grid of single-letter strings.
type Board [][]string

// New returns an empty rows×cols board.
func New(rows, cols int) Board {
	b := make(Board, rows)
	for r := range b {
		b[r] = make([]string, cols)
	}
	return b
}

// Rows reports the number of rows.
func (b Board) Rows() int { return len(b) }

// Cols reports the number of columns (0 for an empty board).
func (b Board) Cols() int {
	if len(b) == 0 {
		return 0
	}
	return len(b[0])
}

// InBounds reports whether (row, col) addresses a cell on the board.
func (b Board) InBounds(row, col int) bool {
	return row >= 0 && row < len(b) && col >= 0 && col < len(b[row])
}

// At returns the letter at (row, col), or "" when blank or out of range.
func (b Board) At(row, col int) string {
	if !b.InBounds(row, col) {
		return ""
	}
	return b[row][col]
}

// FilledCount counts non-empty cells across the whole board.
func (b Board) FilledCount() int {
	n := 0
	for _, row := range b {
		for _, v := range row {
			if strings.TrimSpace(v) != "" {
				n++
			}
		}
	}
	return n
}

// IsEmptyCell is true iff the cell is absent or blank.
func IsEmptyCell(b Board, row, col int) bool {
	return strings.TrimSpace(b.At(row, col)) == ""
}

// ValidateLinearSelection checks that cells form one contiguous straight run:
// horizontal, vertical, or diagonal in either slope. Input order does not
// matter; a sorted copy is walked step by step.
func ValidateLinearSelection(cells []Cell) error {
	if len(cells) == 0 {
		return ErrGeometry
	}
	if len(cells) == 1 {
		return nil
	}

	sorted := append([]Cell(nil), cells...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Row != sorted[j].Row {
			return sorted[i].Row < sorted[j].Row
		}
		return sorted[i].Col < sorted[j].Col
	})

	// The first step fixes the direction; every later step must repeat it.
	dr := sorted[1].Row - sorted[0].Row
	dc := sorted[1].Col - sorted[0].Col
	switch {
	case dr == 0 && dc == 1: // horizontal
	case dr == 1 && dc == 0: // vertical
	case dr == 1 && (dc == 1 || dc == -1): // diagonal
	default:
		return ErrGeometry
	}
	for i := 2; i < len(sorted); i++ {
		if sorted[i].Row-sorted[i-1].Row != dr || sorted[i].Col-sorted[i-1].Col != dc {
			return ErrGeometry
		}
	}
	return nil
}

// ValidateCellsFilled fails unless every referenced cell holds a letter.
func ValidateCellsFilled(b Board, cells []Cell) error {
	for _, c := range cells {
		if IsEmptyCell(b, c.Row, c.Col) {
			return ErrIncompleteSelection
		}
	}
	return nil
}

// BuildWord concatenates the letters at cells in the order supplied.
func BuildWord(b Board, cells []Cell) string {
	var sb strings.Builder
	sb.Grow(len(cells))
	for _, c := range cells {
		sb.WriteString(b.At(c.Row, c.Col))
	}
	return sb.String()
}
