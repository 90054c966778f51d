package common

import "fmt"

// TileBounds is an inclusive range of region indices
type TileBounds struct {
	MinCol int `json:"minCol"`
	MaxCol int `json:"maxCol"`
	MinRow int `json:"minRow"`
	MaxRow int `json:"maxRow"`
}

// Cols returns the number of columns in the bounds
func (tb TileBounds) Cols() int {
	return tb.MaxCol - tb.MinCol + 1
}

// Rows returns the number of rows in the bounds
func (tb TileBounds) Rows() int {
	return tb.MaxRow - tb.MinRow + 1
}

// Contains reports whether the index lies inside the bounds
func (tb TileBounds) Contains(col, row int) bool {
	return col >= tb.MinCol && col <= tb.MaxCol && row >= tb.MinRow && row <= tb.MaxRow
}

// Key identifies the bounds, e.g. for deduplicating block requests
func (tb TileBounds) Key() string {
	return fmt.Sprintf("%d,%d,%d,%d", tb.MinCol, tb.MinRow, tb.MaxCol, tb.MaxRow)
}

// Tile is anything with a grid column and row
type Tile interface {
	GetRow() int
	GetColumn() int
}

// CalculateTileBounds returns the smallest bounds containing every tile
func CalculateTileBounds(tiles []Tile) (TileBounds, error) {
	if len(tiles) == 0 {
		return TileBounds{}, fmt.Errorf("no tiles provided")
	}

	bounds := TileBounds{
		MinCol: tiles[0].GetColumn(),
		MaxCol: tiles[0].GetColumn(),
		MinRow: tiles[0].GetRow(),
		MaxRow: tiles[0].GetRow(),
	}

	for _, tile := range tiles[1:] {
		bounds.MinCol = min(bounds.MinCol, tile.GetColumn())
		bounds.MaxCol = max(bounds.MaxCol, tile.GetColumn())
		bounds.MinRow = min(bounds.MinRow, tile.GetRow())
		bounds.MaxRow = max(bounds.MaxRow, tile.GetRow())
	}

	return bounds, nil
}
