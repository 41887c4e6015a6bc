package tilepack

import "fmt"

// TileRange is an inclusive rectangle of tile indices. A range with
// XMin > XMax or YMin > YMax is empty.
type TileRange struct {
	XMin, XMax int
	YMin, YMax int
}

func emptyTileRange() TileRange {
	return TileRange{XMin: 0, XMax: -1, YMin: 0, YMax: -1}
}

func (r TileRange) String() string {
	return fmt.Sprintf("%d/%d .. %d/%d", r.YMin, r.XMin, r.YMax, r.XMax)
}

func (r TileRange) Empty() bool {
	return r.XMin > r.XMax || r.YMin > r.YMax
}

func (r TileRange) Width() int {
	if r.Empty() {
		return 0
	}
	return r.XMax - r.XMin + 1
}

func (r TileRange) Height() int {
	if r.Empty() {
		return 0
	}
	return r.YMax - r.YMin + 1
}

// Len is the number of tiles in the range.
func (r TileRange) Len() int {
	return r.Width() * r.Height()
}

func (r TileRange) Contains(x, y int) bool {
	return x >= r.XMin && x <= r.XMax && y >= r.YMin && y <= r.YMax
}

// Intersect returns the tiles contained in both ranges.
func (r TileRange) Intersect(o TileRange) TileRange {
	i := TileRange{
		XMin: max(r.XMin, o.XMin),
		XMax: min(r.XMax, o.XMax),
		YMin: max(r.YMin, o.YMin),
		YMax: min(r.YMax, o.YMax),
	}
	if i.Empty() {
		return emptyTileRange()
	}
	return i
}
