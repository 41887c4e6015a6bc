package tilepack

import (
	"github.com/paulmach/orb"
)

// TileOutputter receives finished tiles for packaging.
type TileOutputter interface {
	CreateTiles() error
	Save(tile Tile, data []byte) error
	Close() error
}

// TileReader returns stored tile images.
type TileReader interface {
	ReadTile(t Tile) ([]byte, error)
}

// ExportRange is the range of Available tiles of grid clipped to area.
func ExportRange(grid *StatusGrid, area orb.Bound) TileRange {
	return grid.AvailableTilesRange().Intersect(grid.Layer().TileRange(area))
}

// ExportTiles saves the Available tiles of all grids inside area to out and
// closes it. It returns the number of tiles saved.
func ExportTiles(grids []*StatusGrid, area orb.Bound, reader TileReader, out TileOutputter) (int, error) {
	if err := out.CreateTiles(); err != nil {
		return 0, err
	}

	count := 0
	for _, g := range grids {
		r := ExportRange(g, area)
		for t := range g.Tiles(Available) {
			if !r.Contains(t.X, t.Y) {
				continue
			}
			data, err := reader.ReadTile(t)
			if err != nil {
				out.Close()
				return count, err
			}
			if err := out.Save(t, data); err != nil {
				out.Close()
				return count, err
			}
			count++
		}
	}
	return count, out.Close()
}
