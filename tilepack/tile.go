package tilepack

import (
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// The tile grid starts at the north-west corner of the Swiss domain. X grows
// to the east and Y grows to the south.
const (
	tileOriginEast  = SwissEastMin
	tileOriginNorth = SwissNorthMax
)

// Layer is one zoom level of a map source.
type Layer struct {
	Zoom       int      // level identifier, also the directory name on disk
	Name       string   // human readable, e.g. "1:25000"
	TileMeters float64  // edge length of a tile in projected meters
	Servers    []string // equivalent mirrors, used round-robin
	URLBase    string   // path prefix, or a template using {x}, {y}, {z} and {ext}
	FileExt    string   // extension of the served tiles including the dot
}

// Scale is the nominal map scale of the layer at 256 pixel tiles.
func (l *Layer) Scale() int {
	return int(math.Round(10000 * l.TileMeters / 256))
}

// StorageExt is the extension used for stored tiles.
func (l *Layer) StorageExt() string {
	if strings.EqualFold(l.FileExt, ".jpeg") {
		return ".jpg"
	}
	return l.FileExt
}

// TileOrigin returns the north-west corner of the tile at (x, y). Fractional
// indices address points inside a tile.
func (l *Layer) TileOrigin(x, y float64) orb.Point {
	return orb.Point{
		x*l.TileMeters + tileOriginEast,
		tileOriginNorth - y*l.TileMeters,
	}
}

// TileAt returns the tile containing p.
func (l *Layer) TileAt(p orb.Point) Tile {
	return Tile{
		X:     int(math.Floor((p.X() - tileOriginEast) / l.TileMeters)),
		Y:     int(math.Floor((tileOriginNorth - p.Y()) / l.TileMeters)),
		Layer: l,
	}
}

// TileRange returns the tiles touched by area, from its north-west to its
// south-east corner inclusive.
func (l *Layer) TileRange(area orb.Bound) TileRange {
	nw := l.TileAt(orb.Point{area.Min.X(), area.Max.Y()})
	se := l.TileAt(orb.Point{area.Max.X(), area.Min.Y()})
	return TileRange{XMin: nw.X, XMax: se.X, YMin: nw.Y, YMax: se.Y}
}

// Tile addresses one tile of a layer.
type Tile struct {
	X     int
	Y     int
	Layer *Layer
}

func (t Tile) String() string {
	return fmt.Sprintf("%d/%d/%d", t.Layer.Zoom, t.Y, t.X)
}

// Bound returns the projected area covered by the tile.
func (t Tile) Bound() orb.Bound {
	sw := t.Layer.TileOrigin(float64(t.X), float64(t.Y+1))
	ne := t.Layer.TileOrigin(float64(t.X+1), float64(t.Y))
	return orb.Bound{Min: sw, Max: ne}
}

// URLPath is the path of the tile relative to a server.
func (t Tile) URLPath() string {
	x := strconv.Itoa(t.X)
	y := strconv.Itoa(t.Y)
	if strings.Contains(t.Layer.URLBase, "{") {
		return strings.NewReplacer(
			"{x}", x,
			"{y}", y,
			"{z}", strconv.Itoa(t.Layer.Zoom),
			"{ext}", t.Layer.FileExt).Replace(t.Layer.URLBase)
	}
	return t.Layer.URLBase + x + "/" + y + t.Layer.FileExt
}

// FilePath is the path of the stored tile relative to the download directory.
func (t Tile) FilePath() string {
	return filepath.Join(strconv.Itoa(t.Layer.Zoom), strconv.Itoa(t.Y), strconv.Itoa(t.X)+t.Layer.StorageExt())
}
