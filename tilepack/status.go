package tilepack

import (
	"bufio"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/pkg/errors"
)

// TileStatus is the download state of one tile.
type TileStatus uint8

const (
	Missing TileStatus = iota
	Available
	Error
	NotFound
	OutOfMap

	numTileStatus
)

// TileStatuses lists all statuses in the order used by status dumps.
var TileStatuses = []TileStatus{Missing, Available, Error, NotFound, OutOfMap}

var (
	tileStatusNames  = [numTileStatus]string{"Missing", "Available", "Error", "NotFound", "OutOfMap"}
	tileStatusGlyphs = [numTileStatus]byte{'?', '#', 'E', '-', ' '}
)

func (s TileStatus) String() string {
	if s >= numTileStatus {
		return "TileStatus(" + strconv.Itoa(int(s)) + ")"
	}
	return tileStatusNames[s]
}

// Glyph is the character representing s in status dumps.
func (s TileStatus) Glyph() byte {
	if s >= numTileStatus {
		return '!'
	}
	return tileStatusGlyphs[s]
}

// Marker files stored next to tiles.
const (
	NotFoundExt = ".404"
	ErrorExt    = ".err"
	partExt     = ".part"
)

// importRank orders the statuses found on disk when several files exist for
// one tile.
var importRank = [numTileStatus]int{Missing: 0, Error: 1, NotFound: 2, Available: 3}

// StatusGrid tracks the status of every tile of one layer inside a
// rectangle of tile indices. Positions outside the rectangle read as
// OutOfMap. A StatusGrid is not safe for concurrent use.
type StatusGrid struct {
	layer     *Layer
	dir       string
	xOffset   int
	yOffset   int
	width     int
	height    int
	status    []TileStatus
	counts    [numTileStatus]int
	totalSize int64
}

// NewStatusGrid returns a grid covering every tile of layer touched by area,
// with all tiles Missing. Stored files are looked up under downloadDir.
func NewStatusGrid(layer *Layer, downloadDir string, area orb.Bound) *StatusGrid {
	r := layer.TileRange(area)
	g := &StatusGrid{
		layer:   layer,
		dir:     downloadDir,
		xOffset: r.XMin,
		yOffset: r.YMin,
		width:   r.Width(),
		height:  r.Height(),
	}
	g.status = make([]TileStatus, g.width*g.height)
	g.counts[Missing] = len(g.status)
	return g
}

func (g *StatusGrid) Layer() *Layer {
	return g.layer
}

// Len is the number of tiles inside the grid rectangle.
func (g *StatusGrid) Len() int {
	return len(g.status)
}

func (g *StatusGrid) index(x, y int) (int, bool) {
	x -= g.xOffset
	y -= g.yOffset
	if x < 0 || x >= g.width || y < 0 || y >= g.height {
		return 0, false
	}
	return y*g.width + x, true
}

func (g *StatusGrid) position(i int) (int, int) {
	return i%g.width + g.xOffset, i/g.width + g.yOffset
}

// At returns the status of tile (x, y), OutOfMap outside the grid.
func (g *StatusGrid) At(x, y int) TileStatus {
	i, ok := g.index(x, y)
	if !ok {
		return OutOfMap
	}
	return g.status[i]
}

// Set changes the status of tile (x, y). Setting a tile outside the grid is
// a programming error and panics.
func (g *StatusGrid) Set(x, y int, s TileStatus) {
	i, ok := g.index(x, y)
	if !ok {
		panic(fmt.Sprintf("tilepack: tile %d/%d is outside the status grid %s", y, x, g.AllTilesRange()))
	}
	g.counts[g.status[i]]--
	g.status[i] = s
	g.counts[s]++
}

// Count returns the number of tiles with status s.
func (g *StatusGrid) Count(s TileStatus) int {
	if s >= numTileStatus {
		return 0
	}
	return g.counts[s]
}

// TotalFileSize is the number of bytes of Available tiles.
func (g *StatusGrid) TotalFileSize() int64 {
	return g.totalSize
}

func (g *StatusGrid) AddFileSize(n int64) {
	g.totalSize += n
}

// AllTilesRange returns the grid rectangle.
func (g *StatusGrid) AllTilesRange() TileRange {
	if len(g.status) == 0 {
		return emptyTileRange()
	}
	return TileRange{
		XMin: g.xOffset,
		XMax: g.xOffset + g.width - 1,
		YMin: g.yOffset,
		YMax: g.yOffset + g.height - 1,
	}
}

// AvailableTilesRange returns the bounding range of all Available tiles, or
// an empty range when there are none.
func (g *StatusGrid) AvailableTilesRange() TileRange {
	r := emptyTileRange()
	found := false
	for i, s := range g.status {
		if s != Available {
			continue
		}
		x, y := g.position(i)
		if !found {
			r = TileRange{XMin: x, XMax: x, YMin: y, YMax: y}
			found = true
			continue
		}
		r.XMin = min(r.XMin, x)
		r.XMax = max(r.XMax, x)
		r.YMin = min(r.YMin, y)
		r.YMax = max(r.YMax, y)
	}
	return r
}

// Tiles yields the tiles of the grid with status s, row by row.
func (g *StatusGrid) Tiles(s TileStatus) iter.Seq[Tile] {
	return func(yield func(Tile) bool) {
		for i, ts := range g.status {
			if ts != s {
				continue
			}
			x, y := g.position(i)
			if !yield(Tile{X: x, Y: y, Layer: g.layer}) {
				return
			}
		}
	}
}

func (g *StatusGrid) reset() {
	clear(g.status)
	g.counts = [numTileStatus]int{Missing: len(g.status)}
	g.totalSize = 0
}

// ImportFiles resets the grid and derives the status of every tile from the
// files stored under <dir>/<zoom>/<y>/. Tiles without a file stay Missing.
func (g *StatusGrid) ImportFiles() error {
	g.reset()

	layerDir := filepath.Join(g.dir, strconv.Itoa(g.layer.Zoom))
	rows, err := os.ReadDir(layerDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "reading %s", layerDir)
	}

	tileExt := g.layer.StorageExt()
	for _, row := range rows {
		if !row.IsDir() {
			continue
		}
		y, err := strconv.Atoi(row.Name())
		if err != nil || y < g.yOffset || y >= g.yOffset+g.height {
			continue
		}

		rowDir := filepath.Join(layerDir, row.Name())
		files, err := os.ReadDir(rowDir)
		if err != nil {
			return errors.Wrapf(err, "reading %s", rowDir)
		}

		for _, f := range files {
			if f.IsDir() {
				continue
			}
			name := f.Name()
			ext := filepath.Ext(name)

			var s TileStatus
			switch {
			case ext == NotFoundExt:
				s = NotFound
			case ext == ErrorExt:
				s = Error
			case ext == tileExt:
				s = Available
			default:
				continue
			}

			x, err := strconv.Atoi(strings.TrimSuffix(name, ext))
			if err != nil {
				continue
			}
			i, ok := g.index(x, y)
			if !ok || importRank[s] <= importRank[g.status[i]] {
				continue
			}

			if s == Available {
				info, err := f.Info()
				if err != nil {
					return errors.Wrapf(err, "stat %s", filepath.Join(rowDir, name))
				}
				g.totalSize += info.Size()
			}
			g.Set(x, y, s)
		}
	}
	return nil
}

// MarkUncoveredInParentAsOutOfMap marks every Missing tile as OutOfMap unless
// one of the parent tiles under its corners is Available or Error.
func (g *StatusGrid) MarkUncoveredInParentAsOutOfMap(parent *StatusGrid) {
	for i, s := range g.status {
		if s != Missing {
			continue
		}
		x, y := g.position(i)
		if !parent.covers(Tile{X: x, Y: y, Layer: g.layer}) {
			g.Set(x, y, OutOfMap)
		}
	}
}

func (g *StatusGrid) covers(t Tile) bool {
	b := t.Bound()
	corners := [4]orb.Point{
		b.Min,
		{b.Min.X(), b.Max.Y()},
		{b.Max.X(), b.Min.Y()},
		b.Max,
	}

	var seen [4]Tile
	n := 0
next:
	for _, c := range corners {
		pt := g.layer.TileAt(c)
		for _, s := range seen[:n] {
			if s.X == pt.X && s.Y == pt.Y {
				continue next
			}
		}
		seen[n] = pt
		n++

		switch g.At(pt.X, pt.Y) {
		case Available, Error:
			return true
		}
	}
	return false
}

// MarkFilteredAsOutOfMap copies OutOfMap and NotFound from filter onto the
// Missing tiles of g. Both grids must use the same tile edge length.
func (g *StatusGrid) MarkFilteredAsOutOfMap(filter *StatusGrid) error {
	if filter.layer.TileMeters != g.layer.TileMeters {
		return configErrorf("filter layer %d has %gm tiles, layer %d has %gm tiles",
			filter.layer.Zoom, filter.layer.TileMeters, g.layer.Zoom, g.layer.TileMeters)
	}

	for i, s := range g.status {
		if s != Missing {
			continue
		}
		x, y := g.position(i)
		switch fs := filter.At(x, y); fs {
		case OutOfMap, NotFound:
			g.Set(x, y, fs)
		}
	}
	return nil
}

// WriteStatus writes a human readable summary followed by one glyph row per
// tile row.
func (g *StatusGrid) WriteStatus(w io.Writer) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "All: %s\n", g.AllTilesRange())
	fmt.Fprintf(bw, "Available: %s\n", g.AvailableTilesRange())
	bw.WriteString("Statistics:")
	for _, s := range TileStatuses {
		fmt.Fprintf(bw, " %s(%c):%d", s, s.Glyph(), g.counts[s])
	}
	bw.WriteByte('\n')
	fmt.Fprintf(bw, "Total file size: %d MiB (%d bytes)\n", g.totalSize>>20, g.totalSize)

	row := make([]byte, g.width+1)
	row[g.width] = '\n'
	for y := 0; y < g.height; y++ {
		for x, s := range g.status[y*g.width : (y+1)*g.width] {
			row[x] = s.Glyph()
		}
		bw.Write(row)
	}
	return bw.Flush()
}

// DumpToFile writes the status summary to path, replacing it atomically.
func (g *StatusGrid) DumpToFile(path string) error {
	return writeAtomic(path, g.WriteStatus)
}

// StatusGridsFromLayers builds the grids of all layers over area from the
// files under downloadDir, chaining parent coverage from coarse to fine.
func StatusGridsFromLayers(layers []*Layer, downloadDir string, area orb.Bound) ([]*StatusGrid, error) {
	grids := make([]*StatusGrid, 0, len(layers))
	var parent *StatusGrid
	for _, layer := range layers {
		g := NewStatusGrid(layer, downloadDir, area)
		if err := g.ImportFiles(); err != nil {
			return nil, err
		}
		if parent != nil {
			g.MarkUncoveredInParentAsOutOfMap(parent)
		}
		grids = append(grids, g)
		parent = g
	}
	return grids, nil
}
