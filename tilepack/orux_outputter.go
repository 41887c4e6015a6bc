package tilepack

import (
	"database/sql"
	"encoding/xml"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/mattn/go-sqlite3" // Register sqlite3 database driver
	"github.com/paulmach/orb"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	batchSize = 1000

	oruxImagesFile    = "OruxMapsImages.db"
	oruxMapInfoFile   = "mapinfo.otrk2.xml"
	oruxNamespace     = "http://oruxtracker.com/app/res/calibration"
	oruxZoomOffset    = 9
	oruxTilePixels    = 256
	oruxDatum         = "CH-1903:Swiss@WGS 1984:Global Definition"
	oruxProjection    = "(SUI) Swiss Grid"
	oruxChunkFileName = "Swiss"
)

type oruxTracker struct {
	XMLName        xml.Name        `xml:"http://oruxtracker.com/app/res/calibration OruxTracker"`
	VersionCode    string          `xml:"versionCode,attr,omitempty"`
	MapCalibration oruxCalibration `xml:"MapCalibration"`
}

type oruxCalibration struct {
	Layers            bool                   `xml:"layers,attr"`
	LayerLevel        int                    `xml:"layerLevel,attr"`
	MapName           string                 `xml:"MapName"`
	MapChunks         *oruxChunks            `xml:"MapChunks,omitempty"`
	MapDimensions     *oruxDimensions        `xml:"MapDimensions,omitempty"`
	MapBounds         *oruxBounds            `xml:"MapBounds,omitempty"`
	CalibrationPoints *oruxCalibrationPoints `xml:"CalibrationPoints,omitempty"`
	Trackers          []oruxTracker          `xml:"OruxTracker"`
}

type oruxChunks struct {
	XMax       int    `xml:"xMax,attr"`
	YMax       int    `xml:"yMax,attr"`
	Datum      string `xml:"datum,attr"`
	Projection string `xml:"projection,attr"`
	ImgHeight  int    `xml:"img_height,attr"`
	ImgWidth   int    `xml:"img_width,attr"`
	FileName   string `xml:"file_name,attr"`
}

type oruxDimensions struct {
	Height int `xml:"height,attr"`
	Width  int `xml:"width,attr"`
}

type oruxBounds struct {
	MinLat string `xml:"minLat,attr"`
	MaxLat string `xml:"maxLat,attr"`
	MinLon string `xml:"minLon,attr"`
	MaxLon string `xml:"maxLon,attr"`
}

type oruxCalibrationPoints struct {
	Points []oruxCalibrationPoint `xml:"CalibrationPoint"`
}

type oruxCalibrationPoint struct {
	Corner string `xml:"corner,attr"`
	Lon    string `xml:"lon,attr"`
	Lat    string `xml:"lat,attr"`
}

func formatDegrees(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// OruxOutputter writes an offline map for OruxMaps: a SQLite tile database
// and the calibration file describing each layer.
type OruxOutputter struct {
	dir        string
	mapName    string
	overlay    []byte
	db         *sql.DB
	txn        *sql.Tx
	batchCount int
	hasTiles   bool
	info       oruxTracker
}

// NewOruxOutputter prepares an export into dir, replacing an existing one.
// A non-nil overlay marks the map as transparent overlay: tiles without
// content reference the overlay image instead of being left out.
func NewOruxOutputter(dir, mapName string, overlay []byte) (*OruxOutputter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "creating %s", dir)
	}
	dbPath := filepath.Join(dir, oruxImagesFile)
	if err := os.Remove(dbPath); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "removing %s", dbPath)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	return &OruxOutputter{
		dir:     dir,
		mapName: mapName,
		overlay: overlay,
		db:      db,
		info: oruxTracker{
			VersionCode: "3.0",
			MapCalibration: oruxCalibration{
				Layers:  true,
				MapName: mapName,
			},
		},
	}, nil
}

func (o *OruxOutputter) CreateTiles() error {
	if o.hasTiles {
		return nil
	}

	table := "tiles"
	if o.overlay != nil {
		table = "tiles_tbl"
	}
	if _, err := o.db.Exec(`
		BEGIN TRANSACTION;
		CREATE TABLE android_metadata (locale TEXT);
		INSERT INTO android_metadata (locale) VALUES ('de_CH');
		CREATE TABLE ` + table + ` (x int, y int, z int, image blob, PRIMARY KEY (x, y, z));
		COMMIT;
		PRAGMA synchronous=OFF;
	`); err != nil {
		return err
	}
	o.hasTiles = true
	return nil
}

func (o *OruxOutputter) insert(x, y, z int, image []byte) error {
	if o.txn == nil {
		tx, err := o.db.Begin()
		if err != nil {
			return err
		}
		o.txn = tx
	}

	table := "tiles"
	if o.overlay != nil {
		table = "tiles_tbl"
	}
	if _, err := o.txn.Exec("INSERT OR REPLACE INTO "+table+" (x, y, z, image) VALUES (?, ?, ?, ?);", x, y, z, image); err != nil {
		return err
	}

	o.batchCount++
	if o.batchCount%batchSize == 0 {
		if err := o.txn.Commit(); err != nil {
			return err
		}
		o.batchCount = 0
		o.txn = nil
	}
	return nil
}

// AddLayer adds the Available tiles of grid inside tiles as layer number
// index, with tile indices relative to the range's north-west corner.
func (o *OruxOutputter) AddLayer(grid *StatusGrid, tiles TileRange, index int, reader TileReader) error {
	if err := o.CreateTiles(); err != nil {
		return err
	}

	layer := grid.Layer()
	z := index + oruxZoomOffset
	for y := tiles.YMin; y <= tiles.YMax; y++ {
		for x := tiles.XMin; x <= tiles.XMax; x++ {
			var image []byte
			switch grid.At(x, y) {
			case Available:
				data, err := reader.ReadTile(Tile{X: x, Y: y, Layer: layer})
				if err != nil {
					return err
				}
				image = data
			default:
				if o.overlay == nil {
					continue
				}
			}
			if err := o.insert(x-tiles.XMin, y-tiles.YMin, z, image); err != nil {
				return err
			}
		}
	}

	return o.addCalibration(layer, tiles, z)
}

func (o *OruxOutputter) addCalibration(layer *Layer, tiles TileRange, z int) error {
	corner := func(x, y int) (orb.Point, error) {
		return SwissToWGS84(layer.TileOrigin(float64(x), float64(y)))
	}
	tl, err := corner(tiles.XMin, tiles.YMin)
	if err != nil {
		return err
	}
	tr, err := corner(tiles.XMax+1, tiles.YMin)
	if err != nil {
		return err
	}
	bl, err := corner(tiles.XMin, tiles.YMax+1)
	if err != nil {
		return err
	}
	br, err := corner(tiles.XMax+1, tiles.YMax+1)
	if err != nil {
		return err
	}

	point := func(name string, p orb.Point) oruxCalibrationPoint {
		return oruxCalibrationPoint{Corner: name, Lon: formatDegrees(p.Lon()), Lat: formatDegrees(p.Lat())}
	}

	o.info.MapCalibration.Trackers = append(o.info.MapCalibration.Trackers, oruxTracker{
		VersionCode: "2.1",
		MapCalibration: oruxCalibration{
			Layers:     false,
			LayerLevel: z,
			MapName:    o.mapName + " " + layer.Name,
			MapChunks: &oruxChunks{
				XMax:       tiles.Width(),
				YMax:       tiles.Height(),
				Datum:      oruxDatum,
				Projection: oruxProjection,
				ImgHeight:  oruxTilePixels,
				ImgWidth:   oruxTilePixels,
				FileName:   oruxChunkFileName,
			},
			MapDimensions: &oruxDimensions{
				Height: oruxTilePixels * tiles.Height(),
				Width:  oruxTilePixels * tiles.Width(),
			},
			MapBounds: &oruxBounds{
				MinLat: formatDegrees(min(bl.Lat(), br.Lat())),
				MaxLat: formatDegrees(max(tl.Lat(), tr.Lat())),
				MinLon: formatDegrees(min(tl.Lon(), bl.Lon())),
				MaxLon: formatDegrees(max(tr.Lon(), br.Lon())),
			},
			CalibrationPoints: &oruxCalibrationPoints{Points: []oruxCalibrationPoint{
				point("TL", tl),
				point("BR", br),
				point("TR", tr),
				point("BL", bl),
			}},
		},
	})
	return nil
}

// Close finishes the database and writes the calibration file.
func (o *OruxOutputter) Close() error {
	err := o.finish()
	if o.txn != nil {
		if err2 := o.txn.Commit(); err == nil {
			err = err2
		}
		o.txn = nil
	}
	if err2 := o.db.Close(); err == nil {
		err = err2
	}
	if err != nil {
		return err
	}

	return writeAtomic(filepath.Join(o.dir, oruxMapInfoFile), func(w io.Writer) error {
		if _, err := io.WriteString(w, xml.Header); err != nil {
			return err
		}
		enc := xml.NewEncoder(w)
		enc.Indent("", "  ")
		return enc.Encode(o.info)
	})
}

func (o *OruxOutputter) finish() error {
	if err := o.CreateTiles(); err != nil {
		return err
	}
	if o.overlay == nil {
		return nil
	}
	if err := o.insert(-1, -1, -1, o.overlay); err != nil {
		return err
	}
	if o.txn != nil {
		if err := o.txn.Commit(); err != nil {
			return err
		}
		o.txn = nil
	}
	_, err := o.db.Exec(`
		CREATE VIEW tiles AS
		SELECT t.x AS x, t.y AS y, t.z AS z, COALESCE(t.image, n.image) AS image
		FROM tiles_tbl t
		LEFT JOIN tiles_tbl n ON n.x = -1 AND n.y = -1 AND n.z = -1
		WHERE t.z >= 0;
	`)
	return err
}

// overlayImage returns the first transparent placeholder stored as
// not-found marker of a PNG layer, or nil when the map is opaque.
func overlayImage(grids []*StatusGrid, store *DiskStore) []byte {
	for _, g := range grids {
		if !strings.EqualFold(g.Layer().FileExt, ".png") {
			continue
		}
		for t := range g.Tiles(NotFound) {
			data, err := store.ReadNotFound(t)
			if err == nil && len(data) > 0 {
				return data
			}
		}
	}
	return nil
}

// ExportOrux writes all grids as layers of an OruxMaps offline map into
// dir/name.
func ExportOrux(grids []*StatusGrid, area orb.Bound, store *DiskStore, dir, name string, logger logrus.FieldLogger) error {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	for _, g := range grids {
		if n := g.Count(Error) + g.Count(Missing); n > 0 {
			logger.WithField("zoom", g.Layer().Zoom).Warnf("%d tiles are not downloaded (%d errors, %d missing)",
				n, g.Count(Error), g.Count(Missing))
		}
	}

	overlay := overlayImage(grids, store)
	if overlay != nil {
		logger.Info("Exporting as transparent overlay")
	}

	out, err := NewOruxOutputter(filepath.Join(dir, name), name, overlay)
	if err != nil {
		return err
	}

	for i, g := range grids {
		tiles := ExportRange(g, area)
		if tiles.Empty() {
			logger.WithField("zoom", g.Layer().Zoom).Warn("No available tiles, skipping layer")
			continue
		}
		logger.WithField("zoom", g.Layer().Zoom).Infof("Exporting tiles %s", tiles)
		if err := out.AddLayer(g, tiles, i, store); err != nil {
			out.Close()
			return err
		}
	}
	return out.Close()
}
