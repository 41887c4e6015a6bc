package tilepack

import (
	"bytes"
	"image"
	"io"

	"github.com/paulmach/orb"
	"github.com/pkg/errors"
	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
)

const (
	tilePixels      = 256
	maxBitmapPixels = 32767
)

// ExportBitmap draws the Available tiles of grid inside area into a single
// bitmap and writes it to w as BMP. Tiles without content stay black.
func ExportBitmap(grid *StatusGrid, area orb.Bound, reader TileReader, w io.Writer) (TileRange, error) {
	tiles := ExportRange(grid, area)
	if tiles.Empty() {
		return tiles, errors.Errorf("layer %d has no available tiles in the area", grid.Layer().Zoom)
	}

	width := tiles.Width() * tilePixels
	height := tiles.Height() * tilePixels
	if width > maxBitmapPixels || height > maxBitmapPixels {
		return tiles, errors.Errorf("bitmap of %dx%d pixels exceeds %d pixels per side", width, height, maxBitmapPixels)
	}

	mosaic := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(mosaic, mosaic.Bounds(), image.Black, image.Point{}, draw.Src)

	for t := range grid.Tiles(Available) {
		if !tiles.Contains(t.X, t.Y) {
			continue
		}
		data, err := reader.ReadTile(t)
		if err != nil {
			return tiles, err
		}
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return tiles, errors.Wrapf(err, "decoding tile %s", t)
		}

		x := (t.X - tiles.XMin) * tilePixels
		y := (t.Y - tiles.YMin) * tilePixels
		dst := image.Rect(x, y, x+tilePixels, y+tilePixels)
		if img.Bounds().Dx() == tilePixels && img.Bounds().Dy() == tilePixels {
			draw.Draw(mosaic, dst, img, img.Bounds().Min, draw.Over)
		} else {
			draw.CatmullRom.Scale(mosaic, dst, img, img.Bounds(), draw.Over, nil)
		}
	}

	return tiles, bmp.Encode(w, mosaic)
}
