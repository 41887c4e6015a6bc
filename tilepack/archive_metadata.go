package tilepack

import (
	"fmt"
	"strings"

	"github.com/paulmach/orb"
)

// ArchiveMetadata describes an exported tile archive.
type ArchiveMetadata struct {
	Name        string
	Description string
	Format      string    // file type of the tiles, e.g. "png"
	Bounds      orb.Bound // WGS84 {lon, lat}
	Center      orb.Point
	MinZoom     int
	MaxZoom     int
	Layers      []*Layer
}

// NewArchiveMetadata derives the metadata of an export of layers over the
// projected area.
func NewArchiveMetadata(name string, layers []*Layer, area orb.Bound) (*ArchiveMetadata, error) {
	if len(layers) == 0 {
		return nil, configErrorf("no layers to export")
	}

	bounds := orb.Bound{Min: orb.Point{180, 90}, Max: orb.Point{-180, -90}}
	for _, corner := range [4]orb.Point{
		area.Min,
		{area.Min.X(), area.Max.Y()},
		{area.Max.X(), area.Min.Y()},
		area.Max,
	} {
		p, err := SwissToWGS84(corner)
		if err != nil {
			return nil, err
		}
		bounds = bounds.Extend(p)
	}

	m := &ArchiveMetadata{
		Name:    name,
		Format:  strings.TrimPrefix(layers[0].StorageExt(), "."),
		Bounds:  bounds,
		Center:  bounds.Center(),
		MinZoom: layers[0].Zoom,
		MaxZoom: layers[len(layers)-1].Zoom,
		Layers:  layers,
	}
	for _, l := range layers {
		m.MinZoom = min(m.MinZoom, l.Zoom)
		m.MaxZoom = max(m.MaxZoom, l.Zoom)
	}
	return m, nil
}

// JSON returns the metadata as a JSON object.
func (m *ArchiveMetadata) JSON() map[string]interface{} {
	layers := make([]map[string]interface{}, len(m.Layers))
	for i, l := range m.Layers {
		layers[i] = map[string]interface{}{
			"zoom":        l.Zoom,
			"name":        l.Name,
			"tile_meters": l.TileMeters,
			"scale":       l.Scale(),
		}
	}

	return map[string]interface{}{
		"name":        m.Name,
		"description": m.Description,
		"format":      m.Format,
		"bounds": fmt.Sprintf("%f,%f,%f,%f",
			m.Bounds.Min.Lon(), m.Bounds.Min.Lat(), m.Bounds.Max.Lon(), m.Bounds.Max.Lat()),
		"center":  fmt.Sprintf("%f,%f,%d", m.Center.Lon(), m.Center.Lat(), m.MinZoom),
		"minzoom": m.MinZoom,
		"maxzoom": m.MaxZoom,
		"crs":     "EPSG:21781",
		"layers":  layers,
	}
}
