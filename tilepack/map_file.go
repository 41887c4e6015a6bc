package tilepack

import (
	"path/filepath"
	"time"

	"github.com/paulmach/orb"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	defaultRequestsPerSec = 10.0
	minMaxZoom            = 16
	maxMaxZoom            = 28
)

// MapFile describes one download: which map source, which area and where
// tiles and exports go.
type MapFile struct {
	Path                string
	Source              *MapSource
	Layers              []*Layer // the source's layers up to MaxZoom
	Area                orb.Bound
	MaxZoom             int
	DownloadDir         string
	OutputDir           string
	OutputMapName       string
	MaxParallelRequests int
	MaxRequestsPerSec   float64
	RequestTimeout      time.Duration
}

// LoadMapFile reads a map definition (TOML, YAML or JSON, by extension) and
// the map source catalogue it refers to. Relative paths are resolved
// against the directory of the map file. TOPOTILES_RPS overrides
// max_requests_per_sec.
func LoadMapFile(path string) (*MapFile, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if ext := filepath.Ext(path); ext == ".map" || ext == "" {
		v.SetConfigType("toml")
	}
	v.SetEnvPrefix("topotiles")
	v.BindEnv("max_requests_per_sec", "TOPOTILES_RPS")

	v.SetDefault("y_min", DefaultEastMin)
	v.SetDefault("y_max", DefaultEastMax)
	v.SetDefault("x_min", DefaultNorthMin)
	v.SetDefault("x_max", DefaultNorthMax)
	v.SetDefault("map_sources", "map_sources.toml")
	v.SetDefault("max_parallel_requests", 1)
	v.SetDefault("max_requests_per_sec", defaultRequestsPerSec)
	v.SetDefault("request_timeout", "60s")

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "reading map file %s", path)
	}

	base := filepath.Dir(path)
	sources, err := LoadMapSources(resolvePath(base, v.GetString("map_sources")))
	if err != nil {
		return nil, err
	}
	return newMapFile(v, path, sources)
}

func resolvePath(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

func newMapFile(v *viper.Viper, path string, sources MapSources) (*MapFile, error) {
	base := filepath.Dir(path)
	m := &MapFile{
		Path:                path,
		MaxZoom:             v.GetInt("max_zoom"),
		DownloadDir:         resolvePath(base, v.GetString("download_dir")),
		OutputDir:           resolvePath(base, v.GetString("output_dir")),
		OutputMapName:       v.GetString("output_map_name"),
		MaxParallelRequests: max(v.GetInt("max_parallel_requests"), 1),
		MaxRequestsPerSec:   v.GetFloat64("max_requests_per_sec"),
		RequestTimeout:      v.GetDuration("request_timeout"),
	}
	if !(m.MaxRequestsPerSec > 0) {
		m.MaxRequestsPerSec = defaultRequestsPerSec
	}

	name := v.GetString("map_source")
	if name == "" {
		return nil, configErrorf("%s: map_source is required", path)
	}
	m.Source = sources[name]
	if m.Source == nil {
		return nil, configErrorf("%s: unknown map source %q", path, name)
	}

	var coords [4]float64
	for i, c := range []struct {
		key      string
		min, max float64
	}{
		{"y_min", SwissEastMin, SwissEastMax},
		{"y_max", SwissEastMin, SwissEastMax},
		{"x_min", SwissNorthMin, SwissNorthMax},
		{"x_max", SwissNorthMin, SwissNorthMax},
	} {
		coords[i] = v.GetFloat64(c.key)
		if coords[i] < c.min || coords[i] > c.max {
			return nil, configErrorf("%s: %s=%g is outside %g..%g", path, c.key, coords[i], c.min, c.max)
		}
	}
	m.Area = NewArea(coords[0], coords[1], coords[2], coords[3])
	if m.Area.Min.X() == m.Area.Max.X() || m.Area.Min.Y() == m.Area.Max.Y() {
		return nil, configErrorf("%s: area is empty", path)
	}

	if m.MaxZoom < minMaxZoom || m.MaxZoom > maxMaxZoom {
		return nil, configErrorf("%s: max_zoom=%d is outside %d..%d", path, m.MaxZoom, minMaxZoom, maxMaxZoom)
	}
	for _, l := range m.Source.Layers {
		if l.Zoom <= m.MaxZoom {
			m.Layers = append(m.Layers, l)
		}
	}
	if len(m.Layers) == 0 {
		return nil, configErrorf("%s: map source %q has no layers up to zoom %d", path, name, m.MaxZoom)
	}

	for key, value := range map[string]string{
		"download_dir":    m.DownloadDir,
		"output_dir":      m.OutputDir,
		"output_map_name": m.OutputMapName,
	} {
		if value == "" {
			return nil, configErrorf("%s: %s is required", path, key)
		}
	}
	return m, nil
}

// StatusGrids imports the current state of the download directory.
func (m *MapFile) StatusGrids() ([]*StatusGrid, error) {
	return StatusGridsFromLayers(m.Layers, m.DownloadDir, m.Area)
}

// TileFilters builds one filter grid per layer of m from the download of
// filter, over the area of m. Every layer of m needs a layer of filter with
// the same zoom level.
func (m *MapFile) TileFilters(filter *MapFile) ([]*StatusGrid, error) {
	grids := make([]*StatusGrid, 0, len(m.Layers))
	var parent *StatusGrid
	for _, l := range m.Layers {
		fl := filter.Source.Layer(l.Zoom)
		if fl == nil || fl.Zoom > filter.MaxZoom {
			return nil, configErrorf("filter map %s has no zoom level %d", filter.Path, l.Zoom)
		}

		g := NewStatusGrid(fl, filter.DownloadDir, m.Area)
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
