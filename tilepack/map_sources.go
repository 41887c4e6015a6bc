package tilepack

import (
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// MapSource is a tiled map product with its layers ordered coarsest first.
type MapSource struct {
	Name    string
	Servers []string
	FileExt string
	Layers  []*Layer
}

// Layer returns the layer with the given zoom level, or nil.
func (m *MapSource) Layer(zoom int) *Layer {
	for _, l := range m.Layers {
		if l.Zoom == zoom {
			return l
		}
	}
	return nil
}

// MapSources is a catalogue of map sources keyed by name.
type MapSources map[string]*MapSource

type mapSourcesFile struct {
	Map []struct {
		Name     string   `toml:"name"`
		Servers  []string `toml:"servers"`
		FileType string   `toml:"filetype"`
		Zoom     []struct {
			Level      int     `toml:"level"`
			TileMeters float64 `toml:"tile_meters"`
			Name       string  `toml:"name"`
			URLBase    string  `toml:"url_base"`
		} `toml:"zoom"`
	} `toml:"map"`
}

// LoadMapSources reads a TOML map source catalogue.
func LoadMapSources(path string) (MapSources, error) {
	var f mapSourcesFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, errors.Wrapf(err, "decoding %s", path)
	}
	return f.sources()
}

// ParseMapSources decodes a TOML map source catalogue.
func ParseMapSources(data string) (MapSources, error) {
	var f mapSourcesFile
	if _, err := toml.Decode(data, &f); err != nil {
		return nil, errors.Wrap(err, "decoding map sources")
	}
	return f.sources()
}

func (f *mapSourcesFile) sources() (MapSources, error) {
	sources := make(MapSources, len(f.Map))
	for _, m := range f.Map {
		if m.Name == "" {
			return nil, configErrorf("map source without name")
		}
		if _, ok := sources[m.Name]; ok {
			return nil, configErrorf("map source %q defined twice", m.Name)
		}
		if len(m.Servers) == 0 {
			return nil, configErrorf("map source %q has no servers", m.Name)
		}
		if m.FileType == "" {
			return nil, configErrorf("map source %q has no filetype", m.Name)
		}
		if len(m.Zoom) == 0 {
			return nil, configErrorf("map source %q has no zoom levels", m.Name)
		}

		source := &MapSource{
			Name:    m.Name,
			Servers: m.Servers,
			FileExt: "." + strings.TrimPrefix(m.FileType, "."),
		}
		for _, z := range m.Zoom {
			if !(z.TileMeters > 0) {
				return nil, configErrorf("map source %q level %d has invalid tile_meters %g", m.Name, z.Level, z.TileMeters)
			}
			if source.Layer(z.Level) != nil {
				return nil, configErrorf("map source %q defines level %d twice", m.Name, z.Level)
			}
			source.Layers = append(source.Layers, &Layer{
				Zoom:       z.Level,
				Name:       z.Name,
				TileMeters: z.TileMeters,
				Servers:    source.Servers,
				URLBase:    z.URLBase,
				FileExt:    source.FileExt,
			})
		}
		sort.Slice(source.Layers, func(i, j int) bool {
			return source.Layers[i].Zoom < source.Layers[j].Zoom
		})
		sources[m.Name] = source
	}
	return sources, nil
}
