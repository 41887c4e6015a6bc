package tilepack

import (
	"fmt"
	"hash"
	"hash/fnv"
	"io"
	"math"
	"os"
	"slices"
	"strings"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/paulmach/orb"
	"github.com/protomaps/go-pmtiles/pmtiles"
	"github.com/sirupsen/logrus"
)

type offsetLen struct {
	offset uint64
	length uint32
}

// PmtilesOutputter packs tiles into a single PMTiles v3 archive. Tiles are
// addressed by their Swiss grid indices, with the layer's zoom level as z.
type PmtilesOutputter struct {
	tileset   *roaring64.Bitmap
	hashFunc  hash.Hash
	offsetMap map[string]offsetLen
	tileData  *os.File
	entries   []pmtiles.EntryV3
	header    pmtiles.HeaderV3
	metadata  *ArchiveMetadata
	outFile   *os.File
	logger    logrus.FieldLogger
}

func NewPmtilesOutputter(path string, metadata *ArchiveMetadata, logger logrus.FieldLogger) (*PmtilesOutputter, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	tmpFile, err := os.CreateTemp("", "pmtiles-tiledata")
	if err != nil {
		return nil, fmt.Errorf("error creating temp file: %w", err)
	}

	outFile, err := os.Create(path)
	if err != nil {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
		return nil, fmt.Errorf("error creating pmtiles output file: %w", err)
	}

	return &PmtilesOutputter{
		outFile:   outFile,
		tileset:   roaring64.New(),
		hashFunc:  fnv.New128a(),
		tileData:  tmpFile,
		offsetMap: make(map[string]offsetLen),
		metadata:  metadata,
		header:    pmtiles.HeaderV3{SpecVersion: 3},
		logger:    logger,
	}, nil
}

func (p *PmtilesOutputter) CreateTiles() error {
	return nil
}

func (p *PmtilesOutputter) Save(tile Tile, data []byte) error {
	z := tile.Layer.Zoom
	if z < 0 || z > 31 || tile.X < 0 || tile.Y < 0 || tile.X >= 1<<z || tile.Y >= 1<<z {
		return configErrorf("tile %s does not fit a pmtiles zoom level %d", tile, z)
	}

	id := pmtiles.ZxyToID(uint8(z), uint32(tile.X), uint32(tile.Y))
	if p.tileset.Contains(id) {
		return nil
	}
	p.tileset.Add(id)

	// Identical tiles, e.g. lakes, share their data
	p.hashFunc.Reset()
	p.hashFunc.Write(data)
	sum := string(p.hashFunc.Sum(nil))
	found, ok := p.offsetMap[sum]
	if !ok {
		offset, err := p.tileData.Seek(0, io.SeekEnd)
		if err != nil {
			return err
		}
		n, err := p.tileData.Write(data)
		if err != nil {
			return err
		}
		found = offsetLen{offset: uint64(offset), length: uint32(n)}
		p.offsetMap[sum] = found
	}

	p.entries = append(p.entries, pmtiles.EntryV3{
		TileID:    id,
		Offset:    found.offset,
		Length:    found.length,
		RunLength: 1,
	})
	return nil
}

func tileTypeFor(format string) pmtiles.TileType {
	switch strings.ToLower(format) {
	case "png":
		return pmtiles.Png
	case "jpg", "jpeg":
		return pmtiles.Jpeg
	case "webp":
		return pmtiles.Webp
	}
	return pmtiles.UnknownTileType
}

func e7(v float64) int32 {
	return int32(math.Round(v * 1e7))
}

func (p *PmtilesOutputter) Close() error {
	defer p.outFile.Close()
	defer os.Remove(p.tileData.Name())
	defer p.tileData.Close()

	slices.SortFunc(p.entries, func(a, b pmtiles.EntryV3) int {
		switch {
		case a.TileID < b.TileID:
			return -1
		case a.TileID > b.TileID:
			return 1
		}
		return 0
	})

	p.header.AddressedTilesCount = p.tileset.GetCardinality()
	p.header.TileEntriesCount = uint64(len(p.entries))
	p.header.TileContentsCount = uint64(len(p.offsetMap))

	rootBytes, leavesBytes, numLeaves := optimizeDirectories(p.entries, 16384-pmtiles.HeaderV3LenBytes, pmtiles.Gzip)
	p.logger.WithFields(logrus.Fields{
		"tiles":      p.header.AddressedTilesCount,
		"contents":   p.header.TileContentsCount,
		"root_bytes": len(rootBytes),
		"leaf_dirs":  numLeaves,
	}).Info("Writing pmtiles archive")

	jsonMetadata := make(map[string]interface{})
	if p.metadata != nil {
		jsonMetadata = p.metadata.JSON()
		p.header.TileType = tileTypeFor(p.metadata.Format)
		p.header.MinZoom = uint8(p.metadata.MinZoom)
		p.header.MaxZoom = uint8(p.metadata.MaxZoom)
		p.header.MinLonE7 = e7(p.metadata.Bounds.Min.Lon())
		p.header.MinLatE7 = e7(p.metadata.Bounds.Min.Lat())
		p.header.MaxLonE7 = e7(p.metadata.Bounds.Max.Lon())
		p.header.MaxLatE7 = e7(p.metadata.Bounds.Max.Lat())
		p.header.CenterZoom = uint8(p.metadata.MinZoom)
		p.header.CenterLonE7 = e7(p.metadata.Center.Lon())
		p.header.CenterLatE7 = e7(p.metadata.Center.Lat())
	}

	metadataBytes, err := pmtiles.SerializeMetadata(jsonMetadata, pmtiles.Gzip)
	if err != nil {
		return fmt.Errorf("error serializing pmtiles metadata: %v", err)
	}

	tileDataLength, err := p.tileData.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}

	p.header.InternalCompression = pmtiles.Gzip
	p.header.TileCompression = pmtiles.NoCompression
	p.header.RootOffset = pmtiles.HeaderV3LenBytes
	p.header.RootLength = uint64(len(rootBytes))
	p.header.MetadataOffset = p.header.RootOffset + p.header.RootLength
	p.header.MetadataLength = uint64(len(metadataBytes))
	p.header.LeafDirectoryOffset = p.header.MetadataOffset + p.header.MetadataLength
	p.header.LeafDirectoryLength = uint64(len(leavesBytes))
	p.header.TileDataOffset = p.header.LeafDirectoryOffset + p.header.LeafDirectoryLength
	p.header.TileDataLength = uint64(tileDataLength)

	for _, part := range []struct {
		name string
		data []byte
	}{
		{"header", pmtiles.SerializeHeader(p.header)},
		{"root directory", rootBytes},
		{"metadata", metadataBytes},
		{"leaf directory", leavesBytes},
	} {
		if _, err := p.outFile.Write(part.data); err != nil {
			return fmt.Errorf("error writing pmtiles %s: %w", part.name, err)
		}
	}

	if _, err := p.tileData.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("error seeking to start of tile data: %w", err)
	}
	if _, err := io.Copy(p.outFile, p.tileData); err != nil {
		return fmt.Errorf("error copying tile data to outfile: %w", err)
	}
	return p.outFile.Close()
}

func optimizeDirectories(entries []pmtiles.EntryV3, targetRootLen int, compression pmtiles.Compression) ([]byte, []byte, int) {
	if len(entries) < 16384 {
		testRootBytes := pmtiles.SerializeEntries(entries, compression)
		if len(testRootBytes) <= targetRootLen {
			// The entire directory fits into the root
			return testRootBytes, make([]byte, 0), 0
		}
	}

	// Root directory holds leaf pointers only. Grow the leaves until the
	// root fits.
	leafSize := float32(len(entries)) / 3500
	if leafSize < 4096 {
		leafSize = 4096
	}

	for {
		rootBytes, leavesBytes, numLeaves := buildRootsLeaves(entries, int(leafSize), compression)
		if len(rootBytes) <= targetRootLen {
			return rootBytes, leavesBytes, numLeaves
		}
		leafSize *= 1.2
	}
}

func buildRootsLeaves(entries []pmtiles.EntryV3, leafSize int, compression pmtiles.Compression) ([]byte, []byte, int) {
	rootEntries := make([]pmtiles.EntryV3, 0)
	leavesBytes := make([]byte, 0)
	numLeaves := 0

	for i := 0; i < len(entries); i += leafSize {
		numLeaves++
		end := min(i+leafSize, len(entries))
		serialized := pmtiles.SerializeEntries(entries[i:end], compression)

		rootEntries = append(rootEntries, pmtiles.EntryV3{
			TileID:    entries[i].TileID,
			Offset:    uint64(len(leavesBytes)),
			Length:    uint32(len(serialized)),
			RunLength: 0,
		})
		leavesBytes = append(leavesBytes, serialized...)
	}

	rootBytes := pmtiles.SerializeEntries(rootEntries, compression)
	return rootBytes, leavesBytes, numLeaves
}

// ExportPmtiles writes the Available tiles of grids inside area to a
// PMTiles archive at path.
func ExportPmtiles(grids []*StatusGrid, area orb.Bound, reader TileReader, path, name string, logger logrus.FieldLogger) (int, error) {
	layers := make([]*Layer, len(grids))
	for i, g := range grids {
		layers[i] = g.Layer()
	}
	metadata, err := NewArchiveMetadata(name, layers, area)
	if err != nil {
		return 0, err
	}

	out, err := NewPmtilesOutputter(path, metadata, logger)
	if err != nil {
		return 0, err
	}
	return ExportTiles(grids, area, reader, out)
}
