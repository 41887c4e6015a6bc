package tilepack

import (
	"path/filepath"
	"reflect"
	"testing"

	"github.com/paulmach/orb"
)

func TestLayer_TileAt(t *testing.T) {
	layer := &Layer{Zoom: 16, TileMeters: 1000}
	tests := []struct {
		name  string
		point orb.Point
		want  Tile
	}{
		{"origin", orb.Point{420000, 350000}, Tile{0, 0, layer}},
		{"bern", orb.Point{600000, 200000}, Tile{180, 150, layer}},
		{"inside", orb.Point{600999, 199001}, Tile{180, 150, layer}},
		{"next row", orb.Point{600000, 199000}, Tile{180, 151, layer}},
		{"west of origin", orb.Point{419999, 350000}, Tile{-1, 0, layer}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := layer.TileAt(tt.point); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Layer.TileAt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTile_Bound(t *testing.T) {
	layer := &Layer{Zoom: 16, TileMeters: 1000}
	got := Tile{X: 180, Y: 150, Layer: layer}.Bound()
	want := orb.Bound{Min: orb.Point{600000, 199000}, Max: orb.Point{601000, 200000}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Tile.Bound() = %v, want %v", got, want)
	}
}

func TestTile_BoundContainsPoint(t *testing.T) {
	layer := &Layer{Zoom: 17, TileMeters: 250}
	for east := 600000.0; east < 602000; east += 77 {
		for north := 198000.0; north < 200000; north += 91 {
			p := orb.Point{east, north}
			b := layer.TileAt(p).Bound()
			if p.X() < b.Min.X() || p.X() >= b.Max.X() || p.Y() <= b.Min.Y() || p.Y() > b.Max.Y() {
				t.Fatalf("point %v is not covered by its tile bound %v", p, b)
			}
		}
	}
}

func TestTile_Paths(t *testing.T) {
	tests := []struct {
		name     string
		layer    *Layer
		wantURL  string
		wantFile string
	}{
		{
			"url base",
			&Layer{Zoom: 18, URLBase: "/1.0.0/ch.swisstopo.pixelkarte-farbe/default/20151231/21781/18/", FileExt: ".jpeg"},
			"/1.0.0/ch.swisstopo.pixelkarte-farbe/default/20151231/21781/18/180/150.jpeg",
			filepath.Join("18", "150", "180.jpg"),
		},
		{
			"template",
			&Layer{Zoom: 20, URLBase: "/wmts/{z}/{y}/{x}{ext}", FileExt: ".png"},
			"/wmts/20/150/180.png",
			filepath.Join("20", "150", "180.png"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tile := Tile{X: 180, Y: 150, Layer: tt.layer}
			if got := tile.URLPath(); got != tt.wantURL {
				t.Errorf("Tile.URLPath() = %v, want %v", got, tt.wantURL)
			}
			if got := tile.FilePath(); got != tt.wantFile {
				t.Errorf("Tile.FilePath() = %v, want %v", got, tt.wantFile)
			}
		})
	}
}

func TestLayer_Scale(t *testing.T) {
	tests := []struct {
		meters float64
		want   int
	}{
		{64000, 2500000},
		{640, 25000},
		{256, 10000},
		{2.56, 100},
	}
	for _, tt := range tests {
		if got := (&Layer{TileMeters: tt.meters}).Scale(); got != tt.want {
			t.Errorf("Layer{TileMeters: %g}.Scale() = %d, want %d", tt.meters, got, tt.want)
		}
	}
}

func TestTileRange_Intersect(t *testing.T) {
	a := TileRange{XMin: 0, XMax: 10, YMin: 0, YMax: 10}
	if got, want := a.Intersect(TileRange{5, 20, -5, 3}), (TileRange{5, 10, 0, 3}); got != want {
		t.Errorf("Intersect() = %v, want %v", got, want)
	}
	if got := a.Intersect(TileRange{11, 20, 0, 10}); !got.Empty() || got.Len() != 0 {
		t.Errorf("Intersect() = %v, want empty", got)
	}
}
