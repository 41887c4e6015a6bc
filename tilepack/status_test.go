package tilepack

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

var testArea = NewArea(600000, 604000, 200000, 203000)

func newTestLayer(zoom int, meters float64) *Layer {
	return &Layer{Zoom: zoom, Name: "test", TileMeters: meters, FileExt: ".png", URLBase: "/" + strconv.Itoa(zoom) + "/"}
}

func checkCounts(t *testing.T, g *StatusGrid) {
	t.Helper()
	sum := 0
	for _, s := range TileStatuses {
		sum += g.Count(s)
	}
	if sum != g.Len() {
		t.Fatalf("status counts add up to %d, grid has %d tiles", sum, g.Len())
	}
}

func writeTestFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
}

func TestNewStatusGrid(t *testing.T) {
	g := NewStatusGrid(newTestLayer(16, 1000), t.TempDir(), testArea)

	if got, want := g.AllTilesRange(), (TileRange{XMin: 180, XMax: 184, YMin: 147, YMax: 150}); got != want {
		t.Errorf("AllTilesRange() = %v, want %v", got, want)
	}
	if g.Len() != 20 || g.Count(Missing) != 20 {
		t.Errorf("Len() = %d, Count(Missing) = %d, want 20 and 20", g.Len(), g.Count(Missing))
	}
	if got := g.At(179, 147); got != OutOfMap {
		t.Errorf("At() outside = %v, want OutOfMap", got)
	}
	if got := g.AvailableTilesRange(); !got.Empty() {
		t.Errorf("AvailableTilesRange() = %v, want empty", got)
	}
}

func TestStatusGrid_Set(t *testing.T) {
	g := NewStatusGrid(newTestLayer(16, 1000), t.TempDir(), testArea)

	g.Set(180, 147, Available)
	g.Set(184, 150, Error)
	g.Set(184, 150, NotFound)
	checkCounts(t, g)

	if g.Count(Available) != 1 || g.Count(NotFound) != 1 || g.Count(Error) != 0 || g.Count(Missing) != 18 {
		t.Errorf("unexpected counts A:%d N:%d E:%d M:%d", g.Count(Available), g.Count(NotFound), g.Count(Error), g.Count(Missing))
	}
	if got := g.At(184, 150); got != NotFound {
		t.Errorf("At() = %v, want NotFound", got)
	}

	t.Run("outside panics", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Errorf("Set() outside the grid did not panic")
			}
		}()
		g.Set(185, 150, Available)
	})
}

func TestStatusGrid_ImportFiles(t *testing.T) {
	dir := t.TempDir()
	layer := newTestLayer(16, 1000)

	writeTestFile(t, filepath.Join(dir, "16", "148", "181.png"), make([]byte, 10))
	writeTestFile(t, filepath.Join(dir, "16", "148", "182.404"), nil)
	writeTestFile(t, filepath.Join(dir, "16", "149", "183.err"), nil)
	writeTestFile(t, filepath.Join(dir, "16", "149", "183.png"), make([]byte, 32))
	writeTestFile(t, filepath.Join(dir, "16", "147", "184.err"), nil)
	writeTestFile(t, filepath.Join(dir, "16", "147", "184.404"), nil)
	writeTestFile(t, filepath.Join(dir, "16", "150", "180.err"), nil)
	// ignored
	writeTestFile(t, filepath.Join(dir, "16", "150", "181.png.part"), make([]byte, 100))
	writeTestFile(t, filepath.Join(dir, "16", "150", "abc.png"), make([]byte, 100))
	writeTestFile(t, filepath.Join(dir, "16", "150", "182.jpg"), make([]byte, 100))
	writeTestFile(t, filepath.Join(dir, "16", "999", "180.png"), make([]byte, 100))
	writeTestFile(t, filepath.Join(dir, "16", "148", "179.png"), make([]byte, 100))
	writeTestFile(t, filepath.Join(dir, "17", "148", "181.png"), make([]byte, 100))

	g := NewStatusGrid(layer, dir, testArea)
	for i := 0; i < 2; i++ {
		if err := g.ImportFiles(); err != nil {
			t.Fatalf("ImportFiles() error = %v", err)
		}
		checkCounts(t, g)

		want := map[TileStatus]int{Available: 2, NotFound: 2, Error: 1, Missing: 15}
		for s, n := range want {
			if got := g.Count(s); got != n {
				t.Errorf("pass %d: Count(%v) = %d, want %d", i, s, got, n)
			}
		}
		if got := g.TotalFileSize(); got != 42 {
			t.Errorf("pass %d: TotalFileSize() = %d, want 42", i, got)
		}
		if got := g.At(183, 149); got != Available {
			t.Errorf("pass %d: At(183, 149) = %v, want Available", i, got)
		}
		if got := g.At(184, 147); got != NotFound {
			t.Errorf("pass %d: At(184, 147) = %v, want NotFound", i, got)
		}
	}

	if got, want := g.AvailableTilesRange(), (TileRange{XMin: 181, XMax: 183, YMin: 148, YMax: 149}); got != want {
		t.Errorf("AvailableTilesRange() = %v, want %v", got, want)
	}
}

func TestStatusGrid_ImportFilesWithoutDirectory(t *testing.T) {
	g := NewStatusGrid(newTestLayer(16, 1000), filepath.Join(t.TempDir(), "nothing"), testArea)
	g.Set(180, 147, Available)
	if err := g.ImportFiles(); err != nil {
		t.Fatalf("ImportFiles() error = %v", err)
	}
	if g.Count(Missing) != g.Len() {
		t.Errorf("Count(Missing) = %d, want %d", g.Count(Missing), g.Len())
	}
}

func TestStatusGrid_MarkUncoveredInParentAsOutOfMap(t *testing.T) {
	dir := t.TempDir()
	parent := NewStatusGrid(newTestLayer(16, 1000), dir, testArea)
	child := NewStatusGrid(newTestLayer(17, 500), dir, testArea)

	parent.Set(181, 148, Available)
	parent.Set(184, 150, NotFound)
	child.Set(368, 300, Available)

	child.MarkUncoveredInParentAsOutOfMap(parent)
	checkCounts(t, child)

	// children touching parent 181/148 with any corner: x 361..363, y 295..297
	if got := child.Count(Missing); got != 9 {
		t.Errorf("Count(Missing) = %d, want 9", got)
	}
	if got := child.Count(OutOfMap); got != 53 {
		t.Errorf("Count(OutOfMap) = %d, want 53", got)
	}
	for _, tt := range []struct {
		x, y int
		want TileStatus
	}{
		{362, 296, Missing},
		{361, 295, Missing},
		{363, 297, Missing},
		{364, 296, OutOfMap},
		{362, 298, OutOfMap},
		{368, 300, Available},
	} {
		if got := child.At(tt.x, tt.y); got != tt.want {
			t.Errorf("At(%d, %d) = %v, want %v", tt.x, tt.y, got, tt.want)
		}
	}
}

func TestStatusGrid_MarkUncoveredByErrorParent(t *testing.T) {
	dir := t.TempDir()
	parent := NewStatusGrid(newTestLayer(16, 1000), dir, testArea)
	child := NewStatusGrid(newTestLayer(17, 500), dir, testArea)
	for tile := range parent.Tiles(Missing) {
		parent.Set(tile.X, tile.Y, Error)
	}

	child.MarkUncoveredInParentAsOutOfMap(parent)
	if got := child.Count(Missing); got != child.Len() {
		t.Errorf("Count(Missing) = %d, want %d", got, child.Len())
	}
}

func TestStatusGrid_MarkFilteredAsOutOfMap(t *testing.T) {
	dir := t.TempDir()
	g := NewStatusGrid(newTestLayer(16, 1000), dir, testArea)
	filter := NewStatusGrid(newTestLayer(16, 1000), dir, NewArea(600000, 602000, 200000, 203000))

	filter.Set(181, 148, NotFound)
	filter.Set(182, 148, OutOfMap)
	filter.Set(180, 147, NotFound)
	g.Set(180, 147, Available)

	if err := g.MarkFilteredAsOutOfMap(filter); err != nil {
		t.Fatalf("MarkFilteredAsOutOfMap() error = %v", err)
	}
	checkCounts(t, g)

	if got := g.At(181, 148); got != NotFound {
		t.Errorf("At(181, 148) = %v, want NotFound", got)
	}
	if got := g.At(180, 147); got != Available {
		t.Errorf("At(180, 147) = %v, want Available", got)
	}
	// columns 183 and 184 are outside the filter, plus 182/148
	if got := g.Count(OutOfMap); got != 9 {
		t.Errorf("Count(OutOfMap) = %d, want 9", got)
	}
}

func TestStatusGrid_MarkFilteredMismatch(t *testing.T) {
	dir := t.TempDir()
	g := NewStatusGrid(newTestLayer(16, 1000), dir, testArea)
	filter := NewStatusGrid(newTestLayer(16, 500), dir, testArea)

	err := g.MarkFilteredAsOutOfMap(filter)
	var configErr *ConfigurationError
	if !errors.As(err, &configErr) {
		t.Fatalf("MarkFilteredAsOutOfMap() error = %v, want ConfigurationError", err)
	}
	if g.Count(Missing) != g.Len() {
		t.Errorf("grid was modified")
	}
}

func TestStatusGrid_WriteStatus(t *testing.T) {
	g := NewStatusGrid(newTestLayer(16, 1000), t.TempDir(), testArea)
	g.Set(180, 147, Available)
	g.Set(181, 148, Error)
	g.Set(182, 149, NotFound)
	g.Set(184, 150, OutOfMap)
	g.AddFileSize(3 << 20)

	var buf bytes.Buffer
	if err := g.WriteStatus(&buf); err != nil {
		t.Fatal(err)
	}

	want := "All: 147/180 .. 150/184\n" +
		"Available: 147/180 .. 147/180\n" +
		"Statistics: Missing(?):16 Available(#):1 Error(E):1 NotFound(-):1 OutOfMap( ):1\n" +
		"Total file size: 3 MiB (3145728 bytes)\n" +
		"#????\n" +
		"?E???\n" +
		"??-??\n" +
		"???? \n"
	if got := buf.String(); got != want {
		t.Errorf("WriteStatus() =\n%s\nwant\n%s", got, want)
	}

	path := filepath.Join(t.TempDir(), "16.status")
	if err := g.DumpToFile(path); err != nil {
		t.Fatalf("DumpToFile() error = %v", err)
	}
	if data, err := os.ReadFile(path); err != nil || string(data) != want {
		t.Errorf("DumpToFile() wrote %q, %v", data, err)
	}
}
