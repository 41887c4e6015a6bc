package tilepack

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// DiskStore keeps downloaded tiles and their marker files below a root
// directory, one directory per layer and tile row. It is not safe for
// concurrent use.
type DiskStore struct {
	root     string
	dirs     map[string]struct{}
	hasTiles bool
}

func NewDiskStore(root string) *DiskStore {
	return &DiskStore{
		root: root,
		dirs: make(map[string]struct{}),
	}
}

func (s *DiskStore) Root() string {
	return s.root
}

// CreateTiles creates the root directory.
func (s *DiskStore) CreateTiles() error {
	if s.hasTiles {
		return nil
	}

	info, err := os.Stat(s.root)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(s.root, 0755); err != nil {
			return errors.Wrapf(err, "creating %s", s.root)
		}
	} else if err != nil {
		return err
	} else if !info.IsDir() {
		return errors.Errorf("%s is not a directory", s.root)
	}

	s.hasTiles = true
	return nil
}

func (s *DiskStore) Close() error {
	return nil
}

// TilePath is the absolute location of the stored tile.
func (s *DiskStore) TilePath(t Tile) string {
	return filepath.Join(s.root, t.FilePath())
}

// MarkerPath is the location of the marker file with extension ext for t.
func (s *DiskStore) MarkerPath(t Tile, ext string) string {
	path := s.TilePath(t)
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}

// StatusPath is the location of the status dump of a layer.
func (s *DiskStore) StatusPath(zoom int) string {
	return filepath.Join(s.root, strconv.Itoa(zoom)+".status")
}

func (s *DiskStore) ensureDir(path string) error {
	dir := filepath.Dir(path)
	if _, ok := s.dirs[dir]; ok {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "creating %s", dir)
	}
	s.dirs[dir] = struct{}{}
	return nil
}

// Save stores the tile image, replacing any previous version atomically.
func (s *DiskStore) Save(t Tile, data []byte) error {
	return s.write(s.TilePath(t), data)
}

// SaveNotFound stores the not-found marker of t. data is the blank image
// returned by the server, or nil when the server answered 404.
func (s *DiskStore) SaveNotFound(t Tile, data []byte) error {
	return s.write(s.MarkerPath(t, NotFoundExt), data)
}

// SaveError stores an empty error marker for t.
func (s *DiskStore) SaveError(t Tile) error {
	return s.write(s.MarkerPath(t, ErrorExt), nil)
}

// RemoveMarkers deletes the marker files of t with the given extensions.
// Markers that do not exist are ignored.
func (s *DiskStore) RemoveMarkers(t Tile, exts ...string) error {
	for _, ext := range exts {
		path := s.MarkerPath(t, ext)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "removing %s", path)
		}
	}
	return nil
}

// ReadTile returns the stored image of t.
func (s *DiskStore) ReadTile(t Tile) ([]byte, error) {
	return os.ReadFile(s.TilePath(t))
}

// ReadNotFound returns the placeholder stored with the not-found marker of t.
// It is empty when the server answered 404.
func (s *DiskStore) ReadNotFound(t Tile) ([]byte, error) {
	return os.ReadFile(s.MarkerPath(t, NotFoundExt))
}

func (s *DiskStore) write(path string, data []byte) error {
	if err := s.ensureDir(path); err != nil {
		return err
	}
	return writeAtomic(path, func(w io.Writer) error {
		_, err := io.Copy(w, bytes.NewReader(data))
		return err
	})
}

// writeAtomic writes to a temporary sibling of path and renames it into
// place, so readers never observe a partial file.
func writeAtomic(path string, write func(io.Writer) error) error {
	temp := path + partExt
	f, err := os.Create(temp)
	if err != nil {
		return errors.Wrapf(err, "creating %s", temp)
	}

	if err := write(f); err != nil {
		f.Close()
		os.Remove(temp)
		return errors.Wrapf(err, "writing %s", temp)
	}
	if err := f.Close(); err != nil {
		os.Remove(temp)
		return errors.Wrapf(err, "closing %s", temp)
	}
	if err := os.Rename(temp, path); err != nil {
		os.Remove(temp)
		return errors.Wrapf(err, "renaming %s", temp)
	}
	return nil
}
