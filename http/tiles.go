package http

import (
	"mime"
	gohttp "net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"
	"github.com/tilezen/go-topotiles/tilepack"
)

type tileHandler struct {
	store  *tilepack.DiskStore
	source *tilepack.MapSource
	logger logrus.FieldLogger
}

// TileHandler serves the tiles and status dumps of a download directory:
//
//	GET /tiles/:zoom/:y/:x      stored tile, e.g. /tiles/17/120/345.png
//	GET /status/:zoom           status dump of a layer
func TileHandler(store *tilepack.DiskStore, source *tilepack.MapSource, logger logrus.FieldLogger) gohttp.Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	h := &tileHandler{store: store, source: source, logger: logger}

	router := httprouter.New()
	router.GET("/tiles/:zoom/:y/:x", h.serveTile)
	router.GET("/status/:zoom", h.serveStatus)
	return router
}

func (h *tileHandler) layer(ps httprouter.Params) *tilepack.Layer {
	zoom, err := strconv.Atoi(ps.ByName("zoom"))
	if err != nil {
		return nil
	}
	return h.source.Layer(zoom)
}

func (h *tileHandler) serveTile(w gohttp.ResponseWriter, r *gohttp.Request, ps httprouter.Params) {
	layer := h.layer(ps)
	if layer == nil {
		gohttp.NotFound(w, r)
		return
	}

	name := ps.ByName("x")
	ext := filepath.Ext(name)
	if ext != "" && ext != layer.FileExt && ext != layer.StorageExt() {
		gohttp.NotFound(w, r)
		return
	}
	x, errX := strconv.Atoi(strings.TrimSuffix(name, ext))
	y, errY := strconv.Atoi(ps.ByName("y"))
	if errX != nil || errY != nil {
		gohttp.NotFound(w, r)
		return
	}

	data, err := h.store.ReadTile(tilepack.Tile{X: x, Y: y, Layer: layer})
	if os.IsNotExist(err) {
		gohttp.NotFound(w, r)
		return
	}
	if err != nil {
		h.logger.WithError(err).Errorf("Error reading tile %d/%d/%d", layer.Zoom, y, x)
		gohttp.Error(w, "error reading tile", gohttp.StatusInternalServerError)
		return
	}

	if contentType := mime.TypeByExtension(layer.StorageExt()); contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.Write(data)
}

func (h *tileHandler) serveStatus(w gohttp.ResponseWriter, r *gohttp.Request, ps httprouter.Params) {
	layer := h.layer(ps)
	if layer == nil {
		gohttp.NotFound(w, r)
		return
	}

	data, err := os.ReadFile(h.store.StatusPath(layer.Zoom))
	if os.IsNotExist(err) {
		gohttp.NotFound(w, r)
		return
	}
	if err != nil {
		h.logger.WithError(err).Errorf("Error reading status of layer %d", layer.Zoom)
		gohttp.Error(w, "error reading status", gohttp.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(data)
}
