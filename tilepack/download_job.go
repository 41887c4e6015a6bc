package tilepack

import (
	"context"
	"io"
	"net/http"
	"os"
	"slices"

	"github.com/paulmach/orb"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
)

// Failed tiles are retried in up to this many rounds per layer.
const maxDownloadRounds = 11

// DownloadJob fetches the tiles of all layers of a map source inside an area
// into a download directory, resuming from whatever is already stored there.
type DownloadJob struct {
	Layers              []*Layer // coarsest first
	Area                orb.Bound
	MaxParallelRequests int
	MaxRequestsPerSec   float64
	DownloadDirectory   string

	// TileFilters, when set, holds one grid per layer. Tiles that are
	// OutOfMap or NotFound in the filter are not fetched.
	TileFilters []*StatusGrid

	BlankCheck   BlankImageChecker
	NewClient    func() Client
	Logger       logrus.FieldLogger
	ShowProgress bool

	DownloaderOptions []DownloaderOption

	store          *DiskStore
	downloadErrors int
}

func (j *DownloadJob) validate() error {
	if len(j.Layers) == 0 {
		return configErrorf("no layers to download")
	}
	if j.DownloadDirectory == "" {
		return configErrorf("no download directory")
	}
	for _, l := range j.Layers {
		if len(l.Servers) == 0 {
			return configErrorf("layer %d (%s) has no servers", l.Zoom, l.Name)
		}
		if !(l.TileMeters > 0) {
			return configErrorf("layer %d (%s) has invalid tile size %g", l.Zoom, l.Name, l.TileMeters)
		}
	}
	if len(j.TileFilters) == 0 {
		return nil
	}
	if len(j.TileFilters) != len(j.Layers) {
		return configErrorf("%d tile filters for %d layers", len(j.TileFilters), len(j.Layers))
	}
	for i, f := range j.TileFilters {
		if f != nil && f.Layer().TileMeters != j.Layers[i].TileMeters {
			return configErrorf("filter layer %d has %gm tiles, layer %d has %gm tiles",
				f.Layer().Zoom, f.Layer().TileMeters, j.Layers[i].Zoom, j.Layers[i].TileMeters)
		}
	}
	return nil
}

// Download runs the job layer by layer and returns the final grid of each
// layer. A cancelled ctx stops the current round; the grids of the layers
// processed so far are returned together with the context error.
func (j *DownloadJob) Download(ctx context.Context) ([]*StatusGrid, error) {
	if err := j.validate(); err != nil {
		return nil, err
	}
	if j.Logger == nil {
		j.Logger = logrus.StandardLogger()
	}
	if j.BlankCheck == nil {
		j.BlankCheck = NewImageCheck(j.Logger)
	}
	if j.NewClient == nil {
		j.NewClient = func() Client { return NewTileClient(ClientOptions{}) }
	}

	j.store = NewDiskStore(j.DownloadDirectory)
	if err := j.store.CreateTiles(); err != nil {
		return nil, err
	}

	grids := make([]*StatusGrid, 0, len(j.Layers))
	for i, layer := range j.Layers {
		status := NewStatusGrid(layer, j.DownloadDirectory, j.Area)
		if err := status.ImportFiles(); err != nil {
			return grids, err
		}
		grids = append(grids, status)

		var parent, filter *StatusGrid
		if i > 0 {
			parent = grids[i-1]
		}
		if len(j.TileFilters) > 0 {
			filter = j.TileFilters[i]
		}
		if err := j.downloadLayer(ctx, status, parent, filter); err != nil {
			return grids, err
		}
	}
	return grids, nil
}

func (j *DownloadJob) downloadLayer(ctx context.Context, status, parent, filter *StatusGrid) error {
	layer := status.Layer()
	log := j.Logger.WithFields(logrus.Fields{"zoom": layer.Zoom, "layer": layer.Name})

	tiles := status.AllTilesRange().Intersect(layer.TileRange(j.Area))

	if parent != nil {
		status.MarkUncoveredInParentAsOutOfMap(parent)
	}
	if filter != nil {
		if err := status.MarkFilteredAsOutOfMap(filter); err != nil {
			return err
		}
	}

	log.Infof("Downloading tiles %s (1:%d), %d available, %d missing, %d errors",
		tiles, layer.Scale(), status.Count(Available), status.Count(Missing), status.Count(Error))

	var err error
	for round := 0; round < maxDownloadRounds; round++ {
		requests := collectRequests(status, tiles)
		if len(requests) == 0 {
			break
		}

		err = j.runRound(ctx, log.WithField("round", round), status, requests)
		if err != nil || j.downloadErrors == 0 {
			break
		}
	}

	log.Infof("Finished with %d available, %d missing, %d errors, %d not found",
		status.Count(Available), status.Count(Missing), status.Count(Error), status.Count(NotFound))

	if dumpErr := status.DumpToFile(j.store.StatusPath(layer.Zoom)); dumpErr != nil {
		log.WithError(dumpErr).Error("Couldn't write status file")
		if err == nil {
			err = dumpErr
		}
	}
	return err
}

// collectRequests lists the Missing and Error tiles of tiles row by row,
// spreading them over the layer's servers round-robin.
func collectRequests(status *StatusGrid, tiles TileRange) []*TileRequest {
	layer := status.Layer()
	var requests []*TileRequest
	server := 0
	for y := tiles.YMin; y <= tiles.YMax; y++ {
		for x := tiles.XMin; x <= tiles.XMax; x++ {
			switch status.At(x, y) {
			case Missing, Error:
				requests = append(requests, &TileRequest{
					Tile: Tile{X: x, Y: y, Layer: layer},
					Host: layer.Servers[server],
				})
				server = (server + 1) % len(layer.Servers)
			}
		}
	}
	return requests
}

func (j *DownloadJob) runRound(ctx context.Context, log logrus.FieldLogger, status *StatusGrid, requests []*TileRequest) error {
	j.downloadErrors = 0

	var progress io.Writer = io.Discard
	if j.ShowProgress {
		progress = os.Stderr
	}
	bar := progressbar.NewOptions(len(requests),
		progressbar.OptionSetWriter(progress),
		progressbar.OptionSetDescription("zoom "+status.Layer().Name),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish())

	downloader := NewBatchDownloader[*TileRequest](j.MaxRequestsPerSec, j.MaxParallelRequests, j.NewClient, j.DownloaderOptions...)
	defer downloader.Close()

	completed := 0
	err := downloader.Download(ctx, slices.Values(requests), func(r *TileRequest, body []byte, statusCode int, err error) {
		completed++
		j.storeContent(log, status, r.Tile, body, statusCode, err)
		bar.Add(1)
	})
	bar.Finish()
	if err == nil {
		err = ctx.Err()
	}

	log.Infof("%d of %d requests completed, %d errors (A:%d, M:%d, E:%d)",
		completed, len(requests), j.downloadErrors,
		status.Count(Available), status.Count(Missing), status.Count(Error))
	return err
}

// storeContent persists the outcome of one request and updates the grid.
func (j *DownloadJob) storeContent(log logrus.FieldLogger, status *StatusGrid, tile Tile, body []byte, statusCode int, fetchErr error) {
	switch {
	case fetchErr == nil && statusCode == http.StatusOK && len(body) > 0:
		if j.BlankCheck.IsBlank(body, tile.Layer.FileExt) {
			if err := j.store.SaveNotFound(tile, body); err != nil {
				j.markError(log, status, tile, err)
				return
			}
			if err := j.store.RemoveMarkers(tile, ErrorExt); err != nil {
				log.WithError(err).Warn("Couldn't remove stale markers")
			}
			status.Set(tile.X, tile.Y, NotFound)
			return
		}

		if err := j.store.Save(tile, body); err != nil {
			j.markError(log, status, tile, err)
			return
		}
		if err := j.store.RemoveMarkers(tile, ErrorExt, NotFoundExt); err != nil {
			log.WithError(err).Warn("Couldn't remove stale markers")
		}
		status.AddFileSize(int64(len(body)))
		status.Set(tile.X, tile.Y, Available)

	case fetchErr == nil && statusCode == http.StatusNotFound:
		if err := j.store.SaveNotFound(tile, nil); err != nil {
			j.markError(log, status, tile, err)
			return
		}
		if err := j.store.RemoveMarkers(tile, ErrorExt); err != nil {
			log.WithError(err).Warn("Couldn't remove stale markers")
		}
		status.Set(tile.X, tile.Y, NotFound)

	default:
		log.WithFields(logrus.Fields{"tile": tile.String(), "status": statusCode}).
			WithError(fetchErr).Debug("Fetch failed")
		j.markError(log, status, tile, nil)
	}
}

func (j *DownloadJob) markError(log logrus.FieldLogger, status *StatusGrid, tile Tile, err error) {
	if err != nil {
		log.WithField("tile", tile.String()).WithError(err).Warn("Couldn't store tile")
	}
	j.downloadErrors++
	if err := j.store.SaveError(tile); err != nil {
		log.WithField("tile", tile.String()).WithError(err).Warn("Couldn't store error marker")
	}
	status.Set(tile.X, tile.Y, Error)
}
