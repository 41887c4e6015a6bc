package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"
	"github.com/teris-io/shortid"
	"github.com/tilezen/go-topotiles/tilepack"
)

// calculateExpectedTiles returns the number of tiles of each layer touched
// by area.
func calculateExpectedTiles(area orb.Bound, layers []*tilepack.Layer) []int {
	counts := make([]int, len(layers))
	for i, l := range layers {
		counts[i] = l.TileRange(area).Len()
	}
	return counts
}

func main() {
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn or error.")
	logDir := flag.String("log-dir", "", "Also write logs to a daily file in this directory.")
	noProgress := flag.Bool("no-progress", false, "Don't show progress bars.")
	cpuProfile := flag.String("cpuprofile", "", "Enables CPU profiling. Saves the dump to the given path.")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <map file> [<filter map file>]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 || flag.NArg() > 2 {
		flag.Usage()
		os.Exit(2)
	}

	logger, err := tilepack.NewLogger(*logLevel, *logDir)
	if err != nil {
		log.Fatalf("Couldn't set up logging: %+v", err)
	}
	runID, _ := shortid.Generate()
	entry := logger.WithField("run", runID)

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			entry.Fatal("could not create CPU profile: ", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			entry.Fatal("could not start CPU profile: ", err)
		}
		defer pprof.StopCPUProfile()
	}

	mapFile, err := tilepack.LoadMapFile(flag.Arg(0))
	if err != nil {
		entry.Fatalf("Couldn't load map file: %+v", err)
	}

	var filters []*tilepack.StatusGrid
	if flag.NArg() == 2 {
		filterFile, err := tilepack.LoadMapFile(flag.Arg(1))
		if err != nil {
			entry.Fatalf("Couldn't load filter map file: %+v", err)
		}
		filters, err = mapFile.TileFilters(filterFile)
		if err != nil {
			entry.Fatalf("Couldn't build tile filters: %+v", err)
		}
	}

	for i, n := range calculateExpectedTiles(mapFile.Area, mapFile.Layers) {
		l := mapFile.Layers[i]
		entry.WithField("zoom", l.Zoom).Infof("%s (1:%d): up to %d tiles", l.Name, l.Scale(), n)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	job := &tilepack.DownloadJob{
		Layers:              mapFile.Layers,
		Area:                mapFile.Area,
		MaxParallelRequests: mapFile.MaxParallelRequests,
		MaxRequestsPerSec:   mapFile.MaxRequestsPerSec,
		DownloadDirectory:   mapFile.DownloadDir,
		TileFilters:         filters,
		BlankCheck:          tilepack.NewImageCheck(entry),
		NewClient: func() tilepack.Client {
			return tilepack.NewTileClient(tilepack.ClientOptions{Timeout: mapFile.RequestTimeout})
		},
		Logger:       entry,
		ShowProgress: !*noProgress,
	}

	entry.Infof("Downloading %s into %s (%g requests/s, %d parallel)",
		mapFile.Source.Name, mapFile.DownloadDir, mapFile.MaxRequestsPerSec, mapFile.MaxParallelRequests)

	start := time.Now()
	grids, err := job.Download(ctx)
	for _, g := range grids {
		entry.WithFields(logrus.Fields{"zoom": g.Layer().Zoom}).Infof("%d available, %d not found, %d errors, %d MiB",
			g.Count(tilepack.Available), g.Count(tilepack.NotFound), g.Count(tilepack.Error), g.TotalFileSize()>>20)
	}
	if errors.Is(err, context.Canceled) {
		entry.Warn("Download cancelled")
		os.Exit(1)
	}
	if err != nil {
		entry.Fatalf("Download failed: %+v", err)
	}
	entry.Infof("Finished in %s", time.Since(start).Round(time.Millisecond))
}
