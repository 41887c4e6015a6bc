package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/tilezen/go-topotiles/tilepack"
)

func main() {
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn or error.")
	logDir := flag.String("log-dir", "", "Also write logs to a daily file in this directory.")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <map file>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	logger, err := tilepack.NewLogger(*logLevel, *logDir)
	if err != nil {
		log.Fatalf("Couldn't set up logging: %+v", err)
	}

	mapFile, err := tilepack.LoadMapFile(flag.Arg(0))
	if err != nil {
		logger.Fatalf("Couldn't load map file: %+v", err)
	}

	grids, err := mapFile.StatusGrids()
	if err != nil {
		logger.Fatalf("Couldn't read %s: %+v", mapFile.DownloadDir, err)
	}

	store := tilepack.NewDiskStore(mapFile.DownloadDir)
	err = tilepack.ExportOrux(grids, mapFile.Area, store, mapFile.OutputDir, mapFile.OutputMapName, logger)
	if err != nil {
		logger.Fatalf("Export failed: %+v", err)
	}
	logger.Infof("Exported %s", filepath.Join(mapFile.OutputDir, mapFile.OutputMapName))
}
