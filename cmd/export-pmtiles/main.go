package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/tilezen/go-topotiles/tilepack"
)

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

func main() {
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn or error.")
	logDir := flag.String("log-dir", "", "Also write logs to a daily file in this directory.")
	force := flag.Bool("force", false, "Overwrite an existing output file.")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <map file> <out.pmtiles>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 2 {
		flag.Usage()
		os.Exit(2)
	}
	output := flag.Arg(1)

	logger, err := tilepack.NewLogger(*logLevel, *logDir)
	if err != nil {
		log.Fatalf("Couldn't set up logging: %+v", err)
	}

	// If the output file exists already we shouldn't overwrite it
	if pathExists(output) && !*force {
		logger.Fatalf("Output path %s already exists and cannot be overwritten", output)
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
	n, err := tilepack.ExportPmtiles(grids, mapFile.Area, store, output, mapFile.OutputMapName, logger)
	if err != nil {
		logger.Fatalf("Export failed: %+v", err)
	}
	logger.Infof("Wrote %d tiles to %s", n, output)
}
