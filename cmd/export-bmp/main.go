package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/tilezen/go-topotiles/tilepack"
)

func main() {
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn or error.")
	logDir := flag.String("log-dir", "", "Also write logs to a daily file in this directory.")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <map file> <image.bmp>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 2 {
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
	finest := grids[len(grids)-1]

	out, err := os.Create(flag.Arg(1))
	if err != nil {
		logger.Fatalf("Couldn't create %s: %+v", flag.Arg(1), err)
	}
	w := bufio.NewWriter(out)

	store := tilepack.NewDiskStore(mapFile.DownloadDir)
	tiles, err := tilepack.ExportBitmap(finest, mapFile.Area, store, w)
	if err == nil {
		err = w.Flush()
	}
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(flag.Arg(1))
		logger.Fatalf("Export failed: %+v", err)
	}
	logger.Infof("Exported tiles %s of layer %d to %s", tiles, finest.Layer().Zoom, flag.Arg(1))
}
