package main

import (
	"flag"
	"fmt"
	"log"
	gohttp "net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tilezen/go-topotiles/http"
	"github.com/tilezen/go-topotiles/tilepack"
)

func loggingMiddleware(logger logrus.FieldLogger) func(gohttp.Handler) gohttp.Handler {
	return func(next gohttp.Handler) gohttp.Handler {
		return gohttp.HandlerFunc(func(w gohttp.ResponseWriter, r *gohttp.Request) {
			defer func() {
				logger.WithFields(logrus.Fields{
					"method": r.Method,
					"remote": r.RemoteAddr,
					"agent":  r.UserAgent(),
				}).Info(r.URL.Path)
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func main() {
	addr := flag.String("listen", ":8080", "The address and port to listen on")
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
		fmt.Fprintf(os.Stderr, "Couldn't set up logging: %+v\n", err)
		os.Exit(1)
	}

	mapFile, err := tilepack.LoadMapFile(flag.Arg(0))
	if err != nil {
		logger.Fatalf("Couldn't load map file: %+v", err)
	}

	store := tilepack.NewDiskStore(mapFile.DownloadDir)
	handler := http.TileHandler(store, mapFile.Source, logger)

	errorLog := logger.WriterLevel(logrus.ErrorLevel)
	defer errorLog.Close()

	server := &gohttp.Server{
		Addr:         *addr,
		Handler:      loggingMiddleware(logger)(handler),
		ErrorLog:     log.New(errorLog, "", 0),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	logger.Infof("Serving %s from %s on %s", mapFile.Source.Name, mapFile.DownloadDir, *addr)
	if err := server.ListenAndServe(); err != nil && err != gohttp.ErrServerClosed {
		logger.Fatalf("Could not listen on %s: %v", *addr, err)
	}
}
