package tilepack

import (
	"io"
	"os"
	"path/filepath"
	"time"

	nested "github.com/antonfisher/nested-logrus-formatter"
	"github.com/pkg/errors"
	"github.com/shiena/ansicolor"
	"github.com/sirupsen/logrus"
)

// NewLogger returns the logger used by the commands. It writes to stderr and,
// if logDir is set, to a daily log file in logDir. Unknown levels fall back
// to info.
func NewLogger(level string, logDir string) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetFormatter(&nested.Formatter{
		HideKeys:        true,
		ShowFullLevel:   true,
		FieldsOrder:     []string{"run", "zoom", "layer", "round", "tile"},
		TimestampFormat: "2006-01-02 15:04:05.000",
	})

	writers := []io.Writer{os.Stderr}
	if logDir != "" {
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return nil, errors.Wrapf(err, "creating log directory %s", logDir)
		}
		name := filepath.Join(logDir, time.Now().Format("2006-01-02")+".log")
		f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, errors.Wrapf(err, "opening log file %s", name)
		}
		writers = append(writers, f)
	}
	log.SetOutput(ansicolor.NewAnsiColorWriter(io.MultiWriter(writers...)))

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	return log, nil
}
