package tilepack

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"sync"

	"github.com/sirupsen/logrus"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// Servers answer tiles outside their coverage with small uniform images;
// anything larger is assumed to carry map content.
const maxBlankImageSize = 1500

// BlankImageChecker decides whether a successfully fetched tile is a
// placeholder without map content.
type BlankImageChecker interface {
	IsBlank(data []byte, fileExt string) bool
}

// ImageCheck detects fully transparent or fully white tiles. Byte strings
// already found blank are remembered. It is safe for concurrent use.
type ImageCheck struct {
	mu     sync.Mutex
	blank  [][]byte
	logger logrus.FieldLogger
}

func NewImageCheck(logger logrus.FieldLogger) *ImageCheck {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ImageCheck{logger: logger}
}

func (c *ImageCheck) IsBlank(data []byte, fileExt string) bool {
	if len(data) > maxBlankImageSize {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, b := range c.blank {
		if bytes.Equal(b, data) {
			return true
		}
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		c.logger.WithError(err).Debugf("cannot decode %d byte %s tile", len(data), fileExt)
		return false
	}
	if !isBlankImage(img) {
		return false
	}

	c.logger.Debugf("new blank %s tile of %d bytes", format, len(data))
	c.blank = append(c.blank, bytes.Clone(data))
	return true
}

// isBlankImage reports whether every pixel is transparent or, for opaque
// images, whether every pixel is white.
func isBlankImage(img image.Image) bool {
	opaque := false
	if o, ok := img.(interface{ Opaque() bool }); ok {
		opaque = o.Opaque()
	}

	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, a := img.At(x, y).RGBA()
			if opaque {
				if r != 0xffff || g != 0xffff || bl != 0xffff {
					return false
				}
			} else if a != 0 {
				return false
			}
		}
	}
	return true
}
