package tilepack

import (
	"fmt"

	"github.com/paulmach/orb"
)

// DomainError is returned when a coordinate conversion is requested outside
// the area where the approximation formulas hold.
type DomainError struct {
	Op    string
	Point orb.Point
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("%s: point %v is outside the valid domain", e.Op, e.Point)
}

// ConfigurationError reports an unusable map source, map file or tile filter.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string {
	return "configuration: " + e.Msg
}

func configErrorf(format string, args ...interface{}) error {
	return &ConfigurationError{Msg: fmt.Sprintf(format, args...)}
}
