package tilepack

import (
	"math"

	"github.com/paulmach/orb"
)

// Extent of the CH1903 (LV03) grid covered by the Swiss map products. In Swiss
// notation the easting is "y" and the northing "x"; orb points in this package
// always carry the easting in X() and the northing in Y().
const (
	SwissEastMin  = 420000.0
	SwissEastMax  = 900000.0
	SwissNorthMin = 30000.0
	SwissNorthMax = 350000.0

	DefaultEastMin  = 485000.0
	DefaultEastMax  = 834000.0
	DefaultNorthMin = 75000.0
	DefaultNorthMax = 296000.0
)

var (
	// FullArea is the whole tiled Swiss domain.
	FullArea = NewArea(SwissEastMin, SwissEastMax, SwissNorthMin, SwissNorthMax)
	// DefaultArea covers Switzerland with a small margin.
	DefaultArea = NewArea(DefaultEastMin, DefaultEastMax, DefaultNorthMin, DefaultNorthMax)
)

// NewArea returns the projected rectangle spanned by two eastings and two
// northings given in any order. The values are not validated.
func NewArea(east1, east2, north1, north2 float64) orb.Bound {
	return orb.Bound{
		Min: orb.Point{math.Min(east1, east2), math.Min(north1, north2)},
		Max: orb.Point{math.Max(east1, east2), math.Max(north1, north2)},
	}
}

// WGS84ToSwiss converts a {lon, lat} point to CH1903 {east, north} with
// swisstopo's approximate formulas (accuracy about one meter).
func WGS84ToSwiss(p orb.Point) (orb.Point, error) {
	lon, lat := p.Lon(), p.Lat()
	if lat < 45.6 || lat > 48.6 || lon < 4.9 || lon > 12.8 {
		return orb.Point{}, &DomainError{Op: "wgs84 to swiss", Point: p}
	}

	// auxiliary values, differences to Bern in 10000"
	phi := (3600*lat - 169028.66) / 10000
	phi2 := phi * phi
	phi3 := phi2 * phi
	lambda := (3600*lon - 26782.5) / 10000
	lambda2 := lambda * lambda
	lambda3 := lambda2 * lambda

	east := 600072.37 +
		211455.93*lambda -
		10938.51*lambda*phi -
		0.36*lambda*phi2 -
		44.54*lambda3
	north := 200147.07 +
		308807.95*phi +
		3745.25*lambda2 +
		76.63*phi2 -
		194.56*lambda2*phi +
		119.79*phi3

	return orb.Point{east, north}, nil
}

// SwissToWGS84 converts a CH1903 {east, north} point to WGS84 {lon, lat}.
func SwissToWGS84(p orb.Point) (orb.Point, error) {
	east, north := p.X(), p.Y()
	if north < 10000 || north >= 430000 || east < 400000 || east >= 1000000 {
		return orb.Point{}, &DomainError{Op: "swiss to wgs84", Point: p}
	}

	// auxiliary values, differences to Bern in 1000 km
	y := (east - 600000) / 1000000
	y2 := y * y
	y3 := y2 * y
	x := (north - 200000) / 1000000
	x2 := x * x
	x3 := x2 * x

	// results in 10000"
	lambda := 2.6779094 +
		4.728982*y +
		0.791484*y*x +
		0.1306*y*x2 -
		0.0436*y3
	phi := 16.9023892 +
		3.238272*x -
		0.270978*y2 -
		0.002528*x2 -
		0.0447*y2*x -
		0.0140*x3

	return orb.Point{lambda * 100 / 36, phi * 100 / 36}, nil
}
