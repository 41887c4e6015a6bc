package main

import (
	"reflect"
	"testing"

	"github.com/tilezen/go-topotiles/tilepack"
)

func Test_calculateExpectedTiles(t *testing.T) {
	layers := []*tilepack.Layer{
		{Zoom: 16, TileMeters: 1000},
		{Zoom: 17, TileMeters: 500},
	}

	t.Run("small area", func(t *testing.T) {
		area := tilepack.NewArea(600000, 604000, 200000, 203000)
		expected := []int{20, 63}
		actual := calculateExpectedTiles(area, layers)

		if !reflect.DeepEqual(expected, actual) {
			t.Fatalf("Expected %v tiles, got %v", expected, actual)
		}
	})

	t.Run("area inside one tile", func(t *testing.T) {
		area := tilepack.NewArea(600100, 600200, 199100, 199200)
		expected := []int{1, 1}
		actual := calculateExpectedTiles(area, layers)

		if !reflect.DeepEqual(expected, actual) {
			t.Fatalf("Expected %v tiles, got %v", expected, actual)
		}
	})
}
