package network

import "github.com/paulmach/orb"

// PlaneElevation is an ElevationSource modeling ground as a tilted plane.
// It stands in where no surface raster is attached: synthetic networks,
// tests, and the demo CLI.
type PlaneElevation struct {
	Base  float64 // elevation at the origin
	GradX float64 // elevation change per map unit east
	GradY float64 // elevation change per map unit north
}

// ElevationAt samples the plane. Always in coverage.
func (p PlaneElevation) ElevationAt(pt orb.Point) (float64, bool) {
	return p.Base + p.GradX*pt[0] + p.GradY*pt[1], true
}

// NullElevation is an ElevationSource with no coverage anywhere.
type NullElevation struct{}

func (NullElevation) ElevationAt(orb.Point) (float64, bool) { return 0, false }
