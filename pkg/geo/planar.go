// Package geo provides planar geometry helpers for networks digitized in a
// projected CRS with map units in meters. Sewer as-builts are captured in
// projected coordinates, so plain Euclidean math applies throughout.
package geo

import (
	"math"

	"github.com/paulmach/orb"
)

// Dist2D returns the Euclidean distance between two points in map units.
func Dist2D(a, b orb.Point) float64 {
	dx := b[0] - a[0]
	dy := b[1] - a[1]
	return math.Sqrt(dx*dx + dy*dy)
}

// PointToSegmentDist computes the perpendicular distance from point P to
// segment AB, and returns the projection ratio along AB (clamped to [0,1]).
func PointToSegmentDist(p, a, b orb.Point) (dist float64, ratio float64) {
	// Degenerate segment: distance to the single endpoint.
	if a == b {
		return Dist2D(p, a), 0
	}

	dx := b[0] - a[0]
	dy := b[1] - a[1]
	lenSq := dx*dx + dy*dy

	var t float64
	if lenSq > 0 {
		// Project P onto line AB, clamp to [0,1].
		t = ((p[0]-a[0])*dx + (p[1]-a[1])*dy) / lenSq
		if t < 0 {
			t = 0
		} else if t > 1 {
			t = 1
		}
	}

	ex := p[0] - (a[0] + t*dx)
	ey := p[1] - (a[1] + t*dy)
	return math.Sqrt(ex*ex + ey*ey), t
}
