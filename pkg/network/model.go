// Package network holds the sewer feature model: segments with two-point
// geometry, endpoint elevations and invert depths, plus the storage and
// elevation-sampling boundaries the calculation engines depend on.
package network

import (
	"github.com/paulmach/orb"

	"sewernet/pkg/geo"
)

// Role identifies which end of a segment a value refers to. Flow runs from
// the upstream endpoint (P1) to the downstream endpoint (P2).
type Role string

const (
	RoleUpstream   Role = "p1"
	RoleDownstream Role = "p2"
)

// Segment is one gravity sewer pipe between two junctions. Elevations and
// depths are pointers; nil means the value is not known yet.
type Segment struct {
	ID int64
	P1 orb.Point
	P2 orb.Point

	P1Elev  *float64 // ground elevation at P1, meters
	P2Elev  *float64
	P1Depth *float64 // invert depth below ground at P1, meters
	P2Depth *float64
}

// Length returns the planar segment length in map units.
func (s Segment) Length() float64 {
	return geo.Dist2D(s.P1, s.P2)
}

// Endpoint returns the geometry of the given end.
func (s Segment) Endpoint(role Role) orb.Point {
	if role == RoleUpstream {
		return s.P1
	}
	return s.P2
}

// VertexChange records one endpoint move between two geometry snapshots.
type VertexChange struct {
	SegmentID int64
	Role      Role
	Old       orb.Point
	New       orb.Point
	Distance  float64
}

// ElevationSource samples ground elevation at a coordinate. The second
// return is false where no elevation is available (outside coverage).
type ElevationSource interface {
	ElevationAt(pt orb.Point) (float64, bool)
}

// DepthStore receives computed invert depths. Implementations decide
// persistence; values arrive already rounded to centimeters.
type DepthStore interface {
	SetDepth(id int64, role Role, depth float64) error
}
