// Package hydraulics evaluates invert depth rules for gravity sewer
// segments: minimum cover, pipe diameter, and design slope.
//
// Depths are positive meters below ground. All rule arithmetic that combines
// configured parameters runs in integer millimeters so that repeated
// evaluation over long cascades stays bit-for-bit repeatable.
package hydraulics

import "math"

// Params are the hydraulic design parameters for a calculation pass.
type Params struct {
	MinCoverM  float64 // soil cover above pipe crown
	DiameterM  float64 // pipe outer diameter
	SlopeMPerM float64 // design slope, fall per unit length
}

// MinimumDepth returns the shallowest permissible invert depth:
// cover plus diameter, combined in whole millimeters.
func (p Params) MinimumDepth() float64 {
	coverMM := int64(math.Round(p.MinCoverM * 1000))
	diamMM := int64(math.Round(p.DiameterM * 1000))
	return float64(coverMM+diamMM) / 1000.0
}

// SegmentDepths evaluates the depth rule along one segment. Given the depth
// at the upstream endpoint and ground elevations at both ends, it returns
// the upstream depth unchanged and the downstream depth implied by carrying
// the invert down the design slope, floored at MinimumDepth.
//
// A non-positive length is degenerate: the upstream depth is carried through
// unchanged to both ends.
func (p Params) SegmentDepths(upstreamDepth, p1Elev, p2Elev, length float64) (float64, float64) {
	if length <= 0 {
		return upstreamDepth, upstreamDepth
	}

	upstreamInvert := p1Elev - upstreamDepth
	fall := length * math.Max(0, p.SlopeMPerM)
	candidateInvert := upstreamInvert - fall

	p2Depth := p2Elev - candidateInvert
	if min := p.MinimumDepth(); p2Depth < min {
		p2Depth = min
	}
	return upstreamDepth, p2Depth
}

// InitialDepth resolves the starting depth for a segment with no computed
// upstream: a stored depth wins if positive, then an explicit override,
// then the rule minimum.
func (p Params) InitialDepth(override, existing float64) float64 {
	if existing > 0 {
		return existing
	}
	if override > 0 {
		return override
	}
	return p.MinimumDepth()
}
