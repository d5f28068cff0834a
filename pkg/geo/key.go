package geo

import (
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// DefaultPrecision is the number of decimal places node coordinates are
// rounded to when forming keys. Six decimals is sub-micrometer in projected
// meters, far below digitizing noise, while still merging endpoints that
// differ only by floating-point drift.
const DefaultPrecision = 6

// Key identifies a junction by its snapped coordinate. Two segment endpoints
// share a junction iff they produce the same Key.
type Key string

// NodeKey snaps a point to the given decimal precision and formats it as a
// stable map key ("x,y" with fixed decimals).
func NodeKey(pt orb.Point, precision int) Key {
	if precision <= 0 {
		precision = DefaultPrecision
	}
	var sb strings.Builder
	sb.Grow(48)
	sb.WriteString(strconv.FormatFloat(pt[0], 'f', precision, 64))
	sb.WriteByte(',')
	sb.WriteString(strconv.FormatFloat(pt[1], 'f', precision, 64))
	return Key(sb.String())
}
