package network

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"sewernet/pkg/config"
)

// LoadResult is the outcome of parsing a network FeatureCollection.
type LoadResult struct {
	Segments []Segment
	Skipped  int // features without a usable two-point line geometry
}

// UnmarshalNetwork parses a GeoJSON FeatureCollection of LineString sewer
// features into segments. The first and last coordinates of each line are
// the upstream and downstream endpoints; intermediate bends do not affect
// depth math. Elevation and depth attributes are read via the field map.
// Features with missing or degenerate geometry are counted, not erred.
func UnmarshalNetwork(data []byte, fields config.FieldMap) (*LoadResult, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parse network geojson: %w", err)
	}

	res := &LoadResult{}
	nextID := int64(1)
	for _, f := range fc.Features {
		ls, ok := f.Geometry.(orb.LineString)
		if !ok || len(ls) < 2 {
			res.Skipped++
			continue
		}

		id, ok := featureID(f)
		if !ok {
			id = nextID
		}
		if id >= nextID {
			nextID = id + 1
		}

		seg := Segment{
			ID: id,
			P1: ls[0],
			P2: ls[len(ls)-1],
		}
		seg.P1Elev = floatProp(f.Properties, fields.P1Elev)
		seg.P2Elev = floatProp(f.Properties, fields.P2Elev)
		seg.P1Depth = floatProp(f.Properties, fields.P1Depth)
		seg.P2Depth = floatProp(f.Properties, fields.P2Depth)
		res.Segments = append(res.Segments, seg)
	}
	return res, nil
}

// MarshalNetwork serializes segments back to a GeoJSON FeatureCollection
// with depths written into the mapped attribute fields.
func MarshalNetwork(segs []Segment, fields config.FieldMap) ([]byte, error) {
	fc := geojson.NewFeatureCollection()
	for _, s := range segs {
		f := geojson.NewFeature(orb.LineString{s.P1, s.P2})
		f.ID = s.ID
		f.Properties["id"] = s.ID
		setProp(f.Properties, fields.P1Elev, s.P1Elev)
		setProp(f.Properties, fields.P2Elev, s.P2Elev)
		setProp(f.Properties, fields.P1Depth, s.P1Depth)
		setProp(f.Properties, fields.P2Depth, s.P2Depth)
		fc.Append(f)
	}
	return json.Marshal(fc)
}

// featureID extracts a numeric id from the feature id member or an "id"
// property. JSON numbers arrive as float64.
func featureID(f *geojson.Feature) (int64, bool) {
	candidates := []interface{}{f.ID}
	if v, ok := f.Properties["id"]; ok {
		candidates = append(candidates, v)
	}
	for _, c := range candidates {
		switch v := c.(type) {
		case float64:
			return int64(v), true
		case int:
			return int64(v), true
		case int64:
			return v, true
		case string:
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

func floatProp(props geojson.Properties, key string) *float64 {
	if key == "" {
		return nil
	}
	switch v := props[key].(type) {
	case float64:
		return &v
	case int:
		f := float64(v)
		return &f
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return &f
		}
	}
	return nil
}

func setProp(props geojson.Properties, key string, v *float64) {
	if key == "" || v == nil {
		return
	}
	props[key] = *v
}
