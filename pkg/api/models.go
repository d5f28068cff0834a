package api

// LoadResponse is the JSON response for POST /api/v1/network.
type LoadResponse struct {
	Segments int `json:"segments"`
	Skipped  int `json:"skipped"`
}

// ChangeJSON is one endpoint move in a recalculation request. The old
// coordinate comes from the stored geometry.
type ChangeJSON struct {
	SegmentID int64      `json:"segment_id"`
	Role      string     `json:"role"` // "p1" or "p2"
	New       [2]float64 `json:"new"`
}

// ElevationJSON is one re-sampled ground elevation accompanying an edit.
type ElevationJSON struct {
	SegmentID int64   `json:"segment_id"`
	Role      string  `json:"role"`
	Value     float64 `json:"value"`
}

// RecalculateRequest is the JSON body for POST /api/v1/recalculate.
type RecalculateRequest struct {
	Changes    []ChangeJSON    `json:"changes"`
	Elevations []ElevationJSON `json:"elevations,omitempty"`
}

// ErrorResponse is the JSON response for errors.
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// HealthResponse is the JSON response for GET /api/v1/health.
type HealthResponse struct {
	Status   string `json:"status"`
	Segments int    `json:"segments"`
}
