// Package models defines the JSON contract of the routing API.
package models

// LatLng is one waypoint coordinate as sent by clients.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// RouteRequest asks for a driving route through an ordered list of at least
// two waypoints.
type RouteRequest struct {
	Points []LatLng `json:"points" binding:"required"`
}

// RouteResponse carries the computed path. Status distinguishes a clean
// route from a degraded or empty one; unroutable requests are not server
// errors.
type RouteResponse struct {
	Path          []LatLng `json:"path"`
	Status        string   `json:"status"`
	CostMeters    float64  `json:"cost_meters"`
	RequestID     string   `json:"request_id"`
	ProcessTimeMs int64    `json:"process_time_ms"`
}

// ApiError is the error body for client-fault responses.
type ApiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HealthResponse reports liveness plus tile store occupancy.
type HealthResponse struct {
	Status string `json:"status"`
	Tiles  int    `json:"tiles"`
	Nodes  int    `json:"nodes"`
	Pinned int    `json:"pinned"`
}
