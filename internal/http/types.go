package http

import (
	"github.com/fyrsmithlabs/almseed/internal/pipeline"
	"github.com/fyrsmithlabs/almseed/internal/purge"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

// ConnectRequest is the request body for the connect endpoints.
type ConnectRequest struct {
	URL      string `json:"url"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// NameRequest carries a single name, e.g. a project or product.
type NameRequest struct {
	Name string `json:"name"`
}

// TrackerRequest targets a tracker, optionally narrowed to some of its items.
type TrackerRequest struct {
	Tracker   string             `json:"tracker"`
	Selection pipeline.Selection `json:"selection"`
}

// BatchRequest is the request body for POST .../generate/batch.
type BatchRequest struct {
	Tracker string `json:"tracker"`
	Count   int    `json:"count"`
}

// PartsRequest is the request body for POST .../plm/parts.
type PartsRequest struct {
	Tracker string `json:"tracker"`
	Product string `json:"product"`
}

// NamesResponse lists projects, trackers, items or products.
type NamesResponse struct {
	Names []string `json:"names"`
}

// RunResponse reports a pipeline run. Error is set when some or all of the
// work failed; Result still shows what was written.
type RunResponse struct {
	Result *pipeline.Result `json:"result"`
	Error  string           `json:"error,omitempty"`
}

// PurgeResponse reports a purge.
type PurgeResponse struct {
	Report purge.Report `json:"report"`
	Error  string       `json:"error,omitempty"`
}
