package http

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// SaveResponse is the response body for successful POSTs.
type SaveResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
}
