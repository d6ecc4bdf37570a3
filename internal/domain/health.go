package domain

// ============================================================
// Health & usage API responses
// ============================================================

// HealthStatus is returned by GET /healthz.
type HealthStatus struct {
	Status   string          `json:"status"` // healthy, degraded, unhealthy
	Services []ServiceHealth `json:"services"`
}

// ServiceHealth represents the health of an individual dependency.
type ServiceHealth struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	LatencyMs   int64  `json:"latencyMs"`
	LastChecked string `json:"lastChecked"`
}

// UsageStats is returned by GET /v1/stats/usage.
type UsageStats struct {
	AnalysesByDashboard map[string]float64 `json:"analysesByDashboard"`
	CollectedFiles      float64            `json:"collectedFiles"`
	SkippedDuplicates   float64            `json:"skippedDuplicates"`
	CollectionErrors    float64            `json:"collectionErrors"`
	CacheHitRate        float64            `json:"cacheHitRate"`
	ExternalErrors      float64            `json:"externalErrors"`
	Period              string             `json:"period"`
}

// SuccessResponse wraps a successful single-entity response.
type SuccessResponse struct {
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}
