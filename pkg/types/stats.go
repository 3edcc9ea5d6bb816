package types

// LatencyPercentiles summarizes a latency distribution in milliseconds.
type LatencyPercentiles struct {
	P50 int64 `json:"p50"`
	P90 int64 `json:"p90"`
	P95 int64 `json:"p95"`
	P99 int64 `json:"p99"`
	Max int64 `json:"max"`
}

// ModelStats is the running aggregate for one backend model.
type ModelStats struct {
	ModelID       string             `json:"model_id"`
	Count         int64              `json:"count"`
	SuccessCount  int64              `json:"success_count"`
	SuccessRate   float64            `json:"success_rate"`
	AvgLatencyMs  float64            `json:"avg_latency_ms"`
	AvgConfidence float64            `json:"avg_confidence"`
	TotalTokens   int64              `json:"total_tokens"`
	TotalCost     string             `json:"total_cost"` // decimal string, cost_per_token summed over all tokens
	Latency       LatencyPercentiles `json:"latency"`
}

// WorkerStats is the running aggregate for one worker.
type WorkerStats struct {
	WorkerID      string  `json:"worker_id"`
	Count         int64   `json:"count"`
	SuccessCount  int64   `json:"success_count"`
	SuccessRate   float64 `json:"success_rate"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	AvgConfidence float64 `json:"avg_confidence"`
}

// StatsSnapshot is a point-in-time view of all performance aggregates.
type StatsSnapshot struct {
	TotalSubmitted int64         `json:"total_submitted"`
	TotalCompleted int64         `json:"total_completed"`
	TotalFailed    int64         `json:"total_failed"`
	TotalCancelled int64         `json:"total_cancelled"`
	TotalCost      string        `json:"total_cost"`
	Models         []ModelStats  `json:"models"`
	Workers        []WorkerStats `json:"workers"`
}
