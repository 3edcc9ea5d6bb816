// Package stats keeps the engine's running performance aggregates.
package stats

import (
	"sort"
	"sync"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/shopspring/decimal"

	"yqhp/conductor/internal/catalog"
	"yqhp/conductor/pkg/types"
)

// Histogram bounds in milliseconds. Values outside are clamped on record.
const (
	minTrackableLatencyMs = 1
	maxTrackableLatencyMs = 600_000
)

// Collector 收集和聚合执行指标。
// The scheduler loop is the only writer; everyone else reads snapshots.
type Collector struct {
	registry catalog.Registry

	mu             sync.RWMutex
	models         map[string]*modelData
	workers        map[string]*workerData
	totalSubmitted int64
	totalCompleted int64
	totalFailed    int64
	totalCancelled int64
	totalCost      decimal.Decimal
}

// modelData 保存单个模型的原始指标数据。
type modelData struct {
	count         int64
	successCount  int64
	confidenceSum float64
	totalTokens   int64
	totalCost     decimal.Decimal
	latency       *hdrhistogram.Histogram
}

// workerData 保存单个工作协程的原始指标数据。
type workerData struct {
	count         int64
	successCount  int64
	latencySumMs  int64
	confidenceSum float64
}

// NewCollector 创建一个新的指标收集器。
func NewCollector(registry catalog.Registry) *Collector {
	return &Collector{
		registry:  registry,
		models:    make(map[string]*modelData),
		workers:   make(map[string]*workerData),
		totalCost: decimal.Zero,
	}
}

// RecordSubmitted counts newly accepted tasks.
func (c *Collector) RecordSubmitted(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalSubmitted += int64(n)
}

// RecordOutcome folds one execution unit's outcome into its model's
// aggregates, including token cost priced from the catalog.
func (c *Collector) RecordOutcome(outcome *types.ExecutionOutcome) {
	if outcome == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	data, exists := c.models[outcome.ModelID]
	if !exists {
		data = &modelData{
			totalCost: decimal.Zero,
			latency:   hdrhistogram.New(minTrackableLatencyMs, maxTrackableLatencyMs, 3),
		}
		c.models[outcome.ModelID] = data
	}

	data.count++
	if outcome.IsOK() {
		data.successCount++
		data.confidenceSum += outcome.Confidence
	}
	data.totalTokens += int64(outcome.TokensUsed)
	_ = data.latency.RecordValue(clampLatency(outcome.LatencyMs))

	if outcome.TokensUsed > 0 {
		if desc, err := c.registry.Get(outcome.ModelID); err == nil && desc.CostPerToken > 0 {
			cost := decimal.NewFromFloat(desc.CostPerToken).Mul(decimal.NewFromInt(int64(outcome.TokensUsed)))
			data.totalCost = data.totalCost.Add(cost)
			c.totalCost = c.totalCost.Add(cost)
		}
	}
}

// RecordTaskCompleted folds one finished task into its worker's aggregates.
func (c *Collector) RecordTaskCompleted(workerID string, latencyMs int64, confidence float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data := c.workerData(workerID)
	data.count++
	data.successCount++
	data.latencySumMs += latencyMs
	data.confidenceSum += confidence
	c.totalCompleted++
}

// RecordTaskFailed counts a terminally failed task against its worker.
// Tasks that fail before assignment carry an empty worker id.
func (c *Collector) RecordTaskFailed(workerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if workerID != "" {
		c.workerData(workerID).count++
	}
	c.totalFailed++
}

// RecordAttemptFailure counts a failed attempt against its worker without
// touching the terminal counters. Used when the task will be retried.
func (c *Collector) RecordAttemptFailure(workerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if workerID != "" {
		c.workerData(workerID).count++
	}
}

// RecordTaskCancelled counts a cancelled task.
func (c *Collector) RecordTaskCancelled() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalCancelled++
}

// Snapshot 返回聚合后的指标。
func (c *Collector) Snapshot() *types.StatsSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snapshot := &types.StatsSnapshot{
		TotalSubmitted: c.totalSubmitted,
		TotalCompleted: c.totalCompleted,
		TotalFailed:    c.totalFailed,
		TotalCancelled: c.totalCancelled,
		TotalCost:      c.totalCost.String(),
		Models:         make([]types.ModelStats, 0, len(c.models)),
		Workers:        make([]types.WorkerStats, 0, len(c.workers)),
	}

	for modelID, data := range c.models {
		snapshot.Models = append(snapshot.Models, c.modelStats(modelID, data))
	}
	sort.Slice(snapshot.Models, func(i, j int) bool {
		return snapshot.Models[i].ModelID < snapshot.Models[j].ModelID
	})

	for workerID, data := range c.workers {
		snapshot.Workers = append(snapshot.Workers, workerStats(workerID, data))
	}
	sort.Slice(snapshot.Workers, func(i, j int) bool {
		return snapshot.Workers[i].WorkerID < snapshot.Workers[j].WorkerID
	})

	return snapshot
}

// ModelSnapshot 返回指定模型的指标。
func (c *Collector) ModelSnapshot(modelID string) (types.ModelStats, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, exists := c.models[modelID]
	if !exists {
		return types.ModelStats{}, false
	}
	return c.modelStats(modelID, data), true
}

// Reset 重置所有已收集的指标。
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.models = make(map[string]*modelData)
	c.workers = make(map[string]*workerData)
	c.totalSubmitted = 0
	c.totalCompleted = 0
	c.totalFailed = 0
	c.totalCancelled = 0
	c.totalCost = decimal.Zero
}

func (c *Collector) workerData(workerID string) *workerData {
	data, exists := c.workers[workerID]
	if !exists {
		data = &workerData{}
		c.workers[workerID] = data
	}
	return data
}

func (c *Collector) modelStats(modelID string, data *modelData) types.ModelStats {
	stats := types.ModelStats{
		ModelID:      modelID,
		Count:        data.count,
		SuccessCount: data.successCount,
		TotalTokens:  data.totalTokens,
		TotalCost:    data.totalCost.String(),
		AvgLatencyMs: data.latency.Mean(),
		Latency: types.LatencyPercentiles{
			P50: data.latency.ValueAtQuantile(50),
			P90: data.latency.ValueAtQuantile(90),
			P95: data.latency.ValueAtQuantile(95),
			P99: data.latency.ValueAtQuantile(99),
			Max: data.latency.Max(),
		},
	}
	if data.count > 0 {
		stats.SuccessRate = float64(data.successCount) / float64(data.count)
	}
	if data.successCount > 0 {
		stats.AvgConfidence = data.confidenceSum / float64(data.successCount)
	}
	return stats
}

func workerStats(workerID string, data *workerData) types.WorkerStats {
	stats := types.WorkerStats{
		WorkerID:     workerID,
		Count:        data.count,
		SuccessCount: data.successCount,
	}
	if data.count > 0 {
		stats.SuccessRate = float64(data.successCount) / float64(data.count)
	}
	if data.successCount > 0 {
		stats.AvgLatencyMs = float64(data.latencySumMs) / float64(data.successCount)
		stats.AvgConfidence = data.confidenceSum / float64(data.successCount)
	}
	return stats
}

func clampLatency(latencyMs int64) int64 {
	if latencyMs < minTrackableLatencyMs {
		return minTrackableLatencyMs
	}
	if latencyMs > maxTrackableLatencyMs {
		return maxTrackableLatencyMs
	}
	return latencyMs
}
