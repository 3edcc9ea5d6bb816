package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/conductor/internal/catalog"
	"yqhp/conductor/pkg/types"
)

func testCollector(t *testing.T) *Collector {
	t.Helper()
	registry, err := catalog.NewInMemoryRegistry([]types.ModelDescriptor{
		{ID: "atlas-pro", Provider: types.ProviderSim, PerformanceScore: 0.95, CostPerToken: 0.001},
		{ID: "nimbus", Provider: types.ProviderSim, PerformanceScore: 0.86},
	})
	require.NoError(t, err)
	return NewCollector(registry)
}

func outcomeFor(modelID string, status types.OutcomeStatus, confidence float64, latencyMs int64, tokens int) *types.ExecutionOutcome {
	return &types.ExecutionOutcome{
		ModelID:    modelID,
		Status:     status,
		Confidence: confidence,
		LatencyMs:  latencyMs,
		TokensUsed: tokens,
	}
}

func TestRecordOutcomeAggregatesPerModel(t *testing.T) {
	c := testCollector(t)

	c.RecordOutcome(outcomeFor("atlas-pro", types.OutcomeOK, 0.8, 100, 10))
	c.RecordOutcome(outcomeFor("atlas-pro", types.OutcomeOK, 0.6, 200, 10))
	c.RecordOutcome(outcomeFor("atlas-pro", types.OutcomeError, 0, 50, 0))

	stats, ok := c.ModelSnapshot("atlas-pro")
	require.True(t, ok)

	assert.Equal(t, int64(3), stats.Count)
	assert.Equal(t, int64(2), stats.SuccessCount)
	assert.InDelta(t, 2.0/3.0, stats.SuccessRate, 1e-9)
	assert.InDelta(t, 0.7, stats.AvgConfidence, 1e-9)
	assert.Equal(t, int64(20), stats.TotalTokens)
	assert.Equal(t, "0.02", stats.TotalCost)
}

func TestRecordOutcomeUnknownModelSkipsCost(t *testing.T) {
	c := testCollector(t)

	c.RecordOutcome(outcomeFor("ghost", types.OutcomeOK, 0.5, 10, 100))

	stats, ok := c.ModelSnapshot("ghost")
	require.True(t, ok)
	assert.Equal(t, int64(1), stats.Count)
	assert.Equal(t, "0", stats.TotalCost)
}

func TestLatencyPercentiles(t *testing.T) {
	c := testCollector(t)

	for v := int64(1); v <= 100; v++ {
		c.RecordOutcome(outcomeFor("nimbus", types.OutcomeOK, 0.5, v, 1))
	}

	stats, ok := c.ModelSnapshot("nimbus")
	require.True(t, ok)

	assert.InDelta(t, 50, float64(stats.Latency.P50), 2)
	assert.InDelta(t, 90, float64(stats.Latency.P90), 2)
	assert.InDelta(t, 99, float64(stats.Latency.P99), 2)
	assert.Equal(t, int64(100), stats.Latency.Max)
	assert.InDelta(t, 50.5, stats.AvgLatencyMs, 1)
}

func TestLatencyClampedToTrackableRange(t *testing.T) {
	c := testCollector(t)

	c.RecordOutcome(outcomeFor("nimbus", types.OutcomeOK, 0.5, 0, 1))
	c.RecordOutcome(outcomeFor("nimbus", types.OutcomeTimeout, 0, 10_000_000, 0))

	stats, ok := c.ModelSnapshot("nimbus")
	require.True(t, ok)
	assert.Equal(t, int64(2), stats.Count)
	assert.LessOrEqual(t, stats.Latency.Max, int64(maxTrackableLatencyMs))
}

func TestWorkerAggregates(t *testing.T) {
	c := testCollector(t)

	c.RecordTaskCompleted("worker-1", 100, 0.9)
	c.RecordTaskCompleted("worker-1", 200, 0.7)
	c.RecordTaskFailed("worker-1")

	snapshot := c.Snapshot()
	require.Len(t, snapshot.Workers, 1)

	w := snapshot.Workers[0]
	assert.Equal(t, "worker-1", w.WorkerID)
	assert.Equal(t, int64(3), w.Count)
	assert.Equal(t, int64(2), w.SuccessCount)
	assert.InDelta(t, 2.0/3.0, w.SuccessRate, 1e-9)
	assert.InDelta(t, 150, w.AvgLatencyMs, 1e-9)
	assert.InDelta(t, 0.8, w.AvgConfidence, 1e-9)
}

func TestSnapshotTotalsAndOrdering(t *testing.T) {
	c := testCollector(t)

	c.RecordSubmitted(5)
	c.RecordTaskCompleted("worker-2", 10, 0.5)
	c.RecordTaskCompleted("worker-1", 10, 0.5)
	c.RecordTaskFailed("")
	c.RecordTaskCancelled()
	c.RecordOutcome(outcomeFor("nimbus", types.OutcomeOK, 0.5, 10, 1))
	c.RecordOutcome(outcomeFor("atlas-pro", types.OutcomeOK, 0.5, 10, 1))

	snapshot := c.Snapshot()
	assert.Equal(t, int64(5), snapshot.TotalSubmitted)
	assert.Equal(t, int64(2), snapshot.TotalCompleted)
	assert.Equal(t, int64(1), snapshot.TotalFailed)
	assert.Equal(t, int64(1), snapshot.TotalCancelled)

	require.Len(t, snapshot.Models, 2)
	assert.Equal(t, "atlas-pro", snapshot.Models[0].ModelID)
	assert.Equal(t, "nimbus", snapshot.Models[1].ModelID)

	require.Len(t, snapshot.Workers, 2)
	assert.Equal(t, "worker-1", snapshot.Workers[0].WorkerID)
	assert.Equal(t, "worker-2", snapshot.Workers[1].WorkerID)
}

func TestUnassignedFailureCountsGloballyOnly(t *testing.T) {
	c := testCollector(t)

	c.RecordTaskFailed("")

	snapshot := c.Snapshot()
	assert.Equal(t, int64(1), snapshot.TotalFailed)
	assert.Empty(t, snapshot.Workers)
}

func TestAttemptFailureLeavesTerminalCountersAlone(t *testing.T) {
	c := testCollector(t)

	// Two retried attempts on worker-1, then the terminal failure.
	c.RecordAttemptFailure("worker-1")
	c.RecordAttemptFailure("worker-1")
	c.RecordTaskFailed("worker-1")

	snapshot := c.Snapshot()
	assert.Equal(t, int64(1), snapshot.TotalFailed)

	require.Len(t, snapshot.Workers, 1)
	assert.Equal(t, int64(3), snapshot.Workers[0].Count)
	assert.Equal(t, int64(0), snapshot.Workers[0].SuccessCount)
}

func TestReset(t *testing.T) {
	c := testCollector(t)

	c.RecordSubmitted(3)
	c.RecordOutcome(outcomeFor("nimbus", types.OutcomeOK, 0.5, 10, 5))
	c.RecordTaskCompleted("worker-1", 10, 0.5)
	c.Reset()

	snapshot := c.Snapshot()
	assert.Equal(t, int64(0), snapshot.TotalSubmitted)
	assert.Equal(t, int64(0), snapshot.TotalCompleted)
	assert.Equal(t, "0", snapshot.TotalCost)
	assert.Empty(t, snapshot.Models)
	assert.Empty(t, snapshot.Workers)

	_, ok := c.ModelSnapshot("nimbus")
	assert.False(t, ok)
}
