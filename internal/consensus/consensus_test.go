package consensus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/conductor/pkg/types"
)

func okOutcome(modelID, answer string, confidence float64, latencyMs int64) *types.ExecutionOutcome {
	return &types.ExecutionOutcome{
		ModelID:    modelID,
		Status:     types.OutcomeOK,
		Answer:     answer,
		Confidence: confidence,
		LatencyMs:  latencyMs,
		TokensUsed: 10,
	}
}

func timeoutOutcome(modelID string) *types.ExecutionOutcome {
	return &types.ExecutionOutcome{
		ModelID:   modelID,
		Status:    types.OutcomeTimeout,
		Error:     "unit deadline exceeded",
		LatencyMs: 45000,
	}
}

func reduceTask(strategy types.ConsensusStrategy) *types.Task {
	return &types.Task{ID: "task-1", Kind: "qa", Strategy: strategy}
}

func TestWeightedVotingPicksBestBlendedScore(t *testing.T) {
	engine := NewEngine(types.StrategyWeightedVoting)
	outcomes := []*types.ExecutionOutcome{
		okOutcome("m1", "alpha", 0.9, 100),
		okOutcome("m2", "beta", 0.6, 50),
		timeoutOutcome("m3"),
	}

	result := engine.Reduce(reduceTask(types.StrategyWeightedVoting), outcomes)

	assert.Equal(t, "alpha", result.FinalAnswer)
	assert.InDelta(t, 0.80, result.Confidence, 1e-9)
	assert.Equal(t, []string{"m1", "m2"}, result.ContributingModels)
	assert.Equal(t, types.StrategyWeightedVoting, result.StrategyUsed)
	assert.False(t, result.Unavailable())
}

func TestReduceEmptyOutcomes(t *testing.T) {
	engine := NewEngine(types.StrategyWeightedVoting)

	result := engine.Reduce(reduceTask(types.StrategyWeightedVoting), nil)

	assert.Equal(t, types.NoSuccessfulResponse, result.FinalAnswer)
	assert.Equal(t, 0.0, result.Confidence)
	assert.Empty(t, result.ContributingModels)
	assert.True(t, result.Unavailable())
}

func TestReduceAllFailed(t *testing.T) {
	engine := NewEngine(types.StrategyWeightedVoting)
	outcomes := []*types.ExecutionOutcome{
		timeoutOutcome("m1"),
		{ModelID: "m2", Status: types.OutcomeError, Error: "boom"},
	}

	result := engine.Reduce(reduceTask(types.StrategyMajorityVote), outcomes)

	assert.Equal(t, types.NoSuccessfulResponse, result.FinalAnswer)
	assert.Equal(t, 0.0, result.Confidence)
	assert.True(t, result.Unavailable())
	assert.Len(t, result.Outcomes, 2)
}

func TestBestConfidenceKeepsSingleWinner(t *testing.T) {
	engine := NewEngine(types.StrategyWeightedVoting)
	outcomes := []*types.ExecutionOutcome{
		okOutcome("m1", "alpha", 0.7, 10),
		okOutcome("m2", "beta", 0.95, 900),
		okOutcome("m3", "gamma", 0.4, 5),
	}

	result := engine.Reduce(reduceTask(types.StrategyBestConfidence), outcomes)

	assert.Equal(t, "beta", result.FinalAnswer)
	assert.Equal(t, 0.95, result.Confidence)
	assert.Equal(t, []string{"m2"}, result.ContributingModels)
}

func TestEnsembleBlendConcatenatesWithAttribution(t *testing.T) {
	engine := NewEngine(types.StrategyWeightedVoting)
	outcomes := []*types.ExecutionOutcome{
		okOutcome("m1", "first view", 0.8, 100),
		okOutcome("m2", "second view", 0.6, 100),
	}

	result := engine.Reduce(reduceTask(types.StrategyEnsembleBlend), outcomes)

	assert.Contains(t, result.FinalAnswer, "=== m1 (confidence 0.80) ===")
	assert.Contains(t, result.FinalAnswer, "first view")
	assert.Contains(t, result.FinalAnswer, "=== m2 (confidence 0.60) ===")
	assert.Contains(t, result.FinalAnswer, "second view")
	assert.InDelta(t, 0.75, result.Confidence, 1e-9)
	assert.Equal(t, []string{"m1", "m2"}, result.ContributingModels)
}

func TestMajorityVoteLargestCluster(t *testing.T) {
	engine := NewEngine(types.StrategyWeightedVoting)
	outcomes := []*types.ExecutionOutcome{
		okOutcome("m1", "Paris.", 0.8, 100),
		okOutcome("m2", "London", 0.9, 50),
		okOutcome("m3", "  paris", 0.7, 80),
	}

	result := engine.Reduce(reduceTask(types.StrategyMajorityVote), outcomes)

	assert.Equal(t, "paris", NormalizeAnswer(result.FinalAnswer))
	assert.Equal(t, []string{"m1", "m3"}, result.ContributingModels)
	assert.InDelta(t, 0.80, result.Confidence, 1e-9)
}

func TestMajorityVoteTieBrokenByWeightedScore(t *testing.T) {
	engine := NewEngine(types.StrategyWeightedVoting)
	outcomes := []*types.ExecutionOutcome{
		okOutcome("m1", "alpha", 0.6, 100),
		okOutcome("m2", "beta", 0.9, 100),
	}

	result := engine.Reduce(reduceTask(types.StrategyMajorityVote), outcomes)

	assert.Equal(t, "beta", result.FinalAnswer)
	assert.Equal(t, []string{"m2"}, result.ContributingModels)
}

func TestInvalidStrategyFallsBackToDefault(t *testing.T) {
	engine := NewEngine(types.StrategyBestConfidence)
	outcomes := []*types.ExecutionOutcome{
		okOutcome("m1", "alpha", 0.7, 10),
		okOutcome("m2", "beta", 0.9, 10),
	}

	result := engine.Reduce(reduceTask(""), outcomes)

	assert.Equal(t, types.StrategyBestConfidence, result.StrategyUsed)
	assert.Equal(t, "beta", result.FinalAnswer)
}

func TestReduceAccumulatesTotals(t *testing.T) {
	engine := NewEngine(types.StrategyWeightedVoting)
	outcomes := []*types.ExecutionOutcome{
		okOutcome("m1", "alpha", 0.8, 120),
		okOutcome("m2", "alpha", 0.7, 340),
	}

	result := engine.Reduce(reduceTask(types.StrategyWeightedVoting), outcomes)

	assert.Equal(t, 20, result.TotalTokens)
	assert.Equal(t, int64(340), result.TotalLatencyMs)
	require.Len(t, result.Outcomes, 2)
}

func TestNormalizeAnswer(t *testing.T) {
	testCases := []struct {
		in   string
		want string
	}{
		{"  Hello,  World! ", "hello world"},
		{"Paris.", "paris"},
		{"PARIS", "paris"},
		{"a.b", "ab"},
		{"?!.", ""},
		{"", ""},
		{"one\ttwo\nthree", "one two three"},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.want, NormalizeAnswer(tc.in), "input %q", tc.in)
	}
}

func TestEnsembleConfidenceBonusCaps(t *testing.T) {
	many := make([]*types.ExecutionOutcome, 0, 6)
	for i := 0; i < 6; i++ {
		many = append(many, okOutcome("m", "a", 0.5, 10))
	}
	assert.InDelta(t, 0.7, ensembleConfidence(many), 1e-9)

	high := []*types.ExecutionOutcome{
		okOutcome("m1", "a", 0.99, 10),
		okOutcome("m2", "a", 0.99, 10),
		okOutcome("m3", "a", 0.99, 10),
		okOutcome("m4", "a", 0.99, 10),
		okOutcome("m5", "a", 0.99, 10),
	}
	assert.Equal(t, 1.0, ensembleConfidence(high))

	single := []*types.ExecutionOutcome{okOutcome("m1", "a", 0.42, 10)}
	assert.InDelta(t, 0.42, ensembleConfidence(single), 1e-9)
}

func TestWeightedScoreFloorsLatency(t *testing.T) {
	instant := okOutcome("m1", "a", 0.5, 0)
	assert.InDelta(t, 0.7*0.5+0.3, weightedScore(instant), 1e-9)
}
