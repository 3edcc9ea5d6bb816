package types

// ConsensusStrategy selects how per-model outcomes reduce to one answer.
type ConsensusStrategy string

const (
	// StrategyWeightedVoting scores answers by confidence and speed.
	StrategyWeightedVoting ConsensusStrategy = "weighted_voting"
	// StrategyMajorityVote clusters normalized answers and picks the largest cluster.
	StrategyMajorityVote ConsensusStrategy = "majority_vote"
	// StrategyBestConfidence picks the single highest-confidence answer.
	StrategyBestConfidence ConsensusStrategy = "best_confidence"
	// StrategyEnsembleBlend concatenates all answers with attribution.
	StrategyEnsembleBlend ConsensusStrategy = "ensemble_blend"
)

// IsValid reports whether s is a known strategy.
func (s ConsensusStrategy) IsValid() bool {
	switch s {
	case StrategyWeightedVoting, StrategyMajorityVote, StrategyBestConfidence, StrategyEnsembleBlend:
		return true
	default:
		return false
	}
}

// NoSuccessfulResponse is the final answer used when no backend succeeded.
const NoSuccessfulResponse = "no successful response"

// ConsensusResult is the final reduced answer for one task.
// Created once by the consensus engine and immutable thereafter.
type ConsensusResult struct {
	TaskID             string             `json:"task_id"`
	FinalAnswer        string             `json:"final_answer"`
	Confidence         float64            `json:"confidence"`
	ContributingModels []string           `json:"contributing_models"`
	StrategyUsed       ConsensusStrategy  `json:"strategy_used"`
	TotalLatencyMs     int64              `json:"total_latency_ms"`
	TotalTokens        int                `json:"total_tokens"`
	Outcomes           []ExecutionOutcome `json:"outcomes,omitempty"`
}

// Unavailable reports whether the result is the zero-confidence fallback
// produced when every selected backend failed or timed out.
func (r *ConsensusResult) Unavailable() bool {
	return len(r.ContributingModels) == 0
}
