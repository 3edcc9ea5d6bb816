// Package consensus reduces per-model execution outcomes into a single
// final answer for a task.
package consensus

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"yqhp/conductor/pkg/types"
)

// Engine implements the reduction strategies. A zero Engine is not usable;
// create one with NewEngine.
type Engine struct {
	defaultStrategy types.ConsensusStrategy
}

// NewEngine creates an engine. defaultStrategy applies to tasks that do not
// name a strategy; an invalid default falls back to weighted voting.
func NewEngine(defaultStrategy types.ConsensusStrategy) *Engine {
	if !defaultStrategy.IsValid() {
		defaultStrategy = types.StrategyWeightedVoting
	}
	return &Engine{defaultStrategy: defaultStrategy}
}

// Reduce merges outcomes into one result. Only successful outcomes carry
// votes; an empty successful subset yields the zero-confidence fallback
// rather than an error, so a fully failed fan-out still resolves the task.
func (e *Engine) Reduce(task *types.Task, outcomes []*types.ExecutionOutcome) *types.ConsensusResult {
	strategy := task.Strategy
	if !strategy.IsValid() {
		strategy = e.defaultStrategy
	}

	result := &types.ConsensusResult{
		TaskID:       task.ID,
		StrategyUsed: strategy,
	}
	for _, outcome := range outcomes {
		result.Outcomes = append(result.Outcomes, *outcome)
		result.TotalTokens += outcome.TokensUsed
		if outcome.LatencyMs > result.TotalLatencyMs {
			result.TotalLatencyMs = outcome.LatencyMs
		}
	}

	successes := successfulOutcomes(outcomes)
	if len(successes) == 0 {
		result.FinalAnswer = types.NoSuccessfulResponse
		result.Confidence = 0
		result.ContributingModels = []string{}
		return result
	}

	switch strategy {
	case types.StrategyBestConfidence:
		e.reduceBestConfidence(result, successes)
	case types.StrategyMajorityVote:
		e.reduceMajorityVote(result, successes)
	case types.StrategyEnsembleBlend:
		e.reduceEnsembleBlend(result, successes)
	default:
		e.reduceWeightedVoting(result, successes)
	}
	return result
}

// reduceWeightedVoting picks the answer with the best blend of confidence
// and speed, and reports an ensemble confidence over all voters.
func (e *Engine) reduceWeightedVoting(result *types.ConsensusResult, successes []*types.ExecutionOutcome) {
	winner := successes[0]
	best := weightedScore(winner)
	for _, outcome := range successes[1:] {
		if score := weightedScore(outcome); score > best {
			best = score
			winner = outcome
		}
	}

	result.FinalAnswer = winner.Answer
	result.Confidence = ensembleConfidence(successes)
	result.ContributingModels = modelIDs(successes)
}

// reduceBestConfidence keeps the single most confident answer as-is.
func (e *Engine) reduceBestConfidence(result *types.ConsensusResult, successes []*types.ExecutionOutcome) {
	winner := successes[0]
	for _, outcome := range successes[1:] {
		if outcome.Confidence > winner.Confidence {
			winner = outcome
		}
	}

	result.FinalAnswer = winner.Answer
	result.Confidence = winner.Confidence
	result.ContributingModels = []string{winner.ModelID}
}

// reduceEnsembleBlend concatenates every answer with attribution so the
// caller sees all perspectives.
func (e *Engine) reduceEnsembleBlend(result *types.ConsensusResult, successes []*types.ExecutionOutcome) {
	var b strings.Builder
	for i, outcome := range successes {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "=== %s (confidence %.2f) ===\n%s", outcome.ModelID, outcome.Confidence, outcome.Answer)
	}

	result.FinalAnswer = b.String()
	result.Confidence = ensembleConfidence(successes)
	result.ContributingModels = modelIDs(successes)
}

// reduceMajorityVote clusters normalized answers and picks the largest
// cluster. Size ties fall back to weighted voting across the tied clusters,
// so a 1-1-1 split still resolves deterministically instead of by map order.
func (e *Engine) reduceMajorityVote(result *types.ConsensusResult, successes []*types.ExecutionOutcome) {
	clusters := clusterByAnswer(successes)

	largest := 0
	for _, cluster := range clusters {
		if len(cluster.members) > largest {
			largest = len(cluster.members)
		}
	}

	var tied []*answerCluster
	for _, cluster := range clusters {
		if len(cluster.members) == largest {
			tied = append(tied, cluster)
		}
	}

	winner := tied[0]
	if len(tied) > 1 {
		// Weighted vote across the tied clusters' members; the cluster
		// containing the best-scoring outcome wins.
		bestScore := -1.0
		for _, cluster := range tied {
			for _, outcome := range cluster.members {
				if score := weightedScore(outcome); score > bestScore {
					bestScore = score
					winner = cluster
				}
			}
		}
	}

	representative := winner.members[0]
	bestScore := weightedScore(representative)
	for _, outcome := range winner.members[1:] {
		if score := weightedScore(outcome); score > bestScore {
			bestScore = score
			representative = outcome
		}
	}

	result.FinalAnswer = representative.Answer
	result.Confidence = ensembleConfidence(winner.members)
	result.ContributingModels = modelIDs(winner.members)
}

// answerCluster groups outcomes whose normalized answers match exactly.
type answerCluster struct {
	key     string
	members []*types.ExecutionOutcome
}

// clusterByAnswer groups successes by normalized answer, preserving
// first-seen order for deterministic iteration.
func clusterByAnswer(successes []*types.ExecutionOutcome) []*answerCluster {
	index := make(map[string]*answerCluster)
	var clusters []*answerCluster
	for _, outcome := range successes {
		key := NormalizeAnswer(outcome.Answer)
		cluster, ok := index[key]
		if !ok {
			cluster = &answerCluster{key: key}
			index[key] = cluster
			clusters = append(clusters, cluster)
		}
		cluster.members = append(cluster.members, outcome)
	}
	return clusters
}

// NormalizeAnswer lowercases, strips punctuation, and collapses whitespace
// so trivially different phrasings of the same answer cluster together.
func NormalizeAnswer(answer string) string {
	answer = strings.ToLower(strings.TrimSpace(answer))

	var b strings.Builder
	b.Grow(len(answer))
	pendingSpace := false
	for _, r := range answer {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = b.Len() > 0
		case unicode.IsPunct(r):
			// dropped
		default:
			if pendingSpace {
				b.WriteRune(' ')
				pendingSpace = false
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}

// weightedScore blends confidence with responsiveness. Latency is floored
// at 1ms so instant replies do not divide by zero.
func weightedScore(outcome *types.ExecutionOutcome) float64 {
	latency := outcome.LatencyMs
	if latency < 1 {
		latency = 1
	}
	return 0.7*outcome.Confidence + 0.3*(1.0/float64(latency))
}

// ensembleConfidence is the mean confidence plus a small agreement bonus
// for each extra voter, capped at 0.2 bonus and 1.0 total.
func ensembleConfidence(successes []*types.ExecutionOutcome) float64 {
	if len(successes) == 0 {
		return 0
	}

	sum := 0.0
	for _, outcome := range successes {
		sum += outcome.Confidence
	}
	avg := sum / float64(len(successes))

	bonus := 0.05 * float64(len(successes)-1)
	if bonus > 0.2 {
		bonus = 0.2
	}

	confidence := avg + bonus
	if confidence > 1 {
		confidence = 1
	}
	return confidence
}

// modelIDs lists contributing model ids, sorted for stable output.
func modelIDs(successes []*types.ExecutionOutcome) []string {
	ids := make([]string, 0, len(successes))
	for _, outcome := range successes {
		ids = append(ids, outcome.ModelID)
	}
	sort.Strings(ids)
	return ids
}

// successfulOutcomes filters the voting subset.
func successfulOutcomes(outcomes []*types.ExecutionOutcome) []*types.ExecutionOutcome {
	var successes []*types.ExecutionOutcome
	for _, outcome := range outcomes {
		if outcome.IsOK() {
			successes = append(successes, outcome)
		}
	}
	return successes
}
