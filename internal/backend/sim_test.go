package backend

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/conductor/pkg/types"
)

func TestSimScriptedAnswer(t *testing.T) {
	client := NewSimClient(7)
	client.SetBehavior("atlas-pro", SimBehavior{Answer: "forty-two"})

	reply, err := client.Invoke(context.Background(), "atlas-pro", "meaning of life", InvokeOptions{})
	require.NoError(t, err)
	assert.Equal(t, "forty-two", reply.Text)
	assert.Greater(t, reply.TokensUsed, 0)
}

func TestSimDefaultAnswerNamesModel(t *testing.T) {
	client := NewSimClient(7)

	reply, err := client.Invoke(context.Background(), "nimbus", "summarize this", InvokeOptions{})
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "nimbus")
	assert.Contains(t, reply.Text, "summarize this")
}

func TestSimTransientFailure(t *testing.T) {
	client := NewSimClient(7)
	client.SetBehavior("flaky", SimBehavior{FailRate: 1.0})

	_, err := client.Invoke(context.Background(), "flaky", "ping", InvokeOptions{})
	require.Error(t, err)
	assert.True(t, types.IsTransientError(err))
}

func TestSimPermanentFailure(t *testing.T) {
	client := NewSimClient(7)
	client.SetBehavior("broken", SimBehavior{PermanentFailRate: 1.0})

	_, err := client.Invoke(context.Background(), "broken", "ping", InvokeOptions{})
	require.Error(t, err)
	assert.True(t, types.IsPermanentError(err))
}

func TestSimHonorsContextCancellation(t *testing.T) {
	client := NewSimClient(7)
	client.SetBehavior("slow", SimBehavior{MinLatency: 500 * time.Millisecond, MaxLatency: 500 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.Invoke(ctx, "slow", "ping", InvokeOptions{})
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, types.IsTransientError(err))
	assert.Less(t, elapsed, 300*time.Millisecond)
}

func TestSimDeterministicUnderFixedSeed(t *testing.T) {
	run := func() []bool {
		client := NewSimClient(42)
		client.SetBehavior("coin", SimBehavior{FailRate: 0.5})
		pattern := make([]bool, 0, 20)
		for i := 0; i < 20; i++ {
			_, err := client.Invoke(context.Background(), "coin", "flip", InvokeOptions{})
			pattern = append(pattern, err == nil)
		}
		return pattern
	}

	assert.Equal(t, run(), run())
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, estimateTokens(""))
	assert.Equal(t, 1, estimateTokens("abc"))
	assert.Equal(t, 2, estimateTokens("eight ch"))
}
