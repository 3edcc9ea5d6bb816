package types

import "time"

// OutcomeStatus represents the terminal status of one backend dispatch unit.
type OutcomeStatus string

const (
	// OutcomeOK indicates the backend returned an answer.
	OutcomeOK OutcomeStatus = "ok"
	// OutcomeError indicates the backend reported a failure.
	OutcomeError OutcomeStatus = "error"
	// OutcomeTimeout indicates the unit deadline elapsed before an answer.
	OutcomeTimeout OutcomeStatus = "timeout"
)

// ExecutionOutcome is the result of one dispatch attempt against one model.
// Exactly one outcome is produced per (task, selected model) pair per attempt.
// 推荐使用 NewOutcome 创建，执行结束时调用 Complete/Fail/Timeout 之一。
type ExecutionOutcome struct {
	ModelID    string        `json:"model_id"`
	Status     OutcomeStatus `json:"status"`
	Answer     string        `json:"answer,omitempty"`
	Confidence float64       `json:"confidence"`
	LatencyMs  int64         `json:"latency_ms"`
	TokensUsed int           `json:"tokens_used"`
	Error      string        `json:"error,omitempty"`

	startTime time.Time
	cause     error
}

// NewOutcome creates an outcome for modelID and starts its latency clock.
func NewOutcome(modelID string) *ExecutionOutcome {
	return &ExecutionOutcome{
		ModelID:   modelID,
		startTime: time.Now(),
	}
}

// Complete marks the outcome ok with the backend's answer.
func (o *ExecutionOutcome) Complete(answer string, confidence float64, tokens int) {
	o.Status = OutcomeOK
	o.Answer = answer
	o.Confidence = confidence
	o.TokensUsed = tokens
	o.stopClock()
}

// Fail marks the outcome as a backend failure.
func (o *ExecutionOutcome) Fail(err error) {
	o.Status = OutcomeError
	if err != nil {
		o.Error = err.Error()
		o.cause = err
	}
	o.stopClock()
}

// Cause returns the error behind a failed outcome. Only outcomes failed
// in-process carry one; rebuilt outcomes hold just the message.
func (o *ExecutionOutcome) Cause() error {
	return o.cause
}

// Timeout marks the outcome as timed out.
func (o *ExecutionOutcome) Timeout() {
	o.Status = OutcomeTimeout
	o.Error = "unit deadline exceeded"
	o.stopClock()
}

// IsOK reports whether the outcome carries a usable answer.
func (o *ExecutionOutcome) IsOK() bool {
	return o.Status == OutcomeOK
}

func (o *ExecutionOutcome) stopClock() {
	if !o.startTime.IsZero() && o.LatencyMs == 0 {
		o.LatencyMs = time.Since(o.startTime).Milliseconds()
	}
}
