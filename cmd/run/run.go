// Package run 实现 run 命令：一次性执行任务文件并汇总结果。
package run

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"yqhp/conductor/internal/config"
	"yqhp/conductor/internal/engine"
	"yqhp/conductor/internal/scheduler"
	"yqhp/conductor/pkg/logger"
	"yqhp/conductor/pkg/types"
	"yqhp/conductor/pkg/utils"
)

// Options 控制 run 命令的运行方式。
type Options struct {
	// Timeout 覆盖任务文件的 await_timeout
	Timeout time.Duration
	// Strategy 覆盖每个任务的共识策略
	Strategy string
}

// TaskResult summarizes one finished task.
type TaskResult struct {
	TaskID     string   `json:"task_id"`
	Kind       string   `json:"kind"`
	Priority   string   `json:"priority"`
	Status     string   `json:"status"`
	Answer     string   `json:"answer,omitempty"`
	Confidence float64  `json:"confidence,omitempty"`
	Strategy   string   `json:"strategy,omitempty"`
	Models     []string `json:"models,omitempty"`
	LatencyMs  int64    `json:"latency_ms,omitempty"`
	Tokens     int      `json:"tokens,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// Summary aggregates one run. Results follow submission order.
type Summary struct {
	Total      int          `json:"total"`
	Completed  int          `json:"completed"`
	Failed     int          `json:"failed"`
	TimedOut   int          `json:"timed_out"`
	Cancelled  int          `json:"cancelled"`
	DurationMs int64        `json:"duration_ms"`
	Results    []TaskResult `json:"results"`

	Duration time.Duration `json:"-"`
}

// Run loads the task file, submits every task and awaits the whole batch.
// A cancelled ctx aborts the wait and reports unfinished tasks as
// cancelled instead of failing the run.
func Run(ctx context.Context, cfg *config.Config, path string, opts Options) (*Summary, error) {
	file, err := config.LoadTaskFile(path)
	if err != nil {
		return nil, fmt.Errorf("加载任务文件失败: %w", err)
	}

	specs := file.Specs()
	if opts.Strategy != "" {
		strategy := types.ConsensusStrategy(opts.Strategy)
		if !strategy.IsValid() {
			return nil, fmt.Errorf("未知的共识策略: %s", opts.Strategy)
		}
		for i := range specs {
			specs[i].Strategy = strategy
		}
	}

	timeout := file.AwaitTimeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}

	eng, err := engine.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("构建引擎失败: %w", err)
	}
	if err := eng.Start(ctx); err != nil {
		return nil, fmt.Errorf("启动引擎失败: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := eng.Stop(stopCtx); err != nil {
			logger.Warn("engine drain failed", zap.Error(err))
		}
	}()

	start := time.Now()
	ids, err := eng.SubmitBatch(ctx, specs)
	if err != nil {
		return nil, fmt.Errorf("提交任务失败: %w", err)
	}

	outcomes, err := eng.AwaitCompletion(ctx, ids, timeout)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return collectAborted(eng, ids, time.Since(start)), nil
		}
		return nil, fmt.Errorf("等待任务完成失败: %w", err)
	}

	return buildSummary(eng, ids, outcomes, time.Since(start)), nil
}

func buildSummary(eng *engine.Engine, ids []string, outcomes map[string]scheduler.AwaitOutcome, elapsed time.Duration) *Summary {
	summary := &Summary{
		Total:      len(ids),
		Duration:   elapsed,
		DurationMs: elapsed.Milliseconds(),
		Results:    make([]TaskResult, 0, len(ids)),
	}

	for _, id := range ids {
		row := TaskResult{TaskID: id, Status: string(types.TaskStatusFailed)}
		if view, err := eng.Inspect(context.Background(), id); err == nil {
			row.Kind = view.Task.Kind
			row.Priority = string(view.Task.Priority)
			row.Status = string(view.Task.Status)
		}

		outcome, ok := outcomes[id]
		switch {
		case !ok:
			summary.Failed++
			row.Error = "no outcome reported"
		case outcome.Err == nil && outcome.Result != nil:
			summary.Completed++
			result := outcome.Result
			row.Answer = result.FinalAnswer
			row.Confidence = result.Confidence
			row.Strategy = string(result.StrategyUsed)
			row.Models = result.ContributingModels
			row.LatencyMs = result.TotalLatencyMs
			row.Tokens = result.TotalTokens
		case outcome.TimedOut():
			summary.TimedOut++
			row.Status = "timed_out"
			row.Error = outcome.Err.Message
		case outcome.Err.Code == types.ErrCodeTaskCancelled || outcome.Err.Code == types.ErrCodeQueueDrained:
			summary.Cancelled++
			row.Error = outcome.Err.Message
		default:
			summary.Failed++
			row.Error = outcome.Err.Error()
		}

		summary.Results = append(summary.Results, row)
	}

	return summary
}

// collectAborted 在 Ctrl+C 中止后汇总各任务的当前状态。
func collectAborted(eng *engine.Engine, ids []string, elapsed time.Duration) *Summary {
	summary := &Summary{
		Total:      len(ids),
		Duration:   elapsed,
		DurationMs: elapsed.Milliseconds(),
		Results:    make([]TaskResult, 0, len(ids)),
	}

	for _, id := range ids {
		row := TaskResult{TaskID: id, Status: string(types.TaskStatusCancelled)}
		view, err := eng.Inspect(context.Background(), id)
		if err != nil {
			summary.Cancelled++
			row.Error = "已中止"
			summary.Results = append(summary.Results, row)
			continue
		}

		row.Kind = view.Task.Kind
		row.Priority = string(view.Task.Priority)
		row.Status = string(view.Task.Status)

		switch view.Task.Status {
		case types.TaskStatusCompleted:
			summary.Completed++
			if view.Result != nil {
				row.Answer = view.Result.FinalAnswer
				row.Confidence = view.Result.Confidence
				row.Strategy = string(view.Result.StrategyUsed)
				row.Models = view.Result.ContributingModels
				row.LatencyMs = view.Result.TotalLatencyMs
				row.Tokens = view.Result.TotalTokens
			}
		case types.TaskStatusFailed:
			summary.Failed++
			if view.Err != nil {
				row.Error = view.Err.Error()
			}
		default:
			summary.Cancelled++
			row.Error = "已中止"
		}

		summary.Results = append(summary.Results, row)
	}

	return summary
}

// PrintSummary writes the run summary table to w.
func PrintSummary(w io.Writer, summary *Summary) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "     执行结果:")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "     总耗时.............: %s\n", summary.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "     任务总数...........: %d\n", summary.Total)
	fmt.Fprintf(w, "     已完成.............: %d\n", summary.Completed)
	fmt.Fprintf(w, "     失败...............: %d\n", summary.Failed)
	fmt.Fprintf(w, "     超时...............: %d\n", summary.TimedOut)
	if summary.Cancelled > 0 {
		fmt.Fprintf(w, "     已取消.............: %d\n", summary.Cancelled)
	}

	if len(summary.Results) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "     任务明细:")
		for _, row := range summary.Results {
			if row.Error != "" {
				fmt.Fprintf(w, "       %-10s %-12s %-10s %s\n", row.TaskID, row.Kind, row.Status, row.Error)
				continue
			}
			fmt.Fprintf(w, "       %-10s %-12s %-10s %.2f  %s\n", row.TaskID, row.Kind, row.Status, row.Confidence, truncate(row.Answer, 60))
		}
	}

	fmt.Fprintln(w)
}

// WriteJSON writes the run summary as pretty-printed JSON to path.
func WriteJSON(path string, summary *Summary) error {
	text, err := utils.ToJSONPretty(summary)
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(text), 0644)
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
