package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"yqhp/conductor/cmd/run"
)

var (
	// run 命令的 flags
	runTimeout  time.Duration
	runStrategy string
	runCatalog  string
	runJSONOut  string
)

// runCmd 是 run 子命令
var runCmd = &cobra.Command{
	Use:   "run <tasks.yaml>",
	Short: "一次性执行任务文件",
	Long: `读取 YAML 任务文件，提交全部任务并等待完成，
打印每个任务的共识结果汇总。

任务文件格式：
  defaults:
    priority: normal
    strategy: weighted_voting
  tasks:
    - kind: qa
      prompt: "What is the capital of France?"
    - kind: summarize
      prompt: "..."
      priority: high`,
	Example: `  # 执行任务文件
  conductor run tasks.yaml

  # 指定等待超时
  conductor run -t 2m tasks.yaml

  # 覆盖共识策略
  conductor run --strategy majority_vote tasks.yaml

  # 输出 JSON 结果到文件
  conductor run --out-json results.json tasks.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runTasks,
}

func init() {
	rootCmd.AddCommand(runCmd)

	// run flags
	runCmd.Flags().DurationVarP(&runTimeout, "timeout", "t", 0, "等待整批完成的超时时间 (覆盖任务文件配置)")
	runCmd.Flags().StringVar(&runStrategy, "strategy", "", "共识策略 (覆盖任务配置)")
	runCmd.Flags().StringVar(&runCatalog, "catalog", "", "模型目录文件路径")
	runCmd.Flags().StringVar(&runJSONOut, "out-json", "", "输出 JSON 结果到文件")
}

func runTasks(cmd *cobra.Command, args []string) error {
	taskFilePath := args[0]

	// 加载配置
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("catalog") {
		cfg.Catalog.Path = runCatalog
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 处理关闭信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\n正在中止执行...")
		cancel()
	}()

	// 打印执行信息
	if !quiet {
		fmt.Printf(Banner, Version)
		fmt.Println()
		fmt.Printf("  任务文件: %s\n", taskFilePath)
		fmt.Printf("  模型目录: %s\n", cfg.Catalog.Path)
		fmt.Println()
		fmt.Println("执行中...")
	}

	summary, err := run.Run(ctx, cfg, taskFilePath, run.Options{
		Timeout:  runTimeout,
		Strategy: runStrategy,
	})
	if err != nil {
		return fmt.Errorf("执行失败: %w", err)
	}

	// 打印结果
	if !quiet {
		run.PrintSummary(os.Stdout, summary)
	}

	// 写入 JSON 输出
	if runJSONOut != "" {
		if err := run.WriteJSON(runJSONOut, summary); err != nil {
			return fmt.Errorf("写入 JSON 输出失败: %w", err)
		}
		if !quiet {
			fmt.Printf("\n结果已写入: %s\n", runJSONOut)
		}
	}

	// 检查失败任务
	if unresolved := summary.Failed + summary.TimedOut; unresolved > 0 {
		return fmt.Errorf("%d/%d 个任务未成功完成", unresolved, summary.Total)
	}

	return nil
}
