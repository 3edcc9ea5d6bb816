package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"yqhp/conductor/cmd/serve"
)

var (
	// serve 命令的 flags
	serveAddress string
	serveCatalog string
)

// serveCmd 是 serve 子命令
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动调度引擎和 REST API",
	Long: `启动 conductor 引擎并对外提供 REST API。

引擎负责：
  - 按优先级调度任务并分配给工作协程
  - 并行分发到模型后端并聚合共识结果
  - 根据负载自动伸缩工作协程池`,
	Example: `  # 使用默认配置启动
  conductor serve

  # 指定监听地址
  conductor serve --address :9090

  # 使用配置文件
  conductor serve --config config.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	// serve flags
	serveCmd.Flags().StringVar(&serveAddress, "address", "", "HTTP 服务地址")
	serveCmd.Flags().StringVar(&serveCatalog, "catalog", "", "模型目录文件路径")
}

func runServe(cmd *cobra.Command, args []string) error {
	// 加载配置
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// 应用命令行参数覆盖
	if cmd.Flags().Changed("address") {
		cfg.Server.Address = serveAddress
	}
	if cmd.Flags().Changed("catalog") {
		cfg.Catalog.Path = serveCatalog
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 处理关闭信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\n正在关闭 conductor...")
		cancel()
	}()

	// 打印启动信息
	if !quiet {
		fmt.Printf(Banner, Version)
		fmt.Println()
		fmt.Printf("  HTTP 地址: %s\n", cfg.Server.Address)
		fmt.Printf("  模型目录: %s\n", cfg.Catalog.Path)
		fmt.Printf("  工作协程: %d - %d\n", cfg.Pool.MinWorkers, cfg.Pool.MaxWorkers)
		fmt.Println()
		fmt.Println("conductor 启动中。按 Ctrl+C 停止。")
	}

	return serve.Run(ctx, cfg, serve.Options{ShutdownTimeout: 30 * time.Second})
}
