package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"yqhp/conductor/internal/config"
	"yqhp/conductor/pkg/logger"
)

const (
	// Version 是当前版本号
	Version = "0.1.0"
	// Banner 是启动时显示的 ASCII 艺术
	Banner = `
                   _         _
   __ ___ _ _  __| |_  _ __| |_ ___ _ _
  / _/ _ \ ' \/ _` + "`" + ` | || / _|  _/ _ \ '_|
  \__\___/_||_\__,_|\_,_\__|\__\___/_|    %s
`
)

var (
	// 全局配置
	cfgFile string
	verbose bool
	quiet   bool
)

// rootCmd 是根命令
var rootCmd = &cobra.Command{
	Use:   "conductor",
	Short: "多模型任务调度引擎",
	Long: `conductor 是一个单进程的多模型任务调度引擎：
按优先级调度任务，动态伸缩工作协程池，并行分发到多个
模型后端，并将各模型的回答聚合为一个共识结果。`,
	Version: Version,
}

// Execute 执行根命令
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// 全局 flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "配置文件路径")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "启用调试日志")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "静默模式")

	// 禁用默认的 completion 命令
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	// 自定义版本模板
	rootCmd.SetVersionTemplate(fmt.Sprintf(Banner, Version) + "\n")
}

// loadConfig 加载配置并应用全局 flags，随后初始化日志
func loadConfig() (*config.Config, error) {
	loader := config.NewLoader()
	if cfgFile != "" {
		loader = loader.WithConfigPath(cfgFile)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}

	if verbose {
		cfg.Logging.Level = "debug"
	}
	logger.Init(cfg.Logging.LoggerConfig())

	return cfg, nil
}
