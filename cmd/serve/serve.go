// Package serve 实现 serve 命令：构建引擎并对外提供 REST API。
package serve

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"yqhp/conductor/api/rest"
	"yqhp/conductor/internal/config"
	"yqhp/conductor/internal/engine"
	"yqhp/conductor/pkg/logger"
)

// Options 控制 serve 命令的运行方式。
type Options struct {
	// ShutdownTimeout bounds the engine drain on exit.
	ShutdownTimeout time.Duration
}

// Run builds the engine from cfg, starts the REST server and blocks until
// ctx is cancelled or the listener fails. On exit the server stops taking
// requests first, then the engine drains in-flight tasks.
func Run(ctx context.Context, cfg *config.Config, opts Options) error {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 30 * time.Second
	}

	eng, err := engine.New(cfg)
	if err != nil {
		return fmt.Errorf("构建引擎失败: %w", err)
	}
	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("启动引擎失败: %w", err)
	}

	srv := rest.NewServer(eng, &cfg.Server)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	logger.Info("conductor serving",
		zap.String("address", cfg.Server.Address),
		zap.String("catalog", cfg.Catalog.Path))

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	// 先停 HTTP，再排空引擎
	if err := srv.ShutdownWithTimeout(5 * time.Second); err != nil {
		logger.Warn("server shutdown failed", zap.Error(err))
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
	defer cancel()
	if err := eng.Stop(stopCtx); err != nil {
		logger.Warn("engine drain failed", zap.Error(err))
	}

	logger.Sync()
	return serveErr
}
