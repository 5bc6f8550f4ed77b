package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/galynx/galynx-client/internal/app"
	"github.com/galynx/galynx-client/internal/config"
	"github.com/galynx/galynx-client/pkg/logger"
	"go.uber.org/zap"
)

func main() {
	cfg := config.MustLoad()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = logger.New(ctx, []string{"stdout", "logs.log"}, cfg.Env)

	logger.GetFromCtx(ctx).Info(ctx, "logger is working", zap.String("env", cfg.Env))

	app := app.Register(ctx, cfg)
	defer app.GracefulStop(ctx)

	app.Run(ctx)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)

	<-stop

	close(stop)
	logger.GetFromCtx(ctx).Info(ctx, "client stopped")
}
