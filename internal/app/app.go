package app

import (
	"context"

	"github.com/galynx/galynx-client/internal/config"
	"github.com/galynx/galynx-client/internal/engine"
	"github.com/galynx/galynx-client/internal/models"
	"github.com/galynx/galynx-client/internal/transport"
	"github.com/galynx/galynx-client/pkg/logger"
	"go.uber.org/zap"
)

// App wires the transport collaborator and the synchronization engine
// together for one session.
type App struct {
	cfg      *config.Config
	client   *transport.Client
	realtime *transport.Realtime
	engine   *engine.Engine
}

func Register(ctx context.Context, cfg *config.Config) *App {
	const op = "app.Register"

	ctx = logger.GetFromCtx(ctx).With(ctx, zap.String("op", op))

	logger.GetFromCtx(ctx).Info(ctx, "initing transport", zap.String("api_base", cfg.API.Base))
	client := transport.NewClient(cfg.API.Base)

	eng := engine.New(client)

	realtime := transport.NewRealtime(client,
		func(env transport.Envelope) {
			eng.ApplyRealtimeEvent(ctx, env)
		},
		func(status models.ConnectionStatus) {
			eng.SetConnectionStatus(ctx, status)
		},
	)
	eng.SetStream(realtime)

	return &App{
		cfg:      cfg,
		client:   client,
		realtime: realtime,
		engine:   eng,
	}
}

// Engine exposes the synchronization engine to the UI layer.
func (a *App) Engine() *engine.Engine {
	return a.engine
}

// Run authenticates with the configured credentials and bootstraps the
// session.
func (a *App) Run(ctx context.Context) {
	const op = "app.Run"

	ctx = logger.GetFromCtx(ctx).With(ctx, zap.String("op", op))

	if a.cfg.API.Email != "" {
		if err := a.engine.Login(ctx, a.cfg.API.Email, a.cfg.API.Password); err != nil {
			logger.GetFromCtx(ctx).Fatal(ctx, "login failed", logger.Err(err))
		}
	}

	if err := a.engine.Bootstrap(ctx); err != nil {
		logger.GetFromCtx(ctx).Fatal(ctx, "bootstrap failed", logger.Err(err))
	}

	logger.GetFromCtx(ctx).Info(ctx, "session ready",
		zap.String("workspace_id", a.engine.ActiveWorkspaceID()),
		zap.String("channel_id", a.engine.ActiveChannelID()),
		zap.Int("channels", len(a.engine.Channels())),
	)
}

func (a *App) GracefulStop(ctx context.Context) {
	const op = "app.GracefulStop"

	ctx = logger.GetFromCtx(ctx).With(ctx, zap.String("op", op))

	logger.GetFromCtx(ctx).Info(ctx, "stopping realtime stream")
	a.realtime.Disconnect()
}
