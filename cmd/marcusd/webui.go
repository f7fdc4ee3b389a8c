package main

import (
	"context"

	"github.com/marcus-ai/marcus-core/internal/coordinator"
	"github.com/marcus-ai/marcus-core/internal/webui"
)

func startWebUI(ctx context.Context, engine *coordinator.Engine, addr string) {
	srv := webui.New(engine.Registry, engine.Store, engine.Bus, engine.Handlers, engine.Logger)
	if err := webui.Start(ctx, srv, addr); err != nil {
		engine.Logger.Error("webui server stopped", "error", err)
	}
}
