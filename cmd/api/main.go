package main

import (
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/tsamsiyu/themelio/internal/app"
)

func main() {
	fx.New(
		app.APIModule,
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx")}
		}),
		fx.Invoke(func(logger *zap.Logger) {
			logger.Info("Starting Themelio API")
		}),
	).Run()
}
