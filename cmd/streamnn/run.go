package main

import (
	"context"
	"time"

	"github.com/fxnlabs/streamnn/internal/metrics"
	"github.com/fxnlabs/streamnn/internal/pipeline"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const shutdownTimeout = 5 * time.Second

func runCommand() *cli.Command {
	return &cli.Command{
		Name:   "run",
		Usage:  "Run inference once or sweep sample sizes (default command)",
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	cfg := appConfig(c)
	log := appLogger(c)

	if err := cfg.CheckRun(); err != nil {
		log.Error("Invalid run settings", zap.Error(err))
		return nil
	}

	if addr := cfg.Metrics.ListenAddress; addr != "" {
		srv := metrics.Serve(addr, log)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}

	var runner *pipeline.Runner
	app := fx.New(
		fx.Supply(cfg, log),
		fx.Provide(
			func() pipeline.Opener { return openRuntime },
			func() afero.Fs { return afero.NewOsFs() },
		),
		pipeline.Module,
		fx.Populate(&runner),
		fx.WithLogger(func() fxevent.Logger {
			l := &fxevent.ZapLogger{Logger: log.Named("fx")}
			l.UseLogLevel(zapcore.DebugLevel)
			return l
		}),
	)
	if err := app.Err(); err != nil {
		return err
	}
	if err := app.Start(c.Context); err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := app.Stop(ctx); err != nil {
			log.Warn("failed to release compute units", zap.Error(err))
		}
	}()

	report, err := runner.Execute()
	if err != nil {
		return err
	}
	log.Info("Run finished", zap.Int("runs", len(report.Runs)), zap.Int("sampleSizes", len(report.Means)))
	return nil
}
