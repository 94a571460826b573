package main

import (
	"fmt"
	"os"

	"github.com/common-nighthawk/go-figure"
	"github.com/fxnlabs/streamnn/internal/config"
	"github.com/fxnlabs/streamnn/internal/logger"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	app := newApp()
	if err := app.Run(os.Args); err != nil {
		if log, ok := app.Metadata["logger"].(*zap.Logger); ok {
			log.Fatal("failed to run app", zap.Error(err))
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "streamnn",
		Usage: "Run the streaming neural network pipeline on accelerator cards",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML configuration (defaults apply when empty)",
				EnvVars: []string{"STREAMNN_CONFIG"},
			},
			&cli.IntFlag{
				Name:    "num-samples",
				Aliases: []string{"n"},
				Usage:   "Number of samples per run, a multiple of the batch size",
			},
			&cli.BoolFlag{
				Name:    "mm",
				Aliases: []string{"m"},
				Usage:   "Use memory mapped transfers instead of streaming",
			},
			&cli.BoolFlag{
				Name:    "split",
				Aliases: []string{"s"},
				Usage:   "Split the network across two cards",
			},
			&cli.BoolFlag{
				Name:    "benchmark",
				Aliases: []string{"b"},
				Usage:   "Sweep sample sizes from the benchmark start to the ceiling",
			},
			&cli.IntFlag{
				Name:    "iterations",
				Aliases: []string{"i"},
				Usage:   "Runs per sample size",
			},
			&cli.StringFlag{
				Name:  "data-dir",
				Usage: "Directory holding the weight and feature files",
			},
			&cli.StringFlag{
				Name:  "out-dir",
				Usage: "Directory receiving the result files",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "Serve Prometheus metrics on this address while running",
			},
			&cli.BoolFlag{
				Name:    "quiet",
				Aliases: []string{"q"},
				Usage:   "Do not print the banner",
			},
		},
		Before: func(c *cli.Context) error {
			cfg := config.Default()
			if path := c.String("config"); path != "" {
				var err error
				if cfg, err = config.LoadConfig(path); err != nil {
					return err
				}
			}
			applyFlags(c, cfg)

			zapLogger, err := logger.New(cfg.Logger.Verbosity, cfg.Logger.Encoding)
			if err != nil {
				return err
			}
			c.App.Metadata["config"] = cfg
			c.App.Metadata["logger"] = zapLogger.Named("cli")

			if !c.Bool("quiet") {
				figure.NewFigure("streamnn", "", true).Print()
			}
			return nil
		},
		After: func(c *cli.Context) error {
			if log, ok := c.App.Metadata["logger"].(*zap.Logger); ok {
				_ = log.Sync()
			}
			return nil
		},
		Action: runAction,
		Commands: []*cli.Command{
			runCommand(),
			devicesCommand(),
			configCommands(),
		},
	}
}

// applyFlags overrides configuration values with the flags given on the
// command line.
func applyFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet("num-samples") {
		cfg.Run.NumSamples = c.Int("num-samples")
	}
	if c.IsSet("iterations") {
		cfg.Run.Iterations = c.Int("iterations")
	}
	if c.IsSet("mm") {
		cfg.Run.Mapped = c.Bool("mm")
	}
	if c.IsSet("split") {
		cfg.Run.Split = c.Bool("split")
	}
	if c.IsSet("benchmark") {
		cfg.Run.Benchmark = c.Bool("benchmark")
	}
	if c.IsSet("data-dir") {
		cfg.Paths.DataDir = c.String("data-dir")
	}
	if c.IsSet("out-dir") {
		cfg.Paths.OutputDir = c.String("out-dir")
	}
	if c.IsSet("metrics-addr") {
		cfg.Metrics.ListenAddress = c.String("metrics-addr")
	}
}

func appConfig(c *cli.Context) *config.Config {
	return c.App.Metadata["config"].(*config.Config)
}

func appLogger(c *cli.Context) *zap.Logger {
	return c.App.Metadata["logger"].(*zap.Logger)
}
