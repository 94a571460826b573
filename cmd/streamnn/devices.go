package main

import (
	"github.com/fxnlabs/streamnn/internal/registry"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func devicesCommand() *cli.Command {
	return &cli.Command{
		Name:  "devices",
		Usage: "List accelerator cards and the configured units they carry",
		Action: func(c *cli.Context) error {
			cfg := appConfig(c)
			log := appLogger(c)

			rt, err := openRuntime(cfg, log)
			if err != nil {
				return err
			}
			defer rt.Close()

			reports, err := registry.Inventory(rt, cfg.Units)
			if err != nil {
				return err
			}
			for _, r := range reports {
				log.Info("Device",
					zap.Int("id", r.ID),
					zap.Bool("busy", r.Busy),
					zap.Float64("designFrequencyMHz", r.FrequencyMHz),
					zap.Strings("units", r.Units),
					zap.Error(r.Err),
				)
			}
			return nil
		},
	}
}
