package main

import (
	"fmt"

	"github.com/fxnlabs/streamnn/fixtures"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func configCommands() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Manage the configuration file",
		Subcommands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Write a commented configuration template",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Value:   "config.yaml",
						Usage:   "Where to write the template",
					},
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Overwrite an existing file",
					},
				},
				Action: func(c *cli.Context) error {
					return writeTemplate(afero.NewOsFs(), c.String("output"), c.Bool("force"), appLogger(c))
				},
			},
		},
	}
}

func writeTemplate(fs afero.Fs, path string, force bool, log *zap.Logger) error {
	exists, err := afero.Exists(fs, path)
	if err != nil {
		return err
	}
	if exists && !force {
		return fmt.Errorf("%s already exists, use --force to overwrite", path)
	}
	if err := afero.WriteFile(fs, path, fixtures.ConfigTemplate, 0o644); err != nil {
		return err
	}
	log.Info("Configuration written", zap.String("file", path))
	return nil
}
