package main

import (
	"fmt"

	"github.com/fxnlabs/streamnn/internal/accel"
	"github.com/fxnlabs/streamnn/internal/accel/sim"
	"github.com/fxnlabs/streamnn/internal/config"
	"go.uber.org/zap"
)

// openRuntime opens the accelerator driver named in the configuration.
func openRuntime(cfg *config.Config, log *zap.Logger) (accel.Runtime, error) {
	switch cfg.Runtime.Driver {
	case "sim":
		return sim.New(cfg.Runtime.Sim, log)
	default:
		return nil, fmt.Errorf("%w: unknown runtime driver %q", accel.ErrRuntimeInit, cfg.Runtime.Driver)
	}
}
