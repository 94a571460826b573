// Package pipeline wires the components of one inference run together with
// fx: data loading, unit binding, the coordinator, the benchmark driver and
// the result writer.
package pipeline

import (
	"context"

	"github.com/fxnlabs/streamnn/internal/accel"
	"github.com/fxnlabs/streamnn/internal/bench"
	"github.com/fxnlabs/streamnn/internal/config"
	"github.com/fxnlabs/streamnn/internal/coordinator"
	"github.com/fxnlabs/streamnn/internal/metrics"
	"github.com/fxnlabs/streamnn/internal/registry"
	"github.com/fxnlabs/streamnn/internal/results"
	"github.com/fxnlabs/streamnn/internal/samples"
	"github.com/fxnlabs/streamnn/internal/topology"
	"github.com/fxnlabs/streamnn/internal/weights"
	"github.com/spf13/afero"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Opener opens the accelerator runtime selected by the configuration.
type Opener func(cfg *config.Config, log *zap.Logger) (accel.Runtime, error)

// Module provides a *Runner. It needs a *config.Config, an Opener, an
// afero.Fs and a *zap.Logger from the enclosing application.
var Module = fx.Module("pipeline",
	fx.Provide(
		NewTopology,
		LoadWeights,
		LoadInputs,
		OpenRuntime,
		Bind,
		NewCoordinator,
		NewWriter,
		NewRunner,
	),
)

// NewTopology builds the engine layout from the configuration.
func NewTopology(cfg *config.Config) (topology.Topology, error) {
	return cfg.BuildTopology()
}

// LoadWeights reads the weight files of every engine.
func LoadWeights(fs afero.Fs, cfg *config.Config, topo topology.Topology, log *zap.Logger) (*weights.Partition, error) {
	return weights.Load(fs, cfg.Paths.DataDir, topo, log.Named("weights"))
}

// LoadInputs reads and replicates the feature data for the largest sample
// count of the run.
func LoadInputs(fs afero.Fs, cfg *config.Config, topo topology.Topology, log *zap.Logger) (*samples.Inputs, error) {
	return samples.Load(fs, cfg.Paths.DataDir, topo, cfg.MaxSamples(), cfg.Run.Mapped, log.Named("samples"))
}

// OpenRuntime opens the accelerator runtime once weights and inputs are
// loaded, so a bad data file fails the run before the driver is touched.
// The runtime is closed when the application stops.
func OpenRuntime(lc fx.Lifecycle, open Opener, _ *weights.Partition, _ *samples.Inputs, cfg *config.Config, log *zap.Logger) (accel.Runtime, error) {
	rt, err := open(cfg, log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return rt.Close()
		},
	})
	return rt, nil
}

// Bind acquires the compute units of the configured layout.
func Bind(cfg *config.Config, rt accel.Runtime, log *zap.Logger) (*registry.Bindings, error) {
	b, err := registry.New(cfg.Units, cfg.Run.Mapped, cfg.Run.Split, log).Bind(rt)
	if err != nil {
		// the app never starts, so the stop hook will not run
		_ = rt.Close()
		return nil, err
	}
	return b, nil
}

// NewCoordinator returns a coordinator whose units are handed back when the
// application stops.
func NewCoordinator(lc fx.Lifecycle, b *registry.Bindings, rt accel.Runtime, inputs *samples.Inputs, cfg *config.Config, topo topology.Topology, log *zap.Logger) (*coordinator.Coordinator, error) {
	c, err := coordinator.New(b, inputs, coordinator.Options{
		Mapped:   cfg.Run.Mapped,
		Split:    cfg.Run.Split,
		Timing:   cfg.Timing,
		Routing:  cfg.Routing,
		Topology: topo,
	}, log)
	if err != nil {
		_ = b.Close()
		_ = rt.Close()
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return c.Close()
		},
	})
	return c, nil
}

// NewWriter returns a writer for the configured output directory.
func NewWriter(fs afero.Fs, cfg *config.Config) (*results.Writer, error) {
	return results.NewWriter(fs, cfg.Paths.OutputDir)
}

// Runner executes the configured sweep.
type Runner struct {
	cfg     *config.Config
	coord   *coordinator.Coordinator
	weights *weights.Partition
	writer  *results.Writer
	logger  *zap.Logger
}

// NewRunner assembles a runner.
func NewRunner(cfg *config.Config, coord *coordinator.Coordinator, p *weights.Partition, w *results.Writer, log *zap.Logger) *Runner {
	return &Runner{cfg: cfg, coord: coord, weights: p, writer: w, logger: log.Named("pipeline")}
}

// Execute uploads the weights, sweeps every sample size and writes the
// result files.
func (r *Runner) Execute() (*bench.Report, error) {
	if err := r.coord.Prepare(r.weights); err != nil {
		return nil, err
	}

	run := r.cfg.Run
	sizes := bench.SampleSizes(run.Benchmark, run.NumSamples, run.BenchmarkCeiling, run.BenchmarkStart)
	driver := bench.NewDriver(r.coord, run.Iterations, run.ProgressEvery, r.writeOutput, r.logger)
	report, err := driver.Run(sizes)
	if err != nil {
		return nil, err
	}
	report.LogSummary(r.logger)

	if err := r.writer.WriteTimes(results.TimesFile, report.Runs); err != nil {
		return nil, err
	}
	if err := r.writer.WriteTimes(results.MeansFile, report.Means); err != nil {
		return nil, err
	}
	if path := r.cfg.Metrics.Textfile; path != "" {
		if err := metrics.WriteTextfile(path); err != nil {
			return nil, err
		}
		r.logger.Info("Metrics written", zap.String("file", path))
	}
	return report, nil
}

func (r *Runner) writeOutput(n int, values []float32) error {
	r.logger.Info("Write data to file", zap.String("file", results.OutputFile(n)))
	return r.writer.WriteOutput(n, values)
}
