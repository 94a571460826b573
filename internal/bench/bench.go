// Package bench sweeps sample sizes and iterations through a runner and
// aggregates the timing records.
package bench

import (
	"fmt"

	"github.com/fxnlabs/streamnn/internal/metrics"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
)

// NotApplicable is the device duration of runs without a device clock.
const NotApplicable = -1.0

// RunRecord is the timing of one inference run.
type RunRecord struct {
	Samples       int
	HostSeconds   float64
	DeviceSeconds float64
	Mapped        bool
	Split         bool
}

// Runner executes one inference over n samples.
type Runner interface {
	Run(n int) (RunRecord, []float32, error)
}

// OutputSink receives the output of the last iteration of every sample size.
type OutputSink func(samples int, values []float32) error

// Report holds every raw record in execution order and one mean record per
// sample size in sweep order.
type Report struct {
	Runs  []RunRecord
	Means []RunRecord
}

// SampleSizes returns the sizes to sweep: numSamples alone, or in benchmark
// mode start, 2*start, ... up to and including ceiling.
func SampleSizes(benchmark bool, numSamples, ceiling, start int) []int {
	if !benchmark {
		return []int{numSamples}
	}
	var sizes []int
	for s := start; s > 0 && s <= ceiling; s *= 2 {
		sizes = append(sizes, s)
	}
	return sizes
}

// Driver runs the sweep.
type Driver struct {
	runner        Runner
	iterations    int
	progressEvery int
	sink          OutputSink
	logger        *zap.Logger
}

// NewDriver creates a driver running every size iterations times. A nil sink
// discards the outputs; progressEvery <= 0 disables progress logging.
func NewDriver(runner Runner, iterations, progressEvery int, sink OutputSink, logger *zap.Logger) *Driver {
	return &Driver{
		runner:        runner,
		iterations:    iterations,
		progressEvery: progressEvery,
		sink:          sink,
		logger:        logger.Named("bench"),
	}
}

// Run sweeps sizes and stops at the first failing run.
func (d *Driver) Run(sizes []int) (*Report, error) {
	if d.iterations <= 0 {
		return nil, fmt.Errorf("iterations must be at least 1, got %d", d.iterations)
	}
	report := &Report{}
	for _, n := range sizes {
		d.logger.Info("Perform runs", zap.Int("samples", n), zap.Int("iterations", d.iterations))
		for it := 0; it < d.iterations; it++ {
			if d.progressEvery > 0 && it%d.progressEvery == 0 {
				d.logger.Info("Progress", zap.Int("samples", n), zap.Int("iteration", it))
			}
			rec, out, err := d.runner.Run(n)
			if err != nil {
				return report, fmt.Errorf("run %d with %d samples: %w", it, n, err)
			}
			report.Runs = append(report.Runs, rec)
			metrics.ObserveRun(rec.Samples, rec.HostSeconds, rec.DeviceSeconds, rec.Mapped, rec.Split)

			if it == d.iterations-1 && d.sink != nil {
				if err := d.sink(n, out); err != nil {
					return report, err
				}
			}
		}
	}
	report.Means = Means(report.Runs, sizes)
	return report, nil
}

// Means averages host and device durations per sample size. Sizes without
// records are skipped.
func Means(runs []RunRecord, sizes []int) []RunRecord {
	var means []RunRecord
	for _, n := range sizes {
		var host, device []float64
		var first RunRecord
		for _, r := range runs {
			if r.Samples != n {
				continue
			}
			if host == nil {
				first = r
			}
			host = append(host, r.HostSeconds)
			device = append(device, r.DeviceSeconds)
		}
		if host == nil {
			continue
		}
		means = append(means, RunRecord{
			Samples:       n,
			HostSeconds:   stat.Mean(host, nil),
			DeviceSeconds: stat.Mean(device, nil),
			Mapped:        first.Mapped,
			Split:         first.Split,
		})
	}
	return means
}

// LogSummary logs every raw record.
func (r *Report) LogSummary(logger *zap.Logger) {
	for _, rec := range r.Runs {
		logger.Info("Run",
			zap.Int("samples", rec.Samples),
			zap.Float64("runtimeHost", rec.HostSeconds),
			zap.Float64("runtimeDevice", rec.DeviceSeconds),
			zap.Bool("mm", rec.Mapped),
			zap.Bool("split", rec.Split),
		)
	}
}
