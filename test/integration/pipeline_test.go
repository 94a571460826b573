//go:build integration

package integration

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fxnlabs/streamnn/fixtures"
	"github.com/fxnlabs/streamnn/internal/accel"
	"github.com/fxnlabs/streamnn/internal/accel/sim"
	"github.com/fxnlabs/streamnn/internal/config"
	"github.com/fxnlabs/streamnn/internal/logger"
	"github.com/fxnlabs/streamnn/internal/metrics"
	"github.com/fxnlabs/streamnn/internal/pipeline"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func loadConfig(t *testing.T, dataDir, outDir string) *config.Config {
	t.Helper()
	cfg, err := config.Parse(fixtures.ConfigTemplate)
	require.NoError(t, err)
	cfg.Logger.Verbosity = "debug"
	cfg.Paths.DataDir = dataDir
	cfg.Paths.OutputDir = outDir
	cfg.Run.Benchmark = true
	cfg.Run.BenchmarkCeiling = 1024
	cfg.Run.Iterations = 2
	cfg.Metrics.ListenAddress = freeAddr(t)
	cfg.Metrics.Textfile = filepath.Join(outDir, "streamnn.prom")
	return cfg
}

func writeData(t *testing.T, cfg *config.Config) {
	t.Helper()
	fs := afero.NewOsFs()
	topo, err := cfg.BuildTopology()
	require.NoError(t, err)
	require.NoError(t, fixtures.WriteWeightFiles(fs, cfg.Paths.DataDir, topo, fixtures.FullWeights(topo)))
	require.NoError(t, fixtures.WriteInputData(fs, cfg.Paths.DataDir, fixtures.Ramp(topo.SampleElements(256), 0, 0.25)))
	streams := make([][]float32, topo.FeatureStreams)
	for i := range streams {
		streams[i] = fixtures.Ramp(topo.StreamElements(256), float32(i), 0.5)
	}
	require.NoError(t, fixtures.WriteFeatureFiles(fs, cfg.Paths.DataDir, streams))
}

func scrape(t *testing.T, addr string) string {
	t.Helper()
	var resp *http.Response
	var err error
	require.Eventually(t, func() bool {
		resp, err = http.Get(fmt.Sprintf("http://%s/metrics", addr))
		return err == nil
	}, 5*time.Second, 50*time.Millisecond)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestPipeline_EndToEnd(t *testing.T) {
	modes := []struct {
		name   string
		mapped bool
		split  bool
	}{
		{"single streaming", false, false},
		{"single mapped", true, false},
		{"split streaming", false, true},
		{"split mapped", true, true},
	}
	for _, m := range modes {
		t.Run(m.name, func(t *testing.T) {
			cfg := loadConfig(t, t.TempDir(), t.TempDir())
			cfg.Run.Mapped = m.mapped
			cfg.Run.Split = m.split
			writeData(t, cfg)
			require.NoError(t, cfg.CheckRun())

			var runner *pipeline.Runner
			var simRuntime *sim.Runtime
			app := fxtest.New(t,
				fx.Supply(cfg),
				fx.Provide(
					func(cfg *config.Config) (*zap.Logger, error) {
						return logger.New(cfg.Logger.Verbosity, "console")
					},
					func() pipeline.Opener {
						return func(cfg *config.Config, log *zap.Logger) (accel.Runtime, error) {
							rt, err := sim.New(cfg.Runtime.Sim, log)
							simRuntime = rt
							return rt, err
						}
					},
					func() afero.Fs { return afero.NewOsFs() },
				),
				pipeline.Module,
				fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) {
					var srv *metrics.Server
					lc.Append(fx.Hook{
						OnStart: func(context.Context) error {
							srv = metrics.Serve(cfg.Metrics.ListenAddress, log)
							return nil
						},
						OnStop: func(ctx context.Context) error {
							return srv.Shutdown(ctx)
						},
					})
				}),
				fx.Populate(&runner),
			)
			app.RequireStart()

			report, err := runner.Execute()
			require.NoError(t, err)

			// 32..1024 is six sizes, two iterations each
			assert.Len(t, report.Runs, 12)
			require.Len(t, report.Means, 6)
			for _, mean := range report.Means {
				if m.split {
					assert.Equal(t, -1.0, mean.DeviceSeconds)
				} else {
					assert.Greater(t, mean.DeviceSeconds, 0.0)
				}
			}

			out := cfg.Paths.OutputDir
			for n := 32; n <= 1024; n *= 2 {
				data, err := os.ReadFile(filepath.Join(out, fmt.Sprintf("result_%d_samples.txt", n)))
				require.NoError(t, err)
				assert.Equal(t, n/4, strings.Count(string(data), "\n"))
			}
			means, err := os.ReadFile(filepath.Join(out, "time_means.csv"))
			require.NoError(t, err)
			assert.Equal(t, 7, strings.Count(string(means), "\n"))

			body := scrape(t, cfg.Metrics.ListenAddress)
			assert.Contains(t, body, "streamnn_runs_total")
			prom, err := os.ReadFile(cfg.Metrics.Textfile)
			require.NoError(t, err)
			assert.Contains(t, string(prom), "streamnn_weight_bytes")

			app.RequireStop()
			var closed int
			for _, e := range simRuntime.Events() {
				if e.Kind == sim.EventClose {
					closed++
				}
			}
			if m.split {
				assert.Equal(t, 6, closed)
			} else {
				assert.Equal(t, 2, closed)
			}
		})
	}
}
