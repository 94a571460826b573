package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EndpointResponses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamnn_endpoint_responses_total",
		Help: "The total number of metrics endpoint responses",
	}, []string{"endpoint", "status_code"})

	// Inference run metrics
	RunHostSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "streamnn_run_host_seconds",
		Help:    "Host side duration of one inference run in seconds",
		Buckets: prometheus.ExponentialBuckets(1e-5, 2, 22), // 10us to ~21s
	}, []string{"mode", "layout"})

	RunDeviceSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "streamnn_run_device_seconds",
		Help:    "Device side duration of one single card inference run in seconds",
		Buckets: prometheus.ExponentialBuckets(1e-5, 2, 22),
	}, []string{"mode"})

	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamnn_runs_total",
		Help: "Total number of inference runs",
	}, []string{"mode", "layout"})

	RunSampleSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "streamnn_run_sample_size",
		Help: "Sample count of the last inference run",
	})

	// Model metrics
	WeightBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "streamnn_weight_bytes",
		Help: "Size of the packed weight block uploaded to each weight streamer",
	}, []string{"unit"})
)

// Mode labels a transfer mode.
func Mode(mapped bool) string {
	if mapped {
		return "mapped"
	}
	return "streaming"
}

// Layout labels a device layout.
func Layout(split bool) string {
	if split {
		return "split"
	}
	return "single"
}

// WriteTextfile dumps the default registry in the node exporter textfile format.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}

// ObserveRun records one inference run. Negative device durations mark runs
// without a device clock and are not observed.
func ObserveRun(samples int, hostSeconds, deviceSeconds float64, mapped, split bool) {
	mode, layout := Mode(mapped), Layout(split)
	RunsTotal.WithLabelValues(mode, layout).Inc()
	RunHostSeconds.WithLabelValues(mode, layout).Observe(hostSeconds)
	if deviceSeconds >= 0 {
		RunDeviceSeconds.WithLabelValues(mode).Observe(deviceSeconds)
	}
	RunSampleSize.Set(float64(samples))
}
