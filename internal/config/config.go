package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/fxnlabs/streamnn/internal/topology"
	"gopkg.in/yaml.v3"
)

// ErrInvalidRun marks run settings the CLI rejects without failing the process.
var ErrInvalidRun = errors.New("invalid run settings")

// ClockSource selects the clock used to turn a cycle count into seconds.
type ClockSource string

const (
	// ClockDesign uses the design frequency reported by the device.
	ClockDesign ClockSource = "design"
	// ClockFixed uses Timing.FixedClockMHz.
	ClockFixed ClockSource = "fixed"
)

type Config struct {
	Logger struct {
		Verbosity string `yaml:"verbosity"`
		Encoding  string `yaml:"encoding"`
	} `yaml:"logger"`
	Paths struct {
		DataDir   string `yaml:"dataDir"`
		OutputDir string `yaml:"outputDir"`
	} `yaml:"paths"`
	Run      Run      `yaml:"run"`
	Topology Topology `yaml:"topology"`
	Units    Units    `yaml:"units"`
	Routing  Routing  `yaml:"routing"`
	Timing   Timing   `yaml:"timing"`
	Runtime  struct {
		Driver string `yaml:"driver"`
		Sim    Sim    `yaml:"sim"`
	} `yaml:"runtime"`
	Metrics struct {
		ListenAddress string `yaml:"listenAddress"`
		Textfile      string `yaml:"textfile"`
	} `yaml:"metrics"`
}

// Run holds the settings of one invocation; CLI flags override them.
type Run struct {
	NumSamples int  `yaml:"numSamples"`
	Iterations int  `yaml:"iterations"`
	Mapped     bool `yaml:"mapped"`
	Split      bool `yaml:"split"`
	Benchmark  bool `yaml:"benchmark"`
	// BenchmarkStart and BenchmarkCeiling bound the doubling sweep.
	BenchmarkStart   int `yaml:"benchmarkStart"`
	BenchmarkCeiling int `yaml:"benchmarkCeiling"`
	ProgressEvery    int `yaml:"progressEvery"`
}

// Topology is the YAML form of topology.Topology.
type Topology struct {
	Layers         []topology.Layer `yaml:"layers"`
	CascadeWidth   int              `yaml:"cascadeWidth"`
	FeatureStreams int              `yaml:"featureStreams"`
	SampleWidth    int              `yaml:"sampleWidth"`
	BatchSize      int              `yaml:"batchSize"`
	SplitLayer     int              `yaml:"splitLayer"`
}

// Units maps every role to the VLNV name of the unit implementing it.
type Units struct {
	WeightStreamer        string `yaml:"weightStreamer"`
	DataStreamer          string `yaml:"dataStreamer"`
	DataStreamerMM        string `yaml:"dataStreamerMM"`
	WeightStreamerPartIn  string `yaml:"weightStreamerPartIn"`
	WeightStreamerPartOut string `yaml:"weightStreamerPartOut"`
	DataStreamerPartIn    string `yaml:"dataStreamerPartIn"`
	DataStreamerPartOut   string `yaml:"dataStreamerPartOut"`
	DataStreamerMMPartIn  string `yaml:"dataStreamerMMPartIn"`
	DataStreamerMMPartOut string `yaml:"dataStreamerMMPartOut"`
	StreamJoin            string `yaml:"streamJoin"`
	StreamSplit           string `yaml:"streamSplit"`
}

// Routing are the fixed arguments of the stream join/split units linking
// the two cards.
type Routing struct {
	Offset    uint64 `yaml:"offset"`
	Dest      uint64 `yaml:"dest"`
	BlockSize uint64 `yaml:"blockSize"`
	Tag       uint64 `yaml:"tag"`
	Timeout   uint64 `yaml:"timeout"`
}

// Timing selects the clock for device side durations per transfer mode.
type Timing struct {
	Mapped        ClockSource `yaml:"mapped"`
	Streaming     ClockSource `yaml:"streaming"`
	FixedClockMHz float64     `yaml:"fixedClockMHz"`
}

// Sim describes the host emulated by the sim driver.
type Sim struct {
	Devices         []SimDevice `yaml:"devices"`
	CyclesPerSample uint64      `yaml:"cyclesPerSample"`
}

// SimDevice describes one emulated card.
type SimDevice struct {
	FrequencyMHz float64  `yaml:"frequencyMHz"`
	Units        []string `yaml:"units"`
	// Busy simulates exclusive access held by another process.
	Busy bool `yaml:"busy"`
}

// Default returns the configuration of the reference bitstreams.
func Default() *Config {
	cfg := &Config{}
	cfg.Logger.Verbosity = "info"
	cfg.Paths.DataDir = "."
	cfg.Paths.OutputDir = "."
	cfg.Run = Run{
		NumSamples:       4096,
		Iterations:       1,
		BenchmarkStart:   32,
		BenchmarkCeiling: 4 * 1024 * 1024,
		ProgressEvery:    50,
	}

	topo := topology.Default()
	cfg.Topology = Topology{
		Layers:         topo.Layers,
		CascadeWidth:   topo.CascadeWidth,
		FeatureStreams: topo.FeatureStreams,
		SampleWidth:    topo.SampleWidth,
		BatchSize:      topo.BatchSize,
		SplitLayer:     topo.SplitLayer,
	}

	const vendor = "esa.informatik.tu-darmstadt.de:user:"
	cfg.Units = Units{
		WeightStreamer:        vendor + "WeightStreamer:1.0",
		DataStreamer:          vendor + "DataStreamer:1.0",
		DataStreamerMM:        vendor + "DataStreamerMM:1.0",
		WeightStreamerPartIn:  vendor + "WeightStreamerPartIn:1.0",
		WeightStreamerPartOut: vendor + "WeightStreamerPartOut:1.0",
		DataStreamerPartIn:    vendor + "DataStreamerPartIn:1.0",
		DataStreamerPartOut:   vendor + "DataStreamerPartOut:1.0",
		DataStreamerMMPartIn:  vendor + "DataStreamerMMPartIn:1.0",
		DataStreamerMMPartOut: vendor + "DataStreamerMMPartOut:1.0",
		StreamJoin:            "tu-darmstadt.de:user:StreamJoin:1.0",
		StreamSplit:           "tu-darmstadt.de:user:StreamSplit:1.0",
	}
	cfg.Routing = Routing{BlockSize: 128, Tag: 0xAAAA, Timeout: 100}
	cfg.Timing = Timing{Mapped: ClockDesign, Streaming: ClockFixed, FixedClockMHz: 250}

	cfg.Runtime.Driver = "sim"
	u := cfg.Units
	cfg.Runtime.Sim = Sim{
		CyclesPerSample: 64,
		Devices: []SimDevice{
			{
				FrequencyMHz: 250,
				Units: []string{
					u.WeightStreamer, u.DataStreamer, u.DataStreamerMM,
					u.WeightStreamerPartIn, u.DataStreamerPartIn, u.DataStreamerMMPartIn, u.StreamJoin,
				},
			},
			{
				FrequencyMHz: 250,
				Units: []string{
					u.WeightStreamerPartOut, u.DataStreamerPartOut, u.DataStreamerMMPartOut, u.StreamSplit,
				},
			},
		},
	}
	return cfg
}

// LoadConfig reads path and overlays it on Default.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse overlays YAML data on Default and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that make a pipeline impossible to build.
func (c *Config) Validate() error {
	if _, err := c.BuildTopology(); err != nil {
		return fmt.Errorf("topology: %w", err)
	}
	for mode, src := range map[string]ClockSource{"mapped": c.Timing.Mapped, "streaming": c.Timing.Streaming} {
		if src != ClockDesign && src != ClockFixed {
			return fmt.Errorf("timing.%s: unknown clock source %q", mode, src)
		}
	}
	if c.Timing.FixedClockMHz <= 0 {
		return fmt.Errorf("timing.fixedClockMHz must be positive, got %v", c.Timing.FixedClockMHz)
	}
	if c.Runtime.Driver == "" {
		return errors.New("runtime.driver is empty")
	}
	return nil
}

// BuildTopology turns the YAML topology into the immutable layout.
func (c *Config) BuildTopology() (topology.Topology, error) {
	t := c.Topology
	return topology.New(t.Layers, t.CascadeWidth, t.FeatureStreams, t.SampleWidth, t.BatchSize, t.SplitLayer)
}

// CheckRun validates the per invocation settings against the batch size.
func (c *Config) CheckRun() error {
	r := c.Run
	if r.NumSamples <= 0 || r.NumSamples%c.Topology.BatchSize != 0 {
		return fmt.Errorf("%w: sample size %d must be a multiple of %d (batch size)", ErrInvalidRun, r.NumSamples, c.Topology.BatchSize)
	}
	if r.Iterations <= 0 {
		return fmt.Errorf("%w: iterations must be at least 1, got %d", ErrInvalidRun, r.Iterations)
	}
	if r.Benchmark && (r.BenchmarkStart <= 0 || r.BenchmarkCeiling < r.BenchmarkStart) {
		return fmt.Errorf("%w: benchmark range [%d,%d] is empty", ErrInvalidRun, r.BenchmarkStart, r.BenchmarkCeiling)
	}
	return nil
}

// MaxSamples is the largest sample count the input buffers must hold.
func (c *Config) MaxSamples() int {
	if c.Run.Benchmark {
		return c.Run.BenchmarkCeiling
	}
	return c.Run.NumSamples
}
