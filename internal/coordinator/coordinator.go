// Package coordinator drives the bound compute units: it uploads weights,
// links the two cards in split mode and runs one inference job per call.
package coordinator

import (
	"errors"
	"fmt"
	"time"

	"github.com/fxnlabs/streamnn/internal/accel"
	"github.com/fxnlabs/streamnn/internal/bench"
	"github.com/fxnlabs/streamnn/internal/buffer"
	"github.com/fxnlabs/streamnn/internal/config"
	"github.com/fxnlabs/streamnn/internal/metrics"
	"github.com/fxnlabs/streamnn/internal/registry"
	"github.com/fxnlabs/streamnn/internal/samples"
	"github.com/fxnlabs/streamnn/internal/topology"
	"github.com/fxnlabs/streamnn/internal/weights"
	"go.uber.org/zap"
)

// Options are the fixed settings of one pipeline.
type Options struct {
	Mapped   bool
	Split    bool
	Timing   config.Timing
	Routing  config.Routing
	Topology topology.Topology
}

// Coordinator runs jobs on a complete set of bindings.
type Coordinator struct {
	b        *registry.Bindings
	inputs   *samples.Inputs
	opts     Options
	logger   *zap.Logger
	prepared bool
}

// New returns a coordinator owning b. The transfer mode and layout of opts
// must match the ones b was bound for.
func New(b *registry.Bindings, inputs *samples.Inputs, opts Options, logger *zap.Logger) (*Coordinator, error) {
	if b == nil {
		return nil, errors.New("coordinator: no bindings")
	}
	if b.Split != opts.Split || b.Mapped != opts.Mapped {
		return nil, fmt.Errorf("coordinator: bindings (split=%t, mapped=%t) do not match options (split=%t, mapped=%t)",
			b.Split, b.Mapped, opts.Split, opts.Mapped)
	}
	want := 1
	if opts.Mapped {
		want = opts.Topology.FeatureStreams
	}
	if inputs == nil || len(inputs.Streams) != want {
		return nil, fmt.Errorf("coordinator: expected %d input streams", want)
	}
	return &Coordinator{
		b:      b,
		inputs: inputs,
		opts:   opts,
		logger: logger.Named("coordinator"),
	}, nil
}

// Prepare uploads the weights and, in split mode, links the cards. It must
// succeed before the first Run.
func (c *Coordinator) Prepare(p *weights.Partition) error {
	if !c.opts.Split {
		c.logger.Info("Write weights into local memory of WeightStreamer")
		if err := c.uploadWeights(c.b.Primary.Weights, p); err != nil {
			return err
		}
		c.prepared = true
		return nil
	}

	in, out, err := p.Split(c.opts.Topology)
	if err != nil {
		return err
	}
	c.logger.Info("Write weights into local memory of WeightStreamerPartIn", zap.Int("engines", in.Len()))
	if err := c.uploadWeights(c.b.In.Weights, in); err != nil {
		return err
	}
	c.logger.Info("Write weights into local memory of WeightStreamerPartOut", zap.Int("engines", out.Len()))
	if err := c.uploadWeights(c.b.Out.Weights, out); err != nil {
		return err
	}

	r := c.opts.Routing
	join := []accel.Param{
		accel.Single64(r.Offset), accel.Single64(r.Dest), accel.Single64(r.BlockSize),
		accel.Single64(r.Tag), accel.Single64(r.Timeout),
	}
	if err := start(c.b.Join, join); err != nil {
		return err
	}
	if _, err := release(c.b.Join, true, false); err != nil {
		return err
	}
	// The split unit forwards for the rest of the process and is never released.
	split := []accel.Param{
		accel.Single64(r.Offset), accel.Single64(r.Dest), accel.Single64(r.BlockSize), accel.Single64(r.Tag),
	}
	if err := start(c.b.Splitter, split); err != nil {
		return err
	}
	c.logger.Debug("Cards linked", zap.Uint64("tag", r.Tag), zap.Uint64("blockSize", r.BlockSize))
	c.prepared = true
	return nil
}

func (c *Coordinator) uploadWeights(u accel.Unit, p *weights.Partition) error {
	packed, err := p.Pack()
	if err != nil {
		return err
	}
	if err := start(u, []accel.Param{accel.Local{Data: packed, Free: true}}); err != nil {
		return err
	}
	if _, err := release(u, true, false); err != nil {
		return err
	}
	metrics.WeightBytes.WithLabelValues(u.Name()).Set(float64(len(packed)))
	return nil
}

// Run executes one inference over the first n samples and returns its
// record together with the n output values.
func (c *Coordinator) Run(n int) (bench.RunRecord, []float32, error) {
	if !c.prepared {
		return bench.RunRecord{}, nil, errors.New("coordinator: weights not loaded")
	}
	if n <= 0 {
		return bench.RunRecord{}, nil, fmt.Errorf("coordinator: sample count must be positive, got %d", n)
	}
	if c.opts.Split {
		return c.runSplit(n)
	}
	return c.runSingle(n)
}

func (c *Coordinator) runSingle(n int) (bench.RunRecord, []float32, error) {
	side := c.b.Primary
	in, err := c.inputTransfers(n, side.Memory)
	if err != nil {
		return bench.RunRecord{}, nil, err
	}
	params := []accel.Param{accel.Single64(n)}
	if c.opts.Mapped {
		params = append(params, in...)
		params = append(params, c.outputTransfer(n, side.Memory))
	} else {
		// streaming jobs take the result channel first
		params = append(params, c.outputTransfer(n, side.Memory))
		params = append(params, in...)
	}

	c.logger.Debug("Launch PE", zap.String("unit", side.Data.Name()), zap.Int("samples", n))
	begin := time.Now()
	if err := start(side.Data, params); err != nil {
		return bench.RunRecord{}, nil, err
	}
	res, err := release(side.Data, true, true)
	if err != nil {
		return bench.RunRecord{}, nil, err
	}
	host := time.Since(begin).Seconds()

	device := c.deviceSeconds(res.Status, side.FrequencyMHz)
	c.logger.Debug("PE finished", zap.Float64("runtimeHost", host), zap.Float64("runtimeDevice", device))

	out, err := output(side.Data, res)
	if err != nil {
		return bench.RunRecord{}, nil, err
	}
	return bench.RunRecord{
		Samples:       n,
		HostSeconds:   host,
		DeviceSeconds: device,
		Mapped:        c.opts.Mapped,
		Split:         false,
	}, out, nil
}

func (c *Coordinator) runSplit(n int) (bench.RunRecord, []float32, error) {
	inParams := []accel.Param{accel.Single64(n)}
	in, err := c.inputTransfers(n, c.b.In.Memory)
	if err != nil {
		return bench.RunRecord{}, nil, err
	}
	inParams = append(inParams, in...)
	outParams := []accel.Param{accel.Single64(n), c.outputTransfer(n, c.b.Out.Memory)}

	c.logger.Debug("Launch PEs", zap.Int("samples", n))
	begin := time.Now()
	// The receiving side must be listening before data leaves the first card.
	if err := start(c.b.Out.Data, outParams); err != nil {
		return bench.RunRecord{}, nil, err
	}
	if err := start(c.b.In.Data, inParams); err != nil {
		return bench.RunRecord{}, nil, err
	}
	if _, err := release(c.b.In.Data, false, true); err != nil {
		return bench.RunRecord{}, nil, err
	}
	res, err := release(c.b.Out.Data, false, true)
	if err != nil {
		return bench.RunRecord{}, nil, err
	}
	host := time.Since(begin).Seconds()
	c.logger.Debug("PEs finished", zap.Float64("runtimeHost", host))

	out, err := output(c.b.Out.Data, res)
	if err != nil {
		return bench.RunRecord{}, nil, err
	}
	return bench.RunRecord{
		Samples:       n,
		HostSeconds:   host,
		DeviceSeconds: bench.NotApplicable,
		Mapped:        c.opts.Mapped,
		Split:         true,
	}, out, nil
}

// inputTransfers copies the first n samples of every input stream into fresh
// host buffers, one descriptor per stream.
func (c *Coordinator) inputTransfers(n int, mem accel.Memory) ([]accel.Param, error) {
	elems := c.opts.Topology.SampleElements(n)
	if c.opts.Mapped {
		elems = c.opts.Topology.StreamElements(n)
	}
	params := make([]accel.Param, 0, len(c.inputs.Streams))
	for i := range c.inputs.Streams {
		data, err := c.inputs.Prefix(i, elems)
		if err != nil {
			return nil, fmt.Errorf("input stream %d holds fewer than %d samples: %w", i, n, err)
		}
		if c.opts.Mapped {
			params = append(params, accel.Alloc{Data: data, ToDevice: true, Free: true, Memory: mem})
		} else {
			params = append(params, accel.Stream{Data: data, Memory: mem})
		}
	}
	return params, nil
}

func (c *Coordinator) outputTransfer(n int, mem accel.Memory) accel.Param {
	data := buffer.Make[float32](n).Bytes()
	if c.opts.Mapped {
		return accel.Alloc{Data: data, FromDevice: true, Free: true, Memory: mem}
	}
	return accel.Stream{Data: data, C2H: true, Memory: mem}
}

// deviceSeconds converts a cycle count with the clock configured for the
// transfer mode. A missing design frequency falls back to the fixed clock.
func (c *Coordinator) deviceSeconds(cycles uint64, designMHz float64) float64 {
	src := c.opts.Timing.Streaming
	if c.opts.Mapped {
		src = c.opts.Timing.Mapped
	}
	mhz := c.opts.Timing.FixedClockMHz
	if src == config.ClockDesign {
		if designMHz > 0 {
			mhz = designMHz
		} else {
			c.logger.Warn("No design frequency, using fixed clock", zap.Float64("clockMHz", mhz))
		}
	}
	return float64(cycles) / (mhz * 1e6)
}

// Close hands all units back to their devices.
func (c *Coordinator) Close() error {
	return c.b.Close()
}

func output(u accel.Unit, res accel.Result) ([]float32, error) {
	if len(res.Buffers) == 0 {
		return nil, fmt.Errorf("%w: %s returned no result buffer", accel.ErrJobExecution, u.Name())
	}
	return buffer.Float32s(res.Buffers[0])
}

func start(u accel.Unit, params []accel.Param) error {
	if err := u.Start(params); err != nil {
		return jobError("start", u, err)
	}
	return nil
}

func release(u accel.Unit, returnValue, collect bool) (accel.Result, error) {
	res, err := u.Release(returnValue, collect)
	if err != nil {
		return accel.Result{}, jobError("release", u, err)
	}
	return res, nil
}

func jobError(op string, u accel.Unit, err error) error {
	if errors.Is(err, accel.ErrJobExecution) {
		return err
	}
	return fmt.Errorf("%w: %s %s: %v", accel.ErrJobExecution, op, u.Name(), err)
}
