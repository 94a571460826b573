// Package sim is an in-process accelerator runtime. It carries no
// arithmetic model of the network: data streamers answer every sample with
// the mean of its input features, which is enough to trace data through
// single and split pipelines.
package sim

import (
	"fmt"
	"sync"

	"github.com/fxnlabs/streamnn/internal/accel"
	"github.com/fxnlabs/streamnn/internal/config"
	"go.uber.org/zap"
)

// DeviceSpec describes one simulated card.
type DeviceSpec = config.SimDevice

// Config describes the simulated host, as read from runtime.sim.
type Config = config.Sim

// Stage selects where an injected fault fires.
type Stage int

const (
	StageStart Stage = iota
	StageRelease
)

// EventKind classifies a log entry.
type EventKind string

const (
	EventAcquire EventKind = "acquire"
	EventStart   EventKind = "start"
	EventRelease EventKind = "release"
	EventClose   EventKind = "close"
)

// Event is one recorded runtime call.
type Event struct {
	Kind    EventKind
	Device  int
	Unit    string
	Samples uint64
	Params  []accel.Param
}

// Runtime is a simulated accelerator host.
type Runtime struct {
	mu      sync.Mutex
	cfg     Config
	devices []*Device
	events  []Event
	faults  map[faultKey]error
	// link carries per sample results from the input card to the output card.
	link   [][]float32
	logger *zap.Logger
}

type faultKey struct {
	unit  string
	stage Stage
}

// New builds a runtime from cfg.
func New(cfg Config, logger *zap.Logger) (*Runtime, error) {
	if len(cfg.Devices) == 0 {
		return nil, fmt.Errorf("%w: simulated host has no devices", accel.ErrRuntimeInit)
	}
	r := &Runtime{
		cfg:    cfg,
		faults: make(map[faultKey]error),
		logger: logger.Named("sim"),
	}
	for i, spec := range cfg.Devices {
		d := &Device{
			rt:       r,
			id:       i,
			spec:     spec,
			ids:      make(map[string]accel.UnitID),
			acquired: make(map[accel.UnitID]bool),
		}
		for j, name := range spec.Units {
			d.ids[name] = accel.UnitID(j)
		}
		r.devices = append(r.devices, d)
	}
	r.logger.Info("Simulated runtime initialized", zap.Int("devices", len(r.devices)))
	return r, nil
}

// Devices implements accel.Runtime.
func (r *Runtime) Devices() ([]accel.Device, error) {
	out := make([]accel.Device, len(r.devices))
	for i, d := range r.devices {
		out[i] = d
	}
	return out, nil
}

// Close implements accel.Runtime.
func (r *Runtime) Close() error {
	return nil
}

// Events returns a copy of the call log.
func (r *Runtime) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// InjectFault makes the named unit fail at stage with err.
func (r *Runtime) InjectFault(unit string, stage Stage, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.faults[faultKey{unit, stage}] = err
}

func (r *Runtime) record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *Runtime) fault(unit string, stage Stage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.faults[faultKey{unit, stage}]
}

func (r *Runtime) push(v []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.link = append(r.link, v)
}

func (r *Runtime) pop() ([]float32, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.link) == 0 {
		return nil, false
	}
	v := r.link[0]
	r.link = r.link[1:]
	return v, true
}
