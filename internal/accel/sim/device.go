package sim

import (
	"fmt"
	"sync"

	"github.com/fxnlabs/streamnn/internal/accel"
	"github.com/fxnlabs/streamnn/internal/buffer"
	"go.uber.org/zap"
)

// Device is a simulated card.
type Device struct {
	rt   *Runtime
	id   int
	spec DeviceSpec

	mu        sync.Mutex
	exclusive bool
	ids       map[string]accel.UnitID
	acquired  map[accel.UnitID]bool
}

// ID implements accel.Device.
func (d *Device) ID() int { return d.id }

// SetExclusive implements accel.Device.
func (d *Device) SetExclusive() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.spec.Busy {
		return fmt.Errorf("%w: device %d is held by another process", accel.ErrDeviceBusy, d.id)
	}
	d.exclusive = true
	return nil
}

// UnitID implements accel.Device.
func (d *Device) UnitID(name string) (accel.UnitID, error) {
	id, ok := d.ids[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s on device %d", accel.ErrUnitNotFound, name, d.id)
	}
	return id, nil
}

// Acquire implements accel.Device.
func (d *Device) Acquire(id accel.UnitID) (accel.Unit, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.exclusive {
		return nil, fmt.Errorf("%w: device %d not opened for exclusive access", accel.ErrDeviceAccess, d.id)
	}
	if int(id) < 0 || int(id) >= len(d.spec.Units) {
		return nil, fmt.Errorf("%w: unit id %d on device %d", accel.ErrUnitNotFound, id, d.id)
	}
	if d.acquired[id] {
		return nil, fmt.Errorf("%w: unit %d on device %d already acquired", accel.ErrDeviceAccess, id, d.id)
	}
	d.acquired[id] = true
	u := &Unit{dev: d, id: id, name: d.spec.Units[id]}
	d.rt.record(Event{Kind: EventAcquire, Device: d.id, Unit: u.name})
	return u, nil
}

// DefaultMemory implements accel.Device.
func (d *Device) DefaultMemory() (accel.Memory, error) {
	return accel.Memory{DeviceID: d.id}, nil
}

// DesignFrequencyMHz implements accel.Device.
func (d *Device) DesignFrequencyMHz() (float64, error) {
	if d.spec.FrequencyMHz <= 0 {
		return 0, fmt.Errorf("%w: device %d reports no design frequency", accel.ErrDeviceAccess, d.id)
	}
	return d.spec.FrequencyMHz, nil
}

func (d *Device) release(id accel.UnitID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.acquired, id)
}

// Unit is an acquired simulated compute unit.
type Unit struct {
	dev  *Device
	id   accel.UnitID
	name string

	running bool
	closed  bool
	params  []accel.Param
}

// Name implements accel.Unit.
func (u *Unit) Name() string { return u.name }

// DeviceID implements accel.Unit.
func (u *Unit) DeviceID() int { return u.dev.id }

// Start implements accel.Unit.
func (u *Unit) Start(params []accel.Param) error {
	if err := u.dev.rt.fault(u.name, StageStart); err != nil {
		return fmt.Errorf("%w: start %s: %v", accel.ErrJobExecution, u.name, err)
	}
	if u.closed {
		return fmt.Errorf("%w: start %s: unit closed", accel.ErrJobExecution, u.name)
	}
	if u.running {
		return fmt.Errorf("%w: start %s: job already running", accel.ErrJobExecution, u.name)
	}
	if err := accel.ValidateParams(params); err != nil {
		return fmt.Errorf("%w: start %s: %v", accel.ErrJobExecution, u.name, err)
	}
	u.params = params
	u.running = true
	u.dev.rt.record(Event{Kind: EventStart, Device: u.dev.id, Unit: u.name, Samples: samples(params), Params: params})
	return nil
}

// Release implements accel.Unit.
func (u *Unit) Release(returnValue, collect bool) (accel.Result, error) {
	if err := u.dev.rt.fault(u.name, StageRelease); err != nil {
		return accel.Result{}, fmt.Errorf("%w: release %s: %v", accel.ErrJobExecution, u.name, err)
	}
	if !u.running {
		return accel.Result{}, fmt.Errorf("%w: release %s: no job running", accel.ErrJobExecution, u.name)
	}
	params := u.params
	u.running = false
	u.params = nil

	n := samples(params)
	means, err := sampleMeans(params, n)
	if err != nil {
		return accel.Result{}, fmt.Errorf("%w: release %s: %v", accel.ErrJobExecution, u.name, err)
	}

	var outputs []int
	for i, p := range params {
		if accel.ToHost(p) {
			outputs = append(outputs, i)
		}
	}

	var res accel.Result
	switch {
	case len(outputs) > 0:
		if means == nil {
			var ok bool
			if means, ok = u.dev.rt.pop(); !ok {
				return accel.Result{}, fmt.Errorf("%w: release %s: no data arrived on the inter-device link", accel.ErrJobExecution, u.name)
			}
		}
		if collect {
			for _, i := range outputs {
				res.Buffers = append(res.Buffers, fill(accel.Payload(params[i]), means))
			}
		}
	case means != nil:
		u.dev.rt.push(means)
	}
	if returnValue {
		res.Status = n * u.dev.rt.cfg.CyclesPerSample
	}
	u.dev.rt.record(Event{Kind: EventRelease, Device: u.dev.id, Unit: u.name, Samples: n})
	u.dev.rt.logger.Debug("Job released", zap.String("unit", u.name), zap.Uint64("samples", n), zap.Uint64("status", res.Status))
	return res, nil
}

// Close implements accel.Unit.
func (u *Unit) Close() error {
	if u.closed {
		return nil
	}
	u.closed = true
	u.running = false
	u.dev.release(u.id)
	u.dev.rt.record(Event{Kind: EventClose, Device: u.dev.id, Unit: u.name})
	return nil
}

func samples(params []accel.Param) uint64 {
	for _, p := range params {
		if s, ok := p.(accel.Single64); ok {
			return uint64(s)
		}
	}
	return 0
}

// sampleMeans averages the features of every sample over all host to card
// data transfers. Weight uploads (local transfers) carry no samples.
func sampleMeans(params []accel.Param, n uint64) ([]float32, error) {
	if n == 0 {
		return nil, nil
	}
	sums := make([]float64, n)
	count := 0
	for _, p := range params {
		if _, local := p.(accel.Local); local || !accel.ToCard(p) {
			continue
		}
		vals, err := buffer.Float32s(accel.Payload(p))
		if err != nil {
			return nil, err
		}
		chunk := len(vals) / int(n)
		for i := 0; i < int(n); i++ {
			for _, v := range vals[i*chunk : (i+1)*chunk] {
				sums[i] += float64(v)
			}
		}
		count += chunk
	}
	if count == 0 {
		return nil, nil
	}
	out := make([]float32, n)
	for i, s := range sums {
		out[i] = float32(s / float64(count))
	}
	return out, nil
}

// fill returns a copy of dst sized buffer holding values, zero padded.
func fill(dst []byte, values []float32) []byte {
	out := buffer.Make[float32](len(dst) / buffer.ElementSize[float32]())
	if len(values) > out.Len() {
		values = values[:out.Len()]
	}
	_ = out.Put(0, values)
	return out.Bytes()
}
