package registry

import (
	"errors"
	"fmt"

	"github.com/fxnlabs/streamnn/internal/accel"
	"github.com/fxnlabs/streamnn/internal/config"
	"go.uber.org/zap"
)

// Side is the set of units bound on one device.
type Side struct {
	Device  accel.Device
	Weights accel.Unit
	Data    accel.Unit
	Memory  accel.Memory
	// FrequencyMHz is zero when the device reports no design frequency.
	FrequencyMHz float64
}

// Bindings is a complete, validated role assignment. Single device runs
// use Primary; split runs use In, Out and the Join/Split units.
type Bindings struct {
	Split    bool
	Mapped   bool
	Primary  Side
	In       Side
	Out      Side
	Join     accel.Unit
	Splitter accel.Unit
}

// Units returns every bound unit.
func (b *Bindings) Units() []accel.Unit {
	var out []accel.Unit
	for _, u := range []accel.Unit{
		b.Primary.Weights, b.Primary.Data,
		b.In.Weights, b.In.Data, b.Join,
		b.Out.Weights, b.Out.Data, b.Splitter,
	} {
		if u != nil {
			out = append(out, u)
		}
	}
	return out
}

// Close hands every unit back to its device.
func (b *Bindings) Close() error {
	var errs []error
	for _, u := range b.Units() {
		errs = append(errs, u.Close())
	}
	return errors.Join(errs...)
}

// Registry binds the roles of one pipeline layout to physical units.
type Registry struct {
	catalog Catalog
	mapped  bool
	split   bool
	logger  *zap.Logger
}

// New creates a registry for the given transfer mode and layout.
func New(units config.Units, mapped, split bool, logger *zap.Logger) *Registry {
	return &Registry{
		catalog: NewCatalog(units, mapped),
		mapped:  mapped,
		split:   split,
		logger:  logger.Named("registry"),
	}
}

type groupBinding struct {
	device accel.Device
	units  map[Role]accel.Unit
	memory accel.Memory
	freq   float64
}

// Bind scans the devices of rt left to right. A group of roles is bound on
// the first device carrying its anchor unit and is never revisited. Busy
// devices and devices failing a query are skipped. When any role stays
// unbound every acquired unit is returned and a *MissingComputeUnitError
// listing all unmet roles is reported.
func (r *Registry) Bind(rt accel.Runtime) (*Bindings, error) {
	devices, err := rt.Devices()
	if err != nil {
		return nil, fmt.Errorf("%w: enumerate devices: %v", accel.ErrRuntimeInit, err)
	}

	groups := groupsFor(r.split)
	bound := make(map[Role]*groupBinding)
	var deviceErrs []error

	for _, dev := range devices {
		if len(bound) == len(groups) {
			break
		}
		log := r.logger.With(zap.Int("device", dev.ID()))
		if err := dev.SetExclusive(); err != nil {
			log.Warn("Could not get exclusive access, trying next device", zap.Error(err))
			deviceErrs = append(deviceErrs, err)
			continue
		}
		for _, g := range groups {
			if bound[g.anchor] != nil {
				continue
			}
			gb, err := r.bindGroup(dev, g, log)
			if err != nil {
				log.Warn("Could not bind units, trying next device", zap.String("role", string(g.anchor)), zap.Error(err))
				deviceErrs = append(deviceErrs, err)
				continue
			}
			if gb != nil {
				bound[g.anchor] = gb
			}
		}
	}

	units := make(map[Role]accel.Unit)
	for _, gb := range bound {
		for role, u := range gb.units {
			units[role] = u
		}
	}

	missing := &MissingComputeUnitError{cause: errors.Join(deviceErrs...)}
	for _, role := range checkOrder(r.split) {
		if units[role] == nil {
			missing.Roles = append(missing.Roles, role)
			missing.Names = append(missing.Names, r.catalog[role])
		}
	}
	if len(missing.Roles) > 0 {
		for _, u := range units {
			_ = u.Close()
		}
		r.logger.Error("Could not detect required compute units", zap.Error(missing))
		return nil, missing
	}

	b := &Bindings{Split: r.split, Mapped: r.mapped}
	if !r.split {
		b.Primary = side(bound[RoleWeightStreamer], RoleWeightStreamer, RoleDataStreamer)
	} else {
		in := bound[RoleWeightStreamerPartIn]
		out := bound[RoleWeightStreamerPartOut]
		b.In = side(in, RoleWeightStreamerPartIn, RoleDataStreamerPartIn)
		b.Out = side(out, RoleWeightStreamerPartOut, RoleDataStreamerPartOut)
		b.Join = in.units[RoleStreamJoin]
		b.Splitter = out.units[RoleStreamSplit]
	}
	for _, u := range b.Units() {
		r.logger.Debug("Bound compute unit", zap.String("unit", u.Name()), zap.Int("device", u.DeviceID()))
	}
	return b, nil
}

func side(gb *groupBinding, weights, data Role) Side {
	return Side{
		Device:       gb.device,
		Weights:      gb.units[weights],
		Data:         gb.units[data],
		Memory:       gb.memory,
		FrequencyMHz: gb.freq,
	}
}

// bindGroup returns nil without error when dev cannot host the group.
func (r *Registry) bindGroup(dev accel.Device, g group, log *zap.Logger) (*groupBinding, error) {
	ids := make(map[Role]accel.UnitID)
	for _, role := range g.roles() {
		id, err := dev.UnitID(r.catalog[role])
		if err != nil {
			if !errors.Is(err, accel.ErrUnitNotFound) {
				return nil, fmt.Errorf("%w: resolve %s: %v", accel.ErrDeviceAccess, role, err)
			}
			if role == g.anchor {
				return nil, nil
			}
			if g.strict {
				log.Warn("Could not retrieve unit id, trying next device", zap.String("role", string(role)))
				return nil, nil
			}
			continue
		}
		ids[role] = id
	}
	log.Debug("Found unit", zap.String("role", string(g.anchor)))

	mem, err := dev.DefaultMemory()
	if err != nil {
		return nil, wrapAccess(err)
	}
	freq, err := dev.DesignFrequencyMHz()
	if err != nil {
		log.Warn("Device reports no design frequency", zap.Error(err))
		freq = 0
	}

	gb := &groupBinding{device: dev, units: make(map[Role]accel.Unit), memory: mem, freq: freq}
	for _, role := range g.roles() {
		id, ok := ids[role]
		if !ok {
			continue
		}
		u, err := dev.Acquire(id)
		if err != nil {
			for _, acquired := range gb.units {
				_ = acquired.Close()
			}
			return nil, wrapAccess(err)
		}
		gb.units[role] = u
	}
	return gb, nil
}

func wrapAccess(err error) error {
	if errors.Is(err, accel.ErrDeviceAccess) {
		return err
	}
	return fmt.Errorf("%w: %v", accel.ErrDeviceAccess, err)
}
