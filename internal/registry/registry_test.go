package registry

import (
	"errors"
	"testing"

	"github.com/fxnlabs/streamnn/internal/accel"
	"github.com/fxnlabs/streamnn/internal/accel/sim"
	"github.com/fxnlabs/streamnn/internal/config"
	mocks "github.com/fxnlabs/streamnn/mocks/accel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newSim(t *testing.T, devices ...sim.DeviceSpec) *sim.Runtime {
	t.Helper()
	rt, err := sim.New(sim.Config{Devices: devices, CyclesPerSample: 1}, zap.NewNop())
	require.NoError(t, err)
	return rt
}

func closedUnits(rt *sim.Runtime) []string {
	var names []string
	for _, e := range rt.Events() {
		if e.Kind == sim.EventClose {
			names = append(names, e.Unit)
		}
	}
	return names
}

func TestBindSingle(t *testing.T) {
	u := config.Default().Units

	t.Run("streaming", func(t *testing.T) {
		rt, err := sim.New(config.Default().Runtime.Sim, zap.NewNop())
		require.NoError(t, err)
		b, err := New(u, false, false, zap.NewNop()).Bind(rt)
		require.NoError(t, err)
		defer b.Close()

		assert.False(t, b.Split)
		assert.Equal(t, u.WeightStreamer, b.Primary.Weights.Name())
		assert.Equal(t, u.DataStreamer, b.Primary.Data.Name())
		assert.Equal(t, 0, b.Primary.Device.ID())
		assert.Equal(t, 250.0, b.Primary.FrequencyMHz)
		assert.Len(t, b.Units(), 2)
	})

	t.Run("mapped uses the memory mapped data streamer", func(t *testing.T) {
		rt, err := sim.New(config.Default().Runtime.Sim, zap.NewNop())
		require.NoError(t, err)
		b, err := New(u, true, false, zap.NewNop()).Bind(rt)
		require.NoError(t, err)
		defer b.Close()

		assert.True(t, b.Mapped)
		assert.Equal(t, u.DataStreamerMM, b.Primary.Data.Name())
	})

	t.Run("first matching device wins", func(t *testing.T) {
		rt := newSim(t,
			sim.DeviceSpec{FrequencyMHz: 100, Units: []string{u.WeightStreamer, u.DataStreamer}},
			sim.DeviceSpec{FrequencyMHz: 200, Units: []string{u.WeightStreamer, u.DataStreamer}},
		)
		b, err := New(u, false, false, zap.NewNop()).Bind(rt)
		require.NoError(t, err)
		assert.Equal(t, 0, b.Primary.Device.ID())
		assert.Equal(t, 100.0, b.Primary.FrequencyMHz)
	})

	t.Run("device without data streamer is skipped", func(t *testing.T) {
		rt := newSim(t,
			sim.DeviceSpec{FrequencyMHz: 100, Units: []string{u.WeightStreamer}},
			sim.DeviceSpec{FrequencyMHz: 200, Units: []string{u.WeightStreamer, u.DataStreamer}},
		)
		b, err := New(u, false, false, zap.NewNop()).Bind(rt)
		require.NoError(t, err)
		assert.Equal(t, 1, b.Primary.Device.ID())
		assert.Equal(t, 1, b.Primary.Data.DeviceID())
	})

	t.Run("busy device is skipped", func(t *testing.T) {
		rt := newSim(t,
			sim.DeviceSpec{FrequencyMHz: 100, Busy: true, Units: []string{u.WeightStreamer, u.DataStreamer}},
			sim.DeviceSpec{FrequencyMHz: 200, Units: []string{u.WeightStreamer, u.DataStreamer}},
		)
		b, err := New(u, false, false, zap.NewNop()).Bind(rt)
		require.NoError(t, err)
		assert.Equal(t, 1, b.Primary.Device.ID())
	})

	t.Run("missing frequency leaves zero", func(t *testing.T) {
		rt := newSim(t, sim.DeviceSpec{Units: []string{u.WeightStreamer, u.DataStreamer}})
		b, err := New(u, false, false, zap.NewNop()).Bind(rt)
		require.NoError(t, err)
		assert.Zero(t, b.Primary.FrequencyMHz)
	})

	t.Run("no weight streamer anywhere", func(t *testing.T) {
		rt := newSim(t, sim.DeviceSpec{Units: []string{u.DataStreamer}})
		_, err := New(u, false, false, zap.NewNop()).Bind(rt)

		var missing *MissingComputeUnitError
		require.ErrorAs(t, err, &missing)
		assert.Equal(t, RoleWeightStreamer, missing.First())
		assert.Equal(t, []Role{RoleWeightStreamer, RoleDataStreamer}, missing.Roles)
		assert.Contains(t, err.Error(), u.WeightStreamer)
	})

	t.Run("all devices busy", func(t *testing.T) {
		rt := newSim(t, sim.DeviceSpec{Busy: true, Units: []string{u.WeightStreamer, u.DataStreamer}})
		_, err := New(u, false, false, zap.NewNop()).Bind(rt)

		var missing *MissingComputeUnitError
		require.ErrorAs(t, err, &missing)
		assert.ErrorIs(t, err, accel.ErrDeviceBusy)
	})
}

func TestBindSplit(t *testing.T) {
	u := config.Default().Units

	t.Run("reference layout", func(t *testing.T) {
		rt, err := sim.New(config.Default().Runtime.Sim, zap.NewNop())
		require.NoError(t, err)
		b, err := New(u, false, true, zap.NewNop()).Bind(rt)
		require.NoError(t, err)
		defer b.Close()

		assert.True(t, b.Split)
		assert.Equal(t, u.WeightStreamerPartIn, b.In.Weights.Name())
		assert.Equal(t, u.DataStreamerPartIn, b.In.Data.Name())
		assert.Equal(t, u.StreamJoin, b.Join.Name())
		assert.Equal(t, 0, b.In.Device.ID())

		assert.Equal(t, u.WeightStreamerPartOut, b.Out.Weights.Name())
		assert.Equal(t, u.DataStreamerPartOut, b.Out.Data.Name())
		assert.Equal(t, u.StreamSplit, b.Splitter.Name())
		assert.Equal(t, 1, b.Out.Device.ID())
		assert.Len(t, b.Units(), 6)
	})

	t.Run("mapped", func(t *testing.T) {
		rt, err := sim.New(config.Default().Runtime.Sim, zap.NewNop())
		require.NoError(t, err)
		b, err := New(u, true, true, zap.NewNop()).Bind(rt)
		require.NoError(t, err)
		defer b.Close()

		assert.Equal(t, u.DataStreamerMMPartIn, b.In.Data.Name())
		assert.Equal(t, u.DataStreamerMMPartOut, b.Out.Data.Name())
	})

	t.Run("missing output card releases acquired units", func(t *testing.T) {
		rt := newSim(t, sim.DeviceSpec{
			FrequencyMHz: 250,
			Units:        []string{u.WeightStreamerPartIn, u.DataStreamerPartIn, u.StreamJoin},
		})
		_, err := New(u, false, true, zap.NewNop()).Bind(rt)

		var missing *MissingComputeUnitError
		require.ErrorAs(t, err, &missing)
		assert.Equal(t, RoleWeightStreamerPartOut, missing.First())
		assert.Equal(t, []Role{RoleWeightStreamerPartOut, RoleStreamSplit, RoleDataStreamerPartOut}, missing.Roles)
		assert.ElementsMatch(t, []string{u.WeightStreamerPartIn, u.DataStreamerPartIn, u.StreamJoin}, closedUnits(rt))
	})

	t.Run("missing join is reported in check order", func(t *testing.T) {
		rt := newSim(t,
			sim.DeviceSpec{Units: []string{u.WeightStreamerPartIn, u.DataStreamerPartIn}},
			sim.DeviceSpec{Units: []string{u.WeightStreamerPartOut, u.DataStreamerPartOut}},
		)
		_, err := New(u, false, true, zap.NewNop()).Bind(rt)

		var missing *MissingComputeUnitError
		require.ErrorAs(t, err, &missing)
		assert.Equal(t, []Role{RoleStreamSplit, RoleStreamJoin}, missing.Roles)
	})
}

func TestBindDeviceErrors(t *testing.T) {
	u := config.Default().Units

	t.Run("enumeration failure", func(t *testing.T) {
		rt := new(mocks.MockRuntime)
		rt.On("Devices").Return(nil, errors.New("driver not loaded")).Once()

		_, err := New(u, false, false, zap.NewNop()).Bind(rt)
		assert.ErrorIs(t, err, accel.ErrRuntimeInit)
		rt.AssertExpectations(t)
	})

	t.Run("memory query failure skips the device", func(t *testing.T) {
		dev := new(mocks.MockDevice)
		dev.On("ID").Return(0)
		dev.On("SetExclusive").Return(nil).Once()
		dev.On("UnitID", u.WeightStreamer).Return(accel.UnitID(0), nil).Once()
		dev.On("UnitID", u.DataStreamer).Return(accel.UnitID(1), nil).Once()
		dev.On("DefaultMemory").Return(accel.Memory{}, errors.New("no bank")).Once()

		rt := new(mocks.MockRuntime)
		rt.On("Devices").Return([]accel.Device{dev}, nil).Once()

		_, err := New(u, false, false, zap.NewNop()).Bind(rt)
		var missing *MissingComputeUnitError
		require.ErrorAs(t, err, &missing)
		assert.ErrorIs(t, err, accel.ErrDeviceAccess)
		dev.AssertExpectations(t)
	})

	t.Run("acquire failure hands back earlier units", func(t *testing.T) {
		ws := new(mocks.MockUnit)
		ws.On("Close").Return(nil).Once()

		dev := new(mocks.MockDevice)
		dev.On("ID").Return(0)
		dev.On("SetExclusive").Return(nil).Once()
		dev.On("UnitID", u.WeightStreamer).Return(accel.UnitID(0), nil).Once()
		dev.On("UnitID", u.DataStreamer).Return(accel.UnitID(1), nil).Once()
		dev.On("DefaultMemory").Return(accel.Memory{DeviceID: 0}, nil).Once()
		dev.On("DesignFrequencyMHz").Return(250.0, nil).Once()
		dev.On("Acquire", accel.UnitID(0)).Return(ws, nil).Once()
		dev.On("Acquire", accel.UnitID(1)).Return(nil, errors.New("locked")).Once()

		rt := new(mocks.MockRuntime)
		rt.On("Devices").Return([]accel.Device{dev}, nil).Once()

		_, err := New(u, false, false, zap.NewNop()).Bind(rt)
		assert.ErrorIs(t, err, accel.ErrDeviceAccess)
		ws.AssertExpectations(t)
		dev.AssertExpectations(t)
	})
}

func TestNewCatalog(t *testing.T) {
	u := config.Default().Units
	streaming := NewCatalog(u, false)
	mapped := NewCatalog(u, true)

	assert.Equal(t, u.DataStreamer, streaming[RoleDataStreamer])
	assert.Equal(t, u.DataStreamerMM, mapped[RoleDataStreamer])
	assert.Equal(t, u.DataStreamerMMPartIn, mapped[RoleDataStreamerPartIn])
	assert.Equal(t, u.DataStreamerMMPartOut, mapped[RoleDataStreamerPartOut])
	assert.Equal(t, streaming[RoleWeightStreamer], mapped[RoleWeightStreamer])
}
