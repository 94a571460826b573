package accel

import (
	"github.com/fxnlabs/streamnn/internal/accel"
	"github.com/stretchr/testify/mock"
)

// MockDevice is a mock type for the accel.Device interface.
type MockDevice struct {
	mock.Mock
}

func (m *MockDevice) ID() int {
	args := m.Called()
	return args.Int(0)
}

func (m *MockDevice) SetExclusive() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockDevice) UnitID(name string) (accel.UnitID, error) {
	args := m.Called(name)
	return args.Get(0).(accel.UnitID), args.Error(1)
}

func (m *MockDevice) Acquire(id accel.UnitID) (accel.Unit, error) {
	args := m.Called(id)
	if u := args.Get(0); u != nil {
		return u.(accel.Unit), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDevice) DefaultMemory() (accel.Memory, error) {
	args := m.Called()
	return args.Get(0).(accel.Memory), args.Error(1)
}

func (m *MockDevice) DesignFrequencyMHz() (float64, error) {
	args := m.Called()
	return args.Get(0).(float64), args.Error(1)
}

// MockUnit is a mock type for the accel.Unit interface.
type MockUnit struct {
	mock.Mock
}

func (m *MockUnit) Name() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockUnit) DeviceID() int {
	args := m.Called()
	return args.Int(0)
}

func (m *MockUnit) Start(params []accel.Param) error {
	args := m.Called(params)
	return args.Error(0)
}

func (m *MockUnit) Release(returnValue, collect bool) (accel.Result, error) {
	args := m.Called(returnValue, collect)
	return args.Get(0).(accel.Result), args.Error(1)
}

func (m *MockUnit) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockRuntime is a mock type for the accel.Runtime interface.
type MockRuntime struct {
	mock.Mock
}

func (m *MockRuntime) Devices() ([]accel.Device, error) {
	args := m.Called()
	if d := args.Get(0); d != nil {
		return d.([]accel.Device), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRuntime) Close() error {
	args := m.Called()
	return args.Error(0)
}
