package accel

import "errors"

var (
	// ErrRuntimeInit reports that the accelerator subsystem could not be opened.
	ErrRuntimeInit = errors.New("accelerator runtime initialization failed")
	// ErrDeviceBusy reports that another process holds exclusive access.
	ErrDeviceBusy = errors.New("device busy")
	// ErrDeviceAccess reports a failed device query or unit acquisition.
	ErrDeviceAccess = errors.New("device access failed")
	// ErrUnitNotFound reports that a unit name is not present on a device.
	ErrUnitNotFound = errors.New("compute unit not found")
	// ErrJobExecution reports a failed start or release of a job.
	ErrJobExecution = errors.New("job execution failed")
)

// UnitID is the numeric id a device assigns to a unit name.
type UnitID int

// Memory is the handle of a device addressable memory region.
type Memory struct {
	DeviceID int
	Handle   uint64
}

// Result is what a released job hands back: the 64-bit status word (for
// the data streamers a cycle count) and the buffers transferred back to the
// host, in parameter order.
type Result struct {
	Status  uint64
	Buffers [][]byte
}

// Runtime enumerates the accelerator cards of the host.
type Runtime interface {
	// Devices returns all cards in a stable scan order.
	Devices() ([]Device, error)
	// Close releases the runtime.
	Close() error
}

// Device is one accelerator card.
//
// Exclusive access must be requested with SetExclusive before units are
// acquired. Once granted, the caller owns every unit and memory region of the
// device for the remainder of the process.
type Device interface {
	ID() int
	SetExclusive() error
	// UnitID resolves a unit name (its VLNV string) to an id. It returns
	// ErrUnitNotFound when the bitstream carries no such unit.
	UnitID(name string) (UnitID, error)
	Acquire(id UnitID) (Unit, error)
	DefaultMemory() (Memory, error)
	DesignFrequencyMHz() (float64, error)
}

// Unit is an acquired compute unit. It runs at most one job at a time.
type Unit interface {
	Name() string
	DeviceID() int
	// Start launches a job without waiting for it.
	Start(params []Param) error
	// Release blocks until the running job completes. returnValue asks for
	// the status word, collect for the device to host buffers.
	Release(returnValue, collect bool) (Result, error)
	// Close hands the unit back to its device.
	Close() error
}
