package accel

import "fmt"

// Param is one entry of a job's ordered parameter list: a scalar or exactly
// one kind of transfer descriptor.
type Param interface {
	kind() string
}

// Single64 is a scalar 64-bit argument.
type Single64 uint64

// Local is written once into the private on-die memory of the unit. It
// always moves host to device.
type Local struct {
	Data []byte
	// Free releases the local memory once the job consumed it.
	Free bool
}

// Alloc is a buffer allocated in device addressable memory.
type Alloc struct {
	Data       []byte
	ToDevice   bool
	FromDevice bool
	// Free deallocates the device copy when the job completes.
	Free   bool
	Memory Memory
}

// Stream binds a buffer to a DMA streaming channel; no device memory is
// allocated. C2H marks the card to host direction.
type Stream struct {
	Data   []byte
	C2H    bool
	Memory Memory
}

func (Single64) kind() string { return "single64" }
func (Local) kind() string    { return "local" }
func (Alloc) kind() string    { return "alloc" }
func (Stream) kind() string   { return "stream" }

// Kind names the parameter kind for logs.
func Kind(p Param) string {
	return p.kind()
}

// ToHost reports whether p carries data from the device back to the host.
func ToHost(p Param) bool {
	switch t := p.(type) {
	case Alloc:
		return t.FromDevice
	case Stream:
		return t.C2H
	}
	return false
}

// ToCard reports whether p carries host data to the device.
func ToCard(p Param) bool {
	switch t := p.(type) {
	case Local:
		return true
	case Alloc:
		return t.ToDevice
	case Stream:
		return !t.C2H
	}
	return false
}

// Payload returns the host buffer of a transfer, nil for scalars.
func Payload(p Param) []byte {
	switch t := p.(type) {
	case Local:
		return t.Data
	case Alloc:
		return t.Data
	case Stream:
		return t.Data
	}
	return nil
}

// ValidateParams checks a job's parameter list: transfers need a buffer and
// a direction, and the transfers of one job never mix descriptor kinds.
func ValidateParams(params []Param) error {
	transferKind := ""
	for i, p := range params {
		if p == nil {
			return fmt.Errorf("parameter %d is nil", i)
		}
		if _, ok := p.(Single64); ok {
			continue
		}
		if len(Payload(p)) == 0 {
			return fmt.Errorf("parameter %d: %s transfer without data", i, Kind(p))
		}
		if a, ok := p.(Alloc); ok && !a.ToDevice && !a.FromDevice {
			return fmt.Errorf("parameter %d: alloc transfer without direction", i)
		}
		if transferKind == "" {
			transferKind = Kind(p)
		} else if transferKind != Kind(p) {
			return fmt.Errorf("parameter %d: %s transfer mixed with %s transfers", i, Kind(p), transferKind)
		}
	}
	return nil
}
