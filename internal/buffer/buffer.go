package buffer

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Element is the set of fixed size scalar types a transfer buffer can hold.
type Element interface {
	float32 | float64 | int32 | uint32 | int64 | uint64
}

// Buffer is a little-endian byte buffer viewed as a sequence of T.
// The byte length is always a multiple of the element size.
type Buffer[T Element] struct {
	data []byte
}

// ElementSize returns the size in bytes of one T.
func ElementSize[T Element]() int {
	var zero T
	return binary.Size(zero)
}

func put[T Element](dst []byte, v T) {
	switch x := any(v).(type) {
	case float32:
		binary.LittleEndian.PutUint32(dst, math.Float32bits(x))
	case float64:
		binary.LittleEndian.PutUint64(dst, math.Float64bits(x))
	case int32:
		binary.LittleEndian.PutUint32(dst, uint32(x))
	case uint32:
		binary.LittleEndian.PutUint32(dst, x)
	case int64:
		binary.LittleEndian.PutUint64(dst, uint64(x))
	case uint64:
		binary.LittleEndian.PutUint64(dst, x)
	}
}

func get[T Element](src []byte) T {
	var v T
	switch p := any(&v).(type) {
	case *float32:
		*p = math.Float32frombits(binary.LittleEndian.Uint32(src))
	case *float64:
		*p = math.Float64frombits(binary.LittleEndian.Uint64(src))
	case *int32:
		*p = int32(binary.LittleEndian.Uint32(src))
	case *uint32:
		*p = binary.LittleEndian.Uint32(src)
	case *int64:
		*p = int64(binary.LittleEndian.Uint64(src))
	case *uint64:
		*p = binary.LittleEndian.Uint64(src)
	}
	return v
}

// Wrap views data as a sequence of T without copying it.
func Wrap[T Element](data []byte) (Buffer[T], error) {
	size := ElementSize[T]()
	if len(data)%size != 0 {
		return Buffer[T]{}, fmt.Errorf("buffer of %d bytes is not a multiple of element size %d", len(data), size)
	}
	return Buffer[T]{data: data}, nil
}

// Make allocates a zeroed buffer holding n elements.
func Make[T Element](n int) Buffer[T] {
	return Buffer[T]{data: make([]byte, n*ElementSize[T]())}
}

// From serializes values into a new buffer.
func From[T Element](values []T) Buffer[T] {
	b := Make[T](len(values))
	b.encode(0, values)
	return b
}

// Len returns the number of elements.
func (b Buffer[T]) Len() int {
	return len(b.data) / ElementSize[T]()
}

// Bytes returns the underlying storage.
func (b Buffer[T]) Bytes() []byte {
	return b.data
}

// Values decodes the buffer into a fresh slice.
func (b Buffer[T]) Values() []T {
	size := ElementSize[T]()
	out := make([]T, b.Len())
	for i := range out {
		out[i] = get[T](b.data[i*size:])
	}
	return out
}

// Put copies values into the buffer starting at element offset.
func (b Buffer[T]) Put(offset int, values []T) error {
	if offset < 0 || offset+len(values) > b.Len() {
		return fmt.Errorf("writing %d elements at %d overflows buffer of %d", len(values), offset, b.Len())
	}
	b.encode(offset, values)
	return nil
}

// Cycle fills the whole buffer with values repeated from the start, so
// element i holds values[i%len(values)].
func (b Buffer[T]) Cycle(values []T) error {
	if len(values) == 0 {
		return fmt.Errorf("cannot cycle an empty sequence")
	}
	for off := 0; off < b.Len(); off += len(values) {
		chunk := values
		if rest := b.Len() - off; len(chunk) > rest {
			chunk = chunk[:rest]
		}
		b.encode(off, chunk)
	}
	return nil
}

func (b Buffer[T]) encode(offset int, values []T) {
	size := ElementSize[T]()
	dst := b.data[offset*size:]
	for i, v := range values {
		put(dst[i*size:], v)
	}
}

// Prefix returns a copy of the first n elements.
func (b Buffer[T]) Prefix(n int) (Buffer[T], error) {
	if n < 0 || n > b.Len() {
		return Buffer[T]{}, fmt.Errorf("prefix of %d elements exceeds buffer of %d", n, b.Len())
	}
	size := ElementSize[T]()
	out := make([]byte, n*size)
	copy(out, b.data[:n*size])
	return Buffer[T]{data: out}, nil
}

// Float32s decodes raw transfer bytes as float32 values.
func Float32s(data []byte) ([]float32, error) {
	b, err := Wrap[float32](data)
	if err != nil {
		return nil, err
	}
	return b.Values(), nil
}
