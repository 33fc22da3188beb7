// Package getbytes converts numeric slices to and from []byte without the
// per-element cost of binary.Write, using unsafe.Slice.
// The byte order of the result is the host order; check LittleEndian before
// using these conversions for a little-endian file format.
package getbytes

import (
	"encoding/binary"
	"math"
	"unsafe"
)

// Number lists the element types that can be viewed as raw bytes.
type Number interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64 | ~int8 | ~int16 | ~int32 | ~int64 | ~float32 | ~float64
}

// LittleEndian is true when the host stores numbers least-significant byte first.
var LittleEndian = func() bool {
	x := uint16(1)
	return *(*byte)(unsafe.Pointer(&x)) == 1
}()

// FromSlice returns the bytes backing d. The result aliases d.
func FromSlice[T Number](d []T) []byte {
	if len(d) == 0 {
		return []byte{}
	}
	outlength := uintptr(len(d)) * unsafe.Sizeof(d[0])
	return unsafe.Slice((*byte)(unsafe.Pointer(&d[0])), outlength)
}

// ToSlice copies b into a newly allocated []T. Any trailing bytes that do not
// fill a whole element are ignored.
func ToSlice[T Number](b []byte) []T {
	var zero T
	n := len(b) / int(unsafe.Sizeof(zero))
	out := make([]T, n)
	copy(FromSlice(out), b)
	return out
}

// FromSliceFloat64 convert a []float64 to []byte using unsafe
func FromSliceFloat64(d []float64) []byte {
	return FromSlice(d)
}

// FromSliceInt64 convert a []int64 to []byte using unsafe
func FromSliceInt64(d []int64) []byte {
	return FromSlice(d)
}

// Float64sLE returns the little-endian encoding of d. On little-endian
// hosts the result aliases d.
func Float64sLE(d []float64) []byte {
	if LittleEndian {
		return FromSlice(d)
	}
	out := make([]byte, 8*len(d))
	for i, v := range d {
		binary.LittleEndian.PutUint64(out[8*i:], math.Float64bits(v))
	}
	return out
}

// Int64sLE returns the little-endian encoding of d. On little-endian
// hosts the result aliases d.
func Int64sLE(d []int64) []byte {
	if LittleEndian {
		return FromSlice(d)
	}
	out := make([]byte, 8*len(d))
	for i, v := range d {
		binary.LittleEndian.PutUint64(out[8*i:], uint64(v))
	}
	return out
}

// ToFloat64sLE decodes little-endian float64 values from b.
func ToFloat64sLE(b []byte) []float64 {
	if LittleEndian {
		return ToSlice[float64](b)
	}
	out := make([]float64, len(b)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[8*i:]))
	}
	return out
}

// ToInt64sLE decodes little-endian int64 values from b.
func ToInt64sLE(b []byte) []int64 {
	if LittleEndian {
		return ToSlice[int64](b)
	}
	out := make([]int64, len(b)/8)
	for i := range out {
		out[i] = int64(binary.LittleEndian.Uint64(b[8*i:]))
	}
	return out
}
