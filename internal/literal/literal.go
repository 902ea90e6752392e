// Package literal holds the constant data referenced by encoded functions and the section it is
// laid out in.
package literal

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// ElementType is the type of the elements of a constant.
type ElementType byte

const (
	ElementRaw ElementType = iota
	ElementUint32
	ElementUint64
	ElementFloat32
	ElementFloat64
)

// String implements fmt.Stringer.
func (t ElementType) String() string {
	switch t {
	case ElementUint32:
		return "uint32"
	case ElementUint64:
		return "uint64"
	case ElementFloat32:
		return "float32"
	case ElementFloat64:
		return "float64"
	default:
		return "raw"
	}
}

func (t ElementType) size() int {
	switch t {
	case ElementUint32, ElementFloat32:
		return 4
	case ElementUint64, ElementFloat64:
		return 8
	default:
		return 1
	}
}

// Constant is an immutable literal data blob. Its elements are kept as raw bit patterns so that
// the canonical byte encoding can be produced for either byte order.
type Constant struct {
	// Name is the requested name of the constant. The final name is assigned when the function is encoded.
	Name string
	Type ElementType
	// Size is the size in bytes, Align the required alignment in bytes.
	Size, Align int
	bits        []uint64
}

// Alignment returns the alignment of a constant of the given size: the 80-bit extended precision
// size is aligned on 16 bytes, every other size on itself.
func Alignment(size int) int {
	if size == 10 {
		return 16
	}
	return size
}

func newConstant(t ElementType, lanes int, bits []uint64) *Constant {
	switch len(bits) {
	case 1:
		for len(bits) < lanes {
			bits = append(bits, bits[0])
		}
	case lanes:
	default:
		panic(fmt.Sprintf("BUG: %d values given for a %d-lane %s constant", len(bits), lanes, t))
	}
	size := lanes * t.size()
	return &Constant{Type: t, Size: size, Align: Alignment(size), bits: bits}
}

func u32s(vs []uint32) []uint64 {
	ret := make([]uint64, len(vs))
	for i, v := range vs {
		ret[i] = uint64(v)
	}
	return ret
}

func f32s(vs []float32) []uint64 {
	ret := make([]uint64, len(vs))
	for i, v := range vs {
		ret[i] = uint64(math.Float32bits(v))
	}
	return ret
}

func f64s(vs []float64) []uint64 {
	ret := make([]uint64, len(vs))
	for i, v := range vs {
		ret[i] = math.Float64bits(v)
	}
	return ret
}

// Uint32 returns a 4-byte constant.
func Uint32(v uint32) *Constant { return newConstant(ElementUint32, 1, []uint64{uint64(v)}) }

// Uint32x2 returns an 8-byte constant of one broadcast value or two values.
func Uint32x2(vs ...uint32) *Constant { return newConstant(ElementUint32, 2, u32s(vs)) }

// Uint32x4 returns a 16-byte constant of one broadcast value or four values.
func Uint32x4(vs ...uint32) *Constant { return newConstant(ElementUint32, 4, u32s(vs)) }

// Uint32x8 returns a 32-byte constant of one broadcast value or eight values.
func Uint32x8(vs ...uint32) *Constant { return newConstant(ElementUint32, 8, u32s(vs)) }

// Uint64 returns an 8-byte constant.
func Uint64(v uint64) *Constant { return newConstant(ElementUint64, 1, []uint64{v}) }

// Uint64x2 returns a 16-byte constant of one broadcast value or two values.
func Uint64x2(vs ...uint64) *Constant { return newConstant(ElementUint64, 2, vs) }

// Uint64x4 returns a 32-byte constant of one broadcast value or four values.
func Uint64x4(vs ...uint64) *Constant { return newConstant(ElementUint64, 4, vs) }

// Float32 returns a 4-byte constant.
func Float32(v float32) *Constant { return newConstant(ElementFloat32, 1, f32s([]float32{v})) }

// Float32x4 returns a 16-byte constant of one broadcast value or four values.
func Float32x4(vs ...float32) *Constant { return newConstant(ElementFloat32, 4, f32s(vs)) }

// Float32x8 returns a 32-byte constant of one broadcast value or eight values.
func Float32x8(vs ...float32) *Constant { return newConstant(ElementFloat32, 8, f32s(vs)) }

// Float64 returns an 8-byte constant.
func Float64(v float64) *Constant { return newConstant(ElementFloat64, 1, f64s([]float64{v})) }

// Float64x2 returns a 16-byte constant of one broadcast value or two values.
func Float64x2(vs ...float64) *Constant { return newConstant(ElementFloat64, 2, f64s(vs)) }

// Float64x4 returns a 32-byte constant of one broadcast value or four values.
func Float64x4(vs ...float64) *Constant { return newConstant(ElementFloat64, 4, f64s(vs)) }

// Raw returns a constant holding b verbatim, e.g. an 80-bit extended precision value.
func Raw(b []byte) *Constant {
	bits := make([]uint64, len(b))
	for i, v := range b {
		bits[i] = uint64(v)
	}
	return &Constant{Type: ElementRaw, Size: len(b), Align: Alignment(len(b)), bits: bits}
}

// Named returns a copy of c with the requested name.
func (c *Constant) Named(name string) *Constant {
	ret := *c
	ret.Name = name
	return &ret
}

// Encode returns the canonical byte encoding of c in the given byte order.
func (c *Constant) Encode(order binary.ByteOrder) []byte {
	ret := make([]byte, c.Size)
	es := c.Type.size()
	for i, v := range c.bits {
		chunk := ret[i*es : (i+1)*es]
		switch es {
		case 1:
			chunk[0] = byte(v)
		case 4:
			order.PutUint32(chunk, uint32(v))
		case 8:
			order.PutUint64(chunk, v)
		}
	}
	return ret
}

// Equal returns true if both constants have the same size, alignment and little-endian bytes.
func (c *Constant) Equal(o *Constant) bool {
	return c.key() == o.key()
}

func (c *Constant) key() string {
	return fmt.Sprintf("%d/%d/%x", c.Size, c.Align, c.Encode(binary.LittleEndian))
}

// String implements fmt.Stringer.
func (c *Constant) String() string {
	vals := make([]string, len(c.bits))
	for i, v := range c.bits {
		switch c.Type {
		case ElementFloat32:
			vals[i] = fmt.Sprint(math.Float32frombits(uint32(v)))
		case ElementFloat64:
			vals[i] = fmt.Sprint(math.Float64frombits(v))
		default:
			vals[i] = fmt.Sprintf("%#x", v)
		}
	}
	return fmt.Sprintf("%s(%s)", c.Type, strings.Join(vals, ", "))
}
