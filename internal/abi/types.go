package abi

// sizeClass tells how the size of a Type is determined.
type sizeClass byte

const (
	sizeFixed sizeClass = iota
	sizePointer
	sizeIndex
	sizeBool
	sizeWChar
	sizeShort
	sizeInt
	sizeLong
	sizeLongLong
)

type typeFlags uint16

const (
	flagFloat typeFlags = 1 << iota
	flagSigned
	flagUnsigned
	flagVector
	flagMask
	flagChar
	flagPointer
)

// Type is a C-like primitive type of a function argument or result. The size of some types,
// e.g. long or size_t, depends on the ABI.
type Type struct {
	name  string
	size  int
	class sizeClass
	flags typeFlags
	base  *Type
}

// Size returns the size of t in bytes under the ABI a.
func (t *Type) Size(a *ABI) int {
	switch t.class {
	case sizePointer:
		return a.Sizes.Pointer
	case sizeIndex:
		return a.Sizes.Index
	case sizeBool:
		return a.Sizes.Bool
	case sizeWChar:
		return a.Sizes.WChar
	case sizeShort:
		return a.Sizes.Short
	case sizeInt:
		return a.Sizes.Int
	case sizeLong:
		return a.Sizes.Long
	case sizeLongLong:
		return a.Sizes.LongLong
	default:
		return t.size
	}
}

// FixedSize returns true if the size of t does not depend on the ABI.
func (t *Type) FixedSize() bool { return t.class == sizeFixed }

// IsFloatingPoint returns true for float and double.
func (t *Type) IsFloatingPoint() bool { return t.flags&flagFloat != 0 }

// IsSignedInteger returns true for signed integer types.
func (t *Type) IsSignedInteger() bool { return t.flags&flagSigned != 0 }

// IsUnsignedInteger returns true for unsigned integer types.
func (t *Type) IsUnsignedInteger() bool { return t.flags&flagUnsigned != 0 }

// IsInteger returns true for signed and unsigned integer types.
func (t *Type) IsInteger() bool { return t.flags&(flagSigned|flagUnsigned) != 0 }

// IsPointer returns true for pointer types.
func (t *Type) IsPointer() bool { return t.flags&flagPointer != 0 }

// IsVector returns true for the SIMD vector types.
func (t *Type) IsVector() bool { return t.flags&flagVector != 0 }

// IsMask returns true for the AVX-512 mask types.
func (t *Type) IsMask() bool { return t.flags&flagMask != 0 }

// IsCodeUnit returns true for char and wchar_t.
func (t *Type) IsCodeUnit() bool { return t.flags&flagChar != 0 || t.class == sizeWChar }

// IsGeneralPurpose returns true if values of t are held in general-purpose registers.
func (t *Type) IsGeneralPurpose() bool {
	return t.IsInteger() || t.IsPointer() || t.IsCodeUnit() || t.class == sizeBool
}

// Base returns the pointee type of a pointer, or nil for void pointers and non-pointers.
func (t *Type) Base() *Type { return t.base }

// String implements fmt.Stringer.
func (t *Type) String() string {
	if t.IsPointer() {
		if t.base == nil {
			return "void*"
		}
		return t.base.String() + "*"
	}
	return t.name
}

// Ptr returns the pointer type to base. A nil base gives void*.
func Ptr(base *Type) *Type {
	return &Type{class: sizePointer, flags: flagPointer, base: base}
}

func fixed(name string, size int, flags typeFlags) *Type {
	return &Type{name: name, size: size, flags: flags}
}

func variable(name string, class sizeClass, flags typeFlags) *Type {
	return &Type{name: name, class: class, flags: flags}
}

var (
	Uint8   = fixed("uint8_t", 1, flagUnsigned)
	Uint16  = fixed("uint16_t", 2, flagUnsigned)
	Uint32  = fixed("uint32_t", 4, flagUnsigned)
	Uint64  = fixed("uint64_t", 8, flagUnsigned)
	Int8    = fixed("int8_t", 1, flagSigned)
	Int16   = fixed("int16_t", 2, flagSigned)
	Int32   = fixed("int32_t", 4, flagSigned)
	Int64   = fixed("int64_t", 8, flagSigned)
	Uintptr = variable("uintptr_t", sizePointer, flagUnsigned)
	Intptr  = variable("intptr_t", sizePointer, flagSigned)
	Size    = variable("size_t", sizeIndex, flagUnsigned)
	Ptrdiff = variable("ptrdiff_t", sizeIndex, flagSigned)

	Float  = fixed("float", 4, flagFloat)
	Double = fixed("double", 8, flagFloat)

	Char      = fixed("char", 1, flagChar)
	WChar     = variable("wchar_t", sizeWChar, 0)
	Bool      = variable("bool", sizeBool, 0)
	Short     = variable("short", sizeShort, flagSigned)
	UShort    = variable("unsigned short", sizeShort, flagUnsigned)
	Int       = variable("int", sizeInt, flagSigned)
	UInt      = variable("unsigned int", sizeInt, flagUnsigned)
	Long      = variable("long", sizeLong, flagSigned)
	ULong     = variable("unsigned long", sizeLong, flagUnsigned)
	LongLong  = variable("long long", sizeLongLong, flagSigned)
	ULongLong = variable("unsigned long long", sizeLongLong, flagUnsigned)

	// SIMD vector types.
	M64   = fixed("__m64", 8, flagVector)
	M128  = fixed("__m128", 16, flagVector)
	M128d = fixed("__m128d", 16, flagVector)
	M128i = fixed("__m128i", 16, flagVector)
	M256  = fixed("__m256", 32, flagVector)
	M256d = fixed("__m256d", 32, flagVector)
	M256i = fixed("__m256i", 32, flagVector)
	M512  = fixed("__m512", 64, flagVector)

	// AVX-512 mask types.
	Mask8  = fixed("__mmask8", 1, flagMask)
	Mask16 = fixed("__mmask16", 2, flagMask)
)
