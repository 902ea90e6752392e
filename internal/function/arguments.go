package function

import (
	"fmt"

	"github.com/peachjit/peachjit/internal/abi"
	"github.com/peachjit/peachjit/internal/isa/amd64"
)

// Location is where a value is passed: in a register, or in a stack slot at an offset from the
// first byte above the return address.
type Location struct {
	// Register is valid for values passed in a register.
	Register amd64.Reg
	// Offset is the stack offset of values not passed in a register.
	Offset int
	// ByReference is set when the register or the stack slot holds the address of the value.
	ByReference bool
}

// InRegister returns true if the value is passed in a register.
func (l Location) InRegister() bool { return l.Register.Valid() }

// String implements fmt.Stringer.
func (l Location) String() string {
	var s string
	if l.InRegister() {
		s = amd64.RegName(l.Register)
	} else {
		s = fmt.Sprintf("stack+%d", l.Offset)
	}
	if l.ByReference {
		s = "&" + s
	}
	return s
}

var (
	msArgumentGP   = [4]uint8{1, 2, 8, 9}
	sysvArgumentGP = [6]uint8{7, 6, 2, 1, 8, 9}
)

// assignArguments returns the location of every argument under the ABI a. For the Go ABIs it also
// returns the offset of the result slot and the size of the argument frame.
func assignArguments(a *abi.ABI, args []Argument, result *abi.Type) (locs []Location, resultOffset, frameSize int, err error) {
	locs = make([]Location, len(args))
	switch a.Family {
	case abi.FamilyMicrosoft:
		for i, arg := range args {
			t, size := arg.Type, arg.Type.Size(a)
			switch {
			case t.IsFloatingPoint() && i < 4:
				locs[i] = Location{Register: amd64.XMMn(uint8(i))}
			case t.IsGeneralPurpose() || t.IsMask() || t == abi.M64:
				if i < 4 {
					locs[i] = Location{Register: amd64.GP(msArgumentGP[i], size)}
				} else {
					locs[i] = Location{Offset: i * 8}
				}
			case t.IsFloatingPoint():
				locs[i] = Location{Offset: i * 8}
			case t.IsVector() && i < 4:
				locs[i] = Location{Register: amd64.GP(msArgumentGP[i], 8), ByReference: true}
			default:
				return nil, 0, 0, fmt.Errorf("argument %d of type %s cannot be passed on the stack", i, t)
			}
		}
	case abi.FamilySystemV, abi.FamilyNativeClient:
		var gp, xmm, stack int
		for i, arg := range args {
			t, size := arg.Type, arg.Type.Size(a)
			switch {
			case t.IsGeneralPurpose():
				if gp < len(sysvArgumentGP) {
					locs[i] = Location{Register: amd64.GP(sysvArgumentGP[gp], size)}
					gp++
				} else {
					locs[i] = Location{Offset: stack}
					stack += 8
				}
			case t.IsFloatingPoint() || (t.IsVector() && size <= 32):
				if xmm < 8 {
					r := amd64.XMMn(uint8(xmm))
					if size == 32 {
						r = amd64.YMMn(uint8(xmm))
					}
					locs[i] = Location{Register: r}
					xmm++
				} else {
					locs[i] = Location{Offset: stack}
					stack += roundUp(size, 8)
				}
			default:
				return nil, 0, 0, fmt.Errorf("argument %d of type %s is not supported by the %s", i, t, a)
			}
		}
	case abi.FamilyGo:
		off := 0
		for i, arg := range args {
			size := arg.Type.Size(a)
			off = roundUp(off, size)
			locs[i] = Location{Offset: off}
			off += size
		}
		frameSize = off
		if result != nil {
			resultOffset = roundUp(off, 8)
			frameSize = resultOffset + result.Size(a)
		}
	}
	return locs, resultOffset, frameSize, nil
}

// resultRegister returns the register holding the result of type t under non-Go ABIs. Integer
// results narrower than 32 bits are extended to eax.
func resultRegister(a *abi.ABI, t *abi.Type) (amd64.Reg, error) {
	size := t.Size(a)
	switch {
	case t.IsGeneralPurpose() || t.IsMask():
		if size == 8 {
			return amd64.RAX, nil
		}
		return amd64.EAX, nil
	case t.IsFloatingPoint():
		return amd64.XMM0, nil
	case t == abi.M64:
		return amd64.MM0, nil
	case t.IsVector() && size == 16:
		return amd64.XMM0, nil
	case t.IsVector() && size == 32:
		return amd64.YMM0, nil
	}
	return amd64.RegInvalid, fmt.Errorf("result of type %s is not supported by the %s", t, a)
}
