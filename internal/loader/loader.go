// Package loader maps encoded functions into executable memory.
//
// The code and the constant section share one anonymous mapping: the code occupies whole pages at its start and
// the constants follow on the next page, so every RIP-relative displacement stays far within the signed 32-bit range.
// The pages are writable only while the image is copied and patched, then code pages become read-execute and
// data pages read-only.
package loader

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"runtime"
	"unsafe"

	"go.uber.org/zap"

	"github.com/peachjit/peachjit/internal/jitapi"
	"github.com/peachjit/peachjit/internal/literal"
)

// Object is an encoded function ready to be loaded.
type Object interface {
	Name() string
	Code() []byte
	Section() *literal.Section
	Relocations() []literal.Relocation
}

// ErrReleased is returned when an image is released twice.
var ErrReleased = errors.New("image already released")

// RelocationOverflowError is returned when the distance between an instruction and the constant it references
// does not fit a signed 32-bit displacement.
type RelocationOverflowError struct {
	Symbol       string
	Offset       int
	Displacement int64
}

func (e *RelocationOverflowError) Error() string {
	return fmt.Sprintf("relocation at offset %d to %s overflows: displacement %d does not fit in 32 bits",
		e.Offset, e.Symbol, e.Displacement)
}

// Image is a function loaded into executable memory. It owns its mapping until Release.
type Image struct {
	name string
	// mem is the whole mapping, nil once released.
	mem        []byte
	codeSize   int
	dataOffset int
	dataSize   int
}

// Load maps o into executable memory, patching its relocations against the final addresses.
//
// The returned image is released by Release or, failing that, when it becomes unreachable.
func Load(o Object) (*Image, error) {
	code, data := o.Code(), o.Section().Bytes()
	if len(code) == 0 {
		panic(errors.New("BUG: Load with zero length code"))
	}

	page := pageSize()
	dataOffset := alignUp(len(code), page)
	size := dataOffset
	if len(data) > 0 {
		size += alignUp(len(data), page)
	}

	mem, err := mmap(size)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", o.Name(), err)
	}
	copy(mem, code)
	copy(mem[dataOffset:], data)

	codeAddr := uint64(uintptr(unsafe.Pointer(&mem[0])))
	if err = Patch(mem[:len(code)], o.Relocations(), codeAddr, codeAddr+uint64(dataOffset)); err == nil {
		err = protect(mem[:dataOffset], mem[dataOffset:])
	}
	if err != nil {
		if uerr := munmap(mem); uerr != nil {
			panic(fmt.Errorf("BUG: failed to munmap after failed load: %w", uerr))
		}
		return nil, fmt.Errorf("load %s: %w", o.Name(), err)
	}

	img := &Image{name: o.Name(), mem: mem, codeSize: len(code), dataOffset: dataOffset, dataSize: len(data)}
	runtime.SetFinalizer(img, func(i *Image) {
		if i.mem == nil {
			return // already released
		}
		if err := i.Release(); err != nil {
			panic(fmt.Errorf("loader: failed to munmap %s: %w", i.name, err))
		}
	})

	jitapi.Logger().Debug("loaded function",
		zap.String("name", img.name),
		zap.Uintptr("entry", img.Entry()),
		zap.Int("code", len(code)),
		zap.Int("data", len(data)),
		zap.Int("relocations", len(o.Relocations())),
	)
	return img, nil
}

// Patch writes the final displacement of every relocation into code, where codeAddr and dataAddr are the
// addresses the code and the constant section are loaded at.
func Patch(code []byte, relocs []literal.Relocation, codeAddr, dataAddr uint64) error {
	for _, r := range relocs {
		if r.Type != literal.RelocationRIPDisp32 {
			return fmt.Errorf("relocation at offset %d has unsupported type %d", r.Offset, r.Type)
		}
		if r.Offset < 0 || r.Offset+4 > len(code) {
			panic(fmt.Sprintf("BUG: relocation offset %d outside of %d bytes of code", r.Offset, len(code)))
		}
		disp := int64(dataAddr+uint64(r.Symbol.Offset)) - int64(codeAddr+uint64(r.PC))
		if disp < math.MinInt32 || disp > math.MaxInt32 {
			return &RelocationOverflowError{Symbol: r.Symbol.Name, Offset: r.Offset, Displacement: disp}
		}
		binary.LittleEndian.PutUint32(code[r.Offset:], uint32(int32(disp)))
	}
	return nil
}

// Name returns the name of the loaded function.
func (i *Image) Name() string { return i.name }

// Entry returns the address of the first instruction.
func (i *Image) Entry() uintptr {
	if i.mem == nil {
		panic("BUG: Entry of a released image")
	}
	return uintptr(unsafe.Pointer(&i.mem[0]))
}

// Code returns the loaded, patched code. The slice is read-only memory.
func (i *Image) Code() []byte {
	if i.mem == nil {
		return nil
	}
	return i.mem[:i.codeSize]
}

// Data returns the loaded constant section. The slice is read-only memory.
func (i *Image) Data() []byte {
	if i.mem == nil {
		return nil
	}
	return i.mem[i.dataOffset : i.dataOffset+i.dataSize]
}

// Release unmaps the image. Only the first call releases memory, later calls return ErrReleased.
func (i *Image) Release() error {
	mem := i.mem
	if mem == nil {
		return ErrReleased
	}
	i.mem = nil
	runtime.SetFinalizer(i, nil)
	return munmap(mem)
}

func alignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}
