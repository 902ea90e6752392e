package regalloc

import (
	"fmt"
	"sort"
)

// Kind is the register file a register belongs to. Registers of different kinds never interfere.
type Kind byte

const (
	KindInvalid Kind = iota
	KindGP
	KindMMX
	KindVector
	KindMask
	NumKinds
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindGP:
		return "gp"
	case KindMMX:
		return "mmx"
	case KindVector:
		return "vector"
	case KindMask:
		return "mask"
	default:
		return "invalid"
	}
}

// Mask is the set of bits of a register file entry covered by a register view.
// Views of the same register overlap iff their masks intersect.
type Mask uint32

const (
	MaskGP8     Mask = 0x1
	MaskGP8High Mask = 0x2
	MaskGP16    Mask = 0x3
	MaskGP32    Mask = 0x7
	MaskGP64    Mask = 0xF
	MaskMMX     Mask = 0x10
	MaskK       Mask = 0x40
	MaskXMM     Mask = 0x100
	MaskYMM     Mask = 0x300
	MaskZMM     Mask = 0x700
)

// Kind returns the register file the mask belongs to.
func (m Mask) Kind() Kind {
	switch {
	case m == 0:
		return KindInvalid
	case m&^MaskGP64 == 0:
		return KindGP
	case m == MaskMMX:
		return KindMMX
	case m&^MaskZMM == 0:
		return KindVector
	case m == MaskK:
		return KindMask
	default:
		return KindInvalid
	}
}

// Overlaps returns true if the two masks share any bit.
func (m Mask) Overlaps(o Mask) bool {
	return m&o != 0
}

// ID is the internal identifier of a register: negative for virtual registers (-virtual id) and
// non-negative for physical registers.
type ID int32

// Key identifies a register entry independent of the view width. Two registers with the same Key
// alias the same storage.
type Key uint64

// MakeKey returns the Key for the given kind and internal id.
func MakeKey(k Kind, id ID) Key {
	return Key(k)<<32 | Key(uint32(id))
}

// Kind returns the register file of the key.
func (k Key) Kind() Kind {
	return Kind(k >> 32)
}

// ID returns the internal id of the key.
func (k Key) ID() ID {
	return ID(uint32(k))
}

// IsVirtual returns true if the key refers to a virtual register.
func (k Key) IsVirtual() bool {
	return k.ID() < 0
}

// String implements fmt.Stringer.
func (k Key) String() string {
	if id := k.ID(); id < 0 {
		return fmt.Sprintf("%s-vreg<%d>", k.Kind(), -id)
	}
	return fmt.Sprintf("%s-preg<%d>", k.Kind(), k.ID())
}

// Reg is an immutable register value: a view (Mask) of a virtual or physical register entry.
// The lower 32 bits hold the ID and the upper 32 bits hold the Mask. The zero value is invalid.
type Reg uint64

// RegInvalid is the invalid register.
const RegInvalid Reg = 0

// FromVirtual returns the view of the virtual register vid (starting at 1) with the given mask.
func FromVirtual(vid uint32, m Mask) Reg {
	if vid == 0 || vid > 1<<31-1 {
		panic(fmt.Sprintf("BUG: invalid virtual register id %d", vid))
	}
	return Reg(m)<<32 | Reg(uint32(-int32(vid)))
}

// FromPhysical returns the view of the physical register pid with the given mask.
func FromPhysical(pid uint8, m Mask) Reg {
	return Reg(m)<<32 | Reg(pid)
}

// ID returns the internal id.
func (r Reg) ID() ID {
	return ID(uint32(r))
}

// Mask returns the view mask.
func (r Reg) Mask() Mask {
	return Mask(r >> 32)
}

// Kind returns the register file of r.
func (r Reg) Kind() Kind {
	return r.Mask().Kind()
}

// Key returns the width-independent identity of r.
func (r Reg) Key() Key {
	return MakeKey(r.Kind(), r.ID())
}

// Valid returns true if r is not RegInvalid.
func (r Reg) Valid() bool {
	return r.Kind() != KindInvalid
}

// IsVirtual returns true if r is not bound to a physical register.
func (r Reg) IsVirtual() bool {
	return r.ID() < 0
}

// Virtual returns the virtual register id. It panics on a physical register.
func (r Reg) Virtual() uint32 {
	if !r.IsVirtual() {
		panic("BUG: Virtual called on a physical register")
	}
	return uint32(-r.ID())
}

// Physical returns the physical register id. It panics on a virtual register.
func (r Reg) Physical() uint8 {
	if r.IsVirtual() {
		panic("BUG: Physical called on a virtual register")
	}
	return uint8(r.ID())
}

// WithMask returns the view of the same register entry with another mask.
func (r Reg) WithMask(m Mask) Reg {
	return Reg(m)<<32 | r&0xffffffff
}

// WithPhysical returns the same view bound to the physical register pid.
func (r Reg) WithPhysical(pid uint8) Reg {
	return FromPhysical(pid, r.Mask())
}

// String implements fmt.Stringer.
func (r Reg) String() string {
	if !r.Valid() {
		return "invalid"
	}
	return fmt.Sprintf("%s/%#x", r.Key(), uint32(r.Mask()))
}

// Reconstruct decomposes an accumulated mask for the register entry k back into the widest
// register view it represents. A mask that cannot come from views of k is a bug upstream.
func Reconstruct(k Key, m Mask) Reg {
	var view Mask
	switch k.Kind() {
	case KindVector:
		switch {
		case m&0x400 != 0:
			view = MaskZMM
		case m&0x200 != 0:
			view = MaskYMM
		case m&0x100 != 0:
			view = MaskXMM
		}
	case KindMMX:
		if m&MaskMMX != 0 {
			view = MaskMMX
		}
	case KindMask:
		if m&MaskK != 0 {
			view = MaskK
		}
	case KindGP:
		switch {
		case m&0x8 != 0:
			view = MaskGP64
		case m&0x4 != 0:
			view = MaskGP32
		case m == MaskGP8High:
			view = MaskGP8High
		case m&0x2 != 0:
			view = MaskGP16
		case m&0x1 != 0:
			view = MaskGP8
		}
	}
	if view == 0 || m&^view != 0 {
		panic(fmt.Sprintf("BUG: mask %#x is not a valid view of %s", uint32(m), k))
	}
	return Reg(view)<<32 | Reg(uint32(k.ID()))
}

// MaskMap accumulates view masks per register entry.
type MaskMap map[Key]Mask

// Add merges the view of r into the map and returns true if the map changed.
func (mm MaskMap) Add(r Reg) bool {
	return mm.AddMask(r.Key(), r.Mask())
}

// AddMask merges m into the entry k and returns true if the map changed.
func (mm MaskMap) AddMask(k Key, m Mask) bool {
	prev := mm[k]
	if prev|m == prev {
		return false
	}
	mm[k] = prev | m
	return true
}

// Or merges all entries of o into mm and returns the number of entries that changed.
func (mm MaskMap) Or(o MaskMap) (changed int) {
	for k, m := range o {
		if mm.AddMask(k, m) {
			changed++
		}
	}
	return
}

// Remove clears the bits of m from the entry k, deleting it once empty.
func (mm MaskMap) Remove(k Key, m Mask) {
	if rest := mm[k] &^ m; rest == 0 {
		delete(mm, k)
	} else {
		mm[k] = rest
	}
}

// Clone returns a copy of mm.
func (mm MaskMap) Clone() MaskMap {
	ret := make(MaskMap, len(mm))
	for k, m := range mm {
		ret[k] = m
	}
	return ret
}

// Equal returns true if both maps hold the same masks.
func (mm MaskMap) Equal(o MaskMap) bool {
	if len(mm) != len(o) {
		return false
	}
	for k, m := range mm {
		if om, ok := o[k]; !ok || om != m {
			return false
		}
	}
	return true
}

// Less orders keys by kind, then physical before virtual registers, then by id.
func (k Key) Less(o Key) bool {
	if k.Kind() != o.Kind() {
		return k.Kind() < o.Kind()
	}
	if k.IsVirtual() != o.IsVirtual() {
		return !k.IsVirtual()
	}
	if k.IsVirtual() {
		return k.ID() > o.ID()
	}
	return k.ID() < o.ID()
}

// SortedKeys returns the keys ordered by Key.Less so that iteration is deterministic.
func (mm MaskMap) SortedKeys() []Key {
	ret := make([]Key, 0, len(mm))
	for k := range mm {
		ret = append(ret, k)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Less(ret[j]) })
	return ret
}

// Regs returns the reconstructed register views ordered by Key.Less.
func (mm MaskMap) Regs() []Reg {
	keys := mm.SortedKeys()
	ret := make([]Reg, len(keys))
	for i, k := range keys {
		ret[i] = Reconstruct(k, mm[k])
	}
	return ret
}
