package function

import (
	"fmt"
	"sort"

	"github.com/peachjit/peachjit/internal/isa/amd64"
)

// local is a stack variable in the arena of its function. A half of a split variable is not
// allocated on its own: it lives at the address of its parent plus offset.
type local struct {
	size, align int
	// parent is the arena index of the enclosing variable, or -1 for a root variable.
	parent int
	offset int
	// lo and hi are the arena indices of the halves plus one, or zero before the first split.
	lo, hi int
}

// Local is a handle to a stack variable of a Function.
type Local struct {
	fn    *Function
	index int
}

// NewLocal allocates a stack variable of size bytes aligned to align bytes. Both must be powers of
// two, and an align of zero means the natural alignment of size.
func (f *Function) NewLocal(size, align int) Local {
	if align == 0 {
		align = size
	}
	if size <= 0 || size&(size-1) != 0 || align <= 0 || align&(align-1) != 0 {
		f.fail(&UsageError{Function: f.name, Origin: f.caller(), Reason: fmt.Sprintf("invalid local variable size %d or alignment %d", size, align)})
		return Local{fn: f, index: -1}
	}
	l, idx := f.locals.Allocate()
	*l = local{size: size, align: align, parent: -1}
	return Local{fn: f, index: idx}
}

func (l Local) view() *local {
	if l.index < 0 {
		return &local{size: 1, align: 1, parent: -1}
	}
	return l.fn.locals.View(l.index)
}

// Size returns the size of the variable in bytes.
func (l Local) Size() int { return l.view().size }

// Alignment returns the alignment of the variable in bytes.
func (l Local) Alignment() int { return l.view().align }

// Lo returns the lower half of the variable.
func (l Local) Lo() Local { return l.half(false) }

// Hi returns the upper half of the variable.
func (l Local) Hi() Local { return l.half(true) }

func (l Local) half(hi bool) Local {
	if l.index < 0 {
		return l
	}
	v := l.view()
	if v.size < 2 {
		l.fn.fail(&UsageError{Function: l.fn.name, Reason: fmt.Sprintf("local variable of size %d cannot be split", v.size)})
		return Local{fn: l.fn, index: -1}
	}
	if v.lo == 0 {
		half := v.size / 2
		align := v.align
		if align > half {
			align = half
		}
		parent := l.index
		lo, loIdx := l.fn.locals.Allocate()
		*lo = local{size: half, align: align, parent: parent}
		h, hiIdx := l.fn.locals.Allocate()
		*h = local{size: half, align: align, parent: parent, offset: half}
		// Allocate may grow the arena, so look up the parent again.
		v = l.fn.locals.View(parent)
		v.lo, v.hi = loIdx+1, hiIdx+1
	}
	if hi {
		return Local{fn: l.fn, index: v.hi - 1}
	}
	return Local{fn: l.fn, index: v.lo - 1}
}

// Mem returns the address of the variable. It is resolved to a stack address when the function is
// bound to an ABI.
func (l Local) Mem() amd64.Memory {
	return amd64.Memory{Local: l.index + 1, Size: l.view().size}
}

// root returns the arena index of the root variable enclosing the i-th one and the offset of the
// i-th variable within it.
func (f *Function) root(i int) (int, int) {
	off := 0
	for {
		v := f.locals.View(i)
		if v.parent < 0 {
			return i, off
		}
		off += v.offset
		i = v.parent
	}
}

// localLayout holds the placement of the root variables within the locals area of the stack frame.
type localLayout struct {
	offsets map[int]int
	size    int
	align   int
}

// layoutLocals places the root variables in order of decreasing alignment and then decreasing size,
// which leaves no padding between variables of power-of-two sizes.
func (f *Function) layoutLocals() localLayout {
	ret := localLayout{offsets: map[int]int{}, align: 1}
	var roots []int
	for i := 0; i < f.locals.Allocated(); i++ {
		if f.locals.View(i).parent < 0 {
			roots = append(roots, i)
		}
	}
	sort.SliceStable(roots, func(i, j int) bool {
		a, b := f.locals.View(roots[i]), f.locals.View(roots[j])
		if a.align != b.align {
			return a.align > b.align
		}
		return a.size > b.size
	})
	for _, i := range roots {
		v := f.locals.View(i)
		ret.size = roundUp(ret.size, v.align)
		ret.offsets[i] = ret.size
		ret.size += v.size
		if v.align > ret.align {
			ret.align = v.align
		}
	}
	return ret
}

// address returns the offset of the variable referenced by m from the bottom of the locals area.
func (l localLayout) address(f *Function, m amd64.Memory) int {
	root, off := f.root(m.Local - 1)
	return l.offsets[root] + off
}

func roundUp(v, align int) int {
	if align <= 1 {
		return v
	}
	return (v + align - 1) / align * align
}
