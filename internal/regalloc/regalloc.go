// Package regalloc analyzes an instruction list and assigns physical registers to virtual registers.
// The algorithm works on any ISA whose instructions implement the interfaces in api.go.
//
// The allocator never spills: if the virtual registers live at some point do not fit in the register
// file, allocation fails with a CapacityError.
package regalloc

// References:
// * https://web.stanford.edu/class/archive/cs/cs143/cs143.1128/lectures/17/Slides17.pdf
// * https://en.wikipedia.org/wiki/Chaitin%27s_algorithm

import (
	"fmt"
	"sort"

	"github.com/peachjit/peachjit/internal/jitapi"
	"go.uber.org/zap"
)

type (
	// RegisterInfo holds the ABI-specific register information.
	RegisterInfo struct {
		// Allocatable lists the allocatable physical registers of each kind.
		// The order matters: the first element is the most preferred one when allocating.
		Allocatable [NumKinds][]uint8
		// CalleeSaved holds the registers of each kind that must be preserved across calls.
		CalleeSaved [NumKinds]RegSet
	}

	// Allocator assigns physical registers to the virtual registers of one analyzed instruction list.
	Allocator struct {
		info     *RegisterInfo
		hints    map[Key]uint8
		nodePool jitapi.Pool[node]
		nodes    map[Key]*node
	}

	// node represents a virtual register in the interference graph.
	node struct {
		key Key
		// mask is the union of all views of the register used in the instruction list.
		mask      Mask
		neighbors []*node
		nset      map[Key]struct{}
		// forbidden holds the physical registers occupied while this register is live.
		forbidden RegSet
		fixed     bool
		color     int
		degree    int
		visited   bool
		// first is the index of the first instruction referring to this register.
		first int
	}

	// Allocation maps virtual registers to physical register ids.
	Allocation map[Key]uint8
)

// NewAllocator returns a new Allocator.
func NewAllocator(info *RegisterInfo) *Allocator {
	return &Allocator{info: info, hints: map[Key]uint8{}, nodePool: jitapi.NewPool[node]()}
}

// Hint records pid as the preferred physical register of the virtual register r.
func (al *Allocator) Hint(r Reg, pid uint8) {
	al.hints[r.Key()] = pid
}

// Allocate checks the register pressure, applies the fixed-register requirements and colors the
// interference graph of each register kind independently.
func (al *Allocator) Allocate(a *Analysis) (Allocation, error) {
	if err := CheckPressure(a, al.info); err != nil {
		return nil, err
	}
	al.buildGraph(a)
	if err := al.prebind(a); err != nil {
		return nil, err
	}
	ret := Allocation{}
	for k := KindGP; k < NumKinds; k++ {
		if err := al.coloringFor(a, k, ret); err != nil {
			return nil, err
		}
	}
	return ret, nil
}

// CheckPressure returns a CapacityError for the first instruction at which more registers of one
// kind are occupied than there are allocatable physical registers of that kind.
func CheckPressure(a *Analysis, info *RegisterInfo) error {
	var allocatable [NumKinds]RegSet
	for k := range info.Allocatable {
		allocatable[k] = NewRegSet(info.Allocatable[k]...)
	}
	for i, instr := range a.instrs {
		if !a.Reachable(i) {
			continue
		}
		var counts [NumKinds]int
		for k := range a.Occupied(i) {
			if k.IsVirtual() || allocatable[k.Kind()].Has(uint8(k.ID())) {
				counts[k.Kind()]++
			}
		}
		for k := KindGP; k < NumKinds; k++ {
			if budget := len(info.Allocatable[k]); counts[k] > budget {
				return &CapacityError{Kind: k, Live: counts[k], Budget: budget, Instr: instr.String(), Origin: originOf(instr)}
			}
		}
	}
	return nil
}

func (al *Allocator) nodeOf(k Key, first int) *node {
	if n, ok := al.nodes[k]; ok {
		return n
	}
	n, _ := al.nodePool.Allocate()
	*n = node{key: k, color: -1, first: first, nset: map[Key]struct{}{}}
	al.nodes[k] = n
	return n
}

func (al *Allocator) addEdge(x, y *node) {
	if x == y {
		return
	}
	if _, ok := x.nset[y.key]; ok {
		return
	}
	x.nset[y.key], y.nset[x.key] = struct{}{}, struct{}{}
	x.neighbors = append(x.neighbors, y)
	y.neighbors = append(y.neighbors, x)
}

// buildGraph makes every virtual operand of an instruction interfere with every other register
// occupied at that instruction, and forbids the physical registers occupied while a virtual register is.
func (al *Allocator) buildGraph(a *Analysis) {
	al.nodePool.Reset()
	al.nodes = map[Key]*node{}
	for i, instr := range a.instrs {
		if !a.Reachable(i) {
			continue
		}
		for _, r := range instr.Registers() {
			if r.IsVirtual() {
				al.nodeOf(r.Key(), i).mask |= r.Mask()
			}
		}
		for _, rs := range [][]Reg{a.uses[i], a.defs[i]} {
			for _, r := range rs {
				if r.IsVirtual() {
					al.nodeOf(r.Key(), i).mask |= r.Mask()
				}
			}
		}
	}

	for i, instr := range a.instrs {
		if !a.Reachable(i) {
			continue
		}
		occupied := a.Occupied(i)
		keys := occupied.SortedKeys()
		// A virtual register only conflicts with a physical one when both are held on entry, or both on
		// exit: an instruction reads its inputs before it writes its outputs.
		before := a.LiveBefore(i)
		after := a.LiveAfter(i).Clone()
		for _, r := range a.defs[i] {
			after.Add(r)
		}
		for _, k := range keys {
			if !k.IsVirtual() {
				continue
			}
			n := al.nodeOf(k, i)
			for _, p := range keys {
				if !p.IsVirtual() && p.Kind() == k.Kind() && (heldTogether(before, k, p, n.mask) || heldTogether(after, k, p, n.mask)) {
					n.forbidden = n.forbidden.Add(uint8(p.ID()))
				}
			}
		}
		operands := append(append([]Reg(nil), instr.Registers()...), a.defs[i]...)
		for _, r := range operands {
			if !r.IsVirtual() {
				continue
			}
			n := al.nodes[r.Key()]
			for _, k := range keys {
				if k.IsVirtual() && k.Kind() == n.key.Kind() && occupied[k].Overlaps(n.mask) {
					al.addEdge(n, al.nodes[k])
				}
			}
		}
	}
}

func heldTogether(m MaskMap, virtual, physical Key, mask Mask) bool {
	_, ok := m[virtual]
	pm, pok := m[physical]
	return ok && pok && pm.Overlaps(mask)
}

func (al *Allocator) prebind(a *Analysis) error {
	for i, instr := range a.instrs {
		if !a.Reachable(i) {
			continue
		}
		for _, f := range instr.FixedOperands() {
			if !f.Reg.IsVirtual() {
				continue
			}
			fail := func(reason string) error {
				return &PreBindingError{Reg: f.Reg, Phys: f.Phys, Reason: reason, Instr: instr.String(), Origin: originOf(instr)}
			}
			phys := MakeKey(f.Reg.Kind(), ID(f.Phys))
			if _, ok := a.LiveBefore(i)[phys]; ok {
				return fail("the physical register is live")
			}
			if _, ok := a.LiveAfter(i)[phys]; ok {
				return fail("the physical register is live")
			}
			n := al.nodes[f.Reg.Key()]
			if n.fixed && n.color != int(f.Phys) {
				return fail(fmt.Sprintf("the register is already bound to physical register %d", n.color))
			}
			if n.forbidden.Has(f.Phys) {
				return fail("the register is live while the physical register is in use")
			}
			n.fixed, n.color = true, int(f.Phys)
		}
	}
	for i := 0; i < al.nodePool.Allocated(); i++ {
		n := al.nodePool.View(i)
		if !n.fixed {
			continue
		}
		for _, m := range n.neighbors {
			if m.fixed && m.color == n.color {
				instr := a.instrs[n.first]
				return &PreBindingError{
					Reg: Reconstruct(n.key, n.mask), Phys: uint8(n.color),
					Reason: fmt.Sprintf("it conflicts with %s which requires the same physical register", m.key),
					Instr:  instr.String(), Origin: originOf(instr),
				}
			}
		}
	}
	return nil
}

// coloringFor colors the graph of the given register kind. The algorithm here is called "Chaitin's Algorithm".
// Nodes are visited in a deterministic order so that the same input always gets the same allocation.
func (al *Allocator) coloringFor(a *Analysis, kind Kind, ret Allocation) error {
	allocatable := al.info.Allocatable[kind]
	numAllocatable := len(allocatable)

	var degreeSortedNodes []*node
	for i := 0; i < al.nodePool.Allocated(); i++ {
		if n := al.nodePool.View(i); n.key.Kind() == kind {
			degreeSortedNodes = append(degreeSortedNodes, n)
		}
	}
	sort.Slice(degreeSortedNodes, func(i, j int) bool {
		return degreeSortedNodes[i].key.ID() > degreeSortedNodes[j].key.ID()
	})

	// Initialize the degree for each node which is defined as the number of neighbors.
	for _, n := range degreeSortedNodes {
		sort.Slice(n.neighbors, func(i, j int) bool { return n.neighbors[i].key.ID() > n.neighbors[j].key.ID() })
		n.degree = len(n.neighbors)
		n.visited = false
	}

	// Sort the nodes by the current degree.
	sort.SliceStable(degreeSortedNodes, func(i, j int) bool {
		return degreeSortedNodes[i].degree < degreeSortedNodes[j].degree
	})

	// First step of the algorithm:
	// until we have removed the all the nodes:
	//	1. pop the nodes with degree < numAllocatable.
	//  2. if there's no node with degree < numAllocatable, pick the last unvisited node optimistically.
	var coloringStack, popTargetQueue []*node
	for _, n := range degreeSortedNodes {
		if n.degree < numAllocatable {
			popTargetQueue = append(popTargetQueue, n)
			n.visited = true
		} else {
			break
		}
	}
	total := len(degreeSortedNodes)
	for len(coloringStack) != total {
		if len(popTargetQueue) == 0 {
			for j := len(degreeSortedNodes) - 1; j >= 0; j-- {
				if n := degreeSortedNodes[j]; !n.visited {
					popTargetQueue = append(popTargetQueue, n)
					n.visited = true
					break
				}
			}
		}
		for len(popTargetQueue) > 0 {
			top := popTargetQueue[0]
			popTargetQueue = popTargetQueue[1:]
			for _, neighbor := range top.neighbors {
				neighbor.degree--
				if neighbor.degree < numAllocatable && !neighbor.visited {
					popTargetQueue = append(popTargetQueue, neighbor)
					neighbor.visited = true
				}
			}
			coloringStack = append(coloringStack, top)
		}
	}

	// Assign colors.
	for i := len(coloringStack) - 1; i >= 0; i-- {
		n := coloringStack[i]
		if n.fixed {
			continue
		}
		if jitapi.RegAllocLoggingEnabled {
			fmt.Printf("coloring %s\n", n.key)
		}
		taken := n.forbidden
		for _, neighbor := range n.neighbors {
			if neighbor.color >= 0 {
				taken = taken.Add(uint8(neighbor.color))
			}
		}
		if hint, ok := al.hints[n.key]; ok && !taken.Has(hint) && contains(allocatable, hint) {
			n.color = int(hint)
		} else {
			for _, color := range allocatable {
				if !taken.Has(color) {
					n.color = int(color)
					break
				}
			}
		}
		if n.color < 0 {
			instr := a.instrs[n.first]
			return &CapacityError{Kind: kind, Live: taken.Len() + 1, Budget: numAllocatable, Instr: instr.String(), Origin: originOf(instr)}
		}
		if jitapi.RegAllocLoggingEnabled {
			fmt.Printf("\tassigned color: %d\n", n.color)
		}
	}

	if jitapi.RegAllocValidationEnabled {
		for _, n := range coloringStack {
			for _, neighbor := range n.neighbors {
				if n.color == neighbor.color {
					panic(fmt.Sprintf("BUG color conflict: %s vs %s", n.key, neighbor.key))
				}
			}
		}
	}

	for _, n := range coloringStack {
		ret[n.key] = uint8(n.color)
		jitapi.Logger().Debug("allocated register", zap.Stringer("vreg", n.key), zap.Int("preg", n.color))
	}
	return nil
}

func contains(regs []uint8, r uint8) bool {
	for _, x := range regs {
		if x == r {
			return true
		}
	}
	return false
}

// Bind returns the physical view of r. Physical registers are returned unchanged.
func (al Allocation) Bind(r Reg) (Reg, bool) {
	if !r.IsVirtual() {
		return r, true
	}
	pid, ok := al[r.Key()]
	if !ok {
		return RegInvalid, false
	}
	return r.WithPhysical(pid), true
}

// Used returns the physical registers of the given kind assigned to some virtual register.
func (al Allocation) Used(kind Kind) RegSet {
	var ret RegSet
	for k, pid := range al {
		if k.Kind() == kind {
			ret = ret.Add(pid)
		}
	}
	return ret
}
