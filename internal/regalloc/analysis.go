package regalloc

import (
	"fmt"

	"github.com/peachjit/peachjit/internal/jitapi"
	"go.uber.org/zap"
)

type (
	// Analysis holds the control flow and dataflow facts of one instruction list.
	// It is computed by Analyze and is not affected by later changes to the instructions.
	Analysis struct {
		instrs []Instr
		// blocks is the arena of basic blocks, referenced by index.
		blocks     jitapi.Pool[block]
		blockOf    []int
		labelBlock map[int]int
		reachable  bitset

		modes      []Mode
		uses, defs [][]Reg
		liveBefore []MaskMap
		availIn    []MaskMap

		// Rounds and Changes report the work done by the last dataflow fixpoint.
		Rounds, Changes int
	}

	// block is a maximal range of instructions [begin, end) with a single entry and a single exit.
	block struct {
		begin, end   int
		preds, succs []int
		// consumed holds the views read before being written in the block, produced the views written.
		consumed, produced MaskMap
		liveIn, liveOut    MaskMap
		availIn, availOut  MaskMap
		modeIn, modeOut    Mode
		modeNext           Mode
	}

	// BlockInfo is the read-only view of a basic block.
	BlockInfo struct {
		Begin, End        int
		Preds, Succs      []int
		Reachable         bool
		LiveIn, LiveOut   MaskMap
		AvailIn, AvailOut MaskMap
	}
)

// Analyze partitions instrs into basic blocks, determines which blocks are reachable from the entry,
// propagates the SSE/AVX mode and runs the availability and liveness dataflow to a fixpoint.
func Analyze(instrs []Instr) (*Analysis, error) {
	a := &Analysis{instrs: instrs, blocks: jitapi.NewPool[block]()}
	if err := a.partition(); err != nil {
		return nil, err
	}
	a.markReachable()
	if err := a.propagateModes(); err != nil {
		return nil, err
	}
	a.computeLocalEffects()
	a.Recompute()

	if jitapi.AnalysisLoggingEnabled {
		for i := 0; i < a.blocks.Allocated(); i++ {
			b := a.blocks.View(i)
			fmt.Printf("block[%d] [%d, %d) preds=%v succs=%v live-in=%v\n", i, b.begin, b.end, b.preds, b.succs, b.liveIn.Regs())
		}
	}
	jitapi.Logger().Debug("analyzed instruction list",
		zap.Int("instructions", len(instrs)),
		zap.Int("blocks", a.blocks.Allocated()),
		zap.Int("reachable", a.reachable.count()),
		zap.Int("rounds", a.Rounds))
	return a, nil
}

func (a *Analysis) partition() error {
	a.blockOf = make([]int, len(a.instrs))
	a.labelBlock = make(map[int]int)
	var cur *block
	curID := -1
	for i, instr := range a.instrs {
		ctrl, label := instr.Control()
		if cur == nil || ctrl == ControlLabel {
			if cur != nil {
				cur.end = i
			}
			cur, curID = a.blocks.Allocate()
			cur.begin = i
		}
		a.blockOf[i] = curID
		if ctrl == ControlLabel {
			if _, ok := a.labelBlock[label]; ok {
				return fmt.Errorf("label %d is defined more than once", label)
			}
			a.labelBlock[label] = curID
		}
		if ctrl == ControlJump || ctrl == ControlCondJump || ctrl == ControlReturn {
			cur.end = i + 1
			cur = nil
		}
	}
	if cur != nil {
		cur.end = len(a.instrs)
	}

	n := a.blocks.Allocated()
	for id := 0; id < n; id++ {
		b := a.blocks.View(id)
		last := a.instrs[b.end-1]
		ctrl, label := last.Control()
		switch ctrl {
		case ControlJump, ControlCondJump:
			target, ok := a.labelBlock[label]
			if !ok {
				return fmt.Errorf("branch %q refers to undefined label %d", last, label)
			}
			a.link(id, target)
			if ctrl == ControlCondJump && id+1 < n {
				a.link(id, id+1)
			}
		case ControlReturn:
		default:
			if id+1 < n {
				a.link(id, id+1)
			}
		}
	}
	return nil
}

func (a *Analysis) link(from, to int) {
	f := a.blocks.View(from)
	for _, s := range f.succs {
		if s == to {
			return
		}
	}
	f.succs = append(f.succs, to)
	t := a.blocks.View(to)
	t.preds = append(t.preds, from)
}

func (a *Analysis) markReachable() {
	a.reachable.reset()
	if a.blocks.Allocated() == 0 {
		return
	}
	stack := []int{0}
	a.reachable.set(0)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, s := range a.blocks.View(id).succs {
			if !a.reachable.has(uint(s)) {
				a.reachable.set(uint(s))
				stack = append(stack, s)
			}
		}
	}
}

func mergeMode(x, y Mode) Mode {
	switch {
	case x == ModeNone:
		return y
	case y == ModeNone, x == y:
		return x
	default:
		// Paths disagree: the upper state may be dirty.
		return ModeAVX
	}
}

// propagateModes resolves the mode of every reachable instruction. The forward state is the mode
// established by the nearest preceding SSE or AVX instruction; instructions that inherit their mode
// fall back to the nearest following known mode when no preceding one exists.
func (a *Analysis) propagateModes() error {
	n := a.blocks.Allocated()
	a.modes = make([]Mode, len(a.instrs))

	for changed := true; changed; {
		changed = false
		for id := 0; id < n; id++ {
			if !a.reachable.has(uint(id)) {
				continue
			}
			b := a.blocks.View(id)
			in := b.modeIn
			for _, p := range b.preds {
				if a.reachable.has(uint(p)) {
					in = mergeMode(in, a.blocks.View(p).modeOut)
				}
			}
			state := in
			for i := b.begin; i < b.end; i++ {
				switch a.instrs[i].Mode() {
				case ModeSSE:
					state = ModeSSE
				case ModeAVX:
					state = mergeMode(state, ModeAVX)
				case ModeReset:
					state = ModeNone
				}
			}
			if in != b.modeIn || state != b.modeOut {
				b.modeIn, b.modeOut = in, state
				changed = true
			}
		}
	}

	for changed := true; changed; {
		changed = false
		for id := n - 1; id >= 0; id-- {
			if !a.reachable.has(uint(id)) {
				continue
			}
			b := a.blocks.View(id)
			next := ModeNone
			for _, s := range b.succs {
				next = mergeMode(next, a.blocks.View(s).modeNext)
			}
			for i := b.end - 1; i >= b.begin; i-- {
				switch a.instrs[i].Mode() {
				case ModeSSE:
					next = ModeSSE
				case ModeAVX, ModeReset:
					next = ModeAVX
				}
			}
			if next != b.modeNext {
				b.modeNext = next
				changed = true
			}
		}
	}

	for id := 0; id < n; id++ {
		if !a.reachable.has(uint(id)) {
			continue
		}
		b := a.blocks.View(id)
		state, lastSSE := b.modeIn, -1
		next := make([]Mode, b.end-b.begin+1)
		for _, s := range b.succs {
			next[len(next)-1] = mergeMode(next[len(next)-1], a.blocks.View(s).modeNext)
		}
		for i := b.end - 1; i >= b.begin; i-- {
			switch a.instrs[i].Mode() {
			case ModeSSE:
				next[i-b.begin] = ModeSSE
			case ModeAVX, ModeReset:
				next[i-b.begin] = ModeAVX
			default:
				next[i-b.begin] = next[i-b.begin+1]
			}
		}
		for i := b.begin; i < b.end; i++ {
			instr := a.instrs[i]
			switch m := instr.Mode(); m {
			case ModeSSE:
				a.modes[i], state, lastSSE = ModeSSE, ModeSSE, i
			case ModeAVX:
				if state == ModeSSE {
					e := &ModeError{Instr: instr.String(), Origin: originOf(instr)}
					if lastSSE >= 0 {
						e.Prev = a.instrs[lastSSE].String()
					}
					return e
				}
				a.modes[i], state = ModeAVX, ModeAVX
			case ModeReset:
				a.modes[i], state = ModeAVX, ModeNone
			case ModeInherit:
				a.modes[i] = state
				if state == ModeNone {
					a.modes[i] = next[i-b.begin+1]
				}
			}
		}
	}
	return nil
}

func (a *Analysis) computeLocalEffects() {
	a.uses = make([][]Reg, len(a.instrs))
	a.defs = make([][]Reg, len(a.instrs))
	for id := 0; id < a.blocks.Allocated(); id++ {
		b := a.blocks.View(id)
		b.consumed, b.produced = MaskMap{}, MaskMap{}
		b.liveIn, b.liveOut, b.availIn, b.availOut = MaskMap{}, MaskMap{}, MaskMap{}, MaskMap{}
		reachable := a.reachable.has(uint(id))
		for i := b.begin; i < b.end; i++ {
			if !reachable {
				continue
			}
			instr := a.instrs[i]
			a.uses[i] = instr.Uses()
			a.defs[i] = instr.Defs(a.modes[i] == ModeAVX)
			for _, r := range a.uses[i] {
				if m := r.Mask() &^ b.produced[r.Key()]; m != 0 {
					b.consumed.AddMask(r.Key(), m)
				}
			}
			for _, r := range a.defs[i] {
				b.produced.Add(r)
			}
		}
	}
}

// Recompute runs the availability and liveness dataflow to a fixpoint starting from the current
// block sets, and records the number of rounds and block set changes. On an already stable analysis
// it completes in exactly one round with no changes.
func (a *Analysis) Recompute() (rounds, changes int) {
	n := a.blocks.Allocated()
	for {
		rounds++
		roundChanges := 0
		// Availability flows forward.
		for id := 0; id < n; id++ {
			if !a.reachable.has(uint(id)) {
				continue
			}
			b := a.blocks.View(id)
			in := MaskMap{}
			for _, p := range b.preds {
				if a.reachable.has(uint(p)) {
					in.Or(a.blocks.View(p).availOut)
				}
			}
			out := in.Clone()
			out.Or(b.produced)
			if !in.Equal(b.availIn) || !out.Equal(b.availOut) {
				b.availIn, b.availOut = in, out
				roundChanges++
			}
		}
		// Liveness flows backward.
		for id := n - 1; id >= 0; id-- {
			if !a.reachable.has(uint(id)) {
				continue
			}
			b := a.blocks.View(id)
			out := MaskMap{}
			for _, s := range b.succs {
				out.Or(a.blocks.View(s).liveIn)
			}
			in := out.Clone()
			for k, m := range b.produced {
				in.Remove(k, m)
			}
			in.Or(b.consumed)
			if !in.Equal(b.liveIn) || !out.Equal(b.liveOut) {
				b.liveIn, b.liveOut = in, out
				roundChanges++
			}
		}
		changes += roundChanges
		if roundChanges == 0 {
			break
		}
	}
	a.Rounds, a.Changes = rounds, changes
	a.computeInstructionSets()
	return
}

func (a *Analysis) computeInstructionSets() {
	a.liveBefore = make([]MaskMap, len(a.instrs))
	a.availIn = make([]MaskMap, len(a.instrs))
	for id := 0; id < a.blocks.Allocated(); id++ {
		b := a.blocks.View(id)
		if !a.reachable.has(uint(id)) {
			for i := b.begin; i < b.end; i++ {
				a.liveBefore[i], a.availIn[i] = MaskMap{}, MaskMap{}
			}
			continue
		}
		live := b.liveOut.Clone()
		for i := b.end - 1; i >= b.begin; i-- {
			for _, r := range a.defs[i] {
				live.Remove(r.Key(), r.Mask())
			}
			for _, r := range a.uses[i] {
				live.Add(r)
			}
			a.liveBefore[i] = live.Clone()
		}
		avail := b.availIn.Clone()
		for i := b.begin; i < b.end; i++ {
			a.availIn[i] = avail.Clone()
			for _, r := range a.defs[i] {
				avail.Add(r)
			}
		}
	}
}

// Instructions returns the analyzed instruction list.
func (a *Analysis) Instructions() []Instr {
	return a.instrs
}

// NumBlocks returns the number of basic blocks.
func (a *Analysis) NumBlocks() int {
	return a.blocks.Allocated()
}

// Block returns the facts of the i-th basic block.
func (a *Analysis) Block(i int) BlockInfo {
	b := a.blocks.View(i)
	return BlockInfo{
		Begin: b.begin, End: b.end,
		Preds: b.preds, Succs: b.succs,
		Reachable: a.reachable.has(uint(i)),
		LiveIn:    b.liveIn, LiveOut: b.liveOut,
		AvailIn: b.availIn, AvailOut: b.availOut,
	}
}

// BlockOf returns the index of the block containing the i-th instruction.
func (a *Analysis) BlockOf(i int) int {
	return a.blockOf[i]
}

// Reachable returns true if the i-th instruction can be reached from the entry.
func (a *Analysis) Reachable(i int) bool {
	return a.reachable.has(uint(a.blockOf[i]))
}

// Mode returns the resolved mode of the i-th instruction: ModeNone, ModeSSE or ModeAVX.
func (a *Analysis) Mode(i int) Mode {
	return a.modes[i]
}

// UsesAt returns the registers read by the i-th instruction.
func (a *Analysis) UsesAt(i int) []Reg {
	return a.uses[i]
}

// DefsAt returns the registers written by the i-th instruction, widened for its resolved mode.
func (a *Analysis) DefsAt(i int) []Reg {
	return a.defs[i]
}

// LiveBefore returns the register views live on entry to the i-th instruction.
func (a *Analysis) LiveBefore(i int) MaskMap {
	return a.liveBefore[i]
}

// LiveAfter returns the register views live on exit from the i-th instruction.
func (a *Analysis) LiveAfter(i int) MaskMap {
	b := a.blocks.View(a.blockOf[i])
	if i+1 < b.end {
		return a.liveBefore[i+1]
	}
	if !a.reachable.has(uint(a.blockOf[i])) {
		return MaskMap{}
	}
	return b.liveOut
}

// AvailableBefore returns the register views that may hold a value on entry to the i-th instruction.
func (a *Analysis) AvailableBefore(i int) MaskMap {
	return a.availIn[i]
}

// Occupied returns the register views that must be held in registers while the i-th instruction
// executes: those live on entry plus those it writes.
func (a *Analysis) Occupied(i int) MaskMap {
	ret := a.liveBefore[i].Clone()
	for _, r := range a.defs[i] {
		ret.Add(r)
	}
	return ret
}

// Undefined returns the virtual registers read by the i-th instruction that are not written on any
// path reaching it.
func (a *Analysis) Undefined(i int) []Reg {
	var ret []Reg
	for _, r := range a.uses[i] {
		if r.IsVirtual() && a.availIn[i][r.Key()]&r.Mask() == 0 {
			ret = append(ret, r)
		}
	}
	return ret
}
