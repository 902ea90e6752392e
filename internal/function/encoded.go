package function

import (
	"encoding/hex"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/peachjit/peachjit/internal/abi"
	"github.com/peachjit/peachjit/internal/isa/amd64"
	"github.com/peachjit/peachjit/internal/jitapi"
	"github.com/peachjit/peachjit/internal/literal"
	"github.com/peachjit/peachjit/internal/name"
)

// EncodedFunction is the machine code of a bound function together with its literal constants and
// the relocations to apply once the code and the constants are placed in memory.
type EncodedFunction struct {
	name   string
	abi    *abi.ABI
	labels func(int) string

	slots       []slot
	labelAddr   map[int]int
	bundleSize  int
	code        []byte
	section     *literal.Section
	relocations []literal.Relocation
	passes      int
}

// slot is an instruction placed in the code. Labels and alignment directives take no bytes of their own.
type slot struct {
	instr *amd64.Instruction
	// code is the encoding of non-branch instructions.
	code []byte
	// long selects the 32-bit displacement form of branches.
	long bool
	// sticky is set when the instruction must share a bundle with the next one.
	sticky bool
	symbol *literal.Symbol

	// offset is the address of the instruction and pad the length of the padding placed before it.
	// bundlePad is set when the padding moves a group of instructions to the next bundle.
	offset    int
	pad       int
	bundlePad bool
}

func (s *slot) length() int {
	switch {
	case s.instr.IsBranch():
		return s.instr.BranchLength(s.long)
	default:
		return len(s.code)
	}
}

// Encode encodes the function. Native Client functions are packed into 32-byte bundles.
func (f *ABIFunction) Encode() (*EncodedFunction, error) {
	bundle := 0
	if f.abi.Family == abi.FamilyNativeClient {
		bundle = 32
	}
	return f.EncodeBundled(bundle, false)
}

// EncodeBundled encodes the function so that no instruction crosses a boundary of bundleSize bytes,
// which is zero to disable bundling. With optimize set, the padding at the end of bundles is
// reduced by choosing longer encodings of the instructions in the bundle.
func (f *ABIFunction) EncodeBundled(bundleSize int, optimize bool) (*EncodedFunction, error) {
	if bundleSize != 0 && (bundleSize < 16 || bundleSize > 4096 || bundleSize&(bundleSize-1) != 0) {
		return nil, fmt.Errorf("invalid bundle size %d: must be a power of two between 16 and 4096", bundleSize)
	}
	e := &EncodedFunction{
		name:       f.name,
		abi:        f.abi,
		labels:     f.LabelName,
		bundleSize: bundleSize,
		section:    literal.NewSection(f.abi.ByteOrder),
	}
	if err := e.encodeInstructions(f); err != nil {
		return nil, err
	}
	if err := e.layout(); err != nil {
		return nil, err
	}
	if optimize && bundleSize > 0 {
		if e.optimize() {
			if err := e.layout(); err != nil {
				return nil, err
			}
		}
	}
	if err := e.emit(); err != nil {
		return nil, err
	}
	if jitapi.EncodingLoggingEnabled {
		jitapi.Logger().Debug("encoded function", zap.String("name", e.name),
			zap.Int("bytes", len(e.code)), zap.Int("passes", e.passes), zap.Int("padding", e.Padding()))
	}
	if jitapi.PrintFinalizedMachineCode {
		fmt.Println("[[[machine code for " + e.name + "]]]\n" + e.Listing())
	}
	return e, nil
}

// encodeInstructions names the constants, adds them to the literal section and encodes every
// non-branch instruction.
func (e *EncodedFunction) encodeInstructions(f *ABIFunction) error {
	ns := name.NewNamespace(nil)
	scope := func() *name.Name { return name.Fixed(e.name) }
	for _, instr := range f.instrs {
		if instr.Op() == amd64.PseudoLabel {
			path := []*name.Name{scope()}
			for _, part := range strings.Split(e.labels(instr.Operands()[0].Label()), ".") {
				path = append(path, name.Fixed(part))
			}
			if err := ns.Add(path...); err != nil {
				return &UsageError{Function: e.name, Instr: instr.String(), Reason: err.Error()}
			}
		}
	}
	symbolNames := map[*literal.Symbol]*name.Name{}
	symbols := make([]*literal.Symbol, len(f.instrs))
	for i, instr := range f.instrs {
		for _, o := range instr.Operands() {
			c := o.Memory().Constant
			if o.Kind() != amd64.OperandKindMem || c == nil {
				continue
			}
			if c.Name != "" {
				if err := name.Check(c.Name); err != nil {
					return &UsageError{Function: e.name, Instr: instr.String(), Origin: instr.Origin(), Reason: "constant " + err.Error()}
				}
			}
			sym := e.section.Add(c)
			symbols[i] = sym
			if _, ok := symbolNames[sym]; !ok {
				requested := c.Name
				if requested == "" {
					requested = "const"
				}
				n := name.Requested(requested)
				symbolNames[sym] = n
				if err := ns.Add(scope(), n); err != nil {
					return &UsageError{Function: e.name, Instr: instr.String(), Reason: err.Error()}
				}
			}
		}
	}
	ns.Assign()
	for sym, n := range symbolNames {
		sym.Name, _ = n.Final()
	}

	e.slots = make([]slot, len(f.instrs))
	for i, instr := range f.instrs {
		if sym := symbols[i]; sym != nil {
			instr = instr.MapMemory(func(m amd64.Memory) amd64.Memory {
				if m.Constant != nil {
					m.Constant = m.Constant.Named(sym.Name)
				}
				return m
			})
		}
		s := &e.slots[i]
		s.instr, s.symbol, s.sticky = instr, symbols[i], f.sticky[i]
		if instr.Op().IsPseudo() || instr.IsBranch() {
			continue
		}
		code, err := instr.Encode(amd64.EncodeOptions{})
		if err != nil {
			return &EncodingError{Function: e.name, Instr: instr.String(), Origin: instr.Origin(), Err: err}
		}
		s.code = code
	}
	return nil
}

// layout assigns addresses to the slots and selects the branch forms. Branches start short and are
// made long when their displacement does not fit 8 bits, until no branch changes.
func (e *EncodedFunction) layout() error {
	e.labelAddr = map[int]int{}
	e.passes = 0
	for {
		e.passes++
		if e.passes > len(e.slots)+2 {
			panic(fmt.Sprintf("BUG: branch layout of %s does not converge", e.name))
		}
		updated, unresolved := false, false
		addr := 0
		var pending []int
		place := func(pad int) {
			addr += pad
			for _, l := range pending {
				e.labelAddr[l] = addr
			}
			pending = pending[:0]
		}
		for i := range e.slots {
			s := &e.slots[i]
			s.pad, s.bundlePad = 0, false
			switch s.instr.Op() {
			case amd64.PseudoLabel:
				pending = append(pending, s.instr.Operands()[0].Label())
				s.offset = addr
				continue
			case amd64.PseudoAlign:
				s.pad = roundUp(addr, int(s.instr.Operands()[0].Immediate())) - addr
				place(s.pad)
				s.offset = addr
				continue
			}
			if e.bundleSize > 0 && (i == 0 || !e.slots[i-1].sticky) {
				group := 0
				for j := i; j < len(e.slots); j++ {
					group += e.slots[j].length()
					if !e.slots[j].sticky {
						break
					}
				}
				if group > e.bundleSize {
					return &EncodingError{Function: e.name, Instr: s.instr.String(), Origin: s.instr.Origin(), Err: ErrBundleFull}
				}
				if used := addr % e.bundleSize; used+group > e.bundleSize {
					s.pad, s.bundlePad = e.bundleSize-used, true
				}
			}
			place(s.pad)
			s.offset = addr
			if s.instr.IsBranch() && !s.long {
				target, ok := e.labelAddr[s.instr.Operands()[0].Label()]
				if !ok {
					unresolved = true
				} else if rel := target - (addr + s.length()); rel < -128 || rel > 127 {
					s.long, updated = true, true
				}
			}
			addr += s.length()
		}
		place(0)
		if !updated && !unresolved {
			return nil
		}
	}
}

// optimize grows the instructions of every bundle followed by bundle padding with longer
// encodings, filling the padding. Each step takes the smallest growth that still fits, preferring
// the instruction closest to the padding. It reports whether any instruction changed.
func (e *EncodedFunction) optimize() bool {
	changed := false
	for i := range e.slots {
		s := &e.slots[i]
		if !s.bundlePad {
			continue
		}
		end := s.offset - s.pad
		start := end - end%e.bundleSize
		gap := s.pad
		for gap > 0 {
			best, bestGrowth := -1, 0
			var bestCode []byte
			for j := i - 1; j >= 0 && e.slots[j].offset >= start; j-- {
				c := &e.slots[j]
				if c.instr.Op() == amd64.PseudoAlign {
					break
				}
				if c.code == nil {
					continue
				}
				for n, code := range c.instr.EncodeLengthOptions() {
					if growth := n - len(c.code); growth > 0 && growth <= gap && (best < 0 || growth < bestGrowth) {
						best, bestGrowth, bestCode = j, growth, code
					}
				}
			}
			if best < 0 {
				break
			}
			e.slots[best].code = bestCode
			gap -= bestGrowth
			changed = true
		}
	}
	return changed
}

// emit produces the code bytes and relocations from the final layout.
func (e *EncodedFunction) emit() error {
	e.code = e.code[:0]
	e.relocations = e.relocations[:0]
	for i := range e.slots {
		s := &e.slots[i]
		e.appendPadding(s.pad)
		switch {
		case s.instr.Op().IsPseudo():
			continue
		case s.instr.IsBranch():
			l := s.instr.Operands()[0].Label()
			rel := e.labelAddr[l] - (s.offset + s.length())
			code, err := s.instr.EncodeBranch(s.long, int32(rel))
			if err != nil {
				return &EncodingError{Function: e.name, Instr: s.instr.Format(amd64.SyntaxPeachPy, e.labels), Origin: s.instr.Origin(), Err: err}
			}
			e.code = append(e.code, code...)
		default:
			if s.symbol != nil {
				off := amd64.RIPDisplacementOffset(s.code)
				code := append([]byte(nil), s.code...)
				copy(code[off:off+4], []byte{0, 0, 0, 0})
				e.relocations = append(e.relocations, literal.Relocation{
					Offset: s.offset + off,
					Type:   literal.RelocationRIPDisp32,
					Symbol: s.symbol,
					PC:     s.offset + len(code),
				})
				e.code = append(e.code, code...)
			} else {
				e.code = append(e.code, s.code...)
			}
		}
	}
	switch {
	case e.abi.IsGo():
		// The Go assembler does not align functions, so a single INT3 ends the code.
		e.code = append(e.code, 0xCC)
	case e.abi.Family == abi.FamilyNativeClient && e.bundleSize > 0:
		for len(e.code)%e.bundleSize != 0 {
			e.code = append(e.code, 0xF4)
		}
	default:
		for len(e.code)%16 != 0 {
			e.code = append(e.code, 0xCC)
		}
	}
	return nil
}

// appendPadding appends n bytes of NOPs, never letting a NOP cross a bundle boundary.
func (e *EncodedFunction) appendPadding(n int) {
	for n > 0 {
		chunk := n
		if e.bundleSize > 0 {
			if room := e.bundleSize - len(e.code)%e.bundleSize; room < chunk {
				chunk = room
			}
		}
		e.code = append(e.code, amd64.Padding(chunk)...)
		n -= chunk
	}
}

// Name returns the name of the function.
func (e *EncodedFunction) Name() string { return e.name }

// ABI returns the calling convention of the function.
func (e *EncodedFunction) ABI() *abi.ABI { return e.abi }

// Code returns the machine code, with the displacements of the relocations zeroed.
func (e *EncodedFunction) Code() []byte { return e.code }

// Section returns the literal constants referenced by the code.
func (e *EncodedFunction) Section() *literal.Section { return e.section }

// Relocations returns the patches to apply to the code once the section is placed.
func (e *EncodedFunction) Relocations() []literal.Relocation { return e.relocations }

// BundleSize returns the bundle size the code is packed into, or zero.
func (e *EncodedFunction) BundleSize() int { return e.bundleSize }

// Passes returns the number of layout passes of the last layout.
func (e *EncodedFunction) Passes() int { return e.passes }

// Padding returns the number of padding bytes inserted between instructions.
func (e *EncodedFunction) Padding() int {
	n := 0
	for i := range e.slots {
		n += e.slots[i].pad
	}
	return n
}

// LabelAddress returns the code offset of the label l.
func (e *EncodedFunction) LabelAddress(l int) (int, bool) {
	addr, ok := e.labelAddr[l]
	return addr, ok
}

// Listing returns the code with the address and the bytes of each instruction.
func (e *EncodedFunction) Listing() string {
	var b strings.Builder
	b.WriteString(e.name + ":\n")
	for i := range e.slots {
		s := &e.slots[i]
		if s.pad > 0 {
			start := s.offset - s.pad
			fmt.Fprintf(&b, "%06x  %-30s  (padding)\n", start, hex.EncodeToString(e.code[start:s.offset]))
		}
		switch s.instr.Op() {
		case amd64.PseudoLabel:
			l := s.instr.Operands()[0].Label()
			fmt.Fprintf(&b, "%06x  %s:\n", e.labelAddr[l], e.labels(l))
			continue
		case amd64.PseudoAlign:
			continue
		}
		n := s.length()
		fmt.Fprintf(&b, "%06x  %-30s  %s\n", s.offset, hex.EncodeToString(e.code[s.offset:s.offset+n]), s.instr.Format(amd64.SyntaxPeachPy, e.labels))
	}
	for _, sym := range e.section.Symbols() {
		fmt.Fprintf(&b, "%s.%s: %s\n", e.name, sym.Name, hex.EncodeToString(e.section.Bytes()[sym.Offset:sym.Offset+sym.Size]))
	}
	return b.String()
}
