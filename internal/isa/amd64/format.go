package amd64

import (
	"fmt"
	"strings"

	"github.com/peachjit/peachjit/internal/regalloc"
)

// Syntax is an assembly listing syntax.
type Syntax byte

const (
	// SyntaxPeachPy is Intel operand order with upper-case mnemonics, as written in PeachPy.
	SyntaxPeachPy Syntax = iota
	// SyntaxGNU is AT&T operand order as accepted by the GNU assembler.
	SyntaxGNU
)

// ParseSyntax returns the syntax with the given name, "peachpy" or "gnu".
func ParseSyntax(name string) (Syntax, error) {
	switch strings.ToLower(name) {
	case "peachpy", "":
		return SyntaxPeachPy, nil
	case "gnu", "att":
		return SyntaxGNU, nil
	default:
		return 0, fmt.Errorf("unknown assembly syntax %q", name)
	}
}

// String implements fmt.Stringer.
func (s Syntax) String() string {
	if s == SyntaxGNU {
		return "gnu"
	}
	return "peachpy"
}

func defaultLabelName(l int) string { return fmt.Sprintf("L%d", l) }

func formatOperands(operands []Operand) string {
	strs := make([]string, len(operands))
	for i, o := range operands {
		strs[i] = o.String()
	}
	return strings.Join(strs, ", ")
}

// Format returns the instruction in the given syntax. labels names branch targets, and may be nil.
func (i *Instruction) Format(s Syntax, labels func(int) string) string {
	if labels == nil {
		labels = defaultLabelName
	}
	if s == SyntaxGNU {
		return i.formatGNU(labels)
	}
	return i.formatPeachPy(labels)
}

func (i *Instruction) formatPeachPy(labels func(int) string) string {
	if i.op == PseudoLabel {
		return labels(i.operands[0].label) + ":"
	}
	if len(i.operands) == 0 {
		return i.op.String()
	}
	strs := make([]string, len(i.operands))
	for idx, o := range i.operands {
		if o.kind == OperandKindLabel {
			strs[idx] = labels(o.label)
		} else {
			strs[idx] = o.String()
		}
	}
	return i.op.String() + " " + strings.Join(strs, ", ")
}

func gnuRegister(r Reg) string {
	if r.IsVirtual() {
		return RegName(r)
	}
	return "%" + RegName(r)
}

func gnuMemory(m Memory) string {
	var b strings.Builder
	switch {
	case m.Constant != nil:
		name := m.Constant.Name
		if name == "" {
			name = m.Constant.String()
		}
		fmt.Fprintf(&b, "%s(%%rip)", name)
		return b.String()
	case m.RIP:
		fmt.Fprintf(&b, "%d(%%rip)", m.Disp)
		return b.String()
	case m.Local > 0:
		fmt.Fprintf(&b, "local%d", m.Local-1)
		if m.Disp != 0 {
			fmt.Fprintf(&b, "%+d", m.Disp)
		}
		return b.String()
	}
	if m.Disp != 0 || (!m.Base.Valid() && !m.Index.Valid()) {
		fmt.Fprintf(&b, "%d", m.Disp)
	}
	b.WriteByte('(')
	if m.Base.Valid() {
		b.WriteString(gnuRegister(m.Base))
	}
	if m.Index.Valid() {
		fmt.Fprintf(&b, ",%s,%d", gnuRegister(m.Index), m.scale())
	}
	b.WriteByte(')')
	return b.String()
}

func gnuOperand(o Operand, labels func(int) string) string {
	switch o.kind {
	case OperandKindReg:
		s := gnuRegister(o.reg)
		if o.opmask.Valid() {
			s += "{" + gnuRegister(o.opmask) + "}"
			if o.zeroing {
				s += "{z}"
			}
		}
		return s
	case OperandKindMem:
		return gnuMemory(o.mem)
	case OperandKindImm:
		return fmt.Sprintf("$%d", o.imm)
	case OperandKindLabel:
		return labels(o.label)
	default:
		return ""
	}
}

var gnuSizeSuffix = map[int]string{1: "b", 2: "w", 4: "l", 8: "q"}

// gnuMnemonic returns the AT&T mnemonic, with a size suffix when no register operand implies it.
func (i *Instruction) gnuMnemonic() string {
	name := strings.ToLower(i.op.String())
	switch i.op {
	case MOVZX, MOVSX:
		return name[:4] + gnuSizeSuffix[operandSize(i.operands[1])] + gnuSizeSuffix[operandSize(i.operands[0])]
	case MOVSXD:
		return "movslq"
	}
	if i.form == nil || i.IsBranch() {
		return name
	}
	size := 0
	for idx, o := range i.operands {
		switch o.kind {
		case OperandKindReg:
			if i.form.ops[idx] != tCL {
				return name
			}
		case OperandKindMem:
			size = o.mem.Size
		}
	}
	if s, ok := gnuSizeSuffix[size]; ok && i.form.mode == regalloc.ModeNone {
		return name + s
	}
	return name
}

func operandSize(o Operand) int {
	if o.kind == OperandKindReg {
		return Size(o.reg)
	}
	return o.mem.Size
}

func (i *Instruction) formatGNU(labels func(int) string) string {
	switch i.op {
	case PseudoLabel:
		return labels(i.operands[0].label) + ":"
	case PseudoAlign:
		return fmt.Sprintf(".balign %d", i.operands[0].imm)
	case PseudoLoadArgument, PseudoStoreResult, PseudoReturn:
		return "# " + i.formatPeachPy(labels)
	}
	mnemonic := i.gnuMnemonic()
	if len(i.operands) == 0 {
		return mnemonic
	}
	strs := make([]string, len(i.operands))
	for idx, o := range i.operands {
		strs[len(strs)-1-idx] = gnuOperand(o, labels)
	}
	if i.op == JMP && i.operands[0].kind != OperandKindLabel {
		strs[0] = "*" + strs[0]
	}
	return mnemonic + " " + strings.Join(strs, ", ")
}
