package regalloc

import "fmt"

// mockInstr implements Instr.
type mockInstr struct {
	name       string
	defs, uses []Reg
	ctrl       Control
	label      int
	mode       Mode
	fixed      []FixedOperand
	origin     string
}

func newMockInstr(name string) *mockInstr {
	return &mockInstr{name: name}
}

// String implements fmt.Stringer.
func (m *mockInstr) String() string { return m.name }

// Uses implements Instr.
func (m *mockInstr) Uses() []Reg { return m.uses }

// Defs implements Instr.
func (m *mockInstr) Defs(avx bool) []Reg {
	if !avx {
		return m.defs
	}
	ret := make([]Reg, len(m.defs))
	for i, r := range m.defs {
		if r.Mask() == MaskXMM {
			r = r.WithMask(MaskYMM)
		}
		ret[i] = r
	}
	return ret
}

// Registers implements Instr.
func (m *mockInstr) Registers() []Reg {
	return append(append([]Reg(nil), m.uses...), m.defs...)
}

// Control implements Instr.
func (m *mockInstr) Control() (Control, int) { return m.ctrl, m.label }

// Mode implements Instr.
func (m *mockInstr) Mode() Mode { return m.mode }

// FixedOperands implements Instr.
func (m *mockInstr) FixedOperands() []FixedOperand { return m.fixed }

// Origin implements Origin.
func (m *mockInstr) Origin() string { return m.origin }

func (m *mockInstr) use(uses ...Reg) *mockInstr {
	m.uses = uses
	return m
}

func (m *mockInstr) def(defs ...Reg) *mockInstr {
	m.defs = defs
	return m
}

func (m *mockInstr) control(c Control, label int) *mockInstr {
	m.ctrl, m.label = c, label
	return m
}

func (m *mockInstr) withMode(mode Mode) *mockInstr {
	m.mode = mode
	return m
}

func (m *mockInstr) fix(r Reg, phys uint8) *mockInstr {
	m.fixed = append(m.fixed, FixedOperand{Reg: r, Phys: phys})
	return m
}

func instrs(ms ...*mockInstr) []Instr {
	ret := make([]Instr, len(ms))
	for i, m := range ms {
		ret[i] = m
	}
	return ret
}

func label(id int) *mockInstr {
	return newMockInstr(fmt.Sprintf("L%d:", id)).control(ControlLabel, id).withMode(ModeInherit)
}

func ret(uses ...Reg) *mockInstr {
	return newMockInstr("ret").use(uses...).control(ControlReturn, 0).withMode(ModeInherit)
}

var (
	v1 = FromVirtual(1, MaskGP64)
	v2 = FromVirtual(2, MaskGP64)
	v3 = FromVirtual(3, MaskGP64)
	x1 = FromVirtual(1, MaskXMM)
)

func gpInfo(n int) *RegisterInfo {
	info := &RegisterInfo{}
	for i := 0; i < n; i++ {
		info.Allocatable[KindGP] = append(info.Allocatable[KindGP], uint8(i))
	}
	return info
}
