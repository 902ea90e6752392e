package literal

import "encoding/binary"

// Symbol is a named location within a section.
type Symbol struct {
	Name   string
	Offset int
	Size   int
}

// RelocationType is the kind of patch a relocation requires.
type RelocationType byte

const (
	// RelocationRIPDisp32 is a signed 32-bit displacement relative to the end of the instruction.
	RelocationRIPDisp32 RelocationType = iota
)

// Relocation is a deferred patch of the code bytes at Offset, resolved once the final addresses
// of the code and the referenced symbol are known.
type Relocation struct {
	Offset int
	Type   RelocationType
	Symbol *Symbol
	// PC is the code offset the displacement is relative to, i.e. the end of the instruction.
	PC int
}

// Section is a data section in which equal constants share one symbol.
type Section struct {
	order   binary.ByteOrder
	data    []byte
	symbols []*Symbol
	index   map[string]*Symbol
	align   int
}

// NewSection returns an empty section whose constants are encoded in the given byte order.
func NewSection(order binary.ByteOrder) *Section {
	return &Section{order: order, index: map[string]*Symbol{}, align: 1}
}

// Add lays out c in the section unless an equal constant is already present, and returns its symbol.
func (s *Section) Add(c *Constant) *Symbol {
	key := c.key()
	if sym, ok := s.index[key]; ok {
		return sym
	}
	for len(s.data)%c.Align != 0 {
		s.data = append(s.data, 0)
	}
	if c.Align > s.align {
		s.align = c.Align
	}
	sym := &Symbol{Name: c.Name, Offset: len(s.data), Size: c.Size}
	s.data = append(s.data, c.Encode(s.order)...)
	s.symbols = append(s.symbols, sym)
	s.index[key] = sym
	return sym
}

// Bytes returns the section contents.
func (s *Section) Bytes() []byte {
	return s.data
}

// Symbols returns the symbols in layout order.
func (s *Section) Symbols() []*Symbol {
	return s.symbols
}

// Alignment returns the largest alignment required by a constant in the section.
func (s *Section) Alignment() int {
	return s.align
}
