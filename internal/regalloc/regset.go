package regalloc

import (
	"math/bits"
	"strconv"
	"strings"
)

// NewRegSet returns a new RegSet with the given physical register ids.
func NewRegSet(pids ...uint8) RegSet {
	var ret RegSet
	for _, r := range pids {
		ret = ret.Add(r)
	}
	return ret
}

// RegSet represents a set of physical register ids of one register file.
type RegSet uint64

// Has returns true if pid is in the set.
func (rs RegSet) Has(pid uint8) bool {
	return pid < 64 && rs&(1<<pid) != 0
}

// Add returns the set with pid added.
func (rs RegSet) Add(pid uint8) RegSet {
	if pid >= 64 {
		return rs
	}
	return rs | 1<<pid
}

// Len returns the number of registers in the set.
func (rs RegSet) Len() int {
	return bits.OnesCount64(uint64(rs))
}

// Range calls f for each register in ascending order.
func (rs RegSet) Range(f func(pid uint8)) {
	for v := uint64(rs); v != 0; v &= v - 1 {
		f(uint8(bits.TrailingZeros64(v)))
	}
}

// String implements fmt.Stringer.
func (rs RegSet) String() string {
	var ret []string
	rs.Range(func(pid uint8) { ret = append(ret, strconv.Itoa(int(pid))) })
	return "{" + strings.Join(ret, ", ") + "}"
}
