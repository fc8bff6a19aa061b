package protocol

import (
	"bytes"
	"sort"

	"github.com/anchorageoss/coldsign/errs"
	"github.com/anchorageoss/coldsign/keys"
)

// Permutation maps session input order to construction order: At(i) is the
// construction index of the i-th input sent to the device.
type Permutation struct {
	idx []uint32
}

// NewPermutation validates that idx is a permutation of [0, len(idx)).
func NewPermutation(idx []uint32) (Permutation, error) {
	seen := make([]bool, len(idx))
	for _, v := range idx {
		if int(v) >= len(idx) || seen[v] {
			return Permutation{}, errs.InvalidState("invalid permutation %v", idx)
		}
		seen[v] = true
	}
	return Permutation{idx: append([]uint32(nil), idx...)}, nil
}

// Identity returns the identity permutation of size n.
func Identity(n int) Permutation {
	idx := make([]uint32, n)
	for i := range idx {
		idx[i] = uint32(i)
	}
	return Permutation{idx: idx}
}

// SortByKeyImage orders inputs by key image, descending byte order.
func SortByKeyImage(kis []keys.KeyImage) (Permutation, error) {
	idx := Identity(len(kis)).idx
	sort.SliceStable(idx, func(a, b int) bool {
		return bytes.Compare(kis[idx[a]][:], kis[idx[b]][:]) > 0
	})
	return NewPermutation(idx)
}

// Len returns the size of the permutation.
func (p Permutation) Len() int { return len(p.idx) }

// At returns the construction index of session input i.
func (p Permutation) At(i int) (int, error) {
	if i < 0 || i >= len(p.idx) {
		return 0, errs.InvalidState("permutation index %d outside [0, %d)", i, len(p.idx))
	}
	return int(p.idx[i]), nil
}

// Indices returns a copy of the underlying mapping.
func (p Permutation) Indices() []uint32 {
	return append([]uint32(nil), p.idx...)
}
