// Package particles holds the group membership index and the coordinate
// buffers that alignment workers update in place.
package particles

import "sort"

// Index maps each group to the ordered indices of its points. Groups are
// addressed by ordinal (0..Len()-1) in ascending group-id order. An Index
// is immutable after construction and safe for concurrent reads.
type Index struct {
	ids     []int
	members [][]int
	points  int
}

// NewIndex builds the index from the group id of every point.
func NewIndex(groupOf []int) *Index {
	byID := make(map[int][]int)
	for i, g := range groupOf {
		byID[g] = append(byID[g], i)
	}

	ids := make([]int, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	members := make([][]int, len(ids))
	for k, id := range ids {
		members[k] = byID[id]
	}
	return &Index{ids: ids, members: members, points: len(groupOf)}
}

// Len returns the number of groups.
func (ix *Index) Len() int {
	return len(ix.ids)
}

// Points returns the number of indexed points.
func (ix *Index) Points() int {
	return ix.points
}

// ID returns the dataset group id of ordinal g.
func (ix *Index) ID(g int) int {
	return ix.ids[g]
}

// Members returns the point indices of ordinal g in ascending order. The
// slice is shared and must not be modified.
func (ix *Index) Members(g int) []int {
	return ix.members[g]
}
