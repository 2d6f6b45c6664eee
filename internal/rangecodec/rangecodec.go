// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rangecodec implements lossless run-encoding of sorted,
// strictly ascending lists of row IDs into a mix of single IDs and
// inclusive ranges.
package rangecodec

// Elem is a single element of a compacted posting list. A single row
// ID is represented with Lo == Hi; a run is represented with Hi > Lo.
type Elem struct {
	Lo, Hi uint64
}

// IsRange reports whether e represents a run of more than one ID.
func (e Elem) IsRange() bool { return e.Hi > e.Lo }

// Compact walks ids, which must be strictly ascending, and produces the
// run-length encoded form described in the package documentation.
// Adjacent runs of consecutive integers are folded into a single Elem
// with Hi > Lo. compacted reports whether any run was formed; when it
// is false, elems holds one Elem per input ID (Lo == Hi).
func Compact(ids []uint64) (elems []Elem, compacted bool) {
	if len(ids) == 0 {
		return nil, false
	}
	elems = make([]Elem, 1, len(ids))
	elems[0] = Elem{ids[0], ids[0]}
	prev := ids[0]
	for _, id := range ids[1:] {
		if id == prev+1 {
			last := &elems[len(elems)-1]
			last.Hi = id
			compacted = true
		} else {
			elems = append(elems, Elem{id, id})
		}
		prev = id
	}
	return elems, compacted
}

// Decompact is the inverse of Compact: it expands each Elem into its
// constituent ascending IDs.
func Decompact(elems []Elem) []uint64 {
	n := 0
	for _, e := range elems {
		n += int(e.Hi-e.Lo) + 1
	}
	out := make([]uint64, 0, n)
	for _, e := range elems {
		for id := e.Lo; id <= e.Hi; id++ {
			out = append(out, id)
		}
	}
	return out
}

// MergeUnique performs a k-way merge of sorted, strictly ascending
// lists, dropping duplicate IDs, and returns the combined strictly
// ascending list.
func MergeUnique(lists ...[]uint64) []uint64 {
	total := 0
	for _, l := range lists {
		total += len(l)
	}
	out := make([]uint64, 0, total)

	idx := make([]int, len(lists))
	var last uint64
	haveLast := false
	for {
		minList := -1
		for i, l := range lists {
			if idx[i] >= len(l) {
				continue
			}
			if minList == -1 || l[idx[i]] < lists[minList][idx[minList]] {
				minList = i
			}
		}
		if minList == -1 {
			break
		}
		v := lists[minList][idx[minList]]
		idx[minList]++
		if !haveLast || v != last {
			out = append(out, v)
			last = v
			haveLast = true
		}
	}
	return out
}
