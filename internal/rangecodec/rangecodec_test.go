// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rangecodec

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func flat(ids ...uint64) []Elem {
	elems := make([]Elem, len(ids))
	for i, id := range ids {
		elems[i] = Elem{id, id}
	}
	return elems
}

func TestCompact(t *testing.T) {
	cases := []struct {
		name      string
		ids       []uint64
		wantElems []Elem
		wantFlag  bool
	}{
		{"run of three", []uint64{1, 2, 3}, []Elem{{1, 3}}, true},
		{"run of five", []uint64{1, 2, 3, 4, 5}, []Elem{{1, 5}}, true},
		{"no runs", []uint64{1, 3, 6, 8}, flat(1, 3, 6, 8), false},
		{"empty", nil, nil, false},
		{"single", []uint64{7}, flat(7), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			elems, compacted := Compact(c.ids)
			if compacted != c.wantFlag {
				t.Errorf("compacted = %v, want %v", compacted, c.wantFlag)
			}
			if diff := cmp.Diff(c.wantElems, elems); diff != "" {
				t.Errorf("Compact(%v) mismatch (-want +got):\n%s", c.ids, diff)
			}
		})
	}
}

func TestMergeThenCompact(t *testing.T) {
	merged := MergeUnique([]uint64{1, 3, 5}, []uint64{2, 4})
	elems, compacted := Compact(merged)
	if !compacted {
		t.Fatal("expected compaction")
	}
	want := []Elem{{1, 5}}
	if diff := cmp.Diff(want, elems); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestRoundTrip(t *testing.T) {
	lists := [][]uint64{
		nil,
		{0},
		{1, 2, 3, 4, 5},
		{1, 3, 6, 8},
		{0, 1, 2, 10, 11, 20},
	}
	for _, l := range lists {
		elems, _ := Compact(l)
		got := Decompact(elems)
		if len(got) != len(l) {
			t.Fatalf("Decompact(Compact(%v)) = %v", l, got)
		}
		for i := range l {
			if got[i] != l[i] {
				t.Fatalf("Decompact(Compact(%v)) = %v", l, got)
			}
		}
	}
}

func TestMergeUniqueDedup(t *testing.T) {
	got := MergeUnique([]uint64{1, 2, 3}, []uint64{2, 3, 4})
	want := []uint64{1, 2, 3, 4}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}
