// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package builder

import (
	"container/heap"
	"fmt"
)

// mergedEntry is one token's fully concatenated id list across all
// spills in a merge pass, in the ascending-across-sublists order the
// source spills already guarantee (§4.4 step 3/4).
type mergedEntry struct {
	token string
	ids   []uint64
}

// kwayMerge merges the ascending-by-token entries of readers, calling
// emit once per distinct token with the concatenation of every
// reader's id list for that token, in reader order. Readers must
// already be open; kwayMerge does not close them.
func kwayMerge(readers []*spillReader, emit func(mergedEntry) error) error {
	h := &mergeHeap{}
	heap.Init(h)
	for i, r := range readers {
		tok, ids, ok, err := r.next()
		if err != nil {
			return err
		}
		if ok {
			heap.Push(h, mergeItem{tok: tok, ids: ids, src: i})
		}
	}

	for h.Len() > 0 {
		tok := (*h)[0].tok
		var ids []uint64
		for h.Len() > 0 && (*h)[0].tok == tok {
			item := heap.Pop(h).(mergeItem)
			ids = append(ids, item.ids...)
			nextTok, nextIDs, ok, err := readers[item.src].next()
			if err != nil {
				return err
			}
			if ok {
				heap.Push(h, mergeItem{tok: nextTok, ids: nextIDs, src: item.src})
			}
		}
		if err := emit(mergedEntry{token: tok, ids: ids}); err != nil {
			return fmt.Errorf("builder: merge: %w", err)
		}
	}
	return nil
}

type mergeItem struct {
	tok string
	ids []uint64
	src int
}

// mergeHeap orders by token, then by source index so that ids
// concatenate in the input readers' order for a tied token, matching
// the row_id-ascending-by-construction guarantee.
type mergeHeap []mergeItem

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	if h[i].tok != h[j].tok {
		return h[i].tok < h[j].tok
	}
	return h[i].src < h[j].src
}
func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *mergeHeap) Push(x any) { *h = append(*h, x.(mergeItem)) }
func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
