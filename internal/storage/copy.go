// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package storage

import (
	"sort"
)

// Copy bulk re-derives an index from one back-end into another:
// records, then frequencies and postings. When droptop is non-nil, it
// names the top fraction (0 < droptop < 1) of tokens by frequency to
// leave out of the destination entirely — a pragmatic stopword trim
// for tokens so common they are useless as seeds (SPEC_FULL.md's
// answer to the open posting-list-upper-bound question), off by
// default.
func Copy(from, to Backend, droptop *float64) error {
	rowCount, err := from.GetRowCount()
	if err != nil {
		return &Error{Op: "copy: read rowcount", Err: err}
	}

	// Records are written back at their original row_id with
	// UpdateRecord rather than re-saved densely through SaveRecords:
	// the copied postings below still reference row_ids assigned by
	// from, so a hole left by a prior Delete must remain a hole at the
	// same row_id in to, not be silently renumbered out from under
	// those postings.
	if err := to.SaveRowCount(rowCount); err != nil {
		return &Error{Op: "copy: save rowcount", Err: err}
	}
	for id := uint64(0); id < rowCount; id++ {
		rec, err := from.GetRecord(id)
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return &Error{Op: "copy: read record", Err: err}
		}
		if err := to.UpdateRecord(id, rec); err != nil {
			return &Error{Op: "copy: write record", Err: err}
		}
	}

	freqs, err := from.GetFreqs()
	if err != nil {
		return &Error{Op: "copy: read freqs", Err: err}
	}
	drop := dropSet(freqs, droptop)

	kept := make(map[string]uint64, len(freqs))
	for tok, freq := range freqs {
		if drop[tok] {
			continue
		}
		kept[tok] = freq
	}
	if err := to.SaveFreqs(kept); err != nil {
		return &Error{Op: "copy: save freqs", Err: err}
	}

	toks := make([]string, 0, len(kept))
	for tok := range kept {
		toks = append(toks, tok)
	}
	sort.Strings(toks)
	j := 0
	err = to.SaveTokens(func() (TokenPosting, bool, error) {
		for j < len(toks) {
			tok := toks[j]
			j++
			ids, err := from.GetToken(tok)
			if err != nil {
				return TokenPosting{}, false, err
			}
			if len(ids) == 0 {
				continue
			}
			return TokenPosting{Token: tok, IDs: ids, Compacted: false}, true, nil
		}
		return TokenPosting{}, false, nil
	})
	if err != nil {
		return &Error{Op: "copy: save tokens", Err: err}
	}

	name, err := from.GetFeaturizerName()
	if err != nil {
		return &Error{Op: "copy: read featurizer name", Err: err}
	}
	if err := to.SaveFeaturizerName(name); err != nil {
		return &Error{Op: "copy: save featurizer name", Err: err}
	}
	return nil
}

// dropSet returns the set of tokens in the top droptop fraction by
// frequency, or nil when droptop is nil.
func dropSet(freqs map[string]uint64, droptop *float64) map[string]bool {
	if droptop == nil || len(freqs) == 0 {
		return nil
	}
	type tf struct {
		tok  string
		freq uint64
	}
	all := make([]tf, 0, len(freqs))
	for tok, freq := range freqs {
		all = append(all, tf{tok, freq})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].freq > all[j].freq })
	n := int(float64(len(all)) * *droptop)
	if n <= 0 {
		return nil
	}
	if n > len(all) {
		n = len(all)
	}
	drop := make(map[string]bool, n)
	for _, e := range all[:n] {
		drop[e.tok] = true
	}
	return drop
}
