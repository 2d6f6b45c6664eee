// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package index ties the storage back-end, featurizer, and query
// planner/executor together into the Index type: the single entry
// point build, query, and incremental-update callers use.
package index

import (
	"github.com/kortschak/polymr/internal/featurize"
	"github.com/kortschak/polymr/internal/query"
	"github.com/kortschak/polymr/internal/record"
	"github.com/kortschak/polymr/internal/storage"
)

// Index is a read-write handle on a built corpus: a storage back-end
// bound to the featurizer that produced its tokens.
type Index struct {
	Backend    storage.Backend
	Featurizer featurize.Func
	Decoder    storage.Decoder
}

// Open binds backend to the featurizer registered under its
// persisted featurizer name.
func Open(backend storage.Backend, registry featurize.Registry, decoder storage.Decoder) (*Index, error) {
	name, err := backend.GetFeaturizerName()
	if err != nil {
		return nil, err
	}
	fn, ok := registry.Lookup(name)
	if !ok {
		return nil, &storage.ConfigError{Msg: "unknown featurizer name: " + name}
	}
	return &Index{Backend: backend, Featurizer: fn, Decoder: decoder}, nil
}

// Search runs a single query through the single-threaded planner
// (§4.5).
func (idx *Index) Search(fields []string, opts query.Options) ([]query.Result, error) {
	opts.Featurizer = idx.Featurizer
	return query.Search(idx.Backend, fields, opts)
}

// SearchMany runs a batch of queries through the parallel executor
// (§4.6), returning one Outcome per query in input order.
func (idx *Index) SearchMany(queries []query.Query, opts query.Options, workers int) []query.Outcome {
	opts.Featurizer = idx.Featurizer
	ex := &query.Executor{Backend: idx.Backend, Decoder: idx.Decoder, Workers: workers}
	return ex.SearchMany(queries, opts)
}

// Add persists new records and folds their tokens into the existing
// postings and frequency table (§4.7). It returns the row_ids
// assigned to recs, in order.
//
// Step 1 and 2 of §4.7 collapse here: this Index's back-end assigns a
// record's row_id and advances the row counter inside SaveRecord (see
// kvstore.Store.SaveRecord), so there is no separate "increment the
// row counter" step to perform once persistence succeeds — by the
// time SaveRecord returns, the counter already reflects it.
func (idx *Index) Add(recs []record.Record) ([]uint64, error) {
	assigned := make([]uint64, 0, len(recs))
	for _, rec := range recs {
		id, err := idx.Backend.SaveRecord(rec)
		if err != nil {
			for _, aid := range assigned {
				idx.Backend.DeleteRecord(aid)
			}
			return nil, err
		}
		assigned = append(assigned, id)
	}

	tokenIDs := make(map[string][]uint64)
	for i, rec := range recs {
		for tok := range idx.Featurizer(rec.Fields) {
			tokenIDs[tok] = append(tokenIDs[tok], assigned[i])
		}
	}

	var updated []string
	rollback := func() {
		for _, tok := range updated {
			idx.Backend.DropRecordsFromToken(tok, assigned)
		}
	}

	deltas := make(map[string]uint64, len(tokenIDs))
	for tok, ids := range tokenIDs {
		if err := idx.Backend.UpdateToken(tok, ids); err != nil {
			rollback()
			return nil, err
		}
		updated = append(updated, tok)
		deltas[tok] = uint64(len(ids))
	}
	if err := idx.Backend.UpdateFreqs(deltas); err != nil {
		rollback()
		return nil, err
	}
	return assigned, nil
}

// Delete tombstones a record: its blob is removed but its postings
// are left untouched. A later query's hit against row_id is filtered
// at scoring time when GetRecords silently omits the missing blob.
func (idx *Index) Delete(rowID uint64) error {
	return idx.Backend.DeleteRecord(rowID)
}

// Replace overwrites a record's stored fields/data in place without
// touching its postings — the supplemented update_record operation
// (SPEC_FULL.md §SUPPLEMENTED FEATURES item 5).
func (idx *Index) Replace(rowID uint64, rec record.Record) error {
	return idx.Backend.UpdateRecord(rowID, rec)
}

// Close releases the underlying back-end.
func (idx *Index) Close() error { return idx.Backend.Close() }
