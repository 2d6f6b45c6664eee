// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package builder

import (
	"sort"
	"testing"

	"github.com/kortschak/polymr/internal/featurize"
	"github.com/kortschak/polymr/internal/record"
	"github.com/kortschak/polymr/internal/storage"
)

// memBackend is a minimal in-memory storage.Backend used to exercise
// the builder pipeline without a real kv.DB.
type memBackend struct {
	records  map[uint64]record.Record
	rowCount uint64
	freqs    map[string]uint64
	tokens   map[string][]uint64
	featName string
}

func newMemBackend() *memBackend {
	return &memBackend{
		records: make(map[uint64]record.Record),
		freqs:   make(map[string]uint64),
		tokens:  make(map[string][]uint64),
	}
}

func (m *memBackend) SaveRecord(rec record.Record) (uint64, error) {
	id := m.rowCount
	m.records[id] = rec
	m.rowCount++
	return id, nil
}

func (m *memBackend) SaveRecords(recs func() (record.Record, bool, error)) (uint64, error) {
	var n uint64
	for {
		rec, ok, err := recs()
		if err != nil {
			return n, err
		}
		if !ok {
			break
		}
		if _, err := m.SaveRecord(rec); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (m *memBackend) GetRecord(rowID uint64) (record.Record, error) {
	rec, ok := m.records[rowID]
	if !ok {
		return record.Record{}, &storage.NotFoundError{Kind: "record", Key: "x"}
	}
	return rec, nil
}

func (m *memBackend) GetRecords(ids []uint64) ([]storage.RecordWithID, error) {
	var out []storage.RecordWithID
	for _, id := range ids {
		if rec, ok := m.records[id]; ok {
			out = append(out, storage.RecordWithID{RowID: id, Record: rec})
		}
	}
	return out, nil
}

func (m *memBackend) UpdateRecord(rowID uint64, rec record.Record) error {
	m.records[rowID] = rec
	return nil
}

func (m *memBackend) DeleteRecord(rowID uint64) error {
	delete(m.records, rowID)
	return nil
}

func (m *memBackend) GetRowCount() (uint64, error)        { return m.rowCount, nil }
func (m *memBackend) SaveRowCount(n uint64) error          { m.rowCount = n; return nil }
func (m *memBackend) IncrementRowCount(n uint64) (uint64, error) {
	m.rowCount += n
	return m.rowCount, nil
}

func (m *memBackend) GetFreqs() (map[string]uint64, error) { return m.freqs, nil }
func (m *memBackend) SaveFreqs(freqs map[string]uint64) error {
	for k, v := range freqs {
		m.freqs[k] = v
	}
	return nil
}
func (m *memBackend) UpdateFreqs(deltas map[string]uint64) error {
	for tok, delta := range deltas {
		m.freqs[tok] += delta
	}
	return nil
}

func (m *memBackend) FindLeastFrequentTokens(toks []string, r uint64, k *int) ([]string, error) {
	type tf struct {
		tok  string
		freq uint64
	}
	var known []tf
	for _, tok := range toks {
		if f, ok := m.freqs[tok]; ok {
			known = append(known, tf{tok, f})
		}
	}
	sort.Slice(known, func(i, j int) bool {
		if known[i].freq != known[j].freq {
			return known[i].freq < known[j].freq
		}
		return known[i].tok < known[j].tok
	})
	var out []string
	var total uint64
	for _, e := range known {
		if total+e.freq > r {
			break
		}
		if k != nil && len(out) >= *k {
			break
		}
		total += e.freq
		out = append(out, e.tok)
	}
	return out, nil
}

func (m *memBackend) SaveToken(tok string, ids []uint64, compacted bool) error {
	m.tokens[tok] = ids
	return nil
}

func (m *memBackend) SaveTokens(postings func() (storage.TokenPosting, bool, error)) error {
	for {
		p, ok, err := postings()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		m.tokens[p.Token] = p.IDs
	}
	return nil
}

func (m *memBackend) GetToken(tok string) ([]uint64, error) { return m.tokens[tok], nil }

func (m *memBackend) UpdateToken(tok string, newIDs []uint64) error {
	m.tokens[tok] = append(m.tokens[tok], newIDs...)
	return nil
}

func (m *memBackend) DropRecordsFromToken(tok string, badIDs []uint64) error {
	bad := make(map[uint64]bool, len(badIDs))
	for _, id := range badIDs {
		bad[id] = true
	}
	kept := m.tokens[tok][:0]
	for _, id := range m.tokens[tok] {
		if !bad[id] {
			kept = append(kept, id)
		}
	}
	m.tokens[tok] = kept
	return nil
}

func (m *memBackend) GetFeaturizerName() (string, error) { return m.featName, nil }
func (m *memBackend) SaveFeaturizerName(name string) error {
	m.featName = name
	return nil
}

func (m *memBackend) LoadTokenBlob(tok string) ([]byte, error)  { return nil, nil }
func (m *memBackend) LoadRecordBlob(rowID uint64) ([]byte, error) { return nil, nil }
func (m *memBackend) Close() error                                { return nil }

var _ storage.Backend = (*memBackend)(nil)

func TestBuildEndToEnd(t *testing.T) {
	rows := []record.Record{
		{Fields: []string{"fish"}, PK: "p1"},
		{Fields: []string{"fist"}, PK: "p2"},
		{Fields: []string{"dog"}, PK: "p3"},
	}
	i := 0
	backend := newMemBackend()
	rowCount, err := Build(func() (record.Record, bool, error) {
		if i >= len(rows) {
			return record.Record{}, false, nil
		}
		r := rows[i]
		i++
		return r, true, nil
	}, Options{
		Backend:        backend,
		Featurizer:     featurize.K3,
		FeaturizerName: "k3",
		Parallel:       2,
		ChunkSize:      2,
		TmpDir:         t.TempDir(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if rowCount != 3 {
		t.Fatalf("rowCount = %d, want 3", rowCount)
	}
	if backend.featName != "k3" {
		t.Fatalf("featurizer name = %q, want k3", backend.featName)
	}

	// k3 ngrams("fish")=["fis","ish"], ngrams("fist")=["fis","ist"].
	// They share "fis".
	ids, ok := backend.tokens["fis"]
	if !ok {
		t.Fatalf("token %q not indexed; tokens=%v", "fis", backend.tokens)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) != 2 || ids[0] != 0 || ids[1] != 1 {
		t.Errorf("postings for %q = %v, want [0 1]", "fis", ids)
	}
	if backend.freqs["fis"] != 2 {
		t.Errorf("freq[fis] = %d, want 2", backend.freqs["fis"])
	}
	if backend.freqs["ish"] != 1 || backend.freqs["ist"] != 1 {
		t.Errorf("unexpected freqs: %v", backend.freqs)
	}
}
