// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package kvstore implements the storage.Backend contract on top of
// modernc.org/kv, the ordered, transactional key-value engine used the
// same way github.com/kortschak/ins uses it: kv.Create/kv.Open (with
// the default bytewise key order, which the prefixed big-endian keys
// below rely on), explicit BeginTransaction/Commit around batches of
// writes, and SeekFirst/Next for ordered iteration.
package kvstore

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"

	"modernc.org/kv"

	"github.com/kortschak/polymr/internal/record"
	"github.com/kortschak/polymr/internal/storage"
)

// Key prefixes. Records and metadata live in one kv.DB, frequencies and
// postings in another, mirroring the record_db/feature_db split of the
// backend this package is adapted from.
const (
	recordPrefix = 'R'
	rowCountKey  = "C"
	featNameKey  = "N"

	tokenPrefix = 'T'
	freqPrefix  = 'F'
)

func recordKey(rowID uint64) []byte {
	k := make([]byte, 1, 9)
	k[0] = recordPrefix
	return append(k, storage.EncodeUint64(rowID)...)
}

func tokenKey(tok string) []byte {
	k := make([]byte, 1+len(tok))
	k[0] = tokenPrefix
	copy(k[1:], tok)
	return k
}

func freqKey(tok string) []byte {
	k := make([]byte, 1+len(tok))
	k[0] = freqPrefix
	copy(k[1:], tok)
	return k
}

// Store is a storage.Backend backed by two modernc.org/kv databases.
type Store struct {
	dir         string
	records     *kv.DB
	features    *kv.DB
	featurizer  string
	rowCountSet bool
}

var _ storage.Backend = (*Store)(nil)

// Open opens (creating if necessary) a Store rooted at dir. If the
// store is new, featurizerName is bound and persisted; otherwise the
// persisted name is read back and featurizerName is ignored.
func Open(dir string, featurizerName string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &storage.Error{Op: "mkdir", Err: err}
	}
	recPath := filepath.Join(dir, "records.db")
	featPath := filepath.Join(dir, "features.db")

	recDB, recNew, err := openOrCreate(recPath)
	if err != nil {
		return nil, &storage.Error{Op: "open records db", Err: err}
	}
	featDB, _, err := openOrCreate(featPath)
	if err != nil {
		recDB.Close()
		return nil, &storage.Error{Op: "open features db", Err: err}
	}

	s := &Store{dir: dir, records: recDB, features: featDB}
	if recNew {
		name := featurizerName
		if name == "" {
			name = "compress"
		}
		if err := s.SaveFeaturizerName(name); err != nil {
			s.Close()
			return nil, err
		}
		if err := s.SaveRowCount(0); err != nil {
			s.Close()
			return nil, err
		}
		if err := s.SaveFreqs(map[string]uint64{}); err != nil {
			s.Close()
			return nil, err
		}
	} else {
		name, err := s.GetFeaturizerName()
		if err != nil {
			s.Close()
			return nil, err
		}
		s.featurizer = name
	}
	return s, nil
}

func openOrCreate(path string) (db *kv.DB, created bool, err error) {
	if _, statErr := os.Stat(path); statErr == nil {
		db, err = kv.Open(path, &kv.Options{})
		return db, false, err
	}
	db, err = kv.Create(path, &kv.Options{})
	return db, true, err
}

// Factory is a storage.Factory for the "kv" URL scheme:
// kv:///absolute/path or kv://host/path both resolve to the
// concatenation of the URL's host and path as a filesystem directory.
func Factory(parsed *url.URL, featurizerName string) (storage.Backend, error) {
	dir := parsed.Path
	if parsed.Host != "" {
		dir = filepath.Join(parsed.Host, dir)
	}
	if dir == "" {
		return nil, &storage.ConfigError{Msg: "kv backend URL has no path"}
	}
	return Open(dir, featurizerName)
}

func (s *Store) Close() error {
	var firstErr error
	if s.records != nil {
		if err := s.records.Close(); err != nil {
			firstErr = err
		}
	}
	if s.features != nil {
		if err := s.features.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// --- records ---

func (s *Store) SaveRecord(rec record.Record) (uint64, error) {
	id, err := s.GetRowCount()
	if err != nil {
		return 0, err
	}
	if err := s.records.Set(recordKey(id), storage.EncodeRecord(rec)); err != nil {
		return 0, &storage.Error{Op: "save record", Err: err}
	}
	if err := s.SaveRowCount(id + 1); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) SaveRecords(recs func() (record.Record, bool, error)) (uint64, error) {
	const batch = 5000
	base, err := s.GetRowCount()
	if err != nil {
		return 0, err
	}
	var n uint64
	inTx := false
	for {
		rec, ok, err := recs()
		if err != nil {
			if inTx {
				s.records.Rollback()
			}
			return n, &storage.Error{Op: "read records", Err: err}
		}
		if !ok {
			break
		}
		if n%batch == 0 {
			if err := s.records.BeginTransaction(); err != nil {
				return n, &storage.Error{Op: "begin tx", Err: err}
			}
			inTx = true
		}
		if err := s.records.Set(recordKey(base+n), storage.EncodeRecord(rec)); err != nil {
			s.records.Rollback()
			return n, &storage.Error{Op: "save record", Err: err}
		}
		n++
		if n%batch == 0 {
			if err := s.records.Commit(); err != nil {
				return n, &storage.Error{Op: "commit tx", Err: err}
			}
			inTx = false
		}
	}
	if inTx {
		if err := s.records.Commit(); err != nil {
			return n, &storage.Error{Op: "commit tx", Err: err}
		}
	}
	if err := s.SaveRowCount(base + n); err != nil {
		return n, err
	}
	return n, nil
}

func (s *Store) LoadRecordBlob(rowID uint64) ([]byte, error) {
	blob, err := s.records.Get(nil, recordKey(rowID))
	if err != nil {
		return nil, &storage.Error{Op: "get record", Err: err}
	}
	if blob == nil {
		return nil, &storage.NotFoundError{Kind: "record", Key: fmt.Sprint(rowID)}
	}
	return blob, nil
}

func (s *Store) GetRecord(rowID uint64) (record.Record, error) {
	blob, err := s.LoadRecordBlob(rowID)
	if err != nil {
		return record.Record{}, err
	}
	return DecodeRecordBlob(blob)
}

func (s *Store) GetRecords(ids []uint64) ([]storage.RecordWithID, error) {
	out := make([]storage.RecordWithID, 0, len(ids))
	for _, id := range ids {
		blob, err := s.LoadRecordBlob(id)
		if err != nil {
			if storage.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		rec, err := DecodeRecordBlob(blob)
		if err != nil {
			return nil, err
		}
		out = append(out, storage.RecordWithID{RowID: id, Record: rec})
	}
	return out, nil
}

func (s *Store) UpdateRecord(rowID uint64, rec record.Record) error {
	if err := s.records.Set(recordKey(rowID), storage.EncodeRecord(rec)); err != nil {
		return &storage.Error{Op: "update record", Err: err}
	}
	return nil
}

func (s *Store) DeleteRecord(rowID uint64) error {
	if err := s.records.Delete(recordKey(rowID)); err != nil {
		return &storage.Error{Op: "delete record", Err: err}
	}
	return nil
}

// --- row counter ---

func (s *Store) GetRowCount() (uint64, error) {
	blob, err := s.records.Get(nil, []byte(rowCountKey))
	if err != nil {
		return 0, &storage.Error{Op: "get rowcount", Err: err}
	}
	if blob == nil {
		return 0, &storage.NotFoundError{Kind: "rowcount", Key: rowCountKey}
	}
	return storage.DecodeUint64(blob)
}

func (s *Store) SaveRowCount(n uint64) error {
	if err := s.records.Set([]byte(rowCountKey), storage.EncodeUint64(n)); err != nil {
		return &storage.Error{Op: "save rowcount", Err: err}
	}
	return nil
}

func (s *Store) IncrementRowCount(n uint64) (uint64, error) {
	cur, err := s.GetRowCount()
	if err != nil {
		return 0, err
	}
	if err := s.SaveRowCount(cur + n); err != nil {
		return 0, err
	}
	return cur + n, nil
}

// --- frequency table ---

func (s *Store) GetFreqs() (map[string]uint64, error) {
	freqs := make(map[string]uint64)
	enum, err := s.features.SeekFirst()
	if err == io.EOF {
		return freqs, nil
	}
	if err != nil {
		return nil, &storage.Error{Op: "scan freqs", Err: err}
	}
	for {
		k, v, err := enum.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &storage.Error{Op: "scan freqs", Err: err}
		}
		if len(k) == 0 || k[0] != freqPrefix {
			continue
		}
		n, err := storage.DecodeUint64(v)
		if err != nil {
			return nil, &storage.Error{Op: "decode freq", Err: err}
		}
		freqs[string(k[1:])] = n
	}
	return freqs, nil
}

func (s *Store) SaveFreqs(freqs map[string]uint64) error {
	if err := s.features.BeginTransaction(); err != nil {
		return &storage.Error{Op: "begin tx", Err: err}
	}
	for tok, n := range freqs {
		if err := s.features.Set(freqKey(tok), storage.EncodeUint64(n)); err != nil {
			s.features.Rollback()
			return &storage.Error{Op: "save freq", Err: err}
		}
	}
	if err := s.features.Commit(); err != nil {
		return &storage.Error{Op: "commit tx", Err: err}
	}
	return nil
}

func (s *Store) UpdateFreqs(deltas map[string]uint64) error {
	merged := make(map[string]uint64, len(deltas))
	for tok, delta := range deltas {
		existing, _, err := s.getFreq(tok)
		if err != nil {
			return err
		}
		merged[tok] = existing + delta
	}
	return s.SaveFreqs(merged)
}

func (s *Store) getFreq(tok string) (uint64, bool, error) {
	blob, err := s.features.Get(nil, freqKey(tok))
	if err != nil {
		return 0, false, &storage.Error{Op: "get freq", Err: err}
	}
	if blob == nil {
		return 0, false, nil
	}
	n, err := storage.DecodeUint64(blob)
	return n, true, err
}

// FindLeastFrequentTokens implements the §4.5 step 2 selection
// algorithm directly against per-token point lookups in the ordered
// store, rather than materializing the whole frequency table.
func (s *Store) FindLeastFrequentTokens(toks []string, r uint64, k *int) ([]string, error) {
	type tf struct {
		tok  string
		freq uint64
	}
	var known []tf
	for _, tok := range toks {
		freq, ok, err := s.getFreq(tok)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		known = append(known, tf{tok, freq})
	}
	sort.Slice(known, func(i, j int) bool {
		if known[i].freq != known[j].freq {
			return known[i].freq < known[j].freq
		}
		return known[i].tok < known[j].tok
	})
	var (
		out   []string
		total uint64
	)
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

// --- postings ---

func (s *Store) LoadTokenBlob(tok string) ([]byte, error) {
	blob, err := s.features.Get(nil, tokenKey(tok))
	if err != nil {
		return nil, &storage.Error{Op: "get token", Err: err}
	}
	if blob == nil {
		return nil, &storage.NotFoundError{Kind: "token", Key: tok}
	}
	return blob, nil
}

func (s *Store) GetToken(tok string) ([]uint64, error) {
	blob, err := s.LoadTokenBlob(tok)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return DecodeTokenBlob(blob)
}

func (s *Store) SaveToken(tok string, ids []uint64, compacted bool) error {
	if err := s.features.Set(tokenKey(tok), storage.EncodePosting(ids, compacted)); err != nil {
		return &storage.Error{Op: "save token", Err: err}
	}
	return nil
}

func (s *Store) SaveTokens(postings func() (storage.TokenPosting, bool, error)) error {
	const batch = 2000
	inTx := false
	n := 0
	for {
		p, ok, err := postings()
		if err != nil {
			if inTx {
				s.features.Rollback()
			}
			return &storage.Error{Op: "read postings", Err: err}
		}
		if !ok {
			break
		}
		if n%batch == 0 {
			if err := s.features.BeginTransaction(); err != nil {
				return &storage.Error{Op: "begin tx", Err: err}
			}
			inTx = true
		}
		if err := s.features.Set(tokenKey(p.Token), storage.EncodePosting(p.IDs, p.Compacted)); err != nil {
			s.features.Rollback()
			return &storage.Error{Op: "save token", Err: err}
		}
		n++
		if n%batch == 0 {
			if err := s.features.Commit(); err != nil {
				return &storage.Error{Op: "commit tx", Err: err}
			}
			inTx = false
		}
	}
	if inTx {
		if err := s.features.Commit(); err != nil {
			return &storage.Error{Op: "commit tx", Err: err}
		}
	}
	return nil
}

func (s *Store) UpdateToken(tok string, newIDs []uint64) error {
	cur, err := s.GetToken(tok)
	if err != nil {
		return err
	}
	merged := mergeUniqueSorted(cur, newIDs)
	compacted := len(merged) > 0
	return s.SaveToken(tok, merged, compacted)
}

func (s *Store) DropRecordsFromToken(tok string, badIDs []uint64) error {
	cur, err := s.GetToken(tok)
	if err != nil {
		return err
	}
	bad := make(map[uint64]bool, len(badIDs))
	for _, id := range badIDs {
		bad[id] = true
	}
	kept := cur[:0:0]
	for _, id := range cur {
		if !bad[id] {
			kept = append(kept, id)
		}
	}
	return s.SaveToken(tok, kept, len(kept) > 0)
}

// mergeUniqueSorted merges a (already ascending) and b (unsorted, as
// produced by a single featurize pass) into one strictly ascending,
// deduplicated slice.
func mergeUniqueSorted(a, b []uint64) []uint64 {
	seen := make(map[uint64]bool, len(a)+len(b))
	all := make([]uint64, 0, len(a)+len(b))
	for _, id := range a {
		if !seen[id] {
			seen[id] = true
			all = append(all, id)
		}
	}
	for _, id := range b {
		if !seen[id] {
			seen[id] = true
			all = append(all, id)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	return all
}

// --- featurizer name ---

func (s *Store) GetFeaturizerName() (string, error) {
	blob, err := s.records.Get(nil, []byte(featNameKey))
	if err != nil {
		return "", &storage.Error{Op: "get featurizer name", Err: err}
	}
	if blob == nil {
		return "", &storage.NotFoundError{Kind: "featurizer", Key: featNameKey}
	}
	return string(blob), nil
}

func (s *Store) SaveFeaturizerName(name string) error {
	if err := s.records.Set([]byte(featNameKey), []byte(name)); err != nil {
		return &storage.Error{Op: "save featurizer name", Err: err}
	}
	s.featurizer = name
	return nil
}

// DecodeRecordBlob and DecodeTokenBlob are the free decode functions
// the design calls for: parallel query workers call these directly on
// blobs the driver already fetched, without needing any live Store
// handle, so the worker pool never shares a *kv.DB across goroutines.
func DecodeRecordBlob(blob []byte) (record.Record, error) {
	return storage.DecodeRecord(blob)
}

func DecodeTokenBlob(blob []byte) ([]uint64, error) {
	return storage.DecodePosting(blob)
}

// kvstoreDecoder implements storage.Decoder.
type kvstoreDecoder struct{}

func (kvstoreDecoder) DecodeTokenBlob(blob []byte) ([]uint64, error)    { return DecodeTokenBlob(blob) }
func (kvstoreDecoder) DecodeRecordBlob(blob []byte) (record.Record, error) { return DecodeRecordBlob(blob) }

// Decoder is the package-level storage.Decoder for this backend kind.
var Decoder storage.Decoder = kvstoreDecoder{}
