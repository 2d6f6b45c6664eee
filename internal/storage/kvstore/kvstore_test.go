// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kvstore

import (
	"testing"

	"github.com/kortschak/polymr/internal/record"
	"github.com/kortschak/polymr/internal/storage"
)

// TestUpdateFreqsAccumulatesOntoExisting guards §8 invariant #1
// (freq[T] == len(get_token(T))) across the §4.7 incremental-add path:
// adding a record that shares a token with one already present from a
// prior save must add to that token's frequency, not replace it.
func TestUpdateFreqsAccumulatesOntoExisting(t *testing.T) {
	s, err := Open(t.TempDir(), "k3")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if err := s.SaveToken("fis", []uint64{0}, false); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveFreqs(map[string]uint64{"fis": 1}); err != nil {
		t.Fatal(err)
	}

	if err := s.UpdateToken("fis", []uint64{1}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateFreqs(map[string]uint64{"fis": 1}); err != nil {
		t.Fatal(err)
	}

	ids, err := s.GetToken("fis")
	if err != nil {
		t.Fatal(err)
	}
	freqs, err := s.GetFreqs()
	if err != nil {
		t.Fatal(err)
	}
	if got, want := freqs["fis"], uint64(len(ids)); got != want {
		t.Errorf("freq[fis] = %d, len(get_token(fis)) = %d, want equal (got ids=%v)", got, want, ids)
	}
	if len(ids) != 2 || ids[0] != 0 || ids[1] != 1 {
		t.Errorf("GetToken(fis) = %v, want [0 1]", ids)
	}
}

// TestSaveFreqsOverwritesButUpdateFreqsAccumulates distinguishes the
// two entry points on the Backend contract: SaveFreqs is a bulk
// replace (used once at build time), UpdateFreqs is an incremental
// accumulation (used by Index.Add).
func TestSaveFreqsOverwritesButUpdateFreqsAccumulates(t *testing.T) {
	s, err := Open(t.TempDir(), "k3")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if err := s.SaveFreqs(map[string]uint64{"a": 5}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveFreqs(map[string]uint64{"a": 2}); err != nil {
		t.Fatal(err)
	}
	freqs, err := s.GetFreqs()
	if err != nil {
		t.Fatal(err)
	}
	if freqs["a"] != 2 {
		t.Errorf("SaveFreqs should overwrite: freq[a] = %d, want 2", freqs["a"])
	}

	if err := s.UpdateFreqs(map[string]uint64{"a": 3}); err != nil {
		t.Fatal(err)
	}
	freqs, err = s.GetFreqs()
	if err != nil {
		t.Fatal(err)
	}
	if freqs["a"] != 5 {
		t.Errorf("UpdateFreqs should accumulate: freq[a] = %d, want 5", freqs["a"])
	}
}

var _ storage.Backend = (*Store)(nil)
var _ = record.Record{}
