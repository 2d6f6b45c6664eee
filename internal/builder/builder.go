// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package builder implements the external-memory shuffle/merge index
// builder: ingest records, featurize them in parallel to per-chunk
// spill files, merge the spills down to one posting per token, and
// persist the result to a storage.Backend.
package builder

import (
	"fmt"
	"log"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/kortschak/polymr/internal/featurize"
	"github.com/kortschak/polymr/internal/rangecodec"
	"github.com/kortschak/polymr/internal/record"
	"github.com/kortschak/polymr/internal/storage"
)

// Options configures a Build run.
type Options struct {
	// Backend is the destination store. It must be empty (a fresh
	// index); Build does not merge into an existing corpus.
	Backend storage.Backend
	// Featurizer turns a record's fields into its token set.
	Featurizer featurize.Func
	// FeaturizerName is the registry name bound under Featurizer and
	// persisted with the index.
	FeaturizerName string
	// Parallel is the worker count P for the map and partial-merge
	// stages. Values < 1 are treated as 1.
	Parallel int
	// ChunkSize is the record count C per map-stage chunk. Values < 1
	// default to 5000.
	ChunkSize int
	// TmpDir holds spill files for the duration of the build; it is
	// created if absent and its spill files are removed on both
	// success and failure.
	TmpDir string
}

// BuildError reports that a builder stage failed; the build is
// aborted and spill files are best-effort removed.
type BuildError struct {
	Stage string
	Err   error
}

func (e *BuildError) Error() string { return fmt.Sprintf("polymr: build: %s: %v", e.Stage, e.Err) }
func (e *BuildError) Unwrap() error { return e.Err }

type idRecord struct {
	rowID uint64
	rec   record.Record
}

// Build runs the full index-build pipeline over recs (record ingest,
// parallel featurize-to-spill map, parallel partial merge, serial
// final merge, persist) per the control flow described for index
// time. recs is exhausted exactly once, in order.
func Build(recs func() (record.Record, bool, error), opts Options) (rowCount uint64, err error) {
	if opts.Parallel < 1 {
		opts.Parallel = 1
	}
	chunkSize := opts.ChunkSize
	if chunkSize < 1 {
		chunkSize = 5000
	}
	if opts.TmpDir == "" {
		opts.TmpDir = os.TempDir()
	}
	if err := os.MkdirAll(opts.TmpDir, 0o755); err != nil {
		return 0, &BuildError{Stage: "tmpdir", Err: err}
	}

	var spills []string
	cleanup := func() {
		for _, p := range spills {
			os.Remove(p)
		}
	}

	rowCount, err = ingestAndSave(recs, opts.Backend)
	if err != nil {
		cleanup()
		return 0, &BuildError{Stage: "ingest", Err: err}
	}
	log.Printf("polymr: ingested %d records", rowCount)

	spills, err = mapStage(opts, rowCount, chunkSize)
	if err != nil {
		cleanup()
		return 0, &BuildError{Stage: "map", Err: err}
	}
	log.Printf("polymr: map stage produced %d spill files", len(spills))

	groupSpills, err := partialMergeStage(opts, spills)
	if err != nil {
		cleanup()
		for _, p := range groupSpills {
			os.Remove(p)
		}
		return 0, &BuildError{Stage: "partial merge", Err: err}
	}
	for _, p := range spills {
		os.Remove(p)
	}
	log.Printf("polymr: partial merge produced %d group spills", len(groupSpills))

	freqs, err := finalMergeStage(opts, groupSpills)
	for _, p := range groupSpills {
		os.Remove(p)
	}
	if err != nil {
		return 0, &BuildError{Stage: "final merge", Err: err}
	}

	if err := opts.Backend.SaveFreqs(freqs); err != nil {
		return 0, &BuildError{Stage: "persist freqs", Err: err}
	}
	if err := opts.Backend.SaveFeaturizerName(opts.FeaturizerName); err != nil {
		return 0, &BuildError{Stage: "persist featurizer name", Err: err}
	}
	log.Printf("polymr: build committed: %d records, %d tokens", rowCount, len(freqs))
	return rowCount, nil
}

// ingestAndSave streams recs to the backend in batches of 5000 via
// SaveRecords, returning the total row count assigned. Unlike the
// final builder.Build pipeline, it does not need the fields-only
// stream materialized: mapStage re-reads persisted records directly,
// trading one extra decode per record for a single ingest pass with
// no duplicated buffering.
func ingestAndSave(recs func() (record.Record, bool, error), backend storage.Backend) (uint64, error) {
	const batch = 5000
	var total uint64
	for {
		buf := make([]record.Record, 0, batch)
		for len(buf) < batch {
			rec, ok, err := recs()
			if err != nil {
				return total, err
			}
			if !ok {
				break
			}
			buf = append(buf, rec)
		}
		if len(buf) == 0 {
			break
		}
		i := 0
		n, err := backend.SaveRecords(func() (record.Record, bool, error) {
			if i >= len(buf) {
				return record.Record{}, false, nil
			}
			r := buf[i]
			i++
			return r, true, nil
		})
		if err != nil {
			return total, err
		}
		total += n
		if len(buf) < batch {
			break
		}
	}
	return total, nil
}

// mapStage partitions row range [0, rowCount) into chunks of
// chunkSize, and has up to opts.Parallel workers featurize each chunk
// and write one spill file per chunk.
func mapStage(opts Options, rowCount uint64, chunkSize int) ([]string, error) {
	type chunkRange struct{ lo, hi uint64 }
	var chunks []chunkRange
	for lo := uint64(0); lo < rowCount; lo += uint64(chunkSize) {
		hi := lo + uint64(chunkSize)
		if hi > rowCount {
			hi = rowCount
		}
		chunks = append(chunks, chunkRange{lo, hi})
	}

	spills := make([]string, len(chunks))
	eg := &errgroup.Group{}
	eg.SetLimit(opts.Parallel)
	for idx, c := range chunks {
		idx, c := idx, c
		eg.Go(func() error {
			entries := make(map[string][]uint64)
			for rowID := c.lo; rowID < c.hi; rowID++ {
				rec, err := opts.Backend.GetRecord(rowID)
				if err != nil {
					return fmt.Errorf("map chunk [%d,%d): %w", c.lo, c.hi, err)
				}
				for tok := range opts.Featurizer(rec.Fields) {
					entries[tok] = append(entries[tok], rowID)
				}
			}
			path, err := writeSpill(opts.TmpDir, entries)
			if err != nil {
				return err
			}
			spills[idx] = path
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		// Return the paths already written so the caller can remove them.
		return spills, err
	}
	return spills, nil
}

// partialMergeStage divides spills into ⌈N/P⌉-sized groups and k-way
// merges each group into one spill file, in parallel across groups.
func partialMergeStage(opts Options, spills []string) ([]string, error) {
	n := len(spills)
	if n == 0 {
		return nil, nil
	}
	groupSize := (n + opts.Parallel - 1) / opts.Parallel
	if groupSize < 1 {
		groupSize = 1
	}
	var groups [][]string
	for i := 0; i < n; i += groupSize {
		end := i + groupSize
		if end > n {
			end = n
		}
		groups = append(groups, spills[i:end])
	}

	out := make([]string, len(groups))
	eg := &errgroup.Group{}
	eg.SetLimit(opts.Parallel)
	for idx, group := range groups {
		idx, group := idx, group
		eg.Go(func() error {
			path, err := mergeGroupToSpill(opts.TmpDir, group)
			if err != nil {
				return err
			}
			out[idx] = path
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		// Return the paths already written so the caller can remove them.
		return out, err
	}
	return out, nil
}

func mergeGroupToSpill(tmpDir string, group []string) (string, error) {
	readers := make([]*spillReader, len(group))
	for i, p := range group {
		r, err := openSpill(p)
		if err != nil {
			for _, opened := range readers[:i] {
				opened.Close()
			}
			return "", err
		}
		readers[i] = r
	}
	defer func() {
		for _, r := range readers {
			r.Close()
		}
	}()

	entries := make(map[string][]uint64)
	err := kwayMerge(readers, func(m mergedEntry) error {
		entries[m.token] = m.ids
		return nil
	})
	if err != nil {
		return "", err
	}
	return writeSpill(tmpDir, entries)
}

// finalMergeStage k-way merges the group spills by token, compacts
// each token's id run, and persists the resulting postings through
// Backend.SaveTokens, returning the per-token frequency table.
func finalMergeStage(opts Options, groupSpills []string) (map[string]uint64, error) {
	if len(groupSpills) == 0 {
		return map[string]uint64{}, nil
	}
	readers := make([]*spillReader, len(groupSpills))
	for i, p := range groupSpills {
		r, err := openSpill(p)
		if err != nil {
			for _, opened := range readers[:i] {
				opened.Close()
			}
			return nil, err
		}
		readers[i] = r
	}
	defer func() {
		for _, r := range readers {
			r.Close()
		}
	}()

	freqs := make(map[string]uint64)
	var postings []storage.TokenPosting
	err := kwayMerge(readers, func(m mergedEntry) error {
		// Ascending-across-sublists already holds by construction
		// (disjoint row ranges merged in row-id order); compact trusts it.
		_, compacted := rangecodec.Compact(m.ids)
		freqs[m.token] = uint64(len(m.ids))
		postings = append(postings, storage.TokenPosting{Token: m.token, IDs: m.ids, Compacted: compacted})
		return nil
	})
	if err != nil {
		return nil, err
	}

	i := 0
	saveErr := opts.Backend.SaveTokens(func() (storage.TokenPosting, bool, error) {
		if i >= len(postings) {
			return storage.TokenPosting{}, false, nil
		}
		p := postings[i]
		i++
		return p, true, nil
	})
	if saveErr != nil {
		return nil, saveErr
	}
	return freqs, nil
}

