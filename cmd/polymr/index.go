// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/kortschak/polymr/internal/builder"
	"github.com/kortschak/polymr/internal/record"
)

func runIndex(args []string) error {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	backendURL := fs.String("backend", "", "storage back-end URL (required)")
	input := fs.String("input", "", "input file (defaults to stdin)")
	reader := fs.String("reader", "csv", "record reader: csv or psv")
	parallel := fs.Int("parallel", 1, "worker count for the map/merge stages")
	primaryKey := fs.Int("primary-key", -1, "field index used as the primary key (negative indexes from the end)")
	searchIdxs := fs.String("search-idxs", "", "comma-separated field indexes to index (default: all but the last column)")
	chunksize := fs.Int("chunksize", 5000, "records per map-stage chunk")
	tmpdir := fs.String("tmpdir", "", "directory for spill files (defaults to the OS temp dir)")
	featurizerName := fs.String("featurizer", "compress", "featurizer: k2, k3, k4, compress, or compress_k4")
	includeData := fs.Bool("include-data", true, "retain unsearched columns as each record's stored data")
	fs.Parse(args)

	if *backendURL == "" {
		fs.Usage()
		os.Exit(2)
	}
	readerFn, ok := record.Readers[*reader]
	if !ok {
		return fmt.Errorf("polymr: unknown reader %q", *reader)
	}
	featFn, ok := featurizers.Lookup(*featurizerName)
	if !ok {
		return fmt.Errorf("polymr: unknown featurizer %q", *featurizerName)
	}

	var idxs []int
	if *searchIdxs != "" {
		for _, s := range strings.Split(*searchIdxs, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(s))
			if err != nil {
				return fmt.Errorf("polymr: malformed --search-idxs: %w", err)
			}
			idxs = append(idxs, n)
		}
	}

	in := os.Stdin
	if *input != "" {
		f, err := os.Open(*input)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	backend, err := backends.Open(*backendURL, *featurizerName)
	if err != nil {
		return err
	}
	defer backend.Close()

	rr := readerFn(in, record.Options{SearchedFieldIdxs: idxs, PKFieldIdx: *primaryKey, IncludeData: *includeData})
	recs := func() (record.Record, bool, error) {
		rec, err := rr.Next()
		if err != nil {
			if err == io.EOF {
				return record.Record{}, false, nil
			}
			return record.Record{}, false, err
		}
		return rec, true, nil
	}

	n, err := builder.Build(recs, builder.Options{
		Backend:        backend,
		Featurizer:     featFn,
		FeaturizerName: *featurizerName,
		Parallel:       *parallel,
		ChunkSize:      *chunksize,
		TmpDir:         *tmpdir,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "polymr: indexed %d records\n", n)
	return nil
}
