// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/kortschak/polymr/internal/query"
)

func runQuery(args []string) error {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	backendURL := fs.String("backend", "", "storage back-end URL (required)")
	seeds := fs.Uint64("seeds", 1000, "token frequency budget (r)")
	searchSpace := fs.Int("search-space", 100, "candidate pool size (n)")
	limit := fs.Int("limit", 10, "number of results to return (K)")
	fs.Parse(args)

	terms := fs.Args()
	if *backendURL == "" || len(terms) == 0 {
		fs.Usage()
		os.Exit(2)
	}

	backend, err := backends.Open(*backendURL, "")
	if err != nil {
		return err
	}
	defer backend.Close()

	name, err := backend.GetFeaturizerName()
	if err != nil {
		return err
	}
	featFn, ok := featurizers.Lookup(name)
	if !ok {
		return fmt.Errorf("polymr: index was built with unknown featurizer %q", name)
	}

	results, err := query.Search(backend, terms, query.Options{
		Featurizer:  featFn,
		Limit:       *limit,
		SeedBudget:  *seeds,
		SearchSpace: *searchSpace,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	for _, r := range results {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}
