// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package query implements the single-threaded query planner and the
// goroutine-pool parallel executor that pipelines many queries
// through a worker pool sharing a read-only index.
package query

import (
	"sort"

	"github.com/kortschak/polymr/internal/featurize"
	"github.com/kortschak/polymr/internal/score"
	"github.com/kortschak/polymr/internal/storage"
)

// Result is one scored hit returned to the caller.
type Result struct {
	Fields []string `json:"fields"`
	PK     string   `json:"pk"`
	Data   []string `json:"data"`
	RowNum uint64   `json:"rownum"`
	Score  float64  `json:"score"`
}

// Options configures a single query. Extract and Score default to
// score.Features and score.Hit when left nil, but callers may supply
// alternatives; the core forwards them unchanged to both the
// single-threaded planner and the parallel executor.
type Options struct {
	Featurizer  featurize.Func
	Extract     score.ExtractFunc
	Score       score.ScoreFunc
	Limit       int    // K
	SeedBudget  uint64 // r
	SearchSpace int    // n
	MaxTokens   *int   // k
}

func (o Options) withDefaults() Options {
	if o.Extract == nil {
		o.Extract = score.Features
	}
	if o.Score == nil {
		o.Score = score.Hit
	}
	return o
}

// Search runs the §4.5 single-threaded query planner: featurize,
// select discriminative tokens, tally candidate hit counts, score the
// top search-space candidates, and return the top-Limit results.
func Search(backend storage.Backend, fields []string, opts Options) ([]Result, error) {
	opts = opts.withDefaults()

	tokenSet := opts.Featurizer(fields)
	toks := make([]string, 0, len(tokenSet))
	for tok := range tokenSet {
		toks = append(toks, tok)
	}

	selected, err := backend.FindLeastFrequentTokens(toks, opts.SeedBudget, opts.MaxTokens)
	if err != nil {
		return nil, err
	}
	if len(selected) == 0 {
		return nil, nil
	}

	hits := make(map[uint64]uint64)
	for _, tok := range selected {
		ids, err := backend.GetToken(tok)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			hits[id]++
		}
	}

	candidates := topHitCounts(hits, opts.SearchSpace)
	if len(candidates) == 0 {
		return nil, nil
	}

	found, err := backend.GetRecords(candidates)
	if err != nil {
		return nil, err
	}

	queryFeatures := opts.Extract(fields)
	results := make([]Result, len(found))
	for i, rwi := range found {
		s := opts.Score(queryFeatures, opts.Extract(rwi.Record.Fields))
		results[i] = Result{
			Fields: rwi.Record.Fields,
			PK:     rwi.Record.PK,
			Data:   rwi.Record.Data,
			RowNum: rwi.RowID,
			Score:  s,
		}
	}
	return topScored(results, opts.Limit), nil
}

// topHitCounts returns up to n row_ids with the highest hit counts,
// ties broken by ascending row_id (§4.5 step 4).
func topHitCounts(hits map[uint64]uint64, n int) []uint64 {
	type rc struct {
		row   uint64
		count uint64
	}
	all := make([]rc, 0, len(hits))
	for row, count := range hits {
		all = append(all, rc{row, count})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].count != all[j].count {
			return all[i].count > all[j].count
		}
		return all[i].row < all[j].row
	})
	if n > 0 && len(all) > n {
		all = all[:n]
	}
	out := make([]uint64, len(all))
	for i, e := range all {
		out[i] = e.row
	}
	return out
}

// topScored returns the limit results with the smallest scores, ties
// broken by ascending row_id (§4.5 step 5).
func topScored(results []Result, limit int) []Result {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score < results[j].Score
		}
		return results[i].RowNum < results[j].RowNum
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}
