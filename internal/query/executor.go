// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package query

import (
	"fmt"
	"log"

	"github.com/kortschak/polymr/internal/score"
	"github.com/kortschak/polymr/internal/storage"
)

// WorkerError reports that a worker's count_tokens or score_records
// call returned an error; the driver records it as the query's
// outcome and advances rather than aborting the batch (§7). Workers do
// not recover panics, so a panic inside a worker is not reported as a
// WorkerError.
type WorkerError struct {
	QueryIndex int
	Err        error
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("polymr: query %d: worker: %v", e.QueryIndex, e.Err)
}
func (e *WorkerError) Unwrap() error { return e.Err }

// Query is one input to SearchMany: a set of query fields carried
// through the pipeline under its input index.
type Query struct {
	Fields []string
}

// Outcome pairs a query's index with either its results or the error
// that prevented scoring it.
type Outcome struct {
	Results []Result
	Err     error
}

// Executor is a read-only Index shared by a pool of W worker
// goroutines, replacing the process/thread pool of §4.6 with Go's
// natural concurrency primitives: a per-worker inbound channel for
// count_tokens accumulation (state must stay with one worker per
// query) and one shared channel for stateless score_records work,
// coordinated by plain goroutines and channels instead of OS
// processes and message queues (see the REDESIGN note on process vs.
// goroutine pools).
type Executor struct {
	Backend storage.Backend
	Decoder storage.Decoder
	Workers int
}

type countMsg struct {
	queryIdx    int
	totalTokens int
	blob        []byte // nil for the zero-token synthetic message or an unloadable posting
	n           int    // search-space size for this query
}

type countResult struct {
	queryIdx   int
	candidates []uint64
	err        error
}

type scoreMsg struct {
	queryIdx int
	extract  score.ExtractFunc
	scorer   score.ScoreFunc
	query    score.FeatureSet
	limit    int
	blobs    []recordBlob
}

type recordBlob struct {
	rowID uint64
	blob  []byte
}

type scoreResult struct {
	queryIdx int
	results  []Result
	err      error
}

type queryCountState struct {
	counts   map[uint64]uint64
	received int
	n        int
}

// SearchMany runs queries through the worker pool and returns one
// Outcome per query, in input order (§4.6, §5's ordering guarantees).
// A query whose worker call fails is reported as a WorkerError in its
// Outcome and does not abort the batch.
func (ex *Executor) SearchMany(queries []Query, opts Options) []Outcome {
	opts = opts.withDefaults()
	w := ex.Workers
	if w < 1 {
		w = 1
	}
	numQ := len(queries)
	if numQ == 0 {
		return nil
	}

	countChs := make([]chan countMsg, w)
	for i := range countChs {
		countChs[i] = make(chan countMsg, 64)
	}
	scoreCh := make(chan scoreMsg, 64)
	countResultsCh := make(chan countResult, 64)
	scoreResultsCh := make(chan scoreResult, 64)

	for i := 0; i < w; i++ {
		go runWorker(countChs[i], scoreCh, countResultsCh, scoreResultsCh, ex.Decoder)
	}

	inFlightMax := 3 * w
	completed := make(map[int]Outcome, numQ)
	nextOut := 0
	out := make([]Outcome, numQ)

	dispatchIdx := 0
	inFlight := 0
	countPending := numQ // queries awaiting their countResult
	scorePending := 0    // queries awaiting their scoreResult

	flush := func() {
		for {
			oc, ok := completed[nextOut]
			if !ok {
				return
			}
			out[nextOut] = oc
			delete(completed, nextOut)
			nextOut++
		}
	}

	for nextOut < numQ {
		if dispatchIdx < numQ && inFlight < inFlightMax {
			// dispatchQuery runs in its own goroutine rather than
			// inline: it can emit one countMsg per selected token, and
			// the driver must stay in the select below to drain
			// countResultsCh/scoreResultsCh concurrently with that
			// fan-out, or a long query's sends and a full result
			// channel can wedge each other.
			go dispatchQuery(ex.Backend, dispatchIdx, queries[dispatchIdx], opts, countChs[dispatchIdx%w])
			dispatchIdx++
			inFlight++
			continue
		}
		if dispatchIdx == numQ && countPending == 0 {
			for _, ch := range countChs {
				close(ch)
			}
			countChs = nil
		}
		select {
		case cr, ok := <-countResultsCh:
			if !ok {
				continue
			}
			countPending--
			if cr.err != nil {
				completed[cr.queryIdx] = Outcome{Err: &WorkerError{QueryIndex: cr.queryIdx, Err: cr.err}}
				inFlight--
				flush()
				continue
			}
			blobs, err := loadRecordBlobs(ex.Backend, cr.candidates)
			if err != nil {
				completed[cr.queryIdx] = Outcome{Err: &WorkerError{QueryIndex: cr.queryIdx, Err: err}}
				inFlight--
				flush()
				continue
			}
			scorePending++
			scoreCh <- scoreMsg{
				queryIdx: cr.queryIdx,
				extract:  opts.Extract,
				scorer:   opts.Score,
				query:    opts.Extract(queries[cr.queryIdx].Fields),
				limit:    opts.Limit,
				blobs:    blobs,
			}
		case sr := <-scoreResultsCh:
			scorePending--
			if sr.err != nil {
				completed[sr.queryIdx] = Outcome{Err: &WorkerError{QueryIndex: sr.queryIdx, Err: sr.err}}
			} else {
				completed[sr.queryIdx] = Outcome{Results: sr.results}
			}
			inFlight--
			flush()
			if dispatchIdx == numQ && countPending == 0 && scorePending == 0 {
				close(scoreCh)
			}
		}
	}
	log.Printf("polymr: searchmany completed %d queries", numQ)
	return out
}

func dispatchQuery(backend storage.Backend, idx int, q Query, opts Options, ch chan<- countMsg) {
	tokenSet := opts.Featurizer(q.Fields)
	toks := make([]string, 0, len(tokenSet))
	for tok := range tokenSet {
		toks = append(toks, tok)
	}
	selected, err := backend.FindLeastFrequentTokens(toks, opts.SeedBudget, opts.MaxTokens)
	if err != nil || len(selected) == 0 {
		ch <- countMsg{queryIdx: idx, totalTokens: 1, blob: nil, n: opts.SearchSpace}
		return
	}
	for _, tok := range selected {
		blob, err := backend.LoadTokenBlob(tok)
		if err != nil {
			// A missing posting contributes no hits but is still sent,
			// so the worker receives totalTokens messages.
			blob = nil
		}
		ch <- countMsg{queryIdx: idx, totalTokens: len(selected), blob: blob, n: opts.SearchSpace}
	}
}

func loadRecordBlobs(backend storage.Backend, ids []uint64) ([]recordBlob, error) {
	out := make([]recordBlob, 0, len(ids))
	for _, id := range ids {
		blob, err := backend.LoadRecordBlob(id)
		if err != nil {
			if storage.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		out = append(out, recordBlob{rowID: id, blob: blob})
	}
	return out, nil
}

// runWorker is the body of one pool worker: it owns countCh (its
// private count_tokens inbound queue, so per-query accumulation state
// never needs to be shared across workers) and shares scoreCh with
// every other worker (score_records is stateless). Both channels being
// closed and drained is this worker's sentinel-based shutdown signal.
func runWorker(countCh <-chan countMsg, scoreCh <-chan scoreMsg, countResults chan<- countResult, scoreResults chan<- scoreResult, decoder storage.Decoder) {
	state := make(map[int]*queryCountState)
	for countCh != nil || scoreCh != nil {
		select {
		case msg, ok := <-countCh:
			if !ok {
				countCh = nil
				continue
			}
			handleCountMsg(msg, state, decoder, countResults)
		case msg, ok := <-scoreCh:
			if !ok {
				scoreCh = nil
				continue
			}
			handleScoreMsg(msg, decoder, scoreResults)
		}
	}
}

func handleCountMsg(msg countMsg, state map[int]*queryCountState, decoder storage.Decoder, results chan<- countResult) {
	st := state[msg.queryIdx]
	if st == nil {
		st = &queryCountState{counts: make(map[uint64]uint64), n: msg.n}
		state[msg.queryIdx] = st
	}
	if msg.blob != nil {
		ids, err := decoder.DecodeTokenBlob(msg.blob)
		if err != nil {
			delete(state, msg.queryIdx)
			results <- countResult{queryIdx: msg.queryIdx, err: err}
			return
		}
		for _, id := range ids {
			st.counts[id]++
		}
	}
	st.received++
	if st.received >= msg.totalTokens {
		candidates := topHitCounts(st.counts, st.n)
		delete(state, msg.queryIdx)
		results <- countResult{queryIdx: msg.queryIdx, candidates: candidates}
	}
}

func handleScoreMsg(msg scoreMsg, decoder storage.Decoder, results chan<- scoreResult) {
	out := make([]Result, 0, len(msg.blobs))
	for _, rb := range msg.blobs {
		rec, err := decoder.DecodeRecordBlob(rb.blob)
		if err != nil {
			results <- scoreResult{queryIdx: msg.queryIdx, err: err}
			return
		}
		s := msg.scorer(msg.query, msg.extract(rec.Fields))
		out = append(out, Result{Fields: rec.Fields, PK: rec.PK, Data: rec.Data, RowNum: rb.rowID, Score: s})
	}
	results <- scoreResult{queryIdx: msg.queryIdx, results: topScored(out, msg.limit)}
}

