// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package index

import (
	"io"
	"strings"
	"testing"

	"github.com/kortschak/polymr/internal/builder"
	"github.com/kortschak/polymr/internal/featurize"
	"github.com/kortschak/polymr/internal/query"
	"github.com/kortschak/polymr/internal/record"
	"github.com/kortschak/polymr/internal/score"
	"github.com/kortschak/polymr/internal/storage/kvstore"
)

// massachusettsRows is the ten-row Massachusetts address corpus used
// by the original end-to-end scenarios: zip, state, first name, city,
// last name, street address, pk.
const massachusettsRows = `01001,MA,DONNA,AGAWAM,WUCHERT,PO BOX 329,9799PNOVAY
01007,MA,BERONE,BELCHERTOWN,BOARDWAY,135 FEDERAL ST,9799JA8CB5
01013,MA,JAMES,CHICOPEE,GIBBONS,5 BURTON ST,9899JBVI6N
01020,MA,LEON,CHICOPEE,NADEAU JR,793 PENDLETON AVE,9799XCPW93
01027,MA,KARA,WESTHAMPTON,SNYDER,18 SOUTH RD,9898OO5MO2
01027,MA,MARY,EASTHAMPTON,STEELE,4 TREEHOUSE CIR,9799QHHOKQ
01030,MA,MELANI,FEEDING HILLS,PICKETT,18 PAUL REVERE DR,989960D48D
01032,MA,JILL,GOSHEN,CARTER,PO BOX 133,9899M4GE2J
01039,MA,PAT,HAYDENVILLE,NEWMAN,4 THE JOG,9799VIXQ81
01040,MA,MARIE,HOLYOKE,KANJAMIE,582 PLEASANT ST,98984OB8OT
`

var (
	sampleQuery = []string{"01030", "MELANI", "PICKETT", "18 PAUL REVERE DR"}
	samplePK    = "989960D48D"
)

// buildSampleIndex builds the Massachusetts corpus through the same
// reader/build path as the CLI: searched fields zip, first, last,
// address (idxs 0,2,4,5), pk taken from the trailing column.
func buildSampleIndex(t *testing.T) *Index {
	t.Helper()
	backend, err := kvstore.Open(t.TempDir(), "compress")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { backend.Close() })

	rr := record.FromCSV(strings.NewReader(massachusettsRows), record.Options{
		SearchedFieldIdxs: []int{0, 2, 4, 5},
		PKFieldIdx:        -1,
		IncludeData:       false,
	})
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
		Featurizer:     featurize.Compress,
		FeaturizerName: "compress",
		Parallel:       1,
		ChunkSize:      10,
		TmpDir:         t.TempDir(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 10 {
		t.Fatalf("built %d records, want 10", n)
	}

	idx, err := Open(backend, featurize.Default, kvstore.Decoder)
	if err != nil {
		t.Fatal(err)
	}
	return idx
}

func searchOpts() query.Options {
	return query.Options{Limit: 1, SeedBudget: 10000, SearchSpace: 10}
}

// TestEndToEndFindsIndexedRecord is the §8 scenario: querying the
// built index with the indexed record's own fields returns that same
// record.
func TestEndToEndFindsIndexedRecord(t *testing.T) {
	idx := buildSampleIndex(t)
	results, err := idx.Search(sampleQuery, searchOpts())
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].PK != samplePK {
		t.Fatalf("results = %+v, want top hit pk %q", results, samplePK)
	}
}

// TestEndToEndSurvivesTypo transposes two characters of the zip code,
// matching the typo the original scenario introduces, and checks the
// corrupted query still resolves to the same record.
func TestEndToEndSurvivesTypo(t *testing.T) {
	idx := buildSampleIndex(t)
	typoQuery := append([]string{transpose(sampleQuery[0], 2, 3)}, sampleQuery[1:]...)
	results, err := idx.Search(typoQuery, searchOpts())
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].PK != samplePK {
		t.Fatalf("results = %+v, want top hit pk %q", results, samplePK)
	}
}

// TestEndToEndCustomScorerHalvesScore checks that a caller-supplied
// score function is used in place of score.Hit and that its result
// flows through to the returned Result unmodified.
func TestEndToEndCustomScorerHalvesScore(t *testing.T) {
	idx := buildSampleIndex(t)
	typoQuery := append([]string{transpose(sampleQuery[0], 2, 3)}, sampleQuery[1:]...)

	canonical, err := idx.Search(typoQuery, searchOpts())
	if err != nil {
		t.Fatal(err)
	}
	if len(canonical) != 1 || canonical[0].PK != samplePK {
		t.Fatalf("canonical results = %+v, want top hit pk %q", canonical, samplePK)
	}

	opts := searchOpts()
	opts.Score = func(a, b score.FeatureSet) float64 { return score.Hit(a, b) / 2 }
	halved, err := idx.Search(typoQuery, opts)
	if err != nil {
		t.Fatal(err)
	}
	if len(halved) != 1 || halved[0].PK != samplePK {
		t.Fatalf("custom-scorer results = %+v, want top hit pk %q", halved, samplePK)
	}
	if halved[0].Score*2 != canonical[0].Score {
		t.Errorf("halved score = %v, want half of canonical score %v", halved[0].Score, canonical[0].Score)
	}
}

// TestEndToEndCustomExtractor drops the address field before scoring,
// matching the original scenario's custom_extract, and checks the
// query still resolves to the same record.
func TestEndToEndCustomExtractor(t *testing.T) {
	idx := buildSampleIndex(t)
	typoQuery := append([]string{transpose(sampleQuery[0], 2, 3)}, sampleQuery[1:]...)

	opts := searchOpts()
	opts.Extract = func(fields []string) score.FeatureSet {
		return score.Features(fields[:len(fields)-1])
	}
	results, err := idx.Search(typoQuery, opts)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].PK != samplePK {
		t.Fatalf("results = %+v, want top hit pk %q", results, samplePK)
	}
}

// TestEndToEndParallelDeterministic runs two distinct typo'd queries
// through SearchMany and checks both resolve to the indexed record, in
// input order, matching the original's parallel scenario.
func TestEndToEndParallelDeterministic(t *testing.T) {
	idx := buildSampleIndex(t)
	typo1 := transpose(sampleQuery[0], 2, 3)
	typo2 := transpose(sampleQuery[0], 1, 2)

	queries := []query.Query{
		{Fields: append([]string{typo1}, sampleQuery[1:]...)},
		{Fields: append([]string{typo2}, sampleQuery[1:]...)},
	}
	outcomes := idx.SearchMany(queries, searchOpts(), 2)
	if len(outcomes) != 2 {
		t.Fatalf("outcomes = %+v, want 2", outcomes)
	}
	for i, oc := range outcomes {
		if oc.Err != nil {
			t.Fatalf("outcome %d: %v", i, oc.Err)
		}
		if len(oc.Results) != 1 || oc.Results[0].PK != samplePK {
			t.Errorf("outcome %d = %+v, want top hit pk %q", i, oc.Results, samplePK)
		}
	}
}

// TestAddAccumulatesFrequencyOntoExistingToken regression-tests the
// §8 invariant freq[T] == len(get_token(T)) across Index.Add: adding a
// record that shares a token with one already present from Build must
// add to that token's frequency rather than overwrite it.
func TestAddAccumulatesFrequencyOntoExistingToken(t *testing.T) {
	idx := buildSampleIndex(t)

	// The existing sample row and the new row share three searched
	// fields ("01030", "MELANI", "PICKETT") and differ only in the
	// address, so their compressed token sets overlap; find one such
	// shared token to check the invariant against, rather than
	// assuming a specific compressed byte sequence.
	oldFields := []string{"01030", "MELANI", "PICKETT", "18 PAUL REVERE DR"}
	newFields := []string{"01030", "MELANI", "PICKETT", "2 OTHER ST"}
	oldToks := idx.Featurizer(oldFields)
	newToks := idx.Featurizer(newFields)
	var shared string
	for tok := range oldToks {
		if _, ok := newToks[tok]; ok {
			shared = tok
			break
		}
	}
	if shared == "" {
		t.Fatal("no shared token between old and new fields; fixture changed?")
	}

	before, err := idx.Backend.GetToken(shared)
	if err != nil {
		t.Fatal(err)
	}
	if len(before) == 0 {
		t.Fatalf("fixture token %q not present before add", shared)
	}

	newRec := record.Record{Fields: newFields, PK: "NEWROW"}
	ids, err := idx.Add([]record.Record{newRec})
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 {
		t.Fatalf("Add returned %v, want one row id", ids)
	}

	after, err := idx.Backend.GetToken(shared)
	if err != nil {
		t.Fatal(err)
	}
	freqs, err := idx.Backend.GetFreqs()
	if err != nil {
		t.Fatal(err)
	}
	if got, want := freqs[shared], uint64(len(after)); got != want {
		t.Errorf("freq[%q] = %d, len(get_token(%q)) = %d, want equal (before=%v after=%v)", shared, got, shared, want, before, after)
	}
	if len(after) != len(before)+1 {
		t.Errorf("get_token(%q) = %v, want one more id than %v", shared, after, before)
	}
}

// transpose swaps the runes at i and j in s, assuming s is ASCII (the
// zip codes in this fixture are digit strings).
func transpose(s string, i, j int) string {
	b := []byte(s)
	b[i], b[j] = b[j], b[i]
	return string(b)
}
