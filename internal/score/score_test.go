// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package score

import "testing"

func TestJaccardBothEmpty(t *testing.T) {
	if got := Jaccard(nil, nil); got != 0 {
		t.Errorf("Jaccard(nil, nil) = %v, want 0", got)
	}
}

func TestJaccardIdentical(t *testing.T) {
	a := ngramSet("hello")
	if got := Jaccard(a, a); got != 0 {
		t.Errorf("Jaccard(a, a) = %v, want 0", got)
	}
}

func TestJaccardDisjoint(t *testing.T) {
	a := map[string]struct{}{"aa": {}}
	b := map[string]struct{}{"bb": {}}
	if got := Jaccard(a, b); got != 1 {
		t.Errorf("Jaccard disjoint = %v, want 1", got)
	}
}

func TestHitExactMatch(t *testing.T) {
	fields := []string{"01030", "MELANI", "PICKETT", "18 PAUL REVERE DR"}
	a := Features(fields)
	b := Features(fields)
	if got := Hit(a, b); got != 0 {
		t.Errorf("Hit on identical records = %v, want 0", got)
	}
}

func TestHitCustomScoreHalves(t *testing.T) {
	a := Features([]string{"01030", "MELANI"})
	b := Features([]string{"01003", "MELANI"})
	canonical := Hit(a, b)
	half := func(q, c FeatureSet) float64 { return Hit(q, c) / 2 }
	if got := half(a, b); got != canonical/2 {
		t.Errorf("custom score = %v, want %v", got, canonical/2)
	}
}

func TestHitIgnoresExtraFields(t *testing.T) {
	a := Features([]string{"x", "y", "z"})
	b := Features([]string{"x", "y"})
	if got := Hit(a, b); got != 0 {
		t.Errorf("Hit with extra field = %v, want 0", got)
	}
}
