// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package score computes a dissimilarity between a query record and a
// candidate record from their field-wise 2-gram sets.
package score

import (
	"gonum.org/v1/gonum/stat"
)

// FeatureSet holds one token set per field of a record, in field order.
type FeatureSet []map[string]struct{}

func ngramSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	b := []byte(s)
	if len(b) < 2 {
		set[s] = struct{}{}
		return set
	}
	for i := 0; i+2 <= len(b); i++ {
		set[string(b[i:i+2])] = struct{}{}
	}
	return set
}

// Features extracts the canonical per-field 2-gram sets used by Hit.
func Features(fields []string) FeatureSet {
	fs := make(FeatureSet, len(fields))
	for i, attr := range fields {
		fs[i] = ngramSet(attr)
	}
	return fs
}

// Jaccard returns the Jaccard distance between two token sets, defined
// as 0 when both sets are empty.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	small, big := a, b
	if len(big) < len(small) {
		small, big = big, small
	}
	for k := range small {
		if _, ok := big[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return 1 - float64(inter)/float64(union)
}

// Hit is the canonical scorer: the arithmetic mean of the per-field
// Jaccard distances between query and candidate feature sets. Fields
// are paired position-wise; extra fields on either side are ignored.
func Hit(query, candidate FeatureSet) float64 {
	n := len(query)
	if len(candidate) < n {
		n = len(candidate)
	}
	if n == 0 {
		return 0
	}
	dists := make([]float64, n)
	for i := 0; i < n; i++ {
		dists[i] = Jaccard(query[i], candidate[i])
	}
	return stat.Mean(dists, nil)
}

// ExtractFunc extracts a FeatureSet from a record's fields. Callers may
// supply an alternative to Features; it is forwarded unchanged through
// the single and parallel query paths.
type ExtractFunc func(fields []string) FeatureSet

// ScoreFunc scores two feature sets, lower meaning more similar.
// Callers may supply an alternative to Hit.
type ScoreFunc func(query, candidate FeatureSet) float64
