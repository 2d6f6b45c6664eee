// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package featurize turns records into token sets for approximate
// matching. Tokens are overlapping byte n-grams, optionally extracted
// from a deflate-compressed form of the input so that the resulting
// token set is tolerant to small edits in the source text.
package featurize

import (
	"bytes"
	"compress/zlib"
)

// Ngrams returns the overlapping windows of length k in s, starting at
// offsets 0, step, 2*step, and so on, covering every window that fits.
// When len(s) < k, it returns the single element []byte{s...} unchanged.
func Ngrams(s []byte, k, step int) [][]byte {
	if len(s) < k {
		return [][]byte{s}
	}
	out := make([][]byte, 0, (len(s)-k)/step+1)
	for i := 0; i+k <= len(s); i += step {
		out = append(out, s[i:i+k])
	}
	return out
}

// Set is a deduplicated token set, keyed by the raw token bytes held as
// a string.
type Set map[string]struct{}

func (s Set) add(tok []byte) {
	s[string(tok)] = struct{}{}
}

// Func extracts a token Set from a record's searched fields.
type Func func(fields []string) Set

// compress returns the raw zlib (RFC 1950, header included) deflate
// output of b, matching CPython's zlib.compress default.
func compress(b []byte) []byte {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	w.Write(b)
	w.Close()
	return buf.Bytes()
}

func ngramsOf(fields []string, k, step int, pre func([]byte) []byte) Set {
	fs := make(Set)
	for _, attr := range fields {
		b := []byte(attr)
		if pre != nil {
			b = pre(b)
		}
		for _, g := range Ngrams(b, k, step) {
			fs.add(g)
		}
	}
	return fs
}

// Compress is the canonical featurizer: each field is deflate-compressed
// and 3-grammed with step 1.
func Compress(fields []string) Set {
	return ngramsOf(fields, 3, 1, compress)
}

// CompressK4 compresses each field and extracts 4-grams with step 1.
func CompressK4(fields []string) Set {
	return ngramsOf(fields, 4, 1, compress)
}

// K2 extracts 2-grams with step 1 directly from the UTF-8 bytes of each
// field.
func K2(fields []string) Set {
	return ngramsOf(fields, 2, 1, nil)
}

// K3 extracts 3-grams with step 1 directly from the UTF-8 bytes of each
// field.
func K3(fields []string) Set {
	return ngramsOf(fields, 3, 1, nil)
}

// K4 extracts 4-grams with step 1 directly from the UTF-8 bytes of each
// field.
func K4(fields []string) Set {
	return ngramsOf(fields, 4, 1, nil)
}

// Registry maps a featurizer name to its implementation. Names are
// persisted with an index and must resolve here both at build time and
// at query time.
type Registry map[string]Func

// Default is the registry of featurizers known to this package,
// matching the names accepted by the CLI.
var Default = Registry{
	"compress":    Compress,
	"compress_k4": CompressK4,
	"k2":          K2,
	"k3":          K3,
	"k4":          K4,
}

// Lookup resolves name against r. Its boolean result is false when
// name is unknown, which the caller can report as a configuration
// error.
func (r Registry) Lookup(name string) (Func, bool) {
	f, ok := r[name]
	return f, ok
}
