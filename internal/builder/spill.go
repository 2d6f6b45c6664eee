// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package builder

import (
	"bufio"
	"compress/gzip"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

// spillEntry is one token's contribution to a spill file: the token
// and its ascending, possibly-duplicated-across-sources row_ids.
type spillEntry struct {
	token string
	ids   []uint64
}

// writeSpill writes entries, sorted ascending by token, to a new
// gzip-compressed file in dir, in the format described by §6.3: one
// line per token, base64(token)|id1,id2,…\n.
func writeSpill(dir string, entries map[string][]uint64) (path string, err error) {
	f, err := os.CreateTemp(dir, "polymr-spill-*.gz")
	if err != nil {
		return "", fmt.Errorf("builder: create spill: %w", err)
	}
	defer f.Close()

	toks := make([]string, 0, len(entries))
	for tok := range entries {
		toks = append(toks, tok)
	}
	sort.Strings(toks)

	gw := gzip.NewWriter(f)
	bw := bufio.NewWriter(gw)
	for _, tok := range toks {
		ids := entries[tok]
		if _, err := bw.WriteString(base64.StdEncoding.EncodeToString([]byte(tok))); err != nil {
			return "", cleanupOnErr(f.Name(), err)
		}
		if err := bw.WriteByte('|'); err != nil {
			return "", cleanupOnErr(f.Name(), err)
		}
		for i, id := range ids {
			if i > 0 {
				if err := bw.WriteByte(','); err != nil {
					return "", cleanupOnErr(f.Name(), err)
				}
			}
			if _, err := bw.WriteString(strconv.FormatUint(id, 10)); err != nil {
				return "", cleanupOnErr(f.Name(), err)
			}
		}
		if err := bw.WriteByte('\n'); err != nil {
			return "", cleanupOnErr(f.Name(), err)
		}
	}
	if err := bw.Flush(); err != nil {
		return "", cleanupOnErr(f.Name(), err)
	}
	if err := gw.Close(); err != nil {
		return "", cleanupOnErr(f.Name(), err)
	}
	return f.Name(), nil
}

func cleanupOnErr(path string, err error) error {
	os.Remove(path)
	return fmt.Errorf("builder: write spill: %w", err)
}

// spillReader reads the entries of one spill file back in ascending
// token order, matching the order they were written in.
type spillReader struct {
	path string
	f    *os.File
	gz   *gzip.Reader
	sc   *bufio.Scanner
}

func openSpill(path string) (*spillReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("builder: open spill: %w", err)
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("builder: open spill: %w", err)
	}
	return &spillReader{path: path, f: f, gz: gz, sc: bufio.NewScanner(gz)}, nil
}

// next returns the next (token, ids) pair, or ok=false at EOF.
func (r *spillReader) next() (tok string, ids []uint64, ok bool, err error) {
	if !r.sc.Scan() {
		if err := r.sc.Err(); err != nil {
			return "", nil, false, fmt.Errorf("builder: read spill %s: %w", r.path, err)
		}
		return "", nil, false, nil
	}
	line := r.sc.Text()
	bar := strings.IndexByte(line, '|')
	if bar < 0 {
		return "", nil, false, fmt.Errorf("builder: malformed spill line in %s", r.path)
	}
	tokBytes, err := base64.StdEncoding.DecodeString(line[:bar])
	if err != nil {
		return "", nil, false, fmt.Errorf("builder: malformed spill token in %s: %w", r.path, err)
	}
	rest := line[bar+1:]
	if rest == "" {
		return string(tokBytes), nil, true, nil
	}
	parts := strings.Split(rest, ",")
	ids = make([]uint64, len(parts))
	for i, p := range parts {
		id, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return "", nil, false, fmt.Errorf("builder: malformed spill id in %s: %w", r.path, err)
		}
		ids[i] = id
	}
	return string(tokBytes), ids, true, nil
}

func (r *spillReader) Close() error {
	gzErr := r.gz.Close()
	fErr := r.f.Close()
	if gzErr != nil {
		return gzErr
	}
	return fErr
}

var _ io.Closer = (*spillReader)(nil)
