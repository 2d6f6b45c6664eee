// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package record defines the tabular record type consumed by the index
// core, along with CSV and PSV readers that parse external input into
// that type. The core package itself only ever consumes an iterator of
// Records; the reader implementations here are the "external
// collaborator" referred to by the engine's design.
package record

import (
	"bufio"
	"encoding/csv"
	"io"
	"strings"
)

// Record is an immutable tuple of searched fields, a primary key, and
// unsearched data fields.
type Record struct {
	Fields []string
	PK     string
	Data   []string
}

// Reader yields Records one at a time until it returns io.EOF.
type Reader interface {
	Next() (Record, error)
}

// Options configures how a raw row of columns is mapped onto a Record.
type Options struct {
	// SearchedFieldIdxs selects which columns become Fields, in order.
	// A nil slice selects every column except the last.
	SearchedFieldIdxs []int
	// PKFieldIdx selects which column becomes PK. Negative values
	// count from the end of the row, matching Python slice semantics
	// (-1 is the last column, the conventional default).
	PKFieldIdx int
	// IncludeData controls whether unselected columns are retained as
	// Data. When false, Data is always empty.
	IncludeData bool
}

// layout describes how a row of raw string columns is split into
// searched fields, a primary key, and stored-but-unsearched data, for
// rows of a fixed width.
type layout struct {
	searched []int
	pk       int
	data     []int
	include  bool
}

func newLayout(width int, opts Options) layout {
	searched := opts.SearchedFieldIdxs
	if searched == nil {
		searched = make([]int, maxInt(width-1, 0))
		for i := range searched {
			searched[i] = i
		}
	}
	pk := opts.PKFieldIdx
	if pk < 0 {
		pk += width
	}
	var data []int
	if opts.IncludeData {
		used := make(map[int]bool, len(searched)+1)
		used[pk] = true
		for _, i := range searched {
			used[i] = true
		}
		for i := 0; i < width; i++ {
			if !used[i] {
				data = append(data, i)
			}
		}
	}
	return layout{searched: searched, pk: pk, data: data, include: opts.IncludeData}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func col(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

func (l layout) make(row []string) Record {
	fields := make([]string, len(l.searched))
	for i, idx := range l.searched {
		fields[i] = col(row, idx)
	}
	var data []string
	if l.include {
		data = make([]string, len(l.data))
		for i, idx := range l.data {
			data[i] = col(row, idx)
		}
	}
	return Record{Fields: fields, PK: col(row, l.pk), Data: data}
}

// csvReader adapts encoding/csv.Reader to Reader, deriving its column
// layout from the width of the first row it reads.
type csvReader struct {
	r     *csv.Reader
	opts  Options
	lay   layout
	ready bool
}

// FromCSV returns a Reader over comma-separated rows read from r.
func FromCSV(r io.Reader, opts Options) Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	return &csvReader{r: cr, opts: opts}
}

func (c *csvReader) Next() (Record, error) {
	row, err := c.r.Read()
	if err != nil {
		return Record{}, err
	}
	if !c.ready {
		c.lay = newLayout(len(row), c.opts)
		c.ready = true
	}
	return c.lay.make(row), nil
}

// psvReader splits '|'-delimited lines, skipping blank lines, deriving
// its column layout from the width of the first non-blank row.
type psvReader struct {
	sc    *bufio.Scanner
	opts  Options
	lay   layout
	ready bool
}

// FromPSV returns a Reader over pipe-separated rows read from r.
func FromPSV(r io.Reader, opts Options) Reader {
	return &psvReader{sc: bufio.NewScanner(r), opts: opts}
}

func (p *psvReader) Next() (Record, error) {
	for p.sc.Scan() {
		line := strings.TrimSpace(p.sc.Text())
		if line == "" {
			continue
		}
		row := strings.Split(line, "|")
		if !p.ready {
			p.lay = newLayout(len(row), p.opts)
			p.ready = true
		}
		return p.lay.make(row), nil
	}
	if err := p.sc.Err(); err != nil {
		return Record{}, err
	}
	return Record{}, io.EOF
}

// Readers maps a CLI --reader name to its constructor.
var Readers = map[string]func(io.Reader, Options) Reader{
	"csv": FromCSV,
	"psv": FromPSV,
}
