// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/kortschak/polymr/internal/rangecodec"
	"github.com/kortschak/polymr/internal/record"
)

// order is the byte order used throughout the on-disk encodings below,
// matching the length-prefixed binary.BigEndian scheme the original
// BLAST record key codec used for structured keys.
var order = binary.BigEndian

func putUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	order.PutUint64(b[:], v)
	buf.Write(b[:])
}

func putString(buf *bytes.Buffer, s string) {
	putUint64(buf, uint64(len(s)))
	buf.WriteString(s)
}

func readUint64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return order.Uint64(b[:]), nil
}

func readString(r *bytes.Reader) (string, error) {
	n, err := readUint64(r)
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

// EncodeRecord serializes a Record as a length-prefixed triple of
// (field count, fields..., pk, data count, data...).
func EncodeRecord(rec record.Record) []byte {
	var buf bytes.Buffer
	putUint64(&buf, uint64(len(rec.Fields)))
	for _, f := range rec.Fields {
		putString(&buf, f)
	}
	putString(&buf, rec.PK)
	putUint64(&buf, uint64(len(rec.Data)))
	for _, d := range rec.Data {
		putString(&buf, d)
	}
	return buf.Bytes()
}

// DecodeRecord is the inverse of EncodeRecord.
func DecodeRecord(blob []byte) (record.Record, error) {
	r := bytes.NewReader(blob)
	nf, err := readUint64(r)
	if err != nil {
		return record.Record{}, fmt.Errorf("decode record: %w", err)
	}
	fields := make([]string, nf)
	for i := range fields {
		fields[i], err = readString(r)
		if err != nil {
			return record.Record{}, fmt.Errorf("decode record: %w", err)
		}
	}
	pk, err := readString(r)
	if err != nil {
		return record.Record{}, fmt.Errorf("decode record: %w", err)
	}
	nd, err := readUint64(r)
	if err != nil {
		return record.Record{}, fmt.Errorf("decode record: %w", err)
	}
	data := make([]string, nd)
	for i := range data {
		data[i], err = readString(r)
		if err != nil {
			return record.Record{}, fmt.Errorf("decode record: %w", err)
		}
	}
	return record.Record{Fields: fields, PK: pk, Data: data}, nil
}

// EncodePosting serializes a posting in one of the two on-disk forms
// described by the data model: flat (a packed array of fixed-width
// ascending row IDs) or compacted (a mix of single IDs and inclusive
// ranges). The leading byte is the compacted flag.
func EncodePosting(ids []uint64, compacted bool) []byte {
	var buf bytes.Buffer
	if !compacted {
		buf.WriteByte(0)
		putUint64(&buf, uint64(len(ids)))
		for _, id := range ids {
			putUint64(&buf, id)
		}
		return buf.Bytes()
	}
	elems, _ := rangecodec.Compact(ids)
	buf.WriteByte(1)
	putUint64(&buf, uint64(len(elems)))
	for _, e := range elems {
		if e.IsRange() {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
		putUint64(&buf, e.Lo)
		if e.IsRange() {
			putUint64(&buf, e.Hi)
		}
	}
	return buf.Bytes()
}

// DecodePosting returns the decoded, strictly ascending row ID list
// encoded by EncodePosting, regardless of which on-disk form was used.
func DecodePosting(blob []byte) ([]uint64, error) {
	r := bytes.NewReader(blob)
	flagByte, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("decode posting: %w", err)
	}
	n, err := readUint64(r)
	if err != nil {
		return nil, fmt.Errorf("decode posting: %w", err)
	}
	if flagByte == 0 {
		ids := make([]uint64, n)
		for i := range ids {
			ids[i], err = readUint64(r)
			if err != nil {
				return nil, fmt.Errorf("decode posting: %w", err)
			}
		}
		return ids, nil
	}
	elems := make([]rangecodec.Elem, n)
	for i := range elems {
		tag, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("decode posting: %w", err)
		}
		lo, err := readUint64(r)
		if err != nil {
			return nil, fmt.Errorf("decode posting: %w", err)
		}
		hi := lo
		if tag == 1 {
			hi, err = readUint64(r)
			if err != nil {
				return nil, fmt.Errorf("decode posting: %w", err)
			}
		}
		elems[i] = rangecodec.Elem{Lo: lo, Hi: hi}
	}
	return rangecodec.Decompact(elems), nil
}

// EncodeUint64 encodes n as its 8-byte big-endian form, the layout used
// for simple scalar metadata values (row counts, per-token
// frequencies).
func EncodeUint64(n uint64) []byte {
	b := make([]byte, 8)
	order.PutUint64(b, n)
	return b
}

// DecodeUint64 is the inverse of EncodeUint64.
func DecodeUint64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("decode uint64: want 8 bytes, got %d", len(b))
	}
	return order.Uint64(b), nil
}
