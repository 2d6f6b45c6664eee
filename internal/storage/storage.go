// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package storage defines the abstract contract the index builder and
// query planner require of a back-end, and the error kinds callers
// branch on. Concrete back-ends (see the kvstore subpackage) implement
// Backend and expose a Factory that a Registry maps to a URL scheme.
package storage

import (
	"errors"
	"fmt"

	"github.com/kortschak/polymr/internal/record"
)

// NotFoundError reports that a requested row, token, or metadata key is
// absent. Callers branch on it with errors.As; most core operations
// treat a NotFoundError as "skip" rather than propagating it.
type NotFoundError struct {
	Kind string // "record", "token", "featurizer", "rowcount", ...
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("polymr: %s %q not found", e.Kind, e.Key)
}

// IsNotFound reports whether err is (or wraps) a *NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// Error wraps a failure of the underlying storage engine or its I/O.
// It is never retried by the core and is surfaced to the caller with
// the underlying message attached.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("polymr: storage: %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// ConfigError reports an unknown URL scheme, unknown featurizer name,
// or otherwise malformed configuration, detected before any work
// begins.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return "polymr: config: " + e.Msg }

// RecordWithID pairs a decoded record with the row ID it was stored
// under.
type RecordWithID struct {
	RowID  uint64
	Record record.Record
}

// TokenPosting is one fully-formed posting to persist: the token, its
// flat ascending row IDs, and whether the posting is to be stored in
// the run-compacted on-disk form (see EncodePosting and the rangecodec
// package).
type TokenPosting struct {
	Token     string
	IDs       []uint64
	Compacted bool
}

// Backend is the storage contract required by the builder and query
// planner. A Backend instance is obtained once per process by a
// concrete package (e.g. kvstore). Writes come from builder.Build and
// from Index.Add, one caller at a time. The builder's map stage calls
// GetRecord from up to Options.Parallel goroutines at once; the
// parallel query executor's workers never call the Backend and only
// decode blobs already fetched by the driver.
type Backend interface {
	// Records.
	SaveRecord(rec record.Record) (rowID uint64, err error)
	SaveRecords(recs func() (record.Record, bool, error)) (count uint64, err error)
	GetRecord(rowID uint64) (record.Record, error)
	// GetRecords returns the records found among ids, in no particular
	// order, each tagged with its row ID. A deleted or never-written
	// row ID is silently omitted rather than returned as an error, so
	// that stale postings hits are treated as a score-miss (see §4.7).
	GetRecords(ids []uint64) ([]RecordWithID, error)
	UpdateRecord(rowID uint64, rec record.Record) error
	DeleteRecord(rowID uint64) error

	// Row counter.
	GetRowCount() (uint64, error)
	SaveRowCount(n uint64) error
	IncrementRowCount(n uint64) (uint64, error)

	// Frequency table.
	GetFreqs() (map[string]uint64, error)
	SaveFreqs(freqs map[string]uint64) error
	UpdateFreqs(deltas map[string]uint64) error

	// Token selection and postings.
	FindLeastFrequentTokens(toks []string, r uint64, k *int) ([]string, error)
	SaveToken(tok string, ids []uint64, compacted bool) error
	SaveTokens(postings func() (TokenPosting, bool, error)) error
	GetToken(tok string) ([]uint64, error)
	UpdateToken(tok string, newIDs []uint64) error
	DropRecordsFromToken(tok string, badIDs []uint64) error

	// Featurizer binding.
	GetFeaturizerName() (string, error)
	SaveFeaturizerName(name string) error

	// Zero-copy access for worker-side decoding (see Decoder).
	LoadTokenBlob(tok string) ([]byte, error)
	LoadRecordBlob(rowID uint64) ([]byte, error)

	Close() error
}

// Decoder exposes the pure blob->value decode functions a Backend
// kind uses, so that parallel workers can parse blobs loaded by the
// driver without holding a live handle to the back-end itself (see the
// design note on the cyclic storage interface). A Backend
// implementation's package exposes a package-level Decoder value.
type Decoder interface {
	DecodeTokenBlob(blob []byte) ([]uint64, error)
	DecodeRecordBlob(blob []byte) (record.Record, error)
}
