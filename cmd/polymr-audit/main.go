// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The polymr-audit command lets the internal modernc.org/kv stores
// built by "polymr index" be inspected directly. A polymr kv back-end
// keeps two files under its directory:
//
//	records.db  — row_id -> record blobs, the row counter, the
//	              featurizer name
//	features.db — token -> posting blobs, token -> frequency entries
//
// polymr-audit opens one of these files by path, walks it in key
// order, and streams its entries as JSON to stdout. It is the polymr
// analogue of the BLAST-store auditing tool this codebase is adapted
// from, repurposed for polymr's own keyspaces instead of BLAST hit
// tables.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"modernc.org/kv"

	"github.com/kortschak/polymr/internal/storage"
	"github.com/kortschak/polymr/internal/storage/kvstore"
)

var enc = json.NewEncoder(os.Stdout)

func printJSON(v interface{}) error { return enc.Encode(v) }

type auditRecord struct {
	RowID  uint64   `json:"row_id"`
	Fields []string `json:"fields"`
	PK     string   `json:"pk"`
	Data   []string `json:"data"`
}

type auditToken struct {
	Token []byte   `json:"token"`
	IDs   []uint64 `json:"ids"`
}

type auditFreq struct {
	Token []byte `json:"token"`
	Count uint64 `json:"count"`
}

func main() {
	log.SetFlags(0)
	path := flag.String("db", "", "path to a records.db or features.db file")
	kind := flag.String("kind", "", "what to decode: records, tokens, or freqs (default inferred from --db name)")
	flag.Parse()

	if *path == "" {
		flag.Usage()
		os.Exit(2)
	}
	k := *kind
	if k == "" {
		switch filepath.Base(*path) {
		case "records.db":
			k = "records"
		case "features.db":
			k = "tokens"
		default:
			fmt.Fprintln(os.Stderr, "polymr-audit: --kind is required unless --db is named records.db or features.db")
			os.Exit(2)
		}
	}
	switch k {
	case "records", "tokens", "freqs":
	default:
		fmt.Fprintf(os.Stderr, "polymr-audit: unknown --kind %q\n", k)
		os.Exit(2)
	}

	db, err := kv.Open(*path, &kv.Options{})
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	if err := audit(db, k); err != nil {
		log.Fatal(err)
	}
}

func audit(db *kv.DB, kind string) error {
	it, err := db.SeekFirst()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return err
	}

	var prefix byte
	switch kind {
	case "records":
		prefix = 'R'
	case "tokens":
		prefix = 'T'
	case "freqs":
		prefix = 'F'
	}

	for {
		key, val, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if len(key) == 0 || key[0] != prefix {
			continue
		}
		switch kind {
		case "records":
			rowID, err := storage.DecodeUint64(key[1:])
			if err != nil {
				return err
			}
			rec, err := kvstore.DecodeRecordBlob(val)
			if err != nil {
				return err
			}
			if err := printJSON(auditRecord{RowID: rowID, Fields: rec.Fields, PK: rec.PK, Data: rec.Data}); err != nil {
				return err
			}
		case "tokens":
			ids, err := kvstore.DecodeTokenBlob(val)
			if err != nil {
				return err
			}
			if err := printJSON(auditToken{Token: key[1:], IDs: ids}); err != nil {
				return err
			}
		case "freqs":
			n, err := storage.DecodeUint64(val)
			if err != nil {
				return err
			}
			if err := printJSON(auditFreq{Token: key[1:], Count: n}); err != nil {
				return err
			}
		}
	}
	return nil
}
