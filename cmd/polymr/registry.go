// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"github.com/kortschak/polymr/internal/featurize"
	"github.com/kortschak/polymr/internal/storage"
	"github.com/kortschak/polymr/internal/storage/kvstore"
)

// backends is the URL-scheme registry passed to both CLI
// subcommands, built once at program start rather than relying on
// ambient package-level registration (SPEC_FULL.md's "Global
// registries" design note).
var backends = storage.NewRegistry(map[string]storage.Factory{
	"kv": kvstore.Factory,
})

var featurizers = featurize.Default
