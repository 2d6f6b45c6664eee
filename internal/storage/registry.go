// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package storage

import "net/url"

// Factory builds a Backend from a parsed backend URL and the
// featurizer name to bind new indexes to (ignored when opening an
// existing index; the backend instead reads the persisted name).
type Factory func(parsed *url.URL, featurizerName string) (Backend, error)

// Registry dispatches a URL scheme to the Factory that understands it.
// It replaces ambient mutation of a process-wide map: callers build one
// explicit Registry at program start and pass it to both the index and
// query CLIs.
type Registry map[string]Factory

// NewRegistry returns a Registry pre-populated with kind -> Factory
// pairs.
func NewRegistry(kinds map[string]Factory) Registry {
	r := make(Registry, len(kinds))
	for k, f := range kinds {
		r[k] = f
	}
	return r
}

// Open dispatches rawURL to the Factory registered for its scheme.
func (r Registry) Open(rawURL, featurizerName string) (Backend, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, &ConfigError{Msg: "malformed backend URL: " + err.Error()}
	}
	factory, ok := r[parsed.Scheme]
	if !ok {
		return nil, &ConfigError{Msg: "unrecognized backend scheme: " + parsed.Scheme}
	}
	return factory(parsed, featurizerName)
}
