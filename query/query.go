// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package query answers fingerprint API queries from tracked host and flow
// records.
//
// A Dispatcher validates the query tag, routes version 1 queries to a host
// lookup and version 2 queries to a flow lookup, and copies the selected record
// into a fixed-layout response. It never fails: malformed queries and misses are
// reported through the response status.
package query

import (
	"log/slog"

	"github.com/blinklabs-io/gofingerprint/record"
)

// Config holds the collaborators a Dispatcher reads from
type Config struct {
	Hosts   record.HostLookup
	Flows   record.FlowLookup
	Catalog record.NameCatalog
	Logger  *slog.Logger
}

// QueryOptionFunc is a function that modifies a Config
type QueryOptionFunc func(*Config)

// NewConfig creates a new Config, applying any provided option functions
func NewConfig(options ...QueryOptionFunc) Config {
	c := Config{}
	// Apply provided options functions
	for _, option := range options {
		option(&c)
	}
	return c
}

// WithHostLookup sets the source of host records
func WithHostLookup(hosts record.HostLookup) QueryOptionFunc {
	return func(c *Config) {
		c.Hosts = hosts
	}
}

// WithFlowLookup sets the source of flow records
func WithFlowLookup(flows record.FlowLookup) QueryOptionFunc {
	return func(c *Config) {
		c.Flows = flows
	}
}

// WithCatalog sets the fingerprint name catalog
func WithCatalog(catalog record.NameCatalog) QueryOptionFunc {
	return func(c *Config) {
		c.Catalog = catalog
	}
}

// WithLogger sets the logger used for malformed query diagnostics
func WithLogger(logger *slog.Logger) QueryOptionFunc {
	return func(c *Config) {
		c.Logger = logger
	}
}
