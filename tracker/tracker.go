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

// Package tracker holds the host and flow records the query layer answers from.
//
// Both tables are bounded LRU caches. Observations refresh an entry's recency;
// lookups do not, so answering queries never changes which records survive
// eviction. Lookups return deep copies, which callers may keep or modify freely.
package tracker

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"

	"github.com/blinklabs-io/gofingerprint/record"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jinzhu/copier"
)

const (
	DefaultMaxHosts = 10000
	DefaultMaxFlows = 1000
)

var ErrBadFlowKey = errors.New("flow endpoints are missing or use different address families")

// Config holds the table limits for a Tracker
type Config struct {
	MaxHosts int
	MaxFlows int
	Logger   *slog.Logger
}

// TrackerOptionFunc is a function that modifies a Config
type TrackerOptionFunc func(*Config)

// NewConfig creates a new Config with default limits, applying any provided
// option functions
func NewConfig(options ...TrackerOptionFunc) Config {
	c := Config{
		MaxHosts: DefaultMaxHosts,
		MaxFlows: DefaultMaxFlows,
	}
	for _, option := range options {
		option(&c)
	}
	return c
}

// WithMaxHosts sets the number of host records kept before the least recently
// observed one is evicted
func WithMaxHosts(maxHosts int) TrackerOptionFunc {
	return func(c *Config) {
		c.MaxHosts = maxHosts
	}
}

// WithMaxFlows sets the number of flow records kept
func WithMaxFlows(maxFlows int) TrackerOptionFunc {
	return func(c *Config) {
		c.MaxFlows = maxFlows
	}
}

// WithLogger sets the logger used for eviction diagnostics
func WithLogger(logger *slog.Logger) TrackerOptionFunc {
	return func(c *Config) {
		c.Logger = logger
	}
}

// flowID identifies a flow from its client's perspective
type flowID struct {
	net       gopacket.Flow
	transport gopacket.Flow
}

type flowEntry struct {
	key  record.FlowKey
	flow *record.Flow
}

// Tracker is a bounded store of host and flow records. It is safe for
// concurrent use.
type Tracker struct {
	mu     sync.RWMutex
	config Config
	logger *slog.Logger
	hosts  *lru.Cache[netip.Addr, *record.Snapshot]
	flows  *lru.Cache[flowID, flowEntry]
}

// New returns a Tracker with the limits in cfg
func New(cfg Config) (*Tracker, error) {
	t := &Tracker{
		config: cfg,
		logger: cfg.Logger,
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	if err := t.reset(); err != nil {
		return nil, err
	}
	return t, nil
}

// reset replaces both tables with empty ones
func (t *Tracker) reset() error {
	hosts, err := lru.NewWithEvict(
		t.config.MaxHosts,
		func(addr netip.Addr, _ *record.Snapshot) {
			t.logger.Debug("evicted host record", "addr", addr.String())
		},
	)
	if err != nil {
		return fmt.Errorf("host table: %w", err)
	}
	flows, err := lru.NewWithEvict(
		t.config.MaxFlows,
		func(_ flowID, entry flowEntry) {
			t.logger.Debug("evicted flow record", "flow", entry.key.String())
		},
	)
	if err != nil {
		return fmt.Errorf("flow table: %w", err)
	}
	t.hosts = hosts
	t.flows = flows
	return nil
}

// ObserveHost stores a copy of snap as the record for addr, replacing any
// previous record. A snapshot holding a reserved value is rejected.
func (t *Tracker) ObserveHost(addr netip.Addr, snap record.Snapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	stored, err := deepCopy(&snap)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hosts.Add(addr.Unmap(), stored)
	return nil
}

// RemoveHost drops the record for addr
func (t *Tracker) RemoveHost(addr netip.Addr) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hosts.Remove(addr.Unmap())
}

// HostCount returns the number of host records
func (t *Tracker) HostCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.hosts.Len()
}

// LookupHost returns a copy of the record for addr
func (t *Tracker) LookupHost(addr netip.Addr) (*record.Snapshot, bool) {
	t.mu.RLock()
	snap, ok := t.hosts.Peek(addr.Unmap())
	t.mu.RUnlock()
	if !ok {
		return nil, false
	}
	ret, err := deepCopy(snap)
	if err != nil {
		t.logger.Error(
			"failed to copy host record",
			"addr", addr.String(),
			"error", err,
		)
		return nil, false
	}
	return ret, true
}

// ObserveFlow stores copies of the client and server records for the flow that
// key describes from the client's side
func (t *Tracker) ObserveFlow(
	key record.FlowKey,
	client record.Snapshot,
	server record.Snapshot,
) error {
	if err := client.Validate(); err != nil {
		return fmt.Errorf("client: %w", err)
	}
	if err := server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	key = normalizeKey(key)
	id, err := makeFlowID(key)
	if err != nil {
		return err
	}
	flow, err := deepCopy(&record.Flow{Client: &client, Server: &server})
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	// A flow is stored once, under its client-side key
	if t.flows.Contains(reverseID(id)) {
		t.flows.Remove(reverseID(id))
	}
	t.flows.Add(id, flowEntry{key: key, flow: flow})
	return nil
}

// RemoveFlow drops the flow that key describes, from either side
func (t *Tracker) RemoveFlow(key record.FlowKey) bool {
	id, err := makeFlowID(normalizeKey(key))
	if err != nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.flows.Remove(id) {
		return true
	}
	return t.flows.Remove(reverseID(id))
}

// FlowCount returns the number of flow records
func (t *Tracker) FlowCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.flows.Len()
}

// LookupFlow finds the flow that key describes. The direction is
// DirectionToServer when key's source is the flow's client and
// DirectionToClient when it is the server.
func (t *Tracker) LookupFlow(
	key record.FlowKey,
) (*record.Flow, record.Direction, bool) {
	id, err := makeFlowID(normalizeKey(key))
	if err != nil {
		return nil, record.DirectionToClient, false
	}
	direction := record.DirectionToServer
	t.mu.RLock()
	entry, ok := t.flows.Peek(id)
	if !ok {
		direction = record.DirectionToClient
		entry, ok = t.flows.Peek(reverseID(id))
	}
	t.mu.RUnlock()
	if !ok {
		return nil, record.DirectionToClient, false
	}
	ret, err := deepCopy(entry.flow)
	if err != nil {
		t.logger.Error(
			"failed to copy flow record",
			"flow", key.String(),
			"error", err,
		)
		return nil, record.DirectionToClient, false
	}
	return ret, direction, true
}

func normalizeKey(key record.FlowKey) record.FlowKey {
	key.Src = key.Src.Unmap()
	key.Dst = key.Dst.Unmap()
	return key
}

func makeFlowID(key record.FlowKey) (flowID, error) {
	if !key.Src.IsValid() || !key.Dst.IsValid() || key.Src.Is4() != key.Dst.Is4() {
		return flowID{}, fmt.Errorf("%w: %s", ErrBadFlowKey, key.String())
	}
	netFlow, err := gopacket.FlowFromEndpoints(
		layers.NewIPEndpoint(key.Src.AsSlice()),
		layers.NewIPEndpoint(key.Dst.AsSlice()),
	)
	if err != nil {
		return flowID{}, err
	}
	transportFlow, err := gopacket.FlowFromEndpoints(
		layers.NewTCPPortEndpoint(layers.TCPPort(key.SrcPort)),
		layers.NewTCPPortEndpoint(layers.TCPPort(key.DstPort)),
	)
	if err != nil {
		return flowID{}, err
	}
	return flowID{net: netFlow, transport: transportFlow}, nil
}

func reverseID(id flowID) flowID {
	return flowID{
		net:       id.net.Reverse(),
		transport: id.transport.Reverse(),
	}
}

func deepCopy[T any](src *T) (*T, error) {
	dst := new(T)
	if err := copier.CopyWithOption(dst, src, copier.Option{DeepCopy: true}); err != nil {
		return nil, fmt.Errorf("copy record: %w", err)
	}
	return dst, nil
}
