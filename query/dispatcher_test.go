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

package query_test

import (
	"bytes"
	"log/slog"
	"net/netip"
	"strings"
	"testing"

	"github.com/blinklabs-io/gofingerprint/catalog"
	"github.com/blinklabs-io/gofingerprint/query"
	"github.com/blinklabs-io/gofingerprint/record"
	"github.com/blinklabs-io/gofingerprint/tracker"
	"github.com/blinklabs-io/gofingerprint/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	hostAddr   = netip.MustParseAddr("10.0.0.1")
	hostAddrV6 = netip.MustParseAddr("2001:db8::10")
	serverAddr = netip.MustParseAddr("10.0.0.2")
)

type fixture struct {
	dispatcher *query.Dispatcher
	tracker    *tracker.Tracker
	catalog    *catalog.Catalog
	logs       *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tr, err := tracker.New(tracker.NewConfig())
	require.NoError(t, err)
	f := &fixture{
		tracker: tr,
		catalog: catalog.New("Linux", "Windows", "Firefox"),
		logs:    &bytes.Buffer{},
	}
	logger := slog.New(slog.NewTextHandler(f.logs, nil))
	cfg := query.NewConfig(
		query.WithHostLookup(tr),
		query.WithFlowLookup(tr),
		query.WithCatalog(f.catalog),
		query.WithLogger(logger),
	)
	f.dispatcher = query.NewDispatcher(&cfg)
	return f
}

func (f *fixture) id(t *testing.T, name string) record.NameID {
	t.Helper()
	id, ok := f.catalog.ID(name)
	require.True(t, ok)
	return id
}

func hostQuery(t *testing.T, addr netip.Addr) *wire.QueryV1 {
	t.Helper()
	q, err := wire.NewQueryV1(addr)
	require.NoError(t, err)
	return q
}

func flowQuery(t *testing.T, key record.FlowKey) *wire.QueryV2 {
	t.Helper()
	q, err := wire.NewQueryV2(key.Src, key.SrcPort, key.Dst, key.DstPort)
	require.NoError(t, err)
	return q
}

// assertZeroPayload checks that every field after the status is zero
func assertZeroPayload(t *testing.T, resp wire.Response) {
	t.Helper()
	data, err := wire.EncodeResponse(&resp)
	require.NoError(t, err)
	require.Len(t, data, wire.ResponseSize)
	assert.Equal(t, make([]byte, wire.ResponseSize-5), data[5:])
}

func TestHostQuery(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.tracker.ObserveHost(hostAddr, record.Snapshot{
		FirstSeen:       1700000000,
		LastSeen:        1700000600,
		TotalConn:       7,
		OS:              &record.Fingerprint{ID: f.id(t, "Linux"), Flavor: "3.11 and newer"},
		HTTP:            &record.Fingerprint{ID: f.id(t, "Firefox"), Flavor: "10.x or newer"},
		LinkType:        "Ethernet or modem",
		Language:        "English",
		BadSignature:    1,
		NATSuspected:    true,
		ConfigChanged:   1700000300,
		DaysSinceReboot: 12,
		HopDistance:     record.Ptr(int8(3)),
		Quality:         0.75,
		UptimeMinutes:   record.Ptr(uint32(17280)),
	}))

	resp := f.dispatcher.Handle(hostQuery(t, hostAddr))
	assert.Equal(t, wire.ResponseMagic, resp.Magic)
	assert.Equal(t, wire.StatusOK, resp.Status)
	assert.Equal(t, uint32(1700000000), resp.FirstSeen)
	assert.Equal(t, uint32(1700000600), resp.LastSeen)
	assert.Equal(t, uint32(7), resp.TotalConn)
	assert.Equal(t, "Linux", wire.GetString(resp.OSName[:]))
	assert.Equal(t, "3.11 and newer", wire.GetString(resp.OSFlavor[:]))
	assert.Equal(t, "Firefox", wire.GetString(resp.HTTPName[:]))
	assert.Equal(t, "10.x or newer", wire.GetString(resp.HTTPFlavor[:]))
	assert.Equal(t, "Ethernet or modem", wire.GetString(resp.LinkType[:]))
	assert.Equal(t, "English", wire.GetString(resp.Language[:]))
	assert.Equal(t, uint8(1), resp.BadSignature)
	assert.Equal(t, uint8(1), resp.NATSuspected)
	assert.Equal(t, uint32(1700000300), resp.ConfigChanged)
	assert.Equal(t, uint32(12), resp.DaysSinceReboot)
	assert.Equal(t, int8(3), resp.Distance)
	assert.InDelta(t, 0.75, resp.Quality, 0.0001)
	assert.Equal(t, uint32(17280), resp.UptimeMinutes)
	assert.Empty(t, f.logs.String())
}

func TestHostQueryIPv6(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.tracker.ObserveHost(hostAddrV6, record.Snapshot{TotalConn: 2}))
	resp := f.dispatcher.Handle(hostQuery(t, hostAddrV6))
	assert.Equal(t, wire.StatusOK, resp.Status)
	assert.Equal(t, uint32(2), resp.TotalConn)
}

func TestHostQueryUnknownFieldsAreEmpty(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.tracker.ObserveHost(hostAddr, record.Snapshot{TotalConn: 1}))
	resp := f.dispatcher.Handle(hostQuery(t, hostAddr))
	require.Equal(t, wire.StatusOK, resp.Status)
	assert.Equal(t, [wire.StringSize]byte{}, resp.OSName)
	assert.Equal(t, [wire.StringSize]byte{}, resp.OSFlavor)
	assert.Equal(t, [wire.StringSize]byte{}, resp.HTTPName)
	assert.Equal(t, [wire.StringSize]byte{}, resp.LinkType)
	assert.Equal(t, [wire.StringSize]byte{}, resp.Language)
	assert.Equal(t, uint8(0), resp.NATSuspected)
	assert.Equal(t, wire.DistanceUnknown, resp.Distance)
	assert.Equal(t, wire.UptimeUnset, resp.UptimeMinutes)
}

func TestUptimeZeroIsNotUnset(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.tracker.ObserveHost(hostAddr, record.Snapshot{
		UptimeMinutes: record.Ptr(uint32(0)),
		HopDistance:   record.Ptr(int8(0)),
	}))
	resp := f.dispatcher.Handle(hostQuery(t, hostAddr))
	require.Equal(t, wire.StatusOK, resp.Status)
	assert.Equal(t, uint32(0), resp.UptimeMinutes)
	assert.Equal(t, int8(0), resp.Distance)
	uptime, ok := resp.Uptime()
	assert.True(t, ok)
	assert.Equal(t, uint32(0), uptime)
}

func TestNameTruncation(t *testing.T) {
	f := newFixture(t)
	longName := strings.Repeat("N", 64)
	id := f.catalog.Add(longName)
	require.NoError(t, f.tracker.ObserveHost(hostAddr, record.Snapshot{
		OS: &record.Fingerprint{ID: id, Flavor: strings.Repeat("f", 40)},
	}))
	resp := f.dispatcher.Handle(hostQuery(t, hostAddr))
	require.Equal(t, wire.StatusOK, resp.Status)
	assert.Equal(t, strings.Repeat("N", wire.StringMax), wire.GetString(resp.OSName[:]))
	assert.Equal(t, byte(0), resp.OSName[wire.StringMax])
	assert.Equal(t, strings.Repeat("f", wire.StringMax), wire.GetString(resp.OSFlavor[:]))
	assert.Equal(t, byte(0), resp.OSFlavor[wire.StringMax])
}

func TestUnknownNameID(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.tracker.ObserveHost(hostAddr, record.Snapshot{
		OS: &record.Fingerprint{ID: 1000, Flavor: "x"},
	}))
	resp := f.dispatcher.Handle(hostQuery(t, hostAddr))
	require.Equal(t, wire.StatusOK, resp.Status)
	assert.Equal(t, "", wire.GetString(resp.OSName[:]))
	assert.Equal(t, "x", wire.GetString(resp.OSFlavor[:]))
}

func TestNoMatch(t *testing.T) {
	f := newFixture(t)
	testDefs := []struct {
		name  string
		query wire.Query
	}{
		{name: "host", query: hostQuery(t, hostAddr)},
		{
			name: "flow",
			query: flowQuery(t, record.FlowKey{
				Src: hostAddr, Dst: serverAddr, SrcPort: 1234, DstPort: 80,
			}),
		},
	}
	for _, testDef := range testDefs {
		t.Run(testDef.name, func(t *testing.T) {
			resp := f.dispatcher.Handle(testDef.query)
			assert.Equal(t, wire.ResponseMagic, resp.Magic)
			assert.Equal(t, wire.StatusNoMatch, resp.Status)
			assertZeroPayload(t, resp)
		})
	}
	assert.Empty(t, f.logs.String())
}

func TestFlowQueryDirections(t *testing.T) {
	f := newFixture(t)
	key := record.FlowKey{
		Src:     hostAddr,
		Dst:     serverAddr,
		SrcPort: 51400,
		DstPort: 443,
	}
	require.NoError(t, f.tracker.ObserveFlow(
		key,
		record.Snapshot{OS: &record.Fingerprint{ID: f.id(t, "Linux")}, TotalConn: 1},
		record.Snapshot{OS: &record.Fingerprint{ID: f.id(t, "Windows")}, TotalConn: 2},
	))

	// Source is the client: the client's record answers
	resp := f.dispatcher.Handle(flowQuery(t, key))
	require.Equal(t, wire.StatusOK, resp.Status)
	assert.Equal(t, "Linux", wire.GetString(resp.OSName[:]))
	assert.Equal(t, uint32(1), resp.TotalConn)

	// Source is the server: the server's record answers
	resp = f.dispatcher.Handle(flowQuery(t, key.Reverse()))
	require.Equal(t, wire.StatusOK, resp.Status)
	assert.Equal(t, "Windows", wire.GetString(resp.OSName[:]))
	assert.Equal(t, uint32(2), resp.TotalConn)
}

func TestBadQueries(t *testing.T) {
	badV1 := hostQuery(t, hostAddr)
	badV1.AddrType = 3
	badV2 := flowQuery(t, record.FlowKey{
		Src: hostAddr, Dst: serverAddr, SrcPort: 1, DstPort: 2,
	})
	badV2.AddrType = 0
	testDefs := []struct {
		name    string
		query   wire.Query
		logText string
	}{
		{
			name:    "unknown magic",
			query:   &wire.UnknownQuery{Magic: 0xdeadbeef},
			logText: "tag=0xdeadbeef",
		},
		{
			name:    "v1 magic on v2 body",
			query:   &wire.QueryV2{Magic: wire.QueryMagicV1},
			logText: "query with bad magic",
		},
		{
			name:    "v1 bad family",
			query:   badV1,
			logText: "addr_type=3",
		},
		{
			name:    "v2 bad family",
			query:   badV2,
			logText: "addr_type=0",
		},
		{
			name:    "nil",
			query:   nil,
			logText: "query without payload",
		},
	}
	for _, testDef := range testDefs {
		t.Run(testDef.name, func(t *testing.T) {
			f := newFixture(t)
			require.NoError(t, f.tracker.ObserveHost(hostAddr, record.Snapshot{TotalConn: 1}))
			resp := f.dispatcher.Handle(testDef.query)
			assert.Equal(t, wire.ResponseMagic, resp.Magic)
			assert.Equal(t, wire.StatusBadQuery, resp.Status)
			assertZeroPayload(t, resp)
			assert.Contains(t, f.logs.String(), "level=WARN")
			assert.Contains(t, f.logs.String(), testDef.logText)
		})
	}
}

func TestMissingCollaborators(t *testing.T) {
	d := query.NewDispatcher(nil)
	resp := d.Handle(hostQuery(t, hostAddr))
	assert.Equal(t, wire.ResponseMagic, resp.Magic)
	assert.Equal(t, wire.StatusNoMatch, resp.Status)
	resp = d.Handle(flowQuery(t, record.FlowKey{
		Src: hostAddr, Dst: serverAddr, SrcPort: 1, DstPort: 2,
	}))
	assert.Equal(t, wire.StatusNoMatch, resp.Status)
}

func TestQueriesDoNotMutateState(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.tracker.ObserveHost(hostAddr, record.Snapshot{TotalConn: 5}))
	for i := 0; i < 3; i++ {
		resp := f.dispatcher.Handle(hostQuery(t, hostAddr))
		require.Equal(t, uint32(5), resp.TotalConn)
	}
	snap, ok := f.tracker.LookupHost(hostAddr)
	require.True(t, ok)
	assert.Equal(t, uint32(5), snap.TotalConn)
	assert.Equal(t, 1, f.tracker.HostCount())
}
