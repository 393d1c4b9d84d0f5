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

package tracker_test

import (
	"bytes"
	"log/slog"
	"net/netip"
	"strings"
	"testing"

	"github.com/blinklabs-io/gofingerprint/record"
	"github.com/blinklabs-io/gofingerprint/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	clientAddr = netip.MustParseAddr("192.0.2.10")
	serverAddr = netip.MustParseAddr("198.51.100.1")
	clientKey  = record.FlowKey{
		Src:     clientAddr,
		Dst:     serverAddr,
		SrcPort: 51400,
		DstPort: 443,
	}
)

func newTracker(t *testing.T, opts ...tracker.TrackerOptionFunc) *tracker.Tracker {
	t.Helper()
	tr, err := tracker.New(tracker.NewConfig(opts...))
	require.NoError(t, err)
	return tr
}

func testSnapshot(osID record.NameID) record.Snapshot {
	return record.Snapshot{
		FirstSeen:     1700000000,
		LastSeen:      1700000600,
		TotalConn:     3,
		OS:            &record.Fingerprint{ID: osID, Flavor: "3.x"},
		LinkType:      "Ethernet or modem",
		HopDistance:   record.Ptr(int8(4)),
		UptimeMinutes: record.Ptr(uint32(90)),
		Quality:       0.5,
	}
}

func TestNewConfigDefaults(t *testing.T) {
	cfg := tracker.NewConfig()
	assert.Equal(t, tracker.DefaultMaxHosts, cfg.MaxHosts)
	assert.Equal(t, tracker.DefaultMaxFlows, cfg.MaxFlows)
}

func TestNewInvalidSize(t *testing.T) {
	_, err := tracker.New(tracker.NewConfig(tracker.WithMaxHosts(0)))
	assert.Error(t, err)
	_, err = tracker.New(tracker.NewConfig(tracker.WithMaxFlows(-1)))
	assert.Error(t, err)
}

func TestLookupHost(t *testing.T) {
	tr := newTracker(t)
	require.NoError(t, tr.ObserveHost(clientAddr, testSnapshot(1)))
	assert.Equal(t, 1, tr.HostCount())

	snap, ok := tr.LookupHost(clientAddr)
	require.True(t, ok)
	assert.Equal(t, uint32(3), snap.TotalConn)
	require.NotNil(t, snap.OS)
	assert.Equal(t, record.NameID(1), snap.OS.ID)
	require.NotNil(t, snap.UptimeMinutes)
	assert.Equal(t, uint32(90), *snap.UptimeMinutes)

	_, ok = tr.LookupHost(serverAddr)
	assert.False(t, ok)
}

func TestLookupHostMappedAddress(t *testing.T) {
	tr := newTracker(t)
	require.NoError(t, tr.ObserveHost(clientAddr, testSnapshot(1)))
	_, ok := tr.LookupHost(netip.MustParseAddr("::ffff:192.0.2.10"))
	assert.True(t, ok)
}

func TestLookupHostReturnsCopy(t *testing.T) {
	tr := newTracker(t)
	require.NoError(t, tr.ObserveHost(clientAddr, testSnapshot(1)))

	snap, ok := tr.LookupHost(clientAddr)
	require.True(t, ok)
	snap.TotalConn = 99
	snap.LinkType = "changed"

	again, ok := tr.LookupHost(clientAddr)
	require.True(t, ok)
	assert.Equal(t, uint32(3), again.TotalConn)
	assert.Equal(t, "Ethernet or modem", again.LinkType)
}

func TestLookupHostDoesNotRefreshRecency(t *testing.T) {
	tr := newTracker(t, tracker.WithMaxHosts(2))
	first := netip.MustParseAddr("10.0.0.1")
	second := netip.MustParseAddr("10.0.0.2")
	third := netip.MustParseAddr("10.0.0.3")
	require.NoError(t, tr.ObserveHost(first, testSnapshot(1)))
	require.NoError(t, tr.ObserveHost(second, testSnapshot(1)))
	// A lookup must not save the oldest record from eviction
	_, ok := tr.LookupHost(first)
	require.True(t, ok)
	require.NoError(t, tr.ObserveHost(third, testSnapshot(1)))

	assert.Equal(t, 2, tr.HostCount())
	_, ok = tr.LookupHost(first)
	assert.False(t, ok)
	_, ok = tr.LookupHost(second)
	assert.True(t, ok)
}

func TestRemoveHost(t *testing.T) {
	tr := newTracker(t)
	require.NoError(t, tr.ObserveHost(clientAddr, testSnapshot(1)))
	assert.True(t, tr.RemoveHost(clientAddr))
	assert.False(t, tr.RemoveHost(clientAddr))
	assert.Equal(t, 0, tr.HostCount())
}

func TestLookupFlowDirections(t *testing.T) {
	tr := newTracker(t)
	require.NoError(t, tr.ObserveFlow(clientKey, testSnapshot(1), testSnapshot(2)))

	flow, direction, ok := tr.LookupFlow(clientKey)
	require.True(t, ok)
	assert.Equal(t, record.DirectionToServer, direction)
	assert.Equal(t, record.NameID(1), flow.Subject(direction).OS.ID)

	flow, direction, ok = tr.LookupFlow(clientKey.Reverse())
	require.True(t, ok)
	assert.Equal(t, record.DirectionToClient, direction)
	assert.Equal(t, record.NameID(2), flow.Subject(direction).OS.ID)

	other := clientKey
	other.SrcPort++
	_, _, ok = tr.LookupFlow(other)
	assert.False(t, ok)
}

func TestObserveFlowFromOtherSide(t *testing.T) {
	tr := newTracker(t)
	require.NoError(t, tr.ObserveFlow(clientKey, testSnapshot(1), testSnapshot(2)))
	// The roles swap; the flow must still be stored once
	require.NoError(t, tr.ObserveFlow(clientKey.Reverse(), testSnapshot(3), testSnapshot(4)))
	assert.Equal(t, 1, tr.FlowCount())

	flow, direction, ok := tr.LookupFlow(clientKey.Reverse())
	require.True(t, ok)
	assert.Equal(t, record.DirectionToServer, direction)
	assert.Equal(t, record.NameID(3), flow.Client.OS.ID)
}

func TestObserveFlowMixedFamilies(t *testing.T) {
	tr := newTracker(t)
	key := clientKey
	key.Dst = netip.MustParseAddr("2001:db8::1")
	err := tr.ObserveFlow(key, testSnapshot(1), testSnapshot(2))
	require.ErrorIs(t, err, tracker.ErrBadFlowKey)
	_, _, ok := tr.LookupFlow(key)
	assert.False(t, ok)
}

func TestRemoveFlow(t *testing.T) {
	tr := newTracker(t)
	require.NoError(t, tr.ObserveFlow(clientKey, testSnapshot(1), testSnapshot(2)))
	assert.True(t, tr.RemoveFlow(clientKey.Reverse()))
	assert.Equal(t, 0, tr.FlowCount())
	assert.False(t, tr.RemoveFlow(clientKey))
}

func TestFlowEvictionIsLogged(t *testing.T) {
	var logBuf bytes.Buffer
	logger := slog.New(
		slog.NewTextHandler(&logBuf, &slog.HandlerOptions{Level: slog.LevelDebug}),
	)
	tr := newTracker(t, tracker.WithMaxFlows(1), tracker.WithLogger(logger))
	require.NoError(t, tr.ObserveFlow(clientKey, testSnapshot(1), testSnapshot(2)))
	other := clientKey
	other.SrcPort = 51401
	require.NoError(t, tr.ObserveFlow(other, testSnapshot(1), testSnapshot(2)))

	assert.Equal(t, 1, tr.FlowCount())
	assert.Contains(t, logBuf.String(), "evicted flow record")
}

func TestSaveLoad(t *testing.T) {
	tr := newTracker(t)
	v6 := netip.MustParseAddr("2001:db8::5")
	require.NoError(t, tr.ObserveHost(clientAddr, testSnapshot(1)))
	require.NoError(t, tr.ObserveHost(v6, record.Snapshot{TotalConn: 1}))
	require.NoError(t, tr.ObserveFlow(clientKey, testSnapshot(1), testSnapshot(2)))

	var buf bytes.Buffer
	require.NoError(t, tr.Save(&buf))

	loaded := newTracker(t)
	require.NoError(t, loaded.Load(bytes.NewReader(buf.Bytes())))
	assert.Equal(t, 2, loaded.HostCount())
	assert.Equal(t, 1, loaded.FlowCount())

	snap, ok := loaded.LookupHost(clientAddr)
	require.True(t, ok)
	orig, _ := tr.LookupHost(clientAddr)
	assert.Equal(t, orig, snap)

	snap, ok = loaded.LookupHost(v6)
	require.True(t, ok)
	assert.Nil(t, snap.OS)
	assert.Nil(t, snap.UptimeMinutes)

	_, direction, ok := loaded.LookupFlow(clientKey)
	require.True(t, ok)
	assert.Equal(t, record.DirectionToServer, direction)
}

func TestLoadRejectsTampering(t *testing.T) {
	tr := newTracker(t)
	require.NoError(t, tr.ObserveHost(clientAddr, testSnapshot(1)))
	var buf bytes.Buffer
	require.NoError(t, tr.Save(&buf))

	data := buf.Bytes()
	// "Ethernet or modem" is inside the digested body
	idx := bytes.Index(data, []byte("Ethernet"))
	require.Greater(t, idx, 0)
	data[idx] = 'e'

	loaded := newTracker(t)
	require.NoError(t, loaded.ObserveHost(serverAddr, testSnapshot(2)))
	err := loaded.Load(bytes.NewReader(data))
	require.ErrorIs(t, err, tracker.ErrBadSnapshot)
	assert.Contains(t, err.Error(), "digest")
	// Existing records survive a failed load
	_, ok := loaded.LookupHost(serverAddr)
	assert.True(t, ok)
}

func TestLoadRejectsGarbage(t *testing.T) {
	tr := newTracker(t)
	err := tr.Load(strings.NewReader("not cbor at all"))
	assert.ErrorIs(t, err, tracker.ErrBadSnapshot)
}

func TestObserveRejectsReservedValues(t *testing.T) {
	testDefs := []struct {
		name string
		snap record.Snapshot
	}{
		{
			name: "hop distance",
			snap: record.Snapshot{HopDistance: record.Ptr(record.ReservedHopDistance)},
		},
		{
			name: "uptime",
			snap: record.Snapshot{UptimeMinutes: record.Ptr(record.ReservedUptimeMinutes)},
		},
	}
	for _, testDef := range testDefs {
		t.Run(testDef.name, func(t *testing.T) {
			tr := newTracker(t)
			err := tr.ObserveHost(clientAddr, testDef.snap)
			require.ErrorIs(t, err, record.ErrReservedValue)
			assert.Equal(t, 0, tr.HostCount())

			err = tr.ObserveFlow(clientKey, testSnapshot(1), testDef.snap)
			require.ErrorIs(t, err, record.ErrReservedValue)
			assert.Contains(t, err.Error(), "server")
			assert.Equal(t, 0, tr.FlowCount())
		})
	}
}

func TestObserveAcceptsBoundaryValues(t *testing.T) {
	tr := newTracker(t)
	snap := record.Snapshot{
		HopDistance:   record.Ptr(int8(0)),
		UptimeMinutes: record.Ptr(record.ReservedUptimeMinutes - 1),
	}
	require.NoError(t, tr.ObserveHost(clientAddr, snap))
	got, ok := tr.LookupHost(clientAddr)
	require.True(t, ok)
	assert.Equal(t, record.ReservedUptimeMinutes-1, *got.UptimeMinutes)
}
