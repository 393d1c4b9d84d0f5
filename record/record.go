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

// Package record describes what the observation pipeline knows about a host or
// flow, and the lookup interfaces the query layer reads it through.
package record

import (
	"errors"
	"fmt"
	"math"
	"net/netip"
)

// Values an answer uses to say "unknown". A known value may not equal them.
const (
	ReservedHopDistance   int8   = -1
	ReservedUptimeMinutes uint32 = math.MaxUint32
)

var ErrReservedValue = errors.New("snapshot holds a reserved value")

// NameID indexes a fingerprint name in a NameCatalog
type NameID uint32

// Fingerprint is a classification result. An empty Flavor means no flavor text
// was recorded.
type Fingerprint struct {
	ID     NameID
	Flavor string
}

// Snapshot is a read-only view of one host's tracked attributes. Nil pointers
// and empty strings mean the value is unknown. A HopDistance of
// ReservedHopDistance or an UptimeMinutes of ReservedUptimeMinutes is invalid;
// see Validate.
type Snapshot struct {
	FirstSeen       uint32
	LastSeen        uint32
	TotalConn       uint32
	OS              *Fingerprint
	HTTP            *Fingerprint
	LinkType        string
	Language        string
	BadSignature    uint8
	NATSuspected    bool
	ConfigChanged   uint32
	DaysSinceReboot uint32
	HopDistance     *int8
	Quality         float32
	UptimeMinutes   *uint32
}

// Validate reports ErrReservedValue when a present value collides with the
// encoding of an unknown one
func (s *Snapshot) Validate() error {
	if s.HopDistance != nil && *s.HopDistance == ReservedHopDistance {
		return fmt.Errorf("%w: hop distance %d", ErrReservedValue, *s.HopDistance)
	}
	if s.UptimeMinutes != nil && *s.UptimeMinutes == ReservedUptimeMinutes {
		return fmt.Errorf("%w: uptime 0x%08x minutes", ErrReservedValue, *s.UptimeMinutes)
	}
	return nil
}

// Direction tells which side of a flow a five-tuple was written from
type Direction uint8

const (
	// DirectionToClient means the tuple's source is the flow's server
	DirectionToClient Direction = iota
	// DirectionToServer means the tuple's source is the flow's client
	DirectionToServer
)

func (d Direction) String() string {
	switch d {
	case DirectionToClient:
		return "ToClient"
	case DirectionToServer:
		return "ToServer"
	}
	return fmt.Sprintf("Direction(%d)", uint8(d))
}

// Flow is a tracked conversation with one host record per endpoint
type Flow struct {
	Client *Snapshot
	Server *Snapshot
}

// Subject returns the record of the endpoint that sent traffic in direction d
func (f *Flow) Subject(d Direction) *Snapshot {
	if d == DirectionToServer {
		return f.Client
	}
	return f.Server
}

// FlowKey is a flow five-tuple as seen from one direction
type FlowKey struct {
	Src     netip.Addr
	Dst     netip.Addr
	SrcPort uint16
	DstPort uint16
}

// Reverse returns the key as seen from the other endpoint
func (k FlowKey) Reverse() FlowKey {
	return FlowKey{
		Src:     k.Dst,
		Dst:     k.Src,
		SrcPort: k.DstPort,
		DstPort: k.SrcPort,
	}
}

func (k FlowKey) String() string {
	return fmt.Sprintf(
		"%s -> %s",
		netip.AddrPortFrom(k.Src, k.SrcPort),
		netip.AddrPortFrom(k.Dst, k.DstPort),
	)
}

// HostLookup finds the record of a tracked host
type HostLookup interface {
	LookupHost(addr netip.Addr) (*Snapshot, bool)
}

// FlowLookup finds a tracked flow and reports which direction key describes
type FlowLookup interface {
	LookupFlow(key FlowKey) (*Flow, Direction, bool)
}

// NameCatalog maps fingerprint ids to names. Unknown ids map to "".
type NameCatalog interface {
	NameFor(id NameID) string
}

// Ptr returns a pointer to v, for filling optional Snapshot fields
func Ptr[T any](v T) *T {
	return &v
}
