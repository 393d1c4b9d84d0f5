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

package query

import (
	"github.com/blinklabs-io/gofingerprint/record"
	"github.com/blinklabs-io/gofingerprint/wire"
)

// marshal copies snap into a zeroed response. Optional values are converted to
// their wire sentinels here and nowhere else.
func marshal(snap *record.Snapshot, catalog record.NameCatalog, resp *wire.Response) {
	resp.FirstSeen = snap.FirstSeen
	resp.LastSeen = snap.LastSeen
	resp.TotalConn = snap.TotalConn

	putFingerprint(snap.OS, catalog, resp.OSName[:], resp.OSFlavor[:])
	putFingerprint(snap.HTTP, catalog, resp.HTTPName[:], resp.HTTPFlavor[:])

	if snap.LinkType != "" {
		wire.PutString(resp.LinkType[:], snap.LinkType)
	}
	if snap.Language != "" {
		wire.PutString(resp.Language[:], snap.Language)
	}

	resp.BadSignature = snap.BadSignature
	if snap.NATSuspected {
		resp.NATSuspected = 1
	}
	resp.ConfigChanged = snap.ConfigChanged
	resp.DaysSinceReboot = snap.DaysSinceReboot
	resp.Quality = snap.Quality

	resp.Distance = wire.DistanceUnknown
	if snap.HopDistance != nil {
		resp.Distance = *snap.HopDistance
	}
	resp.UptimeMinutes = wire.UptimeUnset
	if snap.UptimeMinutes != nil {
		resp.UptimeMinutes = *snap.UptimeMinutes
	}
}

// putFingerprint fills a name/flavor field pair. Both stay zero when fp is nil.
func putFingerprint(
	fp *record.Fingerprint,
	catalog record.NameCatalog,
	name []byte,
	flavor []byte,
) {
	if fp == nil {
		return
	}
	if catalog != nil {
		wire.PutString(name, catalog.NameFor(fp.ID))
	}
	if fp.Flavor != "" {
		wire.PutString(flavor, fp.Flavor)
	}
}
