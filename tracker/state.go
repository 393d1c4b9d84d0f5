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

package tracker

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/netip"

	"github.com/blinklabs-io/gofingerprint/cbor"
	"github.com/blinklabs-io/gofingerprint/record"
	"golang.org/x/crypto/blake2b"
)

const stateVersion = 1

var ErrBadSnapshot = errors.New("bad tracker state")

// stateFile is the envelope written by Save. Digest is the BLAKE2b-256 hash
// of Body.
type stateFile struct {
	cbor.StructAsArray
	Version uint
	Digest  []byte
	Body    []byte
}

type stateBody struct {
	cbor.StructAsArray
	Hosts []hostState
	Flows []flowState
}

type hostState struct {
	cbor.StructAsArray
	Addr     []byte
	Snapshot record.Snapshot
}

type flowState struct {
	cbor.StructAsArray
	Src     []byte
	Dst     []byte
	SrcPort uint16
	DstPort uint16
	Client  *record.Snapshot
	Server  *record.Snapshot
}

// Save writes every record to w. Records are written oldest first, so a Tracker
// loaded from the output evicts in the same order.
func (t *Tracker) Save(w io.Writer) error {
	t.mu.RLock()
	var body stateBody
	for _, addr := range t.hosts.Keys() {
		snap, ok := t.hosts.Peek(addr)
		if !ok {
			continue
		}
		body.Hosts = append(
			body.Hosts,
			hostState{Addr: addr.AsSlice(), Snapshot: *snap},
		)
	}
	for _, id := range t.flows.Keys() {
		entry, ok := t.flows.Peek(id)
		if !ok {
			continue
		}
		body.Flows = append(
			body.Flows,
			flowState{
				Src:     entry.key.Src.AsSlice(),
				Dst:     entry.key.Dst.AsSlice(),
				SrcPort: entry.key.SrcPort,
				DstPort: entry.key.DstPort,
				Client:  entry.flow.Client,
				Server:  entry.flow.Server,
			},
		)
	}
	bodyCbor, err := cbor.Encode(&body)
	t.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode tracker state: %w", err)
	}
	digest := blake2b.Sum256(bodyCbor)
	data, err := cbor.Encode(
		&stateFile{
			Version: stateVersion,
			Digest:  digest[:],
			Body:    bodyCbor,
		},
	)
	if err != nil {
		return fmt.Errorf("encode tracker state: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write tracker state: %w", err)
	}
	t.logger.Info(
		"saved tracker state",
		"hosts", len(body.Hosts),
		"flows", len(body.Flows),
	)
	return nil
}

// Load replaces every record with the contents of a state written by Save. The
// Tracker is unchanged when the state cannot be read.
func (t *Tracker) Load(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read tracker state: %w", err)
	}
	var state stateFile
	if _, err := cbor.Decode(data, &state); err != nil {
		return fmt.Errorf("%w: %w", ErrBadSnapshot, err)
	}
	if state.Version != stateVersion {
		return fmt.Errorf(
			"%w: unsupported version %d",
			ErrBadSnapshot,
			state.Version,
		)
	}
	digest := blake2b.Sum256(state.Body)
	if !bytes.Equal(digest[:], state.Digest) {
		return fmt.Errorf("%w: digest mismatch", ErrBadSnapshot)
	}
	var body stateBody
	if _, err := cbor.Decode(state.Body, &body); err != nil {
		return fmt.Errorf("%w: %w", ErrBadSnapshot, err)
	}
	// Validate everything before touching the tables
	hostAddrs := make([]netip.Addr, len(body.Hosts))
	for i, host := range body.Hosts {
		addr, ok := netip.AddrFromSlice(host.Addr)
		if !ok {
			return fmt.Errorf("%w: bad host address", ErrBadSnapshot)
		}
		if err := host.Snapshot.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrBadSnapshot, err)
		}
		hostAddrs[i] = addr.Unmap()
	}
	flowEntries := make([]flowEntry, len(body.Flows))
	flowIDs := make([]flowID, len(body.Flows))
	for i, fs := range body.Flows {
		src, srcOk := netip.AddrFromSlice(fs.Src)
		dst, dstOk := netip.AddrFromSlice(fs.Dst)
		if !srcOk || !dstOk {
			return fmt.Errorf("%w: bad flow address", ErrBadSnapshot)
		}
		key := normalizeKey(
			record.FlowKey{
				Src:     src,
				Dst:     dst,
				SrcPort: fs.SrcPort,
				DstPort: fs.DstPort,
			},
		)
		id, err := makeFlowID(key)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrBadSnapshot, err)
		}
		for _, snap := range []*record.Snapshot{fs.Client, fs.Server} {
			if snap == nil {
				continue
			}
			if err := snap.Validate(); err != nil {
				return fmt.Errorf("%w: %w", ErrBadSnapshot, err)
			}
		}
		flowIDs[i] = id
		flowEntries[i] = flowEntry{
			key:  key,
			flow: &record.Flow{Client: fs.Client, Server: fs.Server},
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.reset(); err != nil {
		return err
	}
	for i := range body.Hosts {
		t.hosts.Add(hostAddrs[i], &body.Hosts[i].Snapshot)
	}
	for i := range flowEntries {
		t.flows.Add(flowIDs[i], flowEntries[i])
	}
	t.logger.Info(
		"loaded tracker state",
		"hosts", t.hosts.Len(),
		"flows", t.flows.Len(),
	)
	return nil
}
