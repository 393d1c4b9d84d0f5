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
	"fmt"
	"log/slog"

	"github.com/blinklabs-io/gofingerprint/record"
	"github.com/blinklabs-io/gofingerprint/wire"
)

// Dispatcher answers queries. It holds no mutable state and takes no locks, so
// the lookups it is configured with must be safe to read from the calling
// goroutine.
type Dispatcher struct {
	config *Config
	logger *slog.Logger
}

// NewDispatcher returns a new Dispatcher object
func NewDispatcher(cfg *Config) *Dispatcher {
	if cfg == nil {
		tmpCfg := NewConfig()
		cfg = &tmpCfg
	}
	d := &Dispatcher{
		config: cfg,
		logger: cfg.Logger,
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d
}

// Handle answers a single query. The response always carries the reply magic,
// and its payload stays zeroed unless the status is StatusOK.
func (d *Dispatcher) Handle(q wire.Query) wire.Response {
	var resp wire.Response
	if q == nil {
		d.logger.Warn("query without payload")
		resp.Status = wire.StatusBadQuery
	} else {
		switch tag := q.Tag(); tag {
		case wire.QueryMagicV1:
			if v1, ok := q.(*wire.QueryV1); ok {
				d.resolveHost(v1, &resp)
				break
			}
			d.badTag(tag, &resp)
		case wire.QueryMagicV2:
			if v2, ok := q.(*wire.QueryV2); ok {
				d.resolveFlow(v2, &resp)
				break
			}
			d.badTag(tag, &resp)
		default:
			d.badTag(tag, &resp)
		}
	}
	resp.Magic = wire.ResponseMagic
	return resp
}

func (d *Dispatcher) badTag(tag uint32, resp *wire.Response) {
	d.logger.Warn(
		"query with bad magic",
		"tag", fmt.Sprintf("0x%08x", tag),
	)
	resp.Status = wire.StatusBadQuery
}

func (d *Dispatcher) badAddrType(addrType wire.AddrType, resp *wire.Response) {
	d.logger.Warn(
		"query with unknown address type",
		"addr_type", uint8(addrType),
	)
	resp.Status = wire.StatusBadQuery
}

func (d *Dispatcher) resolveHost(q *wire.QueryV1, resp *wire.Response) {
	if !q.AddrType.Valid() {
		d.badAddrType(q.AddrType, resp)
		return
	}
	addr, err := wire.UnpackAddr(q.AddrType, q.Addr)
	if err != nil {
		d.badAddrType(q.AddrType, resp)
		return
	}
	if d.config.Hosts == nil {
		resp.Status = wire.StatusNoMatch
		return
	}
	snap, ok := d.config.Hosts.LookupHost(addr)
	if !ok || snap == nil {
		resp.Status = wire.StatusNoMatch
		return
	}
	resp.Status = wire.StatusOK
	marshal(snap, d.config.Catalog, resp)
}

func (d *Dispatcher) resolveFlow(q *wire.QueryV2, resp *wire.Response) {
	if !q.AddrType.Valid() {
		d.badAddrType(q.AddrType, resp)
		return
	}
	src, err := wire.UnpackAddr(q.AddrType, q.SrcAddr)
	if err != nil {
		d.badAddrType(q.AddrType, resp)
		return
	}
	dst, err := wire.UnpackAddr(q.AddrType, q.DstAddr)
	if err != nil {
		d.badAddrType(q.AddrType, resp)
		return
	}
	if d.config.Flows == nil {
		resp.Status = wire.StatusNoMatch
		return
	}
	key := record.FlowKey{
		Src:     src,
		Dst:     dst,
		SrcPort: q.SrcPort,
		DstPort: q.DstPort,
	}
	flow, direction, ok := d.config.Flows.LookupFlow(key)
	if !ok || flow == nil {
		resp.Status = wire.StatusNoMatch
		return
	}
	// The flow tracks both endpoints; pick the one that sent this tuple
	snap := flow.Subject(direction)
	if snap == nil {
		resp.Status = wire.StatusNoMatch
		return
	}
	resp.Status = wire.StatusOK
	marshal(snap, d.config.Catalog, resp)
}
