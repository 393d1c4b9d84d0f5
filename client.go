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

package fingerprint

import (
	"fmt"
	"net"
	"net/netip"
	"sync"

	"github.com/blinklabs-io/gofingerprint/record"
	"github.com/blinklabs-io/gofingerprint/wire"
)

// Client sends queries over a single connection. Calls are serialized, so a
// Client may be shared between goroutines.
type Client struct {
	conn  net.Conn
	mutex sync.Mutex
}

// Dial connects to a server using the specified protocol and address. These
// parameters are passed to the [net.Dial] func.
func Dial(proto string, address string) (*Client, error) {
	conn, err := net.Dial(proto, address)
	if err != nil {
		return nil, err
	}
	return NewClient(conn), nil
}

// NewClient returns a Client using an existing connection
func NewClient(conn net.Conn) *Client {
	return &Client{conn: conn}
}

// QueryHost asks for the record of a single host
func (c *Client) QueryHost(addr netip.Addr) (*wire.Response, error) {
	q, err := wire.NewQueryV1(addr)
	if err != nil {
		return nil, err
	}
	return c.Query(q)
}

// QueryFlow asks for the record of the endpoint that sends traffic as
// described by key
func (c *Client) QueryFlow(key record.FlowKey) (*wire.Response, error) {
	q, err := wire.NewQueryV2(key.Src, key.SrcPort, key.Dst, key.DstPort)
	if err != nil {
		return nil, err
	}
	return c.Query(q)
}

// Query sends q and waits for the response
func (c *Client) Query(q wire.Query) (*wire.Response, error) {
	data, err := wire.EncodeQuery(q)
	if err != nil {
		return nil, err
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if _, err := c.conn.Write(data); err != nil {
		return nil, fmt.Errorf("write query: %w", err)
	}
	resp, err := wire.DecodeResponse(c.conn)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return resp, nil
}

// Close closes the underlying connection
func (c *Client) Close() error {
	return c.conn.Close()
}
