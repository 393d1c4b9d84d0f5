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

// Package fingerprint implements a query API for passive host fingerprints.
//
// A Server accepts stream connections, typically on a unix domain socket, and
// answers fixed-size binary queries about tracked hosts (version 1) and flows
// (version 2) with fixed-size responses. The answers come from a
// query.Dispatcher, which reads records kept by the tracker package. A Client
// speaks the same protocol.
//
// The wire layout lives in the wire package; the other packages can be used
// outside of this one.
package fingerprint

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/blinklabs-io/gofingerprint/query"
	"github.com/blinklabs-io/gofingerprint/wire"
)

// ConnectionId identifies a connection within a Server
type ConnectionId uint64

func (id ConnectionId) String() string {
	return fmt.Sprintf("conn-%d", uint64(id))
}

// The Connection type answers queries arriving on a net.Conn. Queries are
// handled strictly one at a time: each is read completely, answered, and the
// response written before the next is read.
type Connection struct {
	id          ConnectionId
	conn        net.Conn
	dispatcher  *query.Dispatcher
	logger      *slog.Logger
	metrics     *Metrics
	idleTimeout time.Duration
	doneFunc    func()
	errorChan   chan error
	doneChan    chan struct{}
	waitGroup   sync.WaitGroup
	onceClose   sync.Once
}

// NewConnection returns a new Connection with the specified options and starts
// answering queries on it
func NewConnection(options ...ConnectionOptionFunc) (*Connection, error) {
	c := &Connection{
		errorChan: make(chan error, 1),
		doneChan:  make(chan struct{}),
	}
	// Apply provided options functions
	for _, option := range options {
		option(c)
	}
	if c.conn == nil {
		return nil, errors.New("no connection provided")
	}
	if c.dispatcher == nil {
		return nil, ErrNoDispatcher
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With(
		"connection_id", c.id.String(),
		"remote", remoteName(c.conn),
	)
	c.waitGroup.Add(1)
	go c.loop()
	return c, nil
}

// Id returns the connection ID
func (c *Connection) Id() ConnectionId {
	return c.id
}

// ErrorChan returns a channel that receives the reason the connection ended and
// is then closed. A nil value means the peer hung up between queries or the
// connection was closed locally.
func (c *Connection) ErrorChan() <-chan error {
	return c.errorChan
}

// Close shuts down the connection and waits for its query loop to exit
func (c *Connection) Close() error {
	var err error
	c.onceClose.Do(func() {
		// Close doneChan to signify that we're shutting down
		close(c.doneChan)
		err = c.conn.Close()
	})
	c.waitGroup.Wait()
	return err
}

func (c *Connection) loop() {
	defer c.waitGroup.Done()
	err := c.serve()
	select {
	case <-c.doneChan:
		// Errors caused by a local close are not interesting
		err = nil
	default:
	}
	// Runs before the close so a peer that sees EOF can reconnect at once
	if c.doneFunc != nil {
		c.doneFunc()
	}
	// The peer may still be connected when we stop on our own
	_ = c.conn.Close()
	c.errorChan <- err
	close(c.errorChan)
}

func (c *Connection) serve() error {
	for {
		if c.idleTimeout > 0 {
			if err := c.conn.SetReadDeadline(time.Now().Add(c.idleTimeout)); err != nil {
				return err
			}
		}
		q, err := wire.DecodeQuery(c.conn)
		if err != nil {
			if errors.Is(err, wire.ErrUnknownMagic) {
				// Nothing after the tag can be trusted, so answer and hang up
				if respErr := c.respond(q); respErr != nil {
					return respErr
				}
				c.logger.Debug("closing connection after bad query")
				return err
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return fmt.Errorf("%w: %w", ErrIdleTimeout, err)
			}
			return fmt.Errorf("read query: %w", err)
		}
		if err := c.respond(q); err != nil {
			return err
		}
	}
}

func (c *Connection) respond(q wire.Query) error {
	resp := c.dispatcher.Handle(q)
	c.metrics.observeQuery(q, resp.Status)
	data, err := wire.EncodeResponse(&resp)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	if c.idleTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.idleTimeout)); err != nil {
			return err
		}
	}
	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}

func remoteName(conn net.Conn) string {
	addr := conn.RemoteAddr()
	if addr == nil || addr.String() == "" {
		return "local"
	}
	return addr.String()
}
