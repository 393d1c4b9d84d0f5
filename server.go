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
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blinklabs-io/gofingerprint/query"
)

const DefaultMaxConnections = 20

var (
	ErrNoDispatcher       = errors.New("no query dispatcher configured")
	ErrServerStopped      = errors.New("server stopped")
	ErrTooManyConnections = errors.New("too many API connections")
	ErrIdleTimeout        = errors.New("connection idle timeout")
)

// Server accepts API connections and answers queries on them
type Server struct {
	dispatcher     *query.Dispatcher
	logger         *slog.Logger
	metrics        *Metrics
	maxConnections int
	idleTimeout    time.Duration
	connManager    *ConnectionManager
	nextId         atomic.Uint64
	active         atomic.Int64
	listeners      []net.Listener
	mutex          sync.Mutex
	waitGroup      sync.WaitGroup
	doneChan       chan struct{}
	onceStop       sync.Once
}

// NewServer returns a new Server with the specified options
func NewServer(options ...ServerOptionFunc) (*Server, error) {
	s := &Server{
		maxConnections: DefaultMaxConnections,
		doneChan:       make(chan struct{}),
	}
	// Apply provided options functions
	for _, option := range options {
		option(s)
	}
	if s.dispatcher == nil {
		return nil, ErrNoDispatcher
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.maxConnections <= 0 {
		return nil, fmt.Errorf(
			"invalid connection limit: %d",
			s.maxConnections,
		)
	}
	s.connManager = NewConnectionManager(
		ConnectionManagerConfig{
			ConnClosedFunc: s.connClosed,
		},
	)
	return s, nil
}

// ConnectionManager returns the registry of live connections
func (s *Server) ConnectionManager() *ConnectionManager {
	return s.connManager
}

// ActiveConnections returns the number of connections holding a slot under the
// connection limit
func (s *Server) ActiveConnections() int {
	return int(s.active.Load())
}

// Serve accepts connections on listener until Stop is called or the listener
// fails. It returns nil after Stop.
func (s *Server) Serve(listener net.Listener) error {
	if !s.addListener(listener) {
		_ = listener.Close()
		return ErrServerStopped
	}
	defer s.waitGroup.Done()
	tag := tagForNetwork(listener.Addr().Network())
	s.logger.Info(
		"listening for API connections",
		"address", listener.Addr().String(),
		"network", listener.Addr().Network(),
	)
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.doneChan:
				return nil
			default:
			}
			return fmt.Errorf("accept: %w", err)
		}
		if err := s.serveConn(conn, tag); err != nil {
			s.logger.Warn(
				"refused API connection",
				"remote", remoteName(conn),
				"error", err,
			)
		}
	}
}

// ServeConn answers queries on an already established connection. The
// connection counts against the connection limit like an accepted one.
func (s *Server) ServeConn(conn net.Conn) error {
	return s.serveConn(conn, tagForNetwork(conn.LocalAddr().Network()))
}

func (s *Server) serveConn(conn net.Conn, tags ...ConnectionManagerTag) error {
	// Stop must not miss a connection registered concurrently
	s.mutex.Lock()
	defer s.mutex.Unlock()
	select {
	case <-s.doneChan:
		_ = conn.Close()
		return ErrServerStopped
	default:
	}
	// The connection's query loop releases the slot before closing the socket
	if s.active.Add(1) > int64(s.maxConnections) {
		s.active.Add(-1)
		s.metrics.connectionRejected()
		_ = conn.Close()
		return ErrTooManyConnections
	}
	s.metrics.connectionOpened()
	var onceRelease sync.Once
	release := func() {
		onceRelease.Do(func() {
			s.active.Add(-1)
			s.metrics.connectionClosed()
		})
	}
	c, err := NewConnection(
		WithConnection(conn),
		WithConnectionId(ConnectionId(s.nextId.Add(1))),
		WithConnectionDispatcher(s.dispatcher),
		WithConnectionLogger(s.logger),
		WithConnectionIdleTimeout(s.idleTimeout),
		WithConnectionMetrics(s.metrics),
		WithConnectionDoneFunc(release),
	)
	if err != nil {
		release()
		_ = conn.Close()
		return err
	}
	s.connManager.AddConnection(c, tags...)
	s.logger.Debug(
		"accepted API connection",
		"connection_id", c.Id().String(),
		"remote", remoteName(conn),
	)
	return nil
}

func (s *Server) connClosed(connId ConnectionId, err error) {
	s.connManager.RemoveConnection(connId)
	if err != nil && !errors.Is(err, ErrIdleTimeout) {
		s.logger.Warn(
			"API connection closed with error",
			"connection_id", connId.String(),
			"error", err,
		)
		return
	}
	s.logger.Debug(
		"API connection closed",
		"connection_id", connId.String(),
		"error", err,
	)
}

func (s *Server) addListener(listener net.Listener) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	select {
	case <-s.doneChan:
		return false
	default:
	}
	s.listeners = append(s.listeners, listener)
	s.waitGroup.Add(1)
	return true
}

// Stop closes every listener and connection and waits for them to finish
func (s *Server) Stop() {
	s.onceStop.Do(func() {
		s.mutex.Lock()
		close(s.doneChan)
		for _, listener := range s.listeners {
			_ = listener.Close()
		}
		s.mutex.Unlock()
		// Wait for the accept loops so no connection is added after this point
		s.waitGroup.Wait()
		for _, tmpConn := range s.connManager.GetConnectionsByTags() {
			_ = tmpConn.Conn.Close()
		}
		s.connManager.Wait()
	})
}
