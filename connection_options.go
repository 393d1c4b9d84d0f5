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
	"log/slog"
	"net"
	"time"

	"github.com/blinklabs-io/gofingerprint/query"
)

// ConnectionOptionFunc is a type that represents functions that modify the Connection config
type ConnectionOptionFunc func(*Connection)

// WithConnection specifies the underlying connection to answer queries on
func WithConnection(conn net.Conn) ConnectionOptionFunc {
	return func(c *Connection) {
		c.conn = conn
	}
}

// WithConnectionId specifies the ID reported by Id and used in log messages
func WithConnectionId(id ConnectionId) ConnectionOptionFunc {
	return func(c *Connection) {
		c.id = id
	}
}

// WithConnectionDispatcher specifies the dispatcher that answers queries
func WithConnectionDispatcher(dispatcher *query.Dispatcher) ConnectionOptionFunc {
	return func(c *Connection) {
		c.dispatcher = dispatcher
	}
}

// WithConnectionLogger specifies the logger for connection diagnostics
func WithConnectionLogger(logger *slog.Logger) ConnectionOptionFunc {
	return func(c *Connection) {
		c.logger = logger
	}
}

// WithConnectionIdleTimeout specifies how long to wait for the next query. Zero
// waits forever.
func WithConnectionIdleTimeout(timeout time.Duration) ConnectionOptionFunc {
	return func(c *Connection) {
		c.idleTimeout = timeout
	}
}

// WithConnectionMetrics specifies where query counts are recorded
func WithConnectionMetrics(metrics *Metrics) ConnectionOptionFunc {
	return func(c *Connection) {
		c.metrics = metrics
	}
}

// WithConnectionDoneFunc specifies a function called once when the query loop
// ends, before the underlying connection is closed
func WithConnectionDoneFunc(doneFunc func()) ConnectionOptionFunc {
	return func(c *Connection) {
		c.doneFunc = doneFunc
	}
}
