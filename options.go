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
	"time"

	"github.com/blinklabs-io/gofingerprint/query"
)

// ServerOptionFunc is a type that represents functions that modify the Server config
type ServerOptionFunc func(*Server)

// WithDispatcher specifies the dispatcher that answers queries
func WithDispatcher(dispatcher *query.Dispatcher) ServerOptionFunc {
	return func(s *Server) {
		s.dispatcher = dispatcher
	}
}

// WithLogger specifies the logger for server and connection diagnostics
func WithLogger(logger *slog.Logger) ServerOptionFunc {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMaxConnections specifies how many connections may be open at once.
// Connections beyond the limit are closed as soon as they are accepted.
func WithMaxConnections(maxConnections int) ServerOptionFunc {
	return func(s *Server) {
		s.maxConnections = maxConnections
	}
}

// WithIdleTimeout specifies how long a connection may wait between queries
// before it is closed. Zero disables the timeout.
func WithIdleTimeout(timeout time.Duration) ServerOptionFunc {
	return func(s *Server) {
		s.idleTimeout = timeout
	}
}

// WithMetrics specifies where server metrics are recorded
func WithMetrics(metrics *Metrics) ServerOptionFunc {
	return func(s *Server) {
		s.metrics = metrics
	}
}
