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

import "sync"

// ConnectionManagerConnClosedFunc is a function that takes a connection ID and an optional error
type ConnectionManagerConnClosedFunc func(ConnectionId, error)

// ConnectionManagerTag represents the various tags that can be associated with a connection
type ConnectionManagerTag uint16

const (
	ConnectionManagerTagNone ConnectionManagerTag = iota

	ConnectionManagerTagListenerUnix
	ConnectionManagerTagListenerTCP
	ConnectionManagerTagListenerOther
)

func (c ConnectionManagerTag) String() string {
	tmp := map[ConnectionManagerTag]string{
		ConnectionManagerTagListenerUnix:  "ListenerUnix",
		ConnectionManagerTagListenerTCP:   "ListenerTCP",
		ConnectionManagerTagListenerOther: "ListenerOther",
	}
	ret, ok := tmp[c]
	if !ok {
		return "Unknown"
	}
	return ret
}

// tagForNetwork returns the listener tag for a net.Addr network name
func tagForNetwork(network string) ConnectionManagerTag {
	switch network {
	case "unix", "unixpacket":
		return ConnectionManagerTagListenerUnix
	case "tcp", "tcp4", "tcp6":
		return ConnectionManagerTagListenerTCP
	}
	return ConnectionManagerTagListenerOther
}

// ConnectionManager tracks live connections and reports when each one ends
type ConnectionManager struct {
	config           ConnectionManagerConfig
	connections      map[ConnectionId]*ConnectionManagerConnection
	connectionsMutex sync.Mutex
	waitGroup        sync.WaitGroup
}

type ConnectionManagerConfig struct {
	ConnClosedFunc ConnectionManagerConnClosedFunc
}

func NewConnectionManager(cfg ConnectionManagerConfig) *ConnectionManager {
	return &ConnectionManager{
		config:      cfg,
		connections: make(map[ConnectionId]*ConnectionManagerConnection),
	}
}

// AddConnection registers conn. The configured ConnClosedFunc is called once
// the connection ends.
func (c *ConnectionManager) AddConnection(
	conn *Connection,
	tags ...ConnectionManagerTag,
) {
	connId := conn.Id()
	tmpTags := map[ConnectionManagerTag]bool{}
	for _, tag := range tags {
		tmpTags[tag] = true
	}
	c.connectionsMutex.Lock()
	c.connections[connId] = &ConnectionManagerConnection{
		Conn: conn,
		Tags: tmpTags,
	}
	c.connectionsMutex.Unlock()
	c.waitGroup.Add(1)
	go func() {
		defer c.waitGroup.Done()
		err := <-conn.ErrorChan()
		// Call configured connection closed callback func
		if c.config.ConnClosedFunc != nil {
			c.config.ConnClosedFunc(connId, err)
		}
	}()
}

func (c *ConnectionManager) RemoveConnection(connId ConnectionId) {
	c.connectionsMutex.Lock()
	delete(c.connections, connId)
	c.connectionsMutex.Unlock()
}

func (c *ConnectionManager) GetConnectionById(connId ConnectionId) *ConnectionManagerConnection {
	c.connectionsMutex.Lock()
	defer c.connectionsMutex.Unlock()
	return c.connections[connId]
}

// GetConnectionsByTags returns the connections carrying all of tags. No tags
// matches every connection.
func (c *ConnectionManager) GetConnectionsByTags(tags ...ConnectionManagerTag) []*ConnectionManagerConnection {
	var ret []*ConnectionManagerConnection
	c.connectionsMutex.Lock()
	for _, conn := range c.connections {
		skipConn := false
		for _, tag := range tags {
			if _, ok := conn.Tags[tag]; !ok {
				skipConn = true
				break
			}
		}
		if !skipConn {
			ret = append(ret, conn)
		}
	}
	c.connectionsMutex.Unlock()
	return ret
}

// Count returns the number of registered connections
func (c *ConnectionManager) Count() int {
	c.connectionsMutex.Lock()
	defer c.connectionsMutex.Unlock()
	return len(c.connections)
}

// Wait blocks until the closed callback has run for every added connection
func (c *ConnectionManager) Wait() {
	c.waitGroup.Wait()
}

type ConnectionManagerConnection struct {
	Conn *Connection
	Tags map[ConnectionManagerTag]bool
}
