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

// Package catalog implements the fingerprint name table
package catalog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/blinklabs-io/gofingerprint/record"
)

var ErrMalformedLabel = errors.New("malformed signature label")

// Catalog maps fingerprint ids to names. Ids are assigned in insertion order.
type Catalog struct {
	mu    sync.RWMutex
	names []string
	ids   map[string]record.NameID
}

// New returns a catalog holding names, deduplicated, in order
func New(names ...string) *Catalog {
	c := &Catalog{
		ids: make(map[string]record.NameID),
	}
	for _, name := range names {
		c.Add(name)
	}
	return c
}

// Add registers name and returns its id. Registering a known name returns the
// existing id.
func (c *Catalog) Add(name string) record.NameID {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.ids[name]; ok {
		return id
	}
	id := record.NameID(len(c.names)) // #nosec G115
	c.names = append(c.names, name)
	c.ids[name] = id
	return id
}

// NameFor returns the name registered under id, or "" for unknown ids
func (c *Catalog) NameFor(id record.NameID) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if uint64(id) >= uint64(len(c.names)) {
		return ""
	}
	return c.names[id]
}

// ID returns the id registered for name
func (c *Catalog) ID(name string) (record.NameID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.ids[name]
	return id, ok
}

// Len returns the number of registered names
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.names)
}

// Load reads a signature database and registers the name of every signature
// label it contains, in the order they first appear. Labels look like
//
//	label = s:unix:Linux:3.11 and newer
//
// where the third field is the name. Labels in the [mtu] section name link
// types rather than fingerprints and are skipped, as are comments and other keys.
func (c *Catalog) Load(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	lineNo := 0
	section := ""
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			section = strings.Trim(line, "[]")
			continue
		}
		if section == "mtu" {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found || strings.TrimSpace(key) != "label" {
			continue
		}
		name, err := parseLabel(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		c.Add(name)
	}
	return scanner.Err()
}

// parseLabel extracts the name from a type:class:name:flavor label
func parseLabel(label string) (string, error) {
	parts := strings.SplitN(label, ":", 4)
	if len(parts) != 4 {
		return "", fmt.Errorf("%w: %q", ErrMalformedLabel, label)
	}
	switch parts[0] {
	case "s", "g":
	default:
		return "", fmt.Errorf(
			"%w: bad type %q in %q",
			ErrMalformedLabel,
			parts[0],
			label,
		)
	}
	name := parts[2]
	if name == "" {
		return "", fmt.Errorf("%w: empty name in %q", ErrMalformedLabel, label)
	}
	return name, nil
}
