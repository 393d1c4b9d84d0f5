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

// Package wire defines the fixed-layout query and response structures of the
// fingerprint API along with their byte-level encoding.
//
// All multi-byte integers are little-endian and structures are packed with no
// padding. A version 1 query is 21 bytes, a version 2 query is 41 bytes and a
// response, shared by both versions, is 228 bytes.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"
)

// ByteOrder is the byte order used for every multi-byte field on the wire
var ByteOrder = binary.LittleEndian

const (
	// QueryMagicV1 tags a host query
	QueryMagicV1 uint32 = 0x50304601
	// ResponseMagic tags every response, whatever the query version
	ResponseMagic uint32 = 0x50304602
	// QueryMagicV2 tags a flow query
	QueryMagicV2 uint32 = 0x50304603
)

// AddrType identifies the address family of a query
type AddrType uint8

const (
	AddrIPv4 AddrType = 1
	AddrIPv6 AddrType = 2
)

func (a AddrType) String() string {
	switch a {
	case AddrIPv4:
		return "IPv4"
	case AddrIPv6:
		return "IPv6"
	}
	return fmt.Sprintf("AddrType(%d)", uint8(a))
}

// Valid reports whether the address type is one the API understands
func (a AddrType) Valid() bool {
	return a == AddrIPv4 || a == AddrIPv6
}

// Status is the outcome of a query. The numeric values are part of the wire
// format and never change.
type Status uint8

const (
	StatusBadQuery Status = 0x00
	StatusOK       Status = 0x10
	StatusNoMatch  Status = 0x20
)

func (s Status) String() string {
	switch s {
	case StatusBadQuery:
		return "BadQuery"
	case StatusOK:
		return "OK"
	case StatusNoMatch:
		return "NoMatch"
	}
	return "Unknown"
}

const (
	// StringMax is the longest string a response text field can carry
	StringMax = 31
	// StringSize is the capacity of a response text field, including the terminator
	StringSize = StringMax + 1
	// AddrSize is the size of a raw address field. IPv4 addresses occupy the
	// first 4 bytes and the rest is zero.
	AddrSize = 16

	// UptimeUnset marks an unknown uptime in an OK response
	UptimeUnset uint32 = 0xffffffff
	// DistanceUnknown marks an unknown hop distance in an OK response
	DistanceUnknown int8 = -1
)

// Encoded sizes of the wire structures
const (
	QueryV1Size  = 21
	QueryV2Size  = 41
	ResponseSize = 228
)

var (
	ErrUnknownMagic      = errors.New("unknown query magic")
	ErrBadResponseMagic  = errors.New("unexpected response magic")
	ErrUnsupportedFamily = errors.New("unsupported address family")
)

// PutString copies s into dst, cutting it so that a NUL terminator always fits
// within len(dst). A cut never splits a UTF-8 sequence. Bytes after the
// terminator are zeroed.
func PutString(dst []byte, s string) {
	if len(dst) == 0 {
		return
	}
	if limit := len(dst) - 1; len(s) > limit {
		cut := limit
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	n := copy(dst, s)
	clear(dst[n:])
}

// GetString returns the contents of a NUL-terminated text field
func GetString(src []byte) string {
	for i, b := range src {
		if b == 0 {
			return string(src[:i])
		}
	}
	return string(src)
}
