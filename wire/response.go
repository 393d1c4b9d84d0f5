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

package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Response is the reply to both query versions. The zero value carries an
// all-zero payload, which is what BadQuery and NoMatch replies send.
type Response struct {
	Magic           uint32
	Status          Status
	FirstSeen       uint32
	LastSeen        uint32
	TotalConn       uint32
	OSName          [StringSize]byte
	OSFlavor        [StringSize]byte
	HTTPName        [StringSize]byte
	HTTPFlavor      [StringSize]byte
	LinkType        [StringSize]byte
	Language        [StringSize]byte
	BadSignature    uint8
	NATSuspected    uint8
	ConfigChanged   uint32
	DaysSinceReboot uint32
	Distance        int8
	Quality         float32
	UptimeMinutes   uint32
}

// NewResponse returns a zeroed response carrying the reply magic and status
func NewResponse(status Status) Response {
	return Response{
		Magic:  ResponseMagic,
		Status: status,
	}
}

// Uptime returns the uptime in minutes and whether it is known
func (r *Response) Uptime() (uint32, bool) {
	if r.Status != StatusOK || r.UptimeMinutes == UptimeUnset {
		return 0, false
	}
	return r.UptimeMinutes, true
}

// HopDistance returns the hop distance and whether it is known
func (r *Response) HopDistance() (int8, bool) {
	if r.Status != StatusOK || r.Distance == DistanceUnknown {
		return 0, false
	}
	return r.Distance, true
}

// EncodeResponse returns the wire form of r
func EncodeResponse(r *Response) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, ResponseSize))
	if err := binary.Write(buf, ByteOrder, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeResponse reads one response from r and checks its magic
func DecodeResponse(r io.Reader) (*Response, error) {
	resp := &Response{}
	if err := binary.Read(r, ByteOrder, resp); err != nil {
		return nil, err
	}
	if resp.Magic != ResponseMagic {
		return nil, fmt.Errorf(
			"%w: 0x%08x",
			ErrBadResponseMagic,
			resp.Magic,
		)
	}
	return resp, nil
}
