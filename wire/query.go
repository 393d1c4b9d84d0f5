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
	"net/netip"
)

// Query is one of *QueryV1, *QueryV2 or *UnknownQuery
type Query interface {
	// Tag returns the protocol tag carried by the query
	Tag() uint32
	isQuery()
}

// QueryV1 asks about a single host
type QueryV1 struct {
	Magic    uint32
	AddrType AddrType
	Addr     [AddrSize]byte
}

func (q *QueryV1) Tag() uint32 { return q.Magic }
func (*QueryV1) isQuery()      {}

// QueryV2 asks about one side of a tracked flow
type QueryV2 struct {
	Magic    uint32
	AddrType AddrType
	SrcAddr  [AddrSize]byte
	DstAddr  [AddrSize]byte
	SrcPort  uint16
	DstPort  uint16
}

func (q *QueryV2) Tag() uint32 { return q.Magic }
func (*QueryV2) isQuery()      {}

// UnknownQuery carries a tag that matches no supported query version
type UnknownQuery struct {
	Magic uint32
}

func (q *UnknownQuery) Tag() uint32 { return q.Magic }
func (*UnknownQuery) isQuery()      {}

// NewQueryV1 builds a host query for addr
func NewQueryV1(addr netip.Addr) (*QueryV1, error) {
	addrType, raw, err := PackAddr(addr)
	if err != nil {
		return nil, err
	}
	return &QueryV1{
		Magic:    QueryMagicV1,
		AddrType: addrType,
		Addr:     raw,
	}, nil
}

// NewQueryV2 builds a flow query. Both addresses must belong to the same family.
func NewQueryV2(
	src netip.Addr,
	srcPort uint16,
	dst netip.Addr,
	dstPort uint16,
) (*QueryV2, error) {
	srcType, srcRaw, err := PackAddr(src)
	if err != nil {
		return nil, err
	}
	dstType, dstRaw, err := PackAddr(dst)
	if err != nil {
		return nil, err
	}
	if srcType != dstType {
		return nil, fmt.Errorf(
			"%w: mixed %s and %s addresses",
			ErrUnsupportedFamily,
			srcType,
			dstType,
		)
	}
	return &QueryV2{
		Magic:    QueryMagicV2,
		AddrType: srcType,
		SrcAddr:  srcRaw,
		DstAddr:  dstRaw,
		SrcPort:  srcPort,
		DstPort:  dstPort,
	}, nil
}

// PackAddr converts addr into its wire address type and zero-padded raw form.
// IPv4-mapped IPv6 addresses are packed as IPv4.
func PackAddr(addr netip.Addr) (AddrType, [AddrSize]byte, error) {
	var raw [AddrSize]byte
	addr = addr.Unmap()
	switch {
	case addr.Is4():
		b := addr.As4()
		copy(raw[:], b[:])
		return AddrIPv4, raw, nil
	case addr.Is6():
		return AddrIPv6, addr.As16(), nil
	}
	return 0, raw, fmt.Errorf("%w: %v", ErrUnsupportedFamily, addr)
}

// UnpackAddr converts a raw wire address into a netip.Addr. The address type
// must be valid.
func UnpackAddr(addrType AddrType, raw [AddrSize]byte) (netip.Addr, error) {
	switch addrType {
	case AddrIPv4:
		return netip.AddrFrom4([4]byte(raw[:4])), nil
	case AddrIPv6:
		return netip.AddrFrom16(raw), nil
	}
	return netip.Addr{}, fmt.Errorf("%w: %s", ErrUnsupportedFamily, addrType)
}

// EncodeQuery returns the wire form of q
func EncodeQuery(q Query) ([]byte, error) {
	buf := &bytes.Buffer{}
	var err error
	switch v := q.(type) {
	case *QueryV1:
		err = binary.Write(buf, ByteOrder, v)
	case *QueryV2:
		err = binary.Write(buf, ByteOrder, v)
	default:
		return nil, fmt.Errorf("%w: 0x%08x", ErrUnknownMagic, q.Tag())
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeQuery reads one query from r. The tag selects how many further bytes
// belong to the query. An unrecognized tag yields an *UnknownQuery together with
// ErrUnknownMagic; in that case nothing past the tag has been consumed.
func DecodeQuery(r io.Reader) (Query, error) {
	var tag [4]byte
	// We use ReadFull because it guarantees to read the expected number of bytes or
	// return an error
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		return nil, err
	}
	magic := ByteOrder.Uint32(tag[:])
	var body []byte
	var q Query
	switch magic {
	case QueryMagicV1:
		body = make([]byte, QueryV1Size)
		q = &QueryV1{}
	case QueryMagicV2:
		body = make([]byte, QueryV2Size)
		q = &QueryV2{}
	default:
		return &UnknownQuery{Magic: magic}, fmt.Errorf(
			"%w: 0x%08x",
			ErrUnknownMagic,
			magic,
		)
	}
	copy(body, tag[:])
	if _, err := io.ReadFull(r, body[len(tag):]); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	if err := binary.Read(bytes.NewReader(body), ByteOrder, q); err != nil {
		return nil, err
	}
	return q, nil
}
