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

package main

import (
	"fmt"
	"io"
	"net/netip"
	"os"
	"strconv"

	fingerprint "github.com/blinklabs-io/gofingerprint"
	"github.com/blinklabs-io/gofingerprint/cmd/common"
	"github.com/blinklabs-io/gofingerprint/record"
	"github.com/blinklabs-io/gofingerprint/wire"
)

const (
	exitOK      = 0
	exitFailure = 1
)

func usage(f *common.GlobalFlags, out io.Writer) int {
	fmt.Fprintf(out, "Usage: %s [options] host <addr>\n", f.Flagset.Name())
	fmt.Fprintf(out, "       %s [options] flow <src> <sport> <dst> <dport>\n\n", f.Flagset.Name())
	f.Flagset.SetOutput(out)
	f.Flagset.PrintDefaults()
	return exitFailure
}

func main() {
	f := common.NewGlobalFlags()
	f.Parse()
	os.Exit(run(f, f.Flagset.Args(), os.Stdout))
}

// run performs one query and returns the process exit code
func run(f *common.GlobalFlags, args []string, out io.Writer) int {
	if len(args) == 0 {
		return usage(f, out)
	}
	switch {
	case args[0] == "host" && len(args) == 2:
	case args[0] == "flow" && len(args) == 5:
	default:
		return usage(f, out)
	}
	network, address, err := f.Endpoint()
	if err != nil {
		fmt.Fprintf(out, "ERROR: %s\n\n", err)
		return usage(f, out)
	}
	client, err := fingerprint.Dial(network, address)
	if err != nil {
		fmt.Fprintf(out, "Connection failed: %s\n", err)
		return exitFailure
	}
	defer client.Close()

	var resp *wire.Response
	if args[0] == "host" {
		addr, err := netip.ParseAddr(args[1])
		if err != nil {
			fmt.Fprintf(out, "ERROR: %s\n", err)
			return exitFailure
		}
		resp, err = client.QueryHost(addr)
		if err != nil {
			fmt.Fprintf(out, "ERROR: %s\n", err)
			return exitFailure
		}
	} else {
		key, err := parseFlowKey(args[1:])
		if err != nil {
			fmt.Fprintf(out, "ERROR: %s\n", err)
			return exitFailure
		}
		resp, err = client.QueryFlow(key)
		if err != nil {
			fmt.Fprintf(out, "ERROR: %s\n", err)
			return exitFailure
		}
	}
	fmt.Fprint(out, formatResponse(resp))
	if resp.Status != wire.StatusOK {
		return exitFailure
	}
	return exitOK
}

func parseFlowKey(args []string) (record.FlowKey, error) {
	var key record.FlowKey
	src, err := netip.ParseAddr(args[0])
	if err != nil {
		return key, err
	}
	srcPort, err := strconv.ParseUint(args[1], 10, 16)
	if err != nil {
		return key, fmt.Errorf("invalid source port %q: %w", args[1], err)
	}
	dst, err := netip.ParseAddr(args[2])
	if err != nil {
		return key, err
	}
	dstPort, err := strconv.ParseUint(args[3], 10, 16)
	if err != nil {
		return key, fmt.Errorf("invalid destination port %q: %w", args[3], err)
	}
	key = record.FlowKey{
		Src:     src,
		Dst:     dst,
		SrcPort: uint16(srcPort),
		DstPort: uint16(dstPort),
	}
	return key, nil
}
