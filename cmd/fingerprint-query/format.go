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
	"strings"
	"time"

	"github.com/blinklabs-io/gofingerprint/wire"
)

const timeFormat = "2006/01/02 15:04:05"

func formatTime(ts uint32) string {
	if ts == 0 {
		return "unknown"
	}
	return time.Unix(int64(ts), 0).UTC().Format(timeFormat)
}

func formatName(name []byte, flavor []byte) string {
	n := wire.GetString(name)
	if n == "" {
		return "???"
	}
	if fl := wire.GetString(flavor); fl != "" {
		return n + " " + fl
	}
	return n
}

func orUnknown(s string) string {
	if s == "" {
		return "???"
	}
	return s
}

// formatResponse renders resp as aligned key/value lines
func formatResponse(resp *wire.Response) string {
	var sb strings.Builder
	switch resp.Status {
	case wire.StatusBadQuery:
		sb.WriteString("Server says the query was malformed.\n")
		return sb.String()
	case wire.StatusNoMatch:
		sb.WriteString("No matching host in cache. That's all we know.\n")
		return sb.String()
	case wire.StatusOK:
	default:
		fmt.Fprintf(&sb, "Unexpected response status 0x%02x.\n", uint8(resp.Status))
		return sb.String()
	}
	line := func(key string, value string) {
		fmt.Fprintf(&sb, "%-17s = %s\n", key, value)
	}
	line("First seen", formatTime(resp.FirstSeen))
	line("Last update", formatTime(resp.LastSeen))
	line("Total flows", fmt.Sprintf("%d", resp.TotalConn))
	line("Detected OS", formatName(resp.OSName[:], resp.OSFlavor[:]))
	line("HTTP software", formatName(resp.HTTPName[:], resp.HTTPFlavor[:]))
	line("Network link", orUnknown(wire.GetString(resp.LinkType[:])))
	line("Language", orUnknown(wire.GetString(resp.Language[:])))
	if distance, ok := resp.HopDistance(); ok {
		line("Distance", fmt.Sprintf("%d", distance))
	} else {
		line("Distance", "unknown")
	}
	if uptime, ok := resp.Uptime(); ok {
		line(
			"Uptime",
			fmt.Sprintf(
				"%d days %d hrs %d min",
				uptime/60/24,
				uptime/60%24,
				uptime%60,
			),
		)
	} else {
		line("Uptime", "unknown")
	}
	if resp.DaysSinceReboot != 0 {
		line("Days since reboot", fmt.Sprintf("%d", resp.DaysSinceReboot))
	}
	line("Match quality", fmt.Sprintf("%.2f", resp.Quality))
	if resp.BadSignature != 0 {
		line("Bad signature", fmt.Sprintf("%d", resp.BadSignature))
	}
	if resp.NATSuspected != 0 {
		line("NAT suspected", "yes")
	}
	if resp.ConfigChanged != 0 {
		line("Config changed", formatTime(resp.ConfigChanged))
	}
	return sb.String()
}
