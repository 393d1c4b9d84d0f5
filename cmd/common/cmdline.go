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

package common

import (
	"flag"
	"fmt"
	"os"
)

const (
	EnvSocket      = "FPAPI_SOCKET"
	EnvAddress     = "FPAPI_ADDRESS"
	EnvLogLevel    = "FPAPI_LOG_LEVEL"
	EnvLogFormat   = "FPAPI_LOG_FORMAT"
	EnvMaxConn     = "FPAPI_MAX_CONN"
	EnvIdleTimeout = "FPAPI_IDLE_TIMEOUT"
	EnvMetricsAddr = "FPAPI_METRICS_ADDR"
)

type GlobalFlags struct {
	Flagset   *flag.FlagSet
	Socket    string
	Address   string
	LogLevel  string
	LogFormat string
}

// NewGlobalFlags returns the flags shared by all commands. Defaults come from
// the environment, so a flag given on the command line wins.
func NewGlobalFlags() *GlobalFlags {
	f := &GlobalFlags{
		Flagset: flag.NewFlagSet(os.Args[0], flag.ExitOnError),
	}
	f.Flagset.StringVar(
		&f.Socket,
		"socket",
		Getenv(EnvSocket, ""),
		"UNIX socket path of the query API",
	)
	f.Flagset.StringVar(
		&f.Address,
		"address",
		Getenv(EnvAddress, ""),
		"TCP address of the query API in address:port format",
	)
	f.Flagset.StringVar(
		&f.LogLevel,
		"log-level",
		Getenv(EnvLogLevel, "info"),
		"log level (debug, info, warn, error)",
	)
	f.Flagset.StringVar(
		&f.LogFormat,
		"log-format",
		Getenv(EnvLogFormat, "text"),
		"log format (text, json)",
	)
	return f
}

func (f *GlobalFlags) Parse() {
	if err := f.Flagset.Parse(os.Args[1:]); err != nil {
		fmt.Printf("failed to parse command args: %s\n", err)
		os.Exit(1)
	}
}

// Endpoint returns the network and address selected by -socket or -address
func (f *GlobalFlags) Endpoint() (string, string, error) {
	switch {
	case f.Socket != "":
		return "unix", f.Socket, nil
	case f.Address != "":
		return "tcp", f.Address, nil
	}
	return "", "", fmt.Errorf("you must specify one of -socket or -address")
}
