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
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	fingerprint "github.com/blinklabs-io/gofingerprint"
	"github.com/blinklabs-io/gofingerprint/catalog"
	"github.com/blinklabs-io/gofingerprint/cmd/common"
	"github.com/blinklabs-io/gofingerprint/query"
	"github.com/blinklabs-io/gofingerprint/tracker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type apiFlags struct {
	*common.GlobalFlags
	fpFile         string
	stateFile      string
	maxConnections int
	idleTimeout    time.Duration
	maxHosts       int
	maxFlows       int
	metricsAddress string
}

func newAPIFlags() *apiFlags {
	f := &apiFlags{
		GlobalFlags: common.NewGlobalFlags(),
	}
	f.Flagset.StringVar(
		&f.fpFile,
		"fp-file",
		"p0f.fp",
		"signature database to read fingerprint names from",
	)
	f.Flagset.StringVar(
		&f.stateFile,
		"state",
		"",
		"tracker state file, loaded on start and written on exit",
	)
	f.Flagset.IntVar(
		&f.maxConnections,
		"max-conn",
		common.IntEnv(common.EnvMaxConn, fingerprint.DefaultMaxConnections),
		"maximum number of simultaneous API connections",
	)
	f.Flagset.DurationVar(
		&f.idleTimeout,
		"idle-timeout",
		common.DurationEnv(common.EnvIdleTimeout, 0),
		"close API connections idle for this long (0 disables)",
	)
	f.Flagset.IntVar(
		&f.maxHosts,
		"max-hosts",
		tracker.DefaultMaxHosts,
		"maximum number of tracked hosts",
	)
	f.Flagset.IntVar(
		&f.maxFlows,
		"max-flows",
		tracker.DefaultMaxFlows,
		"maximum number of tracked flows",
	)
	f.Flagset.StringVar(
		&f.metricsAddress,
		"metrics-address",
		common.Getenv(common.EnvMetricsAddr, ""),
		"address to serve Prometheus metrics on (empty disables)",
	)
	return f
}

func main() {
	f := newAPIFlags()
	f.Parse()
	logger, err := common.NewLogger(f.LogLevel, f.LogFormat)
	if err != nil {
		fmt.Printf("ERROR: %s\n", err)
		os.Exit(1)
	}
	if err := run(f, logger); err != nil {
		logger.Error("fingerprint API failed", "error", err)
		os.Exit(1)
	}
}

func run(f *apiFlags, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	cat, err := loadCatalog(f.fpFile)
	if err != nil {
		return err
	}
	logger.Info("loaded fingerprint names", "file", f.fpFile, "count", cat.Len())

	tr, err := tracker.New(
		tracker.NewConfig(
			tracker.WithMaxHosts(f.maxHosts),
			tracker.WithMaxFlows(f.maxFlows),
			tracker.WithLogger(logger),
		),
	)
	if err != nil {
		return err
	}
	if f.stateFile != "" {
		if err := loadState(tr, f.stateFile); err != nil {
			return err
		}
	}

	dispatcherCfg := query.NewConfig(
		query.WithHostLookup(tr),
		query.WithFlowLookup(tr),
		query.WithCatalog(cat),
		query.WithLogger(logger),
	)
	serverOpts := []fingerprint.ServerOptionFunc{
		fingerprint.WithDispatcher(query.NewDispatcher(&dispatcherCfg)),
		fingerprint.WithLogger(logger),
		fingerprint.WithMaxConnections(f.maxConnections),
		fingerprint.WithIdleTimeout(f.idleTimeout),
	}
	var metricsServer *http.Server
	if f.metricsAddress != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		serverOpts = append(
			serverOpts,
			fingerprint.WithMetrics(fingerprint.NewMetrics(reg)),
		)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{
			Addr:              f.metricsAddress,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("serving metrics", "address", f.metricsAddress)
			if err := metricsServer.ListenAndServe(); err != nil &&
				!errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	server, err := fingerprint.NewServer(serverOpts...)
	if err != nil {
		return err
	}
	listener, err := common.CreateListener(f.GlobalFlags)
	if err != nil {
		return err
	}
	serveErr := serveUntilDone(ctx, server, listener, logger)
	return shutdown(server, metricsServer, tr, f.stateFile, serveErr)
}

// serveUntilDone serves listener until ctx is cancelled or Serve fails
func serveUntilDone(
	ctx context.Context,
	server *fingerprint.Server,
	listener net.Listener,
	logger *slog.Logger,
) error {
	serveErrChan := make(chan error, 1)
	go func() {
		serveErrChan <- server.Serve(listener)
	}()
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		server.Stop()
		// Serve may not have started before the stop
		if err := <-serveErrChan; !errors.Is(err, fingerprint.ErrServerStopped) {
			return err
		}
		return nil
	case err := <-serveErrChan:
		return err
	}
}

// shutdown stops the servers and writes the tracker state back to stateFile.
// serveErr is returned unless saving the state fails.
func shutdown(
	server *fingerprint.Server,
	metricsServer *http.Server,
	tr *tracker.Tracker,
	stateFile string,
	serveErr error,
) error {
	server.Stop()
	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	if stateFile != "" {
		if err := saveState(tr, stateFile); err != nil {
			return err
		}
	}
	return serveErr
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	cat := catalog.New()
	file, err := os.Open(path) // #nosec G304
	if err != nil {
		return nil, fmt.Errorf("open signature database: %w", err)
	}
	defer file.Close()
	if err := cat.Load(file); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return cat, nil
}

func loadState(tr *tracker.Tracker, path string) error {
	file, err := os.Open(path) // #nosec G304
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open tracker state: %w", err)
	}
	defer file.Close()
	return tr.Load(file)
}

// saveState replaces the file at path with a rename
func saveState(tr *tracker.Tracker, path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath) // #nosec G304
	if err != nil {
		return fmt.Errorf("create tracker state: %w", err)
	}
	if err := tr.Save(file); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close tracker state: %w", err)
	}
	return os.Rename(tmpPath, path)
}
