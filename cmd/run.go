// Copyright 2025 Google LLC
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

package cmd

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"

	"github.com/kernellab/diskfs/internal/block"
	"github.com/kernellab/diskfs/internal/kernel"
	"github.com/kernellab/diskfs/internal/logger"
	"github.com/kernellab/diskfs/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Boot the kernel over an already-formatted disk image and block",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkConfigErrors(); err != nil {
			return err
		}
		logger.Init(Cfg.Logging.Format, Cfg.Logging.Severity, logOutput())

		handle, err := newMetricsHandle()
		if err != nil {
			return fmt.Errorf("run: metrics: %w", err)
		}
		stopMetricsServer := serveMetrics(Cfg.Metrics.Port)
		defer stopMetricsServer()

		dev, err := block.OpenFileDevice(Cfg.Disk.ImagePath, block.SectorNum(Cfg.Disk.TotalSectors), false)
		if err != nil {
			return fmt.Errorf("run: %w", err)
		}

		k, err := kernel.Open(dev, kernel.Options{
			CacheCapacity:       Cfg.Cache.Capacity,
			WriteBehindInterval: Cfg.Cache.WriteBehindMillis,
			TotalSectors:        Cfg.Disk.TotalSectors,
			EnableDirectories:   Cfg.Syscalls.EnableDirectories,
			EnableVM:            Cfg.Syscalls.EnableVM,
			FrameCount:          Cfg.Syscalls.FrameCount,
			Console:             newStdioConsole(),
			Metrics:             handle,
		})
		if err != nil {
			return fmt.Errorf("run: %w", err)
		}

		logger.Infof("run: booted over %s, waiting for SIGINT to shut down", Cfg.Disk.ImagePath)
		waitForInterrupt()

		logger.Infof("run: shutting down")
		return k.Close()
	},
}

// newMetricsHandle wires an OpenTelemetry meter to a Prometheus exporter
// registered against the default Prometheus registry, so the kernel's
// counters and histograms show up at /metrics without a push pipeline.
func newMetricsHandle() (metrics.Handle, error) {
	exporter, err := otelprometheus.New()
	if err != nil {
		return nil, err
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	return metrics.NewOtelHandle(provider.Meter("diskfs"))
}

// serveMetrics starts the Prometheus scrape endpoint when port is
// nonzero and returns a function that shuts it down. Port zero disables
// the endpoint entirely and returns a no-op stopper.
func serveMetrics(port int) func() {
	if port == 0 {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("run: metrics server: %v", err)
		}
	}()
	return func() { srv.Close() }
}

func waitForInterrupt() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	<-sigCh
}
