/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/panteparak/credential-cache/internal/app"
	"github.com/panteparak/credential-cache/internal/config"
	"github.com/panteparak/credential-cache/pkg/metrics"
)

var setupLog = ctrl.Log.WithName("setup")

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to the configuration file. "+
		"Defaults to credcache.yaml in the working directory or /etc/credcache.")
	opts := zap.Options{
		Development: true,
	}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()

	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))

	cfg, err := config.Load(configPath)
	if err != nil {
		setupLog.Error(err, "unable to load configuration")
		os.Exit(1)
	}

	ctx := ctrl.SetupSignalHandler()

	tp, shutdownTracing, err := tracerProvider(cfg.Tracing)
	if err != nil {
		setupLog.Error(err, "unable to set up tracing")
		os.Exit(1)
	}
	defer shutdownTracing()
	otel.SetTracerProvider(tp)

	if cfg.MetricsBindAddress != "" {
		server := serveMetrics(cfg.MetricsBindAddress)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	a, err := app.New(ctx, cfg, ctrl.Log, app.WithTracerProvider(tp))
	if err != nil {
		setupLog.Error(err, "unable to build credentials")
		os.Exit(1)
	}

	setupLog.Info("starting credential cache", "credentials", a.Names())
	if err := a.Run(ctx); err != nil {
		setupLog.Error(err, "credential cache stopped")
		shutdownTracing()
		os.Exit(1)
	}
}

// tracerProvider returns a stdout exporting provider when enabled, otherwise a
// no-op one. The returned func flushes and stops the provider.
func tracerProvider(cfg config.TracingConfig) (trace.TracerProvider, func(), error) {
	if !cfg.Stdout {
		return noop.NewTracerProvider(), func() {}, nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	return tp, func() { _ = tp.Shutdown(context.Background()) }, nil
}

func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		setupLog.Info("serving metrics", "address", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			setupLog.Error(err, "metrics server failed")
		}
	}()
	return server
}
