// Copyright 2025 Tom Barlow
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

// Package tracing installs the OpenTelemetry trace and meter providers.
//
// Traces go to stdout, an OTLP collector over gRPC or HTTP, or nowhere.
// Metrics recorded through the otel API are bridged onto the Prometheus
// registry served at /metrics.
package tracing

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// Exporter names accepted in OPENCORP_TRACE.
const (
	ExporterNone     = "none"
	ExporterStdout   = "stdout"
	ExporterOTLP     = "otlp"
	ExporterOTLPHTTP = "otlp-http"
)

// Config configures Setup.
type Config struct {
	// ServiceName is reported as service.name. Default: opencorp.
	ServiceName    string
	ServiceVersion string

	// Exporter selects the span exporter. Default: none.
	Exporter string

	// Endpoint is the OTLP collector address (host:port).
	Endpoint string

	// Insecure disables TLS to the collector.
	Insecure bool

	// Headers are sent with every OTLP export request.
	Headers map[string]string

	// Writer receives stdout spans. Default: os.Stderr so spans do not mix
	// with command output.
	Writer io.Writer
}

// FromEnv builds a Config from OPENCORP_TRACE, OTEL_EXPORTER_OTLP_ENDPOINT,
// OPENCORP_TRACE_INSECURE and OTEL_EXPORTER_OTLP_HEADERS (k=v,k=v).
func FromEnv(version string) Config {
	cfg := Config{
		ServiceName:    "opencorp",
		ServiceVersion: version,
		Exporter:       strings.ToLower(strings.TrimSpace(os.Getenv("OPENCORP_TRACE"))),
		Endpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
	if cfg.Exporter == "" {
		cfg.Exporter = ExporterNone
	}
	switch strings.ToLower(os.Getenv("OPENCORP_TRACE_INSECURE")) {
	case "1", "true":
		cfg.Insecure = true
	}
	if raw := os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"); raw != "" {
		cfg.Headers = parseHeaders(raw)
	}
	return cfg
}

// Validate checks the exporter name and required endpoint.
func (c Config) Validate() error {
	switch c.Exporter {
	case "", ExporterNone, ExporterStdout:
		return nil
	case ExporterOTLP, ExporterOTLPHTTP:
		if c.Endpoint == "" {
			return fmt.Errorf("exporter %q requires OTEL_EXPORTER_OTLP_ENDPOINT", c.Exporter)
		}
		return nil
	default:
		return fmt.Errorf("unknown trace exporter %q (want none, stdout, otlp or otlp-http)", c.Exporter)
	}
}

func parseHeaders(raw string) map[string]string {
	headers := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			continue
		}
		headers[k] = strings.TrimSpace(v)
	}
	return headers
}
