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

package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestFromEnv(t *testing.T) {
	tests := []struct {
		name      string
		env       map[string]string
		wantLevel string
		wantFmt   Format
		wantSrc   bool
		wantRed   bool
	}{
		{"defaults", nil, "info", FormatText, false, true},
		{"LOG_LEVEL lowercased", map[string]string{"LOG_LEVEL": "DEBUG"}, "debug", FormatText, false, true},
		{"OPENCORP_LOG_LEVEL wins", map[string]string{"LOG_LEVEL": "warn", "OPENCORP_LOG_LEVEL": "error"}, "error", FormatText, false, true},
		{"debug flag", map[string]string{"OPENCORP_DEBUG": "1", "OPENCORP_LOG_LEVEL": "error"}, "debug", FormatText, true, true},
		{"json format", map[string]string{"LOG_FORMAT": "JSON"}, "info", FormatJSON, false, true},
		{"redaction off", map[string]string{"OPENCORP_LOG_REDACT": "false"}, "info", FormatText, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"OPENCORP_DEBUG", "OPENCORP_LOG_LEVEL", "LOG_LEVEL", "LOG_FORMAT", "LOG_SOURCE", "OPENCORP_LOG_REDACT"} {
				t.Setenv(k, "")
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg := FromEnv()
			if cfg.Level != tt.wantLevel {
				t.Errorf("Level = %q, want %q", cfg.Level, tt.wantLevel)
			}
			if cfg.Format != tt.wantFmt {
				t.Errorf("Format = %q, want %q", cfg.Format, tt.wantFmt)
			}
			if cfg.AddSource != tt.wantSrc {
				t.Errorf("AddSource = %v, want %v", cfg.AddSource, tt.wantSrc)
			}
			if cfg.Redact != tt.wantRed {
				t.Errorf("Redact = %v, want %v", cfg.Redact, tt.wantRed)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"trace":   LevelTrace,
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestRedactSecrets(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"key sk-or-v1-abcdefghijklmnopqrstuvwxyz", "key " + Redacted},
		{"key sk-abcdefghijklmnopqrstuvwxyz0123", "key " + Redacted},
		{"Authorization: Bearer abcdefghijklmnop", "Authorization: " + Redacted},
		{"WEBHOOK_API_KEY=hunter2 rest", "WEBHOOK_" + Redacted + " rest"},
		{"password = letmein", Redacted},
		{"nothing to see", "nothing to see"},
		{"sk-short", "sk-short"},
	}
	for _, tt := range tests {
		if got := RedactSecrets(tt.in); got != tt.want {
			t.Errorf("RedactSecrets(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewRedactsMessagesAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf, Redact: true})

	logger.With("header", "Bearer abcdefghijklmnop").Info("using sk-or-v1-0123456789abcdefghijkl",
		"err", errors.New("TOKEN=abc failed"),
		slog.Group("req", slog.String("auth", "Bearer zyxwvutsrqponm")),
	)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if entry["msg"] != "using "+Redacted {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry["header"] != Redacted {
		t.Errorf("header = %v", entry["header"])
	}
	if entry["err"] != Redacted+" failed" {
		t.Errorf("err = %v", entry["err"])
	}
	req, _ := entry["req"].(map[string]any)
	if req["auth"] != Redacted {
		t.Errorf("req.auth = %v", req["auth"])
	}
}

func TestNewWithoutRedaction(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatText, Output: &buf})
	logger.Info("TOKEN=visible")
	if !strings.Contains(buf.String(), "TOKEN=visible") {
		t.Errorf("expected raw output, got %q", buf.String())
	}
}

func TestTraceRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	Trace(New(&Config{Level: "debug", Output: &buf}), "hidden")
	if buf.Len() != 0 {
		t.Errorf("trace should be suppressed at debug level: %q", buf.String())
	}

	Trace(New(&Config{Level: "trace", Output: &buf}), "shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("expected trace output, got %q", buf.String())
	}
}

func TestSanitizeAPIKey(t *testing.T) {
	if got := SanitizeAPIKey("sk-or-123456789"); got != "...6789" {
		t.Errorf("got %q", got)
	}
	if got := SanitizeAPIKey("abc"); got != "[REDACTED]" {
		t.Errorf("got %q", got)
	}
}

func TestHTTPMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

	h := HTTPMiddleware(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/events", nil))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if entry["level"] != "WARN" || entry["path"] != "/events" || entry["status"] != float64(418) {
		t.Errorf("unexpected entry: %v", entry)
	}
}
