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

package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tombee/opencorp/pkg/httpclient"
	"github.com/tombee/opencorp/pkg/tools"
)

// maxResponseBytes bounds how much of a response body is read. The registry
// truncates further before the text reaches the model.
const maxResponseBytes = 1 << 20

// HTTPRequest performs outbound HTTP calls to non-blocked hosts.
type HTTPRequest struct {
	client  *http.Client
	timeout time.Duration
	blocked map[string]bool
	logger  *slog.Logger
}

// NewHTTPRequest creates the http_request tool.
func NewHTTPRequest(timeout time.Duration, blockedHosts []string, logger *slog.Logger) (*HTTPRequest, error) {
	cfg := httpclient.DefaultConfig()
	cfg.Timeout = timeout
	cfg.RetryAttempts = 0
	cfg.Logger = logger
	client, err := httpclient.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating http client: %w", err)
	}
	blocked := make(map[string]bool, len(blockedHosts))
	for _, h := range blockedHosts {
		blocked[strings.ToLower(h)] = true
	}
	t := &HTTPRequest{client: client, timeout: timeout, blocked: blocked, logger: logger}
	// Redirects are re-checked so a public URL cannot bounce to a blocked host.
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= 5 {
			return errors.New("stopped after 5 redirects")
		}
		return t.checkHost(req.URL)
	}
	return t, nil
}

func (t *HTTPRequest) Name() string        { return "http_request" }
func (t *HTTPRequest) Description() string { return "Make an HTTP request to a URL." }
func (t *HTTPRequest) Tier() tools.Tier    { return tools.TierStandard }

func (t *HTTPRequest) Schema() *tools.ParameterSchema {
	return &tools.ParameterSchema{
		Type: "object",
		Properties: map[string]*tools.Property{
			"url":     {Type: "string", Description: "URL to request"},
			"method":  {Type: "string", Description: "HTTP method (GET, POST, PUT, DELETE)", Default: "GET"},
			"headers": {Type: "string", Description: "JSON string of headers"},
			"body":    {Type: "string", Description: "Request body"},
		},
		Required: []string{"url"},
	}
}

func (t *HTTPRequest) Execute(ctx context.Context, inputs map[string]any) (string, error) {
	rawURL := strings.TrimSpace(tools.StringInput(inputs, "url", ""))
	if rawURL == "" {
		return "", toolErr(t.Name(), "No URL provided")
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", toolErr(t.Name(), "Invalid URL: %s", rawURL)
	}
	if err := t.checkHost(u); err != nil {
		return "", err
	}

	headers := map[string]string{}
	if raw := tools.StringInput(inputs, "headers", ""); raw != "" {
		if err := json.Unmarshal([]byte(raw), &headers); err != nil {
			return "", toolErr(t.Name(), "Invalid headers JSON")
		}
	}

	method := strings.ToUpper(tools.StringInput(inputs, "method", http.MethodGet))
	var body io.Reader
	if b := tools.StringInput(inputs, "body", ""); b != "" {
		body = strings.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return "", toolErr(t.Name(), "Request failed: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		var toolError *tools.Error
		if errors.As(err, &toolError) {
			return "", toolError
		}
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return "", toolErr(t.Name(), "Request timed out after %ss", strconv.FormatFloat(t.timeout.Seconds(), 'f', -1, 64))
		}
		return "", toolErr(t.Name(), "Request failed: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", toolErr(t.Name(), "Request failed: %v", err)
	}

	t.logger.Debug("http_request completed", "method", method, "host", u.Hostname(), "status", resp.StatusCode)
	return fmt.Sprintf("Status: %d\n\n%s", resp.StatusCode, string(data)), nil
}

func (t *HTTPRequest) checkHost(u *url.URL) error {
	host := strings.ToLower(u.Hostname())
	if t.blocked[host] {
		return toolErr(t.Name(), "Blocked host: %s", host)
	}
	return nil
}
