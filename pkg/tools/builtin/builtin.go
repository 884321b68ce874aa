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

// Package builtin contains the tools compiled into opencorp.
package builtin

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/tombee/opencorp/pkg/tools"
)

// DefaultBlockedHosts are refused by http_request regardless of configuration.
var DefaultBlockedHosts = []string{
	"localhost",
	"127.0.0.1",
	"0.0.0.0",
	"::1",
	"169.254.169.254",
	"metadata.google.internal",
}

// Options configures the built-in tools.
type Options struct {
	// ProjectDir confines file_reader and is the working directory of shell_exec.
	ProjectDir string

	// BlockedHosts overrides DefaultBlockedHosts when non-nil.
	BlockedHosts []string

	// HTTPTimeout bounds http_request. Default: 15s.
	HTTPTimeout time.Duration

	// ShellTimeout bounds shell_exec. Default: 30s.
	ShellTimeout time.Duration

	Logger *slog.Logger
}

// All returns every built-in tool configured with opts.
func All(opts Options) ([]tools.Tool, error) {
	if opts.BlockedHosts == nil {
		opts.BlockedHosts = DefaultBlockedHosts
	}
	if opts.HTTPTimeout <= 0 {
		opts.HTTPTimeout = 15 * time.Second
	}
	if opts.ShellTimeout <= 0 {
		opts.ShellTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	httpTool, err := NewHTTPRequest(opts.HTTPTimeout, opts.BlockedHosts, opts.Logger)
	if err != nil {
		return nil, err
	}

	return []tools.Tool{
		NewCalculator(),
		NewCurrentTime(time.Now),
		NewJSONTransform(),
		httpTool,
		NewFileReader(opts.ProjectDir),
		NewShellExec(opts.ProjectDir, opts.ShellTimeout),
	}, nil
}

// NewRegistry returns a registry with every built-in tool registered.
func NewRegistry(opts Options) (*tools.Registry, error) {
	all, err := All(opts)
	if err != nil {
		return nil, err
	}
	reg := tools.NewRegistry(opts.Logger)
	for _, t := range all {
		if err := reg.Register(t); err != nil {
			return nil, fmt.Errorf("registering %s: %w", t.Name(), err)
		}
	}
	return reg, nil
}

func toolErr(tool, format string, args ...any) error {
	return &tools.Error{Tool: tool, Message: fmt.Sprintf(format, args...)}
}
