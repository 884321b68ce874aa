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
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/tombee/opencorp/pkg/tools"
)

// ShellExec runs a command through sh in the project directory.
type ShellExec struct {
	dir     string
	timeout time.Duration
}

// NewShellExec creates the shell_exec tool.
func NewShellExec(projectDir string, timeout time.Duration) *ShellExec {
	return &ShellExec{dir: projectDir, timeout: timeout}
}

func (s *ShellExec) Name() string { return "shell_exec" }

func (s *ShellExec) Description() string {
	return "Execute a shell command in the project directory."
}

func (s *ShellExec) Tier() tools.Tier { return tools.TierPrivileged }

func (s *ShellExec) Schema() *tools.ParameterSchema {
	return &tools.ParameterSchema{
		Type: "object",
		Properties: map[string]*tools.Property{
			"command": {Type: "string", Description: "Shell command to execute"},
		},
		Required: []string{"command"},
	}
}

func (s *ShellExec) Execute(ctx context.Context, inputs map[string]any) (string, error) {
	command := tools.StringInput(inputs, "command", "")
	if strings.TrimSpace(command) == "" {
		return "", toolErr(s.Name(), "No command provided")
	}
	if s.dir == "" {
		return "", toolErr(s.Name(), "No project directory configured")
	}

	execCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "sh", "-c", command)
	cmd.Dir = s.dir
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		return "", toolErr(s.Name(), "Command timed out after %ss", strconv.FormatFloat(s.timeout.Seconds(), 'f', -1, 64))
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return "", toolErr(s.Name(), "Execution failed: %v", err)
		}
		exitCode = exitErr.ExitCode()
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Exit code: %d\n", exitCode)
	if stdout.Len() > 0 {
		fmt.Fprintf(&out, "stdout:\n%s\n", stdout.String())
	}
	if stderr.Len() > 0 {
		fmt.Fprintf(&out, "stderr:\n%s\n", stderr.String())
	}
	return strings.TrimSpace(out.String()), nil
}
