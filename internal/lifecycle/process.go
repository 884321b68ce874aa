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

package lifecycle

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

var (
	// ErrNotRunning is returned when the process does not exist.
	ErrNotRunning = errors.New("process not running")

	// ErrStopTimeout is returned when the process outlives the stop timeout.
	ErrStopTimeout = errors.New("process did not exit before the timeout")
)

// BinaryName is matched against a process command line to recognise corp.
const BinaryName = "corp"

// IsRunning reports whether a process with the given id exists.
func IsRunning(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// FindProcess always succeeds on Unix; signal 0 probes for existence.
	return proc.Signal(syscall.Signal(0)) == nil
}

// IsCorpProcess reports whether pid runs the corp binary. It guards against
// signalling an unrelated process that reused a stale PID.
func IsCorpProcess(pid int) bool {
	cmd, err := commandLine(pid)
	if err != nil || cmd == "" {
		return false
	}
	exe := strings.Fields(cmd)[0]
	return strings.HasPrefix(filepath.Base(exe), BinaryName) || strings.Contains(cmd, "/"+BinaryName+" ")
}

// Command returns the command line of pid, or "" when it cannot be read.
func Command(pid int) string {
	cmd, err := commandLine(pid)
	if err != nil {
		return ""
	}
	return cmd
}

// Stop sends SIGTERM and waits up to timeout for pid to exit. With force, a
// process still alive after the timeout is sent SIGKILL.
func Stop(pid int, timeout time.Duration, force bool) error {
	if !IsRunning(pid) {
		return ErrNotRunning
	}
	if err := signal(pid, syscall.SIGTERM); err != nil {
		return err
	}
	err := waitForExit(pid, timeout)
	if err == nil || !force {
		return err
	}
	if err := signal(pid, syscall.SIGKILL); err != nil {
		return err
	}
	if err := waitForExit(pid, 5*time.Second); err != nil {
		return fmt.Errorf("process %d survived SIGKILL: %w", pid, err)
	}
	return nil
}

func signal(pid int, sig syscall.Signal) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}
	if err := proc.Signal(sig); err != nil {
		return fmt.Errorf("sending %v to process %d: %w", sig, pid, err)
	}
	return nil
}

func waitForExit(pid int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !IsRunning(pid) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return ErrStopTimeout
}
