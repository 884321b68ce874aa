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

// Package daemon runs the long-lived background process: the scheduler,
// periodic housekeeping and a watch on charter.yaml.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/tombee/opencorp/internal/config"
	"github.com/tombee/opencorp/internal/lifecycle"
	"github.com/tombee/opencorp/internal/log"
)

// PIDFile and LogFile live in the project data directory.
const (
	PIDFile = "daemon.pid"
	LogFile = "daemon.log"
)

// DefaultHousekeepingInterval is how often retention runs.
const DefaultHousekeepingInterval = 24 * time.Hour

// PIDPath returns the PID file location for p.
func PIDPath(p *config.Project) string { return filepath.Join(p.DataDir(), PIDFile) }

// LogPath returns the detached daemon's output file for p.
func LogPath(p *config.Project) string { return filepath.Join(p.DataDir(), LogFile) }

// Scheduler is the part of the scheduler the daemon drives.
type Scheduler interface {
	Start(ctx context.Context) error
	Stop()
	Reload(ctx context.Context) error
}

// Housekeeper applies the retention policy.
type Housekeeper interface {
	RunAll(ctx context.Context) map[string]int
}

// Daemon owns the background components for one project.
type Daemon struct {
	project     *config.Project
	scheduler   Scheduler
	housekeeper Housekeeper
	logger      *slog.Logger
	interval    time.Duration
	debounce    time.Duration
	watch       bool

	mu      sync.Mutex
	started bool
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Daemon) { d.logger = logger }
}

// WithHousekeepingInterval overrides DefaultHousekeepingInterval. Zero
// disables periodic housekeeping.
func WithHousekeepingInterval(interval time.Duration) Option {
	return func(d *Daemon) { d.interval = interval }
}

// WithCharterWatch enables or disables reloading on charter.yaml changes.
func WithCharterWatch(enabled bool) Option {
	return func(d *Daemon) { d.watch = enabled }
}

// WithDebounce sets how long charter.yaml must be quiet before a reload.
func WithDebounce(window time.Duration) Option {
	return func(d *Daemon) { d.debounce = window }
}

// New creates a daemon. hk may be nil.
func New(p *config.Project, sched Scheduler, hk Housekeeper, opts ...Option) *Daemon {
	d := &Daemon{
		project:     p,
		scheduler:   sched,
		housekeeper: hk,
		logger:      slog.Default(),
		interval:    DefaultHousekeepingInterval,
		debounce:    500 * time.Millisecond,
		watch:       true,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = log.WithComponent(d.logger, "daemon")
	return d
}

// Run holds the PID file, starts the scheduler and blocks until ctx is
// cancelled. Shutdown stops the scheduler, waiting for in-flight tasks, and
// releases the PID file.
func (d *Daemon) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return errors.New("daemon already started")
	}
	d.started = true
	d.mu.Unlock()

	pf, err := lifecycle.Acquire(PIDPath(d.project))
	if err != nil {
		return err
	}
	defer pf.Release()

	if err := d.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	defer d.scheduler.Stop()

	var wg sync.WaitGroup
	if d.housekeeper != nil && d.interval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.housekeepLoop(ctx)
		}()
	}
	if d.watch {
		w, err := newCharterWatcher(d.project.Dir, d.debounce, func() { d.charterChanged(ctx) }, d.logger)
		if err != nil {
			d.logger.Warn("charter watch disabled", log.Error(err))
		} else {
			defer w.Close()
		}
	}

	d.logger.Info("daemon started", "project", d.project.Dir, "pid_file", pf.Path())
	<-ctx.Done()
	d.logger.Info("daemon stopping")
	wg.Wait()
	return nil
}

func (d *Daemon) housekeepLoop(ctx context.Context) {
	d.housekeeper.RunAll(ctx)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.housekeeper.RunAll(ctx)
		}
	}
}

// charterChanged validates the new charter and resyncs scheduled tasks. An
// invalid charter is logged and the running configuration is kept.
func (d *Daemon) charterChanged(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := config.LoadCharter(d.project.Dir); err != nil {
		d.logger.Error("charter.yaml changed but is invalid", log.Error(err))
		return
	}
	if err := d.scheduler.Reload(ctx); err != nil {
		d.logger.Error("failed to reload scheduled tasks", log.Error(err))
		return
	}
	d.logger.Info("charter changed, scheduled tasks reloaded")
}
