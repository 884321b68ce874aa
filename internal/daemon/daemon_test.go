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

package daemon

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/opencorp/internal/config"
	"github.com/tombee/opencorp/internal/lifecycle"
	internallog "github.com/tombee/opencorp/internal/log"
	"github.com/tombee/opencorp/internal/testing/fixture"
)

type fakeScheduler struct {
	started, stopped, reloaded atomic.Int32
}

func (f *fakeScheduler) Start(ctx context.Context) error  { f.started.Add(1); return nil }
func (f *fakeScheduler) Stop()                            { f.stopped.Add(1) }
func (f *fakeScheduler) Reload(ctx context.Context) error { f.reloaded.Add(1); return nil }

type fakeHousekeeper struct{ runs atomic.Int32 }

func (f *fakeHousekeeper) RunAll(ctx context.Context) map[string]int {
	f.runs.Add(1)
	return map[string]int{}
}

func start(t *testing.T, d *Daemon) (cancel func() error) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()
	return func() error {
		stop()
		select {
		case err := <-errCh:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("daemon did not stop")
			return nil
		}
	}
}

func TestRunLifecycle(t *testing.T) {
	p := fixture.NewProject(t, fixture.Spec{})
	sched := &fakeScheduler{}
	hk := &fakeHousekeeper{}
	d := New(p, sched, hk,
		WithLogger(internallog.Discard()),
		WithHousekeepingInterval(20*time.Millisecond),
		WithCharterWatch(false),
	)

	stop := start(t, d)
	assert.Eventually(t, func() bool { return hk.runs.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)

	pid, err := lifecycle.ReadPID(PIDPath(p))
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	assert.Equal(t, int32(1), sched.started.Load())

	require.NoError(t, stop())
	assert.Equal(t, int32(1), sched.stopped.Load())
	_, err = os.Stat(PIDPath(p))
	assert.True(t, os.IsNotExist(err), "pid file removed on shutdown")

	err = d.Run(context.Background())
	assert.Error(t, err, "a daemon runs once")
}

func TestRunRefusesSecondDaemon(t *testing.T) {
	p := fixture.NewProject(t, fixture.Spec{})
	pf, err := lifecycle.Acquire(PIDPath(p))
	require.NoError(t, err)
	defer pf.Release()

	// The lock is held by this process, so the file is not stale.
	d := New(p, &fakeScheduler{}, nil, WithLogger(internallog.Discard()), WithCharterWatch(false))
	err = d.Run(context.Background())
	require.Error(t, err)
}

func TestCharterChangeReloadsScheduler(t *testing.T) {
	p := fixture.NewProject(t, fixture.Spec{})
	sched := &fakeScheduler{}
	d := New(p, sched, nil,
		WithLogger(internallog.Discard()),
		WithDebounce(20*time.Millisecond),
	)
	stop := start(t, d)
	defer stop()

	charter := filepath.Join(p.Dir, config.CharterFile)
	require.Eventually(t, func() bool { return sched.started.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, os.WriteFile(charter, []byte(fixture.Charter), 0o644))
	assert.Eventually(t, func() bool { return sched.reloaded.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)

	before := sched.reloaded.Load()
	require.NoError(t, os.WriteFile(charter, []byte("budget: [broken"), 0o644))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, before, sched.reloaded.Load(), "invalid charter does not reload")
}
