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

/*
Package lifecycle manages the daemon process: its PID file, detached
spawning and signalling.

The PID file is created with O_EXCL and held under an exclusive flock for
the life of the daemon, so a second daemon for the same project fails fast:

	pf, err := lifecycle.Acquire(filepath.Join(dataDir, "daemon.pid"))
	if err != nil {
	    // another daemon holds the lock
	}
	defer pf.Release()

A PID file left behind by a crashed daemon holds no lock and is replaced.

Stop sends SIGTERM and waits; the daemon shuts its scheduler down on the
signal and releases the file:

	pid, err := lifecycle.ReadPID(path)
	if err == nil && lifecycle.IsCorpProcess(pid) {
	    err = lifecycle.Stop(pid, 10*time.Second, false)
	}
*/
package lifecycle
