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

package worker

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/tombee/opencorp/internal/config"
)

// readJSONList reads a JSON array file. A missing file is empty; a corrupt
// one is renamed to <path>.corrupt and treated as empty.
func readJSONList[T any](path string, logger *slog.Logger) []T {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var out []T
	if err := json.Unmarshal(data, &out); err != nil {
		logger.Warn("moving corrupt worker file aside", "path", path, "error", err)
		if rerr := os.Rename(path, path+".corrupt"); rerr != nil {
			logger.Warn("could not move corrupt file", "path", path, "error", rerr)
		}
		return nil
	}
	return out
}

// appendJSONList re-reads the file under its lock, appends entry and writes
// it back atomically. It returns the stored list. Two workflow nodes may run
// the same worker at once, so the lock comes from the project.
func appendJSONList[T any](locks *config.FileLocks, path string, entry T, logger *slog.Logger) ([]T, error) {
	unlock := locks.Lock(path)
	defer unlock()

	list := readJSONList[T](path, logger)
	list = append(list, entry)
	if err := writeJSONAtomic(path, list); err != nil {
		return nil, err
	}
	return list, nil
}

// TrimJSONList keeps only the newest keep entries of a JSON array file and
// returns how many were removed.
func TrimJSONList(locks *config.FileLocks, path string, keep int, logger *slog.Logger) (int, error) {
	unlock := locks.Lock(path)
	defer unlock()

	list := readJSONList[json.RawMessage](path, logger)
	if keep < 0 || len(list) <= keep {
		return 0, nil
	}
	removed := len(list) - keep
	if err := writeJSONAtomic(path, list[removed:]); err != nil {
		return 0, err
	}
	return removed, nil
}

// CountJSONList returns the number of entries in a JSON array file. A
// missing file counts as empty.
func CountJSONList(locks *config.FileLocks, path string) (int, error) {
	unlock := locks.Lock(path)
	defer unlock()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}
	var list []json.RawMessage
	if err := json.Unmarshal(data, &list); err != nil {
		return 0, fmt.Errorf("decoding %s: %w", filepath.Base(path), err)
	}
	return len(list), nil
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return nil
}

func (w *Worker) timestamp() string {
	return w.now().UTC().Format(time.RFC3339Nano)
}

// UpdateMemory appends an entry to memory.json.
func (w *Worker) UpdateMemory(kind, content string) error {
	entry := MemoryEntry{Timestamp: w.timestamp(), Type: kind, Content: content}
	list, err := appendJSONList(w.locks, filepath.Join(w.Dir, MemoryFile), entry, w.logger)
	if err != nil {
		return err
	}
	w.Memory = list
	return nil
}

// RecordPerformance appends a task outcome to performance.json. A nil
// rating records an unrated task.
func (w *Worker) RecordPerformance(task, result string, rating *int) error {
	entry := PerformanceEntry{Timestamp: w.timestamp(), Task: task, Result: result, Rating: rating}
	list, err := appendJSONList(w.locks, filepath.Join(w.Dir, PerformanceFile), entry, w.logger)
	if err != nil {
		return err
	}
	w.Performance = list
	return nil
}
