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

package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// DiscoverPattern matches workflow files below a directory.
const DiscoverPattern = "**/*.{yaml,yml}"

// Discover returns the workflow files under dir, relative to dir and sorted.
// A missing directory yields no files.
func Discover(dir string) ([]string, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	}
	matches, err := doublestar.Glob(os.DirFS(dir), DiscoverPattern)
	if err != nil {
		return nil, fmt.Errorf("discovering workflows in %s: %w", dir, err)
	}
	for i, m := range matches {
		matches[i] = filepath.FromSlash(m)
	}
	sort.Strings(matches)
	return matches, nil
}
