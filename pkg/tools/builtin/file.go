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
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tombee/opencorp/pkg/tools"
)

// maxFileBytes is the most file_reader returns from one file.
const maxFileBytes = 50 * 1024

// FileReader reads files inside the project directory.
type FileReader struct {
	root string
}

// NewFileReader creates the file_reader tool rooted at projectDir.
func NewFileReader(projectDir string) *FileReader {
	return &FileReader{root: projectDir}
}

func (f *FileReader) Name() string        { return "file_reader" }
func (f *FileReader) Description() string { return "Read a file within the project directory." }
func (f *FileReader) Tier() tools.Tier    { return tools.TierStandard }

func (f *FileReader) Schema() *tools.ParameterSchema {
	return &tools.ParameterSchema{
		Type: "object",
		Properties: map[string]*tools.Property{
			"path": {Type: "string", Description: "Relative path to the file within the project"},
		},
		Required: []string{"path"},
	}
}

func (f *FileReader) Execute(ctx context.Context, inputs map[string]any) (string, error) {
	path := tools.StringInput(inputs, "path", "")
	if path == "" {
		return "", toolErr(f.Name(), "No path provided")
	}
	if f.root == "" {
		return "", toolErr(f.Name(), "No project directory configured")
	}

	resolved, err := f.resolve(path)
	if err != nil {
		return "", toolErr(f.Name(), "Path '%s' is outside project directory", path)
	}

	info, err := os.Stat(resolved)
	if os.IsNotExist(err) {
		return "", toolErr(f.Name(), "File not found: %s", path)
	}
	if err != nil {
		return "", toolErr(f.Name(), "Cannot read file: %v", err)
	}
	if !info.Mode().IsRegular() {
		return "", toolErr(f.Name(), "Not a file: %s", path)
	}

	file, err := os.Open(resolved)
	if err != nil {
		return "", toolErr(f.Name(), "Cannot read file: %v", err)
	}
	defer file.Close()

	buf := make([]byte, maxFileBytes)
	n, err := io.ReadFull(file, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", toolErr(f.Name(), "Cannot read file: %v", err)
	}
	content := strings.ToValidUTF8(string(buf[:n]), "�")
	if info.Size() > maxFileBytes {
		return content + fmt.Sprintf("\n... (truncated, file is %d bytes)", info.Size()), nil
	}
	return content, nil
}

// resolve joins path onto the root and rejects anything that escapes it,
// including through symlinks.
func (f *FileReader) resolve(path string) (string, error) {
	root, err := filepath.Abs(f.root)
	if err != nil {
		return "", err
	}
	if realRoot, err := filepath.EvalSymlinks(root); err == nil {
		root = realRoot
	}

	target := path
	if !filepath.IsAbs(target) {
		target = filepath.Join(root, target)
	}
	target = filepath.Clean(target)
	if real, err := filepath.EvalSymlinks(target); err == nil {
		target = real
	}

	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes %s", root)
	}
	return target, nil
}
