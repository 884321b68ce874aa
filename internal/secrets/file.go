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

package secrets

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"

	"github.com/tombee/opencorp/internal/registry"
)

// MasterKeyEnv holds the passphrase for the encrypted secrets file.
const MasterKeyEnv = "OPENCORP_MASTER_KEY"

const (
	secretsFileName   = "secrets.enc"
	masterKeyFileName = "master.key"

	argon2Time        = 3
	argon2Memory      = 64 * 1024
	argon2Parallelism = 4
	argon2KeyLength   = 32
	saltSize          = 16
)

// FileBackend stores secrets in a JSON document sealed with AES-256-GCM.
// The key is derived with argon2id from a master key taken from
// OPENCORP_MASTER_KEY or a master.key file (mode 0600) next to the
// operations registry. Without a master key the backend is unavailable.
type FileBackend struct {
	path      string
	masterKey []byte
	mu        sync.RWMutex
}

type sealedFile struct {
	Salt  []byte `json:"salt"`
	Nonce []byte `json:"nonce"`
	Data  []byte `json:"data"`
}

// NewFileBackend opens the backend at path, or secrets.enc in the opencorp
// home directory when path is empty. An empty masterKey is resolved from
// the environment and then the master key file.
func NewFileBackend(path, masterKey string) *FileBackend {
	dir, err := registry.DefaultDir()
	if path == "" && err == nil {
		path = filepath.Join(dir, secretsFileName)
	}
	f := &FileBackend{path: path}
	if path == "" {
		return f
	}
	if masterKey == "" {
		masterKey = os.Getenv(MasterKeyEnv)
	}
	if masterKey == "" && err == nil {
		masterKey = readMasterKeyFile(filepath.Join(dir, masterKeyFileName))
	}
	if masterKey != "" {
		f.masterKey = []byte(masterKey)
	}
	return f
}

func readMasterKeyFile(path string) string {
	info, err := os.Lstat(path)
	if err != nil || !info.Mode().IsRegular() || info.Mode().Perm()&0o077 != 0 {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// Name returns the backend identifier.
func (f *FileBackend) Name() string {
	return "file"
}

// Path returns the location of the encrypted file.
func (f *FileBackend) Path() string {
	return f.path
}

// Available reports whether a master key was found.
func (f *FileBackend) Available() bool {
	return len(f.masterKey) > 0
}

// Get decrypts the file and returns key.
func (f *FileBackend) Get(_ context.Context, key string) (string, error) {
	if !f.Available() {
		return "", fmt.Errorf("%w: master key not set (%s)", ErrBackendUnavailable, MasterKeyEnv)
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	values, err := f.load()
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, key)
	}
	if err != nil {
		return "", err
	}
	value, ok := values[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, key)
	}
	return value, nil
}

// Set stores key and re-seals the file with a fresh salt and nonce.
func (f *FileBackend) Set(_ context.Context, key, value string) error {
	if !f.Available() {
		return fmt.Errorf("%w: master key not set (%s)", ErrBackendUnavailable, MasterKeyEnv)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.load()
	if errors.Is(err, os.ErrNotExist) {
		values = map[string]string{}
	} else if err != nil {
		return err
	}
	values[key] = value
	return f.save(values)
}

func (f *FileBackend) load() (map[string]string, error) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return nil, err
	}
	var sealed sealedFile
	if err := json.Unmarshal(raw, &sealed); err != nil {
		return nil, fmt.Errorf("reading %s: %w", f.path, err)
	}
	gcm, err := f.cipher(sealed.Salt)
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, sealed.Nonce, sealed.Data, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting %s (wrong master key or corrupted file): %w", f.path, err)
	}
	defer clear(plain)

	values := map[string]string{}
	if err := json.Unmarshal(plain, &values); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", f.path, err)
	}
	return values, nil
}

func (f *FileBackend) save(values map[string]string) error {
	plain, err := json.Marshal(values)
	if err != nil {
		return err
	}
	defer clear(plain)

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generating salt: %w", err)
	}
	gcm, err := f.cipher(salt)
	if err != nil {
		return err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generating nonce: %w", err)
	}

	out, err := json.Marshal(sealedFile{Salt: salt, Nonce: nonce, Data: gcm.Seal(nil, nonce, plain, nil)})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("creating secrets directory: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o600); err != nil {
		return fmt.Errorf("writing secrets: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing secrets: %w", err)
	}
	return nil
}

func (f *FileBackend) cipher(salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey(f.masterKey, salt, argon2Time, argon2Memory, argon2Parallelism, argon2KeyLength)
	defer clear(key)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
