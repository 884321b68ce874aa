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

// Package pricing caches per-model token prices and estimates call cost.
package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/tombee/opencorp/pkg/llm"
)

// Defaults applied to models missing from the cache, per million tokens.
const (
	DefaultPromptPerMillion     = 1.0
	DefaultCompletionPerMillion = 2.0
)

// ModelPrice is the price of one model in currency units per million tokens.
type ModelPrice struct {
	PromptPerMillion     float64 `json:"prompt_per_million"`
	CompletionPerMillion float64 `json:"completion_per_million"`
}

// cacheFile is the on-disk layout of the pricing cache.
type cacheFile struct {
	UpdatedAt time.Time             `json:"updated_at"`
	Models    map[string]ModelPrice `json:"models"`
}

// Cache holds model prices loaded from disk and refreshed from a ModelLister.
// Safe for concurrent use.
type Cache struct {
	path   string
	logger *slog.Logger

	// stalenessThreshold is how old prices can be before StalenessWarning reports it.
	stalenessThreshold time.Duration

	mu        sync.RWMutex
	loaded    bool
	updatedAt time.Time
	prices    map[string]ModelPrice
}

// NewCache creates a cache backed by path. Nothing is read until first use.
func NewCache(path string, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		path:               path,
		logger:             logger,
		stalenessThreshold: 30 * 24 * time.Hour,
		prices:             map[string]ModelPrice{},
	}
}

// Load reads the cache file. A missing or corrupt file leaves the cache empty.
func (c *Cache) Load() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadLocked()
}

func (c *Cache) loadLocked() {
	c.loaded = true
	c.prices = map[string]ModelPrice{}
	c.updatedAt = time.Time{}

	data, err := os.ReadFile(c.path)
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.Warn("failed to read pricing cache", "path", c.path, "error", err)
		}
		return
	}

	var f cacheFile
	if err := json.Unmarshal(data, &f); err != nil {
		c.logger.Warn("ignoring corrupt pricing cache", "path", c.path, "error", err)
		return
	}
	if f.Models != nil {
		c.prices = f.Models
	}
	c.updatedAt = f.UpdatedAt
}

func (c *Cache) ensureLoaded() {
	c.mu.RLock()
	loaded := c.loaded
	c.mu.RUnlock()
	if loaded {
		return
	}
	c.mu.Lock()
	if !c.loaded {
		c.loadLocked()
	}
	c.mu.Unlock()
}

// Refresh fetches current prices from lister and writes them to disk.
// On failure the previous prices stay in effect and the error is returned
// for display.
func (c *Cache) Refresh(ctx context.Context, lister llm.ModelLister) (int, error) {
	c.ensureLoaded()

	models, err := lister.ListModels(ctx)
	if err != nil {
		c.logger.Warn("pricing refresh failed, keeping cached prices", "error", err)
		return 0, fmt.Errorf("fetching model list: %w", err)
	}

	prices := make(map[string]ModelPrice, len(models))
	for _, m := range models {
		prices[m.ID] = ModelPrice{
			PromptPerMillion:     m.PromptPerMillion,
			CompletionPerMillion: m.CompletionPerMillion,
		}
	}
	now := time.Now().UTC()

	if err := writeAtomic(c.path, cacheFile{UpdatedAt: now, Models: prices}); err != nil {
		c.logger.Warn("failed to write pricing cache", "path", c.path, "error", err)
	}

	c.mu.Lock()
	c.prices = prices
	c.updatedAt = now
	c.mu.Unlock()

	c.logger.Info("pricing refreshed", "models", len(prices))
	return len(prices), nil
}

// Lookup returns the cached price for model.
func (c *Cache) Lookup(model string) (ModelPrice, bool) {
	c.ensureLoaded()
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.prices[model]
	return p, ok
}

// Estimate returns the cost of a call. Unpriced models use the defaults.
func (c *Cache) Estimate(model string, tokensIn, tokensOut int) float64 {
	p, ok := c.Lookup(model)
	if !ok {
		p = ModelPrice{PromptPerMillion: DefaultPromptPerMillion, CompletionPerMillion: DefaultCompletionPerMillion}
	}
	return (float64(tokensIn)*p.PromptPerMillion + float64(tokensOut)*p.CompletionPerMillion) / 1_000_000
}

// Models returns the cached model ids in sorted order.
func (c *Cache) Models() []string {
	c.ensureLoaded()
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.prices))
	for id := range c.prices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// UpdatedAt returns when prices were last refreshed, or the zero time.
func (c *Cache) UpdatedAt() time.Time {
	c.ensureLoaded()
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.updatedAt
}

// SetStalenessThreshold sets the age after which prices are considered stale.
func (c *Cache) SetStalenessThreshold(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stalenessThreshold = d
}

// StalenessWarning returns a user-facing warning when the cache is empty or
// older than the staleness threshold, and "" otherwise.
func (c *Cache) StalenessWarning() string {
	updated := c.UpdatedAt()
	if updated.IsZero() {
		return "no pricing data cached - costs use default estimates; run 'corp models refresh'"
	}
	c.mu.RLock()
	threshold := c.stalenessThreshold
	c.mu.RUnlock()

	age := time.Since(updated)
	if age > threshold {
		days := int(age.Hours() / 24)
		return fmt.Sprintf("pricing data is %d days old - consider updating with 'corp models refresh'", days)
	}
	return ""
}

func writeAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".pricing-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
