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

package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// Collection is a convenience handle that runs single operations in their
// own transaction. Use Store.Update when several operations must be atomic.
type Collection struct {
	store *Store
	name  string
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// Store returns the owning store.
func (c *Collection) Store() *Store { return c.store }

// Insert appends doc.
func (c *Collection) Insert(ctx context.Context, doc any) error {
	return c.store.Update(ctx, func(tx *Tx) error {
		_, err := tx.Insert(c.name, doc)
		return err
	})
}

// All decodes every document into out, which must point to a slice.
func (c *Collection) All(ctx context.Context, out any) error {
	var docs []Document
	err := c.store.View(ctx, func(tx *Tx) error {
		var err error
		docs, err = tx.All(c.name)
		return err
	})
	if err != nil {
		return err
	}
	return DecodeAll(docs, out)
}

// Search decodes documents whose field equals value into out.
func (c *Collection) Search(ctx context.Context, field string, value any, out any) error {
	var docs []Document
	err := c.store.View(ctx, func(tx *Tx) error {
		var err error
		docs, err = tx.Search(c.name, field, value)
		return err
	})
	if err != nil {
		return err
	}
	return DecodeAll(docs, out)
}

// RemoveWhere deletes matching documents.
func (c *Collection) RemoveWhere(ctx context.Context, pred func(Document) bool) (int, error) {
	var n int
	err := c.store.Update(ctx, func(tx *Tx) error {
		var err error
		n, err = tx.RemoveWhere(c.name, pred)
		return err
	})
	return n, err
}

// CountWhere returns how many documents match pred without removing them.
func (c *Collection) CountWhere(ctx context.Context, pred func(Document) bool) (int, error) {
	var n int
	err := c.store.View(ctx, func(tx *Tx) error {
		docs, err := tx.All(c.name)
		if err != nil {
			return err
		}
		for _, d := range docs {
			if pred(d) {
				n++
			}
		}
		return nil
	})
	return n, err
}

// Truncate deletes every document.
func (c *Collection) Truncate(ctx context.Context) error {
	return c.store.Update(ctx, func(tx *Tx) error {
		return tx.Truncate(c.name)
	})
}

// Count returns the number of documents.
func (c *Collection) Count(ctx context.Context) (int, error) {
	var n int
	err := c.store.View(ctx, func(tx *Tx) error {
		var err error
		n, err = tx.Count(c.name)
		return err
	})
	return n, err
}

// DecodeAll decodes docs, in order, into out (a pointer to a slice).
func DecodeAll(docs []Document, out any) error {
	buf := make([]byte, 0, 64*len(docs)+2)
	buf = append(buf, '[')
	for i, d := range docs {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, d.Body...)
	}
	buf = append(buf, ']')
	if err := json.Unmarshal(buf, out); err != nil {
		return fmt.Errorf("decoding documents: %w", err)
	}
	return nil
}
