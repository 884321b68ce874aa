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

// Package store provides the document store shared by the budget ledger,
// event log, workflow run history and scheduler.
//
// A store is a single SQLite file holding insertion-ordered JSON documents
// grouped into named collections. Every distinct file maps to exactly one
// *Store per Manager, and every operation on a Store runs under that store's
// mutex, so a read-modify-write inside Update is atomic with respect to all
// other callers of the same file.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Manager owns the open stores, keyed by canonical path.
type Manager struct {
	mu     sync.Mutex
	stores map[string]*Store
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{stores: make(map[string]*Store)}
}

// Open returns the store for path, opening it on first use. Paths that
// resolve to the same file return the same *Store.
func (m *Manager) Open(path string) (*Store, error) {
	canon, err := canonicalPath(path)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.stores[canon]; ok {
		return s, nil
	}

	s, err := open(canon)
	if err != nil {
		return nil, err
	}
	m.stores[canon] = s
	return s, nil
}

// Close closes every store opened through m.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for path, s := range m.stores {
		if err := s.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", path, err))
		}
		delete(m.stores, path)
	}
	return errors.Join(errs...)
}

func canonicalPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving store path: %w", err)
	}
	dir, file := filepath.Split(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating store directory: %w", err)
	}
	// Resolve symlinks on the directory so aliases of the same file collapse.
	if real, err := filepath.EvalSymlinks(dir); err == nil {
		dir = real
	}
	return filepath.Join(dir, file), nil
}

// Store is one SQLite-backed document file.
type Store struct {
	path string
	db   *sql.DB
	mu   sync.Mutex
}

func open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writes; the store mutex already serializes callers.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{path: path, db: db}
	if err := s.configurePragmas(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure pragmas: %w", err)
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

func (s *Store) configurePragmas(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA journal_mode=WAL",
	}
	for _, pragma := range pragmas {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			collection TEXT NOT NULL,
			body TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection, seq)`,
	}
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Path returns the canonical file path.
func (s *Store) Path() string { return s.path }

// Update runs fn inside a write transaction while holding the store lock.
// The transaction commits when fn returns nil.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&Tx{ctx: ctx, tx: sqlTx}); err != nil {
		sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// View runs fn inside a transaction that is always rolled back, while holding
// the store lock.
func (s *Store) View(ctx context.Context, fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer sqlTx.Rollback()
	return fn(&Tx{ctx: ctx, tx: sqlTx})
}

// Collection returns a handle on a named collection in s.
func (s *Store) Collection(name string) *Collection {
	return &Collection{store: s, name: name}
}

// Document is one stored record.
type Document struct {
	Seq  int64
	Body json.RawMessage
}

// Decode unmarshals the document body into v.
func (d Document) Decode(v any) error {
	return json.Unmarshal(d.Body, v)
}

// Fields decodes the body into a generic map for predicate checks.
func (d Document) Fields() map[string]any {
	var m map[string]any
	if err := json.Unmarshal(d.Body, &m); err != nil {
		return nil
	}
	return m
}

// String returns the named top-level field as a string, or "".
func (d Document) String(field string) string {
	s, _ := d.Fields()[field].(string)
	return s
}

var fieldName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func checkField(field string) error {
	if !fieldName.MatchString(field) {
		return fmt.Errorf("invalid field name %q", field)
	}
	return nil
}

// Tx is the set of operations available inside Update and View.
type Tx struct {
	ctx context.Context
	tx  *sql.Tx
}

// Insert appends doc (JSON-encoded) to collection.
func (t *Tx) Insert(collection string, doc any) (int64, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return 0, fmt.Errorf("encoding document: %w", err)
	}
	res, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO documents (collection, body) VALUES (?, ?)`, collection, string(body))
	if err != nil {
		return 0, fmt.Errorf("inserting into %s: %w", collection, err)
	}
	return res.LastInsertId()
}

// Replace overwrites the body of the document with the given sequence number.
func (t *Tx) Replace(collection string, seq int64, doc any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding document: %w", err)
	}
	_, err = t.tx.ExecContext(t.ctx,
		`UPDATE documents SET body = ? WHERE collection = ? AND seq = ?`, string(body), collection, seq)
	if err != nil {
		return fmt.Errorf("updating %s: %w", collection, err)
	}
	return nil
}

// All returns every document in collection in insertion order.
func (t *Tx) All(collection string) ([]Document, error) {
	return t.query(`SELECT seq, body FROM documents WHERE collection = ? ORDER BY seq`, collection)
}

// Search returns documents whose top-level field equals value.
func (t *Tx) Search(collection, field string, value any) ([]Document, error) {
	if err := checkField(field); err != nil {
		return nil, err
	}
	return t.query(`SELECT seq, body FROM documents
		WHERE collection = ? AND json_extract(body, ?) = ? ORDER BY seq`,
		collection, "$."+field, value)
}

// RemoveWhere deletes every document for which pred returns true and
// reports how many were removed.
func (t *Tx) RemoveWhere(collection string, pred func(Document) bool) (int, error) {
	docs, err := t.All(collection)
	if err != nil {
		return 0, err
	}
	var seqs []any
	for _, d := range docs {
		if pred(d) {
			seqs = append(seqs, d.Seq)
		}
	}
	if len(seqs) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(seqs)), ",")
	args := append([]any{collection}, seqs...)
	res, err := t.tx.ExecContext(t.ctx,
		`DELETE FROM documents WHERE collection = ? AND seq IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("removing from %s: %w", collection, err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Truncate deletes every document in collection.
func (t *Tx) Truncate(collection string) error {
	_, err := t.tx.ExecContext(t.ctx, `DELETE FROM documents WHERE collection = ?`, collection)
	if err != nil {
		return fmt.Errorf("truncating %s: %w", collection, err)
	}
	return nil
}

// SumWhere sums a numeric field over documents whose match field equals value.
func (t *Tx) SumWhere(collection, sumField, matchField string, value any) (float64, error) {
	if err := checkField(sumField); err != nil {
		return 0, err
	}
	if err := checkField(matchField); err != nil {
		return 0, err
	}
	var total float64
	err := t.tx.QueryRowContext(t.ctx, `SELECT COALESCE(SUM(json_extract(body, ?)), 0.0) FROM documents
		WHERE collection = ? AND json_extract(body, ?) = ?`,
		"$."+sumField, collection, "$."+matchField, value).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("summing %s.%s: %w", collection, sumField, err)
	}
	return total, nil
}

// Count returns the number of documents in collection.
func (t *Tx) Count(collection string) (int, error) {
	var n int
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT COUNT(*) FROM documents WHERE collection = ?`, collection).Scan(&n)
	return n, err
}

func (t *Tx) query(q string, args ...any) ([]Document, error) {
	rows, err := t.tx.QueryContext(t.ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		var body string
		if err := rows.Scan(&d.Seq, &body); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		d.Body = json.RawMessage(body)
		docs = append(docs, d)
	}
	return docs, rows.Err()
}
