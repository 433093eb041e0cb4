// Package store persists record collections. Every mutation reads the whole
// collection, changes it in memory and writes it back, so each Collection
// serializes its read-modify-write cycles behind a mutex.
package store

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
)

// Collection names
const (
	Keys          = "keys"
	Blacklist     = "blacklist"
	Progress      = "progress"
	Notifications = "notifications"
)

// ErrStorageUnavailable is returned when a collection cannot be read, decoded or written
var ErrStorageUnavailable = errors.New("storage unavailable")

// Backend stores one opaque document per collection
type Backend interface {
	// Load returns false when the collection has never been written
	Load(ctx context.Context, collection string) ([]byte, bool, error)
	Save(ctx context.Context, collection string, data []byte) error
	Close() error
}

// Collection is a typed, wholesale-replaced sequence of records
type Collection[T any] struct {
	name    string
	backend Backend
	mu      sync.Mutex
}

// NewCollection binds a collection name to a backend
func NewCollection[T any](backend Backend, name string) *Collection[T] {
	return &Collection[T]{name: name, backend: backend}
}

// Name returns the collection name
func (c *Collection[T]) Name() string {
	return c.name
}

// Load returns every record in stored order
func (c *Collection[T]) Load(ctx context.Context) ([]T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadLocked(ctx)
}

// Replace overwrites the whole collection
func (c *Collection[T]) Replace(ctx context.Context, records []T) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveLocked(ctx, records)
}

// Update runs fn against the current records and stores what it returns.
// No other Load, Replace or Update on this collection interleaves with it.
// If fn fails nothing is written and its error is returned as is.
func (c *Collection[T]) Update(ctx context.Context, fn func([]T) ([]T, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	records, err := c.loadLocked(ctx)
	if err != nil {
		return err
	}
	next, err := fn(records)
	if err != nil {
		return err
	}
	return c.saveLocked(ctx, next)
}

func (c *Collection[T]) loadLocked(ctx context.Context) ([]T, error) {
	data, ok, err := c.backend.Load(ctx, c.name)
	if err != nil {
		return nil, errors.WithMessagef(ErrStorageUnavailable, "load %s: %v", c.name, err)
	}
	if !ok {
		// first access initializes the collection
		empty := []T{}
		if err := c.saveLocked(ctx, empty); err != nil {
			return nil, err
		}
		return empty, nil
	}

	records := []T{}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, errors.WithMessagef(ErrStorageUnavailable, "decode %s: %v", c.name, err)
	}
	if records == nil {
		records = []T{}
	}
	return records, nil
}

func (c *Collection[T]) saveLocked(ctx context.Context, records []T) error {
	if records == nil {
		records = []T{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return errors.WithMessagef(ErrStorageUnavailable, "encode %s: %v", c.name, err)
	}
	if err := c.backend.Save(ctx, c.name, data); err != nil {
		return errors.WithMessagef(ErrStorageUnavailable, "save %s: %v", c.name, err)
	}
	return nil
}
