package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/vjranagit/tsviz/pkg/types"
)

// ErrKeyNotFound is returned by a Backend when nothing is stored under a key
var ErrKeyNotFound = errors.New("key not found")

// Backend is a durable key-value store holding serialized blobs
type Backend interface {
	// Get returns the value stored under key
	Get(ctx context.Context, key string) ([]byte, error)

	// Set replaces the value stored under key
	Set(ctx context.Context, key string, value []byte) error

	// Close releases the backend
	Close() error
}

// Config holds storage configuration
type Config struct {
	Path             string
	CompressionLevel int
	// QuotaBytes caps the encoded size of a single value. Zero disables the cap.
	QuotaBytes int64
	InMemory   bool
}

// DefaultConfig returns default storage configuration
func DefaultConfig() *Config {
	return &Config{
		Path:             "./data",
		CompressionLevel: 3,
		QuotaBytes:       10 * 1000 * 1000,
	}
}

// badgerBackend implements Backend using BadgerDB
type badgerBackend struct {
	cfg        *Config
	db         *badger.DB
	compressor *Compressor
	mu         sync.RWMutex
}

// NewBadgerBackend opens a BadgerDB-backed store
func NewBadgerBackend(cfg *Config) (Backend, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	opts := badger.DefaultOptions(filepath.Join(cfg.Path, "badger"))
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil // Disable BadgerDB logging

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	compressor, err := NewCompressor(cfg.CompressionLevel)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create compressor: %w", err)
	}

	return &badgerBackend{
		cfg:        cfg,
		db:         db,
		compressor: compressor,
	}, nil
}

// Get implements Backend.Get
func (b *badgerBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	var encoded []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		encoded, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", key, err)
	}

	value, err := b.compressor.Decompress(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %q: %w", key, err)
	}
	return value, nil
}

// Set implements Backend.Set
func (b *badgerBackend) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	encoded := b.compressor.Compress(value)
	if b.cfg.QuotaBytes > 0 && int64(len(encoded)) > b.cfg.QuotaBytes {
		return fmt.Errorf("%w: %d bytes over a %d byte quota", types.ErrPersistenceQuotaExceeded, len(encoded), b.cfg.QuotaBytes)
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), encoded)
	})
	if errors.Is(err, badger.ErrTxnTooBig) {
		return fmt.Errorf("%w: %v", types.ErrPersistenceQuotaExceeded, err)
	}
	if err != nil {
		return fmt.Errorf("failed to write %q: %w", key, err)
	}
	return nil
}

// Close implements Backend.Close
func (b *badgerBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.compressor.Close()
	if b.db != nil {
		err := b.db.Close()
		b.db = nil
		return err
	}
	return nil
}

// memoryBackend keeps values in process memory. It enforces the same
// quota as the badger backend, measured on the raw value.
type memoryBackend struct {
	mu     sync.RWMutex
	quota  int64
	values map[string][]byte
}

// NewMemoryBackend creates a Backend that lives for the current process only
func NewMemoryBackend(quotaBytes int64) Backend {
	return &memoryBackend{
		quota:  quotaBytes,
		values: make(map[string][]byte),
	}
}

func (m *memoryBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.values[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *memoryBackend) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.quota > 0 && int64(len(value)) > m.quota {
		return fmt.Errorf("%w: %d bytes over a %d byte quota", types.ErrPersistenceQuotaExceeded, len(value), m.quota)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = append([]byte(nil), value...)
	return nil
}

func (m *memoryBackend) Close() error {
	return nil
}
