package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/vjranagit/tsviz/pkg/store"
	"github.com/vjranagit/tsviz/pkg/types"
)

const (
	// DefaultKey is the fixed key the series blob is stored under
	DefaultKey = "uploadedSeries"

	// DefaultCeiling is the largest record payload, in bytes, that is persisted
	DefaultCeiling = 5000000
)

// seriesEntry is the stored form of one series. Records are only present
// for persisted series.
type seriesEntry struct {
	Index        int            `json:"index"`
	Source       string         `json:"source"`
	Name         string         `json:"name"`
	Color        string         `json:"color"`
	TimestampKey string         `json:"timestampKey"`
	DataKey      string         `json:"dataKey"`
	Timezone     string         `json:"timezone,omitempty"`
	Persisted    bool           `json:"persisted"`
	Records      []types.Record `json:"records,omitempty"`
}

// Gateway saves and restores the series store as a single blob
type Gateway struct {
	backend Backend
	key     string
	ceiling int
	logger  *slog.Logger
}

// NewGateway creates a gateway writing under key. Empty key and
// non-positive ceiling fall back to the defaults.
func NewGateway(backend Backend, key string, ceiling int, logger *slog.Logger) *Gateway {
	if key == "" {
		key = DefaultKey
	}
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		backend: backend,
		key:     key,
		ceiling: ceiling,
		logger:  logger,
	}
}

// Ceiling returns the persistence size ceiling in bytes
func (g *Gateway) Ceiling() int {
	return g.ceiling
}

// SizeOf returns the size of records in their stored form
func (g *Gateway) SizeOf(records []types.Record) (int, error) {
	if records == nil {
		records = []types.Record{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return 0, fmt.Errorf("failed to size records: %w", err)
	}
	return len(data), nil
}

// Fits reports whether records are small enough to be persisted
func (g *Gateway) Fits(records []types.Record) (bool, int, error) {
	size, err := g.SizeOf(records)
	if err != nil {
		return false, 0, err
	}
	return size <= g.ceiling, size, nil
}

// Save writes every series of s. Records are written only for persisted
// series. A quota failure leaves s untouched.
func (g *Gateway) Save(ctx context.Context, s *store.Store) error {
	list := s.List()
	entries := make(map[string]seriesEntry, len(list))
	for i, sr := range list {
		e := seriesEntry{
			Index:        i,
			Source:       sr.Source,
			Name:         sr.Name,
			Color:        sr.Color,
			TimestampKey: sr.TimestampKey,
			DataKey:      sr.DataKey,
			Timezone:     sr.Timezone,
			Persisted:    sr.Persisted,
		}
		if sr.Persisted {
			e.Records = sr.Records
		}
		entries[sr.ID] = e
	}

	blob, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to marshal series: %w", err)
	}

	if err := g.backend.Set(ctx, g.key, blob); err != nil {
		if errors.Is(err, types.ErrPersistenceQuotaExceeded) {
			g.logger.Warn("series not persisted", "key", g.key, "size", humanize.Bytes(uint64(len(blob))), "error", err)
		}
		return err
	}

	g.logger.Debug("series saved", "key", g.key, "series", len(entries), "size", humanize.Bytes(uint64(len(blob))))
	return nil
}

// Load restores a store from the backend. Series that were not persisted
// come back with their metadata and an empty record sequence.
func (g *Gateway) Load(ctx context.Context) (*store.Store, error) {
	s := store.New()

	blob, err := g.backend.Get(ctx, g.key)
	if errors.Is(err, ErrKeyNotFound) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}

	var entries map[string]seriesEntry
	if err := json.Unmarshal(blob, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode %q: %w", g.key, err)
	}

	ids := make([]string, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := entries[ids[i]], entries[ids[j]]
		if a.Index != b.Index {
			return a.Index < b.Index
		}
		return ids[i] < ids[j]
	})

	series := make([]types.Series, 0, len(ids))
	missing := 0
	for _, id := range ids {
		e := entries[id]
		records := []types.Record{}
		if e.Persisted && e.Records != nil {
			records = e.Records
		}
		if !e.Persisted {
			missing++
		}
		series = append(series, types.Series{
			ID:           id,
			Source:       e.Source,
			Name:         e.Name,
			Color:        e.Color,
			TimestampKey: e.TimestampKey,
			DataKey:      e.DataKey,
			Timezone:     e.Timezone,
			Persisted:    e.Persisted,
			Records:      records,
			Enabled:      true,
		})
	}
	s.Restore(series)

	g.logger.Info("series restored", "key", g.key, "series", len(series), "awaiting_upload", missing)
	return s, nil
}
