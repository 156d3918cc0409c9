// Package upload runs the upload and key-selection flow. Only one upload
// can be awaiting its key selection at a time.
package upload

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/vjranagit/tsviz/pkg/mapper"
	"github.com/vjranagit/tsviz/pkg/store"
	"github.com/vjranagit/tsviz/pkg/types"
)

// Sizer decides whether records are small enough to be persisted
type Sizer interface {
	Fits(records []types.Record) (bool, int, error)
}

// Pending describes an upload waiting for its key selection
type Pending struct {
	Token    string       `json:"token"`
	FileName string       `json:"fileName"`
	Shape    mapper.Shape `json:"shape"`
	Keys     []string     `json:"keys"`
	Records  int          `json:"records"`

	doc *mapper.Document
}

// Uploader commits uploads into a store
type Uploader struct {
	store   *store.Store
	sizer   Sizer
	sources *SourceCache
	logger  *slog.Logger

	mu      sync.Mutex
	pending *Pending
}

// New creates an uploader committing into s
func New(s *store.Store, sizer Sizer, sources *SourceCache, logger *slog.Logger) *Uploader {
	if sources == nil {
		sources = NewSourceCache(0, 0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Uploader{
		store:   s,
		sizer:   sizer,
		sources: sources,
		logger:  logger,
	}
}

// Begin parses an uploaded file and reserves the selection slot. Parse
// errors leave the slot free.
func (u *Uploader) Begin(fileName string, data []byte) (Pending, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.pending != nil {
		return Pending{}, fmt.Errorf("%w: %s", types.ErrUploadInProgress, u.pending.FileName)
	}
	if strings.TrimSpace(fileName) == "" {
		return Pending{}, fmt.Errorf("%w: file name is required", types.ErrMalformedInput)
	}

	doc, err := mapper.Parse(data)
	if err != nil {
		return Pending{}, err
	}

	u.pending = &Pending{
		Token:    uuid.NewString(),
		FileName: fileName,
		Shape:    doc.Shape,
		Keys:     doc.Keys(),
		Records:  doc.Len(),
		doc:      doc,
	}

	u.logger.Info("upload pending", "file", fileName, "shape", doc.Shape.String(), "records", doc.Len(), "size", humanize.Bytes(uint64(len(data))))
	return *u.pending, nil
}

// Current returns the pending upload, if any
func (u *Uploader) Current() (Pending, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.pending == nil {
		return Pending{}, false
	}
	return *u.pending, true
}

// Confirm applies sel to the pending upload and commits the resulting
// series. On error the store is unchanged and the upload stays pending.
func (u *Uploader) Confirm(token string, sel types.Selection) ([]types.Series, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.pending == nil || u.pending.Token != token {
		return nil, types.ErrNoPendingUpload
	}

	p := u.pending
	series, err := u.commit(p.FileName, p.doc, sel)
	if err != nil {
		return nil, err
	}

	u.sources.Put(p.FileName, p.doc)
	u.pending = nil
	return series, nil
}

// Cancel drops the pending upload without touching the store
func (u *Uploader) Cancel(token string) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.pending == nil || u.pending.Token != token {
		return types.ErrNoPendingUpload
	}

	u.logger.Info("upload canceled", "file", u.pending.FileName)
	u.pending = nil
	return nil
}

// Reselect re-projects a file uploaded earlier in this session with a new
// key selection. Files not held in the session cache must be uploaded again.
func (u *Uploader) Reselect(fileName string, sel types.Selection) ([]types.Series, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.pending != nil {
		return nil, fmt.Errorf("%w: %s", types.ErrUploadInProgress, u.pending.FileName)
	}

	doc, ok := u.sources.Get(fileName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrSourceUnavailable, fileName)
	}
	return u.commit(fileName, doc, sel)
}

// RemoveFile deletes every series of fileName and forgets its cached
// source. It returns the number of series removed.
func (u *Uploader) RemoveFile(fileName string) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	removed := 0
	for _, sr := range u.store.List() {
		if sr.Source == fileName {
			u.store.Remove(sr.ID)
			removed++
		}
	}
	u.sources.Remove(fileName)

	if removed == 0 {
		return 0, fmt.Errorf("%w: no series from %s", types.ErrSeriesNotFound, fileName)
	}
	u.logger.Info("file removed", "file", fileName, "series", removed)
	return removed, nil
}

// SourceStats reports on the session cache of uploaded files
func (u *Uploader) SourceStats() CacheStats {
	return u.sources.Stats()
}

// Import runs Begin and Confirm in one step, for non-interactive callers.
func (u *Uploader) Import(fileName string, data []byte, sel types.Selection) ([]types.Series, error) {
	p, err := u.Begin(fileName, data)
	if err != nil {
		return nil, err
	}

	series, err := u.Confirm(p.Token, sel)
	if err != nil {
		_ = u.Cancel(p.Token)
		return nil, err
	}
	return series, nil
}

// commit builds every series before touching the store, so a failure
// never leaves a partial upload behind. Must hold u.mu.
func (u *Uploader) commit(fileName string, doc *mapper.Document, sel types.Selection) ([]types.Series, error) {
	series, err := mapper.Build(fileName, doc, sel)
	if err != nil {
		return nil, err
	}

	for _, sr := range series {
		if existing, ok := u.store.Get(sr.ID); ok && existing.Source != fileName {
			return nil, fmt.Errorf("%w: %q belongs to %s", types.ErrSeriesIDConflict, sr.ID, existing.Source)
		}
	}

	for i := range series {
		sr := &series[i]

		fits, size, err := u.sizer.Fits(sr.Records)
		if err != nil {
			return nil, err
		}
		sr.Persisted = fits
		if !fits {
			u.logger.Warn("series too large to persist, it will need to be uploaded again next session",
				"series", sr.ID, "size", humanize.Bytes(uint64(size)))
		}

		if existing, ok := u.store.Get(sr.ID); ok {
			sr.Name = existing.Name
			sr.Color = existing.Color
			sr.Enabled = existing.Enabled
		}
	}

	keep := make(map[string]struct{}, len(series))
	for _, sr := range series {
		keep[sr.ID] = struct{}{}
		u.store.Upsert(sr)
	}

	// Drop series of this file that the new selection no longer produces
	for _, sr := range u.store.List() {
		if _, ok := keep[sr.ID]; ok {
			continue
		}
		if sr.Source == fileName {
			u.store.Remove(sr.ID)
		}
	}

	u.logger.Info("upload committed", "file", fileName, "series", len(series))
	return series, nil
}
