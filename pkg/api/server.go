package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/vjranagit/tsviz/internal/app"
	"github.com/vjranagit/tsviz/pkg/types"
)

// maxUploadBytes bounds a single uploaded document
const maxUploadBytes = 64 << 20

// Server implements the HTTP API server
type Server struct {
	app     *app.App
	addr    string
	timeout time.Duration
	logger  *slog.Logger
	server  *http.Server
}

// NewServer creates a new API server
func NewServer(addr string, a *app.App) *Server {
	timeout := a.Config.Server.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Server{
		app:     a,
		addr:    addr,
		timeout: timeout,
		logger:  a.Logger.With("component", "api"),
	}
}

// Handler returns the routed API handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/uploads", s.handleUpload)
	mux.HandleFunc("GET /api/v1/uploads/current", s.handleCurrentUpload)
	mux.HandleFunc("POST /api/v1/uploads/{token}/confirm", s.handleConfirm)
	mux.HandleFunc("DELETE /api/v1/uploads/{token}", s.handleCancel)

	mux.HandleFunc("GET /api/v1/series", s.handleListSeries)
	mux.HandleFunc("PATCH /api/v1/series/{id}", s.handleEditSeries)
	mux.HandleFunc("DELETE /api/v1/series/{id}", s.handleDeleteSeries)
	mux.HandleFunc("POST /api/v1/series/{file}/reselect", s.handleReselect)
	mux.HandleFunc("DELETE /api/v1/files/{file}", s.handleDeleteFile)

	mux.HandleFunc("GET /api/v1/chart", s.handleChart)
	mux.HandleFunc("PUT /api/v1/range", s.handleSetRange)
	mux.HandleFunc("DELETE /api/v1/range", s.handleClearRange)

	mux.HandleFunc("GET /health", s.handleHealth)

	return mux
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.timeout,
		WriteTimeout: s.timeout,
	}

	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// seriesView is the wire form of a series, without its records
type seriesView struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Name         string `json:"name"`
	Color        string `json:"color"`
	TimestampKey string `json:"timestampKey"`
	DataKey      string `json:"dataKey"`
	Timezone     string `json:"timezone,omitempty"`
	Records      int    `json:"records"`
	Persisted    bool   `json:"persisted"`
	Enabled      bool   `json:"enabled"`
}

func viewOf(sr types.Series) seriesView {
	return seriesView{
		ID:           sr.ID,
		Source:       sr.Source,
		Name:         sr.Name,
		Color:        sr.Color,
		TimestampKey: sr.TimestampKey,
		DataKey:      sr.DataKey,
		Timezone:     sr.Timezone,
		Records:      len(sr.Records),
		Persisted:    sr.Persisted,
		Enabled:      sr.Enabled,
	}
}

func viewsOf(list []types.Series) []seriesView {
	out := make([]seriesView, 0, len(list))
	for _, sr := range list {
		out = append(out, viewOf(sr))
	}
	return out
}

// handleUpload parses an uploaded document and opens the key selection
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	fileName := r.URL.Query().Get("file")
	if fileName == "" {
		http.Error(w, "Missing file parameter", http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}

	pending, err := s.app.Uploader.Begin(fileName, data)
	if err != nil {
		s.writeError(w, "Upload failed", err)
		return
	}

	writeJSON(w, http.StatusCreated, pending)
}

func (s *Server) handleCurrentUpload(w http.ResponseWriter, r *http.Request) {
	pending, ok := s.app.Uploader.Current()
	if !ok {
		s.writeError(w, "Lookup failed", types.ErrNoPendingUpload)
		return
	}
	writeJSON(w, http.StatusOK, pending)
}

// handleConfirm applies the posted key selection to the pending upload
func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var sel types.Selection
	if err := json.NewDecoder(r.Body).Decode(&sel); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}

	series, err := s.app.Uploader.Confirm(r.PathValue("token"), sel)
	if err != nil {
		s.writeError(w, "Confirm failed", err)
		return
	}

	writeJSON(w, http.StatusOK, viewsOf(series))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Uploader.Cancel(r.PathValue("token")); err != nil {
		s.writeError(w, "Cancel failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListSeries(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, viewsOf(s.app.Store.List()))
}

// seriesEdit holds the optional fields of a series update
type seriesEdit struct {
	Name    *string `json:"name"`
	Color   *string `json:"color"`
	Enabled *bool   `json:"enabled"`
}

// handleEditSeries renames, recolors or toggles a series
func (s *Server) handleEditSeries(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var edit seriesEdit
	if err := json.NewDecoder(r.Body).Decode(&edit); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}

	if _, ok := s.app.Store.Get(id); !ok {
		s.writeError(w, "Edit failed", fmt.Errorf("%w: %s", types.ErrSeriesNotFound, id))
		return
	}

	// Validate the color before any field is applied
	if edit.Color != nil {
		if err := s.app.Store.Recolor(id, *edit.Color); err != nil {
			s.writeError(w, "Edit failed", err)
			return
		}
	}
	if edit.Name != nil {
		if err := s.app.Store.Rename(id, *edit.Name); err != nil {
			s.writeError(w, "Edit failed", err)
			return
		}
	}
	if edit.Enabled != nil {
		if err := s.app.Store.SetEnabled(id, *edit.Enabled); err != nil {
			s.writeError(w, "Edit failed", err)
			return
		}
	}

	sr, ok := s.app.Store.Get(id)
	if !ok {
		s.writeError(w, "Edit failed", fmt.Errorf("%w: %s", types.ErrSeriesNotFound, id))
		return
	}
	writeJSON(w, http.StatusOK, viewOf(sr))
}

func (s *Server) handleDeleteSeries(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.app.Store.Get(id); !ok {
		s.writeError(w, "Delete failed", fmt.Errorf("%w: %s", types.ErrSeriesNotFound, id))
		return
	}

	s.app.Store.Remove(id)
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteFile removes every series of an uploaded file
func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	removed, err := s.app.Uploader.RemoveFile(r.PathValue("file"))
	if err != nil {
		s.writeError(w, "Delete failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// handleReselect re-projects a file uploaded earlier in this session
func (s *Server) handleReselect(w http.ResponseWriter, r *http.Request) {
	var sel types.Selection
	if err := json.NewDecoder(r.Body).Decode(&sel); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}

	series, err := s.app.Uploader.Reselect(r.PathValue("file"), sel)
	if err != nil {
		s.writeError(w, "Reselect failed", err)
		return
	}

	writeJSON(w, http.StatusOK, viewsOf(series))
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.app.View.Current())
}

// rangeRequest holds the optional view range and tick interval
type rangeRequest struct {
	Start       *time.Time `json:"start"`
	End         *time.Time `json:"end"`
	TickMinutes *int       `json:"tickMinutes"`
}

// handleSetRange updates the view range. Omitted bounds stay automatic.
func (s *Server) handleSetRange(w http.ResponseWriter, r *http.Request) {
	var req rangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}

	var start, end time.Time
	if req.Start != nil {
		start = req.Start.UTC()
	}
	if req.End != nil {
		end = req.End.UTC()
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		http.Error(w, "Invalid range: end before start", http.StatusBadRequest)
		return
	}
	if req.TickMinutes != nil {
		if *req.TickMinutes < 0 {
			http.Error(w, "Invalid tick interval", http.StatusBadRequest)
			return
		}
		s.app.View.SetTick(time.Duration(*req.TickMinutes) * time.Minute)
	}

	s.app.View.SetRange(start, end)
	writeJSON(w, http.StatusOK, s.app.View.Range())
}

func (s *Server) handleClearRange(w http.ResponseWriter, r *http.Request) {
	s.app.View.ClearRange()
	writeJSON(w, http.StatusOK, s.app.View.Range())
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":       "healthy",
		"series":       s.app.Store.Len(),
		"revision":     s.app.Store.Revision(),
		"source_cache": s.app.Uploader.SourceStats(),
	}
	if err := s.app.PersistenceError(); err != nil {
		resp["status"] = "degraded"
		resp["persistence"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeError(w http.ResponseWriter, msg string, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(msg, "error", err)
	}
	http.Error(w, fmt.Sprintf("%s: %v", msg, err), status)
}

// statusOf maps domain errors to HTTP status codes
func statusOf(err error) int {
	switch {
	case errors.Is(err, types.ErrMalformedInput),
		errors.Is(err, types.ErrMalformedTimestamp),
		errors.Is(err, types.ErrInvalidColumnarShape),
		errors.Is(err, types.ErrNoKeysSelected),
		errors.Is(err, types.ErrInvalidColor):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrSeriesNotFound),
		errors.Is(err, types.ErrNoPendingUpload):
		return http.StatusNotFound
	case errors.Is(err, types.ErrUploadInProgress),
		errors.Is(err, types.ErrSeriesIDConflict):
		return http.StatusConflict
	case errors.Is(err, types.ErrSourceUnavailable):
		return http.StatusGone
	case errors.Is(err, types.ErrPersistenceQuotaExceeded):
		return http.StatusInsufficientStorage
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
