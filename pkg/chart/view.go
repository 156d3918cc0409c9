// Package chart keeps the rendered view in step with the series store.
package chart

import (
	"log/slog"
	"sync"
	"time"

	"github.com/vjranagit/tsviz/pkg/align"
	"github.com/vjranagit/tsviz/pkg/store"
	"github.com/vjranagit/tsviz/pkg/types"
)

// Renderer draws aligned chart data
type Renderer interface {
	Render(data types.ChartData)
}

// RendererFunc adapts a function to Renderer
type RendererFunc func(types.ChartData)

// Render calls f(data)
func (f RendererFunc) Render(data types.ChartData) { f(data) }

// Range is the date range of the view. Zero bounds are unset.
type Range struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// View recomputes the chart on every store mutation and pushes the result
// to its renderers.
type View struct {
	store  *store.Store
	logger *slog.Logger

	mu        sync.Mutex
	explicit  Range
	auto      Range
	tick      time.Duration
	current   types.ChartData
	seq       uint64
	renderers []Renderer
	cancel    func()

	renderMu sync.Mutex
	rendered uint64
}

// NewView creates a view over s. Call Attach to follow store mutations.
func NewView(s *store.Store, logger *slog.Logger) *View {
	if logger == nil {
		logger = slog.Default()
	}
	return &View{
		store:  s,
		logger: logger,
	}
}

// AddRenderer registers r for every subsequent refresh
func (v *View) AddRenderer(r Renderer) {
	v.mu.Lock()
	v.renderers = append(v.renderers, r)
	v.mu.Unlock()
}

// Attach subscribes the view to the store and renders once.
func (v *View) Attach() {
	v.mu.Lock()
	if v.cancel == nil {
		v.cancel = v.store.Subscribe(v.onEvent)
	}
	v.mu.Unlock()

	v.refresh(true)
}

// Detach stops following the store
func (v *View) Detach() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cancel != nil {
		v.cancel()
		v.cancel = nil
	}
}

func (v *View) onEvent(ev store.Event) {
	v.logger.Debug("store changed", "kind", ev.Kind.String(), "series", ev.SeriesID, "revision", ev.Revision)
	v.refresh(true)
}

// SetRange sets the user range. A zero bound stays on its automatic value.
func (v *View) SetRange(start, end time.Time) {
	v.mu.Lock()
	v.explicit = Range{Start: start, End: end}
	v.mu.Unlock()

	v.refresh(false)
}

// ClearRange drops the user range and goes back to the automatic one.
func (v *View) ClearRange() {
	v.SetRange(time.Time{}, time.Time{})
}

// SetTick sets the axis caption interval. Zero captions every label.
func (v *View) SetTick(every time.Duration) {
	v.mu.Lock()
	v.tick = every
	v.mu.Unlock()

	v.refresh(false)
}

// Range returns the effective range: the explicit bound where one is
// set, the automatic bound otherwise.
func (v *View) Range() Range {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.effectiveLocked()
}

// Current returns the last computed chart data
func (v *View) Current() types.ChartData {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current
}

func (v *View) effectiveLocked() Range {
	r := v.auto
	if !v.explicit.Start.IsZero() {
		r.Start = v.explicit.Start
	}
	if !v.explicit.End.IsZero() {
		r.End = v.explicit.End
	}
	return r
}

// refresh rebuilds the chart. datasetChanged recomputes the automatic range.
// Snapshots are taken and numbered under v.mu, so Current never moves
// back, and renderers never see an older snapshot after a newer one.
func (v *View) refresh(datasetChanged bool) types.ChartData {
	v.mu.Lock()
	series := v.store.Enabled()
	if datasetChanged {
		labels := align.ComputeUnionLabels(series)
		start, end := align.DefaultRange(labels, time.Time{}, time.Time{})
		v.auto = Range{Start: start, End: end}
	}
	r := v.effectiveLocked()
	data := align.Build(series, r.Start, r.End)
	if v.tick > 0 {
		data.Ticks = align.TickLabels(data.Labels, v.tick)
	}
	v.current = data
	v.seq++
	seq := v.seq
	renderers := append([]Renderer(nil), v.renderers...)
	v.mu.Unlock()

	v.renderMu.Lock()
	defer v.renderMu.Unlock()
	if seq < v.rendered {
		return data
	}
	v.rendered = seq
	for _, rd := range renderers {
		rd.Render(data)
	}
	return data
}
