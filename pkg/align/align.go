// Package align builds the shared time axis for a set of series and
// projects every series onto it.
package align

import (
	"sort"
	"time"

	"github.com/vjranagit/tsviz/pkg/types"
)

// ComputeUnionLabels returns the sorted, duplicate-free union of the
// timestamps of all given series. Instants are compared, not their
// string forms, and every label is returned in UTC.
func ComputeUnionLabels(series []types.Series) []time.Time {
	seen := make(map[time.Time]struct{})
	var labels []time.Time

	for _, sr := range series {
		for _, rec := range sr.Records {
			key := rec.Timestamp.UTC()
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			labels = append(labels, key)
		}
	}

	sort.Slice(labels, func(i, j int) bool { return labels[i].Before(labels[j]) })
	return labels
}

// AlignToLabels returns the value of sr at each label, or nil where the
// series has no record at that exact instant. Gaps are never filled.
// When a series repeats a timestamp the later record wins.
func AlignToLabels(sr types.Series, labels []time.Time) []*float64 {
	byInstant := make(map[time.Time]*float64, len(sr.Records))
	for _, rec := range sr.Records {
		byInstant[rec.Timestamp.UTC()] = rec.Value
	}

	values := make([]*float64, len(labels))
	for i, label := range labels {
		if v, ok := byInstant[label.UTC()]; ok && v != nil {
			val := *v
			values[i] = &val
		}
	}
	return values
}

// FilterRange keeps the labels with start <= label <= end. A zero bound
// is unset and defaults to the first or last label.
func FilterRange(labels []time.Time, start, end time.Time) []time.Time {
	if len(labels) == 0 {
		return nil
	}
	start, end = DefaultRange(labels, start, end)

	lo := sort.Search(len(labels), func(i int) bool { return !labels[i].Before(start) })
	hi := sort.Search(len(labels), func(i int) bool { return labels[i].After(end) })
	if lo >= hi {
		return []time.Time{}
	}

	out := make([]time.Time, hi-lo)
	copy(out, labels[lo:hi])
	return out
}

// DefaultRange fills unset bounds with the min and max of labels, which
// must be sorted.
func DefaultRange(labels []time.Time, start, end time.Time) (time.Time, time.Time) {
	if len(labels) == 0 {
		return start, end
	}
	if start.IsZero() {
		start = labels[0]
	}
	if end.IsZero() {
		end = labels[len(labels)-1]
	}
	return start, end
}

// Build aligns the given series on their union axis restricted to
// [start, end]. The output depends only on its inputs.
func Build(series []types.Series, start, end time.Time) types.ChartData {
	labels := FilterRange(ComputeUnionLabels(series), start, end)
	if labels == nil {
		labels = []time.Time{}
	}

	data := types.ChartData{
		Labels:   labels,
		Datasets: make([]types.Dataset, 0, len(series)),
	}
	for _, sr := range series {
		name := sr.Name
		if name == "" {
			name = sr.ID
		}
		data.Datasets = append(data.Datasets, types.Dataset{
			ID:     sr.ID,
			Name:   name,
			Color:  sr.Color,
			Values: AlignToLabels(sr, labels),
		})
	}
	return data
}
