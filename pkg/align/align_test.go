package align

import (
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vjranagit/tsviz/pkg/types"
)

var base = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func at(min int) time.Time {
	return base.Add(time.Duration(min) * time.Minute)
}

func rec(min int, v float64) types.Record {
	return types.Record{Timestamp: at(min), Value: types.Float(v)}
}

func values(vs []*float64) []any {
	out := make([]any, len(vs))
	for i, v := range vs {
		if v == nil {
			out[i] = nil
			continue
		}
		out[i] = *v
	}
	return out
}

func TestBuild_TwoSeriesWithGaps(t *testing.T) {
	a := types.Series{ID: "A", Records: []types.Record{rec(1, 1), rec(2, 2)}}
	b := types.Series{ID: "B", Records: []types.Record{rec(2, 20), rec(3, 30)}}

	labels := ComputeUnionLabels([]types.Series{a, b})
	if diff := cmp.Diff([]time.Time{at(1), at(2), at(3)}, labels); diff != "" {
		t.Fatalf("labels mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, []any{1.0, 2.0, nil}, values(AlignToLabels(a, labels)))
	assert.Equal(t, []any{nil, 20.0, 30.0}, values(AlignToLabels(b, labels)))
}

func TestComputeUnionLabels_UnsortedInput(t *testing.T) {
	a := types.Series{Records: []types.Record{rec(5, 0), rec(1, 0), rec(3, 0)}}
	b := types.Series{Records: []types.Record{rec(4, 0), rec(1, 0)}}

	labels := ComputeUnionLabels([]types.Series{a, b})
	assert.Equal(t, []time.Time{at(1), at(3), at(4), at(5)}, labels)
}

func TestComputeUnionLabels_SameInstantDifferentZones(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*3600)
	a := types.Series{Records: []types.Record{{Timestamp: at(0)}}}
	b := types.Series{Records: []types.Record{{Timestamp: at(0).In(tokyo)}}}

	labels := ComputeUnionLabels([]types.Series{a, b})
	require.Len(t, labels, 1)
	assert.Equal(t, time.UTC, labels[0].Location())
}

func TestComputeUnionLabels_Property(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for round := 0; round < 50; round++ {
		var series []types.Series
		want := make(map[int64]struct{})
		for s := 0; s < 1+rng.Intn(4); s++ {
			var sr types.Series
			for i := 0; i < rng.Intn(30); i++ {
				m := rng.Intn(60)
				sr.Records = append(sr.Records, rec(m, float64(i)))
				want[at(m).UnixNano()] = struct{}{}
			}
			series = append(series, sr)
		}

		labels := ComputeUnionLabels(series)
		require.Len(t, labels, len(want))
		for i := 1; i < len(labels); i++ {
			require.True(t, labels[i-1].Before(labels[i]), "labels not strictly ascending")
		}
		for _, l := range labels {
			_, ok := want[l.UnixNano()]
			require.True(t, ok)
		}
	}
}

func TestAlignToLabels_LengthAndGaps(t *testing.T) {
	sr := types.Series{Records: []types.Record{
		rec(2, 7),
		{Timestamp: at(4), Value: nil},
		rec(6, 0),
	}}
	labels := []time.Time{at(1), at(2), at(3), at(4), at(5), at(6)}

	got := AlignToLabels(sr, labels)
	require.Len(t, got, len(labels))
	assert.Equal(t, []any{nil, 7.0, nil, nil, nil, 0.0}, values(got))
}

func TestAlignToLabels_LastDuplicateWins(t *testing.T) {
	sr := types.Series{Records: []types.Record{rec(1, 1), rec(1, 2)}}
	got := AlignToLabels(sr, []time.Time{at(1)})
	assert.Equal(t, []any{2.0}, values(got))
}

func TestAlignToLabels_DoesNotAlias(t *testing.T) {
	sr := types.Series{Records: []types.Record{rec(1, 1)}}
	got := AlignToLabels(sr, []time.Time{at(1)})
	*got[0] = 99
	assert.Equal(t, 1.0, *sr.Records[0].Value)
}

func TestFilterRange(t *testing.T) {
	labels := []time.Time{at(0), at(10), at(20), at(30), at(40)}

	assert.Equal(t, labels, FilterRange(labels, time.Time{}, time.Time{}))
	assert.Equal(t, []time.Time{at(10), at(20), at(30)}, FilterRange(labels, at(10), at(30)))
	assert.Equal(t, []time.Time{at(20), at(30), at(40)}, FilterRange(labels, at(15), time.Time{}))
	assert.Equal(t, []time.Time{at(0), at(10)}, FilterRange(labels, time.Time{}, at(19)))
	assert.Empty(t, FilterRange(labels, at(31), at(39)))
	assert.Empty(t, FilterRange(labels, at(30), at(10)))
	assert.Nil(t, FilterRange(nil, at(0), at(1)))
}

func TestFilterRange_Idempotent(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for round := 0; round < 50; round++ {
		n := rng.Intn(40)
		labels := make([]time.Time, 0, n)
		for i := 0; i < n; i++ {
			labels = append(labels, at(rng.Intn(500)))
		}
		sort.Slice(labels, func(i, j int) bool { return labels[i].Before(labels[j]) })

		start, end := at(rng.Intn(500)), at(rng.Intn(500))
		once := FilterRange(labels, start, end)
		twice := FilterRange(once, start, end)
		if diff := cmp.Diff(once, twice); diff != "" && len(once) > 0 {
			t.Fatalf("not idempotent (-once +twice):\n%s", diff)
		}
	}
}

func TestBuild_Deterministic(t *testing.T) {
	series := []types.Series{
		{ID: "a", Name: "Alpha", Color: "#ff0000", Records: []types.Record{rec(3, 3), rec(1, 1)}},
		{ID: "b", Color: "#00ff00", Records: []types.Record{rec(2, 2)}},
	}

	first := Build(series, time.Time{}, time.Time{})
	second := Build(series, time.Time{}, time.Time{})
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("Build not deterministic:\n%s", diff)
	}

	require.Len(t, first.Datasets, 2)
	assert.Equal(t, "Alpha", first.Datasets[0].Name)
	assert.Equal(t, "b", first.Datasets[1].Name)
	assert.Equal(t, []any{1.0, nil, 3.0}, values(first.Datasets[0].Values))

	ranged := Build(series, at(2), at(3))
	assert.Equal(t, []time.Time{at(2), at(3)}, ranged.Labels)
	assert.Equal(t, []any{2.0, nil}, values(ranged.Datasets[1].Values))
}

func TestBuild_Empty(t *testing.T) {
	data := Build(nil, time.Time{}, time.Time{})
	assert.NotNil(t, data.Labels)
	assert.Empty(t, data.Labels)
	assert.Empty(t, data.Datasets)
}

func TestTickLabels(t *testing.T) {
	labels := []time.Time{at(0), at(5), at(15), at(30), at(45), at(61)}

	assert.Equal(t, []string{"00:00", "", "00:15", "00:30", "00:45", ""}, TickLabels(labels, 15*time.Minute))
	assert.Equal(t, []string{"00:00", "", "", "00:30", "", ""}, TickLabels(labels, 30*time.Minute))
	assert.Equal(t, []string{"00:00", "00:05", "00:15", "00:30", "00:45", "01:01"}, TickLabels(labels, 0))
}

func TestAlign_InstantsOutsideNanosecondRange(t *testing.T) {
	far := time.Date(2500, 1, 1, 0, 0, 0, 0, time.UTC)
	early := time.Date(1500, 1, 1, 0, 0, 0, 0, time.UTC)

	a := types.Series{ID: "a", Records: []types.Record{
		{Timestamp: far, Value: types.Float(1)},
		{Timestamp: far.Add(time.Hour), Value: types.Float(2)},
		{Timestamp: early, Value: types.Float(0)},
	}}
	b := types.Series{ID: "b", Records: []types.Record{
		{Timestamp: far.In(time.FixedZone("X", 3600)), Value: types.Float(10)},
	}}

	labels := ComputeUnionLabels([]types.Series{a, b})
	require.Len(t, labels, 3)
	assert.True(t, labels[0].Equal(early))
	assert.True(t, labels[1].Equal(far))
	assert.True(t, labels[2].Equal(far.Add(time.Hour)))

	assert.Equal(t, []any{0.0, 1.0, 2.0}, values(AlignToLabels(a, labels)))
	assert.Equal(t, []any{nil, 10.0, nil}, values(AlignToLabels(b, labels)))
}
