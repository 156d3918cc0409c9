package upload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vjranagit/tsviz/pkg/mapper"
	"github.com/vjranagit/tsviz/pkg/storage"
	"github.com/vjranagit/tsviz/pkg/store"
	"github.com/vjranagit/tsviz/pkg/types"
)

const ghg = `[
	{"timeUTC": "2024-03-01T10:00:00Z", "co2": 400, "ch4": 1.9},
	{"timeUTC": "2024-03-01T10:05:00Z", "co2": 401, "ch4": 2.0}
]`

func newUploader(t *testing.T, ceiling int) (*Uploader, *store.Store) {
	t.Helper()
	s := store.New()
	gw := storage.NewGateway(storage.NewMemoryBackend(0), "", ceiling, nil)
	return New(s, gw, NewSourceCache(8, 0), nil), s
}

func TestUploader_BeginConfirm(t *testing.T) {
	u, s := newUploader(t, 0)

	p, err := u.Begin("ghg.json", []byte(ghg))
	require.NoError(t, err)
	assert.NotEmpty(t, p.Token)
	assert.Equal(t, mapper.ShapeRecords, p.Shape)
	assert.Equal(t, []string{"timeUTC", "co2", "ch4"}, p.Keys)
	assert.Equal(t, 2, p.Records)
	assert.Zero(t, s.Len(), "nothing is committed before confirmation")

	series, err := u.Confirm(p.Token, types.Selection{TimestampKey: "timeUTC", DataKeys: []string{"co2"}})
	require.NoError(t, err)
	require.Len(t, series, 1)
	assert.Equal(t, "ghg.json", series[0].ID)
	assert.True(t, series[0].Persisted)

	sr, ok := s.Get("ghg.json")
	require.True(t, ok)
	assert.Len(t, sr.Records, 2)

	_, pending := u.Current()
	assert.False(t, pending)
}

func TestUploader_SecondBeginRejected(t *testing.T) {
	u, _ := newUploader(t, 0)

	first, err := u.Begin("a.json", []byte(ghg))
	require.NoError(t, err)

	_, err = u.Begin("b.json", []byte(ghg))
	assert.ErrorIs(t, err, types.ErrUploadInProgress)

	current, ok := u.Current()
	require.True(t, ok)
	assert.Equal(t, first.Token, current.Token)
}

func TestUploader_CancelLeavesStoreUnchanged(t *testing.T) {
	u, s := newUploader(t, 0)

	events := 0
	s.Subscribe(func(store.Event) { events++ })

	p, err := u.Begin("a.json", []byte(ghg))
	require.NoError(t, err)
	require.NoError(t, u.Cancel(p.Token))

	assert.Zero(t, s.Len())
	assert.Zero(t, events)
	assert.ErrorIs(t, u.Cancel(p.Token), types.ErrNoPendingUpload)

	// Slot is free again
	_, err = u.Begin("b.json", []byte(ghg))
	assert.NoError(t, err)
}

func TestUploader_InvalidSelectionKeepsSlot(t *testing.T) {
	u, s := newUploader(t, 0)

	p, err := u.Begin("a.json", []byte(`[{"t": "nope", "v": 1}]`))
	require.NoError(t, err)

	_, err = u.Confirm(p.Token, types.Selection{TimestampKey: "t"})
	assert.ErrorIs(t, err, types.ErrNoKeysSelected)

	_, err = u.Confirm(p.Token, types.Selection{TimestampKey: "t", DataKeys: []string{"v"}})
	assert.ErrorIs(t, err, types.ErrMalformedTimestamp)

	assert.Zero(t, s.Len())
	_, pending := u.Current()
	assert.True(t, pending)
}

func TestUploader_BeginMalformed(t *testing.T) {
	u, _ := newUploader(t, 0)

	_, err := u.Begin("a.json", []byte(`not json`))
	assert.ErrorIs(t, err, types.ErrMalformedInput)

	_, err = u.Begin("", []byte(ghg))
	assert.ErrorIs(t, err, types.ErrMalformedInput)

	_, pending := u.Current()
	assert.False(t, pending)
}

func TestUploader_WrongToken(t *testing.T) {
	u, _ := newUploader(t, 0)

	_, err := u.Confirm("nope", types.Selection{Auto: true})
	assert.ErrorIs(t, err, types.ErrNoPendingUpload)

	_, err = u.Begin("a.json", []byte(ghg))
	require.NoError(t, err)
	_, err = u.Confirm("nope", types.Selection{Auto: true})
	assert.ErrorIs(t, err, types.ErrNoPendingUpload)
}

func TestUploader_CeilingDecidesPersisted(t *testing.T) {
	u, _ := newUploader(t, 50)

	series, err := u.Import("ghg.json", []byte(ghg), types.Selection{Auto: true})
	require.NoError(t, err)
	require.Len(t, series, 2)
	for _, sr := range series {
		assert.False(t, sr.Persisted, "%s should exceed a 50 byte ceiling", sr.ID)
	}
}

func TestUploader_ReuploadKeepsUserEdits(t *testing.T) {
	u, s := newUploader(t, 0)

	_, err := u.Import("ghg.json", []byte(ghg), types.Selection{TimestampKey: "timeUTC", DataKeys: []string{"co2"}})
	require.NoError(t, err)
	require.NoError(t, s.Rename("ghg.json", "Carbon"))
	require.NoError(t, s.Recolor("ghg.json", "#112233"))

	_, err = u.Import("ghg.json", []byte(ghg), types.Selection{TimestampKey: "timeUTC", DataKeys: []string{"ch4"}})
	require.NoError(t, err)

	sr, ok := s.Get("ghg.json")
	require.True(t, ok)
	assert.Equal(t, "Carbon", sr.Name)
	assert.Equal(t, "#112233", sr.Color)
	assert.Equal(t, "ch4", sr.DataKey)
	assert.Equal(t, 1, s.Len())
}

func TestUploader_Reselect(t *testing.T) {
	u, s := newUploader(t, 0)

	_, err := u.Import("ghg.json", []byte(ghg), types.Selection{Auto: true})
	require.NoError(t, err)
	assert.Equal(t, 2, s.Len())

	series, err := u.Reselect("ghg.json", types.Selection{TimestampKey: "timeUTC", DataKeys: []string{"ch4"}})
	require.NoError(t, err)
	require.Len(t, series, 1)

	// Series the new selection no longer produces are dropped
	list := s.List()
	require.Len(t, list, 1)
	assert.Equal(t, "ghg.json", list[0].ID)

	_, err = u.Reselect("other.json", types.Selection{Auto: true})
	assert.ErrorIs(t, err, types.ErrSourceUnavailable)
}

func TestUploader_ReselectWhilePending(t *testing.T) {
	u, _ := newUploader(t, 0)

	_, err := u.Import("ghg.json", []byte(ghg), types.Selection{Auto: true})
	require.NoError(t, err)
	_, err = u.Begin("next.json", []byte(ghg))
	require.NoError(t, err)

	_, err = u.Reselect("ghg.json", types.Selection{Auto: true})
	assert.ErrorIs(t, err, types.ErrUploadInProgress)
}

func TestUploader_ImportFailureFreesSlot(t *testing.T) {
	u, s := newUploader(t, 0)

	_, err := u.Import("a.json", []byte(ghg), types.Selection{})
	assert.ErrorIs(t, err, types.ErrNoKeysSelected)
	assert.Zero(t, s.Len())

	_, pending := u.Current()
	assert.False(t, pending)
}

func TestUploader_RemoveFile(t *testing.T) {
	u, s := newUploader(t, 0)

	_, err := u.Import("ghg.json", []byte(ghg), types.Selection{Auto: true})
	require.NoError(t, err)
	_, err = u.Import("other.json", []byte(ghg), types.Selection{TimestampKey: "timeUTC", DataKeys: []string{"co2"}})
	require.NoError(t, err)
	require.Equal(t, 3, s.Len())

	removed, err := u.RemoveFile("ghg.json")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, s.Len())

	_, err = u.Reselect("ghg.json", types.Selection{Auto: true})
	assert.ErrorIs(t, err, types.ErrSourceUnavailable)

	_, err = u.RemoveFile("ghg.json")
	assert.ErrorIs(t, err, types.ErrSeriesNotFound)

	assert.Equal(t, 1, u.SourceStats().Size)
}

func TestUploader_SeriesIDsStayWithTheirFile(t *testing.T) {
	u, s := newUploader(t, 0)

	_, err := u.Import("data.json", []byte(ghg), types.Selection{TimestampKey: "timeUTC", DataKeys: []string{"co2", "ch4"}})
	require.NoError(t, err)

	other := `[{"timeUTC": "2024-03-01T10:00:00Z", "v": 1}]`
	_, err = u.Import("data.json - co2", []byte(other), types.Selection{TimestampKey: "timeUTC", DataKeys: []string{"v"}})
	assert.ErrorIs(t, err, types.ErrSeriesIDConflict)

	sr, ok := s.Get("data.json - co2")
	require.True(t, ok)
	assert.Equal(t, "data.json", sr.Source)
	assert.Equal(t, "co2", sr.DataKey)
	assert.Len(t, sr.Records, 2)

	_, pending := u.Current()
	assert.False(t, pending, "a failed import frees the slot")

	// A file whose name looks like another file's series is still its own file
	_, err = u.Import("data.json - co2.json", []byte(other), types.Selection{TimestampKey: "timeUTC", DataKeys: []string{"v"}})
	require.NoError(t, err)

	_, err = u.Import("data.json", []byte(ghg), types.Selection{TimestampKey: "timeUTC", DataKeys: []string{"co2"}})
	require.NoError(t, err)

	ids := []string{}
	for _, sr := range s.List() {
		ids = append(ids, sr.ID)
	}
	assert.ElementsMatch(t, []string{"data.json - co2.json", "data.json"}, ids)

	removed, err := u.RemoveFile("data.json")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	_, ok = s.Get("data.json - co2.json")
	assert.True(t, ok)
}
