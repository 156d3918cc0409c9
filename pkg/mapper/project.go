package mapper

import (
	"fmt"
	"time"

	"github.com/tidwall/gjson"
	"github.com/vjranagit/tsviz/pkg/types"
)

// Projection is the record sequence extracted for one data key
type Projection struct {
	Key     string
	Records []types.Record
}

// ProjectRecords extracts one ordered record sequence per data key.
// A single unparsable timestamp fails the whole projection.
func ProjectRecords(records []RawRecord, timestampKey string, dataKeys []string, loc *time.Location) ([]Projection, error) {
	if timestampKey == "" || len(dataKeys) == 0 {
		return nil, types.ErrNoKeysSelected
	}

	timestamps := make([]time.Time, len(records))
	for i, rec := range records {
		raw, ok := rec.Get(timestampKey)
		if !ok {
			return nil, fmt.Errorf("%w: record %d has no %q field", types.ErrMalformedTimestamp, i, timestampKey)
		}
		ts, err := ParseTimestamp(raw, loc)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		timestamps[i] = ts
	}

	projections := make([]Projection, 0, len(dataKeys))
	for _, key := range dataKeys {
		p := Projection{Key: key, Records: make([]types.Record, len(records))}
		for i, rec := range records {
			p.Records[i] = types.Record{
				Timestamp: timestamps[i],
				Value:     parseValue(rec.Get(key)),
			}
		}
		projections = append(projections, p)
	}

	return projections, nil
}

// ProjectColumnarObject converts parallel columns into flat records.
// Timestamps come from the first column; other columns are aligned by
// position. Columns of different length are rejected.
func ProjectColumnarObject(columns []Column) ([]RawRecord, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: object has no keys", types.ErrInvalidColumnarShape)
	}
	first := columns[0]
	if len(first.Entries) == 0 {
		return nil, fmt.Errorf("%w: column %q is empty", types.ErrInvalidColumnarShape, first.Key)
	}

	n := len(first.Entries)
	for _, col := range columns[1:] {
		if len(col.Entries) != n {
			return nil, fmt.Errorf("%w: column %q has %d entries, %q has %d",
				types.ErrInvalidColumnarShape, col.Key, len(col.Entries), first.Key, n)
		}
	}

	records := make([]RawRecord, n)
	for i := 0; i < n; i++ {
		rec := make(RawRecord, 0, len(columns)+1)
		for c, col := range columns {
			ts, val, ok := columnEntry(col.Entries[i])
			if !ok {
				return nil, fmt.Errorf("%w: column %q entry %d is neither a [timestamp, value] pair nor a stats object",
					types.ErrInvalidColumnarShape, col.Key, i)
			}
			if c == 0 {
				rec = append(rec, Field{Key: types.TimestampField, Value: ts})
			}
			rec = append(rec, Field{Key: col.Key, Value: val})
		}
		records[i] = rec
	}

	return records, nil
}

// columnEntry accepts [timestamp, value] or {"stats": [timestamp, value]}.
func columnEntry(entry gjson.Result) (ts, val gjson.Result, ok bool) {
	pair := entry
	if entry.IsObject() {
		pair = entry.Get("stats")
	}
	if !pair.IsArray() {
		return gjson.Result{}, gjson.Result{}, false
	}
	items := pair.Array()
	if len(items) < 2 {
		return gjson.Result{}, gjson.Result{}, false
	}
	return items[0], items[1], true
}

// DeriveSeriesFromUpload builds one series per key other than the
// canonical timestamp field, named "<fileName> - <key>".
func DeriveSeriesFromUpload(fileName string, records []RawRecord, loc *time.Location) ([]types.Series, error) {
	doc := Document{Records: records}

	var dataKeys []string
	for _, k := range doc.Keys() {
		if k != types.TimestampField {
			dataKeys = append(dataKeys, k)
		}
	}
	if len(dataKeys) == 0 {
		return nil, fmt.Errorf("%w: no value keys besides %q", types.ErrNoKeysSelected, types.TimestampField)
	}

	projections, err := ProjectRecords(records, types.TimestampField, dataKeys, loc)
	if err != nil {
		return nil, err
	}

	return toSeries(fileName, types.TimestampField, projections, true), nil
}

// Build turns a parsed document and a key selection into new series.
// Nothing is committed anywhere; the caller owns the result.
func Build(fileName string, doc *Document, sel types.Selection) ([]types.Series, error) {
	loc, err := LoadLocation(sel.Timezone)
	if err != nil {
		return nil, err
	}

	var series []types.Series
	if sel.Auto {
		series, err = DeriveSeriesFromUpload(fileName, doc.Records, loc)
		if err != nil {
			return nil, err
		}
	} else {
		dataKeys := uniqueKeys(sel.DataKeys)
		if sel.TimestampKey == "" || len(dataKeys) == 0 {
			return nil, types.ErrNoKeysSelected
		}
		projections, err := ProjectRecords(doc.Records, sel.TimestampKey, dataKeys, loc)
		if err != nil {
			return nil, err
		}
		series = toSeries(fileName, sel.TimestampKey, projections, len(projections) > 1)
	}

	for i := range series {
		series[i].Timezone = sel.Timezone
	}
	return series, nil
}

// SeriesID derives the id of the series for key within fileName.
func SeriesID(fileName, key string, multi bool) string {
	if !multi {
		return fileName
	}
	return fileName + " - " + key
}

func toSeries(fileName, timestampKey string, projections []Projection, multi bool) []types.Series {
	series := make([]types.Series, 0, len(projections))
	for _, p := range projections {
		id := SeriesID(fileName, p.Key, multi)
		series = append(series, types.Series{
			ID:           id,
			Source:       fileName,
			Name:         id,
			Color:        RandomColor(),
			TimestampKey: timestampKey,
			DataKey:      p.Key,
			Records:      p.Records,
			Enabled:      true,
		})
	}
	return series
}

func uniqueKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
