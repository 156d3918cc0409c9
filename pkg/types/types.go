package types

import "time"

// TimestampField is the canonical timestamp key used for auto-derived
// series and for records produced from columnar uploads.
const TimestampField = "timeUTC"

// Record represents a single point of a series. A nil Value is a gap.
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	Value     *float64  `json:"value"`
}

// Series represents one named, colored time series
type Series struct {
	ID string
	// Source is the name of the uploaded file the series was projected from.
	Source       string
	Name         string
	Color        string
	TimestampKey string
	DataKey      string
	Timezone     string
	Records      []Record
	Persisted    bool

	// Enabled is view state and is not persisted.
	Enabled bool
}

// Clone returns a copy of the series that shares no record storage.
// A nil record slice stays nil and an empty one stays empty.
func (s Series) Clone() Series {
	if s.Records != nil {
		s.Records = append(make([]Record, 0, len(s.Records)), s.Records...)
	}
	return s
}

// Selection holds the key choices made for an upload
type Selection struct {
	TimestampKey string   `json:"timestampKey"`
	DataKeys     []string `json:"dataKeys"`
	Timezone     string   `json:"timezone,omitempty"`
	// Auto derives one series per non-timestamp key.
	Auto bool `json:"auto,omitempty"`
}

// Dataset is one aligned series as handed to a renderer
type Dataset struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Color  string     `json:"color"`
	Values []*float64 `json:"values"`
}

// ChartData is the aligned snapshot pushed to renderers
type ChartData struct {
	Labels   []time.Time `json:"labels"`
	Ticks    []string    `json:"ticks,omitempty"`
	Datasets []Dataset   `json:"datasets"`
}

// Float returns a pointer to v, for building records.
func Float(v float64) *float64 {
	return &v
}
