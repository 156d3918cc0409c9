// Package mapper turns uploaded JSON documents into typed series.
//
// Two input shapes are accepted: an array of flat records, and an object
// whose values are parallel arrays (columnar). Columnar documents are
// projected into flat records keyed by types.TimestampField at parse time so
// that the rest of the pipeline only ever sees records.
package mapper

import (
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/vjranagit/tsviz/pkg/types"
)

// Shape identifies the layout of an uploaded document
type Shape int

const (
	ShapeRecords Shape = iota
	ShapeColumnar
)

func (s Shape) String() string {
	if s == ShapeColumnar {
		return "columnar"
	}
	return "records"
}

// MarshalText encodes the shape by name
func (s Shape) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a shape name
func (s *Shape) UnmarshalText(text []byte) error {
	switch string(text) {
	case "records":
		*s = ShapeRecords
	case "columnar":
		*s = ShapeColumnar
	default:
		return fmt.Errorf("unknown shape %q", text)
	}
	return nil
}

// Field is one key/value pair of a raw record
type Field struct {
	Key   string
	Value gjson.Result
}

// RawRecord is an ordered mapping of string to JSON value
type RawRecord []Field

// Get returns the value stored under key. When a key repeats, the last
// occurrence wins, as with a regular JSON decoder.
func (r RawRecord) Get(key string) (gjson.Result, bool) {
	for i := len(r) - 1; i >= 0; i-- {
		if r[i].Key == key {
			return r[i].Value, true
		}
	}
	return gjson.Result{}, false
}

// Column is one key of a columnar document with its entries
type Column struct {
	Key     string
	Entries []gjson.Result
}

// Document is a parsed upload
type Document struct {
	Shape   Shape
	Records []RawRecord
	// Columns is only set for columnar documents.
	Columns []Column
}

// Keys returns the union of record keys in first-seen order
func (d *Document) Keys() []string {
	seen := make(map[string]struct{})
	var keys []string
	for _, rec := range d.Records {
		for _, f := range rec {
			if _, ok := seen[f.Key]; ok {
				continue
			}
			seen[f.Key] = struct{}{}
			keys = append(keys, f.Key)
		}
	}
	return keys
}

// Len returns the number of records in the document.
func (d *Document) Len() int {
	return len(d.Records)
}

// Parse parses an uploaded JSON document
func Parse(data []byte) (*Document, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: not valid JSON", types.ErrMalformedInput)
	}

	root := gjson.ParseBytes(data)
	switch {
	case root.IsArray():
		return parseRecords(root)
	case root.IsObject():
		return parseColumnar(root)
	default:
		return nil, fmt.Errorf("%w: expected an array or an object, got %s", types.ErrMalformedInput, root.Type)
	}
}

func parseRecords(root gjson.Result) (*Document, error) {
	doc := &Document{Shape: ShapeRecords}

	var err error
	i := 0
	root.ForEach(func(_, value gjson.Result) bool {
		if !value.IsObject() {
			err = fmt.Errorf("%w: element %d is not an object", types.ErrMalformedInput, i)
			return false
		}
		doc.Records = append(doc.Records, objectRecord(value))
		i++
		return true
	})
	if err != nil {
		return nil, err
	}

	return doc, nil
}

func parseColumnar(root gjson.Result) (*Document, error) {
	doc := &Document{Shape: ShapeColumnar}

	var err error
	root.ForEach(func(key, value gjson.Result) bool {
		if !value.IsArray() {
			err = fmt.Errorf("%w: value of %q is not an array", types.ErrInvalidColumnarShape, key.String())
			return false
		}
		doc.Columns = append(doc.Columns, Column{Key: key.String(), Entries: value.Array()})
		return true
	})
	if err != nil {
		return nil, err
	}

	records, err := ProjectColumnarObject(doc.Columns)
	if err != nil {
		return nil, err
	}
	doc.Records = records

	return doc, nil
}

func objectRecord(obj gjson.Result) RawRecord {
	var rec RawRecord
	obj.ForEach(func(key, value gjson.Result) bool {
		rec = append(rec, Field{Key: key.String(), Value: value})
		return true
	})
	return rec
}
