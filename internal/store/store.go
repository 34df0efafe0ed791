// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package store

import (
	"bytes"
	"context"
	"time"

	"github.com/relvacode/iso8601"
)

// Layout of timestamps in JSON: UTC without a zone designator, with
// microsecond precision, as stored in the TIMESTAMP column.
const layout = "2006-01-02T15:04:05.999999"

type (
	// Segment is the latest record for one road segment.
	Segment struct {
		ID        int       `json:"id"`
		AvgSpeed  int       `json:"avg_speed"`
		Timestamp Timestamp `json:"timestamp"`
	}

	// Timestamp is a UTC instant with a zone-less JSON form.
	Timestamp struct{ time.Time }

	// Writer records segment speeds.
	Writer interface {
		// Upsert inserts the record for id or overwrites its speed and
		// timestamp. Writing the same values twice has the same effect as
		// writing them once.
		Upsert(ctx context.Context, id, avgSpeed int, at time.Time) error
	}

	// Reader returns recorded segments.
	Reader interface {
		// All returns every record, ordered by id.
		All(ctx context.Context) ([]Segment, error)

		// Get returns the record for id, if any.
		Get(ctx context.Context, id int) (Segment, bool, error)
	}

	// Store is a segment store.
	Store interface {
		Writer
		Reader
	}
)

// NewTimestamp normalizes t to UTC with microsecond precision.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{t.UTC().Truncate(time.Microsecond)}
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	b := make([]byte, 0, len(layout)+2)
	b = append(b, '"')
	b = t.UTC().AppendFormat(b, layout)
	return append(b, '"'), nil
}

// UnmarshalJSON accepts any ISO 8601 form; a missing zone means UTC.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var v iso8601.Time
	if err := v.UnmarshalJSON(b); err != nil {
		return err
	}
	*t = NewTimestamp(v.Time)
	return nil
}
