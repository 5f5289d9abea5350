package stores

import (
	"time"

	"github.com/oarkflow/date"

	"github.com/oarkflow/docgate"
	"github.com/oarkflow/docgate/logger"
)

// Option configures the stores in this package.
type Option func(*options)

type options struct {
	feed   ChangeFeed
	now    func() time.Time
	logger logger.Logger
}

func buildOptions(opts []Option) *options {
	o := &options{now: time.Now, logger: logger.NewNullLogger()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithFeed sets the change feed used to publish writes and drive watches.
// Stores create a MemoryFeed when none is given.
func WithFeed(f ChangeFeed) Option { return func(o *options) { o.feed = f } }

// WithClock sets the clock used for server timestamps.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// WithLogger sets the store logger.
func WithLogger(l logger.Logger) Option { return func(o *options) { o.logger = l } }

func parseFlexibleTime(s string) (time.Time, error) {
	return date.Parse(s)
}

// scanTime converts a driver value into a time, accepting the shapes sqlite
// drivers return for TEXT and DATETIME columns.
func scanTime(raw any) (time.Time, bool) {
	switch v := raw.(type) {
	case time.Time:
		return v, true
	case string:
		if v == "" {
			return time.Time{}, false
		}
		if t, err := parseFlexibleTime(v); err == nil {
			return t, true
		}
	case []byte:
		if t, err := parseFlexibleTime(string(v)); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func sqlNullTimeOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// withID returns a copy of d carrying id under "id".
func withID(d docgate.Document, id string) docgate.Document {
	out := d.Clone()
	if out == nil {
		out = docgate.Document{}
	}
	out[docgate.FieldID] = id
	return out
}

// mergeForWrite computes the stored form of a write: data merged into
// existing (or replacing it), placeholders resolved and the id key removed.
func mergeForWrite(existing, data docgate.Document, merge bool, now time.Time) docgate.Document {
	var out docgate.Document
	if merge && existing != nil {
		out = existing.Clone()
	} else {
		out = docgate.Document{}
	}
	for k, v := range data {
		out[k] = v
	}
	delete(out, docgate.FieldID)
	docgate.ResolveServerTimestamps(out, now)
	return out
}
