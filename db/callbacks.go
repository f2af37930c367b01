package db

import (
	"context"
	"reflect"

	"github.com/evergreen-ci/docstore/event"
	"github.com/evergreen-ci/docstore/mapping"
	"go.mongodb.org/mongo-driver/bson"
)

// DocumentCallback turns a raw document into a typed result. A nil
// document yields a nil result.
type DocumentCallback[T any] interface {
	Convert(ctx context.Context, doc bson.M) (*T, error)
}

// readCallback converts documents with the template's converter and
// emits after-load and after-convert events.
type readCallback[T any] struct {
	t          *Template
	collection string
}

func newReadCallback[T any](t *Template, collection string) *readCallback[T] {
	return &readCallback[T]{t: t, collection: collection}
}

func (c *readCallback[T]) Convert(ctx context.Context, doc bson.M) (*T, error) {
	if doc == nil {
		return nil, nil
	}
	typ := reflect.TypeOf((*T)(nil)).Elem()
	c.t.emit(ctx, event.Event{Kind: event.AfterLoad, Collection: c.collection, Document: doc, Type: typ})

	out := new(T)
	if err := c.t.read(doc, out); err != nil {
		return nil, err
	}
	c.t.emit(ctx, event.Event{Kind: event.AfterConvert, Collection: c.collection, Document: doc, Source: out, Type: typ})
	return out, nil
}

// unwrapCallback flattens a nested document stored under _id into the
// top level before delegating. Keys of the nested document win over
// sibling keys.
type unwrapCallback[T any] struct {
	delegate DocumentCallback[T]
}

func (c *unwrapCallback[T]) Convert(ctx context.Context, doc bson.M) (*T, error) {
	if doc == nil {
		return c.delegate.Convert(ctx, nil)
	}
	id, ok := mapping.AsDocument(doc[mapping.IDField])
	if !ok {
		return c.delegate.Convert(ctx, doc)
	}

	flattened := make(bson.M, len(doc)+len(id))
	for key, value := range doc {
		if key == mapping.IDField {
			continue
		}
		flattened[key] = value
	}
	for key, value := range id {
		flattened[key] = value
	}
	return c.delegate.Convert(ctx, flattened)
}

const (
	geoDistanceField = "dis"
	geoContentField  = "obj"
)

// geoCallback reads one geoNear result entry: a numeric distance and
// the matched document.
type geoCallback[T any] struct {
	delegate DocumentCallback[T]
	metric   Metric
}

func (c *geoCallback[T]) Convert(ctx context.Context, doc bson.M) (*GeoResult[T], error) {
	if doc == nil {
		return nil, nil
	}
	distance, ok := toFloat(doc[geoDistanceField])
	if !ok {
		return nil, mappingFailure(nil, "geo result is missing a numeric '%s' field", geoDistanceField)
	}
	content, ok := mapping.AsDocument(doc[geoContentField])
	if !ok {
		return nil, mappingFailure(nil, "geo result is missing a '%s' document", geoContentField)
	}

	out, err := c.delegate.Convert(ctx, content)
	if err != nil {
		return nil, err
	}
	return &GeoResult[T]{
		Content:  out,
		Distance: Distance{Value: distance, Metric: c.metric},
	}, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
