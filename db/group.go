package db

import (
	"context"

	"github.com/evergreen-ci/docstore/mapping"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

// GroupBy describes a group command: the grouping key (field names or a
// key function), the initial accumulator and the reduce and finalize
// functions. Functions may be script text or script resource
// references.
type GroupBy struct {
	keys        []string
	keyFunction string
	initial     any
	reduce      string
	finalize    string
}

// NewGroupBy groups on the given fields.
func NewGroupBy(keys ...string) *GroupBy {
	return &GroupBy{keys: keys}
}

// GroupByKeyFunction groups on the value computed by a key function.
func GroupByKeyFunction(fn string) *GroupBy {
	return &GroupBy{keyFunction: fn}
}

// Initial sets the initial accumulator document.
func (g *GroupBy) Initial(doc bson.M) *GroupBy {
	g.initial = doc
	return g
}

// InitialJSON sets the initial accumulator from a JSON document or a
// script resource reference holding one.
func (g *GroupBy) InitialJSON(doc string) *GroupBy {
	g.initial = doc
	return g
}

// Reduce sets the reduce function.
func (g *GroupBy) Reduce(fn string) *GroupBy {
	g.reduce = fn
	return g
}

// Finalize sets the finalize function.
func (g *GroupBy) Finalize(fn string) *GroupBy {
	g.finalize = fn
	return g
}

// document renders the group specification, resolving script
// references through t.
func (g *GroupBy) document(ctx context.Context, t *Template) (bson.D, error) {
	var out bson.D
	if g.keyFunction != "" {
		fn, err := t.resolveScript(ctx, g.keyFunction)
		if err != nil {
			return nil, err
		}
		out = append(out, bson.E{Key: "$keyf", Value: fn})
	} else {
		key := bson.D{}
		for _, k := range g.keys {
			key = append(key, bson.E{Key: k, Value: 1})
		}
		out = append(out, bson.E{Key: "key", Value: key})
	}

	switch initial := g.initial.(type) {
	case nil:
		out = append(out, bson.E{Key: "initial", Value: bson.M{}})
	case string:
		text, err := t.resolveScript(ctx, initial)
		if err != nil {
			return nil, err
		}
		doc := bson.M{}
		if err := bson.UnmarshalExtJSON([]byte(text), false, &doc); err != nil {
			e := newError(InvalidUsage, "initial document for group must be valid JSON")
			e.cause = err
			return nil, errors.WithStack(e)
		}
		out = append(out, bson.E{Key: "initial", Value: doc})
	default:
		out = append(out, bson.E{Key: "initial", Value: initial})
	}

	reduce, err := t.resolveScript(ctx, g.reduce)
	if err != nil {
		return nil, err
	}
	out = append(out, bson.E{Key: "$reduce", Value: reduce})

	if g.finalize != "" {
		finalize, err := t.resolveScript(ctx, g.finalize)
		if err != nil {
			return nil, err
		}
		out = append(out, bson.E{Key: "finalize", Value: finalize})
	}
	return out, nil
}

// GroupByResults holds the mapped output of a group command.
type GroupByResults[T any] struct {
	Mapped []T
	// Count is the number of documents grouped, or -1 if unreported.
	Count int64
	// Keys is the number of distinct groups, or -1 if unreported.
	Keys int64
	Raw  bson.M
}

// Group runs a group command over inputCollection. Documents are
// filtered by criteria when it is non-nil.
func Group[T any](ctx context.Context, t *Template, criteria bson.M, inputCollection string, groupBy *GroupBy) (*GroupByResults[T], error) {
	if inputCollection == "" {
		return nil, invalidUsage("input collection name must not be empty")
	}
	if groupBy == nil || groupBy.reduce == "" {
		return nil, invalidUsage("group requires a reduce function")
	}

	spec, err := groupBy.document(ctx, t)
	if err != nil {
		return nil, err
	}
	spec = append(spec, bson.E{Key: "ns", Value: inputCollection})
	if criteria != nil {
		spec = append(spec, bson.E{Key: "cond", Value: t.queryMapper.MapQuery(criteria, nil)})
	}

	cmd := bson.D{{Key: "group", Value: spec}}
	t.logger.Debug(message.Fields{
		"message":    "group",
		"collection": inputCollection,
		"command":    cmd,
	})

	res, err := t.runCommand(ctx, cmd, t.cmdOptions)
	if err != nil {
		return nil, err
	}

	out := &GroupByResults[T]{
		Raw:   bson.M(res),
		Count: asInt64(res.Get("count"), -1),
		Keys:  asInt64(res.Get("keys"), -1),
	}

	raw, _ := mapping.AsList(res.Get("retval"))
	cb := newReadCallback[T](t, inputCollection)
	for idx, item := range raw {
		doc, ok := mapping.AsDocument(item)
		if !ok {
			return nil, mappingFailure(nil, "group result %d is not a document", idx)
		}
		result, err := cb.Convert(ctx, doc)
		if err != nil {
			return nil, err
		}
		if result != nil {
			out.Mapped = append(out.Mapped, *result)
		}
	}
	return out, nil
}
