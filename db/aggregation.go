package db

import (
	"context"
	"reflect"

	"github.com/evergreen-ci/docstore/mapping"
	"github.com/mongodb/grip/message"
	"go.mongodb.org/mongo-driver/bson"
)

// AggregationContext maps pipeline stages to their storage form before
// the pipeline is sent.
type AggregationContext interface {
	MapStage(stage bson.M) bson.M
}

// noopAggregationContext sends stages unchanged.
type noopAggregationContext struct{}

func (noopAggregationContext) MapStage(stage bson.M) bson.M { return stage }

// typedAggregationContext maps the field names of $match and $sort
// stages through an input entity.
type typedAggregationContext struct {
	mapper QueryMapper
	entity *mapping.Entity
}

// NewTypeBasedAggregationContext maps $match criteria and $sort keys
// through entity.
func NewTypeBasedAggregationContext(mapper QueryMapper, entity *mapping.Entity) AggregationContext {
	return &typedAggregationContext{mapper: mapper, entity: entity}
}

func (c *typedAggregationContext) MapStage(stage bson.M) bson.M {
	out := make(bson.M, len(stage))
	for op, value := range stage {
		switch op {
		case "$match":
			if criteria, ok := mapping.AsDocument(value); ok {
				out[op] = c.mapper.MapQuery(criteria, c.entity)
				continue
			}
		case "$sort":
			if keys, ok := value.(bson.D); ok {
				sorted := make(bson.D, 0, len(keys))
				for _, e := range keys {
					sorted = append(sorted, bson.E{Key: c.entity.FieldName(e.Key), Value: e.Value})
				}
				out[op] = sorted
				continue
			}
			if keys, ok := mapping.AsDocument(value); ok {
				sorted := make(bson.M, len(keys))
				for key, direction := range keys {
					sorted[c.entity.FieldName(key)] = direction
				}
				out[op] = sorted
				continue
			}
		}
		out[op] = value
	}
	return out
}

// Aggregation is an aggregation pipeline, optionally bound to the type
// of its input documents.
type Aggregation struct {
	stages    []bson.M
	inputType reflect.Type
	context   AggregationContext
}

// NewAggregation builds an untyped pipeline from stages.
func NewAggregation(stages ...bson.M) *Aggregation {
	return &Aggregation{stages: stages}
}

// NewTypedAggregation builds a pipeline reading documents of type I.
// Field names in $match and $sort stages are mapped through I unless an
// explicit context is set.
func NewTypedAggregation[I any](stages ...bson.M) *Aggregation {
	return &Aggregation{stages: stages, inputType: reflect.TypeOf((*I)(nil)).Elem()}
}

// WithContext overrides the context used to map stages.
func (a *Aggregation) WithContext(ctx AggregationContext) *Aggregation {
	a.context = ctx
	return a
}

// Stages returns the pipeline stages as given.
func (a *Aggregation) Stages() []bson.M { return a.stages }

// InputType returns the input type of a typed aggregation, or nil.
func (a *Aggregation) InputType() reflect.Type { return a.inputType }

// pipeline renders the stages through ctx.
func (a *Aggregation) pipeline(ctx AggregationContext) bson.A {
	out := make(bson.A, 0, len(a.stages))
	for _, stage := range a.stages {
		out = append(out, ctx.MapStage(stage))
	}
	return out
}

// AggregationResults holds the mapped output of an aggregation and the
// raw command reply.
type AggregationResults[O any] struct {
	Mapped []O
	Raw    bson.M
}

// UniqueMappedResult returns the single mapped result, nil when there
// is none, and an error when there are several.
func (r *AggregationResults[O]) UniqueMappedResult() (*O, error) {
	switch len(r.Mapped) {
	case 0:
		return nil, nil
	case 1:
		return &r.Mapped[0], nil
	default:
		return nil, invalidUsage("expected unique result but got %d results", len(r.Mapped))
	}
}

// ServerUsed returns the server address reported in the reply, if any.
func (r *AggregationResults[O]) ServerUsed() string {
	s, _ := r.Raw["serverUsed"].(string)
	return s
}

// Aggregate runs agg against collection and maps each output document
// to O. An empty collection name uses the collection of a typed
// aggregation's input type.
func Aggregate[O any](ctx context.Context, t *Template, collection string, agg *Aggregation) (*AggregationResults[O], error) {
	if agg == nil {
		return nil, invalidUsage("aggregation pipeline must not be nil")
	}

	var input *mapping.Entity
	if agg.inputType != nil {
		input = t.entityFor(agg.inputType)
	}
	if collection == "" {
		if input == nil {
			return nil, invalidUsage("collection name must not be empty for an untyped aggregation")
		}
		collection = input.Collection
	}

	aggCtx := agg.context
	if aggCtx == nil {
		if input != nil {
			aggCtx = NewTypeBasedAggregationContext(t.queryMapper, input)
		} else {
			aggCtx = noopAggregationContext{}
		}
	}

	cmd := bson.D{
		{Key: "aggregate", Value: collection},
		{Key: "pipeline", Value: agg.pipeline(aggCtx)},
		{Key: "cursor", Value: bson.M{}},
	}
	t.logger.Debug(message.Fields{
		"message":    "aggregate",
		"collection": collection,
		"command":    cmd,
	})

	res, err := t.runCommand(ctx, cmd, t.cmdOptions)
	if err != nil {
		return nil, err
	}

	raw := aggregationOutput(bson.M(res))
	cb := &unwrapCallback[O]{delegate: newReadCallback[O](t, collection)}
	out := &AggregationResults[O]{Mapped: make([]O, 0, len(raw)), Raw: bson.M(res)}
	for idx, item := range raw {
		doc, ok := mapping.AsDocument(item)
		if !ok {
			return nil, mappingFailure(nil, "aggregation result %d is not a document", idx)
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

// aggregationOutput returns the result documents of an aggregate reply,
// which older servers put under "result" and newer ones in the first
// cursor batch.
func aggregationOutput(res bson.M) []any {
	if list, ok := mapping.AsList(res["result"]); ok {
		return list
	}
	if cursor, ok := mapping.AsDocument(res["cursor"]); ok {
		if list, ok := mapping.AsList(cursor["firstBatch"]); ok {
			return list
		}
	}
	return nil
}
