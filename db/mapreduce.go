package db

import (
	"context"

	"github.com/evergreen-ci/docstore/mapping"
	"github.com/mongodb/grip/message"
	"go.mongodb.org/mongo-driver/bson"
)

// OutputMode controls where map-reduce output is written.
type OutputMode string

const (
	OutputInline  OutputMode = "inline"
	OutputReplace OutputMode = "replace"
	OutputMerge   OutputMode = "merge"
	OutputReduce  OutputMode = "reduce"
)

// MapReduceOptions configures a map-reduce run. The zero value writes
// its output inline.
type MapReduceOptions struct {
	OutputCollection string
	// OutputMode defaults to inline without an output collection and to
	// replace with one.
	OutputMode     OutputMode
	OutputDatabase string
	OutputSharded  *bool
	// Finalize may be script text or a script resource reference.
	Finalize       string
	ScopeVariables bson.M
	JavaScriptMode bool
	ExtraOptions   bson.M
}

func (o MapReduceOptions) mode() OutputMode {
	if o.OutputMode != "" {
		return o.OutputMode
	}
	if o.OutputCollection == "" {
		return OutputInline
	}
	return OutputReplace
}

func (o MapReduceOptions) out() any {
	mode := o.mode()
	if mode == OutputInline {
		return bson.D{{Key: "inline", Value: 1}}
	}
	out := bson.D{{Key: string(mode), Value: o.OutputCollection}}
	if o.OutputDatabase != "" {
		out = append(out, bson.E{Key: "db", Value: o.OutputDatabase})
	}
	if o.OutputSharded != nil {
		out = append(out, bson.E{Key: "sharded", Value: *o.OutputSharded})
	}
	return out
}

// MapReduceTiming holds the server-reported durations in milliseconds.
type MapReduceTiming struct {
	MapTime   int64
	EmitLoop  int64
	TotalTime int64
}

// MapReduceCounts holds the server-reported document counts.
type MapReduceCounts struct {
	Input  int64
	Emit   int64
	Output int64
}

// MapReduceResults holds the mapped output of a map-reduce run.
type MapReduceResults[T any] struct {
	Mapped           []T
	Timing           MapReduceTiming
	Counts           MapReduceCounts
	OutputCollection string
	Raw              bson.M
}

// MapReduce runs a map-reduce over inputCollection and maps the output
// documents to T. q may contribute its filter, sort and limit only; pass
// the zero Q to run over the whole collection.
func MapReduce[T any](ctx context.Context, t *Template, q Q, inputCollection, mapFunction, reduceFunction string, opts MapReduceOptions) (*MapReduceResults[T], error) {
	if inputCollection == "" {
		return nil, invalidUsage("input collection name must not be empty")
	}
	if mapFunction == "" || reduceFunction == "" {
		return nil, invalidUsage("map and reduce functions must not be empty")
	}
	if opts.mode() != OutputInline && opts.OutputCollection == "" {
		return nil, invalidUsage("output collection must be set for output mode '%s'", opts.mode())
	}
	if q.skip != 0 || q.projection != nil {
		return nil, invalidUsage("can not use skip or field specification with map reduce operations")
	}

	mapFunc, err := t.resolveScript(ctx, mapFunction)
	if err != nil {
		return nil, err
	}
	reduceFunc, err := t.resolveScript(ctx, reduceFunction)
	if err != nil {
		return nil, err
	}

	cmd := bson.D{
		{Key: "mapreduce", Value: inputCollection},
		{Key: "map", Value: mapFunc},
		{Key: "reduce", Value: reduceFunc},
		{Key: "out", Value: opts.out()},
	}

	if opts.Finalize != "" {
		finalize, err := t.resolveScript(ctx, opts.Finalize)
		if err != nil {
			return nil, err
		}
		cmd = append(cmd, bson.E{Key: "finalize", Value: finalize})
	}
	if len(opts.ScopeVariables) > 0 {
		cmd = append(cmd, bson.E{Key: "scope", Value: opts.ScopeVariables})
	}
	if opts.JavaScriptMode {
		cmd = append(cmd, bson.E{Key: "jsMode", Value: true})
	}
	for key, value := range opts.ExtraOptions {
		cmd = append(cmd, bson.E{Key: key, Value: value})
	}

	if q.filter != nil {
		cmd = append(cmd, bson.E{Key: "query", Value: t.queryMapper.MapQuery(q.filter, nil)})
	}
	if q.limit > 0 {
		cmd = append(cmd, bson.E{Key: "limit", Value: q.limit})
	}
	if q.HasSort() {
		cmd = append(cmd, bson.E{Key: "sort", Value: q.sortDocument(nil)})
	}

	t.logger.Debug(message.Fields{
		"message":    "map reduce",
		"collection": inputCollection,
		"map":        mapFunc,
		"reduce":     reduceFunc,
		"out":        opts.out(),
	})

	options := 0
	if opts.mode() == OutputInline {
		options = t.cmdOptions
	}
	res, err := t.runCommand(ctx, cmd, options)
	if err != nil {
		return nil, err
	}

	out := &MapReduceResults[T]{
		Raw:    bson.M(res),
		Timing: parseMapReduceTiming(bson.M(res)),
		Counts: parseMapReduceCounts(bson.M(res)),
	}

	cb := newReadCallback[T](t, inputCollection)
	convert := func(doc bson.M) error {
		result, err := cb.Convert(ctx, doc)
		if err != nil {
			return err
		}
		if result != nil {
			out.Mapped = append(out.Mapped, *result)
		}
		return nil
	}

	if opts.mode() == OutputInline {
		raw, _ := mapping.AsList(res.Get("results"))
		for idx, item := range raw {
			doc, ok := mapping.AsDocument(item)
			if !ok {
				return nil, mappingFailure(nil, "map reduce result %d is not a document", idx)
			}
			if err := convert(doc); err != nil {
				return nil, err
			}
		}
		return out, nil
	}

	out.OutputCollection = outputCollectionName(bson.M(res), opts.OutputCollection)
	if opts.OutputDatabase != "" && opts.OutputDatabase != t.db.Name() {
		// Output in another database is left for the caller to read.
		return out, nil
	}
	cur := t.db.C(out.OutputCollection).Find(ctx, bson.M{}, nil)
	if err := t.iterate(ctx, cur, nil, convert); err != nil {
		return nil, err
	}
	return out, nil
}

func outputCollectionName(res bson.M, fallback string) string {
	switch v := res["result"].(type) {
	case string:
		return v
	default:
		if doc, ok := mapping.AsDocument(v); ok {
			if name, ok := doc["collection"].(string); ok {
				return name
			}
		}
	}
	return fallback
}

func parseMapReduceTiming(res bson.M) MapReduceTiming {
	timing := MapReduceTiming{MapTime: -1, EmitLoop: -1, TotalTime: -1}
	if doc, ok := mapping.AsDocument(res["timing"]); ok {
		timing.MapTime = asInt64(doc["mapTime"], -1)
		timing.EmitLoop = asInt64(doc["emitLoop"], -1)
		timing.TotalTime = asInt64(doc["total"], -1)
	}
	if timing.TotalTime < 0 {
		timing.TotalTime = asInt64(res["timeMillis"], -1)
	}
	return timing
}

func parseMapReduceCounts(res bson.M) MapReduceCounts {
	counts := MapReduceCounts{Input: -1, Emit: -1, Output: -1}
	if doc, ok := mapping.AsDocument(res["counts"]); ok {
		counts.Input = asInt64(doc["input"], -1)
		counts.Emit = asInt64(doc["emit"], -1)
		counts.Output = asInt64(doc["output"], -1)
	}
	return counts
}

func asInt64(v any, fallback int64) int64 {
	if f, ok := toFloat(v); ok {
		return int64(f)
	}
	return fallback
}
