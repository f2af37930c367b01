package db

import (
	"context"
	"fmt"

	"github.com/evergreen-ci/docstore/mapping"
	"github.com/mongodb/grip/message"
	"go.mongodb.org/mongo-driver/bson"
	"gonum.org/v1/gonum/stat"
)

// Metric is a unit of distance on the earth's surface, expressed by the
// radius it multiplies spherical distances with.
type Metric struct {
	Name       string
	Multiplier float64
}

var (
	Kilometers = Metric{Name: "km", Multiplier: 6378.137}
	Miles      = Metric{Name: "mi", Multiplier: 3963.191}
	// Neutral leaves distances in the units stored on the server.
	Neutral = Metric{Name: "", Multiplier: 1}
)

// Distance is a value tagged with the unit it is expressed in.
type Distance struct {
	Value  float64
	Metric Metric
}

func (d Distance) String() string {
	if d.Metric.Name == "" {
		return fmt.Sprintf("%g", d.Value)
	}
	return fmt.Sprintf("%g%s", d.Value, d.Metric.Name)
}

// Point is a legacy coordinate pair.
type Point struct {
	X float64
	Y float64
}

func (p Point) array() bson.A { return bson.A{p.X, p.Y} }

// NearQuery describes a geo-proximity lookup.
type NearQuery struct {
	point       Point
	maxDistance *Distance
	metric      Metric
	num         int
	skip        int
	spherical   bool
	query       Q
	hasQuery    bool
}

// Near returns a query for documents near point, in neutral units.
func Near(x, y float64) *NearQuery {
	return &NearQuery{point: Point{X: x, Y: y}, metric: Neutral}
}

// NearPoint is Near for an existing Point.
func NearPoint(p Point) *NearQuery {
	return Near(p.X, p.Y)
}

// MaxDistance bounds the results. The distance also sets the query's
// metric, which turns on spherical calculation for non-neutral units.
func (n *NearQuery) MaxDistance(d Distance) *NearQuery {
	n.maxDistance = &d
	return n.InMetric(d.Metric)
}

// InMetric sets the unit result distances are reported in.
func (n *NearQuery) InMetric(m Metric) *NearQuery {
	n.metric = m
	if m != Neutral {
		n.spherical = true
	}
	return n
}

// Spherical toggles spherical distance calculation.
func (n *NearQuery) Spherical(spherical bool) *NearQuery {
	n.spherical = spherical
	return n
}

// Num limits the number of results returned after skipping. The server
// is asked for num plus skip results, so num never includes the page
// offset.
func (n *NearQuery) Num(num int) *NearQuery {
	n.num = num
	return n
}

// Skip drops the first results. The server has no notion of skip for
// this lookup, so it is applied to the returned results.
func (n *NearQuery) Skip(skip int) *NearQuery {
	n.skip = skip
	return n
}

// Query narrows the candidate documents. Its limit and skip, when set,
// override Num and Skip.
func (n *NearQuery) Query(q Q) *NearQuery {
	n.query = q
	n.hasQuery = true
	if q.limit > 0 {
		n.num = q.limit
	}
	if q.skip > 0 {
		n.skip = q.skip
	}
	return n
}

func (n *NearQuery) GetMetric() Metric { return n.metric }
func (n *NearQuery) GetSkip() int      { return n.skip }

// command renders the geoNear command against collection.
func (n *NearQuery) command(collection string, mapper QueryMapper, entity *mapping.Entity) bson.D {
	cmd := bson.D{
		{Key: "geoNear", Value: collection},
		{Key: "near", Value: n.point.array()},
	}
	if n.maxDistance != nil {
		cmd = append(cmd, bson.E{Key: "maxDistance", Value: n.maxDistance.Value / n.maxDistance.Metric.Multiplier})
	}
	if n.num > 0 {
		cmd = append(cmd, bson.E{Key: "num", Value: n.num + n.skip})
	}
	if n.hasQuery && n.query.filter != nil {
		cmd = append(cmd, bson.E{Key: "query", Value: mapper.MapQuery(n.query.filter, entity)})
	}
	if n.spherical {
		cmd = append(cmd, bson.E{Key: "spherical", Value: true})
	}
	if n.metric != Neutral {
		cmd = append(cmd, bson.E{Key: "distanceMultiplier", Value: n.metric.Multiplier})
	}
	return cmd
}

// GeoResult is one matched document and its distance from the query
// point.
type GeoResult[T any] struct {
	Content  *T
	Distance Distance
}

// GeoResults holds the results of a geo-proximity lookup.
type GeoResults[T any] struct {
	Results []GeoResult[T]
	// AverageDistance is the server-reported average, nil when results
	// were skipped.
	AverageDistance *Distance
}

// ComputeAverageDistance averages the distances of the returned results
// in the query's metric.
func (r *GeoResults[T]) ComputeAverageDistance(metric Metric) Distance {
	if len(r.Results) == 0 {
		return Distance{Metric: metric}
	}
	values := make([]float64, 0, len(r.Results))
	for _, res := range r.Results {
		values = append(values, res.Distance.Value)
	}
	return Distance{Value: stat.Mean(values, nil), Metric: metric}
}

// Contents returns the matched documents in distance order.
func (r *GeoResults[T]) Contents() []*T {
	out := make([]*T, 0, len(r.Results))
	for _, res := range r.Results {
		out = append(out, res.Content)
	}
	return out
}

// GeoNear runs a geo-proximity lookup against T's collection.
func GeoNear[T any](ctx context.Context, t *Template, near *NearQuery) (*GeoResults[T], error) {
	return GeoNearIn[T](ctx, t, "", near)
}

// GeoNearIn is GeoNear against an explicit collection.
func GeoNearIn[T any](ctx context.Context, t *Template, collection string, near *NearQuery) (*GeoResults[T], error) {
	if near == nil {
		return nil, invalidUsage("near query must not be nil")
	}
	collection, entity, err := t.resolve(Entity[T]().In(collection))
	if err != nil {
		return nil, err
	}

	cmd := near.command(collection, t.queryMapper, entity)
	t.logger.Debug(message.Fields{
		"message":    "geo near",
		"collection": collection,
		"command":    cmd,
	})

	res, err := t.runCommand(ctx, cmd, t.cmdOptions)
	if err != nil {
		return nil, err
	}

	raw, ok := mapping.AsList(res.Get("results"))
	if !ok {
		raw = nil
	}

	cb := &geoCallback[T]{delegate: newReadCallback[T](t, collection), metric: near.metric}
	out := &GeoResults[T]{Results: make([]GeoResult[T], 0, len(raw))}
	for idx, item := range raw {
		if idx < near.skip {
			continue
		}
		doc, ok := mapping.AsDocument(item)
		if !ok {
			return nil, mappingFailure(nil, "geo result %d is not a document", idx)
		}
		result, err := cb.Convert(ctx, doc)
		if err != nil {
			return nil, err
		}
		if result != nil {
			out.Results = append(out.Results, *result)
		}
	}

	if near.skip > 0 {
		return out, nil
	}
	if stats, ok := mapping.AsDocument(res.Get("stats")); ok {
		if avg, ok := toFloat(stats["avgDistance"]); ok {
			out.AverageDistance = &Distance{Value: avg, Metric: near.metric}
		}
	}
	return out, nil
}
