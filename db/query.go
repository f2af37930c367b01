package db

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

var (
	NoProjection bson.M
	NoSort       = []string{}
	NoSkip       = 0
	NoLimit      = 0
	NoHint       = ""
)

// Q holds all information necessary to execute a query. Q is a value
// type: every builder method returns a modified copy.
type Q struct {
	filter     bson.M
	projection bson.M
	sort       []string
	skip       int
	limit      int
	hint       string
	maxTime    time.Duration
}

// Query creates a db.Q for the given filter.
func Query(filter bson.M) Q {
	return Q{filter: filter}
}

// Filter sets the match criteria.
func (q Q) Filter(filter bson.M) Q {
	q.filter = filter
	return q
}

// Project sets the projection document.
func (q Q) Project(projection bson.M) Q {
	q.projection = projection
	return q
}

// WithFields restricts the projection to the given fields.
func (q Q) WithFields(fields ...string) Q {
	projection := bson.M{}
	for _, f := range fields {
		projection[f] = 1
	}
	q.projection = projection
	return q
}

// WithoutFields excludes the given fields from the projection.
func (q Q) WithoutFields(fields ...string) Q {
	projection := bson.M{}
	for _, f := range fields {
		projection[f] = 0
	}
	q.projection = projection
	return q
}

// Sort sets the sort order. A field prefixed with "-" sorts descending.
func (q Q) Sort(sort []string) Q {
	q.sort = sort
	return q
}

func (q Q) Skip(skip int) Q {
	q.skip = skip
	return q
}

func (q Q) Limit(limit int) Q {
	q.limit = limit
	return q
}

// Hint names the index the server should use.
func (q Q) Hint(hint string) Q {
	q.hint = hint
	return q
}

// MaxTime bounds the time a read may take.
func (q Q) MaxTime(duration time.Duration) Q {
	q.maxTime = duration
	return q
}

func (q Q) GetFilter() bson.M     { return q.filter }
func (q Q) GetProjection() bson.M { return q.projection }
func (q Q) GetSort() []string     { return q.sort }
func (q Q) GetSkip() int          { return q.skip }
func (q Q) GetLimit() int         { return q.limit }
func (q Q) GetHint() string       { return q.hint }

// HasSort reports whether a sort was requested.
func (q Q) HasSort() bool { return len(q.sort) > 0 }

// IsNil reports whether the query carries no filter at all, as opposed
// to an empty filter matching everything.
func (q Q) IsNil() bool { return q.filter == nil }

// needsPreparation reports whether any cursor modifier is set.
func (q Q) needsPreparation() bool {
	return q.skip > 0 || q.limit > 0 || q.HasSort() || q.hint != ""
}

// sortDocument turns the sort fields into an ordered sort document,
// translating each field name with mapField.
func (q Q) sortDocument(mapField func(string) string) bson.D {
	if len(q.sort) == 0 {
		return nil
	}
	out := make(bson.D, 0, len(q.sort))
	for _, field := range q.sort {
		direction := 1
		if strings.HasPrefix(field, "-") {
			direction = -1
			field = field[1:]
		} else {
			field = strings.TrimPrefix(field, "+")
		}
		if mapField != nil {
			field = mapField(field)
		}
		out = append(out, bson.E{Key: field, Value: direction})
	}
	return out
}
