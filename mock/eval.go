package mock

import (
	"sort"
	"strings"

	"github.com/256dpi/lungo/bsonkit"
	"github.com/256dpi/lungo/mongokit"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

// toDoc converts a stored or caller supplied document into the ordered
// form the evaluator works on. Values are normalized to BSON types.
func toDoc(doc bson.M) (bsonkit.Doc, error) {
	if doc == nil {
		return &bson.D{}, nil
	}
	out, err := bsonkit.Convert(doc)
	return out, errors.Wrap(err, "converting document")
}

func fromDoc(doc bsonkit.Doc) (bson.M, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, "encoding document")
	}
	out := bson.M{}
	if err := bson.Unmarshal(raw, &out); err != nil {
		return nil, errors.Wrap(err, "decoding document")
	}
	return out, nil
}

// matches reports whether doc satisfies query.
func matches(doc, query bson.M) (bool, error) {
	d, err := toDoc(doc)
	if err != nil {
		return false, err
	}
	q, err := toDoc(query)
	if err != nil {
		return false, err
	}
	ok, err := mongokit.Match(d, q)
	return ok, errors.Wrap(err, "matching document")
}

func hasOperators(update bson.M) bool {
	for key := range update {
		if strings.HasPrefix(key, "$") {
			return true
		}
	}
	return false
}

// updatedDocument returns a stored copy of doc with update applied. A
// document without operators replaces everything but the _id. upsert
// enables $setOnInsert.
func updatedDocument(doc, query, update bson.M, upsert bool) (bson.M, error) {
	if !hasOperators(update) {
		replacement, err := clone(update)
		if err != nil {
			return nil, err
		}
		if id, ok := doc["_id"]; ok {
			replacement["_id"] = id
		}
		return replacement, nil
	}

	d, err := toDoc(doc)
	if err != nil {
		return nil, err
	}
	q, err := toDoc(query)
	if err != nil {
		return nil, err
	}
	u, err := toDoc(update)
	if err != nil {
		return nil, err
	}
	if _, err = mongokit.Apply(d, q, u, upsert, nil); err != nil {
		return nil, errors.Wrap(err, "applying update")
	}
	return fromDoc(d)
}

// seedFromQuery builds the initial document of an upsert from the
// equality conditions of query.
func seedFromQuery(query bson.M) (bson.M, error) {
	q, err := toDoc(query)
	if err != nil {
		return nil, err
	}

	seed := &bson.D{}
	for _, elem := range *q {
		if strings.HasPrefix(elem.Key, "$") {
			continue
		}
		value := elem.Value
		if ops, ok := value.(bson.D); ok && isOperatorDocument(ops) {
			eq := bsonkit.Get(&ops, "$eq")
			if eq == bsonkit.Missing {
				continue
			}
			value = eq
		}
		if _, err := bsonkit.Put(seed, elem.Key, value, false); err != nil {
			return nil, errors.Wrapf(err, "seeding '%s'", elem.Key)
		}
	}
	return fromDoc(seed)
}

func isOperatorDocument(doc bson.D) bool {
	if len(doc) == 0 {
		return false
	}
	for _, elem := range doc {
		if !strings.HasPrefix(elem.Key, "$") {
			return false
		}
	}
	return true
}

// sortIndexes orders idxs by the documents they point to, using the
// server's cross-type ordering.
func sortIndexes(docs []bson.M, idxs []int, order bson.D) error {
	converted := make(map[int]bsonkit.Doc, len(idxs))
	for _, idx := range idxs {
		d, err := toDoc(docs[idx])
		if err != nil {
			return err
		}
		converted[idx] = d
	}
	sort.SliceStable(idxs, func(i, j int) bool {
		return less(converted[idxs[i]], converted[idxs[j]], order)
	})
	return nil
}

func less(a, b bsonkit.Doc, order bson.D) bool {
	for _, key := range order {
		c := bsonkit.Compare(bsonkit.Get(a, key.Key), bsonkit.Get(b, key.Key))
		if c == 0 {
			continue
		}
		if descending(key.Value) {
			return c > 0
		}
		return c < 0
	}
	return false
}

func descending(direction any) bool {
	switch n := direction.(type) {
	case int:
		return n < 0
	case int32:
		return n < 0
	case int64:
		return n < 0
	case float64:
		return n < 0
	default:
		return false
	}
}

// project applies an inclusion or exclusion projection.
func project(doc, fields bson.M) (bson.M, error) {
	if len(fields) == 0 {
		return doc, nil
	}
	d, err := toDoc(doc)
	if err != nil {
		return nil, err
	}

	include := false
	for key, v := range fields {
		if key == "_id" {
			continue
		}
		include = truthy(v)
		break
	}

	if !include {
		for key, v := range fields {
			if !truthy(v) {
				bsonkit.Unset(d, key)
			}
		}
		return fromDoc(d)
	}

	out := &bson.D{}
	for key, v := range fields {
		if key == "_id" || !truthy(v) {
			continue
		}
		value := bsonkit.Get(d, key)
		if value == bsonkit.Missing {
			continue
		}
		if _, err := bsonkit.Put(out, key, value, false); err != nil {
			return nil, errors.Wrapf(err, "projecting '%s'", key)
		}
	}
	if v, set := fields["_id"]; !set || truthy(v) {
		if id := bsonkit.Get(d, "_id"); id != bsonkit.Missing {
			if _, err := bsonkit.Put(out, "_id", id, true); err != nil {
				return nil, errors.Wrap(err, "projecting '_id'")
			}
		}
	}
	return fromDoc(out)
}

func truthy(v any) bool {
	switch n := v.(type) {
	case bool:
		return n
	case int:
		return n != 0
	case int32:
		return n != 0
	case int64:
		return n != 0
	case float64:
		return n != 0
	default:
		return false
	}
}
