package mapping

import (
	"reflect"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Converter turns domain objects into documents and back.
type Converter interface {
	Write(obj any) (bson.M, error)
	Read(doc bson.M, out any) error
}

// BSONConverter converts using the bson struct tags of the driver's
// default registry.
type BSONConverter struct{}

func (BSONConverter) Write(obj any) (bson.M, error) {
	if obj == nil {
		return nil, errors.New("cannot convert nil object")
	}
	raw, err := bson.Marshal(obj)
	if err != nil {
		return nil, errors.Wrapf(err, "marshalling '%T'", obj)
	}
	doc := bson.M{}
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrapf(err, "unmarshalling '%T' into a document", obj)
	}
	return doc, nil
}

func (BSONConverter) Read(doc bson.M, out any) error {
	if doc == nil {
		return errors.New("cannot read nil document")
	}
	raw, err := bson.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "marshalling document")
	}
	return errors.Wrapf(bson.Unmarshal(raw, out), "unmarshalling document into '%T'", out)
}

// AsDocument normalizes the nested document representations the driver
// may produce into a bson.M.
func AsDocument(v any) (bson.M, bool) {
	switch doc := v.(type) {
	case bson.M:
		return doc, true
	case map[string]any:
		return bson.M(doc), true
	case primitive.D:
		return doc.Map(), true
	case bson.Raw:
		out := bson.M{}
		if err := bson.Unmarshal(doc, &out); err != nil {
			return nil, false
		}
		return out, true
	default:
		return nil, false
	}
}

// AsList normalizes array values into a slice.
func AsList(v any) ([]any, bool) {
	switch list := v.(type) {
	case []any:
		return list, true
	case primitive.A:
		return []any(list), true
	case []bson.M:
		out := make([]any, len(list))
		for i := range list {
			out[i] = list[i]
		}
		return out, true
	}

	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, false
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
