package mapping

import (
	"reflect"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Mapper translates query and update documents written with domain
// field names into storage documents. Unknown fields pass through
// verbatim and the input documents are never modified.
type Mapper struct {
	Converter Converter
}

// NewMapper returns a mapper that uses conv to turn struct values into
// documents. A nil converter means BSONConverter.
func NewMapper(conv Converter) *Mapper {
	if conv == nil {
		conv = BSONConverter{}
	}
	return &Mapper{Converter: conv}
}

// MapQuery maps criteria for entity. A nil entity maps nothing but
// still copies the document.
func (m *Mapper) MapQuery(query bson.M, entity *Entity) bson.M {
	if query == nil {
		return nil
	}

	out := make(bson.M, len(query))
	for key, value := range query {
		switch key {
		case "$and", "$or", "$nor":
			out[key] = m.mapClauses(value, entity)
			continue
		}
		if strings.HasPrefix(key, "$") {
			out[key] = value
			continue
		}

		field, prop := entity.resolve(key)
		out[field] = m.mapCriteria(value, prop, entity == nil)
	}

	return out
}

func (m *Mapper) mapClauses(value any, entity *Entity) any {
	clauses, ok := AsList(value)
	if !ok {
		return value
	}
	out := make([]any, len(clauses))
	for i, clause := range clauses {
		if doc, ok := AsDocument(clause); ok {
			out[i] = m.MapQuery(doc, entity)
			continue
		}
		out[i] = clause
	}
	return out
}

func (m *Mapper) mapCriteria(value any, prop *Property, raw bool) any {
	doc, ok := AsDocument(value)
	if !ok {
		return m.convert(value, prop, raw)
	}

	if !isOperatorDocument(doc) {
		if prop != nil && prop.nested != nil {
			return m.MapQuery(doc, prop.nested)
		}
		return copyDocument(doc)
	}

	out := make(bson.M, len(doc))
	for op, operand := range doc {
		switch op {
		case "$in", "$nin", "$all":
			out[op] = m.convertList(operand, prop, raw)
		case "$elemMatch":
			if inner, ok := AsDocument(operand); ok && prop != nil && prop.nested != nil {
				out[op] = m.MapQuery(inner, prop.nested)
			} else {
				out[op] = operand
			}
		case "$not":
			out[op] = m.mapCriteria(operand, prop, raw)
		case "$exists", "$type", "$regex", "$options", "$size", "$mod", "$near", "$nearSphere", "$within", "$geoWithin", "$maxDistance":
			out[op] = operand
		default:
			out[op] = m.convert(operand, prop, raw)
		}
	}
	return out
}

// MapUpdate maps an update document for entity. Operator documents have
// their field keys mapped; anything else is treated as a replacement
// document.
func (m *Mapper) MapUpdate(update bson.M, entity *Entity) bson.M {
	if update == nil {
		return nil
	}

	out := make(bson.M, len(update))
	for key, value := range update {
		if !strings.HasPrefix(key, "$") {
			field, prop := entity.resolve(key)
			out[field] = m.convertUpdateValue(value, prop, entity == nil)
			continue
		}

		doc, ok := AsDocument(value)
		if !ok {
			out[key] = value
			continue
		}
		mapped := make(bson.M, len(doc))
		for name, operand := range doc {
			field, prop := entity.resolve(name)
			switch key {
			case "$unset", "$currentDate":
				mapped[field] = operand
			case "$rename":
				if target, ok := operand.(string); ok {
					mapped[field] = entity.FieldName(target)
				} else {
					mapped[field] = operand
				}
			case "$push", "$addToSet":
				mapped[field] = m.mapEach(operand, prop, entity == nil)
			case "$pull":
				mapped[field] = m.mapCriteria(operand, prop, entity == nil)
			case "$pullAll":
				mapped[field] = m.convertList(operand, prop, entity == nil)
			default:
				mapped[field] = m.convertUpdateValue(operand, prop, entity == nil)
			}
		}
		out[key] = mapped
	}

	return out
}

func (m *Mapper) mapEach(value any, prop *Property, raw bool) any {
	doc, ok := AsDocument(value)
	if ok && isOperatorDocument(doc) {
		out := make(bson.M, len(doc))
		for op, operand := range doc {
			if op == "$each" {
				out[op] = m.convertList(operand, prop, raw)
				continue
			}
			out[op] = operand
		}
		return out
	}
	return m.convertUpdateValue(value, prop, raw)
}

func (m *Mapper) convertUpdateValue(value any, prop *Property, raw bool) any {
	if doc, ok := AsDocument(value); ok {
		if prop != nil && prop.nested != nil {
			return m.MapUpdate(doc, prop.nested)
		}
		return copyDocument(doc)
	}
	return m.convert(value, prop, raw)
}

func (m *Mapper) convertList(value any, prop *Property, raw bool) any {
	list, ok := AsList(value)
	if !ok {
		return m.convert(value, prop, raw)
	}
	out := make([]any, len(list))
	for i, item := range list {
		out[i] = m.convert(item, prop, raw)
	}
	return out
}

// convert converts a single value to its storage representation.
func (m *Mapper) convert(value any, prop *Property, raw bool) any {
	if raw || value == nil {
		return value
	}

	if prop != nil && prop.IsObjectID() {
		if hex, ok := value.(string); ok {
			if oid, err := primitive.ObjectIDFromHex(hex); err == nil {
				return oid
			}
		}
	}

	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return value
		}
		rv = rv.Elem()
	}
	if rv.Kind() == reflect.Struct && isNestable(rv.Type()) {
		doc, err := m.Converter.Write(value)
		if err != nil {
			return value
		}
		return doc
	}

	return value
}

func isOperatorDocument(doc bson.M) bool {
	if len(doc) == 0 {
		return false
	}
	for key := range doc {
		if !strings.HasPrefix(key, "$") {
			return false
		}
	}
	return true
}

func copyDocument(doc bson.M) bson.M {
	out := make(bson.M, len(doc))
	for k, v := range doc {
		if inner, ok := AsDocument(v); ok {
			out[k] = copyDocument(inner)
			continue
		}
		out[k] = v
	}
	return out
}
