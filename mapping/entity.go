package mapping

import (
	"reflect"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	// IDField is the storage key every document carries.
	IDField = "_id"

	// TagName is the struct tag used to mark the version property,
	// e.g. `docstore:"version"`.
	TagName    = "docstore"
	versionTag = "version"
)

// Identifiable is implemented by entities whose id can be read and
// assigned without reflection. DocumentID returns nil when the id is
// unset.
type Identifiable interface {
	DocumentID() any
	SetDocumentID(id any)
}

// Versioned is implemented by entities carrying an optimistic locking
// counter. DocumentVersion reports false when no version has been
// assigned yet.
type Versioned interface {
	DocumentVersion() (int64, bool)
	SetDocumentVersion(version int64)
}

// Property describes one mapped struct field.
type Property struct {
	// Name is the Go field name used in domain queries.
	Name string
	// Field is the storage key.
	Field string
	Type  reflect.Type

	index  []int
	nested *Entity
}

// Nested returns the metadata of a struct-typed property, or nil.
func (p *Property) Nested() *Entity { return p.nested }

// IsObjectID reports whether values of the property are stored as
// ObjectIDs.
func (p *Property) IsObjectID() bool {
	t := p.Type
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t == objectIDType
}

// Entity is the mapping metadata of one domain type.
type Entity struct {
	Type       reflect.Type
	Collection string
	ID         *Property
	Version    *Property

	byName  map[string]*Property
	byField map[string]*Property
}

var (
	objectIDType = reflect.TypeOf(primitive.ObjectID{})
	timeType     = reflect.TypeOf(time.Time{})
)

// NewEntity builds metadata for the struct type of sample, which may be
// a value or a pointer. An empty collection name defaults to the type
// name with a lowercase first letter.
func NewEntity(sample any, collection string) (*Entity, error) {
	t := indirectType(reflect.TypeOf(sample))
	if t == nil || t.Kind() != reflect.Struct {
		return nil, errors.Errorf("type '%T' is not a struct", sample)
	}

	e, err := buildEntity(t, map[reflect.Type]*Entity{})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if collection == "" {
		collection = uncapitalize(t.Name())
	}
	e.Collection = collection

	return e, nil
}

func buildEntity(t reflect.Type, seen map[reflect.Type]*Entity) (*Entity, error) {
	if e, ok := seen[t]; ok {
		return e, nil
	}
	e := &Entity{
		Type:    t,
		byName:  map[string]*Property{},
		byField: map[string]*Property{},
	}
	seen[t] = e

	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		field, skip := storageName(sf)
		if skip {
			continue
		}

		prop := &Property{Name: sf.Name, Field: field, Type: sf.Type, index: sf.Index}
		if inner := elementType(sf.Type); isNestable(inner) {
			nested, err := buildEntity(inner, seen)
			if err != nil {
				return nil, err
			}
			prop.nested = nested
		}

		if field == IDField {
			if e.ID != nil {
				return nil, errors.Errorf("type '%s' declares more than one id field", t.Name())
			}
			e.ID = prop
		}
		if sf.Tag.Get(TagName) == versionTag {
			if !isNumeric(sf.Type) {
				return nil, errors.Errorf("version field '%s' of type '%s' is not numeric", sf.Name, t.Name())
			}
			e.Version = prop
		}

		e.byName[prop.Name] = prop
		e.byField[prop.Field] = prop
	}

	return e, nil
}

// HasVersion reports whether the entity declares a version property.
func (e *Entity) HasVersion() bool { return e != nil && e.Version != nil }

// IDFieldName returns the storage key of the id property, or "_id".
func (e *Entity) IDFieldName() string {
	if e == nil || e.ID == nil {
		return IDField
	}
	return e.ID.Field
}

// Property looks up a property by its Go name or its storage key.
func (e *Entity) Property(name string) (*Property, bool) {
	if e == nil {
		return nil, false
	}
	if p, ok := e.byName[name]; ok {
		return p, true
	}
	p, ok := e.byField[name]
	return p, ok
}

// FieldName translates a possibly dotted domain path into its storage
// path. Unknown segments pass through unchanged.
func (e *Entity) FieldName(path string) string {
	name, _ := e.resolve(path)
	return name
}

// resolve returns the storage path and the property of the last segment
// when every segment could be mapped.
func (e *Entity) resolve(path string) (string, *Property) {
	if e == nil {
		return path, nil
	}
	parts := strings.Split(path, ".")
	current := e
	var last *Property
	for i, part := range parts {
		if current == nil {
			last = nil
			break
		}
		p, ok := current.Property(part)
		if !ok {
			last = nil
			current = nil
			continue
		}
		parts[i] = p.Field
		last = p
		current = p.nested
	}
	return strings.Join(parts, "."), last
}

// CanGenerateID reports whether an unset id of this entity can be
// generated by the store.
func (e *Entity) CanGenerateID() bool {
	if e == nil || e.ID == nil {
		return true
	}
	t := indirectType(e.ID.Type)
	switch {
	case t == objectIDType:
		return true
	case t.Kind() == reflect.String:
		return true
	case t.Kind() == reflect.Interface:
		return true
	default:
		return false
	}
}

// IsStringID reports whether the id property holds a string, in which
// case generated ids are ObjectID hex strings.
func (e *Entity) IsStringID() bool {
	return e != nil && e.ID != nil && indirectType(e.ID.Type).Kind() == reflect.String
}

// IDOf returns obj's id. Identifiable objects report their own id, other
// structs are read through the id field.
func (e *Entity) IDOf(obj any) (any, bool) {
	if identifiable, ok := obj.(Identifiable); ok {
		return identifiable.DocumentID(), true
	}
	field, ok := e.idValue(obj)
	if !ok {
		return nil, false
	}
	for field.Kind() == reflect.Ptr {
		if field.IsNil() {
			return nil, true
		}
		field = field.Elem()
	}
	return field.Interface(), true
}

// SetID assigns id to obj. A generated ObjectID assigned to a string id
// property is stored as its hex form.
func (e *Entity) SetID(obj, id any) error {
	if oid, ok := id.(primitive.ObjectID); ok && e.IsStringID() {
		id = oid.Hex()
	}
	if identifiable, ok := obj.(Identifiable); ok {
		identifiable.SetDocumentID(id)
		return nil
	}

	field, ok := e.idValue(obj)
	if !ok {
		return errors.Errorf("cannot access the id field of '%T'", obj)
	}
	if !field.CanSet() {
		return errors.Errorf("id field of '%T' is not settable, pass a pointer", obj)
	}

	value := reflect.ValueOf(id)
	switch {
	case !value.IsValid():
		field.Set(reflect.Zero(field.Type()))
	case value.Type().AssignableTo(field.Type()):
		field.Set(value)
	case field.Kind() == reflect.Ptr && value.Type().AssignableTo(field.Type().Elem()):
		ptr := reflect.New(field.Type().Elem())
		ptr.Elem().Set(value)
		field.Set(ptr)
	default:
		return errors.Errorf("cannot assign id of type '%T' to field '%s' of type '%s'", id, e.ID.Name, e.ID.Type)
	}
	return nil
}

func (e *Entity) idValue(obj any) (reflect.Value, bool) {
	if e == nil || e.ID == nil || obj == nil {
		return reflect.Value{}, false
	}
	v := reflect.ValueOf(obj)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return reflect.Value{}, false
		}
		v = v.Elem()
	}
	if v.Type() != e.Type {
		return reflect.Value{}, false
	}
	return v.FieldByIndex(e.ID.index), true
}

// IsZeroID reports whether id counts as unset.
func IsZeroID(id any) bool {
	if id == nil {
		return true
	}
	switch v := id.(type) {
	case string:
		return v == ""
	case primitive.ObjectID:
		return v.IsZero()
	}
	rv := reflect.ValueOf(id)
	return rv.IsZero()
}

func storageName(sf reflect.StructField) (string, bool) {
	tag := sf.Tag.Get("bson")
	if tag == "-" {
		return "", true
	}
	name := strings.Split(tag, ",")[0]
	if name == "" {
		name = strings.ToLower(sf.Name)
	}
	return name, false
}

func indirectType(t reflect.Type) reflect.Type {
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

// elementType unwraps pointers and the element type of slices and
// arrays.
func elementType(t reflect.Type) reflect.Type {
	t = indirectType(t)
	for t != nil && (t.Kind() == reflect.Slice || t.Kind() == reflect.Array) {
		t = indirectType(t.Elem())
	}
	return t
}

func isNestable(t reflect.Type) bool {
	return t != nil && t.Kind() == reflect.Struct && t != timeType && t != objectIDType &&
		t.PkgPath() != "go.mongodb.org/mongo-driver/bson/primitive"
}

func isNumeric(t reflect.Type) bool {
	switch indirectType(t).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}

func uncapitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToLower(r[0])
	return string(r)
}

// Context is a concurrency safe registry of entity metadata keyed by
// domain type.
type Context struct {
	mu       sync.RWMutex
	entities map[reflect.Type]*Entity
}

// NewContext returns an empty registry.
func NewContext() *Context {
	return &Context{entities: map[reflect.Type]*Entity{}}
}

// Register builds and stores metadata for the type of sample.
func (c *Context) Register(sample any, collection string) (*Entity, error) {
	e, err := NewEntity(sample, collection)
	if err != nil {
		return nil, errors.Wrapf(err, "registering type '%T'", sample)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entities[e.Type] = e

	return e, nil
}

// MustRegister is Register that panics on error. It is intended for
// package level registration of known types.
func (c *Context) MustRegister(sample any, collection string) *Entity {
	e, err := c.Register(sample, collection)
	if err != nil {
		panic(err)
	}
	return e
}

// Entity returns the metadata for t, dereferencing pointer types.
func (c *Context) Entity(t reflect.Type) (*Entity, bool) {
	t = indirectType(t)
	if t == nil {
		return nil, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entities[t]
	return e, ok
}

// EntityOf returns the metadata for the dynamic type of obj.
func (c *Context) EntityOf(obj any) (*Entity, bool) {
	if obj == nil {
		return nil, false
	}
	return c.Entity(reflect.TypeOf(obj))
}
