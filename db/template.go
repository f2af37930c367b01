package db

import (
	"context"
	"reflect"

	"github.com/evergreen-ci/docstore/driver"
	"github.com/evergreen-ci/docstore/event"
	"github.com/evergreen-ci/docstore/mapping"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/logging"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

// QueryMapper maps criteria documents to their storage form.
type QueryMapper interface {
	MapQuery(query bson.M, entity *mapping.Entity) bson.M
}

// UpdateMapper maps update documents to their storage form.
type UpdateMapper interface {
	MapUpdate(update bson.M, entity *mapping.Entity) bson.M
}

// ScriptLoader resolves references to externally stored script text
// used by map-reduce and group.
type ScriptLoader interface {
	IsResource(ref string) bool
	Load(ctx context.Context, ref string) (string, error)
}

// TemplateOptions configures a Template. Only Database is required.
type TemplateOptions struct {
	Database             driver.Database
	Mappings             *mapping.Context
	Converter            mapping.Converter
	QueryMapper          QueryMapper
	UpdateMapper         UpdateMapper
	WriteConcern         *writeconcern.WriteConcern
	WriteConcernResolver WriteConcernResolver
	WriteResultChecking  WriteResultChecking
	Translator           ExceptionTranslator
	// Listener receives lifecycle events; nil disables them.
	Listener event.Listener
	// Scripts resolves script references; nil treats every function
	// body as literal script text.
	Scripts ScriptLoader
	Logger  grip.Journaler
	// CommandOptions is the option bitmask used for commands that read
	// their results inline.
	CommandOptions int
}

// Validate checks the options and fills in defaults.
func (o *TemplateOptions) Validate() error {
	catcher := grip.NewBasicCatcher()
	catcher.NewWhen(o.Database == nil, "database must be specified")
	if o.WriteResultChecking == "" {
		o.WriteResultChecking = WriteResultCheckingNone
	}
	catcher.Add(o.WriteResultChecking.Validate())
	if catcher.HasErrors() {
		return catcher.Resolve()
	}

	if o.Mappings == nil {
		o.Mappings = mapping.NewContext()
	}
	if o.Converter == nil {
		o.Converter = mapping.BSONConverter{}
	}
	if o.QueryMapper == nil || o.UpdateMapper == nil {
		mapper := mapping.NewMapper(o.Converter)
		if o.QueryMapper == nil {
			o.QueryMapper = mapper
		}
		if o.UpdateMapper == nil {
			o.UpdateMapper = mapper
		}
	}
	if o.WriteConcernResolver == nil {
		o.WriteConcernResolver = DefaultWriteConcernResolver{}
	}
	if o.Translator == nil {
		o.Translator = DefaultExceptionTranslator{}
	}
	if o.Logger == nil {
		o.Logger = logging.MakeGrip(grip.GetSender())
	}

	return nil
}

// Template executes document operations for mapped domain types. Its
// configuration is read-only after construction, so a Template is safe
// for concurrent use when its database is.
type Template struct {
	db           driver.Database
	mappings     *mapping.Context
	converter    mapping.Converter
	queryMapper  QueryMapper
	updateMapper UpdateMapper
	writeConcern *writeconcern.WriteConcern
	resolver     WriteConcernResolver
	checking     WriteResultChecking
	translator   ExceptionTranslator
	listener     event.Listener
	scripts      ScriptLoader
	logger       grip.Journaler
	cmdOptions   int
}

// NewTemplate constructs a Template.
func NewTemplate(opts TemplateOptions) (*Template, error) {
	if err := opts.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid template options")
	}

	return &Template{
		db:           opts.Database,
		mappings:     opts.Mappings,
		converter:    opts.Converter,
		queryMapper:  opts.QueryMapper,
		updateMapper: opts.UpdateMapper,
		writeConcern: opts.WriteConcern,
		resolver:     opts.WriteConcernResolver,
		checking:     opts.WriteResultChecking,
		translator:   opts.Translator,
		listener:     opts.Listener,
		scripts:      opts.Scripts,
		logger:       opts.Logger,
		cmdOptions:   opts.CommandOptions,
	}, nil
}

func (t *Template) Database() driver.Database                { return t.db }
func (t *Template) Mappings() *mapping.Context               { return t.mappings }
func (t *Template) Converter() mapping.Converter             { return t.converter }
func (t *Template) Checking() WriteResultChecking            { return t.checking }
func (t *Template) WriteConcern() *writeconcern.WriteConcern { return t.writeConcern }

// Target names the collection an operation runs against, either
// explicitly or through the mapping of a domain type.
type Target struct {
	typ        reflect.Type
	collection string
}

// Entity targets the collection mapped for T.
func Entity[T any]() Target {
	return Target{typ: reflect.TypeOf((*T)(nil)).Elem()}
}

// TypeOf targets the collection mapped for the type of sample.
func TypeOf(sample any) Target {
	return Target{typ: indirect(reflect.TypeOf(sample))}
}

// Collection targets a collection by name without entity mapping.
func Collection(name string) Target {
	return Target{collection: name}
}

// In overrides the collection name while keeping the entity mapping.
func (tg Target) In(collection string) Target {
	if collection != "" {
		tg.collection = collection
	}
	return tg
}

func indirect(t reflect.Type) reflect.Type {
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

// resolve returns the collection name and, when the target type is
// mapped, its entity.
func (t *Template) resolve(tg Target) (string, *mapping.Entity, error) {
	var entity *mapping.Entity
	if tg.typ != nil {
		entity, _ = t.mappings.Entity(tg.typ)
	}
	if tg.collection != "" {
		return tg.collection, entity, nil
	}
	if tg.typ == nil {
		return "", nil, invalidUsage("no collection or entity type provided, collection can't be determined")
	}
	if entity == nil {
		return "", nil, invalidUsage("no mapping information found for type '%s'", tg.typ)
	}
	return entity.Collection, entity, nil
}

// CollectionName returns the collection mapped for the type of sample.
func (t *Template) CollectionName(sample any) (string, error) {
	name, _, err := t.resolve(TypeOf(sample))
	return name, err
}

func (t *Template) entityOf(obj any) *mapping.Entity {
	entity, _ := t.mappings.EntityOf(obj)
	return entity
}

func (t *Template) entityFor(typ reflect.Type) *mapping.Entity {
	if typ == nil {
		return nil
	}
	entity, _ := t.mappings.Entity(typ)
	return entity
}

// translate maps err through the exception translator, returning err
// unchanged when the translator has no mapping.
func (t *Template) translate(err error) error {
	if err == nil {
		return nil
	}
	if translated := t.translator.Translate(err); translated != nil {
		return translated
	}
	return err
}

func (t *Template) emit(ctx context.Context, e event.Event) {
	if t.listener != nil {
		t.listener.OnEvent(ctx, e)
	}
}

func (t *Template) read(doc bson.M, out any) error {
	if err := t.converter.Read(doc, out); err != nil {
		return mappingFailure(err, "reading document into '%T'", out)
	}
	return nil
}

func (t *Template) resolveWriteConcern(action MongoAction) *writeconcern.WriteConcern {
	action.DefaultWriteConcern = t.writeConcern
	return t.resolver.Resolve(action)
}

func (t *Template) resolveScript(ctx context.Context, fn string) (string, error) {
	if t.scripts == nil || !t.scripts.IsResource(fn) {
		return fn, nil
	}
	text, err := t.scripts.Load(ctx, fn)
	if err != nil {
		e := newError(InvalidUsage, "cannot read script resource '%s'", fn)
		e.cause = err
		return "", errors.WithStack(e)
	}
	return text, nil
}
