package db

import (
	"context"
	"fmt"
	"reflect"

	"github.com/evergreen-ci/docstore/db/cache"
	"github.com/evergreen-ci/docstore/driver"
	"github.com/evergreen-ci/docstore/mapping"
	"github.com/mongodb/grip/message"
	"go.mongodb.org/mongo-driver/bson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const deduplicatedLookupAttribute = "docstore.db.deduplicatecall"

// Find returns every document of T's collection matching q.
func Find[T any](ctx context.Context, t *Template, q Q) ([]T, error) {
	return FindIn[T](ctx, t, "", q)
}

// FindIn is Find against an explicit collection.
func FindIn[T any](ctx context.Context, t *Template, collection string, q Q) ([]T, error) {
	collection, entity, err := t.resolve(Entity[T]().In(collection))
	if err != nil {
		return nil, err
	}
	return doFind(ctx, t, collection, entity, q, newReadCallback[T](t, collection))
}

// FindAll returns every document of T's collection.
func FindAll[T any](ctx context.Context, t *Template) ([]T, error) {
	return Find[T](ctx, t, Query(bson.M{}))
}

// FindOne returns the first document matching q, or nil.
func FindOne[T any](ctx context.Context, t *Template, q Q) (*T, error) {
	return FindOneIn[T](ctx, t, "", q)
}

// FindOneIn is FindOne against an explicit collection. A sorted or
// skipping query runs as a find limited to one document.
func FindOneIn[T any](ctx context.Context, t *Template, collection string, q Q) (*T, error) {
	collection, entity, err := t.resolve(Entity[T]().In(collection))
	if err != nil {
		return nil, err
	}
	cb := newReadCallback[T](t, collection)

	if q.HasSort() || q.skip > 0 {
		results, err := doFind(ctx, t, collection, entity, q.Limit(1), cb)
		if err != nil || len(results) == 0 {
			return nil, err
		}
		return &results[0], nil
	}

	return doFindOne(ctx, t, collection, entity, q, cb)
}

// FindByID returns the document of T's collection with the given id,
// or nil.
func FindByID[T any](ctx context.Context, t *Template, id any) (*T, error) {
	return FindByIDIn[T](ctx, t, "", id)
}

// FindByIDIn is FindByID against an explicit collection.
func FindByIDIn[T any](ctx context.Context, t *Template, collection string, id any) (*T, error) {
	collection, entity, err := t.resolve(Entity[T]().In(collection))
	if err != nil {
		return nil, err
	}

	key := fmt.Sprint(id)
	_, found := cache.GetFromCache[any](ctx, collection, key)
	trace.SpanFromContext(ctx).SetAttributes(attribute.Bool(deduplicatedLookupAttribute, found))

	q := Query(bson.M{entity.IDFieldName(): id})
	out, err := doFindOne(ctx, t, collection, entity, q, newReadCallback[T](t, collection))
	if err != nil {
		return nil, err
	}
	if out != nil {
		cache.SetInCache[any](ctx, collection, key, out)
	}
	return out, nil
}

func doFind[T any](ctx context.Context, t *Template, collection string, entity *mapping.Entity, q Q, cb DocumentCallback[T]) ([]T, error) {
	query := t.queryMapper.MapQuery(q.filter, entity)
	fields := t.queryMapper.MapQuery(q.projection, entity)

	t.logger.Debug(message.Fields{
		"message":    "find",
		"collection": collection,
		"query":      query,
		"fields":     fields,
		"sort":       q.sort,
	})

	if q.maxTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.maxTime)
		defer cancel()
	}

	out := []T{}
	cur := t.db.C(collection).Find(ctx, query, fields)
	err := t.iterate(ctx, cur, t.newCursorPreparer(q, entity), func(doc bson.M) error {
		result, err := cb.Convert(ctx, doc)
		if err != nil {
			return err
		}
		if result != nil {
			out = append(out, *result)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func doFindOne[T any](ctx context.Context, t *Template, collection string, entity *mapping.Entity, q Q, cb DocumentCallback[T]) (*T, error) {
	query := t.queryMapper.MapQuery(q.filter, entity)
	fields := t.queryMapper.MapQuery(q.projection, entity)

	t.logger.Debug(message.Fields{
		"message":    "find one",
		"collection": collection,
		"query":      query,
		"fields":     fields,
	})

	if q.maxTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.maxTime)
		defer cancel()
	}

	doc, err := t.db.C(collection).FindOne(ctx, query, fields)
	if err != nil {
		return nil, t.translate(err)
	}
	return cb.Convert(ctx, doc)
}

// Exists reports whether any document matches q.
func (t *Template) Exists(ctx context.Context, target Target, q Q) (bool, error) {
	collection, entity, err := t.resolve(target)
	if err != nil {
		return false, err
	}

	found := false
	cur := t.db.C(collection).Find(ctx, t.queryMapper.MapQuery(q.filter, entity), nil).Limit(1)
	err = t.iterate(ctx, cur, nil, func(bson.M) error {
		found = true
		return nil
	})
	return found, err
}

// Count returns the number of documents matching q.
func (t *Template) Count(ctx context.Context, target Target, q Q) (int64, error) {
	collection, entity, err := t.resolve(target)
	if err != nil {
		return 0, err
	}
	n, err := t.db.C(collection).Count(ctx, t.queryMapper.MapQuery(q.filter, entity))
	if err != nil {
		return 0, t.translate(err)
	}
	return n, nil
}

// ExecuteQuery streams the raw documents matching q to handler.
func (t *Template) ExecuteQuery(ctx context.Context, target Target, q Q, handler DocumentHandler) error {
	if handler == nil {
		return invalidUsage("document handler must not be nil")
	}
	collection, entity, err := t.resolve(target)
	if err != nil {
		return err
	}

	query := t.queryMapper.MapQuery(q.filter, entity)
	fields := t.queryMapper.MapQuery(q.projection, entity)
	cur := t.db.C(collection).Find(ctx, query, fields)
	return t.iterate(ctx, cur, t.newCursorPreparer(q, entity), handler.ProcessDocument)
}

// FindAndModifyOptions configures FindAndModify.
type FindAndModifyOptions struct {
	ReturnNew  bool
	Upsert     bool
	Remove     bool
	Collection string
}

// FindAndModify atomically applies u to the first document matching q
// and returns it, before or after modification.
func FindAndModify[T any](ctx context.Context, t *Template, q Q, u *U, opts FindAndModifyOptions) (*T, error) {
	if !opts.Remove && u.IsEmpty() {
		return nil, invalidUsage("update must not be empty for find and modify")
	}
	collection, entity, err := t.resolve(Entity[T]().In(opts.Collection))
	if err != nil {
		return nil, err
	}

	args := driver.FindAndModify{
		Query:     t.queryMapper.MapQuery(q.filter, entity),
		Fields:    t.queryMapper.MapQuery(q.projection, entity),
		Sort:      q.sortDocument(entity.FieldName),
		Remove:    opts.Remove,
		ReturnNew: opts.ReturnNew,
		Upsert:    opts.Upsert,
	}
	if !opts.Remove {
		args.Update = t.updateMapper.MapUpdate(u.Document(), entity)
	}

	t.logger.Debug(message.Fields{
		"message":    "find and modify",
		"collection": collection,
		"query":      args.Query,
		"update":     args.Update,
		"remove":     args.Remove,
		"type":       reflect.TypeOf((*T)(nil)).Elem().String(),
	})

	doc, err := t.db.C(collection).FindAndModify(ctx, args)
	if err != nil {
		return nil, t.translate(err)
	}
	return newReadCallback[T](t, collection).Convert(ctx, doc)
}

// FindAndRemove atomically removes the first document matching q and
// returns it.
func FindAndRemove[T any](ctx context.Context, t *Template, q Q) (*T, error) {
	return FindAndModify[T](ctx, t, q, nil, FindAndModifyOptions{Remove: true})
}

// FindAndRemoveIn is FindAndRemove against an explicit collection.
func FindAndRemoveIn[T any](ctx context.Context, t *Template, collection string, q Q) (*T, error) {
	return FindAndModify[T](ctx, t, q, nil, FindAndModifyOptions{Remove: true, Collection: collection})
}
