package db

import (
	"context"
	"reflect"

	"github.com/evergreen-ci/docstore/driver"
	"github.com/evergreen-ci/docstore/event"
	"github.com/evergreen-ci/docstore/mapping"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Insert inserts obj into the collection mapped for its type.
func (t *Template) Insert(ctx context.Context, obj any) error {
	if err := ensureNotIterable(obj); err != nil {
		return err
	}
	collection, err := t.collectionOf(obj)
	if err != nil {
		return err
	}
	return t.doInsert(ctx, collection, obj)
}

// InsertInto inserts obj, which may also be a raw document or a JSON
// string, into collection.
func (t *Template) InsertInto(ctx context.Context, collection string, obj any) error {
	if err := ensureNotIterable(obj); err != nil {
		return err
	}
	if collection == "" {
		return invalidUsage("collection name must not be empty")
	}
	return t.doInsert(ctx, collection, obj)
}

// InsertBatch inserts every object into collection with one write.
func (t *Template) InsertBatch(ctx context.Context, collection string, objs []any) error {
	if collection == "" {
		return invalidUsage("collection name must not be empty")
	}
	return t.doInsertBatch(ctx, collection, objs)
}

// InsertAll inserts objects of possibly different types, issuing one
// batch write per collection. Batches already written stay written when
// a later batch fails.
func (t *Template) InsertAll(ctx context.Context, objs []any) error {
	var order []string
	batches := map[string][]any{}
	for _, obj := range objs {
		if obj == nil {
			continue
		}
		entity := t.entityOf(obj)
		if entity == nil {
			return invalidUsage("no mapping information found for object of type '%T'", obj)
		}
		if _, ok := batches[entity.Collection]; !ok {
			order = append(order, entity.Collection)
		}
		batches[entity.Collection] = append(batches[entity.Collection], obj)
	}

	for _, collection := range order {
		if err := t.doInsertBatch(ctx, collection, batches[collection]); err != nil {
			return errors.Wrapf(err, "inserting batch into '%s'", collection)
		}
	}
	return nil
}

// Save inserts obj or replaces the stored document with the same id.
// Versioned entities are saved with optimistic locking.
func (t *Template) Save(ctx context.Context, obj any) error {
	if err := ensureNotIterable(obj); err != nil {
		return err
	}
	collection, err := t.collectionOf(obj)
	if err != nil {
		return err
	}
	return t.SaveInto(ctx, collection, obj)
}

// SaveInto is Save against an explicit collection.
func (t *Template) SaveInto(ctx context.Context, collection string, obj any) error {
	if obj == nil {
		return invalidUsage("object to save must not be nil")
	}
	if err := ensureNotIterable(obj); err != nil {
		return err
	}
	if collection == "" {
		return invalidUsage("collection name must not be empty")
	}

	entity := t.entityOf(obj)
	if entity.HasVersion() {
		return t.doSaveVersioned(ctx, collection, entity, obj)
	}
	return t.doSave(ctx, collection, entity, obj)
}

// Upsert updates the first document matching q or inserts one built
// from q and u.
func (t *Template) Upsert(ctx context.Context, target Target, q Q, u *U) (driver.WriteResult, error) {
	return t.updateTarget(ctx, target, q, u, true, false)
}

// UpdateFirst updates the first document matching q.
func (t *Template) UpdateFirst(ctx context.Context, target Target, q Q, u *U) (driver.WriteResult, error) {
	return t.updateTarget(ctx, target, q, u, false, false)
}

// UpdateMulti updates every document matching q.
func (t *Template) UpdateMulti(ctx context.Context, target Target, q Q, u *U) (driver.WriteResult, error) {
	return t.updateTarget(ctx, target, q, u, false, true)
}

func (t *Template) updateTarget(ctx context.Context, target Target, q Q, u *U, upsert, multi bool) (driver.WriteResult, error) {
	collection, entity, err := t.resolve(target)
	if err != nil {
		return driver.WriteResult{}, err
	}
	return t.doUpdate(ctx, collection, entity, target.typ, q, u, upsert, multi)
}

// Remove removes the stored document with obj's id. A nil obj is a
// no-op.
func (t *Template) Remove(ctx context.Context, obj any) (driver.WriteResult, error) {
	if obj == nil {
		return driver.WriteResult{}, nil
	}
	collection, err := t.collectionOf(obj)
	if err != nil {
		return driver.WriteResult{}, err
	}
	return t.RemoveFrom(ctx, collection, obj)
}

// RemoveFrom is Remove against an explicit collection.
func (t *Template) RemoveFrom(ctx context.Context, collection string, obj any) (driver.WriteResult, error) {
	if obj == nil {
		return driver.WriteResult{}, nil
	}
	if collection == "" {
		return driver.WriteResult{}, invalidUsage("collection name must not be empty")
	}
	q, err := t.idQuery(obj)
	if err != nil {
		return driver.WriteResult{}, err
	}
	entity := t.entityOf(obj)
	return t.doRemove(ctx, collection, entity, indirect(reflect.TypeOf(obj)), q)
}

// RemoveQ removes every document matching q.
func (t *Template) RemoveQ(ctx context.Context, target Target, q Q) (driver.WriteResult, error) {
	collection, entity, err := t.resolve(target)
	if err != nil {
		return driver.WriteResult{}, err
	}
	return t.doRemove(ctx, collection, entity, target.typ, q)
}

func (t *Template) doInsert(ctx context.Context, collection string, obj any) error {
	entity := t.entityOf(obj)
	if err := assertUpdateableIDIfNotSet(entity, obj); err != nil {
		return err
	}
	if err := initializeVersion(entity, obj); err != nil {
		return err
	}

	t.emit(ctx, event.Event{Kind: event.BeforeConvert, Collection: collection, Source: obj})
	doc, err := t.toDocument(obj)
	if err != nil {
		return err
	}
	prepareGeneratedID(entity, obj, doc)
	t.emit(ctx, event.Event{Kind: event.BeforeSave, Collection: collection, Source: obj, Document: doc})

	id, err := t.insertDocument(ctx, collection, doc, entityType(entity))
	if err != nil {
		return err
	}

	if err = t.populateID(obj, entity, id); err != nil {
		return err
	}
	t.emit(ctx, event.Event{Kind: event.AfterSave, Collection: collection, Source: obj, Document: doc})
	return nil
}

func (t *Template) doInsertBatch(ctx context.Context, collection string, objs []any) error {
	if len(objs) == 0 {
		return nil
	}

	docs := make([]bson.M, 0, len(objs))
	for _, obj := range objs {
		if obj == nil {
			return invalidUsage("cannot insert a nil object")
		}
		entity := t.entityOf(obj)
		if err := assertUpdateableIDIfNotSet(entity, obj); err != nil {
			return err
		}
		if err := initializeVersion(entity, obj); err != nil {
			return err
		}

		t.emit(ctx, event.Event{Kind: event.BeforeConvert, Collection: collection, Source: obj})
		doc, err := t.toDocument(obj)
		if err != nil {
			return err
		}
		prepareGeneratedID(entity, obj, doc)
		t.emit(ctx, event.Event{Kind: event.BeforeSave, Collection: collection, Source: obj, Document: doc})
		docs = append(docs, doc)
	}

	ids, err := t.insertDocumentList(ctx, collection, docs)
	if err != nil {
		return err
	}

	for i, obj := range objs {
		if i >= len(ids) {
			break
		}
		if err = t.populateID(obj, t.entityOf(obj), ids[i]); err != nil {
			return err
		}
		t.emit(ctx, event.Event{Kind: event.AfterSave, Collection: collection, Source: obj, Document: docs[i]})
	}
	return nil
}

func (t *Template) doSave(ctx context.Context, collection string, entity *mapping.Entity, obj any) error {
	if err := assertUpdateableIDIfNotSet(entity, obj); err != nil {
		return err
	}

	t.emit(ctx, event.Event{Kind: event.BeforeConvert, Collection: collection, Source: obj})
	doc, err := t.toDocument(obj)
	if err != nil {
		return err
	}
	prepareGeneratedID(entity, obj, doc)
	t.emit(ctx, event.Event{Kind: event.BeforeSave, Collection: collection, Source: obj, Document: doc})

	id, err := t.saveDocument(ctx, collection, doc, entityType(entity))
	if err != nil {
		return err
	}

	if err = t.populateID(obj, entity, id); err != nil {
		return err
	}
	t.emit(ctx, event.Event{Kind: event.AfterSave, Collection: collection, Source: obj, Document: doc})
	return nil
}

// doSaveVersioned updates the stored document only if its version still
// matches the in-memory one. An object without a version is inserted.
func (t *Template) doSaveVersioned(ctx context.Context, collection string, entity *mapping.Entity, obj any) error {
	versioned, err := versionAccessor(entity, obj)
	if err != nil {
		return err
	}
	current, ok := versioned.DocumentVersion()
	if !ok {
		return t.doInsert(ctx, collection, obj)
	}

	if err = assertUpdateableIDIfNotSet(entity, obj); err != nil {
		return err
	}
	id, ok := entity.IDOf(obj)
	if !ok {
		return mappingFailure(nil, "type '%T' does not expose its id", obj)
	}

	query := Query(bson.M{
		entity.IDFieldName(): id,
		entity.Version.Field: current,
	})

	versioned.SetDocumentVersion(current + 1)
	restore := func() { versioned.SetDocumentVersion(current) }

	t.emit(ctx, event.Event{Kind: event.BeforeConvert, Collection: collection, Source: obj})
	doc, err := t.toDocument(obj)
	if err != nil {
		restore()
		return err
	}
	t.emit(ctx, event.Event{Kind: event.BeforeSave, Collection: collection, Source: obj, Document: doc})

	if _, err = t.doUpdate(ctx, collection, entity, entity.Type, query, UpdateFromDocument(doc, mapping.IDField), false, false); err != nil {
		restore()
		return err
	}

	t.emit(ctx, event.Event{Kind: event.AfterSave, Collection: collection, Source: obj, Document: doc})
	return nil
}

func (t *Template) doUpdate(ctx context.Context, collection string, entity *mapping.Entity, typ reflect.Type, q Q, u *U, upsert, multi bool) (driver.WriteResult, error) {
	if u.IsEmpty() {
		return driver.WriteResult{}, invalidUsage("update must not be empty")
	}
	if q.IsNil() {
		return driver.WriteResult{}, invalidUsage("query for update must not be nil")
	}

	if entity.HasVersion() && !u.IsReplacement() && !u.Touches(entity.Version.Name, entity.Version.Field) {
		u.Inc(entity.Version.Field, 1)
	}

	query := t.queryMapper.MapQuery(q.filter, entity)
	update := t.updateMapper.MapUpdate(u.Document(), entity)

	t.logger.Debug(message.Fields{
		"message":    "update",
		"collection": collection,
		"query":      query,
		"update":     update,
		"upsert":     upsert,
		"multi":      multi,
	})

	wc := t.resolveWriteConcern(MongoAction{
		Operation:  OperationUpdate,
		Collection: collection,
		EntityType: typ,
		Document:   update,
		Query:      query,
	})

	res, err := t.db.C(collection).Update(ctx, wc, query, update, upsert, multi)
	if err != nil {
		return driver.WriteResult{}, t.translate(err)
	}

	// An unacknowledged write reports no counts, so a missed version
	// cannot be detected.
	if entity.HasVersion() && !multi && res.Acknowledged && res.N == 0 {
		return res, errors.WithStack(&Error{
			Kind:       OptimisticLockFailure,
			Message:    "optimistic lock failure: no document matched the expected version in '" + collection + "'",
			Operation:  OperationUpdate,
			Collection: collection,
			Query:      query,
			Document:   update,
		})
	}

	if err := t.handleWriteResultErrors(res, collection, query, OperationUpdate); err != nil {
		return res, err
	}
	return res, nil
}

func (t *Template) doRemove(ctx context.Context, collection string, entity *mapping.Entity, typ reflect.Type, q Q) (driver.WriteResult, error) {
	if q.IsNil() {
		return driver.WriteResult{}, invalidUsage("query passed to remove must not be nil")
	}

	t.emit(ctx, event.Event{Kind: event.BeforeDelete, Collection: collection, Document: q.filter, Type: typ})

	query := t.queryMapper.MapQuery(q.filter, entity)
	t.logger.Debug(message.Fields{
		"message":    "remove",
		"collection": collection,
		"query":      query,
	})

	wc := t.resolveWriteConcern(MongoAction{
		Operation:  OperationRemove,
		Collection: collection,
		EntityType: typ,
		Query:      query,
	})

	res, err := t.db.C(collection).Remove(ctx, wc, query)
	if err != nil {
		return driver.WriteResult{}, t.translate(err)
	}
	if err := t.handleWriteResultErrors(res, collection, query, OperationRemove); err != nil {
		return res, err
	}

	t.emit(ctx, event.Event{Kind: event.AfterDelete, Collection: collection, Document: q.filter, Type: typ})
	return res, nil
}

func (t *Template) insertDocument(ctx context.Context, collection string, doc bson.M, typ reflect.Type) (any, error) {
	t.logger.Debug(message.Fields{
		"message":    "insert",
		"collection": collection,
		"document":   doc,
	})

	wc := t.resolveWriteConcern(MongoAction{
		Operation:  OperationInsert,
		Collection: collection,
		EntityType: typ,
		Document:   doc,
	})

	res, err := t.db.C(collection).Insert(ctx, wc, doc)
	if err != nil {
		return nil, t.translate(err)
	}
	if err := t.handleWriteResultErrors(res, collection, doc, OperationInsert); err != nil {
		return nil, err
	}
	return doc[mapping.IDField], nil
}

func (t *Template) insertDocumentList(ctx context.Context, collection string, docs []bson.M) ([]any, error) {
	t.logger.Debug(message.Fields{
		"message":    "insert list",
		"collection": collection,
		"count":      len(docs),
	})

	wc := t.resolveWriteConcern(MongoAction{
		Operation:  OperationInsertList,
		Collection: collection,
	})

	res, err := t.db.C(collection).Insert(ctx, wc, docs...)
	if err != nil {
		return nil, t.translate(err)
	}
	if err := t.handleWriteResultErrors(res, collection, nil, OperationInsertList); err != nil {
		return nil, err
	}

	ids := make([]any, 0, len(docs))
	for _, doc := range docs {
		ids = append(ids, doc[mapping.IDField])
	}
	return ids, nil
}

func (t *Template) saveDocument(ctx context.Context, collection string, doc bson.M, typ reflect.Type) (any, error) {
	t.logger.Debug(message.Fields{
		"message":    "save",
		"collection": collection,
		"document":   doc,
	})

	wc := t.resolveWriteConcern(MongoAction{
		Operation:  OperationSave,
		Collection: collection,
		EntityType: typ,
		Document:   doc,
	})

	res, err := t.db.C(collection).Save(ctx, wc, doc)
	if err != nil {
		return nil, t.translate(err)
	}
	if err := t.handleWriteResultErrors(res, collection, doc, OperationSave); err != nil {
		return nil, err
	}
	return doc[mapping.IDField], nil
}

// toDocument converts obj into the document to write. Raw documents are
// used as is and strings are parsed as extended JSON.
func (t *Template) toDocument(obj any) (bson.M, error) {
	switch v := obj.(type) {
	case bson.M:
		return v, nil
	case map[string]any:
		return bson.M(v), nil
	case bson.D:
		return v.Map(), nil
	case string:
		doc := bson.M{}
		if err := bson.UnmarshalExtJSON([]byte(v), false, &doc); err != nil {
			return nil, mappingFailure(err, "could not parse given string to save into a JSON document")
		}
		return doc, nil
	}

	doc, err := t.converter.Write(obj)
	if err != nil {
		return nil, mappingFailure(err, "converting '%T' to a document", obj)
	}
	return doc, nil
}

// populateID writes a generated id back into obj if its id is unset.
func (t *Template) populateID(obj any, entity *mapping.Entity, id any) error {
	if id == nil {
		return nil
	}
	if doc, ok := obj.(bson.M); ok {
		if _, ok := doc[mapping.IDField]; !ok {
			doc[mapping.IDField] = id
		}
		return nil
	}
	if entity == nil || entity.ID == nil {
		return nil
	}
	current, ok := entity.IDOf(obj)
	if !ok || !mapping.IsZeroID(current) {
		return nil
	}
	if err := entity.SetID(obj, id); err != nil {
		return mappingFailure(err, "populating generated id of '%T'", obj)
	}
	return nil
}

// prepareGeneratedID removes an unset id from doc so that the store
// generates one. String ids are generated here as ObjectID hex strings
// so that the stored id and the object's id stay equal.
func prepareGeneratedID(entity *mapping.Entity, obj any, doc bson.M) {
	if entity == nil || entity.ID == nil {
		return
	}
	id, ok := entity.IDOf(obj)
	if !ok || !mapping.IsZeroID(id) || !entity.CanGenerateID() {
		return
	}
	if entity.IsStringID() {
		doc[mapping.IDField] = primitive.NewObjectID().Hex()
		return
	}
	delete(doc, mapping.IDField)
}

// idQuery builds the criteria matching obj's stored document.
func (t *Template) idQuery(obj any) (Q, error) {
	if doc, ok := obj.(bson.M); ok {
		id, ok := doc[mapping.IDField]
		if !ok {
			return Q{}, mappingFailure(nil, "document has no '%s' field", mapping.IDField)
		}
		return Query(bson.M{mapping.IDField: id}), nil
	}

	entity := t.entityOf(obj)
	if entity == nil || entity.ID == nil {
		return Q{}, mappingFailure(nil, "no id property found for object of type '%T'", obj)
	}
	id, ok := entity.IDOf(obj)
	if !ok {
		return Q{}, mappingFailure(nil, "type '%T' does not expose its id", obj)
	}
	return Query(bson.M{entity.IDFieldName(): id}), nil
}

// collectionOf returns the collection mapped for obj's type.
func (t *Template) collectionOf(obj any) (string, error) {
	if obj == nil {
		return "", invalidUsage("object must not be nil")
	}
	entity := t.entityOf(obj)
	if entity == nil {
		return "", invalidUsage("no mapping information found for object of type '%T'", obj)
	}
	return entity.Collection, nil
}

func ensureNotIterable(obj any) error {
	if obj == nil {
		return nil
	}
	if _, ok := obj.(bson.D); ok {
		return nil
	}
	switch reflect.TypeOf(obj).Kind() {
	case reflect.Slice, reflect.Array:
		return invalidUsage("cannot use a collection of type '%T' as a single object, use a batch operation", obj)
	default:
		return nil
	}
}

func assertUpdateableIDIfNotSet(entity *mapping.Entity, obj any) error {
	if entity == nil || entity.ID == nil {
		return nil
	}
	id, ok := entity.IDOf(obj)
	if !ok {
		return nil
	}
	if mapping.IsZeroID(id) && !entity.CanGenerateID() {
		return invalidUsage("cannot generate an id of type '%s' for an object of type '%T'", entity.ID.Type, obj)
	}
	return nil
}

// versionAccessor returns obj's version accessor when entity declares a
// version field.
func versionAccessor(entity *mapping.Entity, obj any) (mapping.Versioned, error) {
	versioned, ok := obj.(mapping.Versioned)
	if !ok {
		return nil, mappingFailure(nil, "type '%T' declares version field '%s' but does not expose it", obj, entity.Version.Name)
	}
	return versioned, nil
}

// initializeVersion assigns version 0 to a versioned object that has
// none yet.
func initializeVersion(entity *mapping.Entity, obj any) error {
	if !entity.HasVersion() {
		return nil
	}
	versioned, err := versionAccessor(entity, obj)
	if err != nil {
		return err
	}
	if _, ok := versioned.DocumentVersion(); !ok {
		versioned.SetDocumentVersion(0)
	}
	return nil
}

func entityType(entity *mapping.Entity) reflect.Type {
	if entity == nil {
		return nil
	}
	return entity.Type
}
