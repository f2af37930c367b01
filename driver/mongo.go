package driver

import (
	"context"

	"github.com/mongodb/anser/db"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

// mongoDatabase adapts a *mongo.Database.
type mongoDatabase struct {
	db       *mongo.Database
	readPref *readpref.ReadPref
}

// NewDatabase wraps db. A non-nil read preference is applied to every
// collection handed out.
func NewDatabase(db *mongo.Database, rp *readpref.ReadPref) Database {
	return &mongoDatabase{db: db, readPref: rp}
}

func (d *mongoDatabase) Name() string { return d.db.Name() }

func (d *mongoDatabase) C(name string) Collection {
	return &mongoCollection{database: d, name: name}
}

func (d *mongoDatabase) RunCommand(ctx context.Context, cmd bson.D, opts int) (res CommandResult, err error) {
	name := ""
	if len(cmd) > 0 {
		name = cmd[0].Key
	}
	ctx, span := startSpan(ctx, d.db.Name(), name, "command")
	defer func() { endSpan(span, err) }()

	runOpts := options.RunCmd()
	if opts&OptionSecondaryOK != 0 {
		runOpts.SetReadPreference(readpref.SecondaryPreferred())
	}

	out := bson.M{}
	if err = d.db.RunCommand(ctx, cmd, runOpts).Decode(&out); err != nil {
		var cmdErr mongo.CommandError
		if errors.As(err, &cmdErr) {
			return CommandResult{
				"ok":       0.0,
				"errmsg":   cmdErr.Message,
				"code":     cmdErr.Code,
				"codeName": cmdErr.Name,
			}, nil
		}
		return nil, errors.Wrapf(err, "running command '%s'", name)
	}

	return CommandResult(out), nil
}

func (d *mongoDatabase) CreateCollection(ctx context.Context, name string, opts bson.M) (err error) {
	ctx, span := startSpan(ctx, d.db.Name(), name, "create-collection")
	defer func() { endSpan(span, err) }()

	createOpts := options.CreateCollection()
	if capped, ok := opts["capped"].(bool); ok {
		createOpts.SetCapped(capped)
	}
	if size, ok := asInt64(opts["size"]); ok {
		createOpts.SetSizeInBytes(size)
	}
	if maxDocs, ok := asInt64(opts["max"]); ok {
		createOpts.SetMaxDocuments(maxDocs)
	}

	return errors.Wrapf(d.db.CreateCollection(ctx, name, createOpts), "creating collection '%s'", name)
}

func (d *mongoDatabase) CollectionExists(ctx context.Context, name string) (bool, error) {
	names, err := d.db.ListCollectionNames(ctx, bson.M{"name": name})
	if err != nil {
		return false, errors.Wrapf(err, "listing collections named '%s'", name)
	}
	return len(names) > 0, nil
}

func (d *mongoDatabase) CollectionNames(ctx context.Context) ([]string, error) {
	names, err := d.db.ListCollectionNames(ctx, bson.M{})
	return names, errors.Wrap(err, "listing collection names")
}

func (d *mongoDatabase) DropCollection(ctx context.Context, name string) (err error) {
	ctx, span := startSpan(ctx, d.db.Name(), name, "drop-collection")
	defer func() { endSpan(span, err) }()

	return errors.Wrapf(d.db.Collection(name).Drop(ctx), "dropping collection '%s'", name)
}

// mongoCollection adapts a *mongo.Collection, picking per-call write
// concerns by deriving a configured collection handle.
type mongoCollection struct {
	database *mongoDatabase
	name     string
}

func (c *mongoCollection) Name() string { return c.name }

func (c *mongoCollection) coll(wc *writeconcern.WriteConcern) *mongo.Collection {
	opts := options.Collection()
	if wc != nil {
		opts.SetWriteConcern(wc)
	}
	if c.database.readPref != nil {
		opts.SetReadPreference(c.database.readPref)
	}
	return c.database.db.Collection(c.name, opts)
}

func (c *mongoCollection) span(ctx context.Context, operation string) (context.Context, func(error)) {
	ctx, span := startSpan(ctx, c.database.db.Name(), c.name, operation)
	return ctx, func(err error) { endSpan(span, err) }
}

func (c *mongoCollection) Find(_ context.Context, query, fields bson.M) Cursor {
	return &mongoCursor{coll: c, filter: query, projection: fields}
}

func (c *mongoCollection) FindOne(ctx context.Context, query, fields bson.M) (doc bson.M, err error) {
	ctx, end := c.span(ctx, "find-one")
	defer func() { end(err) }()

	opts := options.FindOne()
	if len(fields) > 0 {
		opts.SetProjection(fields)
	}
	doc = bson.M{}
	err = c.coll(nil).FindOne(ctx, nonNil(query), opts).Decode(&doc)
	if db.ResultsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "finding document in '%s'", c.name)
	}
	return doc, nil
}

func (c *mongoCollection) Count(ctx context.Context, query bson.M) (n int64, err error) {
	ctx, end := c.span(ctx, "count")
	defer func() { end(err) }()

	n, err = c.coll(nil).CountDocuments(ctx, nonNil(query))
	return n, errors.Wrapf(err, "counting documents in '%s'", c.name)
}

func (c *mongoCollection) Insert(ctx context.Context, wc *writeconcern.WriteConcern, docs ...bson.M) (res WriteResult, err error) {
	ctx, end := c.span(ctx, "insert")
	defer func() { end(err) }()

	if len(docs) == 0 {
		return WriteResult{}, nil
	}
	items := make([]any, len(docs))
	for i, doc := range docs {
		if _, ok := doc["_id"]; !ok {
			doc["_id"] = primitive.NewObjectID()
		}
		items[i] = doc
	}

	if len(items) == 1 {
		_, err = c.coll(wc).InsertOne(ctx, items[0])
	} else {
		_, err = c.coll(wc).InsertMany(ctx, items)
	}
	return writeResult(wc, int64(len(items)), nil, err)
}

func (c *mongoCollection) Save(ctx context.Context, wc *writeconcern.WriteConcern, doc bson.M) (res WriteResult, err error) {
	ctx, end := c.span(ctx, "save")
	defer func() { end(err) }()

	id, ok := doc["_id"]
	if !ok || id == nil {
		return c.Insert(ctx, wc, doc)
	}

	updated, err := c.coll(wc).ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	if updated == nil {
		updated = &mongo.UpdateResult{}
	}
	return writeResult(wc, updated.MatchedCount+updated.UpsertedCount, updated.UpsertedID, err)
}

func (c *mongoCollection) Update(ctx context.Context, wc *writeconcern.WriteConcern, query, update bson.M, upsert, multi bool) (res WriteResult, err error) {
	ctx, end := c.span(ctx, "update")
	defer func() { end(err) }()

	coll := c.coll(wc)
	var updated *mongo.UpdateResult
	switch {
	case !hasOperators(update):
		updated, err = coll.ReplaceOne(ctx, nonNil(query), update, options.Replace().SetUpsert(upsert))
	case multi:
		updated, err = coll.UpdateMany(ctx, nonNil(query), update, options.Update().SetUpsert(upsert))
	default:
		updated, err = coll.UpdateOne(ctx, nonNil(query), update, options.Update().SetUpsert(upsert))
	}
	if updated == nil {
		updated = &mongo.UpdateResult{}
	}
	return writeResult(wc, updated.MatchedCount+updated.UpsertedCount, updated.UpsertedID, err)
}

func (c *mongoCollection) Remove(ctx context.Context, wc *writeconcern.WriteConcern, query bson.M) (res WriteResult, err error) {
	ctx, end := c.span(ctx, "remove")
	defer func() { end(err) }()

	deleted, err := c.coll(wc).DeleteMany(ctx, nonNil(query))
	if deleted == nil {
		deleted = &mongo.DeleteResult{}
	}
	return writeResult(wc, deleted.DeletedCount, nil, err)
}

func (c *mongoCollection) FindAndModify(ctx context.Context, args FindAndModify) (doc bson.M, err error) {
	ctx, end := c.span(ctx, "find-and-modify")
	defer func() { end(err) }()

	coll := c.coll(nil)
	var res *mongo.SingleResult
	switch {
	case args.Remove:
		opts := options.FindOneAndDelete()
		if len(args.Fields) > 0 {
			opts.SetProjection(args.Fields)
		}
		if len(args.Sort) > 0 {
			opts.SetSort(args.Sort)
		}
		res = coll.FindOneAndDelete(ctx, nonNil(args.Query), opts)
	case !hasOperators(args.Update):
		opts := options.FindOneAndReplace().SetUpsert(args.Upsert).SetReturnDocument(returnDocument(args.ReturnNew))
		if len(args.Fields) > 0 {
			opts.SetProjection(args.Fields)
		}
		if len(args.Sort) > 0 {
			opts.SetSort(args.Sort)
		}
		res = coll.FindOneAndReplace(ctx, nonNil(args.Query), args.Update, opts)
	default:
		opts := options.FindOneAndUpdate().SetUpsert(args.Upsert).SetReturnDocument(returnDocument(args.ReturnNew))
		if len(args.Fields) > 0 {
			opts.SetProjection(args.Fields)
		}
		if len(args.Sort) > 0 {
			opts.SetSort(args.Sort)
		}
		res = coll.FindOneAndUpdate(ctx, nonNil(args.Query), args.Update, opts)
	}

	doc = bson.M{}
	err = res.Decode(&doc)
	if db.ResultsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "running find and modify on '%s'", c.name)
	}
	return doc, nil
}

// mongoCursor holds the query state until the first call to Next.
type mongoCursor struct {
	coll       *mongoCollection
	filter     bson.M
	projection bson.M
	sort       bson.D
	hint       string
	skip       int64
	limit      int64

	cursor *mongo.Cursor
	err    error
}

func (c *mongoCursor) modifiable() bool {
	if c.cursor != nil {
		c.err = errors.New("cannot modify a cursor after iteration started")
		return false
	}
	return true
}

func (c *mongoCursor) Skip(n int) Cursor {
	if c.modifiable() {
		c.skip = int64(n)
	}
	return c
}

func (c *mongoCursor) Limit(n int) Cursor {
	if c.modifiable() {
		c.limit = int64(n)
	}
	return c
}

func (c *mongoCursor) Sort(sort bson.D) Cursor {
	if c.modifiable() {
		c.sort = sort
	}
	return c
}

func (c *mongoCursor) Hint(index string) Cursor {
	if c.modifiable() {
		c.hint = index
	}
	return c
}

func (c *mongoCursor) open(ctx context.Context) error {
	ctx, end := c.coll.span(ctx, "find")
	opts := options.Find()
	if len(c.projection) > 0 {
		opts.SetProjection(c.projection)
	}
	if len(c.sort) > 0 {
		opts.SetSort(c.sort)
	}
	if c.hint != "" {
		opts.SetHint(c.hint)
	}
	if c.skip > 0 {
		opts.SetSkip(c.skip)
	}
	if c.limit > 0 {
		opts.SetLimit(c.limit)
	}

	cursor, err := c.coll.coll(nil).Find(ctx, nonNil(c.filter), opts)
	end(err)
	if err != nil {
		return errors.Wrapf(err, "finding documents in '%s'", c.coll.name)
	}
	c.cursor = cursor
	return nil
}

func (c *mongoCursor) Next(ctx context.Context) bool {
	if c.err != nil {
		return false
	}
	if c.cursor == nil {
		if c.err = c.open(ctx); c.err != nil {
			return false
		}
	}
	return c.cursor.Next(ctx)
}

func (c *mongoCursor) Document() (bson.M, error) {
	if c.cursor == nil {
		return nil, errors.New("cursor has not been iterated")
	}
	doc := bson.M{}
	if err := c.cursor.Decode(&doc); err != nil {
		return nil, errors.Wrap(err, "decoding document")
	}
	return doc, nil
}

func (c *mongoCursor) Err() error {
	if c.err != nil {
		return c.err
	}
	if c.cursor != nil {
		return c.cursor.Err()
	}
	return nil
}

func (c *mongoCursor) Close(ctx context.Context) error {
	if c.cursor == nil {
		return nil
	}
	return errors.Wrap(c.cursor.Close(ctx), "closing cursor")
}

// writeResult folds a write concern error into the result so that the
// caller can apply its own checking policy.
func writeResult(wc *writeconcern.WriteConcern, n int64, upserted any, err error) (WriteResult, error) {
	if err == nil {
		if !wc.Acknowledged() {
			return WriteResult{}, nil
		}
		return WriteResult{N: n, UpsertedID: upserted, Acknowledged: true}, nil
	}
	if errors.Is(err, mongo.ErrUnacknowledgedWrite) {
		return WriteResult{}, nil
	}

	var writeErr mongo.WriteException
	if errors.As(err, &writeErr) && len(writeErr.WriteErrors) == 0 && writeErr.WriteConcernError != nil {
		return WriteResult{N: n, UpsertedID: upserted, Err: writeErr.WriteConcernError.Message, Acknowledged: true}, nil
	}
	var bulkErr mongo.BulkWriteException
	if errors.As(err, &bulkErr) && len(bulkErr.WriteErrors) == 0 && bulkErr.WriteConcernError != nil {
		return WriteResult{N: n, UpsertedID: upserted, Err: bulkErr.WriteConcernError.Message, Acknowledged: true}, nil
	}

	return WriteResult{}, err
}

func returnDocument(returnNew bool) options.ReturnDocument {
	if returnNew {
		return options.After
	}
	return options.Before
}

func hasOperators(doc bson.M) bool {
	for key := range doc {
		if len(key) > 0 && key[0] == '$' {
			return true
		}
	}
	return false
}

func nonNil(query bson.M) bson.M {
	if query == nil {
		return bson.M{}
	}
	return query
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
