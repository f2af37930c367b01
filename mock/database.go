package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/evergreen-ci/docstore/driver"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

// this is just a hack to ensure that compile breaks clearly if the
// mock implementation diverges from the interface
var (
	_ driver.Database   = &Database{}
	_ driver.Collection = &Collection{}
	_ driver.Cursor     = &Cursor{}
)

const duplicateKeyCode = 11000

// RecordedCommand is a command the database received.
type RecordedCommand struct {
	Command bson.D
	Options int
}

// CommandFunc produces the reply to a command.
type CommandFunc func(cmd bson.D, options int) (driver.CommandResult, error)

// Database is an in-memory driver.Database. Documents are stored as
// BSON round-tripped copies, so they come back with the types a server
// would return.
type Database struct {
	DBName string
	// CommandFunc answers commands; without it every command succeeds
	// with an empty reply.
	CommandFunc CommandFunc

	mu          sync.Mutex
	collections map[string]*Collection
	commands    []RecordedCommand
}

// NewDatabase returns an empty database.
func NewDatabase(name string) *Database {
	return &Database{DBName: name, collections: map[string]*Collection{}}
}

func (d *Database) Name() string { return d.DBName }

// C returns the named collection. It exists on the database only after
// the first write or an explicit create.
func (d *Database) C(name string) driver.Collection {
	return d.Collection(name)
}

// Collection is C returning the concrete type, for tests that inject
// failures or inspect cursors.
func (d *Database) Collection(name string) *Collection {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.collectionLocked(name)
}

func (d *Database) collectionLocked(name string) *Collection {
	if d.collections == nil {
		d.collections = map[string]*Collection{}
	}
	c, ok := d.collections[name]
	if !ok {
		c = &Collection{db: d, name: name}
		d.collections[name] = c
	}
	return c
}

func (d *Database) RunCommand(_ context.Context, cmd bson.D, options int) (driver.CommandResult, error) {
	d.mu.Lock()
	d.commands = append(d.commands, RecordedCommand{Command: cmd, Options: options})
	fn := d.CommandFunc
	d.mu.Unlock()

	if fn == nil {
		return driver.CommandResult{"ok": 1.0}, nil
	}
	return fn(cmd, options)
}

// Commands returns the commands received so far.
func (d *Database) Commands() []RecordedCommand {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]RecordedCommand{}, d.commands...)
}

func (d *Database) CreateCollection(_ context.Context, name string, options bson.M) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	c := d.collectionLocked(name)
	if c.exists {
		return mongo.CommandError{Code: 48, Name: "NamespaceExists", Message: "collection already exists"}
	}
	c.exists = true
	c.Options = options
	return nil
}

func (d *Database) CollectionExists(_ context.Context, name string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.collections[name]
	return ok && c.exists, nil
}

func (d *Database) CollectionNames(_ context.Context) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := []string{}
	for name, c := range d.collections {
		if c.exists {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (d *Database) DropCollection(_ context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.collections, name)
	return nil
}

// Collection is an in-memory driver.Collection.
type Collection struct {
	// WriteError is reported in the result of every write, which is
	// still applied.
	WriteError string
	// FailNext is returned by the next operation, once.
	FailNext error
	// Options are the options the collection was created with.
	Options bson.M

	db            *Database
	name          string
	exists        bool
	docs          []bson.M
	writeConcerns []*writeconcern.WriteConcern
	cursors       []*Cursor
}

func (c *Collection) Name() string { return c.name }

// Documents returns copies of the stored documents in insertion order.
func (c *Collection) Documents() []bson.M {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	out := make([]bson.M, 0, len(c.docs))
	for _, doc := range c.docs {
		out = append(out, mustClone(doc))
	}
	return out
}

// WriteConcerns returns the write concern passed to each write.
func (c *Collection) WriteConcerns() []*writeconcern.WriteConcern {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	return append([]*writeconcern.WriteConcern{}, c.writeConcerns...)
}

// Cursors returns every cursor handed out by Find.
func (c *Collection) Cursors() []*Cursor {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	return append([]*Cursor{}, c.cursors...)
}

func (c *Collection) takeFailureLocked() error {
	err := c.FailNext
	c.FailNext = nil
	return err
}

func (c *Collection) Find(_ context.Context, query, fields bson.M) driver.Cursor {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	cur := &Cursor{coll: c, query: query, fields: fields, err: c.takeFailureLocked()}
	c.cursors = append(c.cursors, cur)
	return cur
}

func (c *Collection) FindOne(_ context.Context, query, fields bson.M) (bson.M, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	if err := c.takeFailureLocked(); err != nil {
		return nil, err
	}
	for _, doc := range c.docs {
		ok, err := matches(doc, query)
		if err != nil {
			return nil, err
		}
		if ok {
			return project(mustClone(doc), fields)
		}
	}
	return nil, nil
}

func (c *Collection) Count(_ context.Context, query bson.M) (int64, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	if err := c.takeFailureLocked(); err != nil {
		return 0, err
	}
	matched, err := c.matchingLocked(query)
	return int64(len(matched)), err
}

func (c *Collection) Insert(_ context.Context, wc *writeconcern.WriteConcern, docs ...bson.M) (driver.WriteResult, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	c.writeConcerns = append(c.writeConcerns, wc)
	if err := c.takeFailureLocked(); err != nil {
		return driver.WriteResult{}, err
	}

	for i, doc := range docs {
		if id, ok := doc["_id"]; !ok || id == nil {
			doc["_id"] = primitive.NewObjectID()
		}
		existing, err := c.indexOfLocked(doc["_id"])
		if err != nil {
			return driver.WriteResult{N: int64(i)}, err
		}
		if existing >= 0 {
			return driver.WriteResult{N: int64(i)}, duplicateKeyError(i, doc["_id"])
		}
		stored, err := clone(doc)
		if err != nil {
			return driver.WriteResult{N: int64(i)}, err
		}
		c.docs = append(c.docs, stored)
	}
	c.exists = true
	return c.resultLocked(wc, int64(len(docs)), nil), nil
}

func (c *Collection) Save(ctx context.Context, wc *writeconcern.WriteConcern, doc bson.M) (driver.WriteResult, error) {
	id, ok := doc["_id"]
	if !ok || id == nil {
		return c.Insert(ctx, wc, doc)
	}

	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	c.writeConcerns = append(c.writeConcerns, wc)
	if err := c.takeFailureLocked(); err != nil {
		return driver.WriteResult{}, err
	}

	stored, err := clone(doc)
	if err != nil {
		return driver.WriteResult{}, err
	}
	c.exists = true
	idx, err := c.indexOfLocked(id)
	if err != nil {
		return driver.WriteResult{}, err
	}
	if idx >= 0 {
		c.docs[idx] = stored
		return c.resultLocked(wc, 1, nil), nil
	}
	c.docs = append(c.docs, stored)
	return c.resultLocked(wc, 1, id), nil
}

func (c *Collection) Update(_ context.Context, wc *writeconcern.WriteConcern, query, update bson.M, upsert, multi bool) (driver.WriteResult, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	c.writeConcerns = append(c.writeConcerns, wc)
	if err := c.takeFailureLocked(); err != nil {
		return driver.WriteResult{}, err
	}

	matched, err := c.matchingLocked(query)
	if err != nil {
		return driver.WriteResult{}, err
	}
	if !multi && len(matched) > 1 {
		matched = matched[:1]
	}

	if len(matched) == 0 {
		if !upsert {
			return c.resultLocked(wc, 0, nil), nil
		}
		doc, err := c.upsertLocked(query, update)
		if err != nil {
			return driver.WriteResult{}, err
		}
		return c.resultLocked(wc, 1, doc["_id"]), nil
	}

	for _, idx := range matched {
		updated, err := updatedDocument(c.docs[idx], query, update, false)
		if err != nil {
			return driver.WriteResult{}, err
		}
		c.docs[idx] = updated
	}
	return c.resultLocked(wc, int64(len(matched)), nil), nil
}

func (c *Collection) Remove(_ context.Context, wc *writeconcern.WriteConcern, query bson.M) (driver.WriteResult, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	c.writeConcerns = append(c.writeConcerns, wc)
	if err := c.takeFailureLocked(); err != nil {
		return driver.WriteResult{}, err
	}

	kept := make([]bson.M, 0, len(c.docs))
	var removed int64
	for _, doc := range c.docs {
		ok, err := matches(doc, query)
		if err != nil {
			return driver.WriteResult{}, err
		}
		if ok {
			removed++
			continue
		}
		kept = append(kept, doc)
	}
	c.docs = kept
	return c.resultLocked(wc, removed, nil), nil
}

func (c *Collection) FindAndModify(_ context.Context, args driver.FindAndModify) (bson.M, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	if err := c.takeFailureLocked(); err != nil {
		return nil, err
	}

	matched, err := c.matchingLocked(args.Query)
	if err != nil {
		return nil, err
	}
	if len(args.Sort) > 0 {
		if err = sortIndexes(c.docs, matched, args.Sort); err != nil {
			return nil, err
		}
	}

	if len(matched) == 0 {
		if args.Remove || !args.Upsert {
			return nil, nil
		}
		doc, err := c.upsertLocked(args.Query, args.Update)
		if err != nil {
			return nil, err
		}
		if !args.ReturnNew {
			return nil, nil
		}
		return project(mustClone(doc), args.Fields)
	}

	idx := matched[0]
	before := c.docs[idx]
	if args.Remove {
		c.docs = append(c.docs[:idx:idx], c.docs[idx+1:]...)
		return project(mustClone(before), args.Fields)
	}

	updated, err := updatedDocument(before, args.Query, args.Update, false)
	if err != nil {
		return nil, err
	}
	c.docs[idx] = updated
	if args.ReturnNew {
		return project(mustClone(updated), args.Fields)
	}
	return project(mustClone(before), args.Fields)
}

func (c *Collection) matchingLocked(query bson.M) ([]int, error) {
	out := []int{}
	for idx, doc := range c.docs {
		ok, err := matches(doc, query)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, idx)
		}
	}
	return out, nil
}

func (c *Collection) indexOfLocked(id any) (int, error) {
	byID := bson.M{"_id": bson.M{"$eq": id}}
	for idx, doc := range c.docs {
		ok, err := matches(doc, byID)
		if err != nil {
			return -1, err
		}
		if ok {
			return idx, nil
		}
	}
	return -1, nil
}

// resultLocked reports a write the way the server acknowledges it. An
// unacknowledged write concern yields no counts.
func (c *Collection) resultLocked(wc *writeconcern.WriteConcern, n int64, upserted any) driver.WriteResult {
	if !wc.Acknowledged() {
		return driver.WriteResult{}
	}
	return driver.WriteResult{N: n, UpsertedID: upserted, Err: c.WriteError, Acknowledged: true}
}

func (c *Collection) upsertLocked(query, update bson.M) (bson.M, error) {
	seed, err := seedFromQuery(query)
	if err != nil {
		return nil, err
	}
	doc, err := updatedDocument(seed, query, update, true)
	if err != nil {
		return nil, err
	}
	if _, ok := doc["_id"]; !ok {
		doc["_id"] = primitive.NewObjectID()
	}
	c.docs = append(c.docs, doc)
	c.exists = true
	return doc, nil
}

func duplicateKeyError(index int, id any) error {
	return mongo.WriteException{
		WriteErrors: mongo.WriteErrors{{
			Index:   index,
			Code:    duplicateKeyCode,
			Message: fmt.Sprintf("E11000 duplicate key error dup key: { _id: %v }", id),
		}},
	}
}

func clone(doc bson.M) (bson.M, error) {
	if doc == nil {
		return nil, nil
	}
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

func mustClone(doc bson.M) bson.M {
	out, err := clone(doc)
	if err != nil {
		panic(err)
	}
	return out
}
