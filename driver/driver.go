// Package driver describes the collection, cursor and command
// capability the template runs on, and adapts the MongoDB Go driver to
// it.
package driver

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

// OptionSecondaryOK permits a command to run against a secondary.
const OptionSecondaryOK = 1 << 2

// Database is a handle to one logical database.
type Database interface {
	Name() string
	C(name string) Collection
	RunCommand(ctx context.Context, cmd bson.D, options int) (CommandResult, error)
	CreateCollection(ctx context.Context, name string, options bson.M) error
	CollectionExists(ctx context.Context, name string) (bool, error)
	CollectionNames(ctx context.Context) ([]string, error)
	DropCollection(ctx context.Context, name string) error
}

// Collection is a handle to one collection. A nil write concern means
// the collection's configured default.
type Collection interface {
	Name() string
	Find(ctx context.Context, query, fields bson.M) Cursor
	// FindOne returns nil without an error when nothing matched.
	FindOne(ctx context.Context, query, fields bson.M) (bson.M, error)
	Count(ctx context.Context, query bson.M) (int64, error)
	// Insert assigns a new ObjectID to documents without an _id.
	Insert(ctx context.Context, wc *writeconcern.WriteConcern, docs ...bson.M) (WriteResult, error)
	// Save replaces the document with the same _id or inserts it.
	Save(ctx context.Context, wc *writeconcern.WriteConcern, doc bson.M) (WriteResult, error)
	Update(ctx context.Context, wc *writeconcern.WriteConcern, query, update bson.M, upsert, multi bool) (WriteResult, error)
	Remove(ctx context.Context, wc *writeconcern.WriteConcern, query bson.M) (WriteResult, error)
	// FindAndModify returns nil without an error when nothing matched.
	FindAndModify(ctx context.Context, args FindAndModify) (bson.M, error)
}

// Cursor is a lazily executed query. The modifiers must be applied
// before the first call to Next.
type Cursor interface {
	Skip(n int) Cursor
	Limit(n int) Cursor
	Sort(sort bson.D) Cursor
	Hint(index string) Cursor
	Next(ctx context.Context) bool
	Document() (bson.M, error)
	Err() error
	Close(ctx context.Context) error
}

// FindAndModify describes an atomic find-and-modify or find-and-remove.
type FindAndModify struct {
	Query     bson.M
	Fields    bson.M
	Sort      bson.D
	Update    bson.M
	Remove    bool
	ReturnNew bool
	Upsert    bool
}

// WriteResult is the acknowledgement of a write. Err holds an error the
// server reported even though the write itself was transported. N is
// only meaningful when Acknowledged is set; an unacknowledged write
// reports no counts.
type WriteResult struct {
	N            int64
	UpsertedID   any
	Err          string
	Acknowledged bool
}

// HasError reports whether the server reported an error.
func (r WriteResult) HasError() bool { return r.Err != "" }

// CommandResult is the reply to a server command.
type CommandResult bson.M

// OK reports whether the command succeeded.
func (r CommandResult) OK() bool {
	switch v := r["ok"].(type) {
	case bool:
		return v
	case float64:
		return v == 1
	case int32:
		return v == 1
	case int64:
		return v == 1
	case int:
		return v == 1
	default:
		return false
	}
}

// ErrorMessage returns the server's error text, if any.
func (r CommandResult) ErrorMessage() string {
	for _, key := range []string{"errmsg", "err"} {
		if v, ok := r[key]; ok && v != nil {
			if s, ok := v.(string); ok {
				return s
			}
			return fmt.Sprint(v)
		}
	}
	return ""
}

// Failed reports whether the reply signals a failure.
func (r CommandResult) Failed() bool { return !r.OK() || r.ErrorMessage() != "" }

// Get returns the value stored under key.
func (r CommandResult) Get(key string) any { return r[key] }
