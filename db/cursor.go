package db

import (
	"context"

	"github.com/evergreen-ci/docstore/driver"
	"github.com/evergreen-ci/docstore/mapping"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

// CursorPreparer adjusts a cursor before it is iterated.
type CursorPreparer interface {
	Prepare(cur driver.Cursor) (driver.Cursor, error)
}

// queryCursorPreparer applies the skip, limit, sort and hint of a query,
// in that order.
type queryCursorPreparer struct {
	query      Q
	entity     *mapping.Entity
	translator func(error) error
}

func (t *Template) newCursorPreparer(q Q, entity *mapping.Entity) CursorPreparer {
	return &queryCursorPreparer{query: q, entity: entity, translator: t.translate}
}

func (p *queryCursorPreparer) Prepare(cur driver.Cursor) (driver.Cursor, error) {
	if !p.query.needsPreparation() {
		return cur, nil
	}

	prepared := cur
	if p.query.skip > 0 {
		prepared = prepared.Skip(p.query.skip)
	}
	if p.query.limit > 0 {
		prepared = prepared.Limit(p.query.limit)
	}
	if sort := p.query.sortDocument(p.entity.FieldName); len(sort) > 0 {
		prepared = prepared.Sort(sort)
	}
	if p.query.hint != "" {
		prepared = prepared.Hint(p.query.hint)
	}

	if err := prepared.Err(); err != nil {
		return nil, p.translator(err)
	}
	return prepared, nil
}

// DocumentHandler receives raw documents from ExecuteQuery.
type DocumentHandler interface {
	ProcessDocument(doc bson.M) error
}

// DocumentHandlerFunc adapts a function to a DocumentHandler.
type DocumentHandlerFunc func(doc bson.M) error

func (f DocumentHandlerFunc) ProcessDocument(doc bson.M) error { return f(doc) }

// iterate runs fn for every document of the prepared cursor. The cursor
// is closed exactly once on every path.
func (t *Template) iterate(ctx context.Context, cur driver.Cursor, preparer CursorPreparer, fn func(doc bson.M) error) (err error) {
	defer func() {
		if closeErr := cur.Close(ctx); closeErr != nil && err == nil {
			err = t.translate(closeErr)
		}
	}()

	if preparer != nil {
		prepared, err := preparer.Prepare(cur)
		if err != nil {
			return err
		}
		cur = prepared
	}

	for cur.Next(ctx) {
		doc, err := cur.Document()
		if err != nil {
			return t.translate(err)
		}
		if err := fn(doc); err != nil {
			return err
		}
	}

	return errors.WithStack(t.translate(cur.Err()))
}
