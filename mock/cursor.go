package mock

import (
	"context"

	"github.com/evergreen-ci/docstore/driver"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

// Cursor is a lazily evaluated query over a Collection. The result set
// is fixed at the first call to Next.
type Cursor struct {
	// CloseCount is the number of times Close was called.
	CloseCount int
	// DocumentErrorAt makes Document fail for the result at this
	// one-based position.
	DocumentErrorAt int

	coll    *Collection
	query   bson.M
	fields  bson.M
	skip    int
	limit   int
	sort    bson.D
	hint    string
	started bool
	results []bson.M
	pos     int
	err     error
}

func (c *Cursor) modify(fn func()) driver.Cursor {
	if c.started {
		c.err = errors.New("cursor modified after iteration started")
		return c
	}
	fn()
	return c
}

func (c *Cursor) Skip(n int) driver.Cursor        { return c.modify(func() { c.skip = n }) }
func (c *Cursor) Limit(n int) driver.Cursor       { return c.modify(func() { c.limit = n }) }
func (c *Cursor) Sort(sort bson.D) driver.Cursor  { return c.modify(func() { c.sort = sort }) }
func (c *Cursor) Hint(index string) driver.Cursor { return c.modify(func() { c.hint = index }) }

// Applied returns the modifiers set on the cursor.
func (c *Cursor) Applied() (skip, limit int, sort bson.D, hint string) {
	return c.skip, c.limit, c.sort, c.hint
}

func (c *Cursor) Next(_ context.Context) bool {
	if c.err != nil {
		return false
	}
	if !c.started {
		c.started = true
		if err := c.evaluate(); err != nil {
			c.err = err
			return false
		}
	}
	if c.pos >= len(c.results) {
		return false
	}
	c.pos++
	return true
}

func (c *Cursor) evaluate() error {
	c.coll.db.mu.Lock()
	defer c.coll.db.mu.Unlock()

	matched, err := c.coll.matchingLocked(c.query)
	if err != nil {
		return err
	}
	if len(c.sort) > 0 {
		if err = sortIndexes(c.coll.docs, matched, c.sort); err != nil {
			return err
		}
	}
	if c.skip > 0 {
		if c.skip >= len(matched) {
			matched = nil
		} else {
			matched = matched[c.skip:]
		}
	}
	if c.limit > 0 && c.limit < len(matched) {
		matched = matched[:c.limit]
	}

	c.results = make([]bson.M, 0, len(matched))
	for _, idx := range matched {
		doc, err := project(mustClone(c.coll.docs[idx]), c.fields)
		if err != nil {
			return err
		}
		c.results = append(c.results, doc)
	}
	return nil
}

func (c *Cursor) Document() (bson.M, error) {
	if c.pos == 0 || c.pos > len(c.results) {
		return nil, errors.New("no current document")
	}
	if c.DocumentErrorAt > 0 && c.pos == c.DocumentErrorAt {
		return nil, errors.Errorf("decoding document %d", c.pos)
	}
	return c.results[c.pos-1], nil
}

func (c *Cursor) Err() error { return c.err }

func (c *Cursor) Close(_ context.Context) error {
	c.CloseCount++
	return nil
}
