package db

import (
	"context"

	"github.com/evergreen-ci/docstore/driver"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

// ExecuteCommand runs cmd against the database. A reply reporting
// failure is logged rather than returned; only transport errors fail
// the call.
func (t *Template) ExecuteCommand(ctx context.Context, cmd bson.D) (driver.CommandResult, error) {
	return t.ExecuteCommandWithOptions(ctx, cmd, 0)
}

// ExecuteCommandWithOptions is ExecuteCommand with a driver option
// bitmask.
func (t *Template) ExecuteCommandWithOptions(ctx context.Context, cmd bson.D, options int) (driver.CommandResult, error) {
	if len(cmd) == 0 {
		return nil, invalidUsage("command must not be empty")
	}

	res, err := t.db.RunCommand(ctx, cmd, options)
	if err != nil {
		return nil, t.translate(err)
	}
	if res.Failed() {
		t.logger.Warning(message.WrapError(handleCommandError(res, cmd), message.Fields{
			"message": "command reported failure",
			"command": cmd,
		}))
	}
	return res, nil
}

// ExecuteCommandJSON parses an extended JSON command and runs it.
func (t *Template) ExecuteCommandJSON(ctx context.Context, jsonCommand string) (driver.CommandResult, error) {
	var cmd bson.D
	if err := bson.UnmarshalExtJSON([]byte(jsonCommand), false, &cmd); err != nil {
		e := newError(InvalidUsage, "command must be a valid JSON document")
		e.cause = err
		return nil, errors.WithStack(e)
	}
	return t.ExecuteCommand(ctx, cmd)
}

// runCommand runs cmd and fails when the reply reports failure.
func (t *Template) runCommand(ctx context.Context, cmd bson.D, options int) (driver.CommandResult, error) {
	t.logger.Debug(message.Fields{
		"message": "executing command",
		"command": cmd,
		"options": options,
	})

	res, err := t.db.RunCommand(ctx, cmd, options)
	if err != nil {
		return nil, t.translate(err)
	}
	if err := handleCommandError(res, cmd); err != nil {
		return res, err
	}
	return res, nil
}

// CollectionCallback is a unit of work against one collection.
type CollectionCallback func(ctx context.Context, coll driver.Collection) error

// DatabaseCallback is a unit of work against the database.
type DatabaseCallback func(ctx context.Context, db driver.Database) error

// Execute runs fn against target's collection, translating driver
// errors it returns.
func (t *Template) Execute(ctx context.Context, target Target, fn CollectionCallback) error {
	if fn == nil {
		return invalidUsage("collection callback must not be nil")
	}
	collection, _, err := t.resolve(target)
	if err != nil {
		return err
	}
	return t.translate(fn(ctx, t.db.C(collection)))
}

// ExecuteDB runs fn against the database, translating driver errors it
// returns.
func (t *Template) ExecuteDB(ctx context.Context, fn DatabaseCallback) error {
	if fn == nil {
		return invalidUsage("database callback must not be nil")
	}
	return t.translate(fn(ctx, t.db))
}
