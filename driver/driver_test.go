package driver

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

func TestCommandResult(t *testing.T) {
	for name, test := range map[string]struct {
		res    CommandResult
		ok     bool
		errmsg string
	}{
		"FloatOK":         {res: CommandResult{"ok": 1.0}, ok: true},
		"IntOK":           {res: CommandResult{"ok": int32(1)}, ok: true},
		"BoolOK":          {res: CommandResult{"ok": true}, ok: true},
		"Zero":            {res: CommandResult{"ok": 0.0, "errmsg": "boom"}, errmsg: "boom"},
		"Missing":         {res: CommandResult{}},
		"OKWithErr":       {res: CommandResult{"ok": 1.0, "err": "late failure"}, ok: true, errmsg: "late failure"},
		"NonStringErrmsg": {res: CommandResult{"ok": 0, "errmsg": 42}, errmsg: "42"},
		"NilErr":          {res: CommandResult{"ok": int64(1), "err": nil}, ok: true},
	} {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.ok, test.res.OK())
			assert.Equal(t, test.errmsg, test.res.ErrorMessage())
			assert.Equal(t, !test.ok || test.errmsg != "", test.res.Failed())
		})
	}

	assert.Equal(t, "x", CommandResult{"v": "x"}.Get("v"))
	assert.Nil(t, CommandResult{}.Get("v"))
}

func TestWriteResult(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		res, err := writeResult(nil, 2, "id", nil)
		require.NoError(t, err)
		assert.True(t, res.Acknowledged)
		assert.Equal(t, int64(2), res.N)
		assert.Equal(t, "id", res.UpsertedID)
		assert.False(t, res.HasError())
	})
	t.Run("Unacknowledged", func(t *testing.T) {
		res, err := writeResult(nil, 0, nil, mongo.ErrUnacknowledgedWrite)
		require.NoError(t, err)
		assert.False(t, res.HasError())
		assert.False(t, res.Acknowledged)

		res, err = writeResult(writeconcern.Unacknowledged(), 1, nil, nil)
		require.NoError(t, err)
		assert.False(t, res.Acknowledged)
		assert.Zero(t, res.N)
	})
	t.Run("WriteConcernErrorIsReported", func(t *testing.T) {
		wce := mongo.WriteException{WriteConcernError: &mongo.WriteConcernError{Code: 64, Message: "waiting for replication timed out"}}
		res, err := writeResult(writeconcern.Majority(), 1, nil, wce)
		require.NoError(t, err)
		assert.True(t, res.HasError())
		assert.Equal(t, "waiting for replication timed out", res.Err)
		assert.Equal(t, int64(1), res.N)
	})
	t.Run("BulkWriteConcernErrorIsReported", func(t *testing.T) {
		wce := mongo.BulkWriteException{WriteConcernError: &mongo.WriteConcernError{Message: "not enough data-bearing nodes"}}
		res, err := writeResult(nil, 3, nil, errors.WithStack(wce))
		require.NoError(t, err)
		assert.Equal(t, "not enough data-bearing nodes", res.Err)
	})
	t.Run("WriteErrorsAreReturned", func(t *testing.T) {
		we := mongo.WriteException{WriteErrors: mongo.WriteErrors{{Code: 11000, Message: "duplicate key"}}}
		_, err := writeResult(nil, 0, nil, we)
		assert.Error(t, err)
	})
}

func TestHelpers(t *testing.T) {
	assert.True(t, hasOperators(bson.M{"$set": bson.M{}}))
	assert.False(t, hasOperators(bson.M{"a": 1}))
	assert.Equal(t, bson.M{}, nonNil(nil))

	for _, v := range []any{int(3), int32(3), int64(3), 3.0} {
		n, ok := asInt64(v)
		assert.True(t, ok)
		assert.Equal(t, int64(3), n)
	}
	_, ok := asInt64("3")
	assert.False(t, ok)
}
