package db

import (
	"reflect"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

// Operation is the kind of write a MongoAction describes.
type Operation string

const (
	OperationInsert     Operation = "INSERT"
	OperationInsertList Operation = "INSERT_LIST"
	OperationSave       Operation = "SAVE"
	OperationUpdate     Operation = "UPDATE"
	OperationRemove     Operation = "REMOVE"
)

// Operations lists every write operation kind.
var Operations = []Operation{
	OperationInsert,
	OperationInsertList,
	OperationSave,
	OperationUpdate,
	OperationRemove,
}

// MongoAction describes an attempted write and is the input to write
// concern resolution.
type MongoAction struct {
	DefaultWriteConcern *writeconcern.WriteConcern
	Operation           Operation
	Collection          string
	// EntityType is nil for writes of raw documents.
	EntityType reflect.Type
	Document   bson.M
	Query      bson.M
}

// WriteConcernResolver picks the write concern for an action. A nil
// result means the collection's configured default.
type WriteConcernResolver interface {
	Resolve(action MongoAction) *writeconcern.WriteConcern
}

// WriteConcernResolverFunc adapts a function to a WriteConcernResolver.
type WriteConcernResolverFunc func(action MongoAction) *writeconcern.WriteConcern

func (f WriteConcernResolverFunc) Resolve(action MongoAction) *writeconcern.WriteConcern {
	return f(action)
}

// DefaultWriteConcernResolver returns the action's default concern.
type DefaultWriteConcernResolver struct{}

func (DefaultWriteConcernResolver) Resolve(action MongoAction) *writeconcern.WriteConcern {
	return action.DefaultWriteConcern
}

// OperationWriteConcernResolver overrides the default concern per
// operation kind.
type OperationWriteConcernResolver struct {
	Concerns map[Operation]*writeconcern.WriteConcern
}

func (r OperationWriteConcernResolver) Resolve(action MongoAction) *writeconcern.WriteConcern {
	if wc, ok := r.Concerns[action.Operation]; ok && wc != nil {
		return wc
	}
	return action.DefaultWriteConcern
}
