package db

import (
	"context"
	"fmt"
	"strings"

	anserdb "github.com/mongodb/anser/db"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// ErrorKind classifies failures surfaced by the template.
type ErrorKind string

const (
	// InvalidUsage marks a caller error detected before any I/O.
	InvalidUsage ErrorKind = "invalid-usage"
	// MappingFailure marks an object that cannot be mapped to a document.
	MappingFailure ErrorKind = "mapping-failure"
	// OptimisticLockFailure marks a versioned update that matched nothing.
	OptimisticLockFailure ErrorKind = "optimistic-lock"
	// WriteIntegrity marks a write whose acknowledgement carried an error.
	WriteIntegrity ErrorKind = "write-integrity"
	// CommandFailure marks a server command reporting failure.
	CommandFailure ErrorKind = "command-failure"

	// The remaining kinds are produced by translating driver errors.
	DuplicateKey    ErrorKind = "duplicate-key"
	ResourceFailure ErrorKind = "resource-failure"
	ResourceUsage   ErrorKind = "resource-usage"
	DataIntegrity   ErrorKind = "data-integrity"
	Uncategorized   ErrorKind = "uncategorized"
)

// Error is the structured failure returned by template operations.
type Error struct {
	Kind       ErrorKind
	Message    string
	Operation  Operation
	Collection string
	Query      bson.M
	Document   bson.M
	Command    bson.D
	// ServerMessage is the error text reported by the server, if any.
	ServerMessage string

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.cause.Error())
	}
	return e.Message
}

// Unwrap returns the lower level error, if any.
func (e *Error) Unwrap() error { return e.cause }

// Cause satisfies the github.com/pkg/errors causer interface.
func (e *Error) Cause() error { return e.cause }

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func invalidUsage(format string, args ...any) error {
	return errors.WithStack(newError(InvalidUsage, format, args...))
}

func mappingFailure(cause error, format string, args ...any) error {
	e := newError(MappingFailure, format, args...)
	e.cause = cause
	return errors.WithStack(e)
}

// KindOf returns the kind of a template error, or "" if err is not one.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsInvalidUsage(err error) bool             { return KindOf(err) == InvalidUsage }
func IsMappingFailure(err error) bool           { return KindOf(err) == MappingFailure }
func IsOptimisticLockingFailure(err error) bool { return KindOf(err) == OptimisticLockFailure }
func IsWriteIntegrityViolation(err error) bool  { return KindOf(err) == WriteIntegrity }
func IsCommandFailure(err error) bool           { return KindOf(err) == CommandFailure }
func IsResourceFailure(err error) bool          { return KindOf(err) == ResourceFailure }

// IsNotFound reports whether err signals an empty single-document read.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	return anserdb.ResultsNotFound(errors.Cause(err))
}

func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if KindOf(err) == DuplicateKey {
		return true
	}

	if mongo.IsDuplicateKeyError(errors.Cause(err)) {
		return true
	}

	if strings.Contains(errors.Cause(err).Error(), "duplicate key") {
		return true
	}

	return false
}

func IsDocumentLimit(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(errors.Cause(err).Error(), "an inserted document is too large")
}

// ExceptionTranslator maps driver errors into template errors. It
// returns nil when it has no mapping for err.
type ExceptionTranslator interface {
	Translate(err error) error
}

// DefaultExceptionTranslator maps MongoDB Go driver errors.
type DefaultExceptionTranslator struct{}

const cursorNotFoundCode = 43

func (DefaultExceptionTranslator) Translate(err error) error {
	if err == nil {
		return nil
	}

	var existing *Error
	if errors.As(err, &existing) {
		return err
	}

	kind := Uncategorized
	var (
		cmdErr    mongo.CommandError
		writeErr  mongo.WriteException
		bulkErr   mongo.BulkWriteException
		serverErr mongo.ServerError
	)
	switch {
	case mongo.IsDuplicateKeyError(err):
		kind = DuplicateKey
	case mongo.IsNetworkError(err), mongo.IsTimeout(err),
		errors.Is(err, mongo.ErrClientDisconnected), errors.Is(err, context.DeadlineExceeded):
		kind = ResourceFailure
	case errors.Is(err, mongo.ErrNilDocument), errors.Is(err, mongo.ErrEmptySlice):
		kind = InvalidUsage
	case errors.As(err, &cmdErr) && cmdErr.Code == cursorNotFoundCode:
		kind = ResourceUsage
	case errors.As(err, &writeErr), errors.As(err, &bulkErr):
		kind = DataIntegrity
	case errors.As(err, &serverErr):
		kind = Uncategorized
	default:
		return nil
	}

	return &Error{
		Kind:    kind,
		Message: "database operation failed",
		cause:   err,
	}
}
