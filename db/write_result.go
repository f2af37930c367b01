package db

import (
	"fmt"

	"github.com/evergreen-ci/docstore/driver"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

// WriteResultChecking controls what happens when a write
// acknowledgement carries an error.
type WriteResultChecking string

const (
	WriteResultCheckingNone      WriteResultChecking = "none"
	WriteResultCheckingLog       WriteResultChecking = "log"
	WriteResultCheckingException WriteResultChecking = "exception"
)

// Validate checks that the level is known.
func (c WriteResultChecking) Validate() error {
	switch c {
	case WriteResultCheckingNone, WriteResultCheckingLog, WriteResultCheckingException:
		return nil
	default:
		return errors.Errorf("invalid write result checking level '%s'", c)
	}
}

// handleWriteResultErrors applies the template's checking level to res.
// query is the mapped query or document the write used.
func (t *Template) handleWriteResultErrors(res driver.WriteResult, collection string, query bson.M, op Operation) error {
	if t.checking == WriteResultCheckingNone || !res.HasError() {
		return nil
	}

	var msg string
	switch op {
	case OperationInsert, OperationSave:
		msg = fmt.Sprintf("%s for %v failed: %s", operationTitle(op), query, res.Err)
	case OperationInsertList:
		msg = fmt.Sprintf("Insert list failed: %s", res.Err)
	default:
		using := ""
		if query != nil {
			using = fmt.Sprintf(" using query %v", query)
		}
		msg = fmt.Sprintf("Execution of %s%s failed: %s", op, using, res.Err)
	}

	if t.checking == WriteResultCheckingException {
		return errors.WithStack(&Error{
			Kind:          WriteIntegrity,
			Message:       msg,
			Operation:     op,
			Collection:    collection,
			Query:         query,
			ServerMessage: res.Err,
		})
	}

	t.logger.Error(message.Fields{
		"message":      msg,
		"operation":    op,
		"collection":   collection,
		"server_error": res.Err,
	})
	return nil
}

func operationTitle(op Operation) string {
	switch op {
	case OperationInsert:
		return "Insert"
	case OperationSave:
		return "Save"
	default:
		return string(op)
	}
}

// handleCommandError fails when a command result reports failure,
// regardless of the write result checking level.
func handleCommandError(res driver.CommandResult, cmd bson.D) error {
	if !res.Failed() {
		return nil
	}
	msg := res.ErrorMessage()
	if msg == "" {
		msg = "NO MESSAGE"
	}
	return errors.WithStack(&Error{
		Kind:          CommandFailure,
		Message:       fmt.Sprintf("Command execution failed: Error [%s], Command = %v", msg, cmd),
		Command:       cmd,
		ServerMessage: res.ErrorMessage(),
	})
}
