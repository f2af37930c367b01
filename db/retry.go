package db

import (
	"context"
	"time"

	"github.com/evergreen-ci/utility"
	"github.com/mongodb/grip/message"
)

const (
	defaultOptimisticLockAttempts = 3
	defaultOptimisticLockMinDelay = 100 * time.Millisecond
	defaultOptimisticLockMaxDelay = time.Second
)

// RetryOnOptimisticLock runs op, rerunning it with backoff while it
// fails with an optimistic lock conflict. op is responsible for
// reloading the document it saves. Any other error ends the retries.
func (t *Template) RetryOnOptimisticLock(ctx context.Context, op func(ctx context.Context) error, opts utility.RetryOptions) error {
	if op == nil {
		return invalidUsage("operation to retry must not be nil")
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = defaultOptimisticLockAttempts
	}
	if opts.MinDelay == 0 {
		opts.MinDelay = defaultOptimisticLockMinDelay
	}
	if opts.MaxDelay == 0 {
		opts.MaxDelay = defaultOptimisticLockMaxDelay
	}

	attempt := 0
	return utility.Retry(ctx, func() (bool, error) {
		attempt++
		err := op(ctx)
		if err == nil {
			return false, nil
		}
		if !IsOptimisticLockingFailure(err) {
			return false, err
		}
		t.logger.Debug(message.WrapError(err, message.Fields{
			"message": "retrying after optimistic lock conflict",
			"attempt": attempt,
		}))
		return true, err
	}, opts)
}
