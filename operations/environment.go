package operations

import (
	"context"
	"time"

	"github.com/evergreen-ci/docstore"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
)

const closeTimeout = 10 * time.Second

// withEnvironment connects using the settings at confPath, runs op and
// closes the environment.
func withEnvironment(ctx context.Context, confPath string, op func(context.Context, docstore.Environment) error) error {
	env, err := docstore.NewEnvironment(ctx, confPath, nil)
	if err != nil {
		return errors.Wrap(err, "configuring environment")
	}
	docstore.SetEnvironment(env)

	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		grip.Warning(message.WrapError(env.Close(closeCtx), message.Fields{
			"message": "closing environment",
		}))
	}()

	return op(ctx, env)
}
