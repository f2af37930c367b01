package operations

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/evergreen-ci/docstore"
	"github.com/evergreen-ci/docstore/db"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
	"go.mongodb.org/mongo-driver/bson"
)

// Command runs a database command given as extended JSON and prints the
// reply.
func Command() cli.Command {
	return cli.Command{
		Name:   "command",
		Usage:  "run a database command and print its reply",
		Flags:  addOptionsFlag(addJSONFlag()...),
		Before: mergeBeforeFuncs(requireConfig, requireStringFlag(jsonFlagName)),
		Action: func(c *cli.Context) error {
			confPath := c.GlobalString(confFlagName)
			jsonCommand := c.String(jsonFlagName)
			options := c.Int(optionsFlagName)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			return withEnvironment(ctx, confPath, func(ctx context.Context, env docstore.Environment) error {
				return runCommand(ctx, env.Template(), os.Stdout, jsonCommand, options)
			})
		},
	}
}

func runCommand(ctx context.Context, t *db.Template, w io.Writer, jsonCommand string, options int) error {
	var cmd bson.D
	if err := bson.UnmarshalExtJSON([]byte(jsonCommand), false, &cmd); err != nil {
		return errors.Wrap(err, "parsing command")
	}

	res, err := t.ExecuteCommandWithOptions(ctx, cmd, options)
	if err != nil {
		return errors.Wrap(err, "running command")
	}

	out, err := bson.MarshalExtJSONIndent(bson.M(res), false, false, "", "  ")
	if err != nil {
		return errors.Wrap(err, "rendering reply")
	}
	if _, err = fmt.Fprintln(w, string(out)); err != nil {
		return errors.WithStack(err)
	}
	if res.Failed() {
		return errors.Errorf("command failed: %s", res.ErrorMessage())
	}
	return nil
}
