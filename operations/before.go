package operations

import (
	"github.com/mongodb/grip"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
)

var (
	requireConfig = func(c *cli.Context) error {
		if c.GlobalString(confFlagName) == "" {
			return errors.New("configuration path is not specified")
		}
		return nil
	}

	requireCollection = func(c *cli.Context) error {
		if c.Args().First() == "" {
			return errors.New("collection name is not specified")
		}
		return nil
	}
)

func requireStringFlag(name string) cli.BeforeFunc {
	return func(c *cli.Context) error {
		if c.String(name) == "" {
			return errors.Errorf("flag '--%s' was not specified", name)
		}
		return nil
	}
}

func mergeBeforeFuncs(ops ...func(c *cli.Context) error) cli.BeforeFunc {
	return func(c *cli.Context) error {
		catcher := grip.NewBasicCatcher()

		for _, op := range ops {
			catcher.Add(op(c))
		}

		return catcher.Resolve()
	}
}
