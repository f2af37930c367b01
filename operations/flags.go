package operations

import (
	"github.com/urfave/cli"
)

const (
	confFlagName    = "conf"
	jsonFlagName    = "json"
	optionsFlagName = "options"
	statsFlagName   = "stats"
	cappedFlagName  = "capped"
	sizeFlagName    = "size"
	maxDocsFlagName = "max"
)

func addJSONFlag(flags ...cli.Flag) []cli.Flag {
	return append(flags, cli.StringFlag{
		Name:  jsonFlagName,
		Usage: "the command document as extended JSON",
	})
}

func addOptionsFlag(flags ...cli.Flag) []cli.Flag {
	return append(flags, cli.IntFlag{
		Name:  optionsFlagName,
		Usage: "query option bits to run the command with",
	})
}

func addCollectionOptionFlags(flags ...cli.Flag) []cli.Flag {
	return append(flags,
		cli.BoolFlag{
			Name:  cappedFlagName,
			Usage: "create a capped collection",
		},
		cli.Int64Flag{
			Name:  sizeFlagName,
			Usage: "maximum size in bytes of a capped collection",
		},
		cli.Int64Flag{
			Name:  maxDocsFlagName,
			Usage: "maximum number of documents in a capped collection",
		},
	)
}
