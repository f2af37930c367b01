package main

import (
	"os"

	"github.com/evergreen-ci/docstore"
	"github.com/evergreen-ci/docstore/operations"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/level"
	"github.com/mongodb/grip/send"
	"github.com/urfave/cli"
)

func main() {
	app := buildApp()
	grip.EmergencyFatal(app.Run(os.Args))
}

func buildApp() *cli.App {
	app := cli.NewApp()
	app.Name = "docstore"
	app.Usage = "document store administration"

	app.Commands = []cli.Command{
		operations.Command(),
		operations.Collections(),
	}

	// Flags shared by every subcommand.
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "level",
			Value: "info",
			Usage: "lowest log level to print (emergency, alert, critical, error, warning, notice, info, debug, trace)",
		},
		cli.StringFlag{
			Name:  "conf, config, c",
			Usage: "specify the path for the docstore settings file",
			Value: docstore.DefaultConfigPath(),
		},
	}

	app.Before = func(c *cli.Context) error {
		return loggingSetup(app.Name, c.String("level"))
	}

	return app
}

// loggingSetup sends log output to standard error so command output on
// standard output stays parseable.
func loggingSetup(name, threshold string) error {
	if err := grip.SetSender(send.MakeErrorLogger()); err != nil {
		return err
	}
	grip.SetName(name)

	sender := grip.GetSender()
	lvl := sender.Level()
	lvl.Threshold = level.FromString(threshold)

	return sender.SetLevel(lvl)
}
