package operations

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/cheynewallace/tabby"
	"github.com/dustin/go-humanize"
	"github.com/evergreen-ci/docstore"
	"github.com/evergreen-ci/docstore/db"
	"github.com/evergreen-ci/docstore/driver"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
	"go.mongodb.org/mongo-driver/bson"
)

// Collections groups the collection administration commands.
func Collections() cli.Command {
	return cli.Command{
		Name:    "collections",
		Aliases: []string{"coll"},
		Usage:   "list, create and drop collections",
		Subcommands: []cli.Command{
			collectionsList(),
			collectionsCreate(),
			collectionsDrop(),
		},
	}
}

func collectionsList() cli.Command {
	return cli.Command{
		Name:  "list",
		Usage: "list the collections of the configured database",
		Flags: []cli.Flag{
			cli.BoolFlag{
				Name:  statsFlagName,
				Usage: "include document counts and sizes",
			},
		},
		Before: requireConfig,
		Action: func(c *cli.Context) error {
			confPath := c.GlobalString(confFlagName)
			withStats := c.Bool(statsFlagName)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			return withEnvironment(ctx, confPath, func(ctx context.Context, env docstore.Environment) error {
				return listCollections(ctx, env.Template(), os.Stdout, withStats)
			})
		},
	}
}

func collectionsCreate() cli.Command {
	return cli.Command{
		Name:      "create",
		Usage:     "create a collection",
		ArgsUsage: "<collection>",
		Flags:     addCollectionOptionFlags(),
		Before:    mergeBeforeFuncs(requireConfig, requireCollection),
		Action: func(c *cli.Context) error {
			confPath := c.GlobalString(confFlagName)
			name := c.Args().First()
			opts := db.CollectionOptions{
				Capped: c.Bool(cappedFlagName),
				Size:   c.Int64(sizeFlagName),
				Max:    c.Int64(maxDocsFlagName),
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			return withEnvironment(ctx, confPath, func(ctx context.Context, env docstore.Environment) error {
				if err := env.Template().CreateCollection(ctx, name, opts); err != nil {
					return errors.Wrapf(err, "creating collection '%s'", name)
				}
				fmt.Printf("created collection '%s'\n", name)
				return nil
			})
		},
	}
}

func collectionsDrop() cli.Command {
	return cli.Command{
		Name:      "drop",
		Usage:     "drop a collection",
		ArgsUsage: "<collection>",
		Before:    mergeBeforeFuncs(requireConfig, requireCollection),
		Action: func(c *cli.Context) error {
			confPath := c.GlobalString(confFlagName)
			name := c.Args().First()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			return withEnvironment(ctx, confPath, func(ctx context.Context, env docstore.Environment) error {
				if err := env.Template().DropCollection(ctx, db.Collection(name)); err != nil {
					return errors.Wrapf(err, "dropping collection '%s'", name)
				}
				fmt.Printf("dropped collection '%s'\n", name)
				return nil
			})
		},
	}
}

type collectionStats struct {
	name  string
	count int64
	size  int64
	known bool
}

func listCollections(ctx context.Context, t *db.Template, w io.Writer, withStats bool) error {
	names, err := t.CollectionNames(ctx)
	if err != nil {
		return errors.Wrap(err, "listing collections")
	}

	table := tabby.NewCustom(tabwriter.NewWriter(w, 0, 0, 2, ' ', 0))
	if !withStats {
		table.AddHeader("Name")
		for _, name := range names {
			table.AddLine(name)
		}
		fmt.Fprintf(w, "%d collections:\n", len(names))
		table.Print()
		return nil
	}

	table.AddHeader("Name", "Documents", "Size")
	for _, name := range names {
		stats, err := getCollectionStats(ctx, t, name)
		if err != nil {
			return err
		}
		if !stats.known {
			table.AddLine(stats.name, "-", "-")
			continue
		}
		table.AddLine(stats.name, humanize.Comma(stats.count), humanize.Bytes(uint64(stats.size)))
	}
	fmt.Fprintf(w, "%d collections:\n", len(names))
	table.Print()
	return nil
}

func getCollectionStats(ctx context.Context, t *db.Template, name string) (collectionStats, error) {
	stats := collectionStats{name: name}
	res, err := t.ExecuteCommand(ctx, bson.D{{Key: "collStats", Value: name}})
	if err != nil {
		return stats, errors.Wrapf(err, "getting stats for collection '%s'", name)
	}
	if res.Failed() {
		return stats, nil
	}

	count, okCount := statValue(res, "count")
	size, okSize := statValue(res, "size")
	stats.count, stats.size = count, size
	stats.known = okCount && okSize && size >= 0
	return stats, nil
}

func statValue(res driver.CommandResult, key string) (int64, bool) {
	switch v := res.Get(key).(type) {
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}
