package db_test

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/evergreen-ci/docstore/db"
	"github.com/evergreen-ci/docstore/driver"
	"github.com/evergreen-ci/utility"
	"github.com/mongodb/grip/level"
	"github.com/mongodb/grip/logging"
	"github.com/mongodb/grip/send"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

// nameCount is the output of the grouping tests.
type nameCount struct {
	Name  string `bson:"name"`
	Count int    `bson:"count"`
}

type keyValue struct {
	ID    string  `bson:"_id"`
	Value float64 `bson:"value"`
}

// scriptSource serves scripts referenced as "script:<name>".
type scriptSource map[string]string

func (s scriptSource) IsResource(ref string) bool { return strings.HasPrefix(ref, "script:") }

func (s scriptSource) Load(_ context.Context, ref string) (string, error) {
	text, ok := s[strings.TrimPrefix(ref, "script:")]
	if !ok {
		return "", errors.Errorf("script '%s' not found", ref)
	}
	return text, nil
}

// countingScripts records how often scripts were loaded.
type countingScripts struct {
	scriptSource
	loads int
}

func (s *countingScripts) Load(ctx context.Context, ref string) (string, error) {
	s.loads++
	return s.scriptSource.Load(ctx, ref)
}

func commandValue(cmd bson.D, key string) any {
	for _, e := range cmd {
		if e.Key == key {
			return e.Value
		}
	}
	return nil
}

func (s *TemplateSuite) reply(res driver.CommandResult) {
	s.db.CommandFunc = func(bson.D, int) (driver.CommandResult, error) {
		return res, nil
	}
}

func (s *TemplateSuite) lastCommand() (bson.D, int) {
	commands := s.db.Commands()
	s.Require().NotEmpty(commands)
	last := commands[len(commands)-1]
	return last.Command, last.Options
}

func geoReply(n int) driver.CommandResult {
	results := bson.A{}
	for i := 1; i <= n; i++ {
		results = append(results, bson.M{
			"dis": float64(i),
			"obj": bson.M{"_id": fmt.Sprintf("v%d", i), "name": fmt.Sprintf("venue %d", i)},
		})
	}
	return driver.CommandResult{
		"ok":      1.0,
		"results": results,
		"stats":   bson.M{"avgDistance": 3.0},
	}
}

func (s *TemplateSuite) TestGeoNear() {
	s.reply(geoReply(5))

	s.Run("ReportsServerAverage", func() {
		res, err := db.GeoNear[venue](s.ctx, s.tmpl, db.Near(1, 2).Num(5))
		s.Require().NoError(err)
		s.Len(res.Results, 5)
		s.Require().NotNil(res.AverageDistance)
		s.Equal(3.0, res.AverageDistance.Value)
		s.Equal("v1", res.Contents()[0].ID)

		cmd, _ := s.lastCommand()
		s.Equal(venueCollection, commandValue(cmd, "geoNear"))
		s.Equal(bson.A{1.0, 2.0}, commandValue(cmd, "near"))
		s.Equal(5, commandValue(cmd, "num"))
		s.Nil(commandValue(cmd, "spherical"))
	})
	s.Run("SkipsResults", func() {
		res, err := db.GeoNear[venue](s.ctx, s.tmpl, db.Near(1, 2).Num(3).Skip(2))
		s.Require().NoError(err)
		s.Require().Len(res.Results, 3)
		s.Equal("v3", res.Results[0].Content.ID)
		s.Equal(3.0, res.Results[0].Distance.Value)
		s.Nil(res.AverageDistance)
		s.Equal(4.0, res.ComputeAverageDistance(db.Neutral).Value)

		cmd, _ := s.lastCommand()
		s.Equal(5, commandValue(cmd, "num"))
	})
	s.Run("UsesMetric", func() {
		near := db.Near(1, 2).MaxDistance(db.Distance{Value: 12.75685, Metric: db.Kilometers}).Query(db.Query(bson.M{"Name": "venue 1"}))
		res, err := db.GeoNear[venue](s.ctx, s.tmpl, near)
		s.Require().NoError(err)
		s.Equal(db.Kilometers, res.Results[0].Distance.Metric)
		s.Equal("1km", res.Results[0].Distance.String())

		cmd, _ := s.lastCommand()
		s.Equal(true, commandValue(cmd, "spherical"))
		s.Equal(db.Kilometers.Multiplier, commandValue(cmd, "distanceMultiplier"))
		s.InDelta(0.002, commandValue(cmd, "maxDistance"), 0.0001)
		s.Equal(bson.M{"name": "venue 1"}, commandValue(cmd, "query"))
	})
	s.Run("MalformedResultIsMappingFailure", func() {
		s.reply(driver.CommandResult{"ok": 1.0, "results": bson.A{bson.M{"obj": bson.M{"_id": "v1"}}}})
		_, err := db.GeoNear[venue](s.ctx, s.tmpl, db.Near(0, 0))
		s.True(db.IsMappingFailure(err))
	})
	s.Run("RequiresQuery", func() {
		_, err := db.GeoNear[venue](s.ctx, s.tmpl, nil)
		s.True(db.IsInvalidUsage(err))
	})
}

func (s *TemplateSuite) TestCommandFailuresAreRaisedAtEveryCheckingLevel() {
	s.reply(driver.CommandResult{"ok": 0.0, "errmsg": "no such command"})

	for _, checking := range []db.WriteResultChecking{
		db.WriteResultCheckingNone,
		db.WriteResultCheckingLog,
		db.WriteResultCheckingException,
	} {
		s.Run(string(checking), func() {
			tmpl := s.newTemplate(db.TemplateOptions{WriteResultChecking: checking})

			_, err := db.Aggregate[bson.M](s.ctx, tmpl, venueCollection, db.NewAggregation(bson.M{"$match": bson.M{}}))
			s.True(db.IsCommandFailure(err))

			_, err = db.MapReduce[bson.M](s.ctx, tmpl, db.Q{}, venueCollection, "function() {}", "function(k, v) {}", db.MapReduceOptions{})
			s.True(db.IsCommandFailure(err))

			_, err = db.Group[bson.M](s.ctx, tmpl, nil, venueCollection, db.NewGroupBy("name").Reduce("function(o, p) {}"))
			s.True(db.IsCommandFailure(err))

			_, err = db.GeoNear[venue](s.ctx, tmpl, db.Near(0, 0))
			s.Require().True(db.IsCommandFailure(err))

			var e *db.Error
			s.Require().True(errors.As(err, &e))
			s.Equal("no such command", e.ServerMessage)
			s.Contains(e.Error(), "no such command")
			s.Equal(venueCollection, commandValue(e.Command, "geoNear"))
		})
	}
}

func (s *TemplateSuite) TestAggregate() {
	s.Run("TypedAggregationMapsFields", func() {
		s.reply(driver.CommandResult{
			"ok": 1.0,
			"cursor": bson.M{
				"id":         int64(0),
				"firstBatch": bson.A{bson.M{"_id": bson.M{"name": "venue 1"}, "count": int32(2)}},
			},
		})

		agg := db.NewTypedAggregation[venue](
			bson.M{"$match": bson.M{"Name": "venue 1"}},
			bson.M{"$group": bson.M{"_id": bson.M{"name": "$name"}, "count": bson.M{"$sum": 1}}},
			bson.M{"$sort": bson.D{{Key: "Name", Value: 1}}},
		)
		res, err := db.Aggregate[nameCount](s.ctx, s.tmpl, "", agg)
		s.Require().NoError(err)

		unique, err := res.UniqueMappedResult()
		s.Require().NoError(err)
		s.Require().NotNil(unique)
		s.Equal(nameCount{Name: "venue 1", Count: 2}, *unique)

		cmd, _ := s.lastCommand()
		s.Equal(venueCollection, commandValue(cmd, "aggregate"))
		s.Equal(bson.M{}, commandValue(cmd, "cursor"))
		pipeline, ok := commandValue(cmd, "pipeline").(bson.A)
		s.Require().True(ok)
		s.Require().Len(pipeline, 3)
		s.Equal(bson.M{"$match": bson.M{"name": "venue 1"}}, pipeline[0])
		s.Equal(bson.M{"$sort": bson.D{{Key: "name", Value: 1}}}, pipeline[2])
	})
	s.Run("LegacyResultField", func() {
		s.reply(driver.CommandResult{
			"ok":         1.0,
			"serverUsed": "localhost:27017",
			"result": bson.A{
				bson.M{"name": "a", "count": int32(1)},
				bson.M{"name": "b", "count": int32(2)},
			},
		})

		res, err := db.Aggregate[nameCount](s.ctx, s.tmpl, venueCollection, db.NewAggregation(bson.M{"$project": bson.M{"name": 1}}))
		s.Require().NoError(err)
		s.Len(res.Mapped, 2)
		s.Equal("localhost:27017", res.ServerUsed())

		_, err = res.UniqueMappedResult()
		s.True(db.IsInvalidUsage(err))

		cmd, _ := s.lastCommand()
		s.Equal(bson.A{bson.M{"$project": bson.M{"name": 1}}}, commandValue(cmd, "pipeline"))
	})
	s.Run("InvalidUsage", func() {
		_, err := db.Aggregate[bson.M](s.ctx, s.tmpl, "", db.NewAggregation())
		s.True(db.IsInvalidUsage(err))

		_, err = db.Aggregate[bson.M](s.ctx, s.tmpl, venueCollection, nil)
		s.True(db.IsInvalidUsage(err))
	})
}

func (s *TemplateSuite) TestMapReduceInline() {
	s.reply(driver.CommandResult{
		"ok":      1.0,
		"results": bson.A{bson.M{"_id": "a", "value": 3.0}},
		"timing":  bson.M{"mapTime": int64(5), "emitLoop": int64(6), "total": int64(11)},
		"counts":  bson.M{"input": int32(4), "emit": int32(4), "output": int32(1)},
	})
	tmpl := s.newTemplate(db.TemplateOptions{
		CommandOptions: driver.OptionSecondaryOK,
		Scripts:        scriptSource{"map.js": "function() { emit(this.name, 1); }"},
	})

	q := db.Query(bson.M{"name": "a"}).Limit(10).Sort([]string{"-name"})
	res, err := db.MapReduce[keyValue](s.ctx, tmpl, q, venueCollection, "script:map.js", "function(k, v) { return Array.sum(v); }", db.MapReduceOptions{
		ScopeVariables: bson.M{"factor": 2},
		JavaScriptMode: true,
	})
	s.Require().NoError(err)
	s.Equal([]keyValue{{ID: "a", Value: 3}}, res.Mapped)
	s.Equal(db.MapReduceTiming{MapTime: 5, EmitLoop: 6, TotalTime: 11}, res.Timing)
	s.Equal(db.MapReduceCounts{Input: 4, Emit: 4, Output: 1}, res.Counts)
	s.Empty(res.OutputCollection)

	cmd, options := s.lastCommand()
	s.Equal(driver.OptionSecondaryOK, options)
	s.Equal(venueCollection, commandValue(cmd, "mapreduce"))
	s.Equal("function() { emit(this.name, 1); }", commandValue(cmd, "map"))
	s.Equal(bson.D{{Key: "inline", Value: 1}}, commandValue(cmd, "out"))
	s.Equal(bson.M{"name": "a"}, commandValue(cmd, "query"))
	s.Equal(10, commandValue(cmd, "limit"))
	s.Equal(bson.D{{Key: "name", Value: -1}}, commandValue(cmd, "sort"))
	s.Equal(bson.M{"factor": 2}, commandValue(cmd, "scope"))
	s.Equal(true, commandValue(cmd, "jsMode"))
}

func (s *TemplateSuite) TestMapReduceToCollection() {
	s.reply(driver.CommandResult{"ok": 1.0, "result": "venue_counts", "timeMillis": int32(7)})
	s.Require().NoError(s.tmpl.InsertInto(s.ctx, "venue_counts", bson.M{"_id": "a", "value": 3.0}))
	tmpl := s.newTemplate(db.TemplateOptions{CommandOptions: driver.OptionSecondaryOK})

	res, err := db.MapReduce[keyValue](s.ctx, tmpl, db.Q{}, venueCollection, "function() {}", "function(k, v) {}", db.MapReduceOptions{
		OutputCollection: "venue_counts",
	})
	s.Require().NoError(err)
	s.Equal("venue_counts", res.OutputCollection)
	s.Equal([]keyValue{{ID: "a", Value: 3}}, res.Mapped)
	s.EqualValues(7, res.Timing.TotalTime)
	s.EqualValues(-1, res.Timing.MapTime)
	s.EqualValues(-1, res.Counts.Input)

	cmd, options := s.lastCommand()
	s.Zero(options)
	s.Equal(bson.D{{Key: "replace", Value: "venue_counts"}}, commandValue(cmd, "out"))
	s.Nil(commandValue(cmd, "query"))
	for _, cur := range s.db.Collection("venue_counts").Cursors() {
		s.Equal(1, cur.CloseCount)
	}

	s.Run("OtherDatabaseIsNotRead", func() {
		res, err := db.MapReduce[keyValue](s.ctx, tmpl, db.Q{}, venueCollection, "function() {}", "function(k, v) {}", db.MapReduceOptions{
			OutputCollection: "venue_counts",
			OutputMode:       db.OutputMerge,
			OutputDatabase:   "archive",
		})
		s.Require().NoError(err)
		s.Empty(res.Mapped)

		cmd, _ := s.lastCommand()
		s.Equal(bson.D{{Key: "merge", Value: "venue_counts"}, {Key: "db", Value: "archive"}}, commandValue(cmd, "out"))
	})
}

func (s *TemplateSuite) TestMapReduceInvalidUsage() {
	for name, run := range map[string]func() error{
		"NoCollection": func() error {
			_, err := db.MapReduce[bson.M](s.ctx, s.tmpl, db.Q{}, "", "m", "r", db.MapReduceOptions{})
			return err
		},
		"NoFunctions": func() error {
			_, err := db.MapReduce[bson.M](s.ctx, s.tmpl, db.Q{}, venueCollection, "", "r", db.MapReduceOptions{})
			return err
		},
		"Skip": func() error {
			_, err := db.MapReduce[bson.M](s.ctx, s.tmpl, db.Query(bson.M{}).Skip(1), venueCollection, "m", "r", db.MapReduceOptions{})
			return err
		},
		"Projection": func() error {
			_, err := db.MapReduce[bson.M](s.ctx, s.tmpl, db.Query(bson.M{}).WithFields("name"), venueCollection, "m", "r", db.MapReduceOptions{})
			return err
		},
		"NoOutputCollection": func() error {
			_, err := db.MapReduce[bson.M](s.ctx, s.tmpl, db.Q{}, venueCollection, "m", "r", db.MapReduceOptions{OutputMode: db.OutputReduce})
			return err
		},
		"MissingScript": func() error {
			tmpl := s.newTemplate(db.TemplateOptions{Scripts: scriptSource{}})
			_, err := db.MapReduce[bson.M](s.ctx, tmpl, db.Q{}, venueCollection, "script:missing.js", "r", db.MapReduceOptions{})
			return err
		},
	} {
		s.Run(name, func() {
			s.True(db.IsInvalidUsage(run()))
		})
	}
	s.Empty(s.db.Commands())
}

func (s *TemplateSuite) TestMapReduceRejectsBeforeLoadingScripts() {
	scripts := &countingScripts{scriptSource: scriptSource{"map.js": "function() {}", "reduce.js": "function(k, v) {}"}}
	tmpl := s.newTemplate(db.TemplateOptions{Scripts: scripts})

	for _, q := range []db.Q{db.Query(bson.M{}).Skip(2), db.Query(bson.M{}).WithoutFields("name")} {
		_, err := db.MapReduce[bson.M](s.ctx, tmpl, q, venueCollection, "script:map.js", "script:reduce.js", db.MapReduceOptions{})
		s.True(db.IsInvalidUsage(err))
	}
	s.Zero(scripts.loads)
	s.Empty(s.db.Commands())
}

func (s *TemplateSuite) TestGroup() {
	s.reply(driver.CommandResult{
		"ok":     1.0,
		"retval": bson.A{bson.M{"name": "a", "count": int32(2)}},
		"count":  int32(3),
		"keys":   int32(1),
	})
	tmpl := s.newTemplate(db.TemplateOptions{
		CommandOptions: driver.OptionSecondaryOK,
		Scripts:        scriptSource{"reduce.js": "function(doc, out) { out.count++; }"},
	})

	s.Run("FieldKeys", func() {
		groupBy := db.NewGroupBy("name").Initial(bson.M{"count": 0}).Reduce("script:reduce.js").Finalize("function(out) {}")
		res, err := db.Group[nameCount](s.ctx, tmpl, bson.M{"name": bson.M{"$ne": "z"}}, venueCollection, groupBy)
		s.Require().NoError(err)
		s.Equal([]nameCount{{Name: "a", Count: 2}}, res.Mapped)
		s.EqualValues(3, res.Count)
		s.EqualValues(1, res.Keys)

		cmd, options := s.lastCommand()
		s.Equal(driver.OptionSecondaryOK, options)
		spec, ok := commandValue(cmd, "group").(bson.D)
		s.Require().True(ok)
		s.Equal(bson.D{{Key: "name", Value: 1}}, commandValue(spec, "key"))
		s.Equal(bson.M{"count": 0}, commandValue(spec, "initial"))
		s.Equal("function(doc, out) { out.count++; }", commandValue(spec, "$reduce"))
		s.Equal("function(out) {}", commandValue(spec, "finalize"))
		s.Equal(venueCollection, commandValue(spec, "ns"))
		s.Equal(bson.M{"name": bson.M{"$ne": "z"}}, commandValue(spec, "cond"))
	})
	s.Run("KeyFunctionWithoutCriteria", func() {
		groupBy := db.GroupByKeyFunction("function(doc) { return {n: doc.name}; }").InitialJSON(`{"count": 0}`).Reduce("function(doc, out) {}")
		_, err := db.Group[nameCount](s.ctx, tmpl, nil, venueCollection, groupBy)
		s.Require().NoError(err)

		cmd, _ := s.lastCommand()
		spec, ok := commandValue(cmd, "group").(bson.D)
		s.Require().True(ok)
		s.Equal("function(doc) { return {n: doc.name}; }", commandValue(spec, "$keyf"))
		s.Nil(commandValue(spec, "key"))
		s.Nil(commandValue(spec, "cond"))
		s.Equal(bson.M{"count": int32(0)}, commandValue(spec, "initial"))
	})
	s.Run("InvalidUsage", func() {
		_, err := db.Group[nameCount](s.ctx, tmpl, nil, venueCollection, db.NewGroupBy("name"))
		s.True(db.IsInvalidUsage(err))

		_, err = db.Group[nameCount](s.ctx, tmpl, nil, "", db.NewGroupBy("name").Reduce("r"))
		s.True(db.IsInvalidUsage(err))

		_, err = db.Group[nameCount](s.ctx, tmpl, nil, venueCollection, db.NewGroupBy("name").InitialJSON("{not json").Reduce("r"))
		s.True(db.IsInvalidUsage(err))
	})
}

func (s *TemplateSuite) TestExecuteCommand() {
	sender, err := send.NewInternalLogger("commands", send.LevelInfo{Threshold: level.Warning, Default: level.Info})
	s.Require().NoError(err)
	tmpl := s.newTemplate(db.TemplateOptions{Logger: logging.MakeGrip(sender)})

	s.Run("ParsesJSON", func() {
		res, err := tmpl.ExecuteCommandJSON(s.ctx, `{"ping": 1}`)
		s.Require().NoError(err)
		s.True(res.OK())

		cmd, options := s.lastCommand()
		s.Require().Len(cmd, 1)
		s.Equal("ping", cmd[0].Key)
		s.Zero(options)
	})
	s.Run("PassesOptions", func() {
		_, err := tmpl.ExecuteCommandWithOptions(s.ctx, bson.D{{Key: "dbStats", Value: 1}}, driver.OptionSecondaryOK)
		s.Require().NoError(err)

		_, options := s.lastCommand()
		s.Equal(driver.OptionSecondaryOK, options)
	})
	s.Run("FailedReplyIsLogged", func() {
		s.reply(driver.CommandResult{"ok": 0.0, "errmsg": "unauthorized"})
		res, err := tmpl.ExecuteCommand(s.ctx, bson.D{{Key: "shutdown", Value: 1}})
		s.Require().NoError(err)
		s.True(res.Failed())

		msg := sender.GetMessage()
		s.Require().NotNil(msg)
		s.Equal(level.Warning, msg.Priority)
		s.Contains(msg.Message.String(), "command reported failure")
	})
	s.Run("TransportErrorsAreTranslated", func() {
		s.db.CommandFunc = func(bson.D, int) (driver.CommandResult, error) {
			return nil, context.DeadlineExceeded
		}
		_, err := tmpl.ExecuteCommand(s.ctx, bson.D{{Key: "ping", Value: 1}})
		s.True(db.IsResourceFailure(err))
	})
	s.Run("InvalidUsage", func() {
		_, err := tmpl.ExecuteCommand(s.ctx, nil)
		s.True(db.IsInvalidUsage(err))

		_, err = tmpl.ExecuteCommandJSON(s.ctx, "{ping")
		s.True(db.IsInvalidUsage(err))
	})
}

func (s *TemplateSuite) TestCollections() {
	s.True(db.IsInvalidUsage(s.tmpl.CreateCollection(s.ctx, "", db.CollectionOptions{})))
	s.True(db.IsInvalidUsage(s.tmpl.CreateCollection(s.ctx, "logs", db.CollectionOptions{Capped: true})))

	s.Require().NoError(s.tmpl.CreateCollection(s.ctx, "logs", db.CollectionOptions{Capped: true, Size: 1024, Max: 10}))
	s.Equal(bson.M{"capped": true, "size": int64(1024), "max": int64(10)}, s.db.Collection("logs").Options)

	err := s.tmpl.CreateCollection(s.ctx, "logs", db.CollectionOptions{})
	s.Require().Error(err)
	s.Equal(db.Uncategorized, db.KindOf(err))

	s.Require().NoError(s.tmpl.CreateCollectionFor(s.ctx, db.Entity[venue](), db.CollectionOptions{}))

	exists, err := s.tmpl.CollectionExists(s.ctx, db.Collection("logs"))
	s.NoError(err)
	s.True(exists)

	names, err := s.tmpl.CollectionNames(s.ctx)
	s.NoError(err)
	s.Equal([]string{"logs", venueCollection}, names)

	s.Require().NoError(s.tmpl.DropCollection(s.ctx, db.Entity[venue]()))
	s.Require().NoError(s.tmpl.DropCollection(s.ctx, db.Collection("missing")))
	exists, err = s.tmpl.CollectionExists(s.ctx, db.Entity[venue]())
	s.NoError(err)
	s.False(exists)

	_, err = s.tmpl.CollectionExists(s.ctx, db.Target{})
	s.True(db.IsInvalidUsage(err))
}

func (s *TemplateSuite) TestRetryOnOptimisticLock() {
	a := &account{Owner: "ann", Balance: 10}
	s.Require().NoError(s.tmpl.Insert(s.ctx, a))
	opts := utility.RetryOptions{MaxAttempts: 3, MinDelay: time.Millisecond}

	s.Run("ReloadsAndRetries", func() {
		attempts := 0
		err := s.tmpl.RetryOnOptimisticLock(s.ctx, func(ctx context.Context) error {
			attempts++
			current, err := db.FindByID[account](ctx, s.tmpl, a.ID)
			if err != nil {
				return err
			}
			if attempts == 1 {
				_, err = s.tmpl.UpdateFirst(ctx, db.Entity[account](), db.Query(bson.M{"_id": a.ID}), db.Set("balance", 50))
				if err != nil {
					return err
				}
			}
			current.Balance += 10
			return s.tmpl.Save(ctx, current)
		}, opts)
		s.Require().NoError(err)
		s.Equal(2, attempts)

		doc := s.stored(accountCollection)[0]
		s.EqualValues(60, doc["balance"])
		s.EqualValues(2, doc["version"])
	})
	s.Run("GivesUpAfterMaxAttempts", func() {
		attempts := 0
		err := s.tmpl.RetryOnOptimisticLock(s.ctx, func(ctx context.Context) error {
			attempts++
			return s.tmpl.Save(ctx, &account{ID: a.ID, Version: version(-1)})
		}, opts)
		s.True(db.IsOptimisticLockingFailure(err))
		s.Equal(3, attempts)
	})
	s.Run("OtherErrorsStopImmediately", func() {
		attempts := 0
		boom := errors.New("boom")
		err := s.tmpl.RetryOnOptimisticLock(s.ctx, func(context.Context) error {
			attempts++
			return boom
		}, opts)
		s.Equal(boom, err)
		s.Equal(1, attempts)
	})
	s.Run("RequiresOperation", func() {
		s.True(db.IsInvalidUsage(s.tmpl.RetryOnOptimisticLock(s.ctx, nil, opts)))
	})
}
