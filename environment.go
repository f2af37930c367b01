package docstore

import (
	"context"
	"sync"
	"time"

	"github.com/evergreen-ci/docstore/db"
	"github.com/evergreen-ci/docstore/driver"
	"github.com/evergreen-ci/docstore/mapping"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/logging"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	globalEnv     Environment
	globalEnvLock *sync.RWMutex
)

func init() { globalEnvLock = &sync.RWMutex{} }

// GetEnvironment returns the process wide environment. It must be
// configured with SetEnvironment before use.
//
// Prefer passing the Environment explicitly; the global exists for
// command line entry points.
func GetEnvironment() Environment {
	globalEnvLock.RLock()
	defer globalEnvLock.RUnlock()

	return globalEnv
}

func SetEnvironment(env Environment) {
	globalEnvLock.Lock()
	defer globalEnvLock.Unlock()

	globalEnv = env
}

// Environment provides the application level services: settings, the
// database connection and the document template built on it.
type Environment interface {
	// Settings returns the validated settings. The settings object is
	// not safe for concurrent modification.
	Settings() *Settings

	Client() *mongo.Client
	DB() *mongo.Database
	// Database is the configured database behind the driver
	// abstraction the template uses.
	Database() driver.Database

	// Mappings holds the entity registrations of the template.
	// Register domain types before issuing operations for them.
	Mappings() *mapping.Context
	Template() *db.Template

	// RegisterCloser adds a function to be called by Close. The name is
	// used in reporting and must be unique.
	RegisterCloser(string, func(context.Context) error)
	// Close calls all registered closers.
	Close(context.Context) error
}

// NewEnvironment connects to the database and builds the template.
//
// Settings are read from confPath when it is set. Otherwise db must be
// given and the remaining sections take their defaults.
func NewEnvironment(ctx context.Context, confPath string, dbSettings *DBSettings) (Environment, error) {
	e := &envState{
		closers:  map[string]func(context.Context) error{},
		mappings: mapping.NewContext(),
	}

	if err := e.initSettings(confPath, dbSettings); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := e.initDB(ctx, e.settings.Database); err != nil {
		return nil, errors.Wrap(err, "configuring database")
	}
	if err := e.initTemplate(); err != nil {
		catcher := grip.NewBasicCatcher()
		catcher.Add(err)
		catcher.Add(e.Close(ctx))
		return nil, errors.Wrap(catcher.Resolve(), "building template")
	}

	return e, nil
}

type envState struct {
	settings *Settings
	client   *mongo.Client
	database driver.Database
	mappings *mapping.Context
	template *db.Template
	mu       sync.RWMutex
	closers  map[string]func(context.Context) error
}

func (e *envState) initSettings(path string, dbSettings *DBSettings) error {
	var err error
	switch {
	case path != "":
		e.settings, err = NewSettings(path)
		if err != nil {
			return errors.Wrap(err, "getting settings from file")
		}
	case dbSettings != nil:
		e.settings = &Settings{Database: *dbSettings}
	default:
		return errors.New("either a settings file or database settings must be given")
	}

	return errors.Wrap(e.settings.Validate(), "validating settings")
}

func (e *envState) initDB(ctx context.Context, settings DBSettings) error {
	rp, err := settings.ReadPref()
	if err != nil {
		return errors.WithStack(err)
	}

	opts := options.Client().ApplyURI(settings.URL).SetConnectTimeout(settings.ConnectTimeout())
	if wc := settings.WriteConcern.Resolve(); wc != nil {
		opts.SetWriteConcern(wc)
	}
	if rp != nil {
		opts.SetReadPreference(rp)
	}

	e.client, err = mongo.Connect(ctx, opts)
	if err != nil {
		return errors.Wrap(err, "connecting to the database")
	}
	e.database = driver.NewDatabase(e.client.Database(settings.DB), rp)

	e.RegisterCloser("database-client", func(ctx context.Context) error {
		return errors.Wrap(e.client.Disconnect(ctx), "disconnecting from the database")
	})

	grip.Info(message.Fields{
		"message":  "connected to database",
		"database": settings.DB,
	})
	return nil
}

func (e *envState) initTemplate() error {
	var err error
	e.template, err = NewTemplate(e.database, e.settings, e.mappings)
	return err
}

// NewTemplate builds a template over database configured by settings.
// A nil mappings starts with no registered entities.
func NewTemplate(database driver.Database, settings *Settings, mappings *mapping.Context) (*db.Template, error) {
	if settings == nil {
		return nil, errors.New("settings must not be nil")
	}

	logger := logging.MakeGrip(grip.GetSender())
	listener, err := settings.Template.Listener(logger)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	opts := db.TemplateOptions{
		Database:             database,
		Mappings:             mappings,
		WriteConcern:         settings.Database.WriteConcern.Resolve(),
		WriteConcernResolver: settings.Template.Resolver(),
		WriteResultChecking:  db.WriteResultChecking(settings.Template.WriteResultChecking),
		Scripts:              settings.Scripts.Loader(),
		Logger:               logger,
		CommandOptions:       settings.Template.CommandOptions,
	}
	if listener != nil {
		opts.Listener = listener
	}

	return db.NewTemplate(opts)
}

func (e *envState) Settings() *Settings {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.settings
}

func (e *envState) Client() *mongo.Client {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.client
}

func (e *envState) DB() *mongo.Database {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.client.Database(e.settings.Database.DB)
}

func (e *envState) Database() driver.Database {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.database
}

func (e *envState) Mappings() *mapping.Context {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.mappings
}

func (e *envState) Template() *db.Template {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.template
}

func (e *envState) RegisterCloser(name string, closer func(context.Context) error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.closers[name]; ok {
		grip.Critical(message.Fields{
			"closer":  name,
			"message": "duplicate closer registered",
			"cause":   "programmer error",
		})
	}
	e.closers[name] = closer
}

func (e *envState) Close(ctx context.Context) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	deadline, _ := ctx.Deadline()
	catcher := grip.NewBasicCatcher()
	wg := &sync.WaitGroup{}
	for n, closer := range e.closers {
		if closer == nil {
			continue
		}

		wg.Add(1)
		go func(name string, close func(context.Context) error) {
			defer wg.Done()
			grip.Info(message.Fields{
				"message":      "calling closer",
				"closer":       name,
				"timeout_secs": time.Until(deadline).Seconds(),
			})
			catcher.Add(close(ctx))
		}(n, closer)
	}

	wg.Wait()
	return catcher.Resolve()
}
