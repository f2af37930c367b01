package mock

import (
	"context"
	"sync"

	"github.com/evergreen-ci/docstore"
	"github.com/evergreen-ci/docstore/db"
	"github.com/evergreen-ci/docstore/driver"
	"github.com/evergreen-ci/docstore/mapping"
	"github.com/mongodb/grip"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
)

// this is just a hack to ensure that compile breaks clearly if the
// mock implementation diverges from the interface
var _ docstore.Environment = &Environment{}

// Environment is an in-memory docstore.Environment backed by a mock
// Database. It has no client connection.
type Environment struct {
	DocstoreSettings *docstore.Settings
	MockDB           *Database
	MappingContext   *mapping.Context
	DocTemplate      *db.Template
	Closers          map[string]func(context.Context) error

	mu sync.RWMutex
}

// Configure sets up the environment with default settings and an
// empty database. The settings may be changed before calling it.
func (e *Environment) Configure(ctx context.Context) error {
	if e.DocstoreSettings == nil {
		e.DocstoreSettings = &docstore.Settings{}
	}
	if err := e.DocstoreSettings.Validate(); err != nil {
		return errors.Wrap(err, "validating settings")
	}
	if e.MockDB == nil {
		e.MockDB = NewDatabase(e.DocstoreSettings.Database.DB)
	}
	if e.MappingContext == nil {
		e.MappingContext = mapping.NewContext()
	}
	e.Closers = map[string]func(context.Context) error{}

	var err error
	e.DocTemplate, err = docstore.NewTemplate(e.MockDB, e.DocstoreSettings, e.MappingContext)
	return errors.Wrap(err, "building template")
}

func (e *Environment) Settings() *docstore.Settings { return e.DocstoreSettings }
func (e *Environment) Client() *mongo.Client        { return nil }
func (e *Environment) DB() *mongo.Database          { return nil }
func (e *Environment) Database() driver.Database    { return e.MockDB }
func (e *Environment) Mappings() *mapping.Context   { return e.MappingContext }
func (e *Environment) Template() *db.Template       { return e.DocTemplate }

func (e *Environment) RegisterCloser(name string, closer func(context.Context) error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.Closers == nil {
		e.Closers = map[string]func(context.Context) error{}
	}
	e.Closers[name] = closer
}

func (e *Environment) Close(ctx context.Context) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	catcher := grip.NewBasicCatcher()
	for name, closer := range e.Closers {
		catcher.Wrapf(closer(ctx), "closer '%s'", name)
	}
	return catcher.Resolve()
}
