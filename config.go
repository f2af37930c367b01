package docstore

import (
	"os"

	"github.com/mongodb/anser/bsonutil"
	"github.com/mongodb/grip"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

var (
	databaseKey = bsonutil.MustHaveTag(Settings{}, "Database")
	templateKey = bsonutil.MustHaveTag(Settings{}, "Template")
	scriptsKey  = bsonutil.MustHaveTag(Settings{}, "Scripts")
)

// ConfigSection is a part of the settings that validates itself and
// fills in its defaults.
type ConfigSection interface {
	SectionId() string
	ValidateAndDefault() error
}

// Settings is the contents of the settings file.
type Settings struct {
	Database DBSettings       `yaml:"database" bson:"database" json:"database"`
	Template TemplateSettings `yaml:"template" bson:"template" json:"template"`
	Scripts  ScriptSettings   `yaml:"scripts" bson:"scripts" json:"scripts"`
}

// NewSettings reads settings from a YAML file. It does not validate
// them.
func NewSettings(filename string) (*Settings, error) {
	configData, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "reading settings file '%s'", filename)
	}

	settings := &Settings{}
	if err = yaml.Unmarshal(configData, settings); err != nil {
		return nil, errors.Wrapf(err, "unmarshalling settings file '%s'", filename)
	}

	return settings, nil
}

// Sections returns every section of the settings, keyed by their
// storage name.
func (s *Settings) Sections() map[string]ConfigSection {
	return map[string]ConfigSection{
		databaseKey: &s.Database,
		templateKey: &s.Template,
		scriptsKey:  &s.Scripts,
	}
}

// Validate validates and defaults every section.
func (s *Settings) Validate() error {
	catcher := grip.NewBasicCatcher()
	for key, section := range s.Sections() {
		catcher.Wrapf(section.ValidateAndDefault(), "validating section '%s'", key)
	}
	return catcher.Resolve()
}
