package docstore

import (
	"strings"

	"github.com/evergreen-ci/docstore/db"
	"github.com/evergreen-ci/docstore/event"
	"github.com/evergreen-ci/utility"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/level"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

// TemplateSettings configures the behavior of the document template.
type TemplateSettings struct {
	// WriteResultChecking is one of "none", "log" or "exception".
	WriteResultChecking string `yaml:"write_result_checking" bson:"write_result_checking" json:"write_result_checking"`
	// WriteConcerns overrides the database write concern per operation,
	// keyed by operation name (e.g. "INSERT" or "update").
	WriteConcerns  map[string]WriteConcern `yaml:"write_concerns" bson:"write_concerns" json:"write_concerns"`
	CommandOptions int                     `yaml:"command_options" bson:"command_options" json:"command_options"`
	LogEvents      bool                    `yaml:"log_events" bson:"log_events" json:"log_events"`
	ListenerLevel  string                  `yaml:"listener_level" bson:"listener_level" json:"listener_level"`
}

func (s *TemplateSettings) SectionId() string { return "template" }

func (s *TemplateSettings) ValidateAndDefault() error {
	catcher := grip.NewBasicCatcher()

	if s.WriteResultChecking == "" {
		s.WriteResultChecking = string(db.WriteResultCheckingNone)
	}
	s.WriteResultChecking = strings.ToLower(s.WriteResultChecking)
	catcher.Add(db.WriteResultChecking(s.WriteResultChecking).Validate())

	catcher.NewWhen(s.CommandOptions < 0, "command options must not be negative")

	if s.ListenerLevel == "" {
		s.ListenerLevel = DefaultListenerLevel
	}
	catcher.ErrorfWhen(!level.FromString(s.ListenerLevel).IsValid(), "invalid listener level '%s'", s.ListenerLevel)

	normalized := make(map[string]WriteConcern, len(s.WriteConcerns))
	for name, wc := range s.WriteConcerns {
		op := strings.ToUpper(name)
		if !utility.StringSliceContains(operationNames(), op) {
			catcher.Errorf("unknown write operation '%s'", name)
			continue
		}
		catcher.Wrapf(wc.Validate(), "write concern for operation '%s'", name)
		normalized[op] = wc
	}
	s.WriteConcerns = normalized

	return catcher.Resolve()
}

// Resolver returns a resolver applying the per operation overrides.
func (s *TemplateSettings) Resolver() db.WriteConcernResolver {
	if len(s.WriteConcerns) == 0 {
		return db.DefaultWriteConcernResolver{}
	}
	concerns := make(map[db.Operation]*writeconcern.WriteConcern, len(s.WriteConcerns))
	for name, wc := range s.WriteConcerns {
		concerns[db.Operation(strings.ToUpper(name))] = wc.Resolve()
	}
	return db.OperationWriteConcernResolver{Concerns: concerns}
}

// Listener returns the event listener the settings ask for, or nil.
func (s *TemplateSettings) Listener(logger grip.Journaler) (event.Listener, error) {
	if !s.LogEvents {
		return nil, nil
	}
	priority := level.FromString(s.ListenerLevel)
	if !priority.IsValid() {
		return nil, errors.Errorf("invalid listener level '%s'", s.ListenerLevel)
	}
	return event.NewLoggingListener(logger, priority), nil
}

func operationNames() []string {
	names := make([]string, 0, len(db.Operations))
	for _, op := range db.Operations {
		names = append(names, string(op))
	}
	return names
}
