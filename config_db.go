package docstore

import (
	"time"

	"github.com/evergreen-ci/utility"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

// DBSettings configures the database connection.
type DBSettings struct {
	URL                string       `yaml:"url" bson:"url" json:"url"`
	DB                 string       `yaml:"db" bson:"db" json:"db"`
	WriteConcern       WriteConcern `yaml:"write_concern" bson:"write_concern" json:"write_concern"`
	ReadPreference     string       `yaml:"read_preference" bson:"read_preference" json:"read_preference"`
	ConnectTimeoutSecs int          `yaml:"connect_timeout_secs" bson:"connect_timeout_secs" json:"connect_timeout_secs"`
}

func (s *DBSettings) SectionId() string { return "database" }

func (s *DBSettings) ValidateAndDefault() error {
	if s.URL == "" {
		s.URL = DefaultDatabaseURL
	}
	if s.DB == "" {
		s.DB = DefaultDatabaseName
	}
	if s.ConnectTimeoutSecs <= 0 {
		s.ConnectTimeoutSecs = int(DefaultConnectTimeout / time.Second)
	}
	if s.ReadPreference != "" {
		if _, err := s.ReadPref(); err != nil {
			return err
		}
	}
	return errors.Wrap(s.WriteConcern.Validate(), "invalid write concern")
}

// ConnectTimeout returns the connection timeout as a duration.
func (s *DBSettings) ConnectTimeout() time.Duration {
	return time.Duration(s.ConnectTimeoutSecs) * time.Second
}

// ReadPref returns the configured read preference, or nil for the
// driver default.
func (s *DBSettings) ReadPref() (*readpref.ReadPref, error) {
	if s.ReadPreference == "" {
		return nil, nil
	}
	mode, err := readpref.ModeFromString(s.ReadPreference)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid read preference '%s'", s.ReadPreference)
	}
	rp, err := readpref.New(mode)
	return rp, errors.Wrapf(err, "building read preference '%s'", s.ReadPreference)
}

// WriteConcern is the settings file form of a write concern. The zero
// value leaves the server default in place. An explicit w of 0 asks for
// unacknowledged writes.
type WriteConcern struct {
	W        *int   `yaml:"w" bson:"w" json:"w"`
	WMode    string `yaml:"wmode" bson:"wmode" json:"wmode"`
	WTimeout int    `yaml:"wtimeout" bson:"wtimeout" json:"wtimeout"`
	J        bool   `yaml:"j" bson:"j" json:"j"`
}

// IsZero reports whether nothing is configured.
func (wc WriteConcern) IsZero() bool {
	return wc.W == nil && wc.WMode == "" && wc.WTimeout == 0 && !wc.J
}

// Validate checks the combination of configured values.
func (wc WriteConcern) Validate() error {
	if utility.FromIntPtr(wc.W) < 0 || wc.WTimeout < 0 {
		return errors.New("write concern values must not be negative")
	}
	if wc.WMode != "" && wc.W != nil {
		return errors.Errorf("cannot combine write mode '%s' with a numeric w", wc.WMode)
	}
	if wc.W != nil && *wc.W == 0 && wc.J {
		return errors.New("cannot request journaling for unacknowledged writes")
	}
	return nil
}

// Resolve returns the driver write concern, or nil when none is
// configured.
func (wc WriteConcern) Resolve() *writeconcern.WriteConcern {
	if wc.IsZero() {
		return nil
	}

	concern := &writeconcern.WriteConcern{}
	switch {
	case wc.WMode != "":
		concern.W = wc.WMode
	case wc.W != nil:
		concern.W = *wc.W
	}
	if wc.J {
		j := true
		concern.Journal = &j
	}
	if wc.WTimeout > 0 {
		concern.WTimeout = time.Duration(wc.WTimeout) * time.Millisecond
	}
	return concern
}
