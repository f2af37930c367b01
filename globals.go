package docstore

import (
	"os"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
)

const (
	// DocstoreHome is the environment variable naming the directory that
	// holds the settings file and script resources.
	DocstoreHome = "DOCSTOREHOME"

	// DefaultConfigFile is the name of the settings file looked up in
	// the home directory.
	DefaultConfigFile = ".docstore.yml"

	DefaultDatabaseURL  = "mongodb://localhost:27017"
	DefaultDatabaseName = "docstore"

	DefaultConnectTimeout = 5 * time.Second

	// DefaultScriptCacheTTL is how long loaded script resources are
	// reused.
	DefaultScriptCacheTTL = 10 * time.Minute
	DefaultScriptRetries  = 3

	// DefaultListenerLevel is the log level of lifecycle events.
	DefaultListenerLevel = "debug"
)

// FindDocstoreHome returns the directory named by DOCSTOREHOME, or the
// user's home directory.
func FindDocstoreHome() string {
	if home := os.Getenv(DocstoreHome); home != "" {
		return home
	}

	home, err := homedir.Dir()
	if err != nil {
		grip.Warning(message.WrapError(err, message.Fields{
			"message": "could not determine home directory",
		}))
		return ""
	}
	return home
}

// DefaultConfigPath returns the settings file location used when none is
// given.
func DefaultConfigPath() string {
	return filepath.Join(FindDocstoreHome(), DefaultConfigFile)
}
