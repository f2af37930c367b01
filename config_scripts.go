package docstore

import (
	"time"

	"github.com/evergreen-ci/docstore/scripts"
	"github.com/pkg/errors"
)

// ScriptSettings configures where map-reduce and group scripts are
// loaded from.
type ScriptSettings struct {
	// BaseDir resolves relative "file:" references. Defaults to the
	// docstore home directory.
	BaseDir      string `yaml:"base_dir" bson:"base_dir" json:"base_dir"`
	HTTPRetries  int    `yaml:"http_retries" bson:"http_retries" json:"http_retries"`
	CacheTTLSecs int    `yaml:"cache_ttl_secs" bson:"cache_ttl_secs" json:"cache_ttl_secs"`
	// DisableCache turns off caching of loaded scripts.
	DisableCache bool `yaml:"disable_cache" bson:"disable_cache" json:"disable_cache"`
}

func (s *ScriptSettings) SectionId() string { return "scripts" }

func (s *ScriptSettings) ValidateAndDefault() error {
	if s.HTTPRetries < 0 || s.CacheTTLSecs < 0 {
		return errors.New("script retries and cache TTL must not be negative")
	}
	if s.BaseDir == "" {
		s.BaseDir = FindDocstoreHome()
	}
	if s.HTTPRetries == 0 {
		s.HTTPRetries = DefaultScriptRetries
	}
	if s.CacheTTLSecs == 0 {
		s.CacheTTLSecs = int(DefaultScriptCacheTTL / time.Second)
	}
	return nil
}

// CacheTTL returns how long loaded scripts are reused; negative when
// caching is disabled.
func (s *ScriptSettings) CacheTTL() time.Duration {
	if s.DisableCache {
		return -1
	}
	return time.Duration(s.CacheTTLSecs) * time.Second
}

// Loader builds the script loader for these settings.
func (s *ScriptSettings) Loader() *scripts.Loader {
	retries := scripts.NewDefaultHTTPRetryConf()
	retries.MaxRetries = s.HTTPRetries
	return scripts.NewDefaultLoader(s.BaseDir, retries, s.CacheTTL())
}
