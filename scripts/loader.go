// Package scripts resolves references to script text kept outside the
// code, such as map-reduce and group functions stored in files or
// served over HTTP.
package scripts

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/evergreen-ci/utility/ttlcache"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
)

// FilePrefix marks a reference to a script file.
const FilePrefix = "file:"

const defaultCacheTTL = 10 * time.Minute

// Source loads the scripts of the references it handles.
type Source interface {
	Handles(ref string) bool
	Load(ctx context.Context, ref string) (string, error)
}

// FileSource loads "file:" references. Relative paths are resolved
// against BaseDir.
type FileSource struct {
	BaseDir string
}

func (s *FileSource) Handles(ref string) bool {
	return strings.HasPrefix(ref, FilePrefix)
}

func (s *FileSource) Load(_ context.Context, ref string) (string, error) {
	path := strings.TrimPrefix(ref, FilePrefix)
	if path == "" {
		return "", errors.New("script file reference has no path")
	}
	if !filepath.IsAbs(path) && s.BaseDir != "" {
		path = filepath.Join(s.BaseDir, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrapf(err, "reading script file '%s'", path)
	}
	return string(data), nil
}

// LoaderOptions configures a Loader.
type LoaderOptions struct {
	Sources []Source
	// CacheTTL is how long loaded scripts are reused. A negative value
	// disables caching.
	CacheTTL time.Duration
}

// Loader resolves script references through its sources, caching what
// it loads. Text that no source handles is literal script.
type Loader struct {
	sources []Source
	cache   ttlcache.Cache[string]
	ttl     time.Duration
}

// NewLoader constructs a Loader.
func NewLoader(opts LoaderOptions) *Loader {
	l := &Loader{sources: opts.Sources, ttl: opts.CacheTTL}
	if l.ttl == 0 {
		l.ttl = defaultCacheTTL
	}
	if l.ttl > 0 {
		l.cache = ttlcache.WithOtel(ttlcache.NewInMemory[string](), "docstore-scripts")
	}
	return l
}

// NewDefaultLoader handles file references relative to baseDir and
// HTTP(S) URLs.
func NewDefaultLoader(baseDir string, retries HTTPRetryConfiguration, ttl time.Duration) *Loader {
	return NewLoader(LoaderOptions{
		Sources: []Source{
			&FileSource{BaseDir: baseDir},
			NewHTTPSource(retries),
		},
		CacheTTL: ttl,
	})
}

// IsResource reports whether ref is a reference rather than literal
// script text.
func (l *Loader) IsResource(ref string) bool {
	return l.source(ref) != nil
}

// Load returns the script text ref refers to.
func (l *Loader) Load(ctx context.Context, ref string) (string, error) {
	src := l.source(ref)
	if src == nil {
		return "", errors.Errorf("no script source handles '%s'", ref)
	}

	if l.cache != nil {
		if text, ok := l.cache.Get(ctx, ref, 0); ok {
			return text, nil
		}
	}

	text, err := src.Load(ctx, ref)
	if err != nil {
		return "", err
	}
	grip.Debug(message.Fields{
		"message": "loaded script resource",
		"ref":     ref,
		"bytes":   len(text),
	})

	if l.cache != nil {
		l.cache.Put(ctx, ref, text, time.Now().Add(l.ttl))
	}
	return text, nil
}

func (l *Loader) source(ref string) Source {
	for _, src := range l.sources {
		if src.Handles(ref) {
			return src
		}
	}
	return nil
}
