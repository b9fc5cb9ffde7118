package khala

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"

	"github.com/dpotapov/go-khala/khtml"
)

const defaultExt = ".html"

// defaultSearchPath is the default list of directories to search for templates.
var defaultSearchPath = []string{"."}

// FSLoader loads templates from a file system. The template `card` is read from `card.html`
// in the first directory of SearchPath that has it.
type FSLoader struct {
	FS fs.FS

	// Ext is the file name extension of templates. Defaults to ".html".
	Ext string

	// SearchPath is a list of directories in FS to search for templates. Defaults to the root of FS.
	SearchPath []string
}

var _ khtml.Loader = (*FSLoader)(nil)

// Load implements khtml.Loader.
func (l *FSLoader) Load(name string) (string, error) {
	ext := l.Ext
	if ext == "" {
		ext = defaultExt
	}
	searchPath := l.SearchPath
	if len(searchPath) == 0 {
		searchPath = defaultSearchPath
	}

	for _, sp := range searchPath {
		p := path.Join(sp, name+ext)
		if !fs.ValidPath(p) {
			return "", fmt.Errorf("invalid template name %q", name)
		}

		b, err := fs.ReadFile(l.FS, p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("read template %s: %w", p, err)
		}
		return string(b), nil
	}

	return "", fmt.Errorf("%w: %s", khtml.ErrTemplateNotFound, name)
}

// Load compiles the named template from templatesDir, with components resolved from the same
// directory.
func Load(name, templatesDir string) (*khtml.Template, error) {
	return khtml.CompileNamed(name, &FSLoader{FS: os.DirFS(templatesDir)}, nil)
}
