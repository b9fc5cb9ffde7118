package khala

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/dpotapov/go-khala/khtml"
)

// Registry compiles templates on first use and keeps them until they are invalidated.
// It is safe for concurrent use.
type Registry struct {
	// Loader resolves template and component names.
	Loader khtml.Loader

	// Options are used for every compilation. Options.Loader is replaced with Loader.
	Options khtml.CompileOptions

	// WatchDirs are the directories observed by Watch.
	WatchDirs []string

	// Logger configures logging for internal events.
	Logger *slog.Logger

	// init is used to initialize the registry only once.
	init sync.Once

	// logger is a private logger instance that is used to log internal events.
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]*khtml.Template
}

// NewRegistry creates a registry serving the templates of cfg from the file system.
func NewRegistry(cfg *Config, logger *slog.Logger) *Registry {
	searchPath := cfg.SearchPath
	if len(searchPath) == 0 {
		searchPath = defaultSearchPath
	}

	dirs := make([]string, 0, len(searchPath))
	for _, sp := range searchPath {
		dirs = append(dirs, filepath.Join(cfg.TemplatesDir, filepath.FromSlash(sp)))
	}

	return &Registry{
		Loader: &FSLoader{
			FS:         os.DirFS(cfg.TemplatesDir),
			Ext:        cfg.Extension,
			SearchPath: searchPath,
		},
		Options:   cfg.CompileOptions(logger),
		WatchDirs: dirs,
		Logger:    logger,
	}
}

func (r *Registry) setup() {
	r.init.Do(func() {
		r.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
		if r.Logger != nil {
			r.logger = r.Logger
		}
		if r.Options.Logger == nil {
			r.Options.Logger = r.logger
		}
		r.cache = make(map[string]*khtml.Template)
	})
}

// Template returns the compiled template with the given name.
func (r *Registry) Template(name string) (*khtml.Template, error) {
	r.setup()

	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.cache[name]; ok {
		return t, nil
	}

	t, err := khtml.CompileNamed(name, r.Loader, &r.Options)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", name, err)
	}
	r.logger.Debug("Compiled template", "name", name, "instructions", len(t.Program().Instrs))

	r.cache[name] = t
	return t, nil
}

// Execute renders the named template against a view model.
func (r *Registry) Execute(name string, vm any) (string, error) {
	t, err := r.Template(name)
	if err != nil {
		return "", err
	}
	return t.Execute(vm)
}

// Render writes the output of the named template to w.
func (r *Registry) Render(w io.Writer, name string, vm any) error {
	t, err := r.Template(name)
	if err != nil {
		return err
	}
	return t.Render(w, vm)
}

// Invalidate drops all compiled templates. Components are inlined into the templates that use
// them, so a change to any file may affect any template.
func (r *Registry) Invalidate() {
	r.setup()

	r.mu.Lock()
	n := len(r.cache)
	clear(r.cache)
	r.mu.Unlock()

	r.logger.Debug("Invalidated templates", "count", n)
}

// Watch invalidates the registry whenever a file in WatchDirs is written, created, removed or
// renamed, and calls onChange, if set, with the path of the file. It blocks until ctx is done.
func (r *Registry) Watch(ctx context.Context, onChange func(path string)) error {
	r.setup()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	for _, dir := range r.WatchDirs {
		if err := w.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		r.logger.Info("Watching templates", "dir", dir)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename) {
				continue
			}

			r.Invalidate()
			r.logger.Info("Template changed", "path", event.Name, "op", event.Op.String())
			if onChange != nil {
				onChange(event.Name)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.logger.Error("Watch templates", "error", err)
		}
	}
}
