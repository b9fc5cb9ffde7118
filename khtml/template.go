package khtml

import (
	"io"
	"log/slog"
	"strings"
)

// CompileOptions configures a compilation. The zero value is ready to use.
type CompileOptions struct {
	// SkipTags lists elements whose opening and closing tags are not emitted, only their content.
	SkipTags []string

	// Loader resolves the templates of <c-NAME> components. Without a Loader every component
	// fails to compile with a ConfigurationError.
	Loader Loader

	// KnownTags extends the HTML vocabulary with tag names that are accepted although they are
	// neither standard nor hyphenated.
	KnownTags []string

	// StripComments drops HTML comments from the output.
	StripComments bool

	// Logger receives the debug trace. Defaults to a logger that discards everything.
	Logger *slog.Logger

	// Debug logs the compiled program.
	Debug bool
}

// Template is a compiled template. It is immutable and safe for concurrent use.
type Template struct {
	name string
	prog *Program
}

// Compile compiles template source. Components are loaded and compiled before Compile returns.
func Compile(src string, opts *CompileOptions) (*Template, error) {
	return compileTemplate("", src, opts)
}

// CompileNamed loads the named template through l and compiles it with l attached for the
// components it uses.
func CompileNamed(name string, l Loader, opts *CompileOptions) (*Template, error) {
	src, err := l.Load(name)
	if err != nil {
		return nil, &LoadError{Name: name, Err: err}
	}

	o := CompileOptions{}
	if opts != nil {
		o = *opts
	}
	o.Loader = l

	return compileTemplate(name, src, &o)
}

func compileTemplate(name, src string, opts *CompileOptions) (*Template, error) {
	if opts == nil {
		opts = &CompileOptions{}
	}

	c := &compilation{
		loader:        opts.Loader,
		knownTags:     toSet(opts.KnownTags),
		stripComments: opts.StripComments,
		logger:        opts.Logger,
		compiled:      make(map[string]*Program),
	}
	if c.loader == nil {
		c.loader = noLoader{}
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if name != "" {
		c.active = append(c.active, name)
	}

	prog, err := c.compile(src, toSet(opts.SkipTags))
	if err != nil {
		return nil, err
	}

	if opts.Debug {
		c.logger.Debug("compiled template", "name", name, "program", "\n"+prog.String())
	}

	return &Template{name: name, prog: prog}, nil
}

// Name returns the name the template was loaded by, or "" for templates compiled from source.
func (t *Template) Name() string {
	return t.name
}

// Program returns the compiled program. It must not be modified.
func (t *Template) Program() *Program {
	return t.prog
}

// Execute renders the template against a view model.
func (t *Template) Execute(vm any) (string, error) {
	var sb strings.Builder
	if err := t.Render(&sb, vm); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// Render writes the output of the template for a view model to w. On error, w may have
// received partial output.
func (t *Template) Render(w io.Writer, vm any) error {
	r := &renderer{w: w}
	return r.run(t.prog, newScope(vm, nil))
}

func toSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[strings.ToLower(name)] = struct{}{}
	}
	return set
}
