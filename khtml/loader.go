package khtml

import "fmt"

// Loader resolves a template name to its source. It is invoked when a <c-NAME> element is
// encountered, and by CompileNamed.
type Loader interface {
	Load(name string) (string, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(name string) (string, error)

func (f LoaderFunc) Load(name string) (string, error) {
	return f(name)
}

// MapLoader serves template sources from memory.
type MapLoader map[string]string

func (m MapLoader) Load(name string) (string, error) {
	src, ok := m[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}
	return src, nil
}

// noLoader is the default Loader. Using a component without a configured Loader is a mistake
// in the setup, not in the template.
type noLoader struct{}

func (noLoader) Load(string) (string, error) {
	return "", &ConfigurationError{Err: ErrNoLoader}
}
