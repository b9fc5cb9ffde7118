package khtml

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
)

// componentSkipTags are the document root elements a component template may carry. Their
// opening and closing tags never reach the output of the invoking template.
var componentSkipTags = []string{"html", "head", "body"}

// compilation holds the state shared by a top-level compile and all the components it pulls in.
// It is owned by a single Compile call.
type compilation struct {
	loader        Loader
	knownTags     map[string]struct{}
	stripComments bool
	logger        *slog.Logger

	// compiled caches the program of every component compiled so far. Programs are immutable, so
	// all occurrences of a component share one.
	compiled map[string]*Program
	// active is the chain of templates being compiled, outermost first.
	active []string
}

func (c *compilation) compile(src string, skip map[string]struct{}) (*Program, error) {
	return newBuilder(c, src, skip).build()
}

// expand compiles the template of a component element and binds its attributes.
func (c *compilation) expand(n *TagNode, skip map[string]struct{}) (*ExpandComponent, error) {
	bindings, err := n.Bindings()
	if err != nil {
		return nil, err
	}

	name := n.TemplateName()
	prog, err := c.component(name, childSkipTags(skip))
	if err != nil {
		return nil, err
	}
	return &ExpandComponent{Name: name, Program: prog, Bindings: bindings}, nil
}

// component returns the program of the named component, loading and compiling it on first use.
func (c *compilation) component(name string, skip map[string]struct{}) (*Program, error) {
	if prog, ok := c.compiled[name]; ok {
		return prog, nil
	}
	if slices.Contains(c.active, name) {
		chain := strings.Join(append(slices.Clone(c.active), name), " -> ")
		return nil, &LoadError{Name: name, Err: fmt.Errorf("%w: %s", ErrComponentCycle, chain)}
	}

	src, err := c.loader.Load(name)
	if err != nil {
		return nil, &LoadError{Name: name, Err: err}
	}

	c.active = append(c.active, name)
	prog, err := c.compile(src, skip)
	c.active = c.active[:len(c.active)-1]
	if err != nil {
		return nil, &LoadError{Name: name, Err: err}
	}

	c.logger.Debug("compiled component", "name", name, "instructions", len(prog.Instrs))
	c.compiled[name] = prog
	return prog, nil
}

// childSkipTags returns the skip-tags of a component invoked from a template with the given
// skip-tags.
func childSkipTags(parent map[string]struct{}) map[string]struct{} {
	skip := make(map[string]struct{}, len(parent)+len(componentSkipTags))
	for name := range parent {
		skip[name] = struct{}{}
	}
	for _, name := range componentSkipTags {
		skip[name] = struct{}{}
	}
	return skip
}
