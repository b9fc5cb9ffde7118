package khtml

import (
	"errors"
	"fmt"
	"strings"

	"github.com/beevik/etree"
	"golang.org/x/net/html"
)

var (
	// ErrTemplateNotFound is returned by loaders when no source exists for a template name.
	ErrTemplateNotFound = errors.New("template not found")

	// ErrComponentCycle is reported when a component includes itself, directly or through
	// other components.
	ErrComponentCycle = errors.New("component cycle")

	// ErrNotIterable is reported when a data-each collection is not a slice, array or map.
	ErrNotIterable = errors.New("value is not iterable")

	// ErrNoLoader is the cause of the ConfigurationError returned when a component is used
	// without a Loader.
	ErrNoLoader = errors.New("no loader configured")
)

// ParseError reports malformed markup: mismatched or unclosed tags, tokenizer failures and
// invalid directive values.
type ParseError struct {
	// Span is the location of the offending token.
	Span Span
	// Path is the slash-separated path of elements open at the time of the error.
	Path string
	Err  error
	ctx  *etree.Element
}

func newParseError(oe nodeStack, sp Span, err error) *ParseError {
	doc := etree.NewDocument()
	el := &doc.Element
	for _, e := range oe {
		el = el.CreateElement(e.node.Name)
		for _, a := range e.node.Attr {
			el.CreateAttr(a.Key, a.Val)
		}
	}
	return &ParseError{
		Span: sp,
		Path: el.GetPath(),
		Err:  err,
		ctx:  &doc.Element,
	}
}

func (e *ParseError) Error() string {
	if e.Span.IsZero() {
		return e.Path + ": " + e.Err.Error()
	}
	return e.Span.String() + ": " + e.Path + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// HTMLContext renders the chain of open elements at the point of failure, e.g.
// `<h1 class="foo"><strong></strong></h1>`.
func (e *ParseError) HTMLContext() string {
	if e.ctx == nil {
		return ""
	}
	return renderErrorContext(e.ctx)
}

// ValidationError reports a tag name that is neither part of the HTML vocabulary nor a custom
// (hyphenated) element name.
type ValidationError struct {
	Tag  string
	Span Span
}

func (e *ValidationError) Error() string {
	if e.Span.IsZero() {
		return fmt.Sprintf("tag %s invalid", e.Tag)
	}
	return fmt.Sprintf("%s: tag %s invalid", e.Span, e.Tag)
}

// ResolutionError reports a name that cannot be found in the scope chain during execution.
type ResolutionError struct {
	// Name is the missing identifier or member.
	Name string
	// Expr is the full expression that was being evaluated.
	Expr string
}

func (e *ResolutionError) Error() string {
	if e.Expr == "" || e.Expr == e.Name {
		return fmt.Sprintf("undefined name %q", e.Name)
	}
	return fmt.Sprintf("undefined name %q in %q", e.Name, e.Expr)
}

// LoadError reports a component whose template cannot be retrieved or compiled.
type LoadError struct {
	Name string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load component %q: %v", e.Name, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// ConfigurationError reports a compiler that is not set up for what the template asks of it,
// such as components without a Loader.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return "configuration: " + e.Err.Error()
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// renderErrorContext converts the etree context into HTML.
func renderErrorContext(doc *etree.Element) string {
	dst := &html.Node{Type: html.DocumentNode}

	var render func(*html.Node, *etree.Element)
	render = func(dst *html.Node, src *etree.Element) {
		for _, c := range src.Child {
			switch t := c.(type) {
			case *etree.Element:
				n := &html.Node{Type: html.ElementNode, Data: t.FullTag()}
				for _, a := range t.Attr {
					n.Attr = append(n.Attr, html.Attribute{Key: a.Key, Val: a.Value})
				}
				dst.AppendChild(n)
				render(n, t)
			case *etree.CharData:
				dst.AppendChild(&html.Node{Type: html.TextNode, Data: t.Data})
			}
		}
	}

	render(dst, doc)

	var buf strings.Builder
	_ = html.Render(&buf, dst)

	return buf.String()
}
