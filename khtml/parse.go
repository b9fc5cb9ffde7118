package khtml

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// A builder walks the tokens of one template and emits its Program. The tokenizer from the
// golang.org/x/net/html package provides the tokens. No HTML5 tree construction takes place:
// the output keeps the source markup as written, except for the directives.
type builder struct {
	// tokenizer provides the tokens for the builder.
	tokenizer *html.Tokenizer
	// cur tracks the source position of the tokens.
	cur cursor
	// span is the location of the most recently read token.
	span Span
	// raw is a copy of the source bytes of the most recently read token.
	raw string
	// The stack of open elements.
	oe nodeStack
	// prog receives the emitted instructions.
	prog *Program
	// skip lists the elements whose own opening and closing tags are not emitted.
	skip map[string]struct{}
	// c holds the options and the component cache of the whole compilation.
	c *compilation
}

func newBuilder(c *compilation, src string, skip map[string]struct{}) *builder {
	return &builder{
		tokenizer: html.NewTokenizer(strings.NewReader(src)),
		cur:       newCursor(),
		prog:      &Program{},
		skip:      skip,
		c:         c,
	}
}

// build runs the builder until the end of input. It stops at the first error.
func (b *builder) build() (*Program, error) {
	for {
		tt := b.tokenizer.Next()
		// Raw must be copied before Token is called: the tokenizer lowercases tag names in place.
		b.raw = string(b.tokenizer.Raw())
		b.span = b.cur.advance(b.raw)

		var err error
		switch tt {
		case html.ErrorToken:
			if err := b.tokenizer.Err(); err != io.EOF {
				return nil, b.error(err)
			}
			return b.finish()
		case html.TextToken:
			b.text()
		case html.CommentToken:
			if !b.c.stripComments {
				b.text()
			}
		case html.DoctypeToken:
			// A full document used as a component does not repeat its doctype.
			if _, ok := b.skip["html"]; !ok {
				b.text()
			}
		case html.StartTagToken:
			err = b.startTag(b.tokenizer.Token(), false)
		case html.SelfClosingTagToken:
			err = b.startTag(b.tokenizer.Token(), true)
		case html.EndTagToken:
			err = b.endTag(b.tokenizer.Token().Data)
		}
		if err != nil {
			return nil, err
		}
	}
}

// hidden reports whether the content at the current position is not emitted.
func (b *builder) hidden() bool {
	if e := b.oe.top(); e != nil {
		return e.hidesContent()
	}
	return false
}

func (b *builder) skips(name string) bool {
	_, ok := b.skip[name]
	return ok
}

// text emits the current token verbatim.
func (b *builder) text() {
	if !b.hidden() {
		b.prog.emitLiteral(b.raw)
	}
}

func (b *builder) startTag(tok html.Token, selfClosing bool) error {
	if !isKnownTag(tok.Data, b.c.knownTags) {
		return &ValidationError{Tag: tok.Data, Span: b.span}
	}

	n, err := NewTagNode(tok.Data, tok.Attr)
	if err != nil {
		return b.error(err)
	}

	e := &openElement{node: n, inHidden: b.hidden()}

	// The element is still tracked inside a hidden region, so that its end tag is matched.
	if e.inHidden || n.Ignore {
		if !n.Void && !selfClosing {
			b.oe = append(b.oe, e)
		}
		return nil
	}

	if n.Each != nil {
		b.prog.begin(&BeginEach{Each: *n.Each})
		e.blocks++
	}
	if n.Cond != nil {
		b.prog.begin(&BeginIf{Cond: *n.Cond})
		e.blocks++
	}
	if !n.Component && !b.skips(n.Name) {
		b.prog.emitLiteral(n.OpeningTag())
	}
	if n.Replace != nil {
		b.prog.emit(&EmitExpression{Expr: *n.Replace})
	}
	if n.Component {
		in, err := b.c.expand(n, b.skip)
		if err != nil {
			var le *LoadError
			if errors.As(err, &le) {
				return err
			}
			return b.error(err)
		}
		b.prog.emit(in)
	}

	if n.Void || selfClosing {
		b.close(e)
		return nil
	}
	b.oe = append(b.oe, e)
	return nil
}

func (b *builder) endTag(name string) error {
	if isVoidElement(name) {
		return nil
	}

	top := b.oe.top()
	if top == nil {
		return b.error(fmt.Errorf("unexpected ending tag %s", name))
	}
	if top.node.Name == name {
		b.close(b.oe.pop())
		return nil
	}
	if !top.inHidden {
		return b.error(fmt.Errorf("opening and ending tag mismatch: %s and %s", top.node.Name, name))
	}

	// Inside a hidden region markup is not checked. The end tag closes the nearest open element
	// with that name, as long as it belongs to the region or is the element that hides it.
	for i := len(b.oe) - 1; i >= 0; i-- {
		e := b.oe[i]
		if e.node.Name == name {
			b.oe = b.oe[:i]
			b.close(e)
			return nil
		}
		if !e.inHidden {
			break
		}
	}
	return nil
}

// close emits the closing tag of a finished element and ends the blocks it opened.
func (b *builder) close(e *openElement) {
	if e.inHidden || e.node.Ignore {
		return
	}
	n := e.node
	if !n.Component && !n.Void && !b.skips(n.Name) {
		b.prog.emitLiteral(n.ClosingTag())
	}
	for i := 0; i < e.blocks; i++ {
		b.prog.end()
	}
}

func (b *builder) finish() (*Program, error) {
	if e := b.oe.top(); e != nil {
		return nil, b.error(fmt.Errorf("unclosed element <%s>", e.node.Name))
	}
	prog := b.prog
	prog.blocks = nil
	return prog, nil
}

func (b *builder) error(err error) error {
	return newParseError(b.oe, b.span, err)
}
