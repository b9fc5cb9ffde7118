package khtml

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	attrReplace = "data-replace"
	attrEach    = "data-each"
	attrIf      = "data-if"
	attrIgnore  = "data-ignore"

	// componentPrefix marks elements that expand to a separately loaded template.
	componentPrefix = "c-"
)

// Directives holds the parsed directive attributes of an element. The directive attributes
// themselves never appear in the rendered markup.
type Directives struct {
	// Replace substitutes the content of the element with the value of the expression.
	Replace *Expr
	// Each repeats the element for every item of a collection.
	Each *EachBinding
	// Cond renders the element only when the expression is truthy.
	Cond *Expr
	// Ignore drops the element and its content.
	Ignore bool
}

// TagNode is an element as seen by the compiler: its name, the attributes left after directive
// extraction and the directives themselves.
type TagNode struct {
	Name string
	Attr []html.Attribute
	Directives

	// Component is set for `c-<name>` elements. Their attributes are bindings for the
	// component's template, not HTML attributes.
	Component bool

	// Void is set for elements that never have content or an end tag, like <br>.
	Void bool
}

// NewTagNode classifies an element and extracts its directives. It does not look at any view
// model: the directive values are parsed and kept unevaluated.
func NewTagNode(name string, attrs []html.Attribute) (*TagNode, error) {
	n := &TagNode{
		Name:      name,
		Attr:      make([]html.Attribute, 0, len(attrs)),
		Component: strings.HasPrefix(name, componentPrefix),
		Void:      isVoidElement(name),
	}

	for _, a := range attrs {
		ok, err := n.parseDirective(a)
		if err != nil {
			return nil, err
		}
		if !ok {
			n.Attr = append(n.Attr, a)
		}
	}
	return n, nil
}

// parseDirective stores a directive attribute in n and reports whether a was one.
func (n *TagNode) parseDirective(a html.Attribute) (bool, error) {
	switch strings.ToLower(a.Key) {
	case attrReplace:
		x, err := NewExpr(a.Val)
		if err != nil {
			return true, fmt.Errorf("parse %s: %w", attrReplace, err)
		}
		n.Replace = &x
	case attrEach:
		b, err := ParseEach(a.Val)
		if err != nil {
			return true, fmt.Errorf("parse %s: %w", attrEach, err)
		}
		n.Each = &b
	case attrIf:
		x, err := NewExpr(a.Val)
		if err != nil {
			return true, fmt.Errorf("parse %s: %w", attrIf, err)
		}
		n.Cond = &x
	case attrIgnore:
		n.Ignore = true
	default:
		return false, nil
	}
	return true, nil
}

// hides reports whether the content of the element is replaced wholesale, so its descendants
// are never emitted one by one.
func (n *TagNode) hides() bool {
	return n.Ignore || n.Replace != nil || n.Component
}

// OpeningTag serializes the element name and its residual attributes.
func (n *TagNode) OpeningTag() string {
	var b strings.Builder
	b.WriteByte('<')
	b.WriteString(n.Name)
	for _, a := range n.Attr {
		b.WriteByte(' ')
		if a.Namespace != "" {
			b.WriteString(a.Namespace)
			b.WriteByte(':')
		}
		b.WriteString(a.Key)
		b.WriteString(`="`)
		b.WriteString(html.EscapeString(a.Val))
		b.WriteByte('"')
	}
	b.WriteByte('>')
	return b.String()
}

func (n *TagNode) ClosingTag() string {
	return "</" + n.Name + ">"
}

// TemplateName returns the name of the template a component element expands to.
func (n *TagNode) TemplateName() string {
	return strings.TrimPrefix(n.Name, componentPrefix)
}

// Binding is a local variable of a component template, computed from an attribute of the
// invoking element.
type Binding struct {
	Name string
	// Value is evaluated in the invoking scope. An empty Value binds true, so a bare attribute
	// like `<c-button primary>` works as a flag.
	Value Expr
}

func (b Binding) String() string {
	if b.Value.IsEmpty() {
		return b.Name
	}
	return b.Name + "=" + b.Value.String()
}

func (b Binding) eval(sc *scope) (any, error) {
	if b.Value.IsEmpty() {
		return true, nil
	}
	return b.Value.eval(sc)
}

// Bindings reinterprets the residual attributes of a component element. Attribute names are
// converted to snake_case: `user-name="u.name"` binds `user_name`.
func (n *TagNode) Bindings() ([]Binding, error) {
	bindings := make([]Binding, 0, len(n.Attr))
	for _, a := range n.Attr {
		b := Binding{Name: toSnakeCase(a.Key)}
		if strings.TrimSpace(a.Val) != "" {
			x, err := NewExpr(a.Val)
			if err != nil {
				return nil, fmt.Errorf("parse binding %s: %w", a.Key, err)
			}
			b.Value = x
		}
		bindings = append(bindings, b)
	}
	return bindings, nil
}

// isVoidElement reports whether the element has no end tag.
func isVoidElement(name string) bool {
	switch atom.Lookup([]byte(name)) {
	case atom.Area, atom.Base, atom.Br, atom.Col, atom.Embed, atom.Hr, atom.Img, atom.Input,
		atom.Keygen, atom.Link, atom.Meta, atom.Param, atom.Source, atom.Track, atom.Wbr:
		return true
	}
	return false
}

// isKnownTag reports whether name is a valid element name: part of the HTML vocabulary, a
// custom element (any name with a hyphen), or explicitly allowed.
func isKnownTag(name string, extra map[string]struct{}) bool {
	if strings.Contains(name, "-") || atom.Lookup([]byte(name)) != 0 {
		return true
	}
	_, ok := extra[name]
	return ok
}

// openElement is an entry of the stack of open elements.
type openElement struct {
	node *TagNode
	// inHidden is set for elements inside an ancestor whose content is replaced, ignored or
	// expanded. Nothing is emitted for them.
	inHidden bool
	// blocks is the number of BeginIf/BeginEach instructions opened by the element.
	blocks int
}

// hidesContent reports whether text and elements below e are suppressed.
func (e *openElement) hidesContent() bool {
	return e.inHidden || e.node.hides()
}

// nodeStack is a stack of open elements.
type nodeStack []*openElement

// pop pops the stack. It will panic if the stack is empty.
func (s *nodeStack) pop() *openElement {
	i := len(*s)
	n := (*s)[i-1]
	*s = (*s)[:i-1]
	return n
}

// top returns the most recently pushed element, or nil if the stack is empty.
func (s *nodeStack) top() *openElement {
	if i := len(*s); i > 0 {
		return (*s)[i-1]
	}
	return nil
}
