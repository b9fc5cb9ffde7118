package khtml

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/expr-lang/expr/ast"
	expr_parser "github.com/expr-lang/expr/parser"
)

// Expr is a path expression: an identifier followed by member accesses, e.g. `item.price` or
// `rows[0].label`. It is stored unevaluated and resolved against a scope chain at execution time.
type Expr struct {
	raw  string
	root string
	path []step
}

// step is one member access of a path expression.
type step struct {
	name    string
	index   int
	isIndex bool
}

func (s step) String() string {
	if s.isIndex {
		return strconv.Itoa(s.index)
	}
	return s.name
}

// NewExpr parses s as a path expression. The syntax is parsed by the expr-lang parser, and only
// identifiers and constant member accesses are accepted: calls, operators and literals are
// rejected so that a template can never run code of its own.
func NewExpr(s string) (Expr, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Expr{}, errors.New("empty expression")
	}

	tree, err := expr_parser.Parse(s)
	if err != nil {
		return Expr{}, fmt.Errorf("invalid expression %q: %w", s, err)
	}

	x := Expr{raw: s}
	if err := x.flatten(tree.Node); err != nil {
		return Expr{}, fmt.Errorf("unsupported expression %q: %w", s, err)
	}
	return x, nil
}

// flatten walks the AST from the innermost identifier outwards, collecting the member steps.
func (x *Expr) flatten(n ast.Node) error {
	switch n := n.(type) {
	case *ast.IdentifierNode:
		if !isIdentifier(n.Value) {
			return fmt.Errorf("invalid identifier %q", n.Value)
		}
		x.root = n.Value
		return nil
	case *ast.MemberNode:
		if n.Optional {
			return errors.New("optional chaining is not allowed")
		}
		if err := x.flatten(n.Node); err != nil {
			return err
		}
		switch p := n.Property.(type) {
		case *ast.StringNode:
			x.path = append(x.path, step{name: p.Value})
		case *ast.IntegerNode:
			x.path = append(x.path, step{index: p.Value, isIndex: true})
		default:
			return fmt.Errorf("member access must be constant, got %T", n.Property)
		}
		return nil
	default:
		return fmt.Errorf("only names and member accesses are allowed, got %T", n)
	}
}

// String returns the source text of the expression.
func (x Expr) String() string {
	return x.raw
}

// IsEmpty reports whether the expression is the zero value.
func (x Expr) IsEmpty() bool {
	return x.raw == ""
}

// Root returns the first identifier of the path.
func (x Expr) Root() string {
	return x.root
}

// Resolve evaluates the expression directly against a view model, without any local bindings.
func (x Expr) Resolve(vm any) (any, error) {
	return x.eval(newScope(vm, nil))
}

// eval resolves the root through the scope chain, then every member left to right.
func (x Expr) eval(sc *scope) (any, error) {
	v, ok, err := sc.lookup(x.root)
	if err != nil {
		return nil, fmt.Errorf("eval %q: %w", x.raw, err)
	}
	if !ok {
		return nil, &ResolutionError{Name: x.root, Expr: x.raw}
	}

	for _, st := range x.path {
		if st.isIndex {
			v, ok = index(v, st.index)
		} else {
			v, ok, err = member(v, st.name)
			if err != nil {
				return nil, fmt.Errorf("eval %q: %w", x.raw, err)
			}
		}
		if !ok {
			return nil, &ResolutionError{Name: st.String(), Expr: x.raw}
		}
	}
	return v, nil
}

// EachBinding is the parsed value of a data-each directive: `item : collection`.
type EachBinding struct {
	Item       string
	Collection Expr
}

func (b EachBinding) String() string {
	return b.Item + " : " + b.Collection.String()
}

// ParseEach splits s once on the first colon. The left side names the loop variable, the right
// side is the path expression of the collection.
func ParseEach(s string) (EachBinding, error) {
	item, coll, ok := strings.Cut(s, ":")
	if !ok {
		return EachBinding{}, fmt.Errorf("missing ':' in %q", s)
	}
	item = strings.TrimSpace(item)
	if !isIdentifier(item) {
		return EachBinding{}, fmt.Errorf("invalid loop variable %q", item)
	}
	x, err := NewExpr(coll)
	if err != nil {
		return EachBinding{}, fmt.Errorf("parse collection: %w", err)
	}
	return EachBinding{Item: item, Collection: x}, nil
}

// isIdentifier reports whether s is a letter or underscore followed by alphanumerics.
func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if !isAlphaNumeric(r) || (i == 0 && unicode.IsDigit(r)) {
			return false
		}
	}
	return true
}

// isAlphaNumeric reports whether r is an alphabetic, digit, or underscore.
func isAlphaNumeric(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
