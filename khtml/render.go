package khtml

import (
	"fmt"
	"io"

	"golang.org/x/net/html"
)

// renderer executes programs. A renderer belongs to a single Render call.
type renderer struct {
	w io.Writer
}

func (r *renderer) run(p *Program, sc *scope) error {
	return r.runRange(p, 0, len(p.Instrs), sc)
}

// runRange executes the instructions in [lo, hi).
func (r *renderer) runRange(p *Program, lo, hi int, sc *scope) error {
	for pc := lo; pc < hi; pc++ {
		switch in := p.Instrs[pc].(type) {
		case *EmitLiteral:
			if _, err := io.WriteString(r.w, in.Text); err != nil {
				return err
			}
		case *EmitExpression:
			v, err := in.Expr.eval(sc)
			if err != nil {
				return err
			}
			if _, err := io.WriteString(r.w, html.EscapeString(display(v))); err != nil {
				return err
			}
		case *BeginIf:
			ok, err := r.evalIf(in, sc)
			if err != nil {
				return err
			}
			if !ok {
				pc = in.End
			}
		case *BeginEach:
			if err := r.evalEach(p, pc, in, sc); err != nil {
				return err
			}
			pc = in.End
		case *End:
			// the body of a block falls through its End
		case *ExpandComponent:
			if err := r.expand(in, sc); err != nil {
				return fmt.Errorf("render component %q: %w", in.Name, err)
			}
		default:
			return fmt.Errorf("unknown instruction %T", in)
		}
	}
	return nil
}

func (r *renderer) evalIf(in *BeginIf, sc *scope) (bool, error) {
	v, err := in.Cond.eval(sc)
	if err != nil {
		return false, fmt.Errorf("eval if: %w", err)
	}
	return isTruthy(v), nil
}

// evalEach runs the body of the loop starting at pc once per item, with the item bound in a
// frame of its own.
func (r *renderer) evalEach(p *Program, pc int, in *BeginEach, sc *scope) error {
	v, err := in.Each.Collection.eval(sc)
	if err != nil {
		return fmt.Errorf("eval each: %w", err)
	}
	items, err := iterate(v)
	if err != nil {
		return fmt.Errorf("eval each %q: %w", in.Each.Collection, err)
	}

	f := frame{}
	sc.push(f)
	defer sc.pop()

	for _, item := range items {
		f[in.Each.Item] = item
		if err := r.runRange(p, pc+1, in.End, sc); err != nil {
			return err
		}
	}
	return nil
}

// expand evaluates the bindings of a component in the invoking scope, then runs the component
// program in a new scope that sees only the bindings and the view model.
func (r *renderer) expand(in *ExpandComponent, sc *scope) error {
	vars := make(frame, len(in.Bindings))
	for _, b := range in.Bindings {
		v, err := b.eval(sc)
		if err != nil {
			return fmt.Errorf("eval binding %s: %w", b.Name, err)
		}
		vars[b.Name] = v
	}
	return r.run(in.Program, newScope(sc.vm, vars))
}
