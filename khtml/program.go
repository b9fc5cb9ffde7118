package khtml

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Instr is an instruction of a compiled Program. The set of instructions is closed: EmitLiteral,
// EmitExpression, BeginIf, BeginEach, End and ExpandComponent.
type Instr interface {
	instr()
}

// EmitLiteral writes markup as is.
type EmitLiteral struct {
	Text string
}

// EmitExpression writes the HTML-escaped display form of an expression value.
type EmitExpression struct {
	Expr Expr
}

// BeginIf runs the instructions up to End only when Cond is truthy.
type BeginIf struct {
	Cond Expr
	// End is the index of the matching End instruction.
	End int
}

// BeginEach runs the instructions up to End once for every item of the collection, with the
// item bound to the loop variable.
type BeginEach struct {
	Each EachBinding
	// End is the index of the matching End instruction.
	End int
}

// End closes the innermost BeginIf or BeginEach.
type End struct{}

// ExpandComponent renders a component template in a fresh scope seeded with its bindings.
type ExpandComponent struct {
	Name     string
	Program  *Program
	Bindings []Binding
}

func (*EmitLiteral) instr()     {}
func (*EmitExpression) instr()  {}
func (*BeginIf) instr()         {}
func (*BeginEach) instr()       {}
func (*End) instr()             {}
func (*ExpandComponent) instr() {}

// Program is the compiled form of a template: a flat list of instructions with well-nested
// Begin/End blocks. A Program is not modified after compilation.
type Program struct {
	Instrs []Instr

	// blocks holds the indices of the Begin instructions still waiting for their End while the
	// program is being built.
	blocks []int
}

// emitLiteral appends text, merging it into the previous instruction if that is a literal too.
func (p *Program) emitLiteral(text string) {
	if text == "" {
		return
	}
	if i := len(p.Instrs) - 1; i >= 0 {
		if lit, ok := p.Instrs[i].(*EmitLiteral); ok {
			lit.Text += text
			return
		}
	}
	p.Instrs = append(p.Instrs, &EmitLiteral{Text: text})
}

func (p *Program) emit(in Instr) {
	p.Instrs = append(p.Instrs, in)
}

// begin appends a BeginIf or BeginEach and opens its block.
func (p *Program) begin(in Instr) {
	p.blocks = append(p.blocks, len(p.Instrs))
	p.Instrs = append(p.Instrs, in)
}

// end closes the innermost open block.
func (p *Program) end() {
	i := p.blocks[len(p.blocks)-1]
	p.blocks = p.blocks[:len(p.blocks)-1]

	pc := len(p.Instrs)
	switch in := p.Instrs[i].(type) {
	case *BeginIf:
		in.End = pc
	case *BeginEach:
		in.End = pc
	default:
		panic("khtml: block opened by " + fmt.Sprintf("%T", in))
	}
	p.Instrs = append(p.Instrs, &End{})
}

// String dumps the program, one instruction per line, with block bodies and component programs
// indented.
func (p *Program) String() string {
	var b strings.Builder
	p.dump(&b, 0)
	return b.String()
}

func dumpIndent(w io.Writer, level int) {
	_, _ = io.WriteString(w, "| ")
	for i := 0; i < level; i++ {
		_, _ = io.WriteString(w, "  ")
	}
}

func (p *Program) dump(w io.Writer, level int) {
	for _, in := range p.Instrs {
		if _, ok := in.(*End); ok {
			level--
		}
		dumpIndent(w, level)
		switch in := in.(type) {
		case *EmitLiteral:
			_, _ = io.WriteString(w, strconv.Quote(in.Text))
		case *EmitExpression:
			_, _ = fmt.Fprintf(w, "expr %s", in.Expr)
		case *BeginIf:
			_, _ = fmt.Fprintf(w, "if %s", in.Cond)
			level++
		case *BeginEach:
			_, _ = fmt.Fprintf(w, "each %s", in.Each)
			level++
		case *End:
			_, _ = io.WriteString(w, "end")
		case *ExpandComponent:
			_, _ = fmt.Fprintf(w, "component %s", in.Name)
			for _, b := range in.Bindings {
				_, _ = fmt.Fprintf(w, " %s", b)
			}
			_, _ = io.WriteString(w, "\n")
			in.Program.dump(w, level+1)
			continue
		}
		_, _ = io.WriteString(w, "\n")
	}
}
