package khtml

import (
	"fmt"
	"unicode/utf8"
)

// Span represents a source location in a template.
type Span struct {
	Offset int // Byte offset in the source
	Line   int // 1-based line number
	Column int // 1-based column number (in runes, not bytes)
	Length int // Length in bytes
}

// IsZero reports whether the span was never set, as for errors built outside the builder.
func (s Span) IsZero() bool {
	return s.Offset == 0 && s.Line == 0 && s.Column == 0 && s.Length == 0
}

// End returns the end offset of the span
func (s Span) End() int {
	return s.Offset + s.Length
}

func (s Span) String() string {
	return fmt.Sprintf("%d:%d", s.Line, s.Column)
}

// cursor follows the tokenizer through the source and produces a Span for every token.
type cursor struct {
	offset int
	line   int
	column int
}

func newCursor() cursor {
	return cursor{line: 1, column: 1}
}

// advance consumes the raw bytes of one token and returns the span they occupy.
func (c *cursor) advance(raw string) Span {
	sp := Span{
		Offset: c.offset,
		Line:   c.line,
		Column: c.column,
		Length: len(raw),
	}
	for len(raw) > 0 {
		r, size := utf8.DecodeRuneInString(raw)
		raw = raw[size:]
		if r == '\n' {
			c.line++
			c.column = 1
		} else {
			c.column++
		}
	}
	c.offset += sp.Length
	return sp
}
