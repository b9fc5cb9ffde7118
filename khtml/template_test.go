package khtml

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

type viewModel struct {
	Name  string
	Items []string
}

func (viewModel) Yes() bool { return true }
func (viewModel) No() bool  { return false }

var testVM = viewModel{Name: "World", Items: []string{"fizz", "buzz"}}

func testExecuteCase(src string, vm any, opts *CompileOptions, want string) error {
	tmpl, err := Compile(src, opts)
	if err != nil {
		return fmt.Errorf("compile: %w", err)
	}
	got, err := tmpl.Execute(vm)
	if err != nil {
		return fmt.Errorf("execute: %w", err)
	}
	if diff := cmp.Diff(got, want); diff != "" {
		return fmt.Errorf("output mismatch (-got +want):\n%s", diff)
	}
	return nil
}

func TestExecuteDirectives(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "empty",
			text: "",
			want: "",
		},
		{
			name: "passthrough",
			text: `<h1 class="foo">Hello<br><strong>World</strong></h1>`,
			want: `<h1 class="foo">Hello<br><strong>World</strong></h1>`,
		},
		{
			name: "replace",
			text: `<h1 class="foo" data-replace="name">Hello <strong>World</strong></h1>`,
			want: `<h1 class="foo">World</h1>`,
		},
		{
			name: "nested replace",
			text: `<h1 class="foo">Hello <span data-replace="name">World</span></h1>`,
			want: `<h1 class="foo">Hello <span>World</span></h1>`,
		},
		{
			name: "each",
			text: `<ul><li class="foo" data-each="item: items">Example</li></ul>`,
			want: `<ul><li class="foo">Example</li><li class="foo">Example</li></ul>`,
		},
		{
			name: "each with replace",
			text: `<ul><li class="foo" data-each="item: items" data-replace="item">Example</li></ul>`,
			want: `<ul><li class="foo">fizz</li><li class="foo">buzz</li></ul>`,
		},
		{
			name: "each with inner replace",
			text: `<ul><li class="foo" data-each="item: items">Hello <strong data-replace="item">Example</strong></li></ul>`,
			want: `<ul><li class="foo">Hello <strong>fizz</strong></li><li class="foo">Hello <strong>buzz</strong></li></ul>`,
		},
		{
			name: "ignore",
			text: `<h1 class="foo" data-ignore>Hello <strong>World</strong></h1><strong>Hey</strong>`,
			want: `<strong>Hey</strong>`,
		},
		{
			name: "if true",
			text: `<h1 class="foo" data-if="yes">Hello <strong>World</strong></h1>`,
			want: `<h1 class="foo">Hello <strong>World</strong></h1>`,
		},
		{
			name: "if false",
			text: `<h1 class="foo" data-if="no">Hello <strong>World</strong></h1><strong>Hey</strong>`,
			want: `<strong>Hey</strong>`,
		},
		{
			name: "directive order does not matter",
			text: `<p data-replace="name" id="x" data-if="yes">Hi</p>`,
			want: `<p id="x">World</p>`,
		},
		{
			name: "loop variable shadows the view model",
			text: `<i data-each="name: items" data-replace="name"></i><b data-replace="name"></b>`,
			want: `<i>fizz</i><i>buzz</i><b>World</b>`,
		},
		{
			name: "nested loops",
			text: `<p data-each="a: items"><i data-each="b: items"><b data-replace="a"></b><u data-replace="b"></u></i></p>`,
			want: `<p><i><b>fizz</b><u>fizz</u></i><i><b>fizz</b><u>buzz</u></i></p>` +
				`<p><i><b>buzz</b><u>fizz</u></i><i><b>buzz</b><u>buzz</u></i></p>`,
		},
		{
			name: "indexed member",
			text: `<em data-replace="items[1]"></em><em data-replace="items[0]"></em>`,
			want: `<em>buzz</em><em>fizz</em>`,
		},
		{
			name: "void and self-closing elements",
			text: `<p>a<br/>b<img src="x.png" alt="">c</p>`,
			want: `<p>a<br>b<img src="x.png" alt="">c</p>`,
		},
		{
			name: "void element with directives",
			text: `<input data-each="item: items" data-if="yes" value="v">`,
			want: `<input value="v"><input value="v">`,
		},
		{
			name: "comments and doctype",
			text: "<!DOCTYPE html>\n<!-- note --><p>x</p>",
			want: "<!DOCTYPE html>\n<!-- note --><p>x</p>",
		},
		{
			name: "script content is raw",
			text: `<script>if (a < b && c) { x = "</p>" }</script>`,
			want: `<script>if (a < b && c) { x = "</p>" }</script>`,
		},
		{
			name: "entities in text are kept",
			text: `<p>Fish &amp; Chips &lt;3</p>`,
			want: `<p>Fish &amp; Chips &lt;3</p>`,
		},
		{
			name: "attributes are re-escaped",
			text: `<a href="/q?a=1&amp;b=2" title='say "hi"'>x</a>`,
			want: `<a href="/q?a=1&amp;b=2" title="say &#34;hi&#34;">x</a>`,
		},
		{
			name: "custom elements pass through",
			text: `<my-widget size="2"><x-icon></x-icon></my-widget>`,
			want: `<my-widget size="2"><x-icon></x-icon></my-widget>`,
		},
		{
			name: "unmatched markup inside ignored content",
			text: `<div data-ignore><p>unclosed</div><span>ok</span>`,
			want: `<span>ok</span>`,
		},
		{
			name: "same name nested inside replaced content",
			text: `<div data-replace="name"><div>inner</div>tail</div>after`,
			want: `<div>World</div>after`,
		},
		{
			name: "replace closes over unclosed children",
			text: `<h1 data-replace="name"><em>a</h1>`,
			want: `<h1>World</h1>`,
		},
		{
			name: "multiline markup",
			text: "<ul>\n  <li data-each=\"item : items\">\n    <b data-replace=\"item\"></b>\n  </li>\n</ul>\n",
			want: "<ul>\n  <li>\n    <b>fizz</b>\n  </li><li>\n    <b>buzz</b>\n  </li>\n</ul>\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := testExecuteCase(tt.text, testVM, nil, tt.want); err != nil {
				t.Error(err)
			}
		})
	}
}

type row struct {
	Label   string
	Visible bool
}

func TestExecuteValues(t *testing.T) {
	tests := []struct {
		name string
		text string
		vm   any
		want string
	}{
		{
			name: "if re-tested per item",
			text: `<li data-each="r: rows" data-if="r.visible" data-replace="r.label"></li>`,
			vm:   map[string]any{"rows": []row{{"a", true}, {"b", false}, {"c", true}}},
			want: `<li>a</li><li>c</li>`,
		},
		{
			name: "map values in key order",
			text: `<i data-each="v: m" data-replace="v"></i>`,
			vm:   map[string]any{"m": map[string]int{"b": 2, "c": 3, "a": 1}},
			want: `<i>1</i><i>2</i><i>3</i>`,
		},
		{
			name: "nil collection",
			text: `<i data-each="v: m">x</i>done`,
			vm:   map[string]any{"m": nil},
			want: `done`,
		},
		{
			name: "values are escaped",
			text: `<p data-replace="v"></p>`,
			vm:   map[string]any{"v": `<script>alert("x")</script>`},
			want: `<p>&lt;script&gt;alert(&#34;x&#34;)&lt;/script&gt;</p>`,
		},
		{
			name: "display of non-string values",
			text: `<i data-replace="n"></i><i data-replace="f"></i><i data-replace="b"></i><i data-replace="z"></i>`,
			vm:   map[string]any{"n": 42, "f": 1.5, "b": true, "z": nil},
			want: `<i>42</i><i>1.5</i><i>true</i><i></i>`,
		},
		{
			name: "falsy values",
			text: `<i data-if="e">e</i><i data-if="z">z</i><i data-if="s">s</i><i data-if="l">l</i><i data-if="p">p</i>`,
			vm:   map[string]any{"e": "", "z": 0, "s": []string{}, "l": nil, "p": (*row)(nil)},
			want: ``,
		},
		{
			name: "falsy sized numbers",
			text: `<i data-if="a">a</i><i data-if="b">b</i><i data-if="c">c</i><i data-if="d">d</i><i data-if="stock.count">n</i>`,
			vm: map[string]any{
				"a": int64(0), "b": uint(0), "c": int32(0), "d": float32(0),
				"stock": struct{ Count int64 }{},
			},
			want: ``,
		},
		{
			name: "truthy sized numbers",
			text: `<i data-if="a">a</i><i data-if="b">b</i><i data-if="stock.count">n</i>`,
			vm: map[string]any{
				"a": int64(-2), "b": uint8(1),
				"stock": struct{ Count int64 }{Count: 5},
			},
			want: `<i>a</i><i>b</i><i>n</i>`,
		},
		{
			name: "truthy values",
			text: `<i data-if="e">e</i><i data-if="z">z</i><i data-if="s">s</i><i data-if="p">p</i>`,
			vm:   map[string]any{"e": "x", "z": -1, "s": []string{""}, "p": &row{}},
			want: `<i>e</i><i>z</i><i>s</i><i>p</i>`,
		},
		{
			name: "snake case names",
			text: `<p data-replace="user.first_name"></p>`,
			vm:   map[string]any{"user": struct{ FirstName string }{"Ada"}},
			want: `<p>Ada</p>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := testExecuteCase(tt.text, tt.vm, nil, tt.want); err != nil {
				t.Error(err)
			}
		})
	}
}

func TestCompileOptions(t *testing.T) {
	t.Run("skip tags", func(t *testing.T) {
		opts := &CompileOptions{SkipTags: []string{"html", "BODY"}}
		err := testExecuteCase(`<html><body><p data-replace="name"></p></body></html>`, testVM, opts, `<p>World</p>`)
		require.NoError(t, err)
	})

	t.Run("strip comments", func(t *testing.T) {
		opts := &CompileOptions{StripComments: true}
		err := testExecuteCase(`<p><!-- hidden -->x</p>`, testVM, opts, `<p>x</p>`)
		require.NoError(t, err)
	})

	t.Run("known tags", func(t *testing.T) {
		_, err := Compile(`<widget></widget>`, nil)
		require.Error(t, err)

		opts := &CompileOptions{KnownTags: []string{"widget"}}
		err = testExecuteCase(`<widget></widget>`, testVM, opts, `<widget></widget>`)
		require.NoError(t, err)
	})

	t.Run("debug trace", func(t *testing.T) {
		var buf bytes.Buffer
		opts := &CompileOptions{
			Debug:  true,
			Logger: slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})),
		}
		_, err := Compile(`<li data-each="item: items"></li>`, opts)
		require.NoError(t, err)
		require.Contains(t, buf.String(), "compiled template")
		require.Contains(t, buf.String(), "each item : items")
	})
}

func TestCompileErrors(t *testing.T) {
	t.Run("mismatched tags", func(t *testing.T) {
		_, err := Compile(`<h1 class="foo">Hello <strong>World</h1>`, nil)

		var pe *ParseError
		require.ErrorAs(t, err, &pe)
		require.Equal(t, "/h1/strong", pe.Path)
		require.Equal(t, Span{Offset: 35, Line: 1, Column: 36, Length: 5}, pe.Span)
		require.Equal(t, "1:36: /h1/strong: opening and ending tag mismatch: strong and h1", err.Error())
		require.Equal(t, `<h1 class="foo"><strong></strong></h1>`, pe.HTMLContext())
	})

	t.Run("invalid tag", func(t *testing.T) {
		_, err := Compile("<p>\n  <idontexist></idontexist>\n</p>", nil)

		var ve *ValidationError
		require.ErrorAs(t, err, &ve)
		require.Equal(t, "idontexist", ve.Tag)
		require.Equal(t, 2, ve.Span.Line)
		require.Equal(t, 3, ve.Span.Column)
		require.Contains(t, err.Error(), "tag idontexist invalid")
	})

	t.Run("invalid tag inside ignored content", func(t *testing.T) {
		_, err := Compile(`<div data-ignore><idontexist></idontexist></div>`, nil)
		var ve *ValidationError
		require.ErrorAs(t, err, &ve)
	})

	tests := []struct {
		name    string
		text    string
		wantErr string
	}{
		{
			name:    "unclosed element",
			text:    `<div><p>x</p>`,
			wantErr: "unclosed element <div>",
		},
		{
			name:    "unexpected ending tag",
			text:    `x</div>`,
			wantErr: "unexpected ending tag div",
		},
		{
			name:    "expression with an operator",
			text:    `<p data-replace="a + b"></p>`,
			wantErr: "unsupported expression",
		},
		{
			name:    "expression with a call",
			text:    `<p data-if="len(items)"></p>`,
			wantErr: "unsupported expression",
		},
		{
			name:    "each without a colon",
			text:    `<li data-each="items"></li>`,
			wantErr: "missing ':'",
		},
		{
			name:    "each with an invalid loop variable",
			text:    `<li data-each="a.b: items"></li>`,
			wantErr: "invalid loop variable",
		},
		{
			name:    "empty replace",
			text:    `<p data-replace=""></p>`,
			wantErr: "empty expression",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.text, nil)
			var pe *ParseError
			require.ErrorAs(t, err, &pe)
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

var errNoStock = errors.New("out of stock")

type failingVM struct{}

func (failingVM) Stock() (int, error) { return 0, errNoStock }

func TestExecuteErrors(t *testing.T) {
	t.Run("undefined name", func(t *testing.T) {
		tmpl, err := Compile(`<p data-replace="missing"></p>`, nil)
		require.NoError(t, err)

		_, err = tmpl.Execute(testVM)
		var re *ResolutionError
		require.ErrorAs(t, err, &re)
		require.Equal(t, "missing", re.Name)
	})

	t.Run("undefined member", func(t *testing.T) {
		tmpl, err := Compile(`<p data-if="name.length"></p>`, nil)
		require.NoError(t, err)

		_, err = tmpl.Execute(testVM)
		var re *ResolutionError
		require.ErrorAs(t, err, &re)
		require.Equal(t, "length", re.Name)
		require.Equal(t, "name.length", re.Expr)
	})

	t.Run("not iterable", func(t *testing.T) {
		tmpl, err := Compile(`<li data-each="c: name"></li>`, nil)
		require.NoError(t, err)

		_, err = tmpl.Execute(testVM)
		require.ErrorIs(t, err, ErrNotIterable)
	})

	t.Run("accessor error", func(t *testing.T) {
		tmpl, err := Compile(`<p data-replace="stock"></p>`, nil)
		require.NoError(t, err)

		_, err = tmpl.Execute(failingVM{})
		require.ErrorIs(t, err, errNoStock)
	})
}

func TestTemplateReuse(t *testing.T) {
	tmpl, err := Compile(`<ul><li data-each="item: items" data-replace="item"></li></ul><p data-replace="name"></p>`, nil)
	require.NoError(t, err)

	first, err := tmpl.Execute(testVM)
	require.NoError(t, err)
	second, err := tmpl.Execute(testVM)
	require.NoError(t, err)
	require.Equal(t, first, second)

	other, err := tmpl.Execute(viewModel{Name: "Moon"})
	require.NoError(t, err)
	require.Equal(t, `<ul></ul><p>Moon</p>`, other)

	var buf bytes.Buffer
	require.NoError(t, tmpl.Render(&buf, testVM))
	require.Equal(t, first, buf.String())
}

func TestTemplateConcurrentExecute(t *testing.T) {
	tmpl, err := Compile(`<li data-each="item: items" data-replace="item"></li>`, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			items := []string{fmt.Sprint(i), fmt.Sprint(i + 1)}
			got, err := tmpl.Execute(viewModel{Items: items})
			if err != nil {
				errs <- err
				return
			}
			want := "<li>" + strings.Join(items, "</li><li>") + "</li>"
			if got != want {
				errs <- fmt.Errorf("got %q, want %q", got, want)
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}
