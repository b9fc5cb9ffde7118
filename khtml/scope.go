package khtml

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/fatih/camelcase"
)

// Accessor is an optional interface for view models that resolve names themselves instead of
// relying on reflection over fields and methods.
type Accessor interface {
	// Lookup returns the value bound to name and whether it exists.
	Lookup(name string) (any, bool)
}

// frame holds local bindings introduced by a loop iteration or a component invocation.
type frame map[string]any

// scope is the scope chain of one execution: binding frames, innermost last, on top of the
// view model. A scope belongs to a single Execute call and is never shared.
type scope struct {
	vm     any
	frames []frame
}

func newScope(vm any, vars frame) *scope {
	s := &scope{vm: vm}
	if vars != nil {
		s.frames = append(s.frames, vars)
	}
	return s
}

func (s *scope) push(f frame) {
	s.frames = append(s.frames, f)
}

func (s *scope) pop() {
	s.frames = s.frames[:len(s.frames)-1]
}

// lookup resolves name through the frames, innermost first, then on the view model.
func (s *scope) lookup(name string) (any, bool, error) {
	for i := len(s.frames) - 1; i >= 0; i-- {
		if v, ok := s.frames[i][name]; ok {
			return v, true, nil
		}
	}
	return member(s.vm, name)
}

// member resolves one name on v. The lookup order is: Accessor, string-keyed map entry,
// zero-argument method, struct field, slice index. Go names match either exactly or by their
// snake_case form, so `first_name` finds a FirstName field.
func member(v any, name string) (any, bool, error) {
	if v == nil {
		return nil, false, nil
	}
	if a, ok := v.(Accessor); ok {
		res, ok := a.Lookup(name)
		if !ok {
			return nil, false, nil
		}
		return res, true, nil
	}

	rv := reflect.ValueOf(v)

	switch rv.Kind() {
	case reflect.Map:
		return mapEntry(rv, name)
	case reflect.Pointer:
		if rv.IsNil() {
			return nil, false, nil
		}
	}

	if m, ok := accessorMethod(rv, name); ok {
		return callAccessor(m, name)
	}

	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, false, nil
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Map:
		return mapEntry(rv, name)
	case reflect.Struct:
		if f, ok := structField(rv, name); ok {
			return f.Interface(), true, nil
		}
	case reflect.Slice, reflect.Array:
		if i, err := strconv.Atoi(name); err == nil {
			res, ok := index(rv.Interface(), i)
			return res, ok, nil
		}
	}
	return nil, false, nil
}

// index returns the i-th element of a slice or array.
func index(v any, i int) (any, bool) {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if i < 0 || i >= rv.Len() {
			return nil, false
		}
		return rv.Index(i).Interface(), true
	default:
		return nil, false
	}
}

func mapEntry(rv reflect.Value, name string) (any, bool, error) {
	if rv.Type().Key().Kind() != reflect.String || rv.IsNil() {
		return nil, false, nil
	}
	e := rv.MapIndex(reflect.ValueOf(name).Convert(rv.Type().Key()))
	if !e.IsValid() {
		return nil, false, nil
	}
	return e.Interface(), true, nil
}

// accessorMethod finds an exported method without arguments that returns a value, or a value
// and an error. Methods with pointer receivers are found on addressable copies of struct values.
func accessorMethod(rv reflect.Value, name string) (reflect.Value, bool) {
	if rv.Kind() != reflect.Pointer && rv.Kind() != reflect.Interface && !rv.CanAddr() {
		p := reflect.New(rv.Type())
		p.Elem().Set(rv)
		rv = p
	}

	t := rv.Type()
	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i)
		if !m.IsExported() || !matchName(m.Name, name) {
			continue
		}
		mt := m.Type // includes the receiver
		if mt.NumIn() != 1 || mt.IsVariadic() {
			continue
		}
		switch mt.NumOut() {
		case 1:
		case 2:
			if !mt.Out(1).Implements(errorType) {
				continue
			}
		default:
			continue
		}
		return rv.Method(i), true
	}
	return reflect.Value{}, false
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

func callAccessor(m reflect.Value, name string) (any, bool, error) {
	out := m.Call(nil)
	if len(out) == 2 && !out[1].IsNil() {
		return nil, false, fmt.Errorf("call %s: %w", name, out[1].Interface().(error))
	}
	return out[0].Interface(), true, nil
}

// structField finds an exported field by its `khala` tag, or by its name.
func structField(rv reflect.Value, name string) (reflect.Value, bool) {
	for _, f := range reflect.VisibleFields(rv.Type()) {
		if !f.IsExported() || f.Anonymous {
			continue
		}
		tag := f.Tag.Get("khala")
		if tag == "-" {
			continue
		}
		if (tag != "" && tag == name) || (tag == "" && matchName(f.Name, name)) {
			fv, err := rv.FieldByIndexErr(f.Index)
			if err != nil {
				return reflect.Value{}, false // nil embedded pointer
			}
			return fv, true
		}
	}
	return reflect.Value{}, false
}

// matchName compares a Go identifier with a template name.
func matchName(goName, name string) bool {
	return goName == name || toSnakeCase(goName) == toSnakeCase(name)
}

// isTruthy returns true if the value is considered truthy for conditional rendering. Numbers of
// any width and named types are compared by their kind.
func isTruthy(res any) bool {
	switch v := res.(type) {
	case bool:
		return v
	case string:
		return v != ""
	case nil:
		return false
	default:
		rv := reflect.ValueOf(res)
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return rv.Int() != 0
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
			return rv.Uint() != 0
		case reflect.Float32, reflect.Float64:
			return rv.Float() != 0
		case reflect.Bool:
			return rv.Bool()
		case reflect.String, reflect.Slice, reflect.Map:
			return rv.Len() > 0
		case reflect.Pointer, reflect.Interface, reflect.Func, reflect.Chan:
			return !rv.IsNil()
		}
		return true
	}
}

// iterate returns the elements of a data-each collection. Map values are returned in the
// order of their sorted keys.
func iterate(v any) ([]any, error) {
	if v == nil {
		return nil, nil
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		items := make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		return items, nil
	case reflect.Map:
		keys := rv.MapKeys()
		sort.Slice(keys, func(i, j int) bool {
			return fmt.Sprint(keys[i].Interface()) < fmt.Sprint(keys[j].Interface())
		})
		items := make([]any, len(keys))
		for i, k := range keys {
			items[i] = rv.MapIndex(k).Interface()
		}
		return items, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrNotIterable, v)
	}
}

// display converts a resolved value to the text written in place of an expression.
func display(v any) string {
	if v == nil || isTypedNil(v) {
		return ""
	}
	return fmt.Sprint(v)
}

func isTypedNil(v any) bool {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Func, reflect.Pointer, reflect.Interface, reflect.Chan:
		return rv.IsNil()
	default:
		return false
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func toSnakeCase(s string) string {
	if s == "_" {
		return s
	}

	// Convert from kebab-case to snake_case
	s = strings.ReplaceAll(s, "-", "_")

	// Split by underscores to preserve them in the output
	underscoreBlocks := strings.Split(s, "_")
	processedBlocks := make([]string, 0, len(underscoreBlocks))

	for _, block := range underscoreBlocks {
		if block == "" {
			processedBlocks = append(processedBlocks, "")
			continue
		}

		words := camelcase.Split(block)
		elems := make([]string, 0, len(words))

		for _, w := range words {
			if w == "" {
				continue
			}
			if isDigits(w) && len(elems) > 0 {
				// digits stick to the previous word: Item2 -> item2
				elems[len(elems)-1] += w
			} else {
				elems = append(elems, strings.ToLower(w))
			}
		}
		processedBlocks = append(processedBlocks, strings.Join(elems, "_"))
	}

	return strings.Join(processedBlocks, "_")
}
