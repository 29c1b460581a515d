package render

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/Masterminds/sprig/v3"
	"github.com/cbroglie/mustache"

	"github.com/telekom/kintone-mail-relay/pkg/kintone"
)

// Lambda is the section callback form understood by the mustache engine.
type Lambda = func(text string, render mustache.RenderFunc) (string, error)

// Error reports a template field that could not be parsed or executed.
type Error struct {
	Field string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("render template field %q: %v", e.Field, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Renderer fills template records from notification views. It is safe for
// concurrent use; every call parses its own template.
type Renderer struct {
	lambdas map[string]Lambda
}

// NewRenderer creates a renderer whose helper sections are the single-string
// Sprig functions, e.g. {{#upper}}{{name}}{{/upper}}. Functions that read the
// process environment are left out because templates are stored remotely.
func NewRenderer() *Renderer {
	funcs := sprig.TxtFuncMap()
	delete(funcs, "env")
	delete(funcs, "expandenv")

	lambdas := make(map[string]Lambda)
	for name, fn := range funcs {
		f, ok := fn.(func(string) string)
		if !ok {
			continue
		}
		lambdas[name] = func(text string, render mustache.RenderFunc) (string, error) {
			s, err := render(text)
			if err != nil {
				return "", err
			}
			return f(s), nil
		}
	}
	return &Renderer{lambdas: lambdas}
}

var defaultRenderer = NewRenderer()

// FillTemplate renders every string-valued field of tpl against the view built
// from n.Record. Non-string fields are left out of the result.
func FillTemplate(tpl kintone.Record, n kintone.Notification) (map[string]string, error) {
	return defaultRenderer.Fill(tpl, View(n))
}

// View maps each field code of the notification record to its value.
func View(n kintone.Notification) map[string]any {
	return n.Record.Values()
}

// Fill renders tpl against view and returns a new map. Fields are processed in
// field code order so the first failing field is reported deterministically.
func (r *Renderer) Fill(tpl kintone.Record, view map[string]any) (map[string]string, error) {
	codes := make([]string, 0, len(tpl))
	for code := range tpl {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	ctx := r.context(view)
	out := make(map[string]string, len(tpl))
	for _, code := range codes {
		text, ok := tpl[code].Value.(string)
		if !ok {
			continue
		}
		rendered, err := render(code, text, ctx)
		if err != nil {
			return nil, err
		}
		out[code] = rendered
	}
	return out, nil
}

// RenderString renders a single template text. Missing and null values render
// as empty strings and nothing is HTML-escaped.
func (r *Renderer) RenderString(name, text string, view map[string]any) (string, error) {
	return render(name, text, r.context(view))
}

func render(name, text string, ctx map[string]any) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}
	tmpl, err := mustache.ParseStringRaw(text, true)
	if err != nil {
		return "", &Error{Field: name, Err: err}
	}
	out, err := tmpl.Render(ctx)
	if err != nil {
		return "", &Error{Field: name, Err: err}
	}
	return out, nil
}

// context merges the helper sections with the view. Record fields win over a
// helper of the same name.
func (r *Renderer) context(view map[string]any) map[string]any {
	ctx := make(map[string]any, len(r.lambdas)+len(view))
	for name, fn := range r.lambdas {
		ctx[name] = fn
	}
	for k, v := range view {
		ctx[k] = wrap(v)
	}
	return ctx
}

// number, list, object and null carry kintone values through the mustache
// engine. Sections still see the underlying kind; variables print numbers
// without exponent, lists comma-joined and objects as JSON.
type (
	number float64
	list   []any
	object map[string]any
	null   string
)

func (n number) String() string { return strconv.FormatFloat(float64(n), 'f', -1, 64) }

func (l list) String() string {
	parts := make([]string, len(l))
	for i, item := range l {
		parts[i] = fmt.Sprint(item)
	}
	return strings.Join(parts, ",")
}

func (o object) String() string {
	b, err := json.Marshal(map[string]any(o))
	if err != nil {
		return fmt.Sprint(map[string]any(o))
	}
	return string(b)
}

func (null) MarshalJSON() ([]byte, error) { return []byte("null"), nil }

func wrap(v any) any {
	switch val := v.(type) {
	case nil:
		return null("")
	case float64:
		return number(val)
	case []any:
		out := make(list, len(val))
		for i, item := range val {
			out[i] = wrap(item)
		}
		return out
	case []string:
		out := make(list, len(val))
		for i, item := range val {
			out[i] = item
		}
		return out
	case map[string]any:
		out := make(object, len(val))
		for k, item := range val {
			out[k] = wrap(item)
		}
		return out
	default:
		return v
	}
}
