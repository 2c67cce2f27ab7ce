package table

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Row is a (field, rendered value) pair. It encodes as a two-element JSON array.
type Row [2]string

// Rows is the tabular form of one category verdict.
type Rows []Row

// NotAnalyzed is the table of a category that was not requested.
func NotAnalyzed() Rows { return Rows{{"N/A", "Not analyzed"}} }

// Blank is the table of every category when a request is rejected.
func Blank() Rows { return Rows{{"N/A", ""}} }

// Failure is the single-row table of a category whose classification failed.
func Failure(reason string) Rows { return Rows{{"Error", reason}} }

// Normalize renders every top-level field of a mapping, in order.
func Normalize(v Value) (Rows, error) {
	if v.Kind != KindMapping {
		return nil, fmt.Errorf("expected a JSON object, got %s", v.Kind)
	}
	rows := make(Rows, 0, len(v.Fields))
	for _, f := range v.Fields {
		rows = append(rows, Row{f.Key, Render(f.Value)})
	}
	return rows, nil
}

// Render flattens a value into a cell: mappings become "k: v" lines,
// sequences one line per element, scalars their string form.
func Render(v Value) string {
	switch v.Kind {
	case KindMapping:
		lines := make([]string, 0, len(v.Fields))
		for _, f := range v.Fields {
			lines = append(lines, f.Key+": "+inline(f.Value))
		}
		return strings.Join(lines, "\n")
	case KindSequence:
		lines := make([]string, 0, len(v.Items))
		for _, item := range v.Items {
			lines = append(lines, inline(item))
		}
		return strings.Join(lines, "\n")
	default:
		return scalarString(v.Scalar)
	}
}

// inline renders a value nested one level down. Nested containers use the
// bracketed repr form.
func inline(v Value) string {
	if v.Kind == KindScalar {
		return scalarString(v.Scalar)
	}
	return repr(v)
}

func repr(v Value) string {
	switch v.Kind {
	case KindMapping:
		parts := make([]string, 0, len(v.Fields))
		for _, f := range v.Fields {
			parts = append(parts, quote(f.Key)+": "+repr(f.Value))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case KindSequence:
		parts := make([]string, 0, len(v.Items))
		for _, item := range v.Items {
			parts = append(parts, repr(item))
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		if s, ok := v.Scalar.(string); ok {
			return quote(s)
		}
		return scalarString(v.Scalar)
	}
}

// quote prefers single quotes and switches to double quotes when s holds a
// single quote but no double quote.
func quote(s string) string {
	q := '\''
	if strings.ContainsRune(s, '\'') && !strings.ContainsRune(s, '"') {
		q = '"'
	}

	var b strings.Builder
	b.WriteRune(q)
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case q:
			b.WriteRune('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteRune(q)
	return b.String()
}

func scalarString(s any) string {
	switch t := s.(type) {
	case nil:
		return "None"
	case bool:
		if t {
			return "True"
		}
		return "False"
	case string:
		return t
	case json.Number:
		return numberString(t)
	case float64:
		return FormatFloat(t)
	case int:
		return strconv.Itoa(t)
	default:
		return fmt.Sprint(t)
	}
}

func numberString(n json.Number) string {
	lit := n.String()
	if !strings.ContainsAny(lit, ".eE") {
		return lit
	}
	f, err := n.Float64()
	if err != nil {
		return lit
	}
	return FormatFloat(f)
}

// FormatFloat prints the shortest representation that round-trips. Exponent
// form is used below 1e-4 and from 1e16; integral values keep a ".0" suffix.
func FormatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case f == 0:
		if math.Signbit(f) {
			return "-0.0"
		}
		return "0.0"
	}

	e := strconv.FormatFloat(f, 'e', -1, 64)
	exp, err := strconv.Atoi(e[strings.IndexByte(e, 'e')+1:])
	if err == nil && (exp < -4 || exp >= 16) {
		return e
	}

	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
