package service

import (
	"bytes"
	"cmp"
	"math"
	"slices"
	"strconv"
	"strings"
)

// orderedObject is a JSON object whose keys serialize the way JavaScript
// orders own properties: array-index keys ascending, then the rest in
// insertion order. Setting an existing key keeps its position.
type orderedObject struct {
	keys []string
	vals map[string]any
}

func newOrderedObject() *orderedObject {
	return &orderedObject{vals: make(map[string]any)}
}

func (o *orderedObject) set(k string, v any) {
	if _, ok := o.vals[k]; !ok {
		o.keys = append(o.keys, k)
	}
	o.vals[k] = v
}

func (o *orderedObject) orderedKeys() []string {
	var idx, rest []string
	for _, k := range o.keys {
		if _, ok := arrayIndex(k); ok {
			idx = append(idx, k)
		} else {
			rest = append(rest, k)
		}
	}
	slices.SortFunc(idx, func(a, b string) int {
		na, _ := arrayIndex(a)
		nb, _ := arrayIndex(b)
		return cmp.Compare(na, nb)
	})
	return append(idx, rest...)
}

// arrayIndex reports whether k is a canonical array index (0 to 2^32-2).
func arrayIndex(k string) (uint64, bool) {
	n, err := strconv.ParseUint(k, 10, 32)
	if err != nil || n == math.MaxUint32 || strconv.FormatUint(n, 10) != k {
		return 0, false
	}
	return n, true
}

type jsonWriter struct {
	buf bytes.Buffer
}

func (w *jsonWriter) bytes() []byte { return w.buf.Bytes() }

// writeString quotes s with the escapes JSON.stringify uses.
func (w *jsonWriter) writeString(s string) {
	const hex = "0123456789abcdef"
	w.buf.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			w.buf.WriteString(`\"`)
		case '\\':
			w.buf.WriteString(`\\`)
		case '\b':
			w.buf.WriteString(`\b`)
		case '\f':
			w.buf.WriteString(`\f`)
		case '\n':
			w.buf.WriteString(`\n`)
		case '\r':
			w.buf.WriteString(`\r`)
		case '\t':
			w.buf.WriteString(`\t`)
		default:
			if c < 0x20 {
				w.buf.WriteString(`\u00`)
				w.buf.WriteByte(hex[c>>4])
				w.buf.WriteByte(hex[c&0xf])
				continue
			}
			w.buf.WriteByte(c)
		}
	}
	w.buf.WriteByte('"')
}

// writeNumber formats a JSON number literal as a JavaScript double would print.
func (w *jsonWriter) writeNumber(raw string) {
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil && (math.IsInf(f, 0) || math.IsNaN(f)) {
		w.buf.WriteString("null")
		return
	}
	w.buf.WriteString(formatNumber(f))
}

func formatNumber(f float64) string {
	if f == 0 {
		return "0"
	}
	if abs := math.Abs(f); abs >= 1e21 || abs < 1e-6 {
		s := strconv.FormatFloat(f, 'e', -1, 64)
		mant, exp, _ := strings.Cut(s, "e")
		return mant + "e" + exp[:1] + strings.TrimLeft(exp[1:], "0")
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
