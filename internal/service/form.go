package service

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// URL-encoded bodies are decoded with the extended rules web frameworks apply:
// a[b]=1 nests objects, c[]=x and c[0]=x build arrays, repeated keys collect
// into arrays, and a component that does not unescape is kept as written.
const (
	formMaxDepth   = 32
	formArrayLimit = 100
)

var formKeySegment = regexp.MustCompile(`\[[^\[\]]*\]`)

// formArray is a sparse array; nil entries are holes dropped on output.
type formArray struct {
	items []any
}

func (a *formArray) setIndex(i int, v any) {
	for len(a.items) <= i {
		a.items = append(a.items, nil)
	}
	a.items[i] = v
}

func (a *formArray) toObject() *orderedObject {
	o := newOrderedObject()
	for i, v := range a.items {
		if v != nil {
			o.set(strconv.Itoa(i), v)
		}
	}
	return o
}

func encodeForm(body string) []byte {
	pairs := strings.Split(body, "&")
	arrayLimit := max(formArrayLimit, len(pairs))

	flat := newOrderedObject()
	for _, part := range pairs {
		// The separator is the first "]=" when present, so values may contain "=".
		pos := strings.Index(part, "]=")
		if pos >= 0 {
			pos++
		} else {
			pos = strings.Index(part, "=")
		}

		var key string
		var val any = ""
		if pos < 0 {
			key = decodeFormComponent(part)
		} else {
			key = decodeFormComponent(part[:pos])
			val = decodeFormComponent(part[pos+1:])
		}

		if prev, ok := flat.vals[key]; ok {
			flat.vals[key] = concatForm(prev, val)
		} else {
			flat.set(key, val)
		}
	}

	var result any = newOrderedObject()
	for _, key := range flat.orderedKeys() {
		if key == "" {
			continue
		}
		result = mergeForm(result, nestFormValue(splitFormKey(key), flat.vals[key], arrayLimit))
	}

	var w jsonWriter
	w.writeForm(result)
	return w.bytes()
}

// decodeFormComponent turns "+" into a space and unescapes percent escapes.
// Input that does not unescape to valid UTF-8 is returned with only "+" replaced.
func decodeFormComponent(s string) string {
	s = strings.ReplaceAll(s, "+", " ")
	d, err := url.PathUnescape(s)
	if err != nil || !utf8.ValidString(d) {
		return s
	}
	return d
}

// splitFormKey splits "a[b][]" into ["a", "[b]", "[]"]. Segments past the
// depth limit are kept together as one literal key.
func splitFormKey(key string) []string {
	locs := formKeySegment.FindAllStringIndex(key, -1)

	parent := key
	if len(locs) > 0 {
		parent = key[:locs[0][0]]
	}

	var chain []string
	if parent != "" {
		chain = append(chain, parent)
	}
	for i, loc := range locs {
		if i == formMaxDepth {
			chain = append(chain, "["+key[loc[0]:]+"]")
			break
		}
		chain = append(chain, key[loc[0]:loc[1]])
	}
	return chain
}

// nestFormValue builds the value for one key chain, innermost segment first.
func nestFormValue(chain []string, val any, arrayLimit int) any {
	leaf := val
	for i := len(chain) - 1; i >= 0; i-- {
		root := chain[i]
		if root == "[]" {
			leaf = concatForm(leaf)
			continue
		}

		clean := root
		if len(root) >= 2 && root[0] == '[' && root[len(root)-1] == ']' {
			clean = root[1 : len(root)-1]
		}

		if n, err := strconv.Atoi(clean); err == nil && root != clean && strconv.Itoa(n) == clean && n >= 0 && n <= arrayLimit {
			arr := &formArray{}
			arr.setIndex(n, leaf)
			leaf = arr
			continue
		}

		obj := newOrderedObject()
		if clean != "__proto__" {
			obj.set(clean, leaf)
		}
		leaf = obj
	}
	return leaf
}

// concatForm flattens its arguments into one array, splicing in array arguments.
func concatForm(vals ...any) *formArray {
	out := &formArray{}
	for _, v := range vals {
		if a, ok := v.(*formArray); ok {
			out.items = append(out.items, a.items...)
		} else {
			out.items = append(out.items, v)
		}
	}
	return out
}

func isFormContainer(v any) bool {
	switch v.(type) {
	case *formArray, *orderedObject:
		return true
	}
	return false
}

// mergeForm merges source into target and returns the merged value.
func mergeForm(target, source any) any {
	if s, ok := source.(string); ok {
		if s == "" {
			return target
		}
		switch t := target.(type) {
		case *formArray:
			t.items = append(t.items, s)
			return t
		case *orderedObject:
			t.set(s, true)
			return t
		default:
			return &formArray{items: []any{target, s}}
		}
	}

	if !isFormContainer(target) {
		return concatForm(target, source)
	}

	if ta, ok := target.(*formArray); ok {
		sa, ok := source.(*formArray)
		if !ok {
			target = ta.toObject()
		} else {
			for i, item := range sa.items {
				if item == nil {
					continue
				}
				switch {
				case i >= len(ta.items) || ta.items[i] == nil:
					ta.setIndex(i, item)
				case isFormContainer(ta.items[i]) && isFormContainer(item):
					ta.items[i] = mergeForm(ta.items[i], item)
				default:
					ta.items = append(ta.items, item)
				}
			}
			return ta
		}
	}

	t := target.(*orderedObject)
	var src *orderedObject
	switch s := source.(type) {
	case *orderedObject:
		src = s
	case *formArray:
		src = s.toObject()
	default:
		return t
	}
	for _, k := range src.orderedKeys() {
		if prev, ok := t.vals[k]; ok {
			t.vals[k] = mergeForm(prev, src.vals[k])
		} else {
			t.set(k, src.vals[k])
		}
	}
	return t
}

func (w *jsonWriter) writeForm(v any) {
	switch v := v.(type) {
	case string:
		w.writeString(v)
	case bool:
		w.buf.WriteString(strconv.FormatBool(v))
	case *formArray:
		w.buf.WriteByte('[')
		n := 0
		for _, item := range v.items {
			if item == nil {
				continue
			}
			if n > 0 {
				w.buf.WriteByte(',')
			}
			w.writeForm(item)
			n++
		}
		w.buf.WriteByte(']')
	case *orderedObject:
		w.buf.WriteByte('{')
		for i, k := range v.orderedKeys() {
			if i > 0 {
				w.buf.WriteByte(',')
			}
			w.writeString(k)
			w.buf.WriteByte(':')
			w.writeForm(v.vals[k])
		}
		w.buf.WriteByte('}')
	}
}
