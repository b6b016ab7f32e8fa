package service

import (
	"errors"
	"fmt"
	"mime"
	"net/http"

	"github.com/tidwall/gjson"
	"golang.org/x/text/encoding/unicode"
)

// ErrMalformedBody is returned when the inbound body cannot be read as its declared content type.
var ErrMalformedBody = errors.New("malformed request body")

// emptyObject is sent when the inbound body is empty or of a type that is not decoded.
var emptyObject = []byte("{}")

// hasBody reports whether a request with the given method carries a body upstream.
func hasBody(method string) bool {
	return method != http.MethodGet && method != http.MethodHead
}

// encodeBody converts the inbound body into the JSON text sent upstream.
//
// application/json bodies must be an object or array and are re-emitted
// compact, with a repeated key keeping its last value. URL-encoded forms become
// a JSON object, with bracketed keys building nested objects and arrays. Empty
// bodies and any other content type become {}.
func encodeBody(contentType string, raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return emptyObject, nil
	}

	// A malformed parameter still yields the media type.
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil && !errors.Is(err, mime.ErrInvalidMediaParameter) {
		return emptyObject, nil
	}
	if mediaType != "application/json" && mediaType != "application/x-www-form-urlencoded" {
		return emptyObject, nil
	}

	// Strips a leading BOM and replaces invalid sequences with U+FFFD.
	text, err := unicode.UTF8BOM.NewDecoder().Bytes(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedBody, err)
	}

	if mediaType == "application/json" {
		return encodeJSON(text)
	}
	return encodeForm(string(text)), nil
}

func encodeJSON(raw []byte) ([]byte, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrMalformedBody)
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() && !doc.IsArray() {
		return nil, fmt.Errorf("%w: JSON body must be an object or array", ErrMalformedBody)
	}

	var w jsonWriter
	w.writeResult(doc)
	return w.bytes(), nil
}

// writeResult re-emits a parsed document compact. Object keys are written
// once, in first-seen position, with the last value given for them.
func (w *jsonWriter) writeResult(r gjson.Result) {
	switch {
	case r.IsObject():
		obj := newOrderedObject()
		r.ForEach(func(k, v gjson.Result) bool {
			obj.set(k.String(), v)
			return true
		})
		w.buf.WriteByte('{')
		for i, k := range obj.orderedKeys() {
			if i > 0 {
				w.buf.WriteByte(',')
			}
			w.writeString(k)
			w.buf.WriteByte(':')
			w.writeResult(obj.vals[k].(gjson.Result))
		}
		w.buf.WriteByte('}')
	case r.IsArray():
		w.buf.WriteByte('[')
		i := 0
		r.ForEach(func(_, v gjson.Result) bool {
			if i > 0 {
				w.buf.WriteByte(',')
			}
			w.writeResult(v)
			i++
			return true
		})
		w.buf.WriteByte(']')
	case r.Type == gjson.String:
		w.writeString(r.Str)
	case r.Type == gjson.Number:
		w.writeNumber(r.Raw)
	default:
		w.buf.WriteString(r.Raw)
	}
}
