// Package normalizer converts provider-specific webhook payloads into a
// canonical booking event. Payloads are parsed into a Document, a tagged
// union over JSON values, and read through per-provider field mappings made
// of pre-split dotted paths.
package normalizer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// ErrMalformedPayload is returned when the body is not a JSON object.
var ErrMalformedPayload = errors.New("malformed payload")

// Kind identifies the variant held by a Document.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "null"
	}
}

// Document is an immutable JSON value. The zero value is null.
type Document struct {
	kind Kind
	b    bool
	num  json.Number
	str  string
	arr  []Document
	obj  map[string]Document
}

// Parse decodes raw into a Document. The top level must be a single JSON
// object; anything else wraps ErrMalformedPayload.
func Parse(raw []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return Document{}, fmt.Errorf("%w: trailing data after top-level value", ErrMalformedPayload)
	}
	doc := fromAny(v)
	if doc.kind != KindObject {
		return Document{}, fmt.Errorf("%w: top-level value is %s, want object", ErrMalformedPayload, doc.kind)
	}
	return doc, nil
}

func fromAny(v any) Document {
	switch t := v.(type) {
	case nil:
		return Document{}
	case bool:
		return Document{kind: KindBool, b: t}
	case json.Number:
		return Document{kind: KindNumber, num: t}
	case string:
		return Document{kind: KindString, str: t}
	case []any:
		arr := make([]Document, len(t))
		for i, e := range t {
			arr[i] = fromAny(e)
		}
		return Document{kind: KindArray, arr: arr}
	case map[string]any:
		obj := make(map[string]Document, len(t))
		for k, e := range t {
			obj[k] = fromAny(e)
		}
		return Document{kind: KindObject, obj: obj}
	}
	return Document{}
}

// Kind returns the variant held by d.
func (d Document) Kind() Kind { return d.kind }

// IsNull reports whether d is JSON null (or the zero Document).
func (d Document) IsNull() bool { return d.kind == KindNull }

// Field returns the member key of an object. Non-objects and missing keys
// yield false.
func (d Document) Field(key string) (Document, bool) {
	if d.kind != KindObject {
		return Document{}, false
	}
	v, ok := d.obj[key]
	return v, ok
}

// Lookup walks p key by key. A missing key, a non-object along the way or an
// explicit null at the end all yield false.
func (d Document) Lookup(p Path) (Document, bool) {
	if len(p) == 0 {
		return Document{}, false
	}
	cur := d
	for _, key := range p {
		next, ok := cur.Field(key)
		if !ok {
			return Document{}, false
		}
		cur = next
	}
	if cur.IsNull() {
		return Document{}, false
	}
	return cur, true
}

// Truthy mirrors JSON-ish falsiness: null, false, 0, "" and empty
// containers are false.
func (d Document) Truthy() bool {
	switch d.kind {
	case KindBool:
		return d.b
	case KindNumber:
		f, err := d.num.Float64()
		return err != nil || f != 0
	case KindString:
		return d.str != ""
	case KindArray:
		return len(d.arr) > 0
	case KindObject:
		return len(d.obj) > 0
	}
	return false
}

// Text renders a string or number as text. Numbers keep their literal
// spelling. Other kinds yield false.
func (d Document) Text() (string, bool) {
	switch d.kind {
	case KindString:
		return d.str, true
	case KindNumber:
		return d.num.String(), true
	}
	return "", false
}

// Int coerces d to an integer on a best-effort basis. true is 1. Falsy
// values, containers, non-integer strings and out-of-range numbers yield
// false. Fractional numbers truncate toward zero.
func (d Document) Int() (int64, bool) {
	if !d.Truthy() {
		return 0, false
	}
	switch d.kind {
	case KindBool:
		return 1, true
	case KindNumber:
		if i, err := d.num.Int64(); err == nil {
			return i, true
		}
		f, err := d.num.Float64()
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		f = math.Trunc(f)
		if f < math.MinInt64 || f >= math.MaxInt64 {
			return 0, false
		}
		return int64(f), true
	case KindString:
		i, err := strconv.ParseInt(strings.TrimSpace(d.str), 10, 64)
		if err != nil {
			return 0, false
		}
		return i, true
	}
	return 0, false
}
