// Package canonical implements the deterministic, RFC8785-flavored
// serialization of I-JSON values that every content-addressed record in
// engram is built on (spec §4.A), plus the SHA-256 id derivation built on
// top of it (spec §4.B).
//
// No repo in the retrieved pack implements JSON Canonicalization Scheme
// directly; this is hand-rolled because stdlib encoding/json does not
// guarantee canonical key ordering or canonical number formatting, and
// by default HTML-escapes '<', '>', '&' inside strings, which would break
// byte-for-byte determinism across semantically identical inputs.
package canonical

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// Omit is a sentinel value for map entries whose key must be omitted from
// the canonical form, distinguishing "absent" from an explicit JSON null
// (spec §4.A: "keys whose value is absent are omitted").
var Omit = struct{ omit bool }{omit: true}

// ErrInvalidInput is wrapped by every canonicalization failure.
var ErrInvalidInput = errors.New("canonical: invalid input")

func invalid(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, reason)
}

// Canonicalize renders v as its canonical byte string. v must be built only
// from nil, bool, a numeric type, string, []any (or a slice of any
// I-JSON-compatible element type), and map[string]any. Any other shape --
// including structs, time.Time, []byte, and pointers -- is rejected as a
// non-plain-mapping input.
func Canonicalize(v any) ([]byte, error) {
	var sb strings.Builder
	if err := writeValue(&sb, v); err != nil {
		return nil, err
	}
	return []byte(sb.String()), nil
}

func writeValue(sb *strings.Builder, v any) error {
	if v == nil {
		sb.WriteString("null")
		return nil
	}

	switch t := v.(type) {
	case bool:
		if t {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
		return nil
	case string:
		writeString(sb, t)
		return nil
	case map[string]any:
		return writeMap(sb, t)
	case []any:
		return writeSlice(sb, t)
	}

	if isNumeric(v) {
		s, err := formatNumber(v)
		if err != nil {
			return err
		}
		sb.WriteString(s)
		return nil
	}

	// Slices of a concrete element type (e.g. []string) are accepted as
	// ordered sequences; anything else (struct, map[other-key-type]...,
	// pointer, time.Time, []byte) is a non-plain-mapping input.
	if _, ok := v.([]byte); ok {
		return invalid("byte buffers are not plain values")
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		elems := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			elems[i] = rv.Index(i).Interface()
		}
		return writeSlice(sb, elems)
	}

	return invalid(fmt.Sprintf("unsupported type %T", v))
}

func isNumeric(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	}
	return false
}

func formatNumber(v any) (string, error) {
	switch n := v.(type) {
	case int:
		return strconv.FormatInt(int64(n), 10), nil
	case int8:
		return strconv.FormatInt(int64(n), 10), nil
	case int16:
		return strconv.FormatInt(int64(n), 10), nil
	case int32:
		return strconv.FormatInt(int64(n), 10), nil
	case int64:
		return strconv.FormatInt(n, 10), nil
	case uint:
		return strconv.FormatUint(uint64(n), 10), nil
	case uint8:
		return strconv.FormatUint(uint64(n), 10), nil
	case uint16:
		return strconv.FormatUint(uint64(n), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(n), 10), nil
	case uint64:
		return strconv.FormatUint(n, 10), nil
	case float32:
		return formatFloat(float64(n))
	case float64:
		return formatFloat(n)
	}
	return "", invalid(fmt.Sprintf("unsupported numeric type %T", v))
}

// integerSafeLimit is the largest magnitude at which float64 still
// represents every integer exactly (2^53).
const integerSafeLimit = 1 << 53

func formatFloat(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", invalid("non-finite number")
	}
	if f == 0 {
		// Normalizes -0 to 0 per spec §4.A.
		return "0", nil
	}
	if f == math.Trunc(f) && math.Abs(f) < integerSafeLimit {
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	}
	return strconv.FormatFloat(f, 'g', -1, 64), nil
}

func writeString(sb *strings.Builder, s string) {
	sb.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\b':
			sb.WriteString(`\b`)
		case '\f':
			sb.WriteString(`\f`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(sb, `\u%04x`, r)
			} else {
				sb.WriteRune(r)
			}
		}
	}
	sb.WriteByte('"')
}

func writeSlice(sb *strings.Builder, elems []any) error {
	sb.WriteByte('[')
	for i, e := range elems {
		if i > 0 {
			sb.WriteByte(',')
		}
		if err := writeValue(sb, e); err != nil {
			return err
		}
	}
	sb.WriteByte(']')
	return nil
}

func writeMap(sb *strings.Builder, m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k, v := range m {
		if v == Omit {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys) // byte-wise ordering of valid UTF-8 matches code-point order

	sb.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		writeString(sb, k)
		sb.WriteByte(':')
		if err := writeValue(sb, m[k]); err != nil {
			return err
		}
	}
	sb.WriteByte('}')
	return nil
}
