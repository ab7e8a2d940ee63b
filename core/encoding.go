package core

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// formatNumber renders a float with Python's repr rules, which is what ids
// and hashes of stored ledgers were computed with: shortest round-trip
// digits, a trailing ".0" on integral values and exponent form outside
// 1e-4 <= |v| < 1e16 ("1e+21", "1e-07").
func formatNumber(v float64) string {
	switch {
	case math.IsNaN(v) || math.IsInf(v, 0):
		return strconv.FormatFloat(v, 'g', -1, 64)
	case v == 0:
		if math.Signbit(v) {
			return "-0.0"
		}
		return "0.0"
	}
	sci := strconv.FormatFloat(v, 'e', -1, 64)
	exp, _ := strconv.Atoi(sci[strings.IndexByte(sci, 'e')+1:])
	if exp < -4 || exp >= 16 {
		return sci
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// numberText normalizes a JSON number literal: integer literals stay as
// written, anything with a fraction or exponent is a float and gets
// formatNumber.
func numberText(n json.Number) string {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		return s
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return s
	}
	return formatNumber(f)
}

// literalFor returns the stored literal of v when it still denotes v, and
// formatNumber(v) when there is none or the value was edited since.
func literalFor(v float64, literal string) string {
	if literal != "" {
		if f, err := strconv.ParseFloat(literal, 64); err == nil && f == v {
			return numberText(json.Number(literal))
		}
	}
	return formatNumber(v)
}

// canonicalJSON encodes v with sorted object keys, ", " and ": " separators and
// ASCII-only strings. json.Number values keep their literal text.
func canonicalJSON(v interface{}) (string, error) {
	var sb strings.Builder
	if err := writeCanonical(&sb, v); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func writeCanonical(sb *strings.Builder, v interface{}) error {
	switch val := v.(type) {
	case nil:
		sb.WriteString("null")
	case bool:
		if val {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
	case string:
		writeQuoted(sb, val)
	case json.Number:
		sb.WriteString(numberText(val))
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return fmt.Errorf("unsupported number %v", val)
		}
		sb.WriteString(formatNumber(val))
	case float32:
		return writeCanonical(sb, float64(val))
	case int:
		sb.WriteString(strconv.Itoa(val))
	case int64:
		sb.WriteString(strconv.FormatInt(val, 10))
	case uint64:
		sb.WriteString(strconv.FormatUint(val, 10))
	case []interface{}:
		sb.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				sb.WriteString(", ")
			}
			if err := writeCanonical(sb, item); err != nil {
				return err
			}
		}
		sb.WriteByte(']')
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			writeQuoted(sb, k)
			sb.WriteString(": ")
			if err := writeCanonical(sb, val[k]); err != nil {
				return err
			}
		}
		sb.WriteByte('}')
	default:
		generic, err := toGeneric(v)
		if err != nil {
			return err
		}
		return writeCanonical(sb, generic)
	}
	return nil
}

// toGeneric round-trips an arbitrary Go value through encoding/json so that
// structs, typed maps and slices reduce to the generic JSON shapes.
func toGeneric(v interface{}) (interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("payload of type %T is not serializable: %w", v, err)
	}
	return decodeGeneric(raw)
}

func decodeGeneric(raw []byte) (interface{}, error) {
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	var out interface{}
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func writeQuoted(sb *strings.Builder, s string) {
	sb.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		case '\b':
			sb.WriteString(`\b`)
		case '\f':
			sb.WriteString(`\f`)
		default:
			switch {
			case r < 0x20 || r == utf8.RuneError:
				fmt.Fprintf(sb, `\u%04x`, r)
			case r < 0x7f:
				sb.WriteRune(r)
			case r <= 0xffff:
				fmt.Fprintf(sb, `\u%04x`, r)
			default:
				r -= 0x10000
				fmt.Fprintf(sb, `\u%04x\u%04x`, 0xd800+(r>>10), 0xdc00+(r&0x3ff))
			}
		}
	}
	sb.WriteByte('"')
}

// legacyString renders a legacy payload for hashing: containers as canonical
// JSON, scalars as their plain text form.
func legacyString(v interface{}) (string, error) {
	switch val := v.(type) {
	case nil:
		return "None", nil
	case string:
		return val, nil
	case bool:
		if val {
			return "True", nil
		}
		return "False", nil
	case json.Number:
		return numberText(val), nil
	case float64:
		return formatNumber(val), nil
	case int:
		return strconv.Itoa(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case []interface{}, map[string]interface{}:
		return canonicalJSON(val)
	}

	switch reflect.ValueOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct, reflect.Ptr:
		return canonicalJSON(v)
	default:
		return fmt.Sprint(v), nil
	}
}

// exportLegacy rewrites the numbers of a legacy value as json.Number literals
// in the same text the block hash used, so an exported document re-hashes
// to the stored hash after import.
func exportLegacy(v interface{}) interface{} {
	switch val := v.(type) {
	case nil, string, bool, int, int64, uint64:
		return val
	case json.Number:
		return json.Number(numberText(val))
	case float64:
		return json.Number(formatNumber(val))
	case float32:
		return json.Number(formatNumber(float64(val)))
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = exportLegacy(item)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = exportLegacy(item)
		}
		return out
	}
	generic, err := toGeneric(v)
	if err != nil {
		return v
	}
	return exportLegacy(generic)
}
