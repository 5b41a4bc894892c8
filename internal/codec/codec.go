// Package codec (de)serializes typed events as flat string-keyed maps for
// stream storage.
//
// Stream records are flat key -> string pairs. Integers are encoded decimal;
// big integers as decimal strings. Inside nested JSON values (arrays, maps)
// big integers are tagged as {"__type":"bigint","value":"..."} so readers can
// rehydrate them without precision loss through float64.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"

	"github.com/shopspring/decimal"
)

// FieldMap is one stream record's payload.
type FieldMap map[string]string

// Encode flattens a map of typed values into a FieldMap. Nested slices and
// maps are JSON-encoded with big integers tagged.
func Encode(values map[string]any) (FieldMap, error) {
	out := make(FieldMap, len(values))
	for k, v := range values {
		s, err := encodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("encode field %q: %w", k, err)
		}
		out[k] = s
	}
	return out, nil
}

func encodeValue(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case uint64:
		return strconv.FormatUint(t, 10), nil
	case *big.Int:
		if t == nil {
			return "0", nil
		}
		return t.String(), nil
	case decimal.Decimal:
		return t.String(), nil
	default:
		data, err := MarshalJSON(v)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}

// MarshalJSON encodes v as JSON with *big.Int values tagged for rehydration.
func MarshalJSON(v any) ([]byte, error) {
	return json.Marshal(tagBigInts(v))
}

func tagBigInts(v any) any {
	switch t := v.(type) {
	case *big.Int:
		if t == nil {
			return nil
		}
		return map[string]string{"__type": "bigint", "value": t.String()}
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = tagBigInts(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = tagBigInts(e)
		}
		return out
	default:
		return v
	}
}

// UnmarshalJSON decodes tagged JSON back into a generic value, rehydrating
// {"__type":"bigint","value":...} objects to *big.Int. Numbers stay
// json.Number to avoid float64 rounding.
func UnmarshalJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return rehydrate(raw), nil
}

func rehydrate(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if t["__type"] == "bigint" {
			if s, ok := t["value"].(string); ok {
				if n, ok := new(big.Int).SetString(s, 10); ok {
					return n
				}
			}
		}
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = rehydrate(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = rehydrate(e)
		}
		return out
	default:
		return v
	}
}

// ————————————————————————————————————————————————————————————————————————
// Typed getters
// ————————————————————————————————————————————————————————————————————————

// String returns the raw string for key ("" when absent).
func (f FieldMap) String(key string) string { return f[key] }

// Int64 parses a decimal int64 field; 0 when absent or unparsable.
func (f FieldMap) Int64(key string) int64 {
	v, _ := strconv.ParseInt(f[key], 10, 64)
	return v
}

// Uint64 parses a decimal uint64 field; 0 when absent or unparsable.
func (f FieldMap) Uint64(key string) uint64 {
	v, _ := strconv.ParseUint(f[key], 10, 64)
	return v
}

// Big parses a decimal big integer field; zero when absent or unparsable.
func (f FieldMap) Big(key string) *big.Int {
	if n, ok := new(big.Int).SetString(f[key], 10); ok {
		return n
	}
	return new(big.Int)
}

// Decimal parses a decimal.Decimal field; zero when absent or unparsable.
func (f FieldMap) Decimal(key string) decimal.Decimal {
	d, err := decimal.NewFromString(f[key])
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Bool parses a boolean field; false when absent or unparsable.
func (f FieldMap) Bool(key string) bool {
	v, _ := strconv.ParseBool(f[key])
	return v
}
