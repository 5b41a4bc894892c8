package codec

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
)

func TestEncodeScalars(t *testing.T) {
	t.Parallel()
	fields, err := Encode(map[string]any{
		"str":  "hello",
		"bool": true,
		"int":  42,
		"i64":  int64(-7),
		"u64":  uint64(9),
		"big":  big.NewInt(12345678901234567),
		"dec":  decimal.RequireFromString("1.5"),
		"nil":  nil,
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := map[string]string{
		"str":  "hello",
		"bool": "true",
		"int":  "42",
		"i64":  "-7",
		"u64":  "9",
		"big":  "12345678901234567",
		"dec":  "1.5",
		"nil":  "",
	}
	for k, w := range want {
		if fields[k] != w {
			t.Errorf("field %q = %q, want %q", k, fields[k], w)
		}
	}
}

func TestEncodeNilBig(t *testing.T) {
	t.Parallel()
	var b *big.Int
	fields, err := Encode(map[string]any{"big": b})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if fields["big"] != "0" {
		t.Errorf("nil *big.Int encoded as %q, want 0", fields["big"])
	}
}

func TestNestedBigIntRoundTrip(t *testing.T) {
	t.Parallel()
	// A value too large for float64 to hold exactly.
	huge, _ := new(big.Int).SetString("123456789012345678901234567890", 10)

	data, err := MarshalJSON([]any{huge, "x", []any{big.NewInt(7)}})
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	v, err := UnmarshalJSON(data)
	if err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	arr, ok := v.([]any)
	if !ok || len(arr) != 3 {
		t.Fatalf("decoded %T %v, want 3-element array", v, v)
	}
	got, ok := arr[0].(*big.Int)
	if !ok {
		t.Fatalf("arr[0] is %T, want *big.Int", arr[0])
	}
	if got.Cmp(huge) != 0 {
		t.Errorf("round trip = %v, want %v", got, huge)
	}
	inner, ok := arr[2].([]any)
	if !ok || len(inner) != 1 {
		t.Fatalf("arr[2] is %T, want nested array", arr[2])
	}
	if n, ok := inner[0].(*big.Int); !ok || n.Int64() != 7 {
		t.Errorf("nested value = %v", inner[0])
	}
}

func TestGetters(t *testing.T) {
	t.Parallel()
	f := FieldMap{
		"i":   "-12",
		"u":   "34",
		"b":   "99999999999999999999",
		"d":   "2.25",
		"t":   "true",
		"bad": "zzz",
	}
	if f.Int64("i") != -12 {
		t.Errorf("Int64 = %d", f.Int64("i"))
	}
	if f.Uint64("u") != 34 {
		t.Errorf("Uint64 = %d", f.Uint64("u"))
	}
	want, _ := new(big.Int).SetString("99999999999999999999", 10)
	if f.Big("b").Cmp(want) != 0 {
		t.Errorf("Big = %v", f.Big("b"))
	}
	if !f.Decimal("d").Equal(decimal.RequireFromString("2.25")) {
		t.Errorf("Decimal = %v", f.Decimal("d"))
	}
	if !f.Bool("t") {
		t.Error("Bool = false, want true")
	}
	if f.Big("bad").Sign() != 0 {
		t.Errorf("Big on garbage = %v, want 0", f.Big("bad"))
	}
	if f.Big("absent").Sign() != 0 {
		t.Errorf("Big on absent = %v, want 0", f.Big("absent"))
	}
}
