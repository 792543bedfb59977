package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/big"

	"github.com/shopspring/decimal"
)

// maxSafeInteger is the largest integer exactly representable in an
// IEEE-754 double. Values above it do not survive JSON number handling
// in common consumers, so they must travel as decimal strings.
const maxSafeInteger = 1<<53 - 1

// ValidateParams rejects parameter values whose numeric precision would
// be lost in JSON serialization. Arbitrary-precision integers must be
// pre-encoded as decimal strings (see BigString).
func ValidateParams(params []any) error {
	for i, p := range params {
		if err := validateValue(p); err != nil {
			return fmt.Errorf("param %d: %w", i, err)
		}
	}
	return nil
}

func validateValue(v any) error {
	switch val := v.(type) {
	case nil, bool, string, json.Number, json.RawMessage:
		return nil
	case int, int8, int16, int32:
		return nil
	case int64:
		if val > maxSafeInteger || val < -maxSafeInteger {
			return fmt.Errorf("integer %d exceeds safe precision, encode it as a decimal string", val)
		}
		return nil
	case uint64:
		if val > maxSafeInteger {
			return fmt.Errorf("integer %d exceeds safe precision, encode it as a decimal string", val)
		}
		return nil
	case uint, uint8, uint16, uint32:
		return nil
	case float32:
		return nil
	case float64:
		if math.Abs(val) > maxSafeInteger && val == math.Trunc(val) {
			return fmt.Errorf("integer-valued float %v exceeds safe precision, encode it as a decimal string", val)
		}
		return nil
	case *big.Int, big.Int, *big.Float, big.Float:
		return fmt.Errorf("arbitrary-precision value %v is not JSON-safe, encode it as a decimal string", val)
	case decimal.Decimal:
		return fmt.Errorf("decimal value %s must be passed as its decimal string", val.String())
	case []any:
		for i, item := range val {
			if err := validateValue(item); err != nil {
				return fmt.Errorf("index %d: %w", i, err)
			}
		}
		return nil
	case map[string]any:
		for k, item := range val {
			if err := validateValue(item); err != nil {
				return fmt.Errorf("key %q: %w", k, err)
			}
		}
		return nil
	default:
		// Structs and other marshalable values pass through; they
		// cannot smuggle big integers without one of the cases above.
		return nil
	}
}

// BigString losslessly encodes a big integer as a decimal string.
func BigString(v *big.Int) string {
	return decimal.NewFromBigInt(v, 0).String()
}

// IsDecimalString reports whether s parses as an exact decimal value.
func IsDecimalString(s string) bool {
	_, err := decimal.NewFromString(s)
	return err == nil
}

// DecodeResult unmarshals a raw result into out using json.Number so
// large integers keep their textual form instead of collapsing into
// float64.
func DecodeResult(raw json.RawMessage, out *any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(out)
}
