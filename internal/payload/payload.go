// Package payload decodes raw characteristic notification payloads into
// typed values.
//
// The decoding is a heuristic, not a negotiated schema:
//
//	nil             -> nil (undefined)
//	1 byte          -> bool, true iff the byte is 1
//	4*n bytes, n>0  -> []float32, little-endian
//	anything else   -> base64 string of the raw bytes
//
// A 4-byte payload is always a single float; there is no way to tell it
// apart from four booleans.
package payload

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Decode converts a notification payload into nil, bool, []float32 or a
// base64 string.
func Decode(data []byte) any {
	switch {
	case data == nil:
		return nil
	case len(data) == 1:
		return data[0] == 1
	case len(data) > 0 && len(data)%4 == 0:
		return Floats(data)
	default:
		return base64.StdEncoding.EncodeToString(data)
	}
}

// Floats reads len(data)/4 little-endian float32 values. Trailing bytes
// that do not fill a float are ignored.
func Floats(data []byte) []float32 {
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out
}

// Format renders a decoded value for display: slices as "[v1, v2]", nil as
// "undefined", everything else in its natural form.
func Format(v any) string {
	switch v := v.(type) {
	case nil:
		return "undefined"
	case bool:
		return strconv.FormatBool(v)
	case string:
		return v
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case []float32:
		parts := make([]string, len(v))
		for i, f := range v {
			parts[i] = strconv.FormatFloat(float64(f), 'g', -1, 32)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case []float64:
		parts := make([]string, len(v))
		for i, f := range v {
			parts[i] = strconv.FormatFloat(f, 'g', -1, 64)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case []any:
		parts := make([]string, len(v))
		for i, e := range v {
			parts[i] = Format(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return fmt.Sprint(v)
	}
}
