package dispatch

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/dgellow/mcp-local/internal/config"
)

// FormatArguments returns a copy of args with the server's address keys
// rendered as lower-case "0x" hex strings. Values that are not integers or
// decimal strings, and all values of servers without format_hex_keys, pass
// through unchanged.
func FormatArguments(spec *config.ServerSpec, args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	if spec == nil || !spec.FormatHexKeys {
		return out
	}
	for _, key := range spec.AddressKeys {
		v, ok := out[key]
		if !ok {
			continue
		}
		if hex, ok := toHex(v); ok {
			out[key] = hex
		}
	}
	return out
}

func toHex(v any) (string, bool) {
	switch n := v.(type) {
	case int:
		return hexSigned(int64(n)), true
	case int8:
		return hexSigned(int64(n)), true
	case int16:
		return hexSigned(int64(n)), true
	case int32:
		return hexSigned(int64(n)), true
	case int64:
		return hexSigned(n), true
	case uint:
		return "0x" + strconv.FormatUint(uint64(n), 16), true
	case uint8:
		return "0x" + strconv.FormatUint(uint64(n), 16), true
	case uint16:
		return "0x" + strconv.FormatUint(uint64(n), 16), true
	case uint32:
		return "0x" + strconv.FormatUint(uint64(n), 16), true
	case uint64:
		return "0x" + strconv.FormatUint(n, 16), true
	case float64:
		if n != math.Trunc(n) || math.Abs(n) > 1<<53 {
			return "", false
		}
		return hexSigned(int64(n)), true
	case json.Number:
		if hex, ok := decimalToHex(n.String()); ok {
			return hex, true
		}
		f, err := n.Float64()
		if err != nil {
			return "", false
		}
		return toHex(f)
	case string:
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(n)), "0x") {
			return "", false
		}
		return decimalToHex(strings.TrimSpace(n))
	}
	return "", false
}

func decimalToHex(s string) (string, bool) {
	if u, err := strconv.ParseUint(s, 10, 64); err == nil {
		return "0x" + strconv.FormatUint(u, 16), true
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return hexSigned(i), true
	}
	return "", false
}

func hexSigned(n int64) string {
	if n < 0 {
		return "-0x" + strconv.FormatUint(uint64(-n), 16)
	}
	return "0x" + strconv.FormatInt(n, 16)
}
