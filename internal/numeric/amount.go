// Package numeric coerces loosely formatted amounts into float64 values.
package numeric

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// ParseAmount converts v into a non-negative finite float64.
// Strings may use either '.' or ',' as the decimal or thousands separator;
// "1.180,50", "1,180.50" and "1180.5" all yield 1180.5. A single separator
// followed by exactly three digits is read as a thousands separator, since
// guaraní amounts carry no decimals. The boolean is false when v holds no number.
func ParseAmount(v any) (float64, bool) {
	switch n := v.(type) {
	case nil:
		return 0, false
	case float64:
		return clean(n)
	case float32:
		return clean(float64(n))
	case int:
		return clean(float64(n))
	case int64:
		return clean(float64(n))
	case int32:
		return clean(float64(n))
	case uint:
		return clean(float64(n))
	case uint64:
		return clean(float64(n))
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return clean(f)
		}
		return parseString(n.String())
	case string:
		return parseString(n)
	case bool:
		return 0, false
	default:
		return 0, false
	}
}

// AmountOrZero is ParseAmount with the failure case folded into zero
func AmountOrZero(v any) float64 {
	f, _ := ParseAmount(v)
	return f
}

func clean(f float64) (float64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return math.Abs(f), true
}

func parseString(s string) (float64, bool) {
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' {
			b.WriteRune(r)
		}
	}
	cleaned := strings.Trim(b.String(), ".,")
	if cleaned == "" {
		return 0, false
	}

	lastDot := strings.LastIndex(cleaned, ".")
	lastComma := strings.LastIndex(cleaned, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case lastComma >= 0:
		cleaned = resolveSingle(cleaned, ",")
	case lastDot >= 0:
		cleaned = resolveSingle(cleaned, ".")
	}

	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return clean(f)
}

// resolveSingle handles strings that contain only one kind of separator
func resolveSingle(s, sep string) string {
	if strings.Count(s, sep) > 1 {
		return strings.ReplaceAll(s, sep, "")
	}
	idx := strings.Index(s, sep)
	if len(s)-idx-1 == 3 {
		return strings.Replace(s, sep, "", 1)
	}
	return strings.Replace(s, sep, ".", 1)
}
