package action

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// String extracts a parameter as a trimmed string. Numbers and bools are
// stringified; missing or nil values yield "".
func String(params map[string]interface{}, key string) string {
	v, ok := params[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", t))
	}
}

// Int extracts a parameter as an int. JSON numbers arrive as float64;
// numeric strings are accepted too since the producer is loosely typed.
func Int(params map[string]interface{}, key string) (int, bool) {
	v, ok := params[key]
	if !ok || v == nil {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return int(t), true
	case int:
		return t, true
	case int64:
		return int(t), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// Time extracts a parameter as a timestamp. RFC3339 is the canonical wire
// format; a bare unix-seconds number is accepted as a fallback.
func Time(params map[string]interface{}, key string) (time.Time, bool) {
	v, ok := params[key]
	if !ok || v == nil {
		return time.Time{}, false
	}
	switch t := v.(type) {
	case string:
		ts, err := time.Parse(time.RFC3339, strings.TrimSpace(t))
		if err != nil {
			return time.Time{}, false
		}
		return ts, true
	case float64:
		return time.Unix(int64(t), 0).UTC(), true
	case int64:
		return time.Unix(t, 0).UTC(), true
	default:
		return time.Time{}, false
	}
}

// Clone returns a shallow copy of a parameter map. Callers merging resolved
// fields must never mutate the original map in place: selection context
// round-trips depend on it.
func Clone(params map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
