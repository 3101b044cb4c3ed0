package backend

import (
	"strings"
)

const serverValueKey = ".sv"

// ServerTimestamp is replaced by the service clock (milliseconds) at write time.
// It is valid as a whole value, as a map field and as a priority.
var ServerTimestamp = map[string]any{serverValueKey: "timestamp"}

func IsServerTimestamp(v any) bool {
	m, ok := v.(map[string]any)
	if !ok || len(m) != 1 {
		return false
	}
	s, ok := m[serverValueKey].(string)
	return ok && s == "timestamp"
}

// Int64 converts any numeric value decoded from JSON or msgpack.
func Int64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float32:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}

func String(v any) string {
	s, _ := v.(string)
	return s
}

// CleanPath trims slashes and rejects empty segments.
func CleanPath(path string) (string, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return "", nil
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", ErrInvalidPath
		}
	}
	return path, nil
}

// Join concatenates path segments.
func Join(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.Trim(p, "/"); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "/")
}

// Parent returns the parent path and the last segment.
func Parent(path string) (string, string) {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return "", path
	}
	return path[:i], path[i+1:]
}
