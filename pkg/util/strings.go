package util

import "strings"

// SplitCommaSeparated splits a comma-separated string and trims whitespace from each element.
// Empty input returns nil.
func SplitCommaSeparated(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// SplitKey splits a composite table key at the first occurrence of sep.
// ok is false when sep does not occur.
func SplitKey(key string, sep byte) (head, tail string, ok bool) {
	i := strings.IndexByte(key, sep)
	if i < 0 {
		return "", key, false
	}
	return key[:i], key[i+1:], true
}
