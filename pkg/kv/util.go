package kv

import "strconv"

func parseIntDefault(s string, def int64) int64 {
	if s == "" {
		return def
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return def
	}
	return v
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}
