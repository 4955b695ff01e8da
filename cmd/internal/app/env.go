package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// lookupEnv returns the trimmed value of key, or ok=false when it is unset or blank.
func lookupEnv(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

// envParse applies parse to the value of key. Unset, blank and rejected values yield def.
func envParse[T any](key string, def T, parse func(string) (T, bool)) T {
	raw, ok := lookupEnv(key)
	if !ok {
		return def
	}
	if v, ok := parse(raw); ok {
		return v
	}
	return def
}

func EnvString(key, def string) string {
	return envParse(key, def, func(s string) (string, bool) { return s, true })
}

func EnvBool(key string, def bool) bool {
	return envParse(key, def, func(s string) (bool, bool) {
		b, err := strconv.ParseBool(s)
		return b, err == nil
	})
}

// EnvInt accepts strictly positive values only.
func EnvInt(key string, def int) int {
	return envParse(key, def, func(s string) (int, bool) {
		n, err := strconv.Atoi(s)
		return n, err == nil && n > 0
	})
}

// EnvInt32 accepts zero, which pool minimums rely on.
func EnvInt32(key string, def int32) int32 {
	return envParse(key, def, func(s string) (int32, bool) {
		n, err := strconv.ParseInt(s, 10, 32)
		return int32(n), err == nil && n >= 0
	})
}

func EnvDuration(key string, def time.Duration) time.Duration {
	return envParse(key, def, func(s string) (time.Duration, bool) {
		d, err := time.ParseDuration(s)
		return d, err == nil && d > 0
	})
}

// EnvCSV splits a comma separated value, dropping blank items.
// A list with nothing left in it yields def.
func EnvCSV(key string, def []string) []string {
	return envParse(key, def, func(s string) ([]string, bool) {
		var out []string
		for _, item := range strings.Split(s, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		return out, len(out) > 0
	})
}
