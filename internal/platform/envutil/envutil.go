// Package envutil reads process environment variables with typed defaults,
// logging and falling back instead of panicking on a malformed value.
package envutil

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type warner interface {
	Warn(msg string, keysAndValues ...interface{})
}

func String(name, def string) string {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	return v
}

func Int(name string, def int, log warner) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		if log != nil {
			log.Warn("invalid int env var, using default", "name", name, "value", v, "default", def)
		}
		return def
	}
	return i
}

// Duration reads an integer number of seconds from name and returns it as a
// time.Duration, mirroring the rest of the queue's second-granularity config.
func Duration(name string, defSeconds int, log warner) time.Duration {
	return time.Duration(Int(name, defSeconds, log)) * time.Second
}

func Bool(name string, def bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
