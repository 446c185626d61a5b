package config

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseBytes parses a human byte size: a decimal number with an optional
// kb/mb/gb suffix. A bare number is bytes. "0" means unlimited where the
// setting allows it.
func ParseBytes(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}
	mult := int64(1)
	switch {
	case strings.HasSuffix(s, "kb"):
		mult = 1 << 10
		s = s[:len(s)-2]
	case strings.HasSuffix(s, "mb"):
		mult = 1 << 20
		s = s[:len(s)-2]
	case strings.HasSuffix(s, "gb"):
		mult = 1 << 30
		s = s[:len(s)-2]
	case strings.HasSuffix(s, "b"):
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	if n < 0 {
		return 0, fmt.Errorf("negative size %d", n)
	}
	return n * mult, nil
}

func parseBytesOr(s string, fallback int64) (int64, error) {
	if strings.TrimSpace(s) == "" {
		return fallback, nil
	}
	return ParseBytes(s)
}

// FormatBytes renders a byte count with the largest exact binary suffix.
func FormatBytes(n int64) string {
	switch {
	case n > 0 && n%(1<<30) == 0:
		return strconv.FormatInt(n>>30, 10) + "gb"
	case n > 0 && n%(1<<20) == 0:
		return strconv.FormatInt(n>>20, 10) + "mb"
	case n > 0 && n%(1<<10) == 0:
		return strconv.FormatInt(n>>10, 10) + "kb"
	default:
		return strconv.FormatInt(n, 10)
	}
}
