package util

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// mibPerUnit scales one unit of each accepted suffix to MiB. Schedulers treat
// the decimal and binary spellings the same, and so do we.
var mibPerUnit = map[string]float64{
	"":  1.0 / (1 << 20),
	"B": 1.0 / (1 << 20),

	"K": 1.0 / 1024, "KB": 1.0 / 1024, "KI": 1.0 / 1024, "KIB": 1.0 / 1024,
	"M": 1, "MB": 1, "MI": 1, "MIB": 1,
	"G": 1024, "GB": 1024, "GI": 1024, "GIB": 1024,
	"T": 1 << 20, "TB": 1 << 20, "TI": 1 << 20, "TIB": 1 << 20,
}

// ParseMemory reads a job memory request such as "10G" or "1.5GB" and
// returns whole MiB. A number without a suffix counts bytes; "" is 0.
func ParseMemory(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	num, unit := s, ""
	if i := strings.IndexFunc(s, func(r rune) bool {
		return !unicode.IsDigit(r) && r != '.' && r != '-' && r != '+'
	}); i >= 0 {
		num, unit = s[:i], s[i:]
	}

	value, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("memory %q: expected a number followed by an optional unit", s)
	}
	if value < 0 {
		return 0, fmt.Errorf("memory %q: must not be negative", s)
	}
	scale, ok := mibPerUnit[strings.ToUpper(strings.TrimSpace(unit))]
	if !ok {
		return 0, fmt.Errorf("memory %q: unknown unit %q", s, unit)
	}
	return int(value * scale), nil
}
