// Package bytesize parses and formats human-readable byte sizes.
// All units use the binary (1024) base; "MB" and "MiB" are equivalent.
//
// Examples:
//   - "8MB"  = 8 * 1024 * 1024 bytes
//   - "5 GiB" = 5 * 1024^3 bytes
//   - "1024" = 1024 bytes (no unit means bytes)
package bytesize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Size represents a byte count.
type Size int64

// Size constants, binary base.
const (
	B  Size = 1
	KB Size = 1024
	MB Size = 1024 * KB
	GB Size = 1024 * MB
	TB Size = 1024 * GB
)

var multipliers = map[string]Size{
	"":    B,
	"b":   B,
	"k":   KB,
	"kb":  KB,
	"kib": KB,
	"m":   MB,
	"mb":  MB,
	"mib": MB,
	"g":   GB,
	"gb":  GB,
	"gib": GB,
	"t":   TB,
	"tb":  TB,
	"tib": TB,
}

var sizePattern = regexp.MustCompile(`(?i)^\s*([0-9]+(?:\.[0-9]+)?)\s*([a-z]*)\s*$`)

// Parse parses a human-readable byte size string. Integer and floating-point
// values are accepted; a missing unit means bytes.
func Parse(s string) (Size, error) {
	m := sizePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid byte size %q", s)
	}

	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}

	mult, ok := multipliers[strings.ToLower(m[2])]
	if !ok {
		return 0, fmt.Errorf("unknown size unit %q in %q", m[2], s)
	}

	return Size(value * float64(mult)), nil
}

// MustParse parses a byte size string and panics on error.
func MustParse(s string) Size {
	size, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return size
}

// Bytes returns the size as an int64 byte count.
func (s Size) Bytes() int64 {
	return int64(s)
}

// String formats the size using the largest unit that divides it cleanly
// enough to keep two decimal places readable.
func (s Size) String() string {
	switch {
	case s >= TB:
		return formatUnit(s, TB, "TiB")
	case s >= GB:
		return formatUnit(s, GB, "GiB")
	case s >= MB:
		return formatUnit(s, MB, "MiB")
	case s >= KB:
		return formatUnit(s, KB, "KiB")
	default:
		return fmt.Sprintf("%dB", int64(s))
	}
}

func formatUnit(s, unit Size, suffix string) string {
	v := float64(s) / float64(unit)
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d%s", int64(v), suffix)
	}
	return fmt.Sprintf("%.2f%s", v, suffix)
}

// UnmarshalText implements encoding.TextUnmarshaler so Size can be decoded
// from configuration values.
func (s *Size) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (s Size) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
