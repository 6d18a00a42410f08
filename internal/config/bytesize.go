package config

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ByteSize is a size value that supports human-readable parsing.
// It extends plain integer sizes with binary units:
//
//	"1.2MB" = 1.2 * 1024 * 1024 bytes
//	"500KB" = 500 * 1024 bytes
//	"1258291" = 1258291 bytes (raw number still works)
//
// It implements encoding.TextUnmarshaler for Viper/YAML support and
// json.Unmarshaler for JSON documents.
type ByteSize int64

// Binary (1024) base multipliers.
const (
	unitB  int64 = 1
	unitKB       = 1024 * unitB
	unitMB       = 1024 * unitKB
	unitGB       = 1024 * unitMB
	unitTB       = 1024 * unitGB
)

var unitMultipliers = map[string]int64{
	"":    unitB,
	"b":   unitB,
	"k":   unitKB,
	"kb":  unitKB,
	"kib": unitKB,
	"m":   unitMB,
	"mb":  unitMB,
	"mib": unitMB,
	"g":   unitGB,
	"gb":  unitGB,
	"gib": unitGB,
	"t":   unitTB,
	"tb":  unitTB,
	"tib": unitTB,
}

// sizePattern matches a number (int or float) followed by an optional unit.
var sizePattern = regexp.MustCompile(`(?i)^\s*([0-9]+(?:\.[0-9]+)?)\s*([a-z]*)\s*$`)

// ParseByteSize parses a human-readable byte size string.
func ParseByteSize(s string) (ByteSize, error) {
	if s == "" {
		return 0, fmt.Errorf("bytesize: empty string")
	}

	matches := sizePattern.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("bytesize: invalid format %q", s)
	}

	value, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, fmt.Errorf("bytesize: invalid number %q: %w", matches[1], err)
	}

	multiplier, ok := unitMultipliers[strings.ToLower(matches[2])]
	if !ok {
		return 0, fmt.Errorf("bytesize: unknown unit %q", matches[2])
	}

	return ByteSize(value * float64(multiplier)), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for YAML/Viper support.
func (b *ByteSize) UnmarshalText(text []byte) error {
	parsed, err := ParseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *ByteSize) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// Try as a raw number of bytes
		var n int64
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*b = ByteSize(n)
		return nil
	}
	return b.UnmarshalText([]byte(s))
}

// MarshalText implements encoding.TextMarshaler.
func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// Bytes returns the size in bytes as int64.
func (b ByteSize) Bytes() int64 {
	return int64(b)
}

// String returns a human-readable representation using the largest unit that
// divides the size cleanly enough for display.
func (b ByteSize) String() string {
	n := int64(b)
	switch {
	case n >= unitTB:
		return formatUnit(n, unitTB, "TB")
	case n >= unitGB:
		return formatUnit(n, unitGB, "GB")
	case n >= unitMB:
		return formatUnit(n, unitMB, "MB")
	case n >= unitKB:
		return formatUnit(n, unitKB, "KB")
	default:
		return strconv.FormatInt(n, 10) + "B"
	}
}

func formatUnit(n, unit int64, suffix string) string {
	v := float64(n) / float64(unit)
	if v == float64(int64(v)) {
		return strconv.FormatInt(int64(v), 10) + suffix
	}
	return strconv.FormatFloat(v, 'f', 1, 64) + suffix
}
