// Package bytesize parses human-readable sizes such as "64Mi" or "1GB".
package bytesize

import (
	"fmt"
	"strconv"
	"strings"
)

// ByteSize is a size in bytes.
type ByteSize uint64

const (
	B  ByteSize = 1
	KB ByteSize = 1000
	MB ByteSize = 1000 * KB
	GB ByteSize = 1000 * MB

	KiB ByteSize = 1024
	MiB ByteSize = 1024 * KiB
	GiB ByteSize = 1024 * MiB
)

var units = map[string]ByteSize{
	"":    B,
	"b":   B,
	"k":   KB,
	"kb":  KB,
	"m":   MB,
	"mb":  MB,
	"g":   GB,
	"gb":  GB,
	"ki":  KiB,
	"kib": KiB,
	"mi":  MiB,
	"mib": MiB,
	"gi":  GiB,
	"gib": GiB,
}

// Parse accepts a plain number of bytes or a number followed by a decimal
// (KB, MB, GB) or binary (Ki, Mi, Gi) unit.
func Parse(s string) (ByteSize, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("bytesize: empty size")
	}

	i := strings.IndexFunc(s, func(r rune) bool { return (r < '0' || r > '9') && r != '.' })
	if i < 0 {
		i = len(s)
	}
	num, unit := s[:i], strings.ToLower(strings.TrimSpace(s[i:]))

	multiplier, ok := units[unit]
	if !ok {
		return 0, fmt.Errorf("bytesize: unknown unit %q", s[i:])
	}

	if strings.Contains(num, ".") {
		f, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return 0, fmt.Errorf("bytesize: invalid number %q", num)
		}
		return ByteSize(f * float64(multiplier)), nil
	}

	n, err := strconv.ParseUint(num, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bytesize: invalid number %q", num)
	}
	return ByteSize(n) * multiplier, nil
}

// UnmarshalText lets ByteSize fields be decoded from strings.
func (b *ByteSize) UnmarshalText(text []byte) error {
	size, err := Parse(string(text))
	if err != nil {
		return err
	}
	*b = size
	return nil
}

// MarshalText writes the size with the largest exact binary unit.
func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

func (b ByteSize) String() string {
	switch {
	case b >= GiB && b%GiB == 0:
		return strconv.FormatUint(uint64(b/GiB), 10) + "Gi"
	case b >= MiB && b%MiB == 0:
		return strconv.FormatUint(uint64(b/MiB), 10) + "Mi"
	case b >= KiB && b%KiB == 0:
		return strconv.FormatUint(uint64(b/KiB), 10) + "Ki"
	default:
		return strconv.FormatUint(uint64(b), 10)
	}
}

func (b ByteSize) Int() int { return int(b) }

func (b ByteSize) Int64() int64 { return int64(b) }
