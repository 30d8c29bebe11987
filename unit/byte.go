package unit

import (
	"strconv"
)

const (
	Byte     = 1
	Kibibyte = 1024 * Byte
	Mebibyte = 1024 * Kibibyte
	Gibibyte = 1024 * Mebibyte
)

// FormatBytes renders n with the largest binary unit that keeps the value at
// or above one.
func FormatBytes(n int64) string {
	switch {
	case n >= Gibibyte:
		return strconv.FormatFloat(float64(n)/Gibibyte, 'f', 2, 64) + " GiB"
	case n >= Mebibyte:
		return strconv.FormatFloat(float64(n)/Mebibyte, 'f', 2, 64) + " MiB"
	case n >= Kibibyte:
		return strconv.FormatFloat(float64(n)/Kibibyte, 'f', 2, 64) + " KiB"
	default:
		return strconv.FormatInt(n, 10) + " B"
	}
}
