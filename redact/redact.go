package redact

import (
	"math"
	"strings"
)

// String masks the middle half of s.
func String(s string) string {
	l := len(s)
	if l == 0 {
		return ""
	}

	var flag int
	if l%4 != 0 {
		flag = 1
	}

	return s[0:int(math.Floor(float64(l)*.25))] +
		strings.Repeat("*", int(math.RoundToEven(float64(l)*.5))+(1&flag)) +
		s[int(math.Floor(float64(l)*.75))+(1&flag):]
}

// Cookie masks every value of a "k1=v1; k2=v2" header while keeping the
// names readable.
func Cookie(header string) string {
	if len(header) == 0 {
		return ""
	}

	pairs := strings.Split(header, ";")
	for i, pair := range pairs {
		name, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			pairs[i] = String(name)
			continue
		}
		pairs[i] = name + "=" + String(value)
	}

	return strings.Join(pairs, "; ")
}
