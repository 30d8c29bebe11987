package types

import (
	"fmt"
	"strings"
)

// Mode selects how a listing page is fetched.
type Mode int

const (
	// ModeFast returns track summaries only; URLs are resolved later.
	ModeFast Mode = iota
	// ModeFull resolves every track's playback URL while paging.
	ModeFull
)

func (m Mode) String() string {
	switch m {
	case ModeFast:
		return "fast"
	case ModeFull:
		return "full"
	}

	return "unknown"
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fast":
		return ModeFast, nil
	case "full":
		return ModeFull, nil
	default:
		return 0, fmt.Errorf("unsupported fetch mode: %q", s)
	}
}
