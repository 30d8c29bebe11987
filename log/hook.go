package log

import (
	"runtime"
	"strings"

	"github.com/rs/zerolog"
)

const maxStackDepth = 32

// stackHook attaches the caller stack to error and above events. Frames
// from the runtime and from zerolog itself are dropped.
type stackHook struct{}

func (h *stackHook) Run(e *zerolog.Event, level zerolog.Level, _ string) {
	if level < zerolog.ErrorLevel {
		return
	}

	arr := zerolog.Arr()
	for _, f := range callerFrames(4) {
		arr.Dict(zerolog.Dict().
			Int("line", f.Line).
			Str("file", f.File).
			Str("function", f.Function),
		)
	}
	e.Array("stack", arr)
}

func callerFrames(skip int) []runtime.Frame {
	var pcs [maxStackDepth]uintptr
	n := runtime.Callers(skip, pcs[:])
	if n == 0 {
		return nil
	}

	var (
		frames = runtime.CallersFrames(pcs[:n])
		out    = make([]runtime.Frame, 0, n)
	)
	for {
		frame, more := frames.Next()
		if !isNoiseFrame(frame.Function) {
			out = append(out, frame)
		}
		if !more {
			break
		}
	}

	return out
}

func isNoiseFrame(fn string) bool {
	return strings.HasPrefix(fn, "runtime.") ||
		strings.HasPrefix(fn, "github.com/rs/zerolog")
}
