package session

import (
	"bytes"
	"fmt"
	"io"
)

// OutputFilter rewrites a raw output chunk before it is stored and
// emitted. The pty argument is the session's own PTY so a filter can
// synthesize terminal responses. Returning the input unchanged is the
// identity filter.
type OutputFilter interface {
	Filter(chunk []byte, pty io.Writer) []byte
}

// passthroughFilter stores and emits chunks as-is.
type passthroughFilter struct{}

func (passthroughFilter) Filter(chunk []byte, _ io.Writer) []byte {
	return chunk
}

// Terminal status queries some assistant CLIs embed in their output to
// probe the emulator they believe they are attached to. Since the real
// consumer is a remote panel, the registry answers them itself and
// strips the query bytes so they never leak into the visible transcript.
var (
	queryCursorPos    = []byte("\x1b[6n") // DSR: report cursor position
	queryDeviceStatus = []byte("\x1b[5n") // DSR: report device status
	queryDeviceAttrs  = []byte("\x1b[c")  // DA1: primary device attributes
	queryDeviceAttrs0 = []byte("\x1b[0c") // DA1 with explicit parameter
)

// statusQueryFilter answers terminal status queries on behalf of the
// absent emulator. Responses are written back into the same PTY;
// unrecognized sequences pass through unchanged.
type statusQueryFilter struct {
	// reported cursor position, fixed since no real screen exists
	row, col int
}

// newStatusQueryFilter creates the filter used for the claude provider
// family.
func newStatusQueryFilter() *statusQueryFilter {
	return &statusQueryFilter{row: 1, col: 1}
}

// Filter strips recognized status queries from chunk and writes the
// matching responses into pty. Write failures are ignored: a dead PTY
// surfaces through the exit callback, not here.
func (f *statusQueryFilter) Filter(chunk []byte, pty io.Writer) []byte {
	if !bytes.Contains(chunk, []byte{0x1b}) {
		return chunk
	}

	out := chunk
	// Longest-pattern first so ESC[0c is not half-matched by ESC[c.
	if bytes.Contains(out, queryDeviceAttrs0) {
		out = bytes.ReplaceAll(out, queryDeviceAttrs0, nil)
		f.respond(pty, "\x1b[?1;2c")
	}
	if bytes.Contains(out, queryCursorPos) {
		out = bytes.ReplaceAll(out, queryCursorPos, nil)
		f.respond(pty, fmt.Sprintf("\x1b[%d;%dR", f.row, f.col))
	}
	if bytes.Contains(out, queryDeviceStatus) {
		out = bytes.ReplaceAll(out, queryDeviceStatus, nil)
		f.respond(pty, "\x1b[0n") // terminal OK
	}
	if bytes.Contains(out, queryDeviceAttrs) {
		out = bytes.ReplaceAll(out, queryDeviceAttrs, nil)
		f.respond(pty, "\x1b[?1;2c") // VT100 with advanced video option
	}
	return out
}

func (f *statusQueryFilter) respond(pty io.Writer, resp string) {
	if pty == nil {
		return
	}
	_, _ = pty.Write([]byte(resp))
}

// filterForProvider returns the output filter for a provider. The claude
// family answers terminal status queries; everything else passes through.
func filterForProvider(provider string) OutputFilter {
	switch provider {
	case "claude":
		return newStatusQueryFilter()
	default:
		return passthroughFilter{}
	}
}
