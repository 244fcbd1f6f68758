package openaicompat

import (
	"bufio"
	"io"
	"strings"
)

// dataScanner extracts successive "data:" payloads from an SSE body.
//
// SSE format rules applied:
//   - Lines prefixed with "data: " (or "data:") carry the payload.
//   - Lines starting with ":" are comments and are ignored.
//   - An empty line signals the end of an event.
//   - Multiple "data:" lines within one event are joined with newlines.
//   - Other field names are ignored per the SSE spec.
type dataScanner struct {
	scanner *bufio.Scanner
}

func newDataScanner(r io.Reader) *dataScanner {
	sc := bufio.NewScanner(r)
	// Streamed completions can carry large chunks in a single frame.
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &dataScanner{scanner: sc}
}

// Next returns the next complete data payload. ok is false when the body is
// exhausted or an unrecoverable read error occurs.
func (ds *dataScanner) Next() (payload string, ok bool) {
	var buf strings.Builder

	for ds.scanner.Scan() {
		line := ds.scanner.Text()

		switch {
		case line == "":
			if buf.Len() > 0 {
				return buf.String(), true
			}

		case strings.HasPrefix(line, ":"):
			// Comment line.

		case strings.HasPrefix(line, "data:"):
			p := strings.TrimPrefix(line, "data:")
			p = strings.TrimPrefix(p, " ")
			if buf.Len() > 0 {
				buf.WriteByte('\n')
			}
			buf.WriteString(p)

		default:
			// Unknown field.
		}
	}

	// Flush any accumulated data when the stream ends without a blank line.
	if buf.Len() > 0 {
		return buf.String(), true
	}
	return "", false
}
