package logstream

import (
	"bytes"
	"regexp"
)

// timestampPrefix matches the RFC 3339 token the log endpoint prepends when
// timestamps are requested.
var timestampPrefix = regexp.MustCompile(`^[\t\s]*\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:\d{2})\s*`)

// StripTimestamp removes a leading timestamp token from line.
func StripTimestamp(line string) string {
	if loc := timestampPrefix.FindStringIndex(line); loc != nil {
		return line[loc[1]:]
	}
	return line
}

// LineSplitter turns arbitrary byte chunks into complete lines. A trailing
// partial line, including a partial UTF-8 sequence, is held until the next
// chunk or Flush. Empty lines are dropped.
type LineSplitter struct {
	buf []byte
}

// Write appends chunk and returns every line it completed.
func (s *LineSplitter) Write(chunk []byte) []string {
	s.buf = append(s.buf, chunk...)
	idx := bytes.LastIndexByte(s.buf, '\n')
	if idx < 0 {
		return nil
	}

	complete := s.buf[:idx]
	var lines []string
	for _, seg := range bytes.Split(complete, []byte{'\n'}) {
		seg = bytes.TrimSuffix(seg, []byte{'\r'})
		if len(seg) > 0 {
			lines = append(lines, string(seg))
		}
	}

	rest := s.buf[idx+1:]
	s.buf = append(s.buf[:0:0], rest...)
	return lines
}

// Flush returns the buffered partial line, if any, and clears it.
func (s *LineSplitter) Flush() []string {
	seg := bytes.TrimSuffix(s.buf, []byte{'\r'})
	s.buf = nil
	if len(seg) == 0 {
		return nil
	}
	return []string{string(seg)}
}
