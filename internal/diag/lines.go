package diag

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
)

// MaxLineBytes bounds a single input line, terminator included.
const MaxLineBytes = 1 << 20

// maxRawBytes bounds Event.Raw for an oversized line.
const maxRawBytes = 256

// ReadLines calls fn with every non-blank line of r, trimmed, and its 1-based
// line number. A line longer than MaxLineBytes is drained, reported as
// MalformedRecord against source and skipped. The slice passed to fn is only
// valid for the duration of the call.
func ReadLines(r io.Reader, source string, sink Sink, fn func(line []byte, n int)) error {
	sink = OrDiscard(sink)
	br := bufio.NewReaderSize(r, 64*1024)

	var (
		line      []byte
		size      int
		oversized bool
		n         int
	)
	for {
		chunk, err := br.ReadSlice('\n')
		size += len(chunk)
		if !oversized {
			if size > MaxLineBytes {
				oversized = true
			} else {
				line = append(line, chunk...)
			}
		}
		if err == bufio.ErrBufferFull {
			continue
		}

		if size > 0 {
			n++
			if oversized {
				sink.Report(Event{
					Kind:   MalformedRecord,
					Source: source,
					Line:   n,
					Raw:    truncate(line),
					Detail: fmt.Sprintf("line of %d bytes exceeds %d", size, MaxLineBytes),
				})
			} else if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
				fn(trimmed, n)
			}
		}
		line, size, oversized = line[:0], 0, false

		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read line %d: %w", n+1, err)
		}
	}
}

func truncate(b []byte) string {
	if len(b) <= maxRawBytes {
		return string(b)
	}
	return string(b[:maxRawBytes]) + "..."
}
