package console

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// MaxInputLine is the longest line a StreamReader accepts, excluding the
// line terminator.
const MaxInputLine = 64 * 1024

// ErrInputTooLong is returned by a LineReader for a line over its limit. The
// line is discarded and the next ReadLine continues after it.
var ErrInputTooLong = errors.New("input line too long")

// StreamReader reads lines from a non-interactive source such as a pipe.
// The prompt is not shown.
type StreamReader struct {
	r   *bufio.Reader
	max int
}

// NewStreamReader reads lines of at most MaxInputLine bytes from r.
func NewStreamReader(r io.Reader) *StreamReader {
	return &StreamReader{r: bufio.NewReader(r), max: MaxInputLine}
}

// ReadLine returns the next line without its terminator, or io.EOF. A line
// over the limit is skipped and reported with ErrInputTooLong.
func (s *StreamReader) ReadLine(string) (string, error) {
	var (
		line    []byte
		n       int
		readAny bool
	)
	for {
		chunk, err := s.r.ReadSlice('\n')
		readAny = readAny || len(chunk) > 0
		n += len(chunk)
		if n <= s.max+len("\r\n") {
			line = append(line, chunk...)
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) && !readAny {
			return "", io.EOF
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		break
	}

	text := strings.TrimRight(string(line), "\r\n")
	if n > s.max+len("\r\n") || len(text) > s.max {
		return "", fmt.Errorf("%w: limit %d bytes", ErrInputTooLong, s.max)
	}
	return text, nil
}
