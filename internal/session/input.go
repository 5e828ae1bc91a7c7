package session

import (
	"bufio"
	"io"
	"strings"
)

// ContinuationMarker at the end of a line asks for another line.
const ContinuationMarker = '\\'

const maxLineBytes = 1 << 20

// LineReader assembles operator turns from an input stream.
type LineReader struct {
	sc *bufio.Scanner
}

// NewLineReader reads turns from r.
func NewLineReader(r io.Reader) *LineReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxLineBytes)
	return &LineReader{sc: sc}
}

// ReadTurn reads lines until one does not end in the continuation marker.
// Each line contributes its text, marker stripped, followed by "\n". End of
// input at any point returns io.EOF.
func (l *LineReader) ReadTurn() (string, error) {
	var sb strings.Builder
	for {
		if !l.sc.Scan() {
			if err := l.sc.Err(); err != nil {
				return "", err
			}
			return "", io.EOF
		}
		line := l.sc.Text()
		more := line != "" && line[len(line)-1] == ContinuationMarker
		if more {
			line = line[:len(line)-1]
		}
		sb.WriteString(line)
		sb.WriteByte('\n')
		if !more {
			return sb.String(), nil
		}
	}
}
