package event

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
)

const (
	initialBufferSize = 64 * 1024
	maxLineSize       = 16 * 1024 * 1024
)

// DecodeError is returned for a line that is not a valid entry. Reading can
// continue after it.
type DecodeError struct {
	Line int
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, initialBufferSize), maxLineSize)

	return &Reader{r: scanner}
}

// Reader decodes a JSON lines event stream.
type Reader struct {
	r    *bufio.Scanner
	line int
}

// Next returns the next entry. It returns io.EOF at the end of the stream and a
// *DecodeError for a line that cannot be used. Blank lines are skipped.
func (r *Reader) Next(ctx context.Context) (Entry, error) {
	for r.r.Scan() {
		if err := ctx.Err(); err != nil {
			return Entry{}, err
		}

		r.line++

		line := bytes.TrimSpace(r.r.Bytes())
		if len(line) == 0 {
			continue
		}

		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			return Entry{}, &DecodeError{Line: r.line, Err: fmt.Errorf("json.Unmarshal: %w", err)}
		}

		if err := entry.Validate(); err != nil {
			return Entry{}, &DecodeError{Line: r.line, Err: err}
		}

		return entry, nil
	}

	if err := r.r.Err(); err != nil {
		return Entry{}, fmt.Errorf("scanner: %w", err)
	}

	return Entry{}, io.EOF
}
