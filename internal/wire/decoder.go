// ABOUTME: Decoder reads stream events from NDJSON or SSE framing.
// ABOUTME: Distinguishes a clean finish from an interrupted stream.

package wire

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrTransportInterrupted is returned when a stream ends before finish.
	ErrTransportInterrupted = errors.New("transport interrupted before finish")

	// ErrMalformedChunk is returned for a chunk that is not a JSON event.
	ErrMalformedChunk = errors.New("malformed chunk")
)

// Decoder reads events in arrival order. Unknown event types are skipped.
// After a finish event every call to Next returns io.EOF.
type Decoder struct {
	r        *bufio.Reader
	format   Format
	finished bool
	err      error
}

// NewDecoder creates a decoder for the given framing.
func NewDecoder(r io.Reader, format Format) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 64<<10), format: format}
}

// Next returns the next known event.
func (d *Decoder) Next() (Event, error) {
	if d.finished {
		return Event{}, io.EOF
	}
	if d.err != nil {
		return Event{}, d.err
	}

	for {
		chunk, err := d.readChunk()
		if err != nil {
			d.err = err
			return Event{}, err
		}

		ev, ok, err := parseChunk(chunk)
		if err != nil {
			d.err = err
			return Event{}, err
		}
		if !ok {
			continue
		}
		if ev.Type == TypeFinish {
			d.finished = true
		}
		return ev, nil
	}
}

// Finished reports whether a finish event has been read.
func (d *Decoder) Finished() bool {
	return d.finished
}

// readChunk returns the payload of the next frame: one NDJSON line, or the
// joined data lines of one SSE event.
func (d *Decoder) readChunk() ([]byte, error) {
	if d.format == FormatSSE {
		return d.readSSE()
	}
	for {
		line, err := d.readLine()
		if len(line) > 0 {
			return line, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func (d *Decoder) readSSE() ([]byte, error) {
	var data [][]byte
	for {
		line, err := d.readLine()
		switch {
		case len(line) == 0:
			if len(data) > 0 {
				return bytes.Join(data, []byte("\n")), nil
			}
		case line[0] == ':':
			// comment / keepalive
		case bytes.HasPrefix(line, []byte("data:")):
			data = append(data, bytes.TrimPrefix(bytes.TrimPrefix(line, []byte("data:")), []byte(" ")))
		}
		if err != nil {
			if len(data) > 0 && errors.Is(err, ErrTransportInterrupted) {
				return bytes.Join(data, []byte("\n")), nil
			}
			return nil, err
		}
	}
}

// readLine reads one line without its terminator. A stream that ends is
// reported as ErrTransportInterrupted alongside any final unterminated line.
func (d *Decoder) readLine() ([]byte, error) {
	line, err := d.r.ReadBytes('\n')
	line = bytes.TrimRight(line, "\r\n")
	if err == nil {
		return line, nil
	}
	if errors.Is(err, io.EOF) {
		return line, ErrTransportInterrupted
	}
	return line, fmt.Errorf("%w: %w", ErrTransportInterrupted, err)
}

func parseChunk(chunk []byte) (Event, bool, error) {
	if bytes.Equal(chunk, []byte("[DONE]")) {
		return Event{}, false, nil
	}
	var ev Event
	if err := json.Unmarshal(chunk, &ev); err != nil {
		return Event{}, false, fmt.Errorf("%w: %w", ErrMalformedChunk, err)
	}
	if !ev.Type.Known() {
		return Event{}, false, nil
	}
	return ev, true, nil
}
