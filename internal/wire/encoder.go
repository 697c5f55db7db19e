// ABOUTME: Encoder writes stream events as NDJSON lines or SSE frames.
// ABOUTME: Flushes after every event when the writer supports it.

package wire

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Format selects the framing of a stream.
type Format string

const (
	FormatNDJSON Format = "ndjson"
	FormatSSE    Format = "sse"
)

// ContentType returns the HTTP media type for the format.
func (f Format) ContentType() string {
	if f == FormatSSE {
		return "text/event-stream"
	}
	return "application/x-ndjson"
}

// NegotiateFormat picks SSE when the Accept header asks for it, NDJSON otherwise.
func NegotiateFormat(accept string) Format {
	if strings.Contains(accept, "text/event-stream") {
		return FormatSSE
	}
	return FormatNDJSON
}

// FormatFromContentType maps a response Content-Type back to a Format.
func FormatFromContentType(ct string) Format {
	if strings.HasPrefix(ct, "text/event-stream") {
		return FormatSSE
	}
	return FormatNDJSON
}

// Encoder writes events to an underlying writer. It is not safe for
// concurrent use.
type Encoder struct {
	w       io.Writer
	flusher http.Flusher
	format  Format
}

// NewEncoder creates an encoder for the given format.
func NewEncoder(w io.Writer, format Format) *Encoder {
	flusher, _ := w.(http.Flusher)
	return &Encoder{w: w, flusher: flusher, format: format}
}

// Format returns the encoder's framing.
func (e *Encoder) Format() Format {
	return e.format
}

// Encode writes one event.
func (e *Encoder) Encode(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	switch e.format {
	case FormatSSE:
		_, err = fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", ev.Type, data)
	default:
		_, err = fmt.Fprintf(e.w, "%s\n", data)
	}
	if err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}
