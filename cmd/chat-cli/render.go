// ABOUTME: Terminal rendering of streamed message parts and request outcomes
// ABOUTME: Reasoning is dim, tool calls cyan and errors red

package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/2389/chat-gateway/internal/session"
	"github.com/2389/chat-gateway/internal/transcript"
)

// maxToolOutput truncates tool results echoed to the terminal.
const maxToolOutput = 200

type renderer struct {
	out io.Writer

	dim    *color.Color
	cyan   *color.Color
	gray   *color.Color
	red    *color.Color
	yellow *color.Color

	// last tracks the kind of the previous part so kinds are separated by
	// a newline while deltas of one kind run together.
	last    string
	aborted bool
}

func newRenderer(out io.Writer, useColor bool) *renderer {
	r := &renderer{
		out:    out,
		dim:    color.New(color.Faint),
		cyan:   color.New(color.FgCyan),
		gray:   color.New(color.FgHiBlack),
		red:    color.New(color.FgRed),
		yellow: color.New(color.FgYellow),
	}
	for _, c := range []*color.Color{r.dim, r.cyan, r.gray, r.red, r.yellow} {
		if useColor {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return r
}

// Part renders one applied part.
func (r *renderer) Part(p transcript.Part) {
	switch v := p.(type) {
	case transcript.TextPart:
		r.switchTo("text")
		fmt.Fprint(r.out, v.Text)
	case transcript.ReasoningPart:
		r.switchTo("reasoning")
		r.dim.Fprint(r.out, v.Text)
	case transcript.ToolCallPart:
		r.switchTo("tool")
		r.cyan.Fprintf(r.out, "⚙ %s(%s)\n", v.ToolName, compact(v.Input))
	case transcript.ToolResultPart:
		r.switchTo("tool")
		if v.Error != nil {
			r.red.Fprintf(r.out, "  ✗ %s: %s\n", v.Error.Code, v.Error.Message)
		} else {
			r.gray.Fprintf(r.out, "  → %s\n", truncate(compact(v.Output), maxToolOutput))
		}
	case transcript.SourceURLPart:
		r.switchTo("source")
		title := v.Title
		if title == "" {
			title = v.URL
		}
		r.gray.Fprintf(r.out, "[source] %s <%s>\n", title, v.URL)
	case transcript.FilePart:
		r.switchTo("file")
		r.gray.Fprintf(r.out, "[file] %s (%s)\n", fileLabel(v), v.MediaType)
	}
}

// Outcome renders how a request ended.
func (r *renderer) Outcome(status session.Status, err, warning error) {
	r.endLine()
	switch {
	case status == session.StatusError && err != nil:
		r.red.Fprintf(r.out, "error: %v\n", err)
	case errors.Is(warning, session.ErrStepLimitExceeded):
		r.yellow.Fprintln(r.out, "[stopped at step limit]")
	case r.aborted:
		r.yellow.Fprintln(r.out, "[cancelled]")
	}
	r.last = ""
	r.aborted = false
}

// Cancelled marks the current response as cancelled by the user.
func (r *renderer) Cancelled() {
	r.aborted = true
}

// Error renders a local error.
func (r *renderer) Error(err error) {
	r.endLine()
	r.last = ""
	r.red.Fprintf(r.out, "error: %v\n", err)
}

// Info renders a notice.
func (r *renderer) Info(format string, args ...any) {
	r.gray.Fprintf(r.out, format+"\n", args...)
}

func (r *renderer) switchTo(kind string) {
	if r.last != "" && r.last != kind && (r.last == "text" || r.last == "reasoning") {
		fmt.Fprintln(r.out)
	}
	r.last = kind
}

func (r *renderer) endLine() {
	if r.last == "text" || r.last == "reasoning" {
		fmt.Fprintln(r.out)
	}
}

func compact(raw []byte) string {
	s := strings.Join(strings.Fields(string(raw)), " ")
	if s == "" {
		return "{}"
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

func fileLabel(f transcript.FilePart) string {
	if f.Filename != "" {
		return f.Filename
	}
	if strings.HasPrefix(f.URL, "data:") {
		return "inline"
	}
	return f.URL
}
