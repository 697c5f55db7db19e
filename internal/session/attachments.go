// ABOUTME: File attachments encoded as data URLs for outgoing user messages.
// ABOUTME: Media type comes from the file extension with content sniffing as fallback.

package session

import (
	"encoding/base64"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/2389/chat-gateway/internal/transcript"
)

// Attachment is a file the user attaches to a message.
type Attachment struct {
	Name      string
	MediaType string
	Data      []byte
}

// LoadAttachment reads a file from disk.
func LoadAttachment(path string) (Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Attachment{}, fmt.Errorf("read attachment: %w", err)
	}
	return Attachment{
		Name:      filepath.Base(path),
		MediaType: detectMediaType(path, data),
		Data:      data,
	}, nil
}

func detectMediaType(path string, data []byte) string {
	mt := mime.TypeByExtension(filepath.Ext(path))
	if mt == "" {
		mt = http.DetectContentType(data)
	}
	if base, _, err := mime.ParseMediaType(mt); err == nil {
		return base
	}
	return mt
}

// Part returns the attachment as a file part with an inline data URL.
func (a Attachment) Part() transcript.FilePart {
	return transcript.FilePart{
		MediaType: a.MediaType,
		URL:       transcript.DataURL(a.MediaType, a.Data),
		Filename:  a.Name,
	}
}

// EncodedSize is the length of the attachment's data URL.
func (a Attachment) EncodedSize() int64 {
	mt := a.MediaType
	if mt == "" {
		mt = "application/octet-stream"
	}
	return int64(len("data:"+mt+";base64,") + base64.StdEncoding.EncodedLen(len(a.Data)))
}
