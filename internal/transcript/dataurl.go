// ABOUTME: Data URL encoding for inline file parts.
// ABOUTME: Parses and builds "data:<type>;base64,<payload>" URLs.

package transcript

import (
	"encoding/base64"
	"errors"
	"net/url"
	"strings"
)

// ErrNotDataURL is returned when a URL is not a data URL.
var ErrNotDataURL = errors.New("not a data URL")

// DataURL builds a base64 data URL for the given bytes.
func DataURL(mediaType string, data []byte) string {
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// ParseDataURL decodes a data URL into its media type and payload.
func ParseDataURL(u string) (mediaType string, data []byte, err error) {
	rest, ok := strings.CutPrefix(u, "data:")
	if !ok {
		return "", nil, ErrNotDataURL
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, errors.New("data URL missing payload separator")
	}

	isBase64 := false
	if m, found := strings.CutSuffix(meta, ";base64"); found {
		meta = m
		isBase64 = true
	}
	mediaType = meta
	if mediaType == "" {
		mediaType = "text/plain;charset=US-ASCII"
	}

	if isBase64 {
		data, err = base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return "", nil, err
		}
		return mediaType, data, nil
	}

	s, err := url.PathUnescape(payload)
	if err != nil {
		return "", nil, err
	}
	return mediaType, []byte(s), nil
}

// IsDataURL reports whether u carries its content inline.
func IsDataURL(u string) bool {
	return strings.HasPrefix(u, "data:")
}
