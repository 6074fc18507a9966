package worker

import (
	"mime"
	"strings"

	"github.com/h2non/filetype"
)

// contentTypeWithoutParams strips the "; charset=..." suffix a Content-Type
// header value may carry, for the DataTaskWorker's mime_type event field
// (spec.md §4.6 status update payload).
func contentTypeWithoutParams(contentType string) string {
	if contentType == "" {
		return ""
	}
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		return strings.TrimSpace(contentType[:i])
	}
	return contentType
}

// charsetOf extracts the charset parameter from a Content-Type header
// value, if present.
func charsetOf(contentType string) string {
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return params["charset"]
}

// sniffMimeType inspects the leading bytes of a buffer via content
// signatures (magic numbers), used when the extension alone is ambiguous
// or absent. Returns "" when no known signature matches.
func sniffMimeType(head []byte) string {
	kind, err := filetype.Match(head)
	if err != nil || kind == filetype.Unknown {
		return ""
	}
	return kind.MIME.Value
}
