package transport

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/vfaronov/httpheader"
)

// ProbeResult is what the chunk coordinator learns
// from a HEAD probe before starting a transfer (spec.md §4.3.1, §4.4).
type ProbeResult struct {
	ContentLength int64
	AcceptsRanges bool
	ETag          string
	ContentType   string
	SuggestedName string
	StatusCode    int
}

// Probe sends a HEAD request to rawurl and extracts the metadata the
// ParallelDownload chunk coordinator needs before
// committing to a transfer plan.
//
// Grounded on _examples/teal33t-Surge/internal/engine/probe.go's
// ProbeServer (HEAD/Range-based capability probe) for the overall shape,
// and on internal/downloader/downloader.go's use of
// httpheader.ContentDisposition for filename extraction — generalized here
// from a GET-with-Range-0-0 probe into a plain HEAD, since a HEAD avoids
// transferring a first byte range the coordinator may immediately discard
// when it decides not to chunk.
func Probe(ctx context.Context, client *http.Client, rawurl string, headers map[string]string) (*ProbeResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawurl, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: build probe request: %w", err)
	}
	req.Header.Set("User-Agent", DefaultUserAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transport: probe %s: %w", rawurl, err)
	}
	defer resp.Body.Close()

	result := &ProbeResult{
		StatusCode:    resp.StatusCode,
		ContentType:   resp.Header.Get("Content-Type"),
		ETag:          resp.Header.Get("ETag"),
		AcceptsRanges: resp.Header.Get("Accept-Ranges") == "bytes",
	}

	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			result.ContentLength = n
		}
	}

	if _, name, err := httpheader.ContentDisposition(resp.Header); err == nil && name != "" {
		result.SuggestedName = filepath.Base(name)
	}

	return result, nil
}
