package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbeExtractsMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.Header().Set("Content-Length", "4096")
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("ETag", `"abc"`)
		w.Header().Set("Content-Disposition", `attachment; filename="report.pdf"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, err := NewClient(Options{})
	require.NoError(t, err)

	result, err := Probe(context.Background(), client, srv.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(4096), result.ContentLength)
	assert.True(t, result.AcceptsRanges)
	assert.Equal(t, `"abc"`, result.ETag)
	assert.Equal(t, "report.pdf", result.SuggestedName)
}

func TestProbeNoAcceptRanges(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "10")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, err := NewClient(Options{})
	require.NoError(t, err)

	result, err := Probe(context.Background(), client, srv.URL, nil)
	require.NoError(t, err)
	assert.False(t, result.AcceptsRanges)
}
