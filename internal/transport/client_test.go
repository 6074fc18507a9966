package transport

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientDefaultTimeout(t *testing.T) {
	c, err := NewClient(Options{})
	require.NoError(t, err)
	assert.Equal(t, DefaultRequestTimeout, c.Timeout)
}

func TestNewClientCustomTimeout(t *testing.T) {
	c, err := NewClient(Options{RequestTimeout: 5 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, c.Timeout)
}

func TestNewClientInvalidProxyURL(t *testing.T) {
	_, err := NewClient(Options{ProxyURL: "://broken"})
	assert.Error(t, err)
}

func TestCheckRedirectDropsRangeHeader(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Range"))
		assert.Equal(t, "yes", r.Header.Get("X-Custom"))
		w.WriteHeader(http.StatusOK)
	}))
	defer target.Close()

	redirector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target.URL, http.StatusFound)
	}))
	defer redirector.Close()

	c, err := NewClient(Options{})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, redirector.URL, nil)
	require.NoError(t, err)
	req.Header.Set("Range", "bytes=10-")
	req.Header.Set("X-Custom", "yes")

	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
