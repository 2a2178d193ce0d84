package subsys

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchlore/patchlore/config"
)

const sampleListing = `<html><body><table>
<tr><th>Name</th><th>Description</th><th>Addresses</th></tr>
<tr><th><a href="/netdev">netdev</a></th><td>networking</td><td>netdev@vger.kernel.org</td></tr>
<tr><th>dri-devel</th><td>graphics</td><td>dri-devel@lists.freedesktop.org</td></tr>
<tr><th>lkml</th><td>main list</td><td>linux-kernel@vger.kernel.org</td></tr>
<tr><th>subscribe</th><td>not a list</td><td></td></tr>
<tr><th>42</th><td>numeric junk</td><td></td></tr>
<tr><td>no-th-cell</td><td>skipped</td><td></td></tr>
</table></body></html>`

func TestValidName(t *testing.T) {
	valid := []string{"netdev", "dri-devel", "lkml", "x86", "b4"}
	for _, n := range valid {
		assert.True(t, ValidName(n), n)
	}

	invalid := []string{
		"", "a", "Name", "description", "subscribe", "unsub-list",
		"postmaster", "http-thing", "mailto-x", "has space", "a/b",
		"user@host", "-leading", "trailing-", "UPPER", "42", "10250",
	}
	for _, n := range invalid {
		assert.False(t, ValidName(n), n)
	}
}

func TestParseListing(t *testing.T) {
	names := parseListing(sampleListing)
	assert.Equal(t, []string{"dri-devel", "lkml", "netdev"}, names)
}

func TestServiceMergesManualOverlay(t *testing.T) {
	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		w.Write([]byte(sampleListing))
	}))
	defer srv.Close()

	svc, err := New(&config.SubsystemsConfig{
		Manual:       "my-private-list, netdev",
		ListNamesURL: srv.URL,
		ListCacheTTL: "1h",
	})
	require.NoError(t, err)

	names, err := svc.Supported(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"dri-devel", "lkml", "my-private-list", "netdev"}, names)

	// Second call inside the TTL serves the cache.
	_, err = svc.Supported(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), fetches.Load())

	ok, err := svc.IsSupported(context.Background(), "my-private-list")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.IsSupported(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestServiceFallsBackToManualOnFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	svc, err := New(&config.SubsystemsConfig{
		Manual:       "fallback-list",
		ListNamesURL: srv.URL,
		ListCacheTTL: "1h",
	})
	require.NoError(t, err)

	names, err := svc.Supported(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"fallback-list"}, names)
}

func TestServiceColdCacheNoOverlayFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	svc, err := New(&config.SubsystemsConfig{
		ListNamesURL: srv.URL,
		ListCacheTTL: "1h",
	})
	require.NoError(t, err)

	_, err = svc.Supported(context.Background())
	require.Error(t, err)
}

func TestServiceServesStaleCacheOnRefreshError(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(sampleListing))
	}))
	defer srv.Close()

	svc, err := New(&config.SubsystemsConfig{
		ListNamesURL: srv.URL,
		ListCacheTTL: "1ms",
	})
	require.NoError(t, err)

	names, err := svc.Supported(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, names)

	fail.Store(true)
	time.Sleep(5 * time.Millisecond)

	stale, err := svc.Supported(context.Background())
	require.NoError(t, err)
	assert.Equal(t, names, stale)
}
