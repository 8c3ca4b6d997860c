package schulmanager

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFindBundleVersion(t *testing.T) {
	js := `var config={apiBase:"/api/",bundleVersion:"8f3a91c2d4"};fetch("/api/calls")`
	assert.Equal(t, "8f3a91c2d4", findBundleVersion(js))
}

func TestFindBundleVersion_IgnoresUnrelatedHexLiterals(t *testing.T) {
	// A hex literal without API-call context nearby is not the value.
	js := `var checksum="deadbeef01";var bundleVersion="deadbeef01";`
	assert.Empty(t, findBundleVersion(js))
}

func TestFindBundleVersion_QuotedKeyAndAssignment(t *testing.T) {
	js := `{"bundleVersion":"0123456789ab"} /* sent with every api/calls batch */`
	assert.Equal(t, "0123456789ab", findBundleVersion(js))
}

func TestBundleResolver_DetectsFromScriptTag(t *testing.T) {
	var pageHits int32

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&pageHits, 1)
		_, _ = w.Write([]byte(`<html><script src="/main.7c1f.js"></script></html>`))
	})
	mux.HandleFunc("/main.7c1f.js", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`httpClient.post("/api/calls",{bundleVersion:"8f3a91c2d4"})`))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	resolver := newBundleResolver(server.Client(), server.URL, slog.Default())

	assert.Equal(t, "8f3a91c2d4", resolver.Version(context.Background()))

	// The detected value is cached; a second read does not refetch.
	assert.Equal(t, "8f3a91c2d4", resolver.Version(context.Background()))
	assert.EqualValues(t, 1, atomic.LoadInt32(&pageHits))

	resolver.Invalidate()
	assert.Equal(t, "8f3a91c2d4", resolver.Version(context.Background()))
	assert.EqualValues(t, 2, atomic.LoadInt32(&pageHits))
}

func TestBundleResolver_FallsBackWhenDetectionFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	t.Cleanup(server.Close)

	resolver := newBundleResolver(server.Client(), server.URL, slog.Default())
	assert.Equal(t, fallbackBundleVersion, resolver.Version(context.Background()))
}
