package main

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsNewerVersion(t *testing.T) {
	tests := []struct {
		latest, current string
		want            bool
	}{
		{"1.2.0", "1.1.9", true},
		{"v2.0.0", "1.9.9", true},
		{"1.0.0", "1.0.0", false},
		{"1.0.0", "1.0.1", false},
		{"1.0.0", "1.0.0-rc.1", true},
		{"garbage", "1.0.0", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, isNewerVersion(tt.latest, tt.current), "%s vs %s", tt.latest, tt.current)
	}
}

func TestNormalizeVersion(t *testing.T) {
	assert.Equal(t, "1.4.2", normalizeVersion(" v1.4.2 "))
	assert.Equal(t, "dev", normalizeVersion("dev"))
}

func withVersion(t *testing.T, v string) {
	t.Helper()
	old := Version
	Version = v
	t.Cleanup(func() { Version = old })
}

func TestVersionCheck(t *testing.T) {
	withVersion(t, "1.0.0")

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "zwfm-noisemonitor/1.0.0", r.Header.Get("User-Agent"))
		if r.Header.Get("If-None-Match") == `"abc"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"abc"`)
		_, _ = w.Write([]byte(`{"tag_name":"v1.1.0","draft":false,"prerelease":false}`))
	}))
	defer srv.Close()

	vc := &VersionChecker{releaseURL: srv.URL, client: srv.Client()}

	assert.True(t, vc.check(t.Context()))
	info := vc.Info()
	assert.Equal(t, "1.0.0", info.Current)
	assert.Equal(t, "1.1.0", info.Latest)
	assert.True(t, info.UpdateAvail)

	// Conditional request keeps the known release.
	assert.True(t, vc.check(t.Context()))
	assert.Equal(t, "1.1.0", vc.Info().Latest)
	assert.Equal(t, int32(2), calls.Load())
}

func TestVersionCheckIgnoresPrerelease(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"tag_name":"v9.0.0-beta","prerelease":true}`))
	}))
	defer srv.Close()

	vc := &VersionChecker{releaseURL: srv.URL, client: srv.Client()}
	assert.True(t, vc.check(t.Context()))
	assert.Empty(t, vc.Info().Latest)
}

func TestVersionCheckRetryableStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	vc := &VersionChecker{releaseURL: srv.URL, client: srv.Client()}
	assert.False(t, vc.check(t.Context()))
}

func TestDevBuildNeverReportsUpdate(t *testing.T) {
	withVersion(t, "dev")
	vc := &VersionChecker{latest: "9.9.9"}
	assert.False(t, vc.Info().UpdateAvail)
}
