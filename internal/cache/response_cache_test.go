package cache

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestConditionalGetReturns304 is scenario S4 (spec.md §8).
func TestConditionalGetReturns304(t *testing.T) {
	rc := NewResponseCache(NewMemoryCache(), time.Minute, 100, 0)

	req := httptest.NewRequest(http.MethodGet, "/dicom-web/studies/1.2.3/metadata", nil)
	require.False(t, rc.Serve(httptest.NewRecorder(), req))
	rc.Store(req, "application/dicom+json", []byte(`[{"foo":"bar"}]`))

	rec := httptest.NewRecorder()
	require.True(t, rc.Serve(rec, req))
	require.Equal(t, http.StatusOK, rec.Code)
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)
	require.Equal(t, "HIT", rec.Header().Get("X-Cache"))

	req2 := httptest.NewRequest(http.MethodGet, "/dicom-web/studies/1.2.3/metadata", nil)
	req2.Header.Set("If-None-Match", etag)
	rec2 := httptest.NewRecorder()
	require.True(t, rc.Serve(rec2, req2))
	require.Equal(t, http.StatusNotModified, rec2.Code)
	require.Empty(t, rec2.Body.Bytes())
	require.Equal(t, etag, rec2.Header().Get("ETag"))
}

// TestCacheIdempotence is scenario S5's sibling invariant 5 from spec.md §8:
// two successive identical GETs yield byte-identical bodies while live.
func TestCacheIdempotence(t *testing.T) {
	rc := NewResponseCache(NewMemoryCache(), time.Minute, 100, 0)
	req := httptest.NewRequest(http.MethodGet, "/dicom-web/studies", nil)
	rc.Store(req, "application/dicom+json", []byte(`[]`))

	rec1 := httptest.NewRecorder()
	require.True(t, rc.Serve(rec1, req))
	rec2 := httptest.NewRecorder()
	require.True(t, rc.Serve(rec2, req))

	require.Equal(t, rec1.Body.Bytes(), rec2.Body.Bytes())
	require.Equal(t, "HIT", rec2.Header().Get("X-Cache"))
}

func TestInvalidateClearsAllEntries(t *testing.T) {
	rc := NewResponseCache(NewMemoryCache(), time.Minute, 100, 0)
	req := httptest.NewRequest(http.MethodGet, "/dicom-web/studies", nil)
	rc.Store(req, "application/dicom+json", []byte(`[]`))
	rc.Invalidate()

	require.False(t, rc.Serve(httptest.NewRecorder(), req))
}

func TestNonCacheableContentTypeIsNotStored(t *testing.T) {
	rc := NewResponseCache(NewMemoryCache(), time.Minute, 100, 0)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rc.Store(req, "text/plain", []byte("ok"))
	require.False(t, rc.Serve(httptest.NewRecorder(), req))
}

func TestMaxEntriesEvicts(t *testing.T) {
	rc := NewResponseCache(NewMemoryCache(), time.Minute, 1, 0)
	req1 := httptest.NewRequest(http.MethodGet, "/dicom-web/studies?x=1", nil)
	req2 := httptest.NewRequest(http.MethodGet, "/dicom-web/studies?x=2", nil)
	rc.Store(req1, "application/dicom+json", []byte(`[1]`))
	rc.Store(req2, "application/dicom+json", []byte(`[2]`))

	rc.mu.Lock()
	count := len(rc.index)
	rc.mu.Unlock()
	require.Equal(t, 1, count)
}
