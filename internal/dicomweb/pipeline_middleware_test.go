package dicomweb

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/otcheredev/dicomweb-server/internal/pipeline"
)

func TestPipelineHandlerRoundTripsResponse(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Test", "yes")
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("hello"))
	})

	p := NewIngressPipeline(pipeline.Config{
		MaxPipelineDepth: 4,
		EnablePipelining: true,
		FlushTimeout:     10 * time.Millisecond,
	}, inner)
	defer p.Stop()

	handler := PipelineHandler(p)
	req := httptest.NewRequest(http.MethodGet, "/dicom-web/studies", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusTeapot, rec.Code)
	require.Equal(t, "yes", rec.Header().Get("X-Test"))
	require.Equal(t, "hello", rec.Body.String())
}

func TestPipelineHandlerDisabledRunsInline(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	p := NewIngressPipeline(pipeline.Config{EnablePipelining: false}, inner)
	defer p.Stop()

	handler := PipelineHandler(p)
	req := httptest.NewRequest(http.MethodGet, "/dicom-web/studies", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}
