package dicomweb

import (
	"bytes"
	"context"
	"net/http"

	"github.com/otcheredev/dicomweb-server/internal/pipeline"
)

// pipelineRequest snapshots the parts of an *http.Request the batched
// Execute function needs; it must not retain the original ResponseWriter,
// since under pipelining the request may be resumed on a goroutine other
// than the one that accepted it.
type pipelineRequest struct {
	req *http.Request
}

type pipelineResponse struct {
	status int
	header http.Header
	body   []byte
}

type bufferedResponseWriter struct {
	header     http.Header
	body       bytes.Buffer
	statusCode int
}

func newBufferedResponseWriter() *bufferedResponseWriter {
	return &bufferedResponseWriter{header: make(http.Header), statusCode: http.StatusOK}
}

func (b *bufferedResponseWriter) Header() http.Header { return b.header }

func (b *bufferedResponseWriter) Write(p []byte) (int, error) { return b.body.Write(p) }

func (b *bufferedResponseWriter) WriteHeader(status int) { b.statusCode = status }

// NewIngressPipeline builds the pipeline.Pipeline spec.md §4.8 describes as
// the "single queue" ingress variant: every request is a Req, handled by
// next, and delivered back in the order Pipeline.Enqueue's ordering policy
// dictates.
func NewIngressPipeline(cfg pipeline.Config, next http.Handler) *pipeline.Pipeline[pipelineRequest, pipelineResponse] {
	return pipeline.New(cfg, func(ctx context.Context, pr pipelineRequest) (pipelineResponse, error) {
		rec := newBufferedResponseWriter()
		next.ServeHTTP(rec, pr.req.WithContext(ctx))
		return pipelineResponse{status: rec.statusCode, header: rec.header, body: rec.body.Bytes()}, nil
	})
}

// PipelineHandler wraps p as a terminal http.Handler: every request is
// enqueued and the buffered result is replayed onto the real
// ResponseWriter once it resolves. p's Execute function (built by
// NewIngressPipeline) already owns the real downstream handler, so this
// is deliberately not a chainable `func(http.Handler) http.Handler` —
// there is no "next" to hand it.
func PipelineHandler(p *pipeline.Pipeline[pipelineRequest, pipelineResponse]) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp, err := p.Enqueue(r.Context(), pipelineRequest{req: r})
		if err != nil {
			http.Error(w, "service unavailable", http.StatusServiceUnavailable)
			return
		}
		for k, vs := range resp.header {
			for _, v := range vs {
				w.Header().Add(k, v)
			}
		}
		w.WriteHeader(resp.status)
		w.Write(resp.body)
	})
}
