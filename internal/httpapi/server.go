// Package httpapi serves the panorama pipeline over HTTP. The same router
// runs behind API Gateway (via httpadapter) and as a local server.
//
// Endpoints:
//
//	GET  /api/health           health check (no origin verification)
//	POST /api/prediction       run one prompt through the pipeline
//	POST /api/batch            run several prompts, results in input order
//	POST /api/chapters         describe each chapter's environment of a book
//	GET  /api/runs/{id}        stored run record
package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/klauspost/compress/gzhttp"

	"github.com/fpang/vr-panorama/internal/pipeline"
	"github.com/fpang/vr-panorama/internal/store"
)

// MetricsNamespace is the CloudWatch namespace for request metrics.
const MetricsNamespace = "VRPanorama"

// maxBodyBytes bounds request bodies. Chapter text is the largest input.
const maxBodyBytes = 4 << 20

// maxBatchPrompts bounds a single batch request.
const maxBatchPrompts = 16

// Runner executes pipeline requests.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
	RunBatch(ctx context.Context, reqs []pipeline.Request, limit int) []pipeline.BatchItem
}

// Describer turns book text into per-chapter environment descriptions.
type Describer interface {
	Describe(ctx context.Context, bookText string) ([]string, error)
}

// Options configures a Server. Only Runner is required.
type Options struct {
	Runner    Runner
	Describer Describer
	Runs      store.RunStore
	// OriginSecret is the expected x-origin-verify header. Empty disables the check.
	OriginSecret     string
	BatchConcurrency int
}

// Server holds the handlers' dependencies.
type Server struct {
	runner       Runner
	describer    Describer
	runs         store.RunStore
	originSecret string
	batchLimit   int
}

// NewServer creates a Server from opts.
func NewServer(opts Options) *Server {
	limit := opts.BatchConcurrency
	if limit < 1 {
		limit = 1
	}
	return &Server{
		runner:       opts.Runner,
		describer:    opts.Describer,
		runs:         opts.Runs,
		originSecret: opts.OriginSecret,
		batchLimit:   limit,
	}
}

// Routes returns the full handler chain.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(withMetrics)

	r.Get("/api/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.withOriginVerify)
		r.Post("/api/prediction", s.handlePrediction)
		r.Post("/api/batch", s.handleBatch)
		r.Post("/api/chapters", s.handleChapters)
		r.Get("/api/runs/{id}", s.handleGetRun)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return gzhttp.GzipHandler(r)
}
