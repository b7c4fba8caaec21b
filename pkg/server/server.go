// Package server exposes queries and node reads and writes over HTTP.
//
//	POST /v1/query              run a stage chain
//	GET  /v1/nodes/{kind}/{id}  read one node
//	POST /v1/nodes              create or merge one node
//	GET  /healthz               liveness
//	GET  /metrics               Prometheus metrics, when configured
//
// Errors are JSON objects {"error": {"code": ..., "message": ...}} whose
// HTTP status follows the error code.
package server

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/matzehuels/aipgraph/pkg/errors"
	"github.com/matzehuels/aipgraph/pkg/graph"
	"github.com/matzehuels/aipgraph/pkg/ingest"
	"github.com/matzehuels/aipgraph/pkg/query"
	"github.com/matzehuels/aipgraph/pkg/result"
)

// maxBody bounds request bodies.
const maxBody = 1 << 20

// Server holds the handlers' dependencies.
type Server struct {
	Exec    *query.Executor
	Loader  *ingest.Loader
	Metrics http.Handler // optional
	Logger  *log.Logger
}

// New creates a Server. The executor's graph serves node reads.
func New(exec *query.Executor, loader *ingest.Loader, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{Exec: exec, Loader: loader, Logger: logger}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.Metrics)
	}
	r.Route("/v1", func(r chi.Router) {
		r.Post("/query", s.handleQuery)
		r.Get("/nodes/{kind}/{id}", s.handleGetNode)
		r.Post("/nodes", s.handlePostNode)
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.Logger.Debug("request", "method", r.Method, "path", r.URL.Path,
			"status", ww.Status(), "duration", time.Since(start), "request_id", middleware.GetReqID(r.Context()))
	})
}

// QueryRequest is the body of POST /v1/query.
type QueryRequest struct {
	Chain     query.Chain    `json:"chain"`
	Bindings  query.Bindings `json:"bindings"`
	FullPaths bool           `json:"full_paths,omitempty"`
}

// QueryResponse is the answer to POST /v1/query.
type QueryResponse struct {
	*query.Trace
	Paths *result.Result `json:"paths,omitempty"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if !decode(w, r, &req) {
		return
	}
	t, err := s.Exec.Run(r.Context(), req.Chain, req.Bindings)
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := QueryResponse{Trace: t}
	if req.FullPaths {
		if resp.Paths, err = s.Exec.FullPaths(r.Context(), t); err != nil {
			s.writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	kind, err := graph.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		s.writeError(w, errors.Wrap(errors.ErrCodeInvalidInput, err, "kind"))
		return
	}
	id := chi.URLParam(r, "id")
	if err := errors.ValidateNodeID(id); err != nil {
		s.writeError(w, err)
		return
	}
	if s.Exec.Graph == nil {
		s.writeError(w, errors.New(errors.ErrCodeBackendUnavailable, "no graph store"))
		return
	}
	n, err := s.Exec.Graph.Get(r.Context(), kind, id)
	if stderrors.Is(err, graph.ErrNotFound) {
		s.writeError(w, errors.Wrap(errors.ErrCodeNotFound, err, "%s %s", kind, id))
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) handlePostNode(w http.ResponseWriter, r *http.Request) {
	var rec ingest.Record
	if !decode(w, r, &rec) {
		return
	}
	if rec.Type == "counter" {
		s.writeError(w, errors.New(errors.ErrCodeInvalidInput, "counters cannot be declared over HTTP"))
		return
	}
	n, created, err := s.Loader.Submit(r.Context(), rec)
	if err != nil {
		s.writeError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, n)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(errors.ErrCodeInvalidInput, err.Error()))
		return false
	}
	return true
}

// statusOf maps error codes to HTTP statuses.
func statusOf(err error) int {
	switch errors.GetCode(err) {
	case errors.ErrCodeInvalidInput, errors.ErrCodeConfig, errors.ErrCodeUnsupportedPredicate:
		return http.StatusBadRequest
	case errors.ErrCodeNotFound:
		return http.StatusNotFound
	case errors.ErrCodeBackendUnavailable:
		return http.StatusServiceUnavailable
	case errors.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	code := errors.GetCode(err)
	if code == "" {
		code = errors.ErrCodeInternal
	}
	if status >= 500 {
		s.Logger.Error("request failed", "err", err)
	}
	writeJSON(w, status, errorBody(code, errors.UserMessage(err)))
}

func errorBody(code errors.Code, msg string) map[string]any {
	return map[string]any{"error": map[string]string{"code": string(code), "message": msg}}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
