package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/doc-enricher/constants"
	"github.com/joseph-ayodele/doc-enricher/internal/artifact"
	"github.com/joseph-ayodele/doc-enricher/internal/common"
	"github.com/joseph-ayodele/doc-enricher/internal/export"
	"github.com/joseph-ayodele/doc-enricher/internal/ingest"
	"github.com/joseph-ayodele/doc-enricher/internal/pipeline"
	"github.com/joseph-ayodele/doc-enricher/internal/repository"
)

const (
	headerRequestID = "X-Request-ID"
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	defaultRunLimit = 50
)

var stageNameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// Runner executes stages and exposes their definition.
type Runner interface {
	Run(ctx context.Context, stageID string, req pipeline.Request) (pipeline.Envelope, error)
	Definition() *pipeline.Definition
}

// Deps are the services behind the HTTP API. Runs, Exporter and Health are
// optional.
type Deps struct {
	Runner   Runner
	Store    artifact.Store
	Ingestor ingest.Ingestor
	Runs     repository.StageRunRepository
	Exporter *export.Service
	Health   func(ctx context.Context) error
}

type Config struct {
	MaxRequestBytes int64
	MaxRawTextBytes int64
}

// Server is the HTTP surface of the enricher.
type Server struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger
	mux    *http.ServeMux
}

func New(deps Deps, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{deps: deps, cfg: cfg, logger: logger, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /v1/stages/{stage}/run", s.handleRunStage)
	s.mux.HandleFunc("GET /v1/stages", s.handleListStages)
	s.mux.HandleFunc("PUT /v1/documents/{document}/raw-text", s.handlePutRawText)
	s.mux.HandleFunc("GET /v1/documents/{document}/artifacts/{kind}", s.handleGetArtifact)
	s.mux.HandleFunc("GET /v1/documents/{document}/runs", s.handleListRuns)
	s.mux.HandleFunc("GET /v1/export.xlsx", s.handleExport)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
}

// Handler returns the routed handler wrapped with request id and access
// logging.
func (s *Server) Handler() http.Handler {
	return s.withRequestID(s.mux)
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := r.Header.Get(headerRequestID)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set(headerRequestID, reqID)
		rec := &statusRecorder{ResponseWriter: w}

		next.ServeHTTP(rec, r.WithContext(common.WithRequestID(r.Context(), reqID)))

		s.logger.Info("http.request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"elapsed_ms", time.Since(start).Milliseconds(),
			"req_id", reqID,
		)
	})
}

// runRequest is the body of a stage run. Every field other than
// document_basename and model is a template parameter.
type runRequest struct {
	Document string
	Model    string
	Params   map[string]string
}

func decodeRunRequest(body []byte, stage string) (runRequest, error) {
	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil || raw == nil {
		return runRequest{}, common.ValidationErrorf("request body must be a JSON object")
	}

	var out runRequest
	out.Params = make(map[string]string, len(raw))
	for k, v := range raw {
		switch k {
		case "document_basename":
			s, ok := v.(string)
			if !ok {
				ae := common.ValidationErrorf("document_basename must be a string")
				ae.Key = k
				return runRequest{}, ae
			}
			out.Document = s
			continue
		case "model":
			if s, ok := v.(string); ok {
				out.Model = s
			}
			continue
		}
		switch tv := v.(type) {
		case string:
			out.Params[k] = tv
		case json.Number:
			out.Params[k] = tv.String()
		case bool:
			out.Params[k] = strconv.FormatBool(tv)
		case nil:
		default:
			ae := common.ValidationErrorf("parameter %q must be a string, number or boolean", k)
			ae.Key = k
			return runRequest{}, ae
		}
	}

	v := common.NewValidator().
		Field("document_basename", out.Document, common.Required, common.MaxLength(constants.MaxDocumentNameLength)).
		Field("stage", stage, common.Required, common.MaxLength(64), common.Matches(stageNameRe, "must contain only letters, digits, '_' or '-'"))
	if err := v.Error(); err != nil {
		return runRequest{}, err
	}
	return out, nil
}

func (s *Server) handleRunStage(w http.ResponseWriter, r *http.Request) {
	stage := r.PathValue("stage")
	body, err := readLimited(w, r, s.cfg.MaxRequestBytes)
	if err != nil {
		writeError(w, err)
		return
	}
	req, err := decodeRunRequest(body, stage)
	if err != nil {
		writeError(w, err)
		return
	}

	env, err := s.deps.Runner.Run(r.Context(), stage, pipeline.Request{
		Document: req.Document,
		Model:    req.Model,
		Params:   req.Params,
	})
	writeJSON(w, common.HTTPStatus(err), env)
}

func (s *Server) handleListStages(w http.ResponseWriter, _ *http.Request) {
	stages := s.deps.Runner.Definition().Stages()
	infos := make([]pipeline.StageInfo, 0, len(stages))
	for _, st := range stages {
		infos = append(infos, st.Info())
	}
	writeJSON(w, http.StatusOK, map[string]any{"stages": infos})
}

func (s *Server) handlePutRawText(w http.ResponseWriter, r *http.Request) {
	body, err := readLimited(w, r, s.cfg.MaxRawTextBytes)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := s.deps.Ingestor.IngestText(r.Context(), r.PathValue("document"), body)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusCreated
	if res.Deduplicated {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	doc, err := artifact.SanitizeDocument(r.PathValue("document"))
	if err != nil {
		writeError(w, err)
		return
	}
	key, err := artifact.ParseKey(r.PathValue("kind"))
	if err != nil {
		writeError(w, err)
		return
	}
	b, err := s.deps.Store.Get(r.Context(), doc, key)
	if err != nil {
		writeError(w, err)
		return
	}

	switch key.Kind {
	case artifact.RawText, artifact.ProviderFileRef, artifact.AgentRef:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	default:
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		writeError(w, common.NewAppError(common.KindNotFound, "run history is disabled", common.ErrNotFound))
		return
	}
	doc, err := artifact.SanitizeDocument(r.PathValue("document"))
	if err != nil {
		writeError(w, err)
		return
	}
	limit := defaultRunLimit
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			writeError(w, common.ValidationErrorf("limit must be a positive integer"))
			return
		}
		limit = n
	}

	runs, err := s.deps.Runs.ListByDocument(r.Context(), doc, limit)
	if err != nil {
		s.logger.Error("runs.list.failed", "document", doc, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"document": doc, "runs": runs})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.deps.Exporter == nil {
		writeError(w, common.NewAppError(common.KindNotFound, "export is disabled", common.ErrNotFound))
		return
	}
	xlsx, err := s.deps.Exporter.ExportDocumentsXLSX(r.Context(), r.URL.Query()["document"])
	if err != nil {
		s.logger.Error("export.xlsx.failed", "error", err)
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="documents.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(xlsx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := s.deps.Health(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
