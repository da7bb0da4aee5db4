package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"scanpipe/internal/logging"
	"scanpipe/internal/metrics"
	"scanpipe/internal/pipeline"
	"scanpipe/internal/scan"
	"scanpipe/internal/services"
)

const (
	defaultSyncWait = 2 * time.Minute
	maxBodyBytes    = 1 << 20
	headerRequestID = "X-Request-ID"
)

// Pipeline is the orchestrator surface the HTTP layer drives.
type Pipeline interface {
	ProcessScan(ctx context.Context, userID, date, scanID string) (pipeline.Outcome, error)
	Submit(userID, date, scanID string) (string, error)
	Cancel(ctx context.Context, userID, date string) error
	Retry(ctx context.Context, userID, date string) (*scan.Scan, error)
	Status(ctx context.Context) pipeline.StatusSummary
}

// Options configures the router.
type Options struct {
	// Token enables bearer authentication on /api routes when non-empty.
	Token string
	// SyncWait bounds how long ?wait=true process calls block.
	SyncWait time.Duration
	Logger   *slog.Logger
}

type server struct {
	scans    *ScanService
	pipeline Pipeline
	syncWait time.Duration
	logger   *slog.Logger
}

// NewRouter builds the daemon HTTP handler.
func NewRouter(scans *ScanService, pipe Pipeline, opts Options) http.Handler {
	srv := &server{
		scans:    scans,
		pipeline: pipe,
		syncWait: opts.SyncWait,
		logger:   logging.NewComponentLogger(opts.Logger, "api"),
	}
	if srv.syncWait <= 0 {
		srv.syncWait = defaultSyncWait
	}

	router := chi.NewRouter()
	router.Use(requestID, metrics.Middleware, srv.recoverer)
	router.Method(http.MethodGet, "/metrics", metrics.Handler())

	router.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware(opts.Token))
		r.Get("/status", srv.handleStatus)
		r.Post("/events", srv.handleEvent)
		r.Route("/scans", func(r chi.Router) {
			r.Get("/", srv.handleListScans)
			r.Post("/", srv.handleCreateScan)
			r.Route("/{userID}/{date}", func(r chi.Router) {
				r.Get("/", srv.handleGetScan)
				r.Post("/process", srv.handleProcess)
				r.Post("/cancel", srv.handleCancel)
				r.Post("/retry", srv.handleRetry)
				r.Get("/view", srv.handleView)
				r.Get("/attempts", srv.handleAttempts)
			})
		})
	})
	return router
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil {
		s.writeError(w, r, services.Wrap(services.ErrConfiguration, "api", "status", "pipeline unavailable", nil))
		return
	}
	s.writeJSON(w, http.StatusOK, FromStatusSummary(s.pipeline.Status(r.Context())))
}

func (s *server) handleListScans(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	scans, err := s.scans.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if scans == nil {
		scans = []Scan{}
	}
	s.writeJSON(w, http.StatusOK, ScanListResponse{Scans: scans})
}

func (s *server) handleCreateScan(w http.ResponseWriter, r *http.Request) {
	var req CreateScanRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	resp, err := s.createAndSubmit(r.Context(), req, req.Process)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	switch {
	case resp.Existing:
		status = http.StatusOK
	case resp.Submitted:
		status = http.StatusAccepted
	}
	s.writeJSON(w, status, resp)
}

// createAndSubmit stores the scan and, when asked, starts its pipeline. A
// duplicate for a finished scan is reported as-is without a new run.
func (s *server) createAndSubmit(ctx context.Context, req CreateScanRequest, process bool) (CreateScanResponse, error) {
	created, existing, err := s.scans.Create(ctx, req)
	if err != nil {
		return CreateScanResponse{}, err
	}
	resp := CreateScanResponse{Scan: created, Existing: existing}
	if !process || isTerminalStatus(created.Status) {
		return resp, nil
	}
	if s.pipeline == nil {
		return resp, services.Wrap(services.ErrConfiguration, "api", "submit", "pipeline unavailable", nil)
	}
	if _, err := s.pipeline.Submit(created.UserID, created.Date, created.ID); err != nil {
		return resp, err
	}
	resp.Submitted = true
	return resp, nil
}

func (s *server) handleGetScan(w http.ResponseWriter, r *http.Request) {
	userID, date := keyParams(r)
	sc, err := s.scans.Describe(r.Context(), userID, date)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ScanResponse{Scan: *sc})
}

func (s *server) handleProcess(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil {
		s.writeError(w, r, services.Wrap(services.ErrConfiguration, "api", "process", "pipeline unavailable", nil))
		return
	}
	userID, date := keyParams(r)
	scanID := strings.TrimSpace(r.URL.Query().Get("scanId"))
	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))

	if !wait {
		key, err := s.pipeline.Submit(userID, date, scanID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusAccepted, ProcessResponse{Key: key, Accepted: true})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.syncWait)
	defer cancel()
	outcome, err := s.pipeline.ProcessScan(ctx, userID, date, scanID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && r.Context().Err() == nil {
			// The instance keeps running detached from this request.
			s.writeJSON(w, http.StatusAccepted, ProcessResponse{Key: scan.InstanceKey(userID, date), Accepted: true})
			return
		}
		s.writeError(w, r, err)
		return
	}
	dto := FromOutcome(outcome)
	s.writeJSON(w, http.StatusOK, ProcessResponse{Key: outcome.Key, Outcome: &dto})
}

func (s *server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil {
		s.writeError(w, r, services.Wrap(services.ErrConfiguration, "api", "cancel", "pipeline unavailable", nil))
		return
	}
	userID, date := keyParams(r)
	if err := s.pipeline.Cancel(r.Context(), userID, date); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"key": scan.InstanceKey(userID, date), "status": "cancelled"})
}

func (s *server) handleRetry(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil {
		s.writeError(w, r, services.Wrap(services.ErrConfiguration, "api", "retry", "pipeline unavailable", nil))
		return
	}
	userID, date := keyParams(r)
	sc, err := s.pipeline.Retry(r.Context(), userID, date)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.pipeline.Submit(sc.UserID, sc.Date, sc.ID); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, ScanResponse{Scan: FromScan(sc)})
}

func (s *server) handleView(w http.ResponseWriter, r *http.Request) {
	userID, date := keyParams(r)
	view, err := s.scans.View(r.Context(), userID, date)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *server) handleAttempts(w http.ResponseWriter, r *http.Request) {
	userID, date := keyParams(r)
	scanID, attempts, err := s.scans.Attempts(r.Context(), userID, date)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, AttemptListResponse{ScanID: scanID, Attempts: attempts})
}

func keyParams(r *http.Request) (string, string) {
	return strings.TrimSpace(chi.URLParam(r, "userID")), strings.TrimSpace(chi.URLParam(r, "date"))
}

func parseListFilter(r *http.Request) (scan.ListFilter, error) {
	query := r.URL.Query()
	filter := scan.ListFilter{UserID: strings.TrimSpace(query.Get("userId"))}
	for _, raw := range query["status"] {
		for _, part := range strings.Split(raw, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			status, ok := scan.ParseStatus(part)
			if !ok {
				return filter, services.Wrap(services.ErrInvalidInput, "api", "list scans", "unknown status "+strconv.Quote(part), nil)
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return filter, services.Wrap(services.ErrInvalidInput, "api", "list scans", "limit must be a non-negative integer", nil)
		}
		filter.Limit = limit
	}
	return filter, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return services.Wrap(services.ErrInvalidInput, "api", "decode body", "malformed JSON body", err)
	}
	return nil
}

func isTerminalStatus(status string) bool {
	parsed, ok := scan.ParseStatus(status)
	return ok && parsed.IsTerminal()
}

// statusForError maps the error taxonomy onto HTTP statuses.
func statusForError(err error) int {
	switch {
	case errors.Is(err, scan.ErrTerminal), errors.Is(err, scan.ErrAuthoritativeExists):
		return http.StatusConflict
	}
	switch services.KindOf(err) {
	case services.KindInvalidInput:
		return http.StatusBadRequest
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindBusinessRejection, services.KindValidation:
		return http.StatusUnprocessableEntity
	case services.KindConfiguration:
		return http.StatusServiceUnavailable
	case services.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusServiceUnavailable
	}
}

func (s *server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("api response encode failed", logging.Error(err))
	}
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	details := services.Details(err)
	if status >= http.StatusInternalServerError {
		attrs := append([]logging.Attr{
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", status),
		}, logging.ErrorAttrs(err)...)
		logging.WithContext(r.Context(), s.logger).Warn("api request failed", logging.Args(attrs...)...)
	}
	s.writeJSON(w, status, ErrorResponse{
		Error: details.Message,
		Kind:  string(details.Kind),
		Hint:  details.Hint,
	})
}

func (s *server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logging.ErrorWithContext(s.logger, "api handler panic", "api_panic",
					logging.String("path", r.URL.Path),
					logging.Any("panic", rec),
				)
				s.writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requestID tags the request context with the caller's X-Request-ID or a new one.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(headerRequestID))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(services.WithRequestID(r.Context(), id)))
	})
}
