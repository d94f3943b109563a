package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	app "github.com/R3E-Network/sealed_scores/internal/app"
	"github.com/R3E-Network/sealed_scores/internal/app/domain/score"
	"github.com/R3E-Network/sealed_scores/internal/app/metrics"
	"github.com/R3E-Network/sealed_scores/internal/app/notify"
	"github.com/R3E-Network/sealed_scores/internal/app/services/scores"
	svcerrors "github.com/R3E-Network/sealed_scores/internal/errors"
	internalhttputil "github.com/R3E-Network/sealed_scores/internal/httputil"
	"github.com/R3E-Network/sealed_scores/internal/middleware"
	"github.com/R3E-Network/sealed_scores/pkg/logger"
)

const (
	maxBodyBytes      = 64 << 10
	defaultEventLimit = 50
)

// Options configures the optional HTTP layers.
type Options struct {
	// Auth, when set, protects submission and job history routes.
	Auth *middleware.AuthMiddleware
	// RateLimiter, when set, applies to every /v1 route.
	RateLimiter    *middleware.RateLimiter
	AllowedOrigins []string
	Audit          *AuditLog
	Log            *logger.Logger
}

// handler bundles HTTP endpoints for the scores service.
type handler struct {
	app   *app.Application
	audit *AuditLog
	log   *logger.Logger
}

// NewHandler returns a router exposing the REST API, the event stream,
// health and metrics.
func NewHandler(application *app.Application, opts Options) http.Handler {
	if opts.Log == nil {
		opts.Log = logger.NewDefault("httpapi")
	}
	if opts.Audit == nil {
		opts.Audit = newAuditLog(0, nil)
	}
	h := &handler{app: application, audit: opts.Audit, log: opts.Log}

	protect := func(fn http.HandlerFunc) http.Handler {
		if opts.Auth == nil {
			return fn
		}
		return opts.Auth.Handler(fn)
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/v1").Subrouter()
	if opts.RateLimiter != nil {
		api.Use(opts.RateLimiter.Handler)
	}
	api.Handle("/jobs", protect(h.submit)).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{offset}", h.getJob).Methods(http.MethodGet)
	api.HandleFunc("/callbacks/{offset}", h.callback).Methods(http.MethodPost)
	api.HandleFunc("/results/{owner}", h.getResult).Methods(http.MethodGet)
	api.HandleFunc("/results/{owner}/raw", h.getRawResult).Methods(http.MethodGet)
	api.Handle("/owners/{owner}/jobs", protect(h.ownerJobs)).Methods(http.MethodGet)
	api.HandleFunc("/cluster", h.clusterInfo).Methods(http.MethodGet)
	api.HandleFunc("/events/recent", h.recentEvents).Methods(http.MethodGet)
	if application.Hub != nil {
		api.Handle("/events", application.Hub).Methods(http.MethodGet)
	}
	api.HandleFunc("/audit", h.auditEntries).Methods(http.MethodGet)

	var root http.Handler = r
	root = wrapWithAudit(root, opts.Audit)
	if len(opts.AllowedOrigins) > 0 {
		root = middleware.NewCORSMiddleware(opts.AllowedOrigins).Handler(root)
	}
	root = middleware.NewTracingMiddleware(opts.Log).Handler(root)
	return metrics.InstrumentHandler(root)
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	_, clusterErr := h.app.Scores.ClusterInfo()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "ok",
		"cluster_configured": clusterErr == nil,
	})
}

func (h *handler) submit(w http.ResponseWriter, r *http.Request) {
	var req scores.SubmitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, svcerrors.InvalidFormat("body", err.Error()))
		return
	}

	ctx := r.Context()
	if subject := middleware.GetSubject(ctx); subject != "" {
		caller, err := score.ParseOwner(subject)
		if err != nil {
			h.writeError(w, r, svcerrors.Forbidden("token subject is not an owner id"))
			return
		}
		ctx = scores.WithCaller(ctx, caller)
	}

	job, err := h.app.Scores.Submit(ctx, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (h *handler) getJob(w http.ResponseWriter, r *http.Request) {
	offset, ok := h.offsetParam(w, r)
	if !ok {
		return
	}
	job, err := h.app.Scores.GetJob(r.Context(), offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *handler) callback(w http.ResponseWriter, r *http.Request) {
	offset, ok := h.offsetParam(w, r)
	if !ok {
		return
	}
	var out score.SignedOutput
	if err := decodeJSON(w, r, &out); err != nil {
		h.writeError(w, r, svcerrors.InvalidFormat("body", err.Error()))
		return
	}
	evt, err := h.app.Scores.HandleCallback(r.Context(), offset, out)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, evt)
}

func (h *handler) getResult(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.ownerParam(w, r)
	if !ok {
		return
	}
	res, err := h.app.Scores.GetResult(r.Context(), owner)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) getRawResult(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.ownerParam(w, r)
	if !ok {
		return
	}
	res, err := h.app.Scores.GetResult(r.Context(), owner)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	raw, err := res.MarshalBinary()
	if err != nil {
		h.writeError(w, r, svcerrors.Internal("encode result", err))
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(raw)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func (h *handler) ownerJobs(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.ownerParam(w, r)
	if !ok {
		return
	}
	if subject := middleware.GetSubject(r.Context()); subject != "" && subject != owner.String() {
		h.writeError(w, r, score.ErrOwnerMismatch)
		return
	}
	limit, ok := h.intQuery(w, r, "limit")
	if !ok {
		return
	}
	jobs, err := h.app.Scores.ListOwnerJobs(r.Context(), owner, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (h *handler) clusterInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.app.Scores.ClusterInfo()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// recentEvents serves the replay log for clients that poll instead of
// holding a WebSocket open. With ?since it returns every retained event
// after that sequence, oldest first; otherwise the newest ?limit events.
func (h *handler) recentEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var (
		owner    score.Owner
		hasOwner bool
	)
	if raw := query.Get("owner"); raw != "" {
		parsed, err := score.ParseOwner(raw)
		if err != nil {
			h.writeError(w, r, svcerrors.InvalidFormat("owner", "64 hex characters"))
			return
		}
		owner, hasOwner = parsed, true
	}

	if raw := query.Get("since"); raw != "" {
		since, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			h.writeError(w, r, svcerrors.InvalidFormat("since", "unsigned integer"))
			return
		}
		var filter notify.Filter
		if hasOwner {
			filter = notify.OwnerFilter(owner)
		}
		writeJSON(w, http.StatusOK, nonNil(h.app.Events.Since(since, filter)))
		return
	}

	limit, ok := h.intQuery(w, r, "limit")
	if !ok {
		return
	}
	if limit == 0 {
		limit = defaultEventLimit
	}
	if hasOwner {
		writeJSON(w, http.StatusOK, nonNil(h.app.Events.RecentByOwner(owner, limit)))
		return
	}
	writeJSON(w, http.StatusOK, nonNil(h.app.Events.Recent(limit)))
}

func nonNil(events []score.Event) []score.Event {
	if events == nil {
		return []score.Event{}
	}
	return events
}

func (h *handler) auditEntries(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.intQuery(w, r, "limit")
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.audit.listLimit(limit))
}

func (h *handler) offsetParam(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	offset, err := strconv.ParseUint(mux.Vars(r)["offset"], 10, 64)
	if err != nil {
		h.writeError(w, r, svcerrors.InvalidFormat("offset", "unsigned 64-bit integer"))
		return 0, false
	}
	return offset, true
}

func (h *handler) ownerParam(w http.ResponseWriter, r *http.Request) (score.Owner, bool) {
	owner, err := score.ParseOwner(mux.Vars(r)["owner"])
	if err != nil {
		h.writeError(w, r, svcerrors.InvalidFormat("owner", "64 hex characters"))
		return score.Owner{}, false
	}
	return owner, true
}

func (h *handler) intQuery(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		h.writeError(w, r, svcerrors.InvalidFormat(name, "non-negative integer"))
		return 0, false
	}
	return v, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return fmt.Errorf("unexpected data after JSON body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	internalhttputil.WriteJSON(w, status, data)
}

func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	se := svcerrors.GetServiceError(err)
	if se == nil {
		se = svcerrors.Internal("internal error", err)
	}
	if se.HTTPStatus >= http.StatusInternalServerError {
		h.log.WithError(err).
			WithField("path", r.URL.Path).
			WithField("trace_id", middleware.GetTraceID(r.Context())).
			Error("request failed")
	}
	internalhttputil.WriteErrorResponse(w, r, se.HTTPStatus, string(se.Code), se.Message, se.Details)
}
