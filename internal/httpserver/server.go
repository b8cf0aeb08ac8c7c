// Package httpserver exposes the release controller as a JSON API. The
// route surface mirrors the operator CLI; mutating requests carry the
// operator name in the X-Operator header.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/quantfoundry/modelgate/internal/canary"
	"github.com/quantfoundry/modelgate/internal/marathon"
	"github.com/quantfoundry/modelgate/internal/pointer"
	"github.com/quantfoundry/modelgate/internal/release"
	"github.com/quantfoundry/modelgate/internal/version"
)

// operatorHeader attributes mutations on the audit trail. Not an auth
// mechanism; authentication sits outside this service.
const operatorHeader = "X-Operator"

type Server struct {
	ctrl *release.Controller
}

func New(ctrl *release.Controller) *Server {
	return &Server{ctrl: ctrl}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)

	r.Route("/release", func(r chi.Router) {
		r.Get("/versions", s.handleListVersions)
		r.Get("/versions/{id}", s.handleGetVersion)
		r.Get("/pointers", s.handlePointers)
		r.Get("/gates", s.handleGates)
		r.Post("/promote", s.handlePromote)
		r.Post("/rollback", s.handleRollback)

		r.Route("/canary", func(r chi.Router) {
			r.Get("/", s.handleCanaryPolicy)
			r.Post("/enable", s.handleCanaryEnable)
			r.Post("/disable", s.handleCanaryDisable)
			r.Post("/fraction", s.handleCanaryFraction)
		})

		r.Route("/marathon", func(r chi.Router) {
			r.Get("/", s.handleMarathonStatus)
			r.Get("/report", s.handleLatestReport)
			r.Post("/start", s.handleMarathonStart)
			r.Post("/evaluate", s.handleMarathonEvaluate)
			r.Post("/abort", s.handleMarathonAbort)
		})

		r.Route("/cycle", func(r chi.Router) {
			r.Post("/begin", s.handleCycleBegin)
			r.Post("/evaluate", s.handleMarathonEvaluate)
		})

		r.Route("/audit", func(r chi.Router) {
			r.Get("/events", s.handleAuditEvents)
			r.Get("/verify", s.handleAuditVerify)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status := map[string]interface{}{
		"ok":   true,
		"time": time.Now().UTC(),
	}
	if err := s.ctrl.Ping(ctx); err != nil {
		status["ok"] = false
		status["pointer_backend"] = err.Error()
		respondJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := s.ctrl.ListVersions(r.Context())
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, versions)
}

func (s *Server) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	v, err := s.ctrl.GetVersion(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, v)
}

func (s *Server) handlePointers(w http.ResponseWriter, r *http.Request) {
	states, err := s.ctrl.Pointers(r.Context())
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, states)
}

func (s *Server) handleGates(w http.ResponseWriter, r *http.Request) {
	snap, err := s.ctrl.Gates(r.Context())
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

type swapRequest struct {
	ModelType string `json:"model_type"`
	VersionID string `json:"version_id"`
}

func (s *Server) handlePromote(w http.ResponseWriter, r *http.Request) {
	var req swapRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ModelType == "" {
		req.ModelType = release.AllModelTypes
	}
	report, err := s.ctrl.Promote(r.Context(), operator(r), req.ModelType, req.VersionID)
	respondSwap(w, report, err)
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	var req swapRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	// The CLI-compatible "list" version id answers with the catalog
	// instead of moving anything.
	if req.VersionID == "list" {
		s.handleListVersions(w, r)
		return
	}
	if req.ModelType == "" {
		req.ModelType = release.AllModelTypes
	}
	report, err := s.ctrl.Rollback(r.Context(), operator(r), req.ModelType, req.VersionID)
	respondSwap(w, report, err)
}

func (s *Server) handleCanaryPolicy(w http.ResponseWriter, r *http.Request) {
	policy, err := s.ctrl.CanaryPolicy(r.Context())
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, policy)
}

func (s *Server) handleCanaryEnable(w http.ResponseWriter, r *http.Request) {
	policy, err := s.ctrl.CanaryEnable(r.Context(), operator(r))
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, policy)
}

func (s *Server) handleCanaryDisable(w http.ResponseWriter, r *http.Request) {
	policy, err := s.ctrl.CanaryDisable(r.Context(), operator(r))
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, policy)
}

type fractionRequest struct {
	Fraction *float64 `json:"fraction"`
}

func (s *Server) handleCanaryFraction(w http.ResponseWriter, r *http.Request) {
	var req fractionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Fraction == nil {
		respondError(w, http.StatusBadRequest, "fraction required")
		return
	}
	policy, err := s.ctrl.CanarySetFraction(r.Context(), operator(r), *req.Fraction)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, policy)
}

func (s *Server) handleMarathonStatus(w http.ResponseWriter, r *http.Request) {
	run, err := s.ctrl.MarathonStatus(r.Context())
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, run)
}

func (s *Server) handleLatestReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.ctrl.LatestReport(r.Context())
	if err != nil {
		if errors.Is(err, marathon.ErrNotRunning) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, report)
}

type marathonStartRequest struct {
	MinimumDurationSec int64 `json:"minimum_duration_sec"`
}

func (s *Server) handleMarathonStart(w http.ResponseWriter, r *http.Request) {
	// An empty body selects the policy default window.
	var req marathonStartRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	run, err := s.ctrl.MarathonStart(r.Context(), operator(r), time.Duration(req.MinimumDurationSec)*time.Second)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, run)
}

func (s *Server) handleMarathonEvaluate(w http.ResponseWriter, r *http.Request) {
	report, err := s.ctrl.MarathonEvaluate(r.Context(), operator(r))
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleMarathonAbort(w http.ResponseWriter, r *http.Request) {
	run, err := s.ctrl.MarathonAbort(r.Context(), operator(r))
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, run)
}

func (s *Server) handleCycleBegin(w http.ResponseWriter, r *http.Request) {
	start, err := s.ctrl.BeginCycle(r.Context(), operator(r))
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, start)
}

func (s *Server) handleAuditEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.ctrl.AuditEvents(r.Context())
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, events)
}

func (s *Server) handleAuditVerify(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.VerifyAudit(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func operator(r *http.Request) string {
	if actor := r.Header.Get(operatorHeader); actor != "" {
		return actor
	}
	return "api"
}

// statusFor maps the error taxonomy onto HTTP statuses: validation 400,
// unknown version 404, concurrency conflicts 409, failed swaps and
// everything else 500.
func statusFor(err error) int {
	var se *pointer.SwapError
	switch {
	case errors.As(err, &se):
		return http.StatusInternalServerError
	case errors.Is(err, version.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, version.ErrUnknownModelType),
		errors.Is(err, canary.ErrInvalidFraction),
		errors.Is(err, marathon.ErrInvalidDuration):
		return http.StatusBadRequest
	case errors.Is(err, marathon.ErrAlreadyRunning),
		errors.Is(err, marathon.ErrNotRunning),
		errors.Is(err, marathon.ErrRunSuperseded):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// respondSwap keeps the per-type evidence visible even when the overall
// operation failed.
func respondSwap(w http.ResponseWriter, report release.SwapReport, err error) {
	if err != nil {
		var se *pointer.SwapError
		if errors.As(err, &se) {
			logrus.WithFields(logrus.Fields{
				"model_type": se.ModelType,
				"version_id": se.VersionID,
			}).WithError(se.Err).Error("pointer swap failed, deployment still on the prior version")
		}
		respondJSON(w, statusFor(err), map[string]interface{}{
			"error":    err.Error(),
			"action":   report.Action,
			"outcomes": report.Outcomes,
		})
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
