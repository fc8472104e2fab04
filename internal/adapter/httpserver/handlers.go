package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/creditdispatch/inference-broker/internal/config"
	"github.com/creditdispatch/inference-broker/internal/domain"
	"github.com/creditdispatch/inference-broker/internal/usecase"
)

// Server aggregates the usecase layer and the readiness probes that the
// mux's handlers are thin adapters over.
type Server struct {
	Cfg          config.Config
	Dispatch     *usecase.DispatchOrchestrator
	Settlement   *usecase.SettlementService
	Admin        *usecase.AdminService
	Replenish    *usecase.ReplenishmentService
	DBCheck      func(ctx context.Context) error
	BusCheck     func(ctx context.Context) error
}

// NewServer constructs a Server with all handler dependencies wired.
func NewServer(cfg config.Config, dispatch *usecase.DispatchOrchestrator, settlement *usecase.SettlementService, admin *usecase.AdminService, replenish *usecase.ReplenishmentService, dbCheck, busCheck func(context.Context) error) *Server {
	return &Server{
		Cfg:        cfg,
		Dispatch:   dispatch,
		Settlement: settlement,
		Admin:      admin,
		Replenish:  replenish,
		DBCheck:    dbCheck,
		BusCheck:   busCheck,
	}
}

type submitRequestBody struct {
	UserID         string         `json:"user_id" validate:"required"`
	ModelID        string         `json:"model_id" validate:"required"`
	IdempotencyKey string         `json:"idempotency_key" validate:"required"`
	Input          map[string]any `json:"input" validate:"required"`
}

func decodeSubmitRequest(w http.ResponseWriter, r *http.Request) (usecase.SubmitRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var body submitRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return usecase.SubmitRequest{}, errors.Join(domain.ErrValidation, err)
	}
	return usecase.SubmitRequest{
		UserID:         body.UserID,
		ModelID:        body.ModelID,
		IdempotencyKey: body.IdempotencyKey,
		Input:          body.Input,
	}, nil
}

// SubmitAsyncHandler dispatches a task in "send" mode.
func (s *Server) SubmitAsyncHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decodeSubmitRequest(w, r)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		jobID, err := s.Dispatch.SubmitAsync(r.Context(), req)
		if err != nil && jobID == "" {
			writeError(w, r, err, nil)
			return
		}
		// A non-nil err with a non-empty jobID means the unit of work
		// committed but the direct publish failed; the outbox row written
		// in the same transaction backstops delivery, so this is still a
		// success from the caller's perspective.
		writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": string(domain.JobPending)})
	}
}

// SubmitRPCHandler dispatches a task in synchronous "rpc" mode and waits for
// the settled result.
func (s *Server) SubmitRPCHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decodeSubmitRequest(w, r)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		timeout := s.Cfg.RPCDefaultWait
		if raw := r.URL.Query().Get("timeout_ms"); raw != "" {
			if ms, err := strconv.Atoi(raw); err == nil && ms > 0 {
				timeout = time.Duration(ms) * time.Millisecond
			}
		}
		result, err := s.Dispatch.SubmitRPC(r.Context(), req, s.Settlement, timeout)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

type replenishRequestBody struct {
	UserID string `json:"user_id" validate:"required"`
	Amount int64  `json:"amount" validate:"required,gt=0"`
}

// ReplenishHandler submits a user-initiated wallet top-up request.
func (s *Server) ReplenishHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
		var body replenishRequestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, r, errors.Join(domain.ErrValidation, err), nil)
			return
		}
		txn, err := s.Replenish.Request(r.Context(), body.UserID, body.Amount)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusAccepted, txn)
	}
}

type directCreditBody struct {
	Amount int64 `json:"amount" validate:"required,gt=0"`
}

// AdminDirectCreditHandler unconditionally credits a user's wallet.
func (s *Server) AdminDirectCreditHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		var body directCreditBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, r, errors.Join(domain.ErrValidation, err), nil)
			return
		}
		if err := s.Admin.DirectCredit(r.Context(), userID, body.Amount); err != nil {
			writeError(w, r, err, nil)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// AdminApprovePendingHandler approves a pending replenishment row.
func (s *Server) AdminApprovePendingHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		txID := chi.URLParam(r, "txID")
		if err := s.Admin.ApprovePending(r.Context(), txID); err != nil {
			writeError(w, r, err, nil)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// AdminRejectPendingHandler rejects a pending replenishment row.
func (s *Server) AdminRejectPendingHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		txID := chi.URLParam(r, "txID")
		if err := s.Admin.RejectPending(r.Context(), txID); err != nil {
			writeError(w, r, err, nil)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// AdminGetUserHandler returns a user's wallet state.
func (s *Server) AdminGetUserHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := s.Admin.GetUser(r.Context(), chi.URLParam(r, "userID"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, user)
	}
}

// AdminListJournalHandler lists a user's journal, cursor-paginated.
func (s *Server) AdminListJournalHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				limit = n
			}
		}
		rows, next, err := s.Admin.ListUserJournal(r.Context(), chi.URLParam(r, "userID"), r.URL.Query().Get("cursor"), limit)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"transactions": rows, "next_cursor": next})
	}
}

// AdminGetJobHandler returns a job's current state.
func (s *Server) AdminGetJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := s.Admin.GetJob(r.Context(), chi.URLParam(r, "jobID"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

// ReadyzHandler probes the database and message bus.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks := make([]check, 0, 2)
		if s.DBCheck != nil {
			if err := s.DBCheck(ctx); err != nil {
				checks = append(checks, check{Name: "db", OK: false, Details: err.Error()})
			} else {
				checks = append(checks, check{Name: "db", OK: true})
			}
		}
		if s.BusCheck != nil {
			if err := s.BusCheck(ctx); err != nil {
				checks = append(checks, check{Name: "bus", OK: false, Details: err.Error()})
			} else {
				checks = append(checks, check{Name: "bus", OK: true})
			}
		}
		ok := true
		for _, c := range checks {
			if !c.OK {
				ok = false
				break
			}
		}
		status := http.StatusOK
		if !ok {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]any{"checks": checks})
	}
}

// HealthzHandler is an unconditional liveness endpoint.
func (s *Server) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
