package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"circulationd/internal/circulation"
	"circulationd/internal/identity"
	"circulationd/internal/ratelimit"
	"circulationd/internal/util"
	"circulationd/pkg/domain"
)

// Config wires required dependencies for the HTTP server. Limiter is
// optional; nil disables per-actor rate limiting.
type Config struct {
	Coordinator *circulation.Coordinator
	Verifier    *identity.Verifier
	Limiter     *ratelimit.FixedWindowLimiter
}

// Server exposes the circulation coordinator over HTTP.
type Server struct {
	coord    *circulation.Coordinator
	verifier *identity.Verifier
	limiter  *ratelimit.FixedWindowLimiter
	mux      *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.Coordinator == nil {
		return nil, errors.New("server requires a coordinator")
	}
	if cfg.Verifier == nil {
		return nil, errors.New("server requires a token verifier")
	}
	s := &Server{
		coord:    cfg.Coordinator,
		verifier: cfg.Verifier,
		limiter:  cfg.Limiter,
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("circulation", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/loans", s.withActor(s.handleLoans))
	s.mux.Handle("/loans/", s.withActor(s.handleLoanByID))
	s.mux.Handle("/reservations", s.withActor(s.handleReservations))
	s.mux.Handle("/reservations/", s.withActor(s.handleReservationByID))
	s.mux.Handle("/fines/", s.withActor(s.handleFineByID))
	s.mux.Handle("/books/", s.withActor(s.handleBookByID))
	s.mux.Handle("/readers/", s.withActor(s.handleReaderByID))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type actorHandler func(http.ResponseWriter, *http.Request, domain.Actor)

func (s *Server) withActor(next actorHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := identity.BearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		actor, err := s.verifier.VerifyActor(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if !s.limiter.Allow(actor.ID) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r, actor)
	})
}

type borrowRequest struct {
	ReaderID string `json:"readerId"`
	BookID   string `json:"bookId"`
}

func (s *Server) handleLoans(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req borrowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	ticket, err := s.coord.Borrow(r.Context(), actor, req.ReaderID, req.BookID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ticket)
}

type returnRequest struct {
	Condition string `json:"condition"`
	Note      string `json:"note"`
}

// /loans/overdue, /loans/{id}/return, /loans/{id}/renew
func (s *Server) handleLoanByID(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	path := strings.TrimPrefix(r.URL.Path, "/loans/")
	if path == "overdue" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		tickets, err := s.coord.ListOverdueTickets(r.Context(), actor)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, tickets)
		return
	}
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		notFound(w)
		return
	}
	id, action := parts[0], parts[1]
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	switch action {
	case "return":
		var req returnRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		condition := domain.ReturnCondition(req.Condition)
		if condition == "" {
			condition = domain.ConditionGood
		}
		row, err := s.coord.Return(r.Context(), actor, id, condition, req.Note)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, row)
	case "renew":
		row, err := s.coord.Renew(r.Context(), actor, id)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, row)
	default:
		notFound(w)
	}
}

func (s *Server) handleReservations(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req borrowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res, err := s.coord.Reserve(r.Context(), actor, req.ReaderID, req.BookID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

type reservationDecision struct {
	Note   string `json:"note"`
	Reason string `json:"reason"`
}

// /reservations/{id}/approve|reject|cancel
func (s *Server) handleReservationByID(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/reservations/"), "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		notFound(w)
		return
	}
	id, action := parts[0], parts[1]
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req reservationDecision
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	switch action {
	case "approve":
		res, err := s.coord.Approve(r.Context(), actor, id, req.Note)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	case "reject":
		res, err := s.coord.Reject(r.Context(), actor, id, req.Reason)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	case "cancel":
		if err := s.coord.Cancel(r.Context(), actor, id); err != nil {
			writeEngineError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		notFound(w)
	}
}

// /fines/{id}/pay|waive
func (s *Server) handleFineByID(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/fines/"), "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		notFound(w)
		return
	}
	id, action := parts[0], parts[1]
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	switch action {
	case "pay":
		fine, err := s.coord.PayFine(r.Context(), actor, id)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, fine)
	case "waive":
		fine, err := s.coord.WaiveFine(r.Context(), actor, id)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, fine)
	default:
		notFound(w)
	}
}

// /books/{id}/availability, /books/{id}/queue
func (s *Server) handleBookByID(w http.ResponseWriter, r *http.Request, _ domain.Actor) {
	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/books/"), "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		notFound(w)
		return
	}
	id, view := parts[0], parts[1]
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	switch view {
	case "availability":
		snapshot, err := s.coord.GetBookAvailability(r.Context(), id)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snapshot)
	case "queue":
		queue, err := s.coord.ListBookQueue(r.Context(), id)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, queue)
	default:
		notFound(w)
	}
}

// /readers/{id}/loans, /readers/{id}/fines
func (s *Server) handleReaderByID(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/readers/"), "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		notFound(w)
		return
	}
	id, view := parts[0], parts[1]
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	switch view {
	case "loans":
		tickets, err := s.coord.ListReaderLoans(r.Context(), actor, id)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, tickets)
	case "fines":
		fines, err := s.coord.ListReaderFines(r.Context(), actor, id)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, fines)
	default:
		notFound(w)
	}
}

// writeEngineError maps the engine's error taxonomy onto HTTP statuses.
// Policy violations are actionable, conflicts retryable, invariant
// violations deliberately opaque.
func writeEngineError(w http.ResponseWriter, err error) {
	var (
		validation *circulation.ValidationError
		forbidden  *circulation.ForbiddenError
		notFoundE  *circulation.NotFoundError
		conflict   *circulation.ConflictError
		policy     *circulation.PolicyError
		invariant  *circulation.InvariantError
	)
	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, validation.Message)
	case errors.As(err, &forbidden):
		writeError(w, http.StatusForbidden, forbidden.Message)
	case errors.As(err, &notFoundE):
		writeError(w, http.StatusNotFound, notFoundE.Error())
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, conflict.Message)
	case errors.As(err, &policy):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": policy.Message,
			"code":  string(policy.Code),
		})
	case errors.As(err, &invariant):
		writeError(w, http.StatusInternalServerError, "internal error")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
