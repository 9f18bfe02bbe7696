// Package httpserver exposes the credential lifecycle API over HTTP.
package httpserver

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"memberpass/internal/errs"
	"memberpass/internal/model"
	"memberpass/internal/obs"
	"memberpass/internal/repository"
	"memberpass/internal/service"
)

// Server wires services into HTTP handlers.
type Server struct {
	issuance *service.IssuanceService
	verify   *service.VerificationService
	sweeper  *service.Sweeper
	auth     service.AuthService
	issuers  repository.IssuerRepository
	events   repository.VerificationEventRepository
	signKey  []byte
	log      *zap.Logger
}

// New constructs an HTTP server with injected services.
func New(
	issuance *service.IssuanceService,
	verify *service.VerificationService,
	sweeper *service.Sweeper,
	auth service.AuthService,
	issuers repository.IssuerRepository,
	events repository.VerificationEventRepository,
	signKey []byte,
	log *zap.Logger,
) *Server {
	return &Server{
		issuance: issuance,
		verify:   verify,
		sweeper:  sweeper,
		auth:     auth,
		issuers:  issuers,
		events:   events,
		signKey:  signKey,
		log:      log,
	}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(Recover(s.log), Logging(s.log), obs.Instrument)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", obs.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Post("/credentials", s.handleIssue)
		r.Post("/verify", s.handleVerify)

		r.Group(func(r chi.Router) {
			r.Use(RequireOperator(s.signKey))
			r.Post("/sweep", s.handleSweep)
			r.Post("/issuers", s.handleCreateIssuer)
			r.Get("/issuers", s.handleListIssuers)
			r.Patch("/issuers/{id}", s.handleUpdateIssuer)
			r.Get("/issuers/{id}/events", s.handleIssuerEvents)
			r.Get("/credentials/{id}/events", s.handleCredentialEvents)
		})
	})
	return r
}

// --- Auth ---

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request body")
		return
	}
	tokens, err := s.auth.LoginWithIP(r.Context(), req.Username, req.Password, r.RemoteAddr)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": tokens.AccessToken,
		"expires_at":   tokens.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// --- Issuance ---

type issueRequest struct {
	IssuerID          string    `json:"issuer_id"`
	MemberExternalID  string    `json:"member_external_id"`
	MemberDisplayName string    `json:"member_display_name"`
	ProofRef          string    `json:"proof_ref"`
	SessionStartedAt  time.Time `json:"session_started_at"`
}

func (s *Server) handleIssue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request body")
		return
	}
	issuerID, err := uuid.FromString(req.IssuerID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad issuer_id")
		return
	}
	res, err := s.issuance.Issue(r.Context(), service.IssueRequest{
		IssuerID:          issuerID,
		MemberExternalID:  req.MemberExternalID,
		MemberDisplayName: req.MemberDisplayName,
		ProofRef:          req.ProofRef,
		SessionStartedAt:  req.SessionStartedAt,
	})
	if err != nil {
		obs.CountIssuance(issuanceOutcome(err))
		s.writeServiceError(w, err)
		return
	}
	obs.CountIssuance("issued")
	writeJSON(w, http.StatusCreated, map[string]any{
		"credential":   credentialDTO(res.Credential),
		"presentation": base64.StdEncoding.EncodeToString(res.Presentation),
	})
}

// --- Verification ---

type verifyRequest struct {
	Payload   string `json:"payload"` // base64 canonical payload bytes
	Signature string `json:"signature"`
	IssuerID  string `json:"issuer_id"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request body")
		return
	}
	raw, err := base64.StdEncoding.DecodeString(req.Payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, "payload is not base64")
		return
	}
	issuerID, err := uuid.FromString(req.IssuerID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad issuer_id")
		return
	}
	res, err := s.verify.VerifyPresented(r.Context(), raw, req.Signature, issuerID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	obs.CountVerification(string(res.Outcome))
	body := map[string]any{"outcome": res.Outcome, "detail": res.Detail}
	if res.Outcome == model.OutcomeSuccess {
		body["credential"] = credentialDTO(res.Credential)
	}
	writeJSON(w, http.StatusOK, body)
}

// --- Sweeper ---

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	run, err := s.sweeper.RunSweep(r.Context(), time.Now())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	countSweep(run)
	writeJSON(w, http.StatusOK, sweepDTO(run))
}

// --- Issuers ---

type issuerRequest struct {
	ExternalID   string `json:"external_id"`
	Name         string `json:"name"`
	DefaultLabel string `json:"default_label"`
	OriginRef    string `json:"origin_ref"`
}

func (s *Server) handleCreateIssuer(w http.ResponseWriter, r *http.Request) {
	var req issuerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request body")
		return
	}
	if req.ExternalID == "" || req.Name == "" || req.OriginRef == "" {
		writeError(w, http.StatusBadRequest, "external_id, name and origin_ref are required")
		return
	}
	id, err := uuid.NewV4()
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	label := req.DefaultLabel
	if label == "" {
		label = "Member"
	}
	iss := &model.Issuer{
		ID:           id,
		ExternalID:   req.ExternalID,
		Name:         req.Name,
		DefaultLabel: label,
		OriginRef:    req.OriginRef,
		Active:       true,
	}
	if err := s.issuers.Create(r.Context(), iss); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, issuerDTO(iss))
}

func (s *Server) handleListIssuers(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	list, err := s.issuers.List(r.Context(), activeOnly)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	out := make([]any, 0, len(list))
	for i := range list {
		out = append(out, issuerDTO(&list[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"issuers": out})
}

type issuerUpdateRequest struct {
	Name         *string `json:"name"`
	DefaultLabel *string `json:"default_label"`
	OriginRef    *string `json:"origin_ref"`
	Active       *bool   `json:"active"`
}

func (s *Server) handleUpdateIssuer(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad issuer id")
		return
	}
	var req issuerUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request body")
		return
	}
	upd := repository.IssuerUpdate{
		Name:         req.Name,
		DefaultLabel: req.DefaultLabel,
		OriginRef:    req.OriginRef,
		Active:       req.Active,
	}
	if err := s.issuers.Update(r.Context(), id, upd); err != nil {
		s.writeServiceError(w, err)
		return
	}
	iss, err := s.issuers.GetByID(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, issuerDTO(iss))
}

// --- Audit ---

func (s *Server) handleCredentialEvents(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad credential id")
		return
	}
	limit, offset := pagination(r)
	evs, err := s.events.ListByCredential(r.Context(), id, limit, offset)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": eventDTOs(evs)})
}

func (s *Server) handleIssuerEvents(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad issuer id")
		return
	}
	limit, offset := pagination(r)
	evs, err := s.events.ListByIssuer(r.Context(), id, limit, offset)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": eventDTOs(evs)})
}

func pagination(r *http.Request) (limit, offset int) {
	limit = 50
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 500 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}

// writeServiceError maps domain errors onto HTTP statuses. Issuance failures
// must keep "not eligible", "try again later" and "already issued" apart.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	if dup, ok := errs.IsDuplicateActive(err); ok {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":           "active credential already exists",
			"existing_expiry": dup.ExistingExpiry.UTC().Format(time.RFC3339),
		})
		return
	}
	switch {
	case errors.Is(err, errs.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, errs.ErrProofInvalid):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, errs.ErrIssuerInactive):
		writeError(w, http.StatusUnprocessableEntity, "issuer is not active")
	case errors.Is(err, errs.ErrOriginUnavailable):
		writeError(w, http.StatusServiceUnavailable, "origin platform unavailable, try again later")
	case errors.Is(err, errs.ErrOriginRejected):
		writeError(w, http.StatusForbidden, "origin platform rejected the request")
	case errors.Is(err, errs.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "bad credentials")
	case errors.Is(err, errs.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate limited")
	case errors.Is(err, errs.ErrSweepInProgress):
		writeError(w, http.StatusConflict, "sweep already running")
	case errors.Is(err, errs.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "already exists")
	default:
		s.log.Error("internal error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal")
	}
}

func countSweep(run *model.SweepRun) {
	obs.AddSweepTransitions("extended", run.Extended)
	obs.AddSweepTransitions("revoked", run.Revoked)
	obs.AddSweepTransitions("suspended", run.Suspended)
	obs.AddSweepTransitions("errored", run.Errored)
}

func issuanceOutcome(err error) string {
	switch {
	case errors.Is(err, errs.ErrProofInvalid):
		return "proof_invalid"
	case errors.Is(err, errs.ErrOriginUnavailable):
		return "origin_unavailable"
	case errors.Is(err, errs.ErrOriginRejected):
		return "origin_rejected"
	default:
		if _, ok := errs.IsDuplicateActive(err); ok {
			return "duplicate_active"
		}
		return "error"
	}
}

// --- DTOs ---

func credentialDTO(c *model.Credential) map[string]any {
	out := map[string]any{
		"id":           c.ID.String(),
		"issuer_id":    c.IssuerID.String(),
		"member_id":    c.MemberID.String(),
		"label":        c.Label,
		"status":       c.Status,
		"confirmed_at": c.ConfirmedAt.UTC().Format(time.RFC3339),
		"issued_at":    c.IssuedAt.UTC().Format(time.RFC3339),
		"payload":      base64.StdEncoding.EncodeToString(c.Payload),
		"signature":    c.Signature,
	}
	if c.ExpiresAt != nil {
		out["expires_at"] = c.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return out
}

func issuerDTO(iss *model.Issuer) map[string]any {
	return map[string]any{
		"id":            iss.ID.String(),
		"external_id":   iss.ExternalID,
		"name":          iss.Name,
		"default_label": iss.DefaultLabel,
		"origin_ref":    iss.OriginRef,
		"active":        iss.Active,
	}
}

func sweepDTO(run *model.SweepRun) map[string]any {
	out := map[string]any{
		"id":         run.ID.String(),
		"started_at": run.StartedAt.UTC().Format(time.RFC3339),
		"processed":  run.Processed,
		"extended":   run.Extended,
		"revoked":    run.Revoked,
		"suspended":  run.Suspended,
		"errored":    run.Errored,
	}
	if run.FinishedAt != nil {
		out["finished_at"] = run.FinishedAt.UTC().Format(time.RFC3339)
	}
	return out
}

func eventDTOs(evs []model.VerificationEvent) []any {
	out := make([]any, 0, len(evs))
	for _, ev := range evs {
		m := map[string]any{
			"id":          ev.ID.String(),
			"outcome":     ev.Outcome,
			"context":     ev.Context,
			"occurred_at": ev.OccurredAt.UTC().Format(time.RFC3339),
		}
		if ev.CredentialID != nil {
			m["credential_id"] = ev.CredentialID.String()
		}
		if ev.IssuerID != nil {
			m["issuer_id"] = ev.IssuerID.String()
		}
		out = append(out, m)
	}
	return out
}

// --- JSON helpers ---

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
