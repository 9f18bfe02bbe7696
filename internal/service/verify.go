package service

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"memberpass/internal/errs"
	"memberpass/internal/model"
	"memberpass/internal/repository"
	"memberpass/internal/signer"
)

// VerificationResult is the responder's answer to one presentation.
type VerificationResult struct {
	Outcome    model.VerificationOutcome
	Credential *model.Credential // populated when lookup succeeded
	Detail     string
}

// VerificationService validates presented credentials. It never mutates
// credential state: expiry past the window is detected lazily and reported,
// while the persistent transition is left to the sweeper. Every call writes
// exactly one verification event, success or not.
type VerificationService struct {
	creds  repository.CredentialRepository
	events repository.VerificationEventRepository
	signer *signer.Signer
	log    *zap.Logger
	now    func() time.Time
}

// NewVerificationService constructs the verification responder.
func NewVerificationService(
	creds repository.CredentialRepository,
	events repository.VerificationEventRepository,
	sig *signer.Signer,
	log *zap.Logger,
) *VerificationService {
	return &VerificationService{creds: creds, events: events, signer: sig, log: log, now: time.Now}
}

// VerifyPresented checks a presented payload/signature pair for the claiming
// issuer. Checks run cheapest first: signature, lookup, issuer ownership,
// status. The returned error is non-nil only for infrastructure failures;
// negative outcomes are values, not errors.
func (s *VerificationService) VerifyPresented(ctx context.Context, rawPayload []byte, signature string, claimedIssuer uuid.UUID) (*VerificationResult, error) {
	res := s.classify(ctx, rawPayload, signature, claimedIssuer)

	evID, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	ev := &model.VerificationEvent{
		ID:         evID,
		Outcome:    res.Outcome,
		Context:    res.Detail,
		OccurredAt: s.now().UTC(),
	}
	if res.Credential != nil {
		cid := res.Credential.ID
		ev.CredentialID = &cid
	}
	if claimedIssuer != uuid.Nil {
		iid := claimedIssuer
		ev.IssuerID = &iid
	}
	if err := s.events.Append(ctx, ev); err != nil {
		// The audit trail is part of the contract: a presentation without
		// its event must not report a result.
		return nil, err
	}
	return res, nil
}

func (s *VerificationService) classify(ctx context.Context, rawPayload []byte, signature string, claimedIssuer uuid.UUID) *VerificationResult {
	if !s.signer.Verify(rawPayload, signature) {
		return &VerificationResult{Outcome: model.OutcomeInvalidSignature, Detail: "signature mismatch"}
	}

	payload, err := model.ParsePayload(rawPayload)
	if err != nil {
		// Signed but unparseable payload: treat as a signature-level failure,
		// the bytes were not produced by this issuer pipeline.
		return &VerificationResult{Outcome: model.OutcomeInvalidSignature, Detail: "unparseable payload"}
	}
	credID, err := payload.CredentialUUID()
	if err != nil {
		return &VerificationResult{Outcome: model.OutcomeCredentialNotFound, Detail: "bad credential id in payload"}
	}

	cred, err := s.creds.GetByID(ctx, credID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return &VerificationResult{Outcome: model.OutcomeCredentialNotFound, Detail: "no such credential"}
		}
		s.log.Error("credential lookup", zap.Error(err))
		return &VerificationResult{Outcome: model.OutcomeCredentialNotFound, Detail: "lookup failure"}
	}

	if cred.IssuerID != claimedIssuer {
		return &VerificationResult{Outcome: model.OutcomeWrongIssuer, Credential: cred, Detail: "credential belongs to another issuer"}
	}

	switch cred.Status {
	case model.StatusRevoked:
		return &VerificationResult{Outcome: model.OutcomeRevoked, Credential: cred, Detail: cred.StatusReason}
	case model.StatusSuspended:
		return &VerificationResult{Outcome: model.OutcomeSuspended, Credential: cred, Detail: cred.StatusReason}
	case model.StatusDeleted:
		return &VerificationResult{Outcome: model.OutcomeDeleted, Credential: cred, Detail: cred.StatusReason}
	case model.StatusExpired:
		return &VerificationResult{Outcome: model.OutcomeExpired, Credential: cred, Detail: "validity window closed"}
	}

	// Lazy expiry: the row may still say active after the window closed.
	if cred.ExpiredAt(s.now()) {
		return &VerificationResult{Outcome: model.OutcomeExpired, Credential: cred, Detail: "validity window closed"}
	}
	return &VerificationResult{Outcome: model.OutcomeSuccess, Credential: cred}
}
