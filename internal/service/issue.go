// Package service contains the credential lifecycle application services:
// issuance, verification of presented credentials, the lifecycle sweeper and
// operator authentication.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"memberpass/internal/errs"
	"memberpass/internal/model"
	"memberpass/internal/origin"
	"memberpass/internal/repository"
	"memberpass/internal/signer"
)

// Encoder turns a signed payload into the presentation form delivered to the
// holder (QR rendering, wallet enrollment). It is invoked inside the issuance
// transaction: a failure here aborts the whole issuance, because a credential
// row without a deliverable presentation would block a valid retry.
type Encoder interface {
	Encode(payload []byte, signature string) ([]byte, error)
}

// EncoderFunc adapts a function to the Encoder interface.
type EncoderFunc func(payload []byte, signature string) ([]byte, error)

// Encode calls f.
func (f EncoderFunc) Encode(payload []byte, signature string) ([]byte, error) {
	return f(payload, signature)
}

// IssueRequest carries everything needed to issue one credential.
type IssueRequest struct {
	IssuerID          uuid.UUID
	MemberExternalID  string
	MemberDisplayName string
	ProofRef          string
	SessionStartedAt  time.Time
}

// IssueResult is a freshly issued credential plus its encoded presentation.
type IssueResult struct {
	Credential   *model.Credential
	Member       *model.Member
	Presentation []byte
}

// IssuanceService turns a verified membership proof into a signed,
// time-bounded credential record.
type IssuanceService struct {
	issuers       repository.IssuerRepository
	members       repository.MemberRepository
	creds         repository.CredentialRepository
	verifier      origin.Verifier
	signer        *signer.Signer
	encoder       Encoder
	validity      time.Duration
	originTimeout time.Duration
	log           *zap.Logger
	now           func() time.Time
}

// IssuanceConfig bounds issuance behavior.
type IssuanceConfig struct {
	Validity      time.Duration // credential validity window
	OriginTimeout time.Duration // per-call budget for the origin round trip
}

// NewIssuanceService constructs the issuance orchestrator.
func NewIssuanceService(
	issuers repository.IssuerRepository,
	members repository.MemberRepository,
	creds repository.CredentialRepository,
	verifier origin.Verifier,
	sig *signer.Signer,
	encoder Encoder,
	cfg IssuanceConfig,
	log *zap.Logger,
) *IssuanceService {
	if cfg.Validity <= 0 {
		cfg.Validity = 30 * 24 * time.Hour
	}
	if cfg.OriginTimeout <= 0 {
		cfg.OriginTimeout = 15 * time.Second
	}
	return &IssuanceService{
		issuers:       issuers,
		members:       members,
		creds:         creds,
		verifier:      verifier,
		signer:        sig,
		encoder:       encoder,
		validity:      cfg.Validity,
		originTimeout: cfg.OriginTimeout,
		log:           log,
		now:           time.Now,
	}
}

// Issue validates the proof with the origin platform and atomically inserts a
// new active credential. The whole operation is all-or-nothing: a duplicate
// active credential, a failed proof, or a failed presentation encoding leaves
// no row behind.
func (s *IssuanceService) Issue(ctx context.Context, req IssueRequest) (*IssueResult, error) {
	if req.MemberExternalID == "" || req.ProofRef == "" {
		return nil, errors.New("validation: empty member identity or proof reference")
	}

	iss, err := s.issuers.GetByID(ctx, req.IssuerID)
	if err != nil {
		return nil, err
	}
	if !iss.Active {
		return nil, errs.ErrIssuerInactive
	}

	member, err := s.members.Upsert(ctx, req.MemberExternalID, req.MemberDisplayName)
	if err != nil {
		return nil, err
	}

	octx, cancel := context.WithTimeout(ctx, s.originTimeout)
	conf, err := s.verifier.VerifyProof(octx, iss, member, req.ProofRef, req.SessionStartedAt)
	cancel()
	if err != nil {
		s.log.Warn("proof verification failed",
			zap.String("issuer_id", iss.ID.String()),
			zap.String("member", req.MemberExternalID),
			zap.Error(err))
		return nil, err
	}

	// Opportunistic display name refresh from the origin's view of the author.
	if conf.AuthorDisplayName != "" && conf.AuthorDisplayName != member.DisplayName {
		if member, err = s.members.Upsert(ctx, member.ExternalID, conf.AuthorDisplayName); err != nil {
			return nil, err
		}
	}

	now := s.now().UTC()
	credID, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	payload := model.CredentialPayload{
		CredentialID: credID.String(),
		IssuerID:     iss.ID.String(),
		MemberID:     member.ID.String(),
		Label:        iss.DefaultLabel,
		ConfirmedAt:  conf.ConfirmedAt.Unix(),
		ProofRef:     conf.ProofRef,
		IssuedAt:     now.Unix(),
	}
	canonical, err := payload.Canonical()
	if err != nil {
		return nil, err
	}
	sig := s.signer.Sign(canonical)

	var presentation []byte
	cred, err := s.creds.CreateActive(ctx, repository.NewCredential{
		ID:          credID,
		IssuerID:    iss.ID,
		MemberID:    member.ID,
		Label:       iss.DefaultLabel,
		ConfirmedAt: conf.ConfirmedAt,
		ProofRef:    conf.ProofRef,
		Payload:     canonical,
		Signature:   sig,
		ExpiresAt:   now.Add(s.validity),
		IssuedAt:    now,
	}, func() error {
		var encErr error
		presentation, encErr = s.encoder.Encode(canonical, sig)
		return encErr
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("credential issued",
		zap.String("credential_id", cred.ID.String()),
		zap.String("issuer_id", iss.ID.String()),
		zap.String("member_id", member.ID.String()),
		zap.Timep("expires_at", cred.ExpiresAt))

	return &IssueResult{Credential: cred, Member: member, Presentation: presentation}, nil
}
