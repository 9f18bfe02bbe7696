package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"memberpass/internal/errs"
	"memberpass/internal/model"
	"memberpass/internal/origin"
	"memberpass/internal/repository"
	"memberpass/internal/signer"
)

// --- fakes shared by the service tests ---

type fakeIssuers struct {
	byID   map[uuid.UUID]*model.Issuer
	getErr error
}

var _ repository.IssuerRepository = (*fakeIssuers)(nil)

func (f *fakeIssuers) Create(_ context.Context, iss *model.Issuer) error {
	if f.byID == nil {
		f.byID = map[uuid.UUID]*model.Issuer{}
	}
	cpy := *iss
	f.byID[iss.ID] = &cpy
	return nil
}
func (f *fakeIssuers) GetByID(_ context.Context, id uuid.UUID) (*model.Issuer, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	iss, ok := f.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cpy := *iss
	return &cpy, nil
}
func (f *fakeIssuers) List(context.Context, bool) ([]model.Issuer, error) {
	out := make([]model.Issuer, 0, len(f.byID))
	for _, iss := range f.byID {
		out = append(out, *iss)
	}
	return out, nil
}
func (f *fakeIssuers) Update(_ context.Context, id uuid.UUID, upd repository.IssuerUpdate) error {
	iss, ok := f.byID[id]
	if !ok {
		return errs.ErrNotFound
	}
	if upd.Active != nil {
		iss.Active = *upd.Active
	}
	if upd.Name != nil {
		iss.Name = *upd.Name
	}
	return nil
}

type fakeMembers struct {
	byExt     map[string]*model.Member
	upsertErr error
}

var _ repository.MemberRepository = (*fakeMembers)(nil)

func (f *fakeMembers) Upsert(_ context.Context, externalID, displayName string) (*model.Member, error) {
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}
	if f.byExt == nil {
		f.byExt = map[string]*model.Member{}
	}
	m, ok := f.byExt[externalID]
	if !ok {
		m = &model.Member{ID: uuid.Must(uuid.NewV4()), ExternalID: externalID}
		f.byExt[externalID] = m
	}
	if displayName != "" {
		m.DisplayName = displayName
	}
	cpy := *m
	return &cpy, nil
}
func (f *fakeMembers) GetByID(_ context.Context, id uuid.UUID) (*model.Member, error) {
	for _, m := range f.byExt {
		if m.ID == id {
			cpy := *m
			return &cpy, nil
		}
	}
	return nil, errs.ErrNotFound
}
func (f *fakeMembers) GetByExternalID(_ context.Context, externalID string) (*model.Member, error) {
	m, ok := f.byExt[externalID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cpy := *m
	return &cpy, nil
}

type fakeCreds struct {
	byID map[uuid.UUID]*model.Credential

	createErr error
	due       []model.Credential
	dueErr    error

	extendErr     error
	setStatusErr  error
	incrFailErr   error
	extendCalls   int
	setStatusTo   []model.CredentialStatus
	lastReason    string
	lastExpiresAt time.Time
}

var _ repository.CredentialRepository = (*fakeCreds)(nil)

func (f *fakeCreds) CreateActive(_ context.Context, nc repository.NewCredential, deliver func() error) (*model.Credential, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	if f.byID == nil {
		f.byID = map[uuid.UUID]*model.Credential{}
	}
	for _, c := range f.byID {
		if c.IssuerID == nc.IssuerID && c.MemberID == nc.MemberID && c.Status == model.StatusActive {
			if c.ExpiresAt != nil && c.ExpiresAt.After(nc.IssuedAt) {
				return nil, &errs.DuplicateActiveCredentialError{ExistingExpiry: *c.ExpiresAt}
			}
			c.Status = model.StatusExpired
		}
	}
	if err := deliver(); err != nil {
		return nil, err
	}
	exp := nc.ExpiresAt
	cred := &model.Credential{
		ID: nc.ID, IssuerID: nc.IssuerID, MemberID: nc.MemberID,
		Label: nc.Label, ConfirmedAt: nc.ConfirmedAt, ProofRef: nc.ProofRef,
		Payload: nc.Payload, Signature: nc.Signature,
		Status: model.StatusActive, ExpiresAt: &exp, IssuedAt: nc.IssuedAt,
	}
	f.byID[cred.ID] = cred
	cpy := *cred
	return &cpy, nil
}
func (f *fakeCreds) GetByID(_ context.Context, id uuid.UUID) (*model.Credential, error) {
	c, ok := f.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cpy := *c
	return &cpy, nil
}
func (f *fakeCreds) FindDueForSweep(context.Context, repository.SweepFilter) ([]model.Credential, error) {
	return f.due, f.dueErr
}
func (f *fakeCreds) ExtendValidity(_ context.Context, id uuid.UUID, expiresAt, verifiedAt time.Time) error {
	if f.extendErr != nil {
		return f.extendErr
	}
	f.extendCalls++
	f.lastExpiresAt = expiresAt
	if c, ok := f.byID[id]; ok {
		exp := expiresAt
		v := verifiedAt
		c.Status = model.StatusActive
		c.ExpiresAt = &exp
		c.LastVerifiedAt = &v
		c.VerificationFailures = 0
	}
	return nil
}
func (f *fakeCreds) SetStatus(_ context.Context, id uuid.UUID, to model.CredentialStatus, reason string) error {
	if f.setStatusErr != nil {
		return f.setStatusErr
	}
	f.setStatusTo = append(f.setStatusTo, to)
	f.lastReason = reason
	if c, ok := f.byID[id]; ok {
		if c.Status.Terminal() {
			return errs.ErrInvalidTransition
		}
		c.Status = to
		c.StatusReason = reason
	}
	return nil
}
func (f *fakeCreds) IncrementFailures(_ context.Context, id uuid.UUID) (int, error) {
	if f.incrFailErr != nil {
		return 0, f.incrFailErr
	}
	if c, ok := f.byID[id]; ok {
		c.VerificationFailures++
		return c.VerificationFailures, nil
	}
	return 0, errs.ErrNotFound
}

type fakeVerifier struct {
	mu sync.Mutex

	conf     *origin.ProofConfirmation
	proofErr error

	standing    *origin.Standing
	standingErr error
	standingFn  func() // optional hook, runs outside the lock

	proofCalls    int
	standingCalls int
}

var _ origin.Verifier = (*fakeVerifier)(nil)

func (f *fakeVerifier) VerifyProof(context.Context, *model.Issuer, *model.Member, string, time.Time) (*origin.ProofConfirmation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.proofCalls++
	return f.conf, f.proofErr
}
func (f *fakeVerifier) CheckStanding(context.Context, *model.Issuer, *model.Member) (*origin.Standing, error) {
	f.mu.Lock()
	f.standingCalls++
	fn := f.standingFn
	st, err := f.standing, f.standingErr
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
	return st, err
}
func (f *fakeVerifier) standingCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.standingCalls
}

// --- issuance tests ---

func newTestSigner(t *testing.T) *signer.Signer {
	t.Helper()
	key := make([]byte, signer.KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	sig, err := signer.New(key)
	if err != nil {
		t.Fatalf("signer.New: %v", err)
	}
	return sig
}

func issuanceFixture(t *testing.T) (*fakeIssuers, *fakeMembers, *fakeCreds, *fakeVerifier, *IssuanceService, uuid.UUID) {
	t.Helper()
	issuerID := uuid.Must(uuid.NewV4())
	issuers := &fakeIssuers{byID: map[uuid.UUID]*model.Issuer{
		issuerID: {ID: issuerID, ExternalID: "chan-1", Name: "Creator", DefaultLabel: "Member", OriginRef: "vid-1", Active: true},
	}}
	members := &fakeMembers{}
	creds := &fakeCreds{}
	verifier := &fakeVerifier{conf: &origin.ProofConfirmation{
		ProofRef:          "proof-1",
		AuthorExternalID:  "member-1",
		AuthorDisplayName: "Alice",
		ConfirmedAt:       time.Now().Add(-time.Minute),
	}}
	svc := NewIssuanceService(issuers, members, creds, verifier, newTestSigner(t), EnvelopeEncoder(),
		IssuanceConfig{Validity: 30 * 24 * time.Hour}, zap.NewNop())
	return issuers, members, creds, verifier, svc, issuerID
}

func TestIssue_HappyPath(t *testing.T) {
	t.Parallel()
	_, members, creds, _, svc, issuerID := issuanceFixture(t)

	start := time.Now().Add(-time.Hour)
	res, err := svc.Issue(context.Background(), IssueRequest{
		IssuerID:         issuerID,
		MemberExternalID: "member-1",
		ProofRef:         "proof-1",
		SessionStartedAt: start,
	})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if res.Credential.Status != model.StatusActive {
		t.Fatalf("status = %s, want active", res.Credential.Status)
	}
	if res.Credential.ExpiresAt == nil || time.Until(*res.Credential.ExpiresAt) < 29*24*time.Hour {
		t.Fatalf("bad expires_at: %v", res.Credential.ExpiresAt)
	}
	if len(res.Presentation) == 0 {
		t.Fatalf("empty presentation")
	}
	// presentation must decode back to the signed payload
	payload, sig, err := DecodeEnvelope(res.Presentation)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	if string(payload) != string(res.Credential.Payload) || sig != res.Credential.Signature {
		t.Fatalf("presentation does not match credential")
	}
	// display name refreshed from the origin's view of the author
	if m := members.byExt["member-1"]; m.DisplayName != "Alice" {
		t.Fatalf("display name = %q, want Alice", m.DisplayName)
	}
	if len(creds.byID) != 1 {
		t.Fatalf("want exactly one credential row, got %d", len(creds.byID))
	}
}

func TestIssue_Validation(t *testing.T) {
	t.Parallel()
	_, _, _, verifier, svc, issuerID := issuanceFixture(t)

	if _, err := svc.Issue(context.Background(), IssueRequest{IssuerID: issuerID}); err == nil {
		t.Fatalf("want validation error on empty member/proof")
	}
	if verifier.proofCalls != 0 {
		t.Fatalf("origin must not be contacted on validation failure")
	}
}

func TestIssue_UnknownOrInactiveIssuer(t *testing.T) {
	t.Parallel()
	issuers, _, _, _, svc, issuerID := issuanceFixture(t)

	req := IssueRequest{IssuerID: uuid.Must(uuid.NewV4()), MemberExternalID: "m", ProofRef: "p"}
	if _, err := svc.Issue(context.Background(), req); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("want ErrNotFound for unknown issuer, got %v", err)
	}

	issuers.byID[issuerID].Active = false
	req.IssuerID = issuerID
	if _, err := svc.Issue(context.Background(), req); !errors.Is(err, errs.ErrIssuerInactive) {
		t.Fatalf("want ErrIssuerInactive, got %v", err)
	}
}

func TestIssue_ProofRejected(t *testing.T) {
	t.Parallel()
	_, _, creds, verifier, svc, issuerID := issuanceFixture(t)

	verifier.conf = nil
	verifier.proofErr = errs.ErrProofInvalid
	req := IssueRequest{IssuerID: issuerID, MemberExternalID: "member-1", ProofRef: "bad"}
	if _, err := svc.Issue(context.Background(), req); !errors.Is(err, errs.ErrProofInvalid) {
		t.Fatalf("want ErrProofInvalid, got %v", err)
	}
	if len(creds.byID) != 0 {
		t.Fatalf("no credential may be persisted on invalid proof")
	}

	verifier.proofErr = errs.ErrOriginUnavailable
	if _, err := svc.Issue(context.Background(), req); !errors.Is(err, errs.ErrOriginUnavailable) {
		t.Fatalf("want ErrOriginUnavailable, got %v", err)
	}
	if len(creds.byID) != 0 {
		t.Fatalf("no credential may be persisted on transient origin failure")
	}
}

func TestIssue_DuplicateActive(t *testing.T) {
	t.Parallel()
	_, _, _, _, svc, issuerID := issuanceFixture(t)

	req := IssueRequest{IssuerID: issuerID, MemberExternalID: "member-1", ProofRef: "proof-1"}
	first, err := svc.Issue(context.Background(), req)
	if err != nil {
		t.Fatalf("first Issue: %v", err)
	}

	_, err = svc.Issue(context.Background(), req)
	dup, ok := errs.IsDuplicateActive(err)
	if !ok {
		t.Fatalf("want DuplicateActiveCredentialError, got %v", err)
	}
	if !dup.ExistingExpiry.Equal(*first.Credential.ExpiresAt) {
		t.Fatalf("duplicate error expiry = %v, want %v", dup.ExistingExpiry, *first.Credential.ExpiresAt)
	}
}

func TestIssue_ReissueAfterStaleExpiry(t *testing.T) {
	t.Parallel()
	_, _, creds, _, svc, issuerID := issuanceFixture(t)

	req := IssueRequest{IssuerID: issuerID, MemberExternalID: "member-1", ProofRef: "proof-1"}
	first, err := svc.Issue(context.Background(), req)
	if err != nil {
		t.Fatalf("first Issue: %v", err)
	}
	// the active row's window already closed but the sweeper has not run yet
	past := time.Now().Add(-time.Minute)
	creds.byID[first.Credential.ID].ExpiresAt = &past

	second, err := svc.Issue(context.Background(), req)
	if err != nil {
		t.Fatalf("re-issue over stale active: %v", err)
	}
	if got := creds.byID[first.Credential.ID].Status; got != model.StatusExpired {
		t.Fatalf("stale credential status = %s, want expired", got)
	}
	if got := creds.byID[second.Credential.ID].Status; got != model.StatusActive {
		t.Fatalf("new credential status = %s, want active", got)
	}
}

func TestIssue_EncoderFailureRollsBack(t *testing.T) {
	t.Parallel()
	issuers, members, creds, _, _, issuerID := issuanceFixture(t)

	boom := errors.New("render failed")
	svc := NewIssuanceService(issuers, members, creds,
		&fakeVerifier{conf: &origin.ProofConfirmation{ProofRef: "p", AuthorExternalID: "member-1", ConfirmedAt: time.Now()}},
		newTestSigner(t),
		EncoderFunc(func([]byte, string) ([]byte, error) { return nil, boom }),
		IssuanceConfig{}, zap.NewNop())

	_, err := svc.Issue(context.Background(), IssueRequest{IssuerID: issuerID, MemberExternalID: "member-1", ProofRef: "p"})
	if !errors.Is(err, boom) {
		t.Fatalf("want encoder error, got %v", err)
	}
	if len(creds.byID) != 0 {
		t.Fatalf("encoder failure must leave no credential row")
	}
}
