package model

import (
	"encoding/json"

	"github.com/gofrs/uuid/v5"
)

// CredentialPayload is the fixed-field structure embedded in a presented
// credential. Its canonical encoding is the signature input, so the field
// set, order and timestamp representation must never change for issued
// credentials to stay verifiable.
type CredentialPayload struct {
	CredentialID string `json:"credential_id"`
	IssuerID     string `json:"issuer_id"`
	MemberID     string `json:"member_id"`
	Label        string `json:"label"`
	ConfirmedAt  int64  `json:"confirmed_at"` // unix seconds
	ProofRef     string `json:"proof_ref"`
	IssuedAt     int64  `json:"issued_at"` // unix seconds
}

// Canonical returns the deterministic byte encoding used as signature input.
// encoding/json emits struct fields in declaration order with no insignificant
// whitespace, which makes the output byte-stable across processes.
func (p CredentialPayload) Canonical() ([]byte, error) {
	return json.Marshal(p)
}

// ParsePayload decodes canonical payload bytes back into the fixed-field form.
func ParsePayload(raw []byte) (CredentialPayload, error) {
	var p CredentialPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return CredentialPayload{}, err
	}
	return p, nil
}

// CredentialUUID returns the credential id embedded in the payload.
func (p CredentialPayload) CredentialUUID() (uuid.UUID, error) {
	return uuid.FromString(p.CredentialID)
}
