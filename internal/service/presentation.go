package service

import (
	"encoding/base64"
	"encoding/json"
)

// envelope is the wire form handed back to members. Holders present the
// payload and signature from it verbatim; the version field allows format
// migration without breaking verification of outstanding credentials.
type envelope struct {
	Version   int    `json:"v"`
	Payload   string `json:"payload"` // base64 canonical payload bytes
	Signature string `json:"signature"`
}

// EnvelopeEncoder renders a credential as a self-contained JSON envelope.
// Richer presentations (QR images, wallet passes) can replace it by
// implementing Encoder.
func EnvelopeEncoder() Encoder {
	return EncoderFunc(func(payload []byte, signature string) ([]byte, error) {
		return json.Marshal(envelope{
			Version:   1,
			Payload:   base64.StdEncoding.EncodeToString(payload),
			Signature: signature,
		})
	})
}

// DecodeEnvelope parses an encoded presentation back into its payload bytes
// and signature.
func DecodeEnvelope(raw []byte) (payload []byte, signature string, err error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, "", err
	}
	payload, err = base64.StdEncoding.DecodeString(env.Payload)
	if err != nil {
		return nil, "", err
	}
	return payload, env.Signature, nil
}
