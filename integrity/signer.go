// Package integrity stamps ledger transactions with a keyed hash so that
// edits made outside the engine are detectable.
//
// The signature is a tamper-evident marker. Anyone holding both the key
// and write access to storage can forge it.
package integrity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/coffer/transaction"
)

// Scheme identifies the signing algorithm and payload layout.
const Scheme = "hmac-sha256/v1"

// ErrEmptyKey is returned when a signer is built without a key.
var ErrEmptyKey = errors.New("integrity: signing key is empty")

// Signer computes and checks transaction signatures.
type Signer struct {
	key []byte
}

// NewSigner returns a signer for key.
func NewSigner(key []byte) (*Signer, error) {
	if len(key) == 0 {
		return nil, ErrEmptyKey
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Signer{key: k}, nil
}

// Canonical returns the signed payload: JSON with sorted keys covering every
// field that is fixed at creation. Status and completion time are excluded
// because confirming a pending credit legitimately changes them.
func Canonical(t *transaction.Transaction) ([]byte, error) {
	fields := map[string]any{
		"scheme":       Scheme,
		"id":           t.ID.String(),
		"workspace_id": t.WorkspaceID.String(),
		"kind":         string(t.Kind),
		"amount":       t.Amount.Hundredths(),
		"description":  t.Description,
		"user_id":      t.Refs.UserID,
		"event_id":     t.Refs.EventID.String(),
		"external_ref": t.Refs.ExternalRef,
		"created_at":   t.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if tr := t.Tribute; tr != nil {
		fields["tribute"] = map[string]any{
			"instrument_id":  tr.InstrumentID,
			"tier":           tr.Tier,
			"boon_key":       tr.BoonKey,
			"tribute_amount": tr.TributeAmount.Hundredths(),
			"boon_amount":    tr.BoonAmount.Hundredths(),
			"luck_weight":    tr.LuckWeight.String(),
			"psyche_tag":     tr.PsycheTag,
			"pity_triggered": tr.PityTriggered,
		}
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("integrity: canonicalize: %w", err)
	}
	return b, nil
}

// Sign returns the hex-encoded signature of t.
func (s *Signer) Sign(t *transaction.Transaction) (string, error) {
	payload, err := Canonical(t)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, s.key)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Stamp signs t and stores the signature on it.
func (s *Signer) Stamp(t *transaction.Transaction) error {
	sig, err := s.Sign(t)
	if err != nil {
		return err
	}
	t.Signature = sig
	return nil
}

// Verify reports whether t carries a valid signature.
func (s *Signer) Verify(t *transaction.Transaction) bool {
	provided, err := hex.DecodeString(t.Signature)
	if err != nil || len(provided) == 0 {
		return false
	}
	payload, err := Canonical(t)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, s.key)
	mac.Write(payload)
	return hmac.Equal(provided, mac.Sum(nil))
}
