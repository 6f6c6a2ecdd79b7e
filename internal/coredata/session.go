package coredata

import (
	"fmt"
	"time"
)

// SessionStatus is the signing-side lifecycle status of a Session Record.
type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionCompleted SessionStatus = "completed"
	SessionExpired   SessionStatus = "expired"
)

// ValidSessionStatuses lists every valid signing-side status.
var ValidSessionStatuses = []SessionStatus{
	SessionPending,
	SessionCompleted,
	SessionExpired,
}

// PaymentStatus is the payment-side status attached to a Session. The empty
// string represents "no payment recorded yet" (spec §3: payment_status ∈
// {∅, pending, completed}).
type PaymentStatus string

const (
	PaymentNone      PaymentStatus = ""
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
)

// CountryCircuitID is the one circuit id that requires country_list/is_included.
const CountryCircuitID = "country"

// Session is the central entity described in spec §3: a server-side record
// bound to a single proof-generation attempt.
type Session struct {
	ID            string        `json:"id"`
	CircuitID     string        `json:"circuit_id"`
	Scope         string        `json:"scope"`
	Status        SessionStatus `json:"status"`
	Address       string        `json:"address,omitempty"`
	SignalHash    string        `json:"signal_hash,omitempty"`
	Signature     string        `json:"signature,omitempty"`
	CountryList   []string      `json:"country_list,omitempty"`
	IsIncluded    *bool         `json:"is_included,omitempty"`
	PaymentStatus PaymentStatus `json:"payment_status,omitempty"`
	PaymentTxHash string        `json:"payment_tx_hash,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	ExpiresAt     time.Time     `json:"expires_at"`
}

// Validate enforces the session invariants from spec §3:
//
//	status == completed ⇒ address, signal_hash, signature are set
//	payment_status == completed ⇒ payment_tx_hash set
//	circuit_id == "country" ⇒ country_list non-empty ∧ is_included is boolean
func (s *Session) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("id is required")
	}
	if s.CircuitID == "" {
		return fmt.Errorf("circuit_id is required")
	}
	if s.Scope == "" {
		return fmt.Errorf("scope is required")
	}

	validStatus := false
	for _, st := range ValidSessionStatuses {
		if s.Status == st {
			validStatus = true
			break
		}
	}
	if !validStatus {
		return fmt.Errorf("invalid status '%s' (valid: %v)", s.Status, ValidSessionStatuses)
	}

	if s.Status == SessionCompleted {
		if s.Address == "" {
			return fmt.Errorf("address is required when status is completed")
		}
		if s.SignalHash == "" {
			return fmt.Errorf("signal_hash is required when status is completed")
		}
		if s.Signature == "" {
			return fmt.Errorf("signature is required when status is completed")
		}
	}

	switch s.PaymentStatus {
	case PaymentNone, PaymentPending, PaymentCompleted:
	default:
		return fmt.Errorf("invalid payment_status '%s'", s.PaymentStatus)
	}

	if s.PaymentStatus == PaymentCompleted && s.PaymentTxHash == "" {
		return fmt.Errorf("payment_tx_hash is required when payment_status is completed")
	}

	if s.CircuitID == CountryCircuitID {
		if len(s.CountryList) == 0 {
			return fmt.Errorf("country_list must be non-empty for circuit_id '%s'", CountryCircuitID)
		}
		if s.IsIncluded == nil {
			return fmt.Errorf("is_included is required for circuit_id '%s'", CountryCircuitID)
		}
	}

	return nil
}

// Expired reports whether the session's wall-clock TTL has passed.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Phase derives the phase check_status reports, per spec §4.1:
//
//	expires_at < now       ⇒ expired
//	status != completed    ⇒ signing
//	payment required & !completed ⇒ payment
//	else                   ⇒ ready
func (s *Session) Phase(now time.Time, paymentRequired bool) string {
	if s.Expired(now) {
		return "expired"
	}
	if s.Status != SessionCompleted {
		return "signing"
	}
	if paymentRequired && s.PaymentStatus != PaymentCompleted {
		return "payment"
	}
	return "ready"
}
