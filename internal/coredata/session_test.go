package coredata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSession() *Session {
	return &Session{
		ID:        "sess_test_12345",
		CircuitID: "age_over_18",
		Scope:     "example.com:login",
		Status:    SessionPending,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(10 * time.Minute),
	}
}

func TestSessionValidation(t *testing.T) {
	t.Run("valid pending session", func(t *testing.T) {
		s := validSession()
		assert.NoError(t, s.Validate())
	})

	t.Run("missing id", func(t *testing.T) {
		s := validSession()
		s.ID = ""
		err := s.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "id")
	})

	t.Run("missing circuit_id", func(t *testing.T) {
		s := validSession()
		s.CircuitID = ""
		err := s.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "circuit_id")
	})

	t.Run("missing scope", func(t *testing.T) {
		s := validSession()
		s.Scope = ""
		err := s.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "scope")
	})

	t.Run("invalid status", func(t *testing.T) {
		s := validSession()
		s.Status = "bogus"
		err := s.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status")
	})

	t.Run("completed without address fails", func(t *testing.T) {
		s := validSession()
		s.Status = SessionCompleted
		err := s.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "address")
	})

	t.Run("completed with address/signal_hash/signature passes", func(t *testing.T) {
		s := validSession()
		s.Status = SessionCompleted
		s.Address = "0xabc"
		s.SignalHash = "0xdef"
		s.Signature = "0x123"
		assert.NoError(t, s.Validate())
	})

	t.Run("payment completed without tx hash fails", func(t *testing.T) {
		s := validSession()
		s.PaymentStatus = PaymentCompleted
		err := s.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "payment_tx_hash")
	})

	t.Run("payment completed with tx hash passes", func(t *testing.T) {
		s := validSession()
		s.PaymentStatus = PaymentCompleted
		s.PaymentTxHash = "0xfeed"
		assert.NoError(t, s.Validate())
	})

	t.Run("country circuit requires country_list and is_included", func(t *testing.T) {
		s := validSession()
		s.CircuitID = CountryCircuitID
		err := s.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "country_list")
	})

	t.Run("country circuit with fields set passes", func(t *testing.T) {
		s := validSession()
		s.CircuitID = CountryCircuitID
		s.CountryList = []string{"US", "CA"}
		included := true
		s.IsIncluded = &included
		assert.NoError(t, s.Validate())
	})
}

func TestSessionPhase(t *testing.T) {
	now := time.Now()

	t.Run("expired takes priority", func(t *testing.T) {
		s := validSession()
		s.ExpiresAt = now.Add(-time.Second)
		assert.Equal(t, "expired", s.Phase(now, true))
	})

	t.Run("pending session is signing", func(t *testing.T) {
		s := validSession()
		assert.Equal(t, "signing", s.Phase(now, true))
	})

	t.Run("completed without required payment is ready", func(t *testing.T) {
		s := validSession()
		s.Status = SessionCompleted
		assert.Equal(t, "ready", s.Phase(now, false))
	})

	t.Run("completed with required payment pending is payment phase", func(t *testing.T) {
		s := validSession()
		s.Status = SessionCompleted
		assert.Equal(t, "payment", s.Phase(now, true))
	})

	t.Run("completed with payment completed is ready", func(t *testing.T) {
		s := validSession()
		s.Status = SessionCompleted
		s.PaymentStatus = PaymentCompleted
		assert.Equal(t, "ready", s.Phase(now, true))
	})
}
