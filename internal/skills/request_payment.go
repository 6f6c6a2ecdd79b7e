package skills

import (
	"context"

	"github.com/zkgate-io/zkgate/internal/apperrors"
	"github.com/zkgate-io/zkgate/internal/coredata"
)

// RequestPaymentParams is the input to request_payment.
type RequestPaymentParams struct {
	RequestID string `json:"request_id"`
}

// RequestPaymentResult is the output of request_payment.
type RequestPaymentResult struct {
	PaymentURL string `json:"payment_url"`
	Amount     string `json:"amount"`
	Currency   string `json:"currency"`
	Network    string `json:"network"`
}

// RequestPayment rejects unless signing is complete, payment is required,
// and it has not already completed. It sets payment_status=pending
// idempotently and extends the session TTL back to its original window on
// every call, per spec.md §4.1.
func (c *Core) RequestPayment(ctx context.Context, params RequestPaymentParams) (*RequestPaymentResult, error) {
	if !c.PaymentRequired {
		return nil, apperrors.NewInvalidStateTransitionError("payment_disabled", "pending")
	}

	session, err := c.Sessions.Get(ctx, params.RequestID)
	if err != nil {
		return nil, err
	}

	now := c.now()
	if session.Expired(now) {
		return nil, apperrors.NewNotFoundError("session", params.RequestID)
	}
	if session.Status != coredata.SessionCompleted {
		return nil, apperrors.NewInvalidStateTransitionError(string(session.Status), "payment")
	}
	if session.PaymentStatus == coredata.PaymentCompleted {
		return nil, apperrors.NewInvalidStateTransitionError(string(session.PaymentStatus), "pending")
	}

	if session.PaymentStatus != coredata.PaymentPending {
		session.PaymentStatus = coredata.PaymentPending
	}
	session.ExpiresAt = now.Add(c.SessionTTL)
	if err := c.Sessions.Update(ctx, session); err != nil {
		return nil, err
	}

	return &RequestPaymentResult{
		PaymentURL: c.ExternalBaseURL + "/pay/" + params.RequestID,
		Amount:     c.PriceDisplay,
		Currency:   c.Currency,
		Network:    c.Network,
	}, nil
}
