package skills

import (
	"context"
	"time"

	"github.com/zkgate-io/zkgate/internal/circuits"
	"github.com/zkgate-io/zkgate/internal/coredata"
)

// CheckStatusParams is the input to check_status.
type CheckStatusParams struct {
	RequestID string `json:"request_id"`
}

// CheckStatusResult is the output of check_status.
type CheckStatusResult struct {
	Phase               string                  `json:"phase"`
	CircuitID           string                  `json:"circuit_id"`
	Scope               string                  `json:"scope"`
	PaymentStatus       coredata.PaymentStatus  `json:"payment_status,omitempty"`
	ExpiresAt           time.Time               `json:"expires_at"`
	VerifierAddress     string                  `json:"verifier_address,omitempty"`
	VerifierExplorerURL string                  `json:"verifier_explorer_url,omitempty"`
}

// CheckStatus loads the session and derives its phase deterministically,
// per spec.md §4.1: expired, signing, payment, or ready. In the ready
// branch it attaches the verifier address and explorer URL when known for
// the configured chain.
func (c *Core) CheckStatus(ctx context.Context, params CheckStatusParams) (*CheckStatusResult, error) {
	session, err := c.Sessions.Get(ctx, params.RequestID)
	if err != nil {
		return nil, err
	}

	now := c.now()
	phase := session.Phase(now, c.PaymentRequired)

	result := &CheckStatusResult{
		Phase:         phase,
		CircuitID:     session.CircuitID,
		Scope:         session.Scope,
		PaymentStatus: session.PaymentStatus,
		ExpiresAt:     session.ExpiresAt,
	}

	if phase == "ready" {
		if addr, ok := circuits.VerifierAddress(session.CircuitID, c.DefaultChainID); ok {
			result.VerifierAddress = addr
			result.VerifierExplorerURL = explorerURL(c.DefaultChainID, addr)
		}
	}

	return result, nil
}
