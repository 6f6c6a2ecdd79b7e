package skills

import (
	"context"
	"time"

	"github.com/zkgate-io/zkgate/internal/apperrors"
	"github.com/zkgate-io/zkgate/internal/coredata"
)

// RequestSigningParams is the input to request_signing.
type RequestSigningParams struct {
	CircuitID   string   `json:"circuit_id"`
	Scope       string   `json:"scope"`
	CountryList []string `json:"country_list,omitempty"`
	IsIncluded  *bool    `json:"is_included,omitempty"`
}

// RequestSigningResult is the output of request_signing.
type RequestSigningResult struct {
	RequestID  string    `json:"request_id"`
	SigningURL string    `json:"signing_url"`
	ExpiresAt  time.Time `json:"expires_at"`
	CircuitID  string    `json:"circuit_id"`
	Scope      string    `json:"scope"`
}

// RequestSigning validates the circuit/scope/country shape, creates a
// pending session, and hands back the signing-page URL. It performs no I/O
// beyond the session store, per spec.md §4.1.
func (c *Core) RequestSigning(ctx context.Context, params RequestSigningParams) (*RequestSigningResult, error) {
	if !circuitKnown(params.CircuitID) {
		return nil, apperrors.NewInvalidParamsError("circuit_id", "unknown circuit")
	}
	if params.Scope == "" {
		return nil, apperrors.NewInvalidParamsError("scope", "scope must be non-empty")
	}
	if params.CircuitID == coredata.CountryCircuitID {
		if len(params.CountryList) == 0 {
			return nil, apperrors.NewInvalidParamsError("country_list", "required for the country circuit")
		}
		if params.IsIncluded == nil {
			return nil, apperrors.NewInvalidParamsError("is_included", "required for the country circuit")
		}
	}

	now := c.now()
	requestID := c.newID("sess_")
	session := &coredata.Session{
		ID:          requestID,
		CircuitID:   params.CircuitID,
		Scope:       params.Scope,
		Status:      coredata.SessionPending,
		CountryList: params.CountryList,
		IsIncluded:  params.IsIncluded,
		CreatedAt:   now,
		ExpiresAt:   now.Add(c.SessionTTL),
	}
	if err := c.Sessions.Create(ctx, session); err != nil {
		return nil, err
	}

	return &RequestSigningResult{
		RequestID:  requestID,
		SigningURL: c.ExternalBaseURL + "/s/" + requestID,
		ExpiresAt:  session.ExpiresAt,
		CircuitID:  params.CircuitID,
		Scope:      params.Scope,
	}, nil
}
