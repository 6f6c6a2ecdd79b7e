package skills

import (
	"context"

	"github.com/zkgate-io/zkgate/internal/circuits"
)

// CircuitInfo describes one circuit in a get_supported_circuits response.
type CircuitInfo struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Description     string `json:"description"`
	CountryAware    bool   `json:"country_aware"`
	VerifierAddress string `json:"verifier_address,omitempty"`
}

// GetSupportedCircuitsParams is the input to get_supported_circuits.
// ChainID is optional; when zero the core's configured default is used.
type GetSupportedCircuitsParams struct {
	ChainID uint64 `json:"chain_id,omitempty"`
}

// GetSupportedCircuitsResult is the output of get_supported_circuits.
type GetSupportedCircuitsResult struct {
	Circuits []CircuitInfo `json:"circuits"`
	ChainID  uint64        `json:"chain_id"`
}

// GetSupportedCircuits is a pure function over the static circuit
// registry, attaching the verifier address per circuit when deployed on
// chain_id, per spec.md §4.1.
func (c *Core) GetSupportedCircuits(_ context.Context, params GetSupportedCircuitsParams) (*GetSupportedCircuitsResult, error) {
	chainID := params.ChainID
	if chainID == 0 {
		chainID = c.DefaultChainID
	}

	all := circuits.All()
	out := make([]CircuitInfo, len(all))
	for i, circuit := range all {
		info := CircuitInfo{
			ID:           circuit.ID,
			Name:         circuit.Name,
			Description:  circuit.Description,
			CountryAware: circuit.CountryAware,
		}
		if addr, ok := circuits.VerifierAddress(circuit.ID, chainID); ok {
			info.VerifierAddress = addr
		}
		out[i] = info
	}

	return &GetSupportedCircuitsResult{Circuits: out, ChainID: chainID}, nil
}
