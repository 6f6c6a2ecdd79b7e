package skills

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSupportedCircuits(t *testing.T) {
	ctx := context.Background()
	core, _ := newTestCore(t)

	t.Run("defaults to the configured chain id", func(t *testing.T) {
		result, err := core.GetSupportedCircuits(ctx, GetSupportedCircuitsParams{})
		require.NoError(t, err)
		assert.Equal(t, testChainID, result.ChainID)
		assert.Len(t, result.Circuits, 3)
	})

	t.Run("attaches the verifier address for a registered deployment", func(t *testing.T) {
		result, err := core.GetSupportedCircuits(ctx, GetSupportedCircuitsParams{ChainID: testChainID})
		require.NoError(t, err)

		var age CircuitInfo
		for _, c := range result.Circuits {
			if c.ID == testAgeCircuit {
				age = c
			}
		}
		assert.Equal(t, "0x1111111111111111111111111111111111111111", age.VerifierAddress)
	})

	t.Run("omits the verifier address for an undeployed circuit", func(t *testing.T) {
		result, err := core.GetSupportedCircuits(ctx, GetSupportedCircuitsParams{ChainID: testChainID})
		require.NoError(t, err)

		var kyc CircuitInfo
		for _, c := range result.Circuits {
			if c.ID == "kyc_tier" {
				kyc = c
			}
		}
		assert.Equal(t, "kyc_tier", kyc.ID)
		assert.Empty(t, kyc.VerifierAddress)
	})

	t.Run("omits the verifier address on an unrecognized chain", func(t *testing.T) {
		result, err := core.GetSupportedCircuits(ctx, GetSupportedCircuitsParams{ChainID: 1})
		require.NoError(t, err)
		for _, c := range result.Circuits {
			assert.Empty(t, c.VerifierAddress)
		}
	})

	t.Run("marks the country circuit as country-aware", func(t *testing.T) {
		result, err := core.GetSupportedCircuits(ctx, GetSupportedCircuitsParams{})
		require.NoError(t, err)
		for _, c := range result.Circuits {
			if c.ID == "country" {
				assert.True(t, c.CountryAware)
			} else {
				assert.False(t, c.CountryAware)
			}
		}
	})
}
