package x402

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testPayTo = "0x1234567890123456789012345678901234567890"
	testAsset = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
)

func TestNewPaymentRequirementPopulatesOfficialFields(t *testing.T) {
	req, err := NewPaymentRequirement("100000", "base-sepolia", testPayTo, testAsset, "https://example.com/api/payment/sess_1", "proof request payment", "", time.Minute)
	require.NoError(t, err)

	assert.Equal(t, "exact", req.Scheme)
	assert.Equal(t, "base-sepolia", req.Network)
	assert.Equal(t, "100000", req.MaxAmountRequired)
	assert.Equal(t, testPayTo, req.PayTo)
	assert.Equal(t, testAsset, req.Asset)
	assert.Equal(t, "application/json", req.MimeType, "empty mimeType should default")
	assert.Equal(t, 1, req.X402Version)
	assert.NotEmpty(t, req.Nonce)
	assert.NoError(t, req.Validate())
}

func TestNewPaymentRequirementRejectsUnsupportedNetwork(t *testing.T) {
	_, err := NewPaymentRequirement("100000", "polygon", testPayTo, testAsset, "https://example.com", "desc", "", time.Minute)
	require.Error(t, err)
}

func TestNewPaymentRequirementRejectsMalformedAddress(t *testing.T) {
	_, err := NewPaymentRequirement("100000", "base", "not-an-address", testAsset, "https://example.com", "desc", "", time.Minute)
	require.Error(t, err)
}

func TestNewPaymentRequirementRejectsNonPositiveAmount(t *testing.T) {
	_, err := NewPaymentRequirement("0", "base", testPayTo, testAsset, "https://example.com", "desc", "", time.Minute)
	require.Error(t, err)
}

func TestPaymentRequirementToMapIncludesExtraMetadata(t *testing.T) {
	req, err := NewPaymentRequirement("100000", "arbitrum", testPayTo, testAsset, "https://example.com", "desc", "", time.Minute)
	require.NoError(t, err)

	m := req.ToMap()
	extra, ok := m["extra"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "USD Coin", extra["name"])
	assert.Equal(t, "2", extra["version"])
}

func TestPaymentRequirementValidateRejectsTamperedScheme(t *testing.T) {
	req, err := NewPaymentRequirement("100000", "base", testPayTo, testAsset, "https://example.com", "desc", "", time.Minute)
	require.NoError(t, err)

	req.Scheme = "exact-v2"
	assert.Error(t, req.Validate())
}
