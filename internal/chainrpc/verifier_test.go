package chainrpc

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifierABIPackUnpack(t *testing.T) {
	parsed, err := abi.JSON(strings.NewReader(verifierABI))
	require.NoError(t, err)

	proof := []byte{0xde, 0xad, 0xbe, 0xef}
	var input [32]byte
	copy(input[:], []byte("some-public-input"))

	t.Run("packs verify call", func(t *testing.T) {
		calldata, err := parsed.Pack("verify", proof, [][32]byte{input})
		require.NoError(t, err)
		assert.NotEmpty(t, calldata)
	})

	t.Run("unpacks a bool result", func(t *testing.T) {
		encodedTrue, err := parsed.Methods["verify"].Outputs.Pack(true)
		require.NoError(t, err)

		outputs, err := parsed.Unpack("verify", encodedTrue)
		require.NoError(t, err)
		require.Len(t, outputs, 1)
		assert.Equal(t, true, outputs[0])
	})
}

func TestNewVerifierClientDialFailure(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping network-dependent test in short mode")
	}

	_, err := NewVerifierClient("not-a-url", common.Address{})
	assert.Error(t, err)
}
