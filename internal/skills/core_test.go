package skills

import (
	"context"
	"testing"
	"time"

	"github.com/zkgate-io/zkgate/internal/circuits"
	"github.com/zkgate-io/zkgate/internal/kv"
	"github.com/zkgate-io/zkgate/internal/proofcache"
	"github.com/zkgate-io/zkgate/internal/proofresult"
	"github.com/zkgate-io/zkgate/internal/ratelimit"
	"github.com/zkgate-io/zkgate/internal/sessionstore"
)

const (
	testChainID   = uint64(8453)
	testAgeCircuit = "age_over"
)

func init() {
	circuits.RegisterDeployment(testAgeCircuit, testChainID, "0x1111111111111111111111111111111111111111")
	circuits.RegisterDeployment(circuits.CountryCircuitID, testChainID, "0x2222222222222222222222222222222222222222")
}

// fakeWitness always returns a fixed input document.
type fakeWitness struct {
	calls int
}

func (f *fakeWitness) Build(_ context.Context, _ WitnessInput) ([]byte, error) {
	f.calls++
	return []byte("rendered-witness-document"), nil
}

// fakeProver is a LocalProver stand-in producing a deterministic proof.
type fakeProver struct {
	calls           int
	proof           []byte
	publicInputsHex string
	err             error
}

func (f *fakeProver) Prove(_ context.Context, _ string, _ []byte) ([]byte, string, error) {
	f.calls++
	if f.err != nil {
		return nil, "", f.err
	}
	return f.proof, f.publicInputsHex, nil
}

// fakeVerifierClient is a VerifierClient stand-in for verify_proof tests.
type fakeVerifierClient struct {
	valid bool
	err   error
}

func (f *fakeVerifierClient) Verify(_ context.Context, _ []byte, _ [][32]byte) (bool, error) {
	return f.valid, f.err
}

func fixedResolver(client VerifierClient) VerifierResolver {
	return func(string, uint64) (VerifierClient, error) { return client, nil }
}

func newTestCore(t *testing.T) (*Core, *fakeProver) {
	t.Helper()
	mem := kv.NewMemoryStore(0)
	t.Cleanup(mem.Close)

	prover := &fakeProver{
		proof:           []byte{0xAB, 0xCD, 0xEF},
		publicInputsHex: hex64("11") + hex64("22"),
	}

	core := &Core{
		Sessions:        sessionstore.New(mem, time.Hour),
		Cache:           proofcache.New(mem),
		Results:         proofresult.New(mem),
		Limiter:         ratelimit.New(mem, 1000, time.Minute),
		Witness:         &fakeWitness{},
		Prover:          prover,
		ExternalBaseURL: "https://zkgate.example",
		DefaultChainID:  testChainID,
		SessionTTL:      time.Hour,
		PriceDisplay:    "$0.10",
		Currency:        "USDC",
		Network:         "base",
	}
	return core, prover
}

// hex64 repeats a 2-char hex byte 32 times to produce a 64-char (32-byte)
// public input chunk.
func hex64(b string) string {
	out := ""
	for i := 0; i < 32; i++ {
		out += b
	}
	return out
}
