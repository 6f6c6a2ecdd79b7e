// Package circuits holds the static circuit registry get_supported_circuits
// is a pure function over (spec.md §4.6/§4.7): each entry names a circuit
// the prover understands and, per chain, the on-chain verifier contract
// address deployed for it.
package circuits

// Circuit describes one statement the prover understands.
type Circuit struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	// CountryAware marks the one circuit variant (spec.md's "country"
	// circuit) that requires country_list + is_included parameters.
	CountryAware bool `json:"country_aware"`
}

// CountryCircuitID is the one circuit variant requiring country fields.
const CountryCircuitID = "country"

// registry is the static set of circuits this service supports. New
// circuits are added here, not discovered at runtime.
var registry = []Circuit{
	{
		ID:           CountryCircuitID,
		Name:         "Country Set Attestation",
		Description:  "Proves an attested address's country is (or is not) in a caller-supplied set, without revealing which country.",
		CountryAware: true,
	},
	{
		ID:          "age_over",
		Name:        "Age Over Threshold",
		Description: "Proves an attested address's age exceeds a configured threshold without revealing the exact age.",
	},
	{
		ID:          "kyc_tier",
		Name:        "KYC Tier Attestation",
		Description: "Proves an attested address has cleared a minimum KYC tier without revealing the underlying provider record.",
	},
}

// deployment pairs a circuit id with a verifier contract address per chain.
type deployment struct {
	circuitID     string
	chainID       uint64
	verifierAddr  string
}

// deployments is the chain_id -> verifier_address mapping. Populated from
// operator configuration in production; it starts empty and is filled only
// through RegisterDeployment.
var deployments []deployment

// All returns every circuit in the static registry.
func All() []Circuit {
	out := make([]Circuit, len(registry))
	copy(out, registry)
	return out
}

// Get looks up a circuit by id.
func Get(id string) (Circuit, bool) {
	for _, c := range registry {
		if c.ID == id {
			return c, true
		}
	}
	return Circuit{}, false
}

// Known reports whether id names a circuit in the static registry.
func Known(id string) bool {
	_, ok := Get(id)
	return ok
}

// RegisterDeployment records a verifier contract address for a circuit on a
// chain, called once from configuration at startup.
func RegisterDeployment(circuitID string, chainID uint64, verifierAddr string) {
	deployments = append(deployments, deployment{circuitID: circuitID, chainID: chainID, verifierAddr: verifierAddr})
}

// VerifierAddress looks up the verifier contract deployed for a circuit on
// chainID, if any.
func VerifierAddress(circuitID string, chainID uint64) (string, bool) {
	for _, d := range deployments {
		if d.circuitID == circuitID && d.chainID == chainID {
			return d.verifierAddr, true
		}
	}
	return "", false
}
