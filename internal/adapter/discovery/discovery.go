// Package discovery serves the three static well-known documents spec.md
// §6 requires: an agent card describing identity and skills, a protocol
// versions document, and a TEE/attestation metadata document. All three are
// built once from Config at construction time and served as-is — no
// templating engine, no per-request recomputation.
package discovery

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zkgate-io/zkgate/internal/config"
	"github.com/zkgate-io/zkgate/internal/skills"
)

// Skill descriptions mirror the Tool JSON-RPC adapter's mcp.WithDescription
// strings (internal/adapter/toolrpc/toolrpc.go), so the two discovery
// surfaces never drift into describing the same six skills differently.
var skillDescriptions = map[skills.Skill]string{
	skills.SkillRequestSigning:       "Create a new signing session for a proof request and return the URL the caller must visit to authorize it with their wallet.",
	skills.SkillCheckStatus:          "Check the current phase of a previously created proof request: signing, payment, ready, or expired.",
	skills.SkillRequestPayment:       "Fetch the payment URL, price, currency, and network for a request whose signing step is already complete.",
	skills.SkillGenerateProof:        "Generate a zero-knowledge proof, either from a completed and (if required) paid session, or directly from caller-supplied signing material when payment is disabled.",
	skills.SkillVerifyProof:          "Verify a previously generated proof against its on-chain verifier contract, either by proof id or by supplying the proof material directly.",
	skills.SkillGetSupportedCircuits: "List every circuit this service can prove, and the verifier contract address deployed for each on a given chain.",
}

// agentSkill is one entry in the agent card's skills list, shaped after the
// A2A agent-card convention (id/name/description) this service's Task
// JSON-RPC surface already follows for its method names.
type agentSkill struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// agentCard is served at /.well-known/agent.json: identity + skills.
type agentCard struct {
	Name               string       `json:"name"`
	Description        string       `json:"description"`
	URL                string       `json:"url"`
	Version            string       `json:"version"`
	DefaultInputModes  []string     `json:"defaultInputModes"`
	DefaultOutputModes []string     `json:"defaultOutputModes"`
	Capabilities       capabilities `json:"capabilities"`
	Skills             []agentSkill `json:"skills"`
}

type capabilities struct {
	Streaming              bool `json:"streaming"`
	PushNotifications      bool `json:"pushNotifications"`
	StateTransitionHistory bool `json:"stateTransitionHistory"`
}

// protocolVersions is served at /.well-known/zkgate-protocols.json: the
// wire-protocol version strings a caller needs before it speaks to any of
// the four adapters.
type protocolVersions struct {
	TaskJSONRPC          string `json:"task_jsonrpc"`
	TaskJSONRPCTransport string `json:"task_jsonrpc_transport"`
	MCP                  string `json:"mcp"`
	ChatCompletions      string `json:"chat_completions"`
	A2ATaskStateMachine  string `json:"a2a_task_state_machine"`
}

// teeMetadata is served at /.well-known/zkgate-tee.json: how proving and
// attestation are sourced for this deployment, so a caller can decide
// whether to trust proofs without generating one first.
type teeMetadata struct {
	TEEMode            string `json:"tee_mode"`
	AttestationEnabled bool   `json:"attestation_enabled"`
	PaymentMode        string `json:"payment_mode"`
}

// Adapter serves the three discovery documents, each built once from Config
// at construction time.
type Adapter struct {
	agentCard agentCard
	protocols protocolVersions
	tee       teeMetadata
}

// New builds the three documents from cfg. name/version identify this
// build, mirroring the values the MCP server advertises on /mcp.
func New(cfg *config.Config, name, version string) *Adapter {
	skillList := make([]agentSkill, 0, len(skills.AllSkills))
	for _, s := range skills.AllSkills {
		skillList = append(skillList, agentSkill{
			ID:          string(s),
			Name:        string(s),
			Description: skillDescriptions[s],
		})
	}

	return &Adapter{
		agentCard: agentCard{
			Name:               name,
			Description:        "Zero-knowledge proof coordination service: session signing, optional x402 payment, proof generation and on-chain verification, exposed over Task JSON-RPC, Tool JSON-RPC (MCP), and OpenAI-compatible chat completions.",
			URL:                cfg.Service.BaseURL,
			Version:            version,
			DefaultInputModes:  []string{"text", "data"},
			DefaultOutputModes: []string{"text", "data"},
			Capabilities: capabilities{
				Streaming:              true,
				PushNotifications:      false,
				StateTransitionHistory: true,
			},
			Skills: skillList,
		},
		protocols: protocolVersions{
			TaskJSONRPC:          "2.0",
			TaskJSONRPCTransport: "http+sse",
			MCP:                  "2024-11-05",
			ChatCompletions:      "openai-compatible-v1",
			A2ATaskStateMachine:  "v0.3",
		},
		tee: teeMetadata{
			TEEMode:            string(cfg.Service.TEEMode),
			AttestationEnabled: cfg.Service.AttestationEnabled,
			PaymentMode:        string(cfg.Service.PaymentMode),
		},
	}
}

// Routes mounts the three well-known documents.
func (a *Adapter) Routes(r chi.Router) {
	r.Get("/.well-known/agent.json", a.handleAgentCard)
	r.Get("/.well-known/zkgate-protocols.json", a.handleProtocolVersions)
	r.Get("/.well-known/zkgate-tee.json", a.handleTEEMetadata)
}

func (a *Adapter) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, a.agentCard)
}

func (a *Adapter) handleProtocolVersions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, a.protocols)
}

func (a *Adapter) handleTEEMetadata(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, a.tee)
}

func writeJSON(w http.ResponseWriter, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}
