// Package toolrpc wires Skill Core into the Tool JSON-RPC surface at /mcp,
// completing the registration the teacher's x402 MCP server left stubbed
// ("registration will be handled externally... the mcp-go API requires a
// different registration approach" — internal/server/server.go,
// tools/verify_payment.go). This package is that external registration: one
// mcp.Tool per skill, added directly onto a *server.MCPServer via AddTool,
// with no intermediate Tool/Server indirection layer since Skill Core
// already is that layer.
package toolrpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/zkgate-io/zkgate/internal/apperrors"
	"github.com/zkgate-io/zkgate/internal/logging"
	"github.com/zkgate-io/zkgate/internal/skills"
)

// Dispatcher is the subset of skills.Core the adapter needs, narrowed the
// same way internal/worker and internal/llmrouter narrow it.
type Dispatcher interface {
	Dispatch(ctx context.Context, skill skills.Skill, params map[string]interface{}) (interface{}, error)
}

// Adapter registers every skill as an MCP tool and translates each call
// into a Dispatch, round-tripping through the same map[string]interface{}
// boundary the task worker uses.
type Adapter struct {
	Core   Dispatcher
	Logger *logging.Logger
}

// New builds an Adapter bound to core.
func New(core Dispatcher, logger *logging.Logger) *Adapter {
	return &Adapter{Core: core, Logger: logger}
}

// Register adds one mcp.Tool per skill onto s, per spec.md's one-to-one
// skill-to-tool mapping for the Tool JSON-RPC protocol.
func (a *Adapter) Register(s *server.MCPServer) {
	for _, def := range toolDefs {
		s.AddTool(def.tool, a.handlerFor(def.skill))
	}
}

type toolDef struct {
	skill skills.Skill
	tool  mcp.Tool
}

var toolDefs = []toolDef{
	{
		skill: skills.SkillRequestSigning,
		tool: mcp.NewTool("request_signing",
			mcp.WithDescription("Create a new signing session for a proof request and return the URL the caller must visit to authorize it with their wallet."),
			mcp.WithString("circuit_id", mcp.Required(), mcp.Description("Identifier of the circuit to prove, e.g. age_over or kyc_tier.")),
			mcp.WithString("scope", mcp.Required(), mcp.Description("Application-defined scope the proof is bound to, preventing replay across contexts.")),
			mcp.WithArray("country_list", mcp.Description("ISO country codes, required only for circuits that check country membership.")),
			mcp.WithBoolean("is_included", mcp.Description("Whether the caller's country must be included in (true) or excluded from (false) country_list.")),
		),
	},
	{
		skill: skills.SkillCheckStatus,
		tool: mcp.NewTool("check_status",
			mcp.WithDescription("Check the current phase of a previously created proof request: signing, payment, ready, or expired."),
			mcp.WithString("request_id", mcp.Required(), mcp.Description("The request id returned by request_signing.")),
		),
	},
	{
		skill: skills.SkillRequestPayment,
		tool: mcp.NewTool("request_payment",
			mcp.WithDescription("Fetch the payment URL, price, currency, and network for a request whose signing step is already complete."),
			mcp.WithString("request_id", mcp.Required(), mcp.Description("The request id returned by request_signing.")),
		),
	},
	{
		skill: skills.SkillGenerateProof,
		tool: mcp.NewTool("generate_proof",
			mcp.WithDescription("Generate a zero-knowledge proof, either from a completed and (if required) paid session, or directly from caller-supplied signing material when payment is disabled."),
			mcp.WithString("request_id", mcp.Description("A request id whose session has finished signing (and payment, if required).")),
			mcp.WithString("address", mcp.Description("Direct mode only: the signer address, as a 0x-prefixed hex string.")),
			mcp.WithString("signature", mcp.Description("Direct mode only: the signature over the scope, as a 0x-prefixed hex string.")),
			mcp.WithString("scope", mcp.Description("Direct mode only: the scope the signature is bound to.")),
			mcp.WithString("circuit_id", mcp.Description("Direct mode only: the circuit to prove.")),
			mcp.WithArray("country_list", mcp.Description("Direct mode only, country-aware circuits: ISO country codes.")),
			mcp.WithBoolean("is_included", mcp.Description("Direct mode only, country-aware circuits: inclusion vs. exclusion.")),
		),
	},
	{
		skill: skills.SkillVerifyProof,
		tool: mcp.NewTool("verify_proof",
			mcp.WithDescription("Verify a previously generated proof against its on-chain verifier contract, either by proof id or by supplying the proof material directly."),
			mcp.WithString("proof_id", mcp.Description("A proof id returned by generate_proof.")),
			mcp.WithString("circuit_id", mcp.Description("Direct mode only: the circuit the proof was generated for.")),
			mcp.WithString("proof", mcp.Description("Direct mode only: the raw proof bytes, base64-encoded.")),
			mcp.WithArray("public_inputs", mcp.Description("Direct mode only: the proof's public inputs, as 0x-prefixed 32-byte hex words.")),
			mcp.WithNumber("chain_id", mcp.Description("Chain to verify against; defaults to the service's configured chain.")),
		),
	},
	{
		skill: skills.SkillGetSupportedCircuits,
		tool: mcp.NewTool("get_supported_circuits",
			mcp.WithDescription("List every circuit this service can prove, and the verifier contract address deployed for each on a given chain."),
			mcp.WithNumber("chain_id", mcp.Description("Chain to report verifier addresses for; defaults to the service's configured chain.")),
		),
	},
}

// handlerFor closes over skill and returns the server.ToolHandlerFunc that
// dispatches calls to it.
func (a *Adapter) handlerFor(skill skills.Skill) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()

		result, err := a.Core.Dispatch(ctx, skill, args)
		if err != nil {
			a.logError(skill, err)
			return mcp.NewToolResultError(errorMessage(err)), nil
		}

		body, marshalErr := json.Marshal(result)
		if marshalErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to encode %s result: %v", skill, marshalErr)), nil
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{
				mcp.TextContent{Type: "text", Text: guidanceFor(skill, result)},
				mcp.TextContent{Type: "text", Text: string(body)},
			},
		}, nil
	}
}

// errorMessage prefixes a Dispatch failure with its error code, so a caller
// driving the MCP tool directly (without an LLM in the loop) can still
// branch on the kind of failure without parsing prose.
func errorMessage(err error) string {
	if coded, ok := err.(apperrors.Coded); ok {
		return coded.Code() + ": " + err.Error()
	}
	return err.Error()
}

// guidanceFor renders one plain-language sentence describing the outcome,
// the first of the two text chunks spec.md's Tool JSON-RPC section requires
// every tool result to carry alongside the machine-readable JSON.
func guidanceFor(skill skills.Skill, result interface{}) string {
	switch skill {
	case skills.SkillRequestSigning:
		if r, ok := result.(*skills.RequestSigningResult); ok {
			return fmt.Sprintf("Signing session %s created; visit %s to authorize it before it expires at %s.", r.RequestID, r.SigningURL, r.ExpiresAt.Format("15:04:05 MST"))
		}
	case skills.SkillCheckStatus:
		if r, ok := result.(*skills.CheckStatusResult); ok {
			return fmt.Sprintf("Request is in the %s phase.", r.Phase)
		}
	case skills.SkillRequestPayment:
		if r, ok := result.(*skills.RequestPaymentResult); ok {
			return fmt.Sprintf("Pay %s %s on %s at %s to continue.", r.Amount, r.Currency, r.Network, r.PaymentURL)
		}
	case skills.SkillGenerateProof:
		if r, ok := result.(*skills.GenerateProofResult); ok {
			if r.Cached {
				return fmt.Sprintf("Returned a cached proof %s for circuit %s.", r.ProofID, r.CircuitID)
			}
			return fmt.Sprintf("Generated proof %s for circuit %s; verify it at %s.", r.ProofID, r.CircuitID, r.VerifyURL)
		}
	case skills.SkillVerifyProof:
		if r, ok := result.(*skills.VerifyProofResult); ok {
			if r.Valid {
				return fmt.Sprintf("Proof is valid against the %s verifier on chain %d.", r.CircuitID, r.ChainID)
			}
			return fmt.Sprintf("Proof is NOT valid (%s).", r.Error)
		}
	case skills.SkillGetSupportedCircuits:
		if r, ok := result.(*skills.GetSupportedCircuitsResult); ok {
			return fmt.Sprintf("%d circuit(s) supported on chain %d.", len(r.Circuits), r.ChainID)
		}
	}
	return "Request completed."
}

func (a *Adapter) logError(skill skills.Skill, err error) {
	if a.Logger == nil {
		return
	}
	a.Logger.Error("tool dispatch failed", map[string]interface{}{
		"skill": string(skill),
		"error": err.Error(),
	})
}
