package skills

import (
	"context"
	"encoding/json"

	"github.com/zkgate-io/zkgate/internal/apperrors"
)

// Skill names one of the six operations a protocol adapter can invoke. This
// is the closed tagged union spec.md's design notes call for in place of a
// string-keyed handler registry: every member is listed here, and Dispatch
// is the single place that maps a name to a call.
type Skill string

const (
	SkillRequestSigning       Skill = "request_signing"
	SkillCheckStatus          Skill = "check_status"
	SkillRequestPayment       Skill = "request_payment"
	SkillGenerateProof        Skill = "generate_proof"
	SkillVerifyProof          Skill = "verify_proof"
	SkillGetSupportedCircuits Skill = "get_supported_circuits"
)

// AllSkills lists every supported skill, in the order spec.md §2 names them.
var AllSkills = []Skill{
	SkillRequestSigning,
	SkillCheckStatus,
	SkillRequestPayment,
	SkillGenerateProof,
	SkillVerifyProof,
	SkillGetSupportedCircuits,
}

// Known reports whether name is a recognized skill.
func (s Skill) Known() bool {
	for _, known := range AllSkills {
		if known == s {
			return true
		}
	}
	return false
}

// Dispatch decodes a raw parameter map into the typed params a skill
// expects and invokes it, returning the typed result boxed as interface{}.
// Protocol adapters own the string -> Skill parse and any wire-specific
// error mapping; Skill Core never sees raw JSON beyond this one boundary,
// which exists so the Task Worker can re-enter Skill Core from a
// persisted, JSON-shaped Task.Params without every adapter hand-writing
// its own switch statement.
func (c *Core) Dispatch(ctx context.Context, skill Skill, rawParams map[string]interface{}) (interface{}, error) {
	switch skill {
	case SkillRequestSigning:
		var params RequestSigningParams
		if err := decodeParams(rawParams, &params); err != nil {
			return nil, err
		}
		return c.RequestSigning(ctx, params)
	case SkillCheckStatus:
		var params CheckStatusParams
		if err := decodeParams(rawParams, &params); err != nil {
			return nil, err
		}
		return c.CheckStatus(ctx, params)
	case SkillRequestPayment:
		var params RequestPaymentParams
		if err := decodeParams(rawParams, &params); err != nil {
			return nil, err
		}
		return c.RequestPayment(ctx, params)
	case SkillGenerateProof:
		var params GenerateProofParams
		if err := decodeParams(rawParams, &params); err != nil {
			return nil, err
		}
		return c.GenerateProof(ctx, params)
	case SkillVerifyProof:
		var params VerifyProofParams
		if err := decodeParams(rawParams, &params); err != nil {
			return nil, err
		}
		return c.VerifyProof(ctx, params)
	case SkillGetSupportedCircuits:
		var params GetSupportedCircuitsParams
		if err := decodeParams(rawParams, &params); err != nil {
			return nil, err
		}
		return c.GetSupportedCircuits(ctx, params)
	default:
		return nil, apperrors.NewInvalidParamsError("skill", "unknown skill: "+string(skill))
	}
}

// decodeParams round-trips a raw parameter map through JSON into a typed
// params struct, the same shape every wire protocol (JSON-RPC params
// object, REST request body, chat tool-call arguments) already delivers
// its input as.
func decodeParams(raw map[string]interface{}, dest interface{}) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return apperrors.WrapInvalidParamsError(apperrors.NewInvalidParamsError("params", err.Error()), err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return apperrors.WrapInvalidParamsError(apperrors.NewInvalidParamsError("params", err.Error()), err)
	}
	return nil
}
