package coredata

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// PaymentRecordStatus is the lifecycle status of a Payment Record, per
// spec.md §3 (pending/settled/failed), with an additive `authorized`
// intermediate state (SPEC_FULL.md §4) for funds that have cleared
// signature verification but not yet been submitted on-chain.
type PaymentRecordStatus string

const (
	PaymentRecordPending    PaymentRecordStatus = "pending"
	PaymentRecordAuthorized PaymentRecordStatus = "authorized"
	PaymentRecordSettled    PaymentRecordStatus = "settled"
	PaymentRecordFailed     PaymentRecordStatus = "failed"
)

// ValidPaymentRecordStatuses lists all valid payment record statuses.
var ValidPaymentRecordStatuses = []PaymentRecordStatus{
	PaymentRecordPending,
	PaymentRecordAuthorized,
	PaymentRecordSettled,
	PaymentRecordFailed,
}

// Network identifies the chain a payment is denominated on.
type Network string

const (
	NetworkEthereum Network = "ethereum"
	NetworkPolygon  Network = "polygon"
	NetworkBase     Network = "base"
	NetworkArbitrum Network = "arbitrum"
	NetworkOptimism Network = "optimism"
)

// ValidNetworks lists all valid networks.
var ValidNetworks = []Network{
	NetworkEthereum,
	NetworkPolygon,
	NetworkBase,
	NetworkArbitrum,
	NetworkOptimism,
}

// NormalizeNetwork maps a config network name (e.g. "base-sepolia",
// "ethereum-mainnet") onto the PaymentRecord's narrower enum by matching the
// chain family it names. Testnets and mainnets of the same family share one
// enum value since the Settlement Worker does not distinguish them.
func NormalizeNetwork(name string) Network {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "base"):
		return NetworkBase
	case strings.Contains(lower, "polygon"):
		return NetworkPolygon
	case strings.Contains(lower, "arbitrum"):
		return NetworkArbitrum
	case strings.Contains(lower, "optimism"):
		return NetworkOptimism
	default:
		return NetworkEthereum
	}
}

// PaymentRecord is the server-side record of one x402 payment attached to a
// task, per spec.md §3: id, task_id, payer_address, amount, network, status,
// tx_hash, timestamps. Scheme and RawCBOR are additive (SPEC_FULL.md §4): the
// x402 scheme name and the raw CBOR payment header bytes. RawCBOR is not
// serialized (json:"-"), so it does not survive a round trip through the
// payment store; the settlement worker reads neither field.
type PaymentRecord struct {
	ID           string              `json:"id"`
	TaskID       string              `json:"task_id"`
	PayerAddress string              `json:"payer_address"`
	Amount       string              `json:"amount"`
	Network      Network             `json:"network"`
	Status       PaymentRecordStatus `json:"status"`
	TxHash       string              `json:"tx_hash,omitempty"`
	Scheme       string              `json:"scheme,omitempty"`
	RawCBOR      []byte              `json:"-"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// Validate checks that the PaymentRecord has all required fields and valid
// enumerated values.
func (p *PaymentRecord) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("id is required")
	}
	if p.TaskID == "" {
		return fmt.Errorf("task_id is required")
	}
	if p.PayerAddress == "" {
		return fmt.Errorf("payer_address is required")
	}
	if p.Amount == "" {
		return fmt.Errorf("amount is required")
	}

	amount, err := strconv.ParseFloat(strings.TrimPrefix(p.Amount, "$"), 64)
	if err != nil {
		return fmt.Errorf("amount must be a valid number: %w", err)
	}
	if amount <= 0 {
		return fmt.Errorf("amount must be positive (got: %s)", p.Amount)
	}

	validNetwork := false
	for _, n := range ValidNetworks {
		if p.Network == n {
			validNetwork = true
			break
		}
	}
	if !validNetwork {
		return fmt.Errorf("invalid network '%s' (valid: %v)", p.Network, ValidNetworks)
	}

	validStatus := false
	for _, st := range ValidPaymentRecordStatuses {
		if p.Status == st {
			validStatus = true
			break
		}
	}
	if !validStatus {
		return fmt.Errorf("invalid status '%s' (valid: %v)", p.Status, ValidPaymentRecordStatuses)
	}

	if p.Status == PaymentRecordSettled && p.TxHash == "" {
		return fmt.Errorf("tx_hash is required when status is settled")
	}

	return nil
}
