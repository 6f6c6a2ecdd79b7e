package payment

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

const erc20TransferABI = `[{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"}]`

// Transferer executes an on-chain asset transfer and returns the
// transaction hash once it has been broadcast (not necessarily mined).
type Transferer interface {
	Transfer(ctx context.Context, to common.Address, units *big.Int) (txHash string, err error)
}

// ERC20Transferer signs and submits ERC-20 transfer(to, value) calls
// against a fixed asset contract using the operator's key, via a
// bind.BoundContract over the asset address — the same ethclient-backed
// pack/call discipline as NonceFetcher and VerifierClient.
type ERC20Transferer struct {
	client   *ethclient.Client
	contract *bind.BoundContract
	key      *ecdsa.PrivateKey
	chainID  *big.Int
	timeout  time.Duration
}

// NewERC20Transferer dials rpcURL and prepares a transferer for the given
// asset contract, signing with operatorKeyHex (a 0x-prefixed or bare hex
// secp256k1 private key).
func NewERC20Transferer(rpcURL, assetContract, operatorKeyHex string, chainID *big.Int) (*ERC20Transferer, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}

	parsedABI, err := abi.JSON(strings.NewReader(erc20TransferABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ERC-20 ABI: %w", err)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(operatorKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid operator key: %w", err)
	}

	asset := common.HexToAddress(assetContract)
	contract := bind.NewBoundContract(asset, parsedABI, client, client, client)

	return &ERC20Transferer{
		client:   client,
		contract: contract,
		key:      key,
		chainID:  chainID,
		timeout:  15 * time.Second,
	}, nil
}

// Close releases the underlying RPC connection.
func (t *ERC20Transferer) Close() { t.client.Close() }

// Transfer signs and broadcasts an ERC-20 transfer(to, units) transaction.
func (t *ERC20Transferer) Transfer(ctx context.Context, to common.Address, units *big.Int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	opts, err := bind.NewKeyedTransactorWithChainID(t.key, t.chainID)
	if err != nil {
		return "", fmt.Errorf("failed to build transactor: %w", err)
	}
	opts.Context = ctx

	tx, err := t.contract.Transact(opts, "transfer", to, units)
	if err != nil {
		return "", fmt.Errorf("failed to submit transfer: %w", err)
	}

	return tx.Hash().Hex(), nil
}
