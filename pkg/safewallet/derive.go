// Package safewallet derives the deterministic smart-contract wallet address
// for an externally-owned account.
package safewallet

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/BadGenius22/rekon/pkg/eth"
)

// FactoryConfig identifies the wallet factory the derivation is computed
// against. Same EOA plus same config always yields the same address.
type FactoryConfig struct {
	Factory      common.Address
	InitCodeHash common.Hash
}

// DefaultFactoryConfig returns the Polygon factory configuration.
func DefaultFactoryConfig() FactoryConfig {
	return FactoryConfig{
		Factory:      eth.SafeFactoryAddress,
		InitCodeHash: eth.SafeInitCodeHash,
	}
}

var (
	// ErrZeroAddress is returned for the zero EOA address.
	ErrZeroAddress = errors.New("safewallet: zero owner address")

	// ErrInvalidConfig is returned when the factory config is incomplete.
	ErrInvalidConfig = errors.New("safewallet: invalid factory config")
)

// Derive computes the CREATE2 address of the smart-contract wallet owned by
// eoa. Pure function: no I/O, no randomness.
//
//	address = keccak256(0xff ++ factory ++ salt ++ initCodeHash)[12:]
//	salt    = keccak256(leftPad32(eoa))
func Derive(eoa common.Address, cfg FactoryConfig) (common.Address, error) {
	if eoa == (common.Address{}) {
		return common.Address{}, ErrZeroAddress
	}
	if cfg.Factory == (common.Address{}) || cfg.InitCodeHash == (common.Hash{}) {
		return common.Address{}, ErrInvalidConfig
	}

	salt := crypto.Keccak256Hash(common.LeftPadBytes(eoa.Bytes(), 32))
	return crypto.CreateAddress2(cfg.Factory, [32]byte(salt), cfg.InitCodeHash.Bytes()), nil
}

// DeriveHex is Derive for callers holding the EOA as a hex string. The input
// must be a well-formed 20-byte hex address.
func DeriveHex(eoa string, cfg FactoryConfig) (common.Address, error) {
	if !common.IsHexAddress(eoa) {
		return common.Address{}, fmt.Errorf("safewallet: malformed address %q", eoa)
	}
	return Derive(common.HexToAddress(eoa), cfg)
}
