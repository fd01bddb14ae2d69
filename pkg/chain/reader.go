// Package chain provides read-only queries against current chain state:
// wallet deployment existence, token approvals, and balances.
package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/BadGenius22/rekon/pkg/eth"
)

// ContractCaller is the narrow read-only client surface the reader needs.
// *ethclient.Client satisfies it; tests inject fakes.
type ContractCaller interface {
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// DeploymentState is the tri-state result of a deployment-existence read.
// Unknown means the read itself failed; collapsing Unknown to NotDeployed is
// a policy decision that belongs to the caller, not the reader.
type DeploymentState int

const (
	Unknown DeploymentState = iota
	NotDeployed
	Deployed
)

func (s DeploymentState) String() string {
	switch s {
	case Deployed:
		return "deployed"
	case NotDeployed:
		return "not_deployed"
	default:
		return "unknown"
	}
}

// ApprovalTargets is the fixed set of (token, spender) and (collection,
// operator) pairs a trading wallet must have authorized.
type ApprovalTargets struct {
	Collateral common.Address
	Collection common.Address
	Spenders   []common.Address
}

// DefaultApprovalTargets returns the Polygon exchange set: collateral and
// conditional tokens approved for both exchanges and the neg-risk adapter.
func DefaultApprovalTargets() ApprovalTargets {
	return ApprovalTargets{
		Collateral: eth.USDCAddress,
		Collection: eth.CTFAddress,
		Spenders: []common.Address{
			eth.CTFExchangeAddress,
			eth.NegRiskCTFExchangeAddress,
			eth.NegRiskAdapterAddress,
		},
	}
}

// ApprovalState reports which of the target pairs are currently authorized.
// The readiness check covers the same full set the approval batch sets, so a
// pair granted out-of-band never masks a missing one.
type ApprovalState struct {
	Satisfied bool
	Missing   []string
}

// Reader performs best-effort reads against current chain state.
type Reader struct {
	caller  ContractCaller
	targets ApprovalTargets
	limiter *rate.Limiter
}

// NewReader creates a reader over the given client.
func NewReader(caller ContractCaller, targets ApprovalTargets) *Reader {
	return &Reader{
		caller:  caller,
		targets: targets,
		limiter: rate.NewLimiter(rate.Limit(20), 10),
	}
}

// Targets returns the approval set this reader checks.
func (r *Reader) Targets() ApprovalTargets {
	return r.targets
}

// WalletDeployment reports whether code exists at addr. The error is non-nil
// only when the state is Unknown.
func (r *Reader) WalletDeployment(ctx context.Context, addr common.Address) (DeploymentState, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return Unknown, fmt.Errorf("rate limiter: %w", err)
	}

	code, err := r.caller.CodeAt(ctx, addr, nil)
	if err != nil {
		return Unknown, fmt.Errorf("code at %s: %w", addr.Hex(), err)
	}
	if len(code) == 0 {
		return NotDeployed, nil
	}
	return Deployed, nil
}

// ApprovalState checks every target pair for owner. On any read failure the
// state is conservative: the failed pair is reported missing and the error is
// returned alongside it, so a transient read never looks like an approval.
func (r *Reader) ApprovalState(ctx context.Context, owner common.Address) (ApprovalState, error) {
	state := ApprovalState{Satisfied: true}
	var firstErr error

	for _, spender := range r.targets.Spenders {
		allowance, err := r.allowance(ctx, r.targets.Collateral, owner, spender)
		if err != nil || allowance.Sign() <= 0 {
			state.Satisfied = false
			state.Missing = append(state.Missing, fmt.Sprintf("allowance:%s", spender.Hex()))
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}

		approved, err := r.isApprovedForAll(ctx, r.targets.Collection, owner, spender)
		if err != nil || !approved {
			state.Satisfied = false
			state.Missing = append(state.Missing, fmt.Sprintf("operator:%s", spender.Hex()))
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}

	return state, firstErr
}

// CollateralBalance returns the owner's collateral balance in human units
// (6-decimal token).
func (r *Reader) CollateralBalance(ctx context.Context, owner common.Address) (decimal.Decimal, error) {
	data, err := erc20.Pack("balanceOf", owner)
	if err != nil {
		return decimal.Zero, err
	}
	out, err := r.call(ctx, r.targets.Collateral, data)
	if err != nil {
		return decimal.Zero, fmt.Errorf("balance of %s: %w", owner.Hex(), err)
	}
	raw := new(big.Int).SetBytes(out)
	return decimal.NewFromBigInt(raw, -6), nil
}

func (r *Reader) allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	data, err := erc20.Pack("allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	out, err := r.call(ctx, token, data)
	if err != nil {
		return nil, fmt.Errorf("allowance %s->%s: %w", owner.Hex(), spender.Hex(), err)
	}
	return new(big.Int).SetBytes(out), nil
}

func (r *Reader) isApprovedForAll(ctx context.Context, collection, owner, operator common.Address) (bool, error) {
	data, err := erc1155.Pack("isApprovedForAll", owner, operator)
	if err != nil {
		return false, err
	}
	out, err := r.call(ctx, collection, data)
	if err != nil {
		return false, fmt.Errorf("isApprovedForAll %s->%s: %w", owner.Hex(), operator.Hex(), err)
	}
	return len(out) == 32 && out[31] == 1, nil
}

func (r *Reader) call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	return r.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
}
