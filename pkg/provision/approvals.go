package provision

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/BadGenius22/rekon/pkg/chain"
	"github.com/BadGenius22/rekon/pkg/relay"
)

// approvalBatch assembles the fixed authorization set as one relay batch:
// an unlimited collateral allowance and a collection operator approval for
// every exchange spender. Submitted atomically so the wallet is never left
// with a partial approval set.
func approvalBatch(targets chain.ApprovalTargets) []relay.Transaction {
	txns := make([]relay.Transaction, 0, 2*len(targets.Spenders))

	for _, spender := range targets.Spenders {
		txns = append(txns, relay.Transaction{
			To:    targets.Collateral,
			Data:  hexutil.Encode(chain.ApproveCalldata(spender, chain.MaxUint256)),
			Value: "0",
		})
		txns = append(txns, relay.Transaction{
			To:    targets.Collection,
			Data:  hexutil.Encode(chain.SetApprovalForAllCalldata(spender, true)),
			Value: "0",
		})
	}
	return txns
}

// approvalLabel tags the relay task for observability.
func approvalLabel(targets chain.ApprovalTargets) string {
	return fmt.Sprintf("exchange-approvals-%d", len(targets.Spenders))
}
