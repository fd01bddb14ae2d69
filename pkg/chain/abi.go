package chain

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const erc20ABI = `[
	{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

const erc1155ABI = `[
	{"name":"isApprovedForAll","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"},{"name":"operator","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"setApprovalForAll","type":"function","stateMutability":"nonpayable","inputs":[{"name":"operator","type":"address"},{"name":"approved","type":"bool"}],"outputs":[]}
]`

var (
	erc20   abi.ABI
	erc1155 abi.ABI
)

func init() {
	var err error
	if erc20, err = abi.JSON(strings.NewReader(erc20ABI)); err != nil {
		panic(err)
	}
	if erc1155, err = abi.JSON(strings.NewReader(erc1155ABI)); err != nil {
		panic(err)
	}
}

// ApproveCalldata encodes an ERC-20 approve(spender, amount) call.
func ApproveCalldata(spender common.Address, amount *big.Int) []byte {
	data, err := erc20.Pack("approve", spender, amount)
	if err != nil {
		// Static inputs; packing cannot fail at runtime.
		panic(err)
	}
	return data
}

// SetApprovalForAllCalldata encodes an ERC-1155 setApprovalForAll call.
func SetApprovalForAllCalldata(operator common.Address, approved bool) []byte {
	data, err := erc1155.Pack("setApprovalForAll", operator, approved)
	if err != nil {
		panic(err)
	}
	return data
}

// MaxUint256 is the unlimited ERC-20 allowance value.
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
