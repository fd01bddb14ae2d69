package eth

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer produces the EIP-712 signatures the exchange accepts: the ClobAuth
// message for credential issuance and Order intents for the CTF exchanges.
type Signer struct {
	wallet *Wallet
}

// NewSigner creates an EIP-712 signer backed by the given wallet.
func NewSigner(wallet *Wallet) *Signer {
	return &Signer{wallet: wallet}
}

// Address returns the signing account's address.
func (s *Signer) Address() common.Address {
	return s.wallet.Address()
}

// SignClobAuth signs the exchange's credential-authentication message.
// Both deriving existing credentials and creating new ones present this
// structured message to the user's wallet.
func (s *Signer) SignClobAuth(chainID int64, timestamp string, nonce *big.Int) (string, error) {
	domainSep := hashDomain("ClobAuthDomain", "1", chainID)

	typeHash := crypto.Keccak256Hash([]byte("ClobAuth(address address,string timestamp,uint256 nonce)"))

	msgHash := crypto.Keccak256Hash(
		typeHash.Bytes(),
		common.LeftPadBytes(s.wallet.Address().Bytes(), 32),
		crypto.Keccak256Hash([]byte(timestamp)).Bytes(),
		common.LeftPadBytes(nonce.Bytes(), 32),
	)

	sig, err := s.wallet.SignHash(digest(domainSep, msgHash))
	if err != nil {
		return "", fmt.Errorf("sign clob auth: %w", err)
	}
	return fmt.Sprintf("0x%x", sig), nil
}

// OrderData is the EIP-712 message for a CTF exchange order.
type OrderData struct {
	Salt          *big.Int
	Maker         common.Address
	Signer        common.Address
	Taker         common.Address
	TokenID       *big.Int
	MakerAmount   *big.Int
	TakerAmount   *big.Int
	Expiration    *big.Int
	Nonce         *big.Int
	FeeRateBps    *big.Int
	Side          uint8
	SignatureType uint8
}

// SignOrder signs an order intent for the given exchange contract.
func (s *Signer) SignOrder(chainID int64, exchange common.Address, order *OrderData) (string, error) {
	domainSep := hashDomainWithContract("Polymarket CTF Exchange", "1", chainID, exchange)

	typeHash := crypto.Keccak256Hash([]byte(
		"Order(uint256 salt,address maker,address signer,address taker," +
			"uint256 tokenId,uint256 makerAmount,uint256 takerAmount," +
			"uint256 expiration,uint256 nonce,uint256 feeRateBps," +
			"uint8 side,uint8 signatureType)"))

	msgHash := crypto.Keccak256Hash(
		typeHash.Bytes(),
		math.U256Bytes(order.Salt),
		common.LeftPadBytes(order.Maker.Bytes(), 32),
		common.LeftPadBytes(order.Signer.Bytes(), 32),
		common.LeftPadBytes(order.Taker.Bytes(), 32),
		math.U256Bytes(order.TokenID),
		math.U256Bytes(order.MakerAmount),
		math.U256Bytes(order.TakerAmount),
		math.U256Bytes(order.Expiration),
		math.U256Bytes(order.Nonce),
		math.U256Bytes(order.FeeRateBps),
		common.LeftPadBytes([]byte{order.Side}, 32),
		common.LeftPadBytes([]byte{order.SignatureType}, 32),
	)

	sig, err := s.wallet.SignHash(digest(domainSep, msgHash))
	if err != nil {
		return "", fmt.Errorf("sign order: %w", err)
	}
	return fmt.Sprintf("0x%x", sig), nil
}

// digest computes the final EIP-712 hash: \x19\x01 ++ domainSep ++ msgHash.
func digest(domainSep, msgHash common.Hash) []byte {
	return crypto.Keccak256Hash(
		[]byte{0x19, 0x01},
		domainSep.Bytes(),
		msgHash.Bytes(),
	).Bytes()
}

func hashDomain(name, version string, chainID int64) common.Hash {
	typeHash := crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId)"))

	return crypto.Keccak256Hash(
		typeHash.Bytes(),
		crypto.Keccak256Hash([]byte(name)).Bytes(),
		crypto.Keccak256Hash([]byte(version)).Bytes(),
		common.LeftPadBytes(big.NewInt(chainID).Bytes(), 32),
	)
}

func hashDomainWithContract(name, version string, chainID int64, contract common.Address) common.Hash {
	typeHash := crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))

	return crypto.Keccak256Hash(
		typeHash.Bytes(),
		crypto.Keccak256Hash([]byte(name)).Bytes(),
		crypto.Keccak256Hash([]byte(version)).Bytes(),
		common.LeftPadBytes(big.NewInt(chainID).Bytes(), 32),
		common.LeftPadBytes(contract.Bytes(), 32),
	)
}
