package safewallet

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestDeriveDeterministic(t *testing.T) {
	eoa := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	cfg := DefaultFactoryConfig()

	first, err := Derive(eoa, cfg)
	if err != nil {
		t.Fatalf("Derive failed: %v", err)
	}
	if first == (common.Address{}) {
		t.Fatal("Derived the zero address")
	}

	for i := 0; i < 10; i++ {
		again, err := Derive(eoa, cfg)
		if err != nil {
			t.Fatalf("Derive failed on repeat: %v", err)
		}
		if again != first {
			t.Fatalf("Derivation not deterministic: %s vs %s", again.Hex(), first.Hex())
		}
	}
}

func TestDeriveDistinctOwners(t *testing.T) {
	cfg := DefaultFactoryConfig()
	a, err := Derive(common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"), cfg)
	if err != nil {
		t.Fatalf("Derive failed: %v", err)
	}
	b, err := Derive(common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"), cfg)
	if err != nil {
		t.Fatalf("Derive failed: %v", err)
	}
	if a == b {
		t.Error("Different owners derived the same wallet")
	}
}

func TestDeriveDistinctFactories(t *testing.T) {
	eoa := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	cfg := DefaultFactoryConfig()

	a, err := Derive(eoa, cfg)
	if err != nil {
		t.Fatalf("Derive failed: %v", err)
	}

	cfg.Factory = common.HexToAddress("0x1111111111111111111111111111111111111111")
	b, err := Derive(eoa, cfg)
	if err != nil {
		t.Fatalf("Derive failed: %v", err)
	}
	if a == b {
		t.Error("Different factories derived the same wallet")
	}
}

func TestDeriveZeroOwner(t *testing.T) {
	_, err := Derive(common.Address{}, DefaultFactoryConfig())
	if !errors.Is(err, ErrZeroAddress) {
		t.Errorf("Expected ErrZeroAddress, got %v", err)
	}
}

func TestDeriveInvalidConfig(t *testing.T) {
	eoa := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

	_, err := Derive(eoa, FactoryConfig{})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig for empty config, got %v", err)
	}

	cfg := DefaultFactoryConfig()
	cfg.InitCodeHash = common.Hash{}
	if _, err := Derive(eoa, cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig for missing init code hash, got %v", err)
	}
}

func TestDeriveHex(t *testing.T) {
	cfg := DefaultFactoryConfig()

	fromHex, err := DeriveHex("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", cfg)
	if err != nil {
		t.Fatalf("DeriveHex failed: %v", err)
	}
	fromAddr, _ := Derive(common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"), cfg)
	if fromHex != fromAddr {
		t.Errorf("DeriveHex disagrees with Derive: %s vs %s", fromHex.Hex(), fromAddr.Hex())
	}

	for _, bad := range []string{"", "0x123", "not-an-address", "f39Fd6e51aad88F6F4ce6aB8827279cffFb9226"} {
		if _, err := DeriveHex(bad, cfg); err == nil {
			t.Errorf("DeriveHex(%q) should fail", bad)
		}
	}
}
