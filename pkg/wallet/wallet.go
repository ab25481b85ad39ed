// Package wallet normalises wallet addresses used as analysis keys.
package wallet

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mr-tron/base58"
)

// Kind identifies the address family.
type Kind string

const (
	KindEVM    Kind = "evm"
	KindSolana Kind = "solana"
)

var ErrEmptyAddress = errors.New("empty wallet address")

const solanaKeyLen = 32

// Normalize returns the canonical spelling of address: EIP-55 checksum for
// EVM addresses, unchanged for Solana base58 addresses. Equivalent spellings
// of one wallet normalise to the same key.
func Normalize(address string) (string, error) {
	canonical, _, err := Parse(address)
	return canonical, err
}

// Parse normalises address and reports its family.
func Parse(address string) (string, Kind, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", "", ErrEmptyAddress
	}

	if strings.HasPrefix(address, "0x") || strings.HasPrefix(address, "0X") {
		if !common.IsHexAddress(address) {
			return "", "", fmt.Errorf("invalid EVM address %q", address)
		}
		return common.HexToAddress(address).Hex(), KindEVM, nil
	}

	if err := validateBase58(address); err != nil {
		return "", "", fmt.Errorf("invalid Solana address: %w", err)
	}
	return address, KindSolana, nil
}

// validateBase58 checks that s decodes to a 32-byte ed25519 public key.
func validateBase58(s string) error {
	if len(s) < 32 || len(s) > 44 {
		return fmt.Errorf("address length %d out of range [32, 44]", len(s))
	}
	key, err := base58.Decode(s)
	if err != nil {
		return fmt.Errorf("failed to decode base58: %w", err)
	}
	if len(key) != solanaKeyLen {
		return fmt.Errorf("decoded key is %d bytes, want %d", len(key), solanaKeyLen)
	}
	return nil
}
