package models

import (
	"errors"
	"fmt"

	"github.com/cosmos/btcutil/base58"
)

const WalletKeySize = 32

var ErrInvalidWallet = errors.New("invalid wallet address")

// ValidateWallet checks that address is a base58 encoded 32-byte public key.
func ValidateWallet(address string) error {
	if address == "" {
		return fmt.Errorf("%w: empty", ErrInvalidWallet)
	}
	if len(address) < 32 || len(address) > 44 {
		return fmt.Errorf("%w: length %d", ErrInvalidWallet, len(address))
	}

	decoded := base58.Decode(address)
	if len(decoded) != WalletKeySize {
		return fmt.Errorf("%w: decodes to %d bytes", ErrInvalidWallet, len(decoded))
	}

	return nil
}

// EncodeWallet renders a raw public key the way wallets display it.
func EncodeWallet(key [WalletKeySize]byte) string {
	return base58.Encode(key[:])
}
