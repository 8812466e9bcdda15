// Package eth provides minimal Ethereum address utilities used to mint
// synthetic wallet identities for local demo data. The trading/signing
// surface of the original package is not needed by a pure analytics core.
package eth

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressFromHexKey derives the checksummed address for a hex-encoded
// private key, without retaining the key itself.
func AddressFromHexKey(hexKey string) (common.Address, error) {
	hexKey = strings.TrimPrefix(hexKey, "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return common.Address{}, fmt.Errorf("parse private key: %w", err)
	}
	return crypto.PubkeyToAddress(key.PublicKey), nil
}

// NewSyntheticAddress mints a fresh random address, used only by
// seed.GenerateSynthetic to populate demo wallet pools.
func NewSyntheticAddress() (common.Address, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return common.Address{}, fmt.Errorf("generate key: %w", err)
	}
	return crypto.PubkeyToAddress(key.PublicKey), nil
}
