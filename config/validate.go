package config

import (
	"fmt"
	"math/big"
	"strings"

	"deedchain/crypto"
)

// Validate checks that the party identities are well-formed bech32 addresses
// and mutually distinct where the escrow authorization model requires it.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	parties := map[string]string{
		"SellerAddress":    cfg.SellerAddress,
		"InspectorAddress": cfg.Inspector,
		"LenderAddress":    cfg.Lender,
		"RegistrarAddress": cfg.Registrar,
	}
	decoded := make(map[[20]byte]string, len(parties))
	for field, value := range parties {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			return fmt.Errorf("%s must be set", field)
		}
		addr, err := crypto.DecodeAddress(trimmed)
		if err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
		if prior, ok := decoded[addr.Bytes()]; ok && conflicts(field, prior) {
			return fmt.Errorf("%s and %s must be distinct identities", field, prior)
		}
		decoded[addr.Bytes()] = field
	}
	if strings.TrimSpace(cfg.GenesisBalance) != "" {
		if _, ok := new(big.Int).SetString(strings.TrimSpace(cfg.GenesisBalance), 10); !ok {
			return fmt.Errorf("GenesisBalance must be a base-10 integer")
		}
	}
	for _, funded := range cfg.GenesisFunded {
		if _, err := crypto.DecodeAddress(strings.TrimSpace(funded)); err != nil {
			return fmt.Errorf("GenesisFundedAddresses: %w", err)
		}
	}
	return nil
}

// conflicts reports whether two roles sharing one address would collapse the
// independent-approval model. The seller doubling as registrar is permitted;
// the inspector and lender must never alias the seller or each other.
func conflicts(a, b string) bool {
	independent := map[string]bool{
		"SellerAddress":    true,
		"InspectorAddress": true,
		"LenderAddress":    true,
	}
	return independent[a] && independent[b]
}
