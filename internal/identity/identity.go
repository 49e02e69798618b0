// Package identity derives the owner-bound record address that also acts as
// the delegated signer. A derived address lies off the ed25519 curve, so no
// private key exists for it; only the program holding the seeds can sign.
package identity

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// SeedTag is the domain separator shared by the record address and the signer.
const SeedTag = "bot_config"

// Derivation is the result of deriving an owner's record address.
type Derivation struct {
	Address solana.PublicKey
	Bump    uint8
}

// Derive searches the canonical bump for owner under programID.
func Derive(programID, owner solana.PublicKey) (Derivation, error) {
	if owner.IsZero() {
		return Derivation{}, fmt.Errorf("derive bot config: owner is empty")
	}
	addr, bump, err := solana.FindProgramAddress(seeds(owner), programID)
	if err != nil {
		return Derivation{}, fmt.Errorf("derive bot config for %s: %w", owner, err)
	}
	return Derivation{Address: addr, Bump: bump}, nil
}

// Address recomputes the address for a known bump.
func Address(programID, owner solana.PublicKey, bump uint8) (solana.PublicKey, error) {
	return solana.CreateProgramAddress(SignerSeeds(owner, bump), programID)
}

// Verify reports whether address is the record address bound to owner and bump.
func Verify(programID, owner solana.PublicKey, bump uint8, address solana.PublicKey) bool {
	expected, err := Address(programID, owner, bump)
	if err != nil {
		return false
	}
	return expected.Equals(address)
}

// SignerSeeds returns the seeds, bump included, that authorize the derived signer.
func SignerSeeds(owner solana.PublicKey, bump uint8) [][]byte {
	return append(seeds(owner), []byte{bump})
}

// ProgramControlled reports whether key has no corresponding private key.
func ProgramControlled(key solana.PublicKey) bool {
	return !key.IsOnCurve()
}

func seeds(owner solana.PublicKey) [][]byte {
	return [][]byte{[]byte(SeedTag), owner.Bytes()}
}
