package identity

import (
	"testing"

	"github.com/gagliardetto/solana-go"
)

var testProgramID = solana.MustPublicKeyFromBase58("2ZHz4gmsvTj9QL6yXa5cNrVXm9oJ2mnBDX8PaQxoRQZb")

func newOwner(t *testing.T) solana.PublicKey {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key.PublicKey()
}

func TestDeriveIsDeterministic(t *testing.T) {
	owner := newOwner(t)

	first, err := Derive(testProgramID, owner)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	second, err := Derive(testProgramID, owner)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if !first.Address.Equals(second.Address) || first.Bump != second.Bump {
		t.Fatalf("derivation not deterministic: %+v vs %+v", first, second)
	}
	if !ProgramControlled(first.Address) {
		t.Fatal("derived address must lie off curve")
	}
	if ProgramControlled(owner) {
		t.Fatal("wallet key must lie on curve")
	}
}

func TestVerifyRejectsSubstitution(t *testing.T) {
	owner := newOwner(t)
	other := newOwner(t)

	d, err := Derive(testProgramID, owner)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if !Verify(testProgramID, owner, d.Bump, d.Address) {
		t.Fatal("expected own derivation to verify")
	}
	if Verify(testProgramID, other, d.Bump, d.Address) {
		t.Fatal("record of another owner must not verify")
	}
	if Verify(solana.SystemProgramID, owner, d.Bump, d.Address) {
		t.Fatal("derivation under another program must not verify")
	}
}

func TestSignerSeedsReproduceAddress(t *testing.T) {
	owner := newOwner(t)
	d, err := Derive(testProgramID, owner)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}

	seeds := SignerSeeds(owner, d.Bump)
	if len(seeds) != 3 || string(seeds[0]) != SeedTag || seeds[2][0] != d.Bump {
		t.Fatalf("unexpected seeds: %v", seeds)
	}
	addr, err := solana.CreateProgramAddress(seeds, testProgramID)
	if err != nil {
		t.Fatalf("create program address: %v", err)
	}
	if !addr.Equals(d.Address) {
		t.Fatalf("seeds produce %s, want %s", addr, d.Address)
	}
}

func TestDeriveRejectsEmptyOwner(t *testing.T) {
	if _, err := Derive(testProgramID, solana.PublicKey{}); err == nil {
		t.Fatal("expected error for zero owner")
	}
}
