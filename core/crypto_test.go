package core_test

import (
	"crypto/ed25519"
	"testing"

	"github.com/jstz-dev/jstz-core/core"
)

func TestEd25519SignVerifyRoundTrip(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	signer, err := core.NewEd25519Signer(priv)
	if err != nil {
		t.Fatalf("NewEd25519Signer failed: %v", err)
	}

	digest := core.Keccak256([]byte("operation payload"))
	sig, err := signer.Sign(digest)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	ok, err := core.Verify(signer.PublicKey(), digest, sig)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !ok {
		t.Fatalf("expected signature to verify")
	}

	otherDigest := core.Keccak256([]byte("different payload"))
	ok, err = core.Verify(signer.PublicKey(), otherDigest, sig)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if ok {
		t.Fatalf("signature must not verify against a different digest")
	}
}

func TestDeriveAddressRejectsBLS(t *testing.T) {
	_, err := core.DeriveAddress(core.PublicKey{Scheme: core.SchemeBLS, Bytes: []byte("anything")})
	if err != core.ErrBLSRejected {
		t.Fatalf("expected ErrBLSRejected, got %v", err)
	}
	if _, err := core.Verify(core.PublicKey{Scheme: core.SchemeBLS}, core.Hash{}, nil); err != core.ErrBLSRejected {
		t.Fatalf("expected ErrBLSRejected from Verify, got %v", err)
	}
}

func TestDeriveAddressRejectsMalformedKey(t *testing.T) {
	_, err := core.DeriveAddress(core.PublicKey{Scheme: core.SchemeEd25519, Bytes: []byte("too short")})
	if err != core.ErrInvalidPublicKey {
		t.Fatalf("expected ErrInvalidPublicKey, got %v", err)
	}
}

func TestSignerAddressMatchesDeriveAddress(t *testing.T) {
	_, priv, _ := ed25519.GenerateKey(nil)
	signer, err := core.NewEd25519Signer(priv)
	if err != nil {
		t.Fatalf("NewEd25519Signer failed: %v", err)
	}
	want, err := core.DeriveAddress(signer.PublicKey())
	if err != nil {
		t.Fatalf("DeriveAddress failed: %v", err)
	}
	if signer.Address() != want {
		t.Fatalf("Signer.Address() disagrees with DeriveAddress")
	}
}
