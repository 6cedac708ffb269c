package core

// Signature scheme abstraction: ed25519 HD-wallet-style key handling plus
// secp256k1 sign/verify via go-ethereum/crypto; BLS is recognised only so it
// can be rejected outright rather than silently mis-handled.

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"
)

// HashSize is the width, in bytes, of a Hash.
const HashSize = 32

// Hash is a 32-byte digest used for operation hashes, receipt keys and
// reveal roots.
type Hash [HashSize]byte

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool { return h == Hash{} }

// Keccak256 hashes data with Keccak-256, the digest used throughout the core
// for addresses, operation hashes and reveal roots.
func Keccak256(data ...[]byte) Hash {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// Scheme identifies a signature algorithm accepted (or explicitly rejected)
// by the core.
type Scheme uint8

const (
	// SchemeEd25519 is the default, recommended scheme.
	SchemeEd25519 Scheme = iota
	// SchemeSecp256k1 is accepted for compatibility with existing tooling.
	SchemeSecp256k1
	// SchemeBLS is recognised only to be rejected — aggregate signatures
	// break the per-operation, independently-verifiable signing model the
	// dispatcher relies on.
	SchemeBLS
)

// PublicKey is a scheme-tagged verification key.
type PublicKey struct {
	Scheme Scheme
	Bytes  []byte
}

// ErrBLSRejected is returned whenever a BLS key or signature is presented to
// the core; BLS is the one scheme this system treats as unconditionally
// invalid.
var ErrBLSRejected = errors.New("core: BLS keys/signatures are not accepted")

// ErrInvalidPublicKey / ErrInvalidSecretKey are the two decode errors a
// malformed key can produce.
var (
	ErrInvalidPublicKey = errors.New("core: invalid public key")
	ErrInvalidSecretKey = errors.New("core: invalid secret key")
)

// DeriveAddress computes the 20-byte account-address payload for pk: the
// low 20 bytes of Keccak256(scheme || pubkey bytes). Returns
// ErrInvalidPublicKey for malformed keys and ErrBLSRejected for BLS keys.
func DeriveAddress(pk PublicKey) (Address, error) {
	switch pk.Scheme {
	case SchemeEd25519:
		if len(pk.Bytes) != ed25519.PublicKeySize {
			return Address{}, ErrInvalidPublicKey
		}
	case SchemeSecp256k1:
		if len(pk.Bytes) != 33 && len(pk.Bytes) != 65 {
			return Address{}, ErrInvalidPublicKey
		}
	case SchemeBLS:
		return Address{}, ErrBLSRejected
	default:
		return Address{}, fmt.Errorf("core: unknown signature scheme %d", pk.Scheme)
	}
	h := Keccak256([]byte{byte(pk.Scheme)}, pk.Bytes)
	var payload [AddressSize]byte
	copy(payload[:], h[HashSize-AddressSize:])
	return DeriveUserAddress(payload), nil
}

// Verify checks sig over digest for the given public key. BLS always fails
// with ErrBLSRejected, never with a generic "bad signature", so callers can
// distinguish "rejected scheme" from "forged signature".
func Verify(pk PublicKey, digest Hash, sig []byte) (bool, error) {
	switch pk.Scheme {
	case SchemeEd25519:
		if len(pk.Bytes) != ed25519.PublicKeySize {
			return false, ErrInvalidPublicKey
		}
		return ed25519.Verify(ed25519.PublicKey(pk.Bytes), digest[:], sig), nil
	case SchemeSecp256k1:
		if len(sig) != 65 {
			return false, nil
		}
		pub, err := ethcrypto.SigToPub(digest[:], sig)
		if err != nil {
			return false, nil
		}
		full := ethcrypto.FromECDSAPub(pub)
		return ethcrypto.VerifySignature(full, digest[:], sig[:64]) && pubKeyMatches(pk.Bytes, full), nil
	case SchemeBLS:
		return false, ErrBLSRejected
	default:
		return false, fmt.Errorf("core: unknown signature scheme %d", pk.Scheme)
	}
}

func pubKeyMatches(want, recovered []byte) bool {
	if len(want) == len(recovered) {
		return hex.EncodeToString(want) == hex.EncodeToString(recovered)
	}
	// want may be compressed (33 bytes); compare against the decompressed
	// recovered key's matching address instead of raw bytes.
	wantAddr := ethcrypto.Keccak256(want)[12:]
	gotAddr := ethcrypto.Keccak256(recovered[1:])[12:]
	return hex.EncodeToString(wantAddr) == hex.EncodeToString(gotAddr)
}

// Signer produces signatures for a single keypair. Used by client-side
// tooling (cmd/jstzd) and tests; the core dispatcher only ever verifies.
type Signer struct {
	scheme  Scheme
	ed25519 ed25519.PrivateKey
}

// NewEd25519Signer wraps an ed25519 private key.
func NewEd25519Signer(priv ed25519.PrivateKey) (*Signer, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, ErrInvalidSecretKey
	}
	return &Signer{scheme: SchemeEd25519, ed25519: priv}, nil
}

// PublicKey returns the scheme-tagged public key for this signer.
func (s *Signer) PublicKey() PublicKey {
	switch s.scheme {
	case SchemeEd25519:
		pub := s.ed25519.Public().(ed25519.PublicKey)
		return PublicKey{Scheme: SchemeEd25519, Bytes: append([]byte(nil), pub...)}
	default:
		return PublicKey{}
	}
}

// Sign produces a signature over digest.
func (s *Signer) Sign(digest Hash) ([]byte, error) {
	switch s.scheme {
	case SchemeEd25519:
		return ed25519.Sign(s.ed25519, digest[:]), nil
	default:
		return nil, fmt.Errorf("core: signer scheme %d not supported", s.scheme)
	}
}

// Address returns the account address derived from this signer's public key.
func (s *Signer) Address() Address {
	addr, _ := DeriveAddress(s.PublicKey())
	return addr
}
