package core

// Address identifies either a user account (derived from a public key) or a
// deployed smart function (derived from its code, deployer and a nonce).
// The textual encoding builds on a typical Hex()/Short() wallet-address
// helper but adds a variant tag and checksum so the two address kinds are
// never ambiguous and a typo is caught locally instead of silently
// addressing the wrong account.

import (
	"encoding/base32"
	"errors"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// AddressKind distinguishes user accounts from smart-function accounts.
type AddressKind uint8

const (
	// KindUser marks an address derived from a signer's public key.
	KindUser AddressKind = iota
	// KindSmartFunction marks an address derived from deployed code.
	KindSmartFunction
)

func (k AddressKind) String() string {
	switch k {
	case KindUser:
		return "user"
	case KindSmartFunction:
		return "smart-function"
	default:
		return "unknown"
	}
}

// addressPrefix is the human-readable tag prepended to the encoded payload,
// one per AddressKind so the textual form alone discloses the account kind.
var addressPrefix = map[AddressKind]string{
	KindUser:          "jstzU",
	KindSmartFunction: "jstzC",
}

var prefixKind = map[string]AddressKind{
	"jstzU": KindUser,
	"jstzC": KindSmartFunction,
}

// AddressSize is the length, in bytes, of the opaque identifier within an
// Address (independent of the human-readable textual encoding below).
const AddressSize = 20

// Address is a bounded opaque identifier for a user or smart-function
// account. The zero value is never a valid address — see AddressZero for the
// sentinel used by genesis/ burn paths.
type Address struct {
	Kind AddressKind
	Hash [AddressSize]byte
}

// AddressZero is the sentinel "no address" value used by deposit/burn paths.
var AddressZero = Address{}

// Bytes returns the raw 20-byte payload (without kind tag or checksum).
func (a Address) Bytes() []byte { return a.Hash[:] }

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// checksum4 derives a 4-byte integrity checksum over the tagged payload using
// Keccak-256 truncation, the same hashing primitive the go-ethereum-backed
// signature path already depends on.
func checksum4(kind AddressKind, payload []byte) [4]byte {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte{byte(kind)})
	h.Write(payload)
	sum := h.Sum(nil)
	var out [4]byte
	copy(out[:], sum[:4])
	return out
}

// String renders the address as "<prefix><base32(payload||checksum)>". The
// encoding is injective: distinct (Kind, Hash) pairs always produce distinct
// strings, and Parse inverts String exactly.
func (a Address) String() string {
	prefix, ok := addressPrefix[a.Kind]
	if !ok {
		prefix = "jstz?"
	}
	cksum := checksum4(a.Kind, a.Hash[:])
	buf := make([]byte, 0, AddressSize+4)
	buf = append(buf, a.Hash[:]...)
	buf = append(buf, cksum[:]...)
	return prefix + b32.EncodeToString(buf)
}

// IsZero reports whether a is the sentinel zero address.
func (a Address) IsZero() bool { return a == AddressZero }

// ParseAddress inverts Address.String, rejecting malformed input and
// checksum mismatches so a corrupted or mistyped address is never silently
// accepted.
func ParseAddress(s string) (Address, error) {
	if len(s) < 5 {
		return Address{}, errors.New("core: address too short")
	}
	prefix := s[:5]
	kind, ok := prefixKind[prefix]
	if !ok {
		return Address{}, fmt.Errorf("core: unknown address prefix %q", prefix)
	}
	raw, err := b32.DecodeString(s[5:])
	if err != nil {
		return Address{}, fmt.Errorf("core: bad address encoding: %w", err)
	}
	if len(raw) != AddressSize+4 {
		return Address{}, fmt.Errorf("core: bad address length %d", len(raw))
	}
	var a Address
	a.Kind = kind
	copy(a.Hash[:], raw[:AddressSize])
	want := checksum4(kind, a.Hash[:])
	var got [4]byte
	copy(got[:], raw[AddressSize:])
	if want != got {
		return Address{}, errors.New("core: address checksum mismatch")
	}
	return a, nil
}

// DeriveUserAddress derives a user Address from a verification-key digest
// (see DeriveAddress for the scheme-specific hashing).
func DeriveUserAddress(pubKeyHash [AddressSize]byte) Address {
	return Address{Kind: KindUser, Hash: pubKeyHash}
}

// DeriveSmartFunctionAddress computes the content address of a smart
// function deployed by deployer with the given code, at the deployer's
// nonce-at-deploy-time. The address is a pure function of (deployer, nonce,
// code) so redeploying identical code at a fresh nonce always yields a
// fresh address.
func DeriveSmartFunctionAddress(deployer Address, nonce uint64, code []byte) Address {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte("jstz-deploy-v1"))
	h.Write(deployer.Hash[:])
	var nb [8]byte
	putUint64(nb[:], nonce)
	h.Write(nb[:])
	codeHash := Keccak256(code)
	h.Write(codeHash[:])
	sum := h.Sum(nil)
	var out [AddressSize]byte
	copy(out[:], sum[len(sum)-AddressSize:])
	return Address{Kind: KindSmartFunction, Hash: out}
}

func putUint64(b []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}
