package core

// Accounts gives typed access to per-address balance, nonce, code and KV
// state through the transaction engine, in the style of an account-manager
// facade generalised from a flat ledger map to a transactional,
// path-addressed durable layout.

import (
	"encoding/binary"
	"fmt"
)

func balancePath(addr Address) string { return fmt.Sprintf("accounts/%s/balance", addr) }
func noncePath(addr Address) string   { return fmt.Sprintf("accounts/%s/nonce", addr) }
func codePath(addr Address) string    { return fmt.Sprintf("accounts/%s/code", addr) }
func kvPath(addr Address, key string) string {
	return fmt.Sprintf("accounts/%s/kv/%s", addr, key)
}
func kvPrefix(addr Address) string { return fmt.Sprintf("accounts/%s/kv", addr) }

func encodeU64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func decodeU64(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

// Accounts provides typed balance/nonce/code/KV operations over a single
// transaction frame. It holds no state of its own beyond the tx it's bound
// to, so a fresh Accounts can be constructed cheaply per call if preferred;
// the dispatcher keeps one alive per frame for readability.
type Accounts struct {
	tx *Tx
}

// NewAccounts binds an Accounts view to tx.
func NewAccounts(tx *Tx) *Accounts { return &Accounts{tx: tx} }

// BalanceOf returns the mutez balance of addr (0 if the account has never
// been credited).
func (a *Accounts) BalanceOf(addr Address) (uint64, error) {
	v, err := a.tx.Get(balancePath(addr))
	if err != nil {
		return 0, err
	}
	return decodeU64(v), nil
}

// Credit adds amount mutez to addr's balance. Saturates rather than
// overflowing.
func (a *Accounts) Credit(addr Address, amount uint64) error {
	if amount == 0 {
		return nil
	}
	bal, err := a.BalanceOf(addr)
	if err != nil {
		return err
	}
	sum := bal + amount
	if sum < bal { // overflow
		sum = ^uint64(0)
	}
	a.tx.Put(balancePath(addr), encodeU64(sum))
	return nil
}

// Debit subtracts amount mutez from addr's balance, failing with
// KindInsufficient (never going negative) if the balance is too low.
func (a *Accounts) Debit(addr Address, amount uint64) error {
	if amount == 0 {
		return nil
	}
	bal, err := a.BalanceOf(addr)
	if err != nil {
		return err
	}
	if bal < amount {
		return NewError(KindInsufficient, fmt.Sprintf("%s has %d, needs %d", addr, bal, amount), nil)
	}
	a.tx.Put(balancePath(addr), encodeU64(bal-amount))
	return nil
}

// Transfer moves amount mutez from src to dst atomically within the current
// transaction frame (both writes land in the same tx, so a later rollback
// undoes both together).
func (a *Accounts) Transfer(src, dst Address, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if err := a.Debit(src, amount); err != nil {
		return err
	}
	return a.Credit(dst, amount)
}

// NonceOf returns the current nonce for addr (user accounts only; always 0
// for smart-function addresses, which never originate operations).
func (a *Accounts) NonceOf(addr Address) (uint64, error) {
	v, err := a.tx.Get(noncePath(addr))
	if err != nil {
		return 0, err
	}
	return decodeU64(v), nil
}

// IncrementNonce advances addr's nonce by exactly one. Nonces never
// decrease.
func (a *Accounts) IncrementNonce(addr Address) error {
	n, err := a.NonceOf(addr)
	if err != nil {
		return err
	}
	a.tx.Put(noncePath(addr), encodeU64(n+1))
	return nil
}

// CodeOf returns the deployed code for a smart-function address, or nil if
// addr has no deployed code.
func (a *Accounts) CodeOf(addr Address) ([]byte, error) {
	return a.tx.Get(codePath(addr))
}

// Deploy originates a new smart-function account at addr with the given
// code and initial credit. Fails with KindAlreadyDeployed if addr is
// already occupied.
func (a *Accounts) Deploy(addr Address, code []byte, credit uint64) error {
	existing, err := a.CodeOf(addr)
	if err != nil {
		return err
	}
	if existing != nil || a.tx.WasCreated(addr) {
		return NewError(KindAlreadyDeployed, addr.String(), nil)
	}
	a.tx.Put(codePath(addr), code)
	a.tx.MarkCreated(addr)
	if credit > 0 {
		if err := a.Credit(addr, credit); err != nil {
			return err
		}
	}
	return nil
}

// KvGet reads a JSON-serialisable value from a smart function's private KV
// subtree.
func (a *Accounts) KvGet(addr Address, key string) ([]byte, error) {
	return a.tx.Get(kvPath(addr, key))
}

// KvSet writes a value into a smart function's private KV subtree.
func (a *Accounts) KvSet(addr Address, key string, value []byte) {
	a.tx.Put(kvPath(addr, key), value)
}

// KvDelete removes a key from a smart function's private KV subtree.
func (a *Accounts) KvDelete(addr Address, key string) {
	a.tx.Delete(kvPath(addr, key))
}

// KvHas reports whether key is present in addr's KV subtree.
func (a *Accounts) KvHas(addr Address, key string) (bool, error) {
	v, err := a.KvGet(addr, key)
	if err != nil {
		return false, err
	}
	return v != nil, nil
}

// KvPrefix returns the durable-store path prefix for addr's KV subtree, for
// external clients that want to list the subtree rather than fetch one key.
func KvPrefix(addr Address) string { return kvPrefix(addr) }
