package core_test

import (
	"math"
	"testing"

	"github.com/jstz-dev/jstz-core/core"
)

func newTestTx() (*core.TxEngine, *core.Tx) {
	engine := newTestEngine()
	return engine, engine.Begin()
}

func TestCreditAndDebit(t *testing.T) {
	_, tx := newTestTx()
	defer tx.Rollback()
	accounts := core.NewAccounts(tx)
	addr := core.DeriveUserAddress([core.AddressSize]byte{1})

	if err := accounts.Credit(addr, 100); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	bal, err := accounts.BalanceOf(addr)
	if err != nil || bal != 100 {
		t.Fatalf("BalanceOf = %d, %v, want 100", bal, err)
	}

	if err := accounts.Debit(addr, 40); err != nil {
		t.Fatalf("Debit failed: %v", err)
	}
	bal, _ = accounts.BalanceOf(addr)
	if bal != 60 {
		t.Fatalf("BalanceOf = %d, want 60", bal)
	}
}

func TestDebitInsufficientFunds(t *testing.T) {
	_, tx := newTestTx()
	defer tx.Rollback()
	accounts := core.NewAccounts(tx)
	addr := core.DeriveUserAddress([core.AddressSize]byte{2})

	err := accounts.Debit(addr, 1)
	if core.KindOf(err) != core.KindInsufficient {
		t.Fatalf("expected KindInsufficient, got %v", err)
	}
}

func TestCreditSaturatesOnOverflow(t *testing.T) {
	_, tx := newTestTx()
	defer tx.Rollback()
	accounts := core.NewAccounts(tx)
	addr := core.DeriveUserAddress([core.AddressSize]byte{3})

	if err := accounts.Credit(addr, math.MaxUint64); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	if err := accounts.Credit(addr, 10); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	bal, _ := accounts.BalanceOf(addr)
	if bal != math.MaxUint64 {
		t.Fatalf("expected saturation at MaxUint64, got %d", bal)
	}
}

func TestTransferMovesBalanceAtomically(t *testing.T) {
	_, tx := newTestTx()
	defer tx.Rollback()
	accounts := core.NewAccounts(tx)
	src := core.DeriveUserAddress([core.AddressSize]byte{4})
	dst := core.DeriveUserAddress([core.AddressSize]byte{5})
	_ = accounts.Credit(src, 100)

	if err := accounts.Transfer(src, dst, 30); err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	srcBal, _ := accounts.BalanceOf(src)
	dstBal, _ := accounts.BalanceOf(dst)
	if srcBal != 70 || dstBal != 30 {
		t.Fatalf("src=%d dst=%d, want src=70 dst=30", srcBal, dstBal)
	}

	if err := accounts.Transfer(src, dst, 1000); core.KindOf(err) != core.KindInsufficient {
		t.Fatalf("expected failed transfer to report KindInsufficient, got %v", err)
	}
	srcBal, _ = accounts.BalanceOf(src)
	if srcBal != 70 {
		t.Fatalf("failed transfer must not partially debit, src=%d", srcBal)
	}
}

func TestNonceIncrementsMonotonically(t *testing.T) {
	_, tx := newTestTx()
	defer tx.Rollback()
	accounts := core.NewAccounts(tx)
	addr := core.DeriveUserAddress([core.AddressSize]byte{6})

	for i := uint64(0); i < 3; i++ {
		n, err := accounts.NonceOf(addr)
		if err != nil || n != i {
			t.Fatalf("NonceOf = %d, %v, want %d", n, err, i)
		}
		if err := accounts.IncrementNonce(addr); err != nil {
			t.Fatalf("IncrementNonce failed: %v", err)
		}
	}
}

func TestDeployRejectsOccupiedAddress(t *testing.T) {
	_, tx := newTestTx()
	defer tx.Rollback()
	accounts := core.NewAccounts(tx)
	addr := core.DeriveUserAddress([core.AddressSize]byte{7})

	if err := accounts.Deploy(addr, []byte("code"), 50); err != nil {
		t.Fatalf("Deploy failed: %v", err)
	}
	bal, _ := accounts.BalanceOf(addr)
	if bal != 50 {
		t.Fatalf("expected initial credit to land, balance=%d", bal)
	}

	err := accounts.Deploy(addr, []byte("other code"), 0)
	if core.KindOf(err) != core.KindAlreadyDeployed {
		t.Fatalf("expected KindAlreadyDeployed, got %v", err)
	}
}

func TestKvRoundTripAndPrefix(t *testing.T) {
	_, tx := newTestTx()
	defer tx.Rollback()
	accounts := core.NewAccounts(tx)
	addr := core.DeriveUserAddress([core.AddressSize]byte{8})

	has, err := accounts.KvHas(addr, "counter")
	if err != nil || has {
		t.Fatalf("expected missing key, got has=%v err=%v", has, err)
	}

	accounts.KvSet(addr, "counter", []byte("1"))
	v, err := accounts.KvGet(addr, "counter")
	if err != nil || string(v) != "1" {
		t.Fatalf("KvGet = %q, %v, want 1", v, err)
	}

	accounts.KvDelete(addr, "counter")
	v, err = accounts.KvGet(addr, "counter")
	if err != nil || v != nil {
		t.Fatalf("expected deleted key to read nil, got %q", v)
	}

	if core.KvPrefix(addr) == "" {
		t.Fatalf("expected a non-empty KV prefix")
	}
}
