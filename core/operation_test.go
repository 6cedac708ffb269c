package core_test

import (
	"errors"
	"reflect"
	"testing"

	"github.com/jstz-dev/jstz-core/core"
)

func TestHeadersMapRoundTripIsSortedByKey(t *testing.T) {
	m := map[string][]string{
		"Content-Type": {"application/json"},
		"Accept":       {"*/*"},
	}
	headers := core.HeadersFromMap(m)
	if len(headers) != 2 || headers[0].Key != "Accept" || headers[1].Key != "Content-Type" {
		t.Fatalf("expected headers sorted by key, got %+v", headers)
	}

	back := core.HeadersToMap(headers)
	if !reflect.DeepEqual(back, m) {
		t.Fatalf("round trip mismatch: got %+v want %+v", back, m)
	}
}

func TestHeadersFromEmptyMapIsNil(t *testing.T) {
	if core.HeadersFromMap(nil) != nil {
		t.Fatalf("expected nil for an empty map")
	}
	if core.HeadersToMap(nil) != nil {
		t.Fatalf("expected nil for an empty slice")
	}
}

func TestOperationHashIsDeterministicAndContentSensitive(t *testing.T) {
	addr := core.DeriveUserAddress([core.AddressSize]byte{1})
	op := core.Operation{
		Source: addr,
		Nonce:  1,
		Kind:   core.ContentDeployFunction,
		Deploy: &core.DeployFunction{Code: []byte("code"), InitialCredit: 10},
	}
	h1, err := op.Hash()
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	h2, err := op.Hash()
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("Hash is not deterministic")
	}

	op.Nonce = 2
	h3, err := op.Hash()
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if h1 == h3 {
		t.Fatalf("changing the nonce must change the hash")
	}
}

func TestReceiptConstructors(t *testing.T) {
	opHash := core.Keccak256([]byte("op"))
	deployed := core.DeriveUserAddress([core.AddressSize]byte{2})

	d := core.NewDeployReceipt(opHash, deployed, 100)
	if d.Status != core.ReceiptSuccess || d.Deployed != deployed || d.GasUsed != 100 {
		t.Fatalf("unexpected deploy receipt: %+v", d)
	}

	r := core.NewRunReceipt(opHash, core.RunResult{StatusCode: 200, Body: []byte("ok")}, 50)
	if r.Status != core.ReceiptSuccess || r.Run == nil || r.Run.StatusCode != 200 {
		t.Fatalf("unexpected run receipt: %+v", r)
	}

	f := core.NewFailureReceipt(opHash, core.NewError(core.KindInsufficient, "no funds", errors.New("x")), 10)
	if f.Status != core.ReceiptFailed || f.ErrorKind != core.KindInsufficient || f.ErrorMessage == "" {
		t.Fatalf("unexpected failure receipt: %+v", f)
	}
}
