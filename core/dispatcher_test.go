package core_test

import (
	"crypto/ed25519"
	"testing"

	"github.com/jstz-dev/jstz-core/core"
	"golang.org/x/time/rate"
)

// stubVM is a test-only core.VM that echoes the request back as a 200
// response, or delegates to invoke when that field is set.
type stubVM struct {
	invoke func(child *core.Tx, host core.Host, caller core.CallContext, target core.Address, code []byte, req core.VMRequest, meter *core.Meter) (core.VMResponse, error)
}

func (s *stubVM) Invoke(child *core.Tx, host core.Host, caller core.CallContext, target core.Address, code []byte, req core.VMRequest, meter *core.Meter) (core.VMResponse, error) {
	if s.invoke != nil {
		return s.invoke(child, host, caller, target, code, req, meter)
	}
	return core.VMResponse{StatusCode: 200, Body: req.Body}, nil
}

func newTestDispatcher(t *testing.T, vm core.VM) (*core.Dispatcher, *core.TxEngine, *core.Signer) {
	t.Helper()
	host := core.NewMemHost(nil)
	engine := core.NewTxEngine(core.NewDurableStore(host))
	oracle := core.NewOracleQueue(rate.NewLimiter(rate.Inf, 0), core.AllowList{"https://api.example.com/"})
	d := core.NewDispatcher(core.DispatcherConfig{Host: host, Engine: engine, VM: vm, Oracle: oracle})

	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	signer, err := core.NewEd25519Signer(priv)
	if err != nil {
		t.Fatalf("NewEd25519Signer failed: %v", err)
	}
	tx := engine.Begin()
	if err := core.NewAccounts(tx).Credit(signer.Address(), 1_000_000); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	return d, engine, signer
}

func signAndEncode(t *testing.T, signer *core.Signer, op core.Operation) []byte {
	t.Helper()
	digest, err := op.Hash()
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	sig, err := signer.Sign(digest)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	payload, err := core.EncodeInboxExternal(core.SignedOperation{Operation: op, PublicKey: signer.PublicKey(), Signature: sig})
	if err != nil {
		t.Fatalf("EncodeInboxExternal failed: %v", err)
	}
	return payload
}

func TestDispatchDeployAndRunFunction(t *testing.T) {
	d, engine, signer := newTestDispatcher(t, &stubVM{})

	deployOp := core.Operation{
		Source: signer.Address(),
		Nonce:  0,
		Kind:   core.ContentDeployFunction,
		Deploy: &core.DeployFunction{Code: []byte("export default () => new Response()"), InitialCredit: 0},
	}
	res, err := d.DispatchMessage(signAndEncode(t, signer, deployOp))
	if err != nil {
		t.Fatalf("DispatchMessage (deploy) failed: %v", err)
	}
	if res.Receipt == nil || res.Receipt.Status != core.ReceiptSuccess {
		t.Fatalf("expected a successful deploy receipt, got %+v", res.Receipt)
	}
	target := res.Receipt.Deployed

	runOp := core.Operation{
		Source: signer.Address(),
		Nonce:  1,
		Kind:   core.ContentRunFunction,
		Run:    &core.RunFunction{Target: target, Entry: "/", Method: "GET", GasLimit: 50_000},
	}
	res, err = d.DispatchMessage(signAndEncode(t, signer, runOp))
	if err != nil {
		t.Fatalf("DispatchMessage (run) failed: %v", err)
	}
	if res.Receipt == nil || res.Receipt.Status != core.ReceiptSuccess || res.Receipt.Run.StatusCode != 200 {
		t.Fatalf("expected a successful run receipt, got %+v", res.Receipt)
	}

	tx := engine.Begin()
	defer tx.Rollback()
	nonce, err := core.NewAccounts(tx).NonceOf(signer.Address())
	if err != nil {
		t.Fatalf("NonceOf failed: %v", err)
	}
	if nonce != 2 {
		t.Fatalf("nonce = %d, want 2", nonce)
	}
}

func TestDispatchRejectsNonceReplay(t *testing.T) {
	d, _, signer := newTestDispatcher(t, &stubVM{})

	deployOp := core.Operation{
		Source: signer.Address(),
		Nonce:  0,
		Kind:   core.ContentDeployFunction,
		Deploy: &core.DeployFunction{Code: []byte("code")},
	}
	payload := signAndEncode(t, signer, deployOp)
	if _, err := d.DispatchMessage(payload); err != nil {
		t.Fatalf("first dispatch failed: %v", err)
	}

	res, err := d.DispatchMessage(payload)
	if err != nil {
		t.Fatalf("DispatchMessage should not itself error on a replay: %v", err)
	}
	if res.Receipt == nil || res.Receipt.Status != core.ReceiptFailed || res.Receipt.ErrorKind != core.KindNonceReplay {
		t.Fatalf("expected a failed receipt with KindNonceReplay, got %+v", res.Receipt)
	}
}

func TestDispatchRejectsNonceGap(t *testing.T) {
	d, _, signer := newTestDispatcher(t, &stubVM{})

	op := core.Operation{
		Source: signer.Address(),
		Nonce:  5,
		Kind:   core.ContentDeployFunction,
		Deploy: &core.DeployFunction{Code: []byte("code")},
	}
	res, err := d.DispatchMessage(signAndEncode(t, signer, op))
	if err != nil {
		t.Fatalf("DispatchMessage failed: %v", err)
	}
	if res.Receipt.ErrorKind != core.KindNonceGap {
		t.Fatalf("expected KindNonceGap, got %+v", res.Receipt)
	}
}

func TestFailedExecutionStillConsumesNonce(t *testing.T) {
	failingVM := &stubVM{invoke: func(child *core.Tx, host core.Host, caller core.CallContext, target core.Address, code []byte, req core.VMRequest, meter *core.Meter) (core.VMResponse, error) {
		return core.VMResponse{}, core.NewError(core.KindUserError, "handler threw", nil)
	}}
	d, engine, signer := newTestDispatcher(t, failingVM)

	deployOp := core.Operation{
		Source: signer.Address(),
		Nonce:  0,
		Kind:   core.ContentDeployFunction,
		Deploy: &core.DeployFunction{Code: []byte("code")},
	}
	res, err := d.DispatchMessage(signAndEncode(t, signer, deployOp))
	if err != nil {
		t.Fatalf("deploy failed unexpectedly: %v", err)
	}
	target := res.Receipt.Deployed

	runOp := core.Operation{
		Source: signer.Address(),
		Nonce:  1,
		Kind:   core.ContentRunFunction,
		Run:    &core.RunFunction{Target: target, Entry: "/", Method: "GET", GasLimit: 50_000},
	}
	res, err = d.DispatchMessage(signAndEncode(t, signer, runOp))
	if err != nil {
		t.Fatalf("DispatchMessage failed: %v", err)
	}
	if res.Receipt.Status != core.ReceiptFailed || res.Receipt.ErrorKind != core.KindUserError {
		t.Fatalf("expected a failed run receipt, got %+v", res.Receipt)
	}

	tx := engine.Begin()
	defer tx.Rollback()
	nonce, err := core.NewAccounts(tx).NonceOf(signer.Address())
	if err != nil {
		t.Fatalf("NonceOf failed: %v", err)
	}
	if nonce != 2 {
		t.Fatalf("nonce must bump even on failed execution, got %d", nonce)
	}
}

func TestDispatchRunFunctionAgainstVacantAddressFails(t *testing.T) {
	d, _, signer := newTestDispatcher(t, &stubVM{})
	vacant := core.DeriveUserAddress([core.AddressSize]byte{99})

	runOp := core.Operation{
		Source: signer.Address(),
		Nonce:  0,
		Kind:   core.ContentRunFunction,
		Run:    &core.RunFunction{Target: vacant, Entry: "/", Method: "GET", GasLimit: 50_000},
	}
	res, err := d.DispatchMessage(signAndEncode(t, signer, runOp))
	if err != nil {
		t.Fatalf("DispatchMessage failed: %v", err)
	}
	if res.Receipt.ErrorKind != core.KindNoSuchFunction {
		t.Fatalf("expected KindNoSuchFunction, got %+v", res.Receipt)
	}
}

func TestDispatchRunFunctionZeroGasLimitFailsBeforeAnyEffect(t *testing.T) {
	invoked := false
	d, engine, signer := newTestDispatcher(t, &stubVM{invoke: func(child *core.Tx, host core.Host, caller core.CallContext, target core.Address, code []byte, req core.VMRequest, meter *core.Meter) (core.VMResponse, error) {
		invoked = true
		return core.VMResponse{StatusCode: 200}, nil
	}})

	deployOp := core.Operation{
		Source: signer.Address(),
		Nonce:  0,
		Kind:   core.ContentDeployFunction,
		Deploy: &core.DeployFunction{Code: []byte("code")},
	}
	res, err := d.DispatchMessage(signAndEncode(t, signer, deployOp))
	if err != nil {
		t.Fatalf("deploy failed: %v", err)
	}
	target := res.Receipt.Deployed

	balBefore := accountBalance(t, engine, signer.Address())

	runOp := core.Operation{
		Source: signer.Address(),
		Nonce:  1,
		Kind:   core.ContentRunFunction,
		Run:    &core.RunFunction{Target: target, Entry: "/", Method: "GET", Amount: 1, GasLimit: 0},
	}
	res, err = d.DispatchMessage(signAndEncode(t, signer, runOp))
	if err != nil {
		t.Fatalf("DispatchMessage failed: %v", err)
	}
	if res.Receipt.Status != core.ReceiptFailed || res.Receipt.ErrorKind != core.KindOutOfGas {
		t.Fatalf("expected a failed receipt with KindOutOfGas, got %+v", res.Receipt)
	}
	if invoked {
		t.Fatalf("handler must not run when gas_limit is 0")
	}
	if got := accountBalance(t, engine, signer.Address()); got != balBefore {
		t.Fatalf("balance must be unchanged on a gas_limit=0 rejection: got %d, want %d", got, balBefore)
	}
}

func accountBalance(t *testing.T, engine *core.TxEngine, addr core.Address) uint64 {
	t.Helper()
	tx := engine.Begin()
	defer tx.Rollback()
	bal, err := core.NewAccounts(tx).BalanceOf(addr)
	if err != nil {
		t.Fatalf("BalanceOf failed: %v", err)
	}
	return bal
}

func TestDispatchRevealLargePayloadReassemblesAndExecutes(t *testing.T) {
	host := core.NewMemHost(nil)
	engine := core.NewTxEngine(core.NewDurableStore(host))

	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	signer, err := core.NewEd25519Signer(priv)
	if err != nil {
		t.Fatalf("NewEd25519Signer failed: %v", err)
	}
	tx := engine.Begin()
	if err := core.NewAccounts(tx).Credit(signer.Address(), 1_000_000); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	d := core.NewDispatcher(core.DispatcherConfig{
		Host:      host,
		Engine:    engine,
		VM:        &stubVM{},
		Injectors: core.InjectorAllowList{signer.Address()},
	})

	inner := core.Operation{
		Source: signer.Address(),
		Nonce:  0,
		Kind:   core.ContentDeployFunction,
		Deploy: &core.DeployFunction{Code: []byte("export default () => new Response()")},
	}
	innerEnc, err := core.EncodeOperation(inner)
	if err != nil {
		t.Fatalf("EncodeOperation failed: %v", err)
	}
	innerHash, err := inner.Hash()
	if err != nil {
		t.Fatalf("inner.Hash failed: %v", err)
	}
	root, chunks, numLeaves, err := core.BuildTree(innerEnc, 0, 0)
	if err != nil {
		t.Fatalf("BuildTree failed: %v", err)
	}
	for h, c := range chunks {
		host.SeedPreimage(h, c)
	}

	revealOp := core.Operation{
		Source: signer.Address(),
		Nonce:  0,
		Kind:   core.ContentRevealLargePayload,
		Reveal: &core.RevealLargePayload{
			Root:           root,
			NumLeaves:      numLeaves,
			FanOut:         core.DefaultChunkFanOut,
			Reconstruct:    core.ContentDeployFunction,
			OriginalOpHash: innerHash,
		},
	}
	res, err := d.DispatchMessage(signAndEncode(t, signer, revealOp))
	if err != nil {
		t.Fatalf("DispatchMessage (reveal) failed: %v", err)
	}
	if res.Receipt == nil || res.Receipt.Status != core.ReceiptSuccess || res.Receipt.Deployed.IsZero() {
		t.Fatalf("expected a successful deploy receipt via reveal, got %+v", res.Receipt)
	}
}

func TestDispatchRevealLargePayloadRejectsHashMismatch(t *testing.T) {
	host := core.NewMemHost(nil)
	engine := core.NewTxEngine(core.NewDurableStore(host))

	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	signer, err := core.NewEd25519Signer(priv)
	if err != nil {
		t.Fatalf("NewEd25519Signer failed: %v", err)
	}
	tx := engine.Begin()
	if err := core.NewAccounts(tx).Credit(signer.Address(), 1_000_000); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	d := core.NewDispatcher(core.DispatcherConfig{
		Host:      host,
		Engine:    engine,
		VM:        &stubVM{},
		Injectors: core.InjectorAllowList{signer.Address()},
	})

	inner := core.Operation{
		Source: signer.Address(),
		Nonce:  0,
		Kind:   core.ContentDeployFunction,
		Deploy: &core.DeployFunction{Code: []byte("export default () => new Response()")},
	}
	innerEnc, err := core.EncodeOperation(inner)
	if err != nil {
		t.Fatalf("EncodeOperation failed: %v", err)
	}
	root, chunks, numLeaves, err := core.BuildTree(innerEnc, 0, 0)
	if err != nil {
		t.Fatalf("BuildTree failed: %v", err)
	}
	for h, c := range chunks {
		host.SeedPreimage(h, c)
	}

	revealOp := core.Operation{
		Source: signer.Address(),
		Nonce:  0,
		Kind:   core.ContentRevealLargePayload,
		Reveal: &core.RevealLargePayload{
			Root:           root,
			NumLeaves:      numLeaves,
			FanOut:         core.DefaultChunkFanOut,
			Reconstruct:    core.ContentDeployFunction,
			OriginalOpHash: core.Hash{9}, // does not match the reassembled operation
		},
	}
	res, err := d.DispatchMessage(signAndEncode(t, signer, revealOp))
	if err != nil {
		t.Fatalf("DispatchMessage (reveal) failed: %v", err)
	}
	if res.Receipt.Status != core.ReceiptFailed || res.Receipt.ErrorKind != core.KindHashMismatch {
		t.Fatalf("expected KindHashMismatch, got %+v", res.Receipt)
	}
}

func TestDispatchRevealLargePayloadRejectsUnauthorizedInjector(t *testing.T) {
	d, _, signer := newTestDispatcher(t, &stubVM{})

	revealOp := core.Operation{
		Source: signer.Address(),
		Nonce:  0,
		Kind:   core.ContentRevealLargePayload,
		Reveal: &core.RevealLargePayload{Root: core.Hash{1}, NumLeaves: 1, FanOut: core.DefaultChunkFanOut, Reconstruct: core.ContentDeployFunction},
	}
	res, err := d.DispatchMessage(signAndEncode(t, signer, revealOp))
	if err != nil {
		t.Fatalf("DispatchMessage failed: %v", err)
	}
	if res.Receipt.Status != core.ReceiptFailed || res.Receipt.ErrorKind != core.KindUnauthorizedInject {
		t.Fatalf("expected KindUnauthorizedInject, got %+v", res.Receipt)
	}
}

func TestDispatchDepositBypassesSignatureAndNonce(t *testing.T) {
	d, engine, _ := newTestDispatcher(t, &stubVM{})
	receiver := core.DeriveUserAddress([core.AddressSize]byte{42})

	payload, err := core.EncodeInboxDeposit(core.Deposit{Receiver: receiver, Amount: 500})
	if err != nil {
		t.Fatalf("EncodeInboxDeposit failed: %v", err)
	}
	if _, err := d.DispatchMessage(payload); err != nil {
		t.Fatalf("DispatchMessage (deposit) failed: %v", err)
	}

	tx := engine.Begin()
	defer tx.Rollback()
	bal, err := core.NewAccounts(tx).BalanceOf(receiver)
	if err != nil {
		t.Fatalf("BalanceOf failed: %v", err)
	}
	if bal != 500 {
		t.Fatalf("balance = %d, want 500", bal)
	}
}

func TestDispatchOracleResponseDropsUnmatchedRequest(t *testing.T) {
	var gotBody []byte
	resumeVM := &stubVM{invoke: func(child *core.Tx, host core.Host, caller core.CallContext, target core.Address, code []byte, req core.VMRequest, meter *core.Meter) (core.VMResponse, error) {
		gotBody = req.Body
		return core.VMResponse{StatusCode: 200}, nil
	}}
	d, engine, signer := newTestDispatcher(t, resumeVM)

	deployOp := core.Operation{
		Source: signer.Address(),
		Nonce:  0,
		Kind:   core.ContentDeployFunction,
		Deploy: &core.DeployFunction{Code: []byte("code")},
	}
	res, err := d.DispatchMessage(signAndEncode(t, signer, deployOp))
	if err != nil {
		t.Fatalf("deploy failed: %v", err)
	}
	target := res.Receipt.Deployed
	_ = engine

	d.SetLevel(1)
	resp := core.OracleResponse{RequestID: 7, StatusCode: 200, Body: []byte("resolved")}
	payload, err := core.EncodeInboxOracleResponse(resp)
	if err != nil {
		t.Fatalf("EncodeInboxOracleResponse failed: %v", err)
	}
	// no matching pending request (id 7 was never Submit()'d): the dispatcher
	// must silently drop it rather than error.
	if _, err := d.DispatchMessage(payload); err != nil {
		t.Fatalf("DispatchMessage (unmatched oracle response) failed: %v", err)
	}
	if gotBody != nil {
		t.Fatalf("handler should not have been resumed for an unmatched response")
	}
	_ = target
}
