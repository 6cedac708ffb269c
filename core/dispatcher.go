package core

// Protocol dispatcher: decode an inbox message, verify its signature,
// validate its nonce, run its content against a freshly opened top-level
// transaction, and produce a receipt — committing on success, rolling back
// on failure, and never touching the nonce at all for messages rejected
// before signature verification completes. Shaped after an
// apply-transaction/apply-block commit discipline, generalised from one
// transaction kind to three signer-originated operation kinds plus the
// internal deposit path.

import (
	"fmt"
	"sync/atomic"
)

// InjectorAllowList restricts which source addresses may submit a
// RevealLargePayload operation — the authorized-injector gate a reveal must
// pass before its chunks are even assembled, separate from the ordinary
// signature/nonce checks every operation already goes through. An empty
// list denies every reveal, the same fail-closed default AllowList uses for
// the oracle bridge.
type InjectorAllowList []Address

func (a InjectorAllowList) allows(addr Address) bool {
	for _, allowed := range a {
		if allowed == addr {
			return true
		}
	}
	return false
}

// Dispatcher owns everything needed to process one inbox message end to
// end: the transaction engine, the JS execution host, and the gas schedule.
type Dispatcher struct {
	host      Host
	engine    *TxEngine
	vm        VM
	assembler *Assembler
	schedule  GasSchedule
	gasLimit  uint64
	oracle    *OracleQueue
	injectors InjectorAllowList
	level     atomic.Uint64
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	Host      Host
	Engine    *TxEngine
	VM        VM
	Schedule  GasSchedule
	GasLimit  uint64
	Oracle    *OracleQueue
	Injectors InjectorAllowList
}

// NewDispatcher constructs a Dispatcher from cfg, filling in defaults for
// unset gas fields.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Schedule == (GasSchedule{}) {
		cfg.Schedule = DefaultGasSchedule
	}
	if cfg.GasLimit == 0 {
		cfg.GasLimit = GasLimit
	}
	return &Dispatcher{
		host:      cfg.Host,
		engine:    cfg.Engine,
		vm:        cfg.VM,
		assembler: NewAssembler(cfg.Host),
		schedule:  cfg.Schedule,
		gasLimit:  cfg.GasLimit,
		oracle:    cfg.Oracle,
		injectors: cfg.Injectors,
	}
}

// DispatchResult is what the kernel loop records for each processed
// inbox message.
type DispatchResult struct {
	Kind    InboxKind
	Receipt *Receipt // nil for deposits and oracle responses, which have no signer-facing receipt
}

// SetLevel records the inbox level the next DispatchMessage call belongs
// to, so oracle requests issued during it are timestamped correctly. The
// kernel loop calls this once per message before dispatching.
func (d *Dispatcher) SetLevel(level uint64) { d.level.Store(level) }

// CurrentLevel returns the level last recorded via SetLevel.
func (d *Dispatcher) CurrentLevel() uint64 { return d.level.Load() }

// DispatchMessage decodes and processes one raw inbox payload.
func (d *Dispatcher) DispatchMessage(payload []byte) (DispatchResult, error) {
	kind, decoded, err := DecodeInboxMessage(payload)
	if err != nil {
		return DispatchResult{}, err
	}
	switch kind {
	case InboxExternal:
		op := decoded.(SignedOperation)
		r := d.dispatchSignedOperation(op)
		if err := d.storeReceipt(r); err != nil {
			return DispatchResult{}, err
		}
		return DispatchResult{Kind: kind, Receipt: &r}, nil
	case InboxInternal:
		dep := decoded.(Deposit)
		if err := d.dispatchDeposit(dep); err != nil {
			return DispatchResult{}, err
		}
		return DispatchResult{Kind: kind}, nil
	case InboxOracleResponse:
		resp := decoded.(OracleResponse)
		if err := d.dispatchOracleResponse(resp); err != nil {
			return DispatchResult{}, err
		}
		return DispatchResult{Kind: kind}, nil
	default:
		return DispatchResult{}, NewError(KindDecode, "unhandled inbox kind", nil)
	}
}

// dispatchDeposit credits an L1 bridge transfer directly; deposits bypass
// signature verification and nonce bookkeeping entirely since their
// authorization already happened on layer 1.
func (d *Dispatcher) dispatchDeposit(dep Deposit) error {
	tx := d.engine.Begin()
	if err := NewAccounts(tx).Credit(dep.Receiver, dep.Amount); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// ExpireOracleRequests resumes every oracle request that has waited past
// OracleTimeoutLevels as of currentLevel with a synthetic timeout response.
// The kernel loop calls this once at the end of each level in which at
// least one message was processed.
func (d *Dispatcher) ExpireOracleRequests(currentLevel uint64) {
	if d.oracle == nil {
		return
	}
	for _, req := range d.oracle.ExpirePending(currentLevel) {
		_ = d.resumeOracleCaller(req.Target, OracleResponse{RequestID: req.ID, Timeout: true})
	}
}

// resumeOracleCaller is the shared tail of dispatchOracleResponse and
// ExpireOracleRequests: invoke target's handler with the response body and
// commit or discard the result.
func (d *Dispatcher) resumeOracleCaller(target Address, resp OracleResponse) error {
	code, err := func() ([]byte, error) {
		tx := d.engine.Begin()
		defer tx.Rollback()
		return NewAccounts(tx).CodeOf(target)
	}()
	if err != nil || code == nil {
		return err
	}
	body, err := EncodeOracleResponseBody(resp)
	if err != nil {
		return err
	}
	meter := NewMeter(d.schedule, d.gasLimit)
	tx := d.engine.Begin()
	vmReq := VMRequest{Method: "POST", URL: "/oracleResume", Body: body}
	if _, err := d.vm.Invoke(tx, d.host, CallContext{Caller: target, Depth: 0}, target, code, vmReq, meter); err != nil {
		tx.Rollback()
		return nil
	}
	return tx.Commit()
}

// dispatchOracleResponse resumes the smart function that issued an oracle
// request by invoking its handler again with the response JSON-encoded as
// the request body and the URL "/oracleResume", which a handler checks for
// to distinguish a resumption from a fresh call. If the queue no longer has
// the request (already resolved or expired), the response is silently
// dropped — a duplicate or late-arriving resolution is not an error.
func (d *Dispatcher) dispatchOracleResponse(resp OracleResponse) error {
	if d.oracle == nil {
		return nil
	}
	req, ok := d.oracle.Take(resp.RequestID)
	if !ok {
		return nil
	}
	return d.resumeOracleCaller(req.Target, resp)
}

// storeReceipt persists r under its operation hash in its own top-level
// transaction, so `cmd/jstzd receipt show <hash>` can look it up later.
func (d *Dispatcher) storeReceipt(r Receipt) error {
	enc, err := EncodeReceipt(r)
	if err != nil {
		return err
	}
	tx := d.engine.Begin()
	tx.Put(receiptPath(r.OperationHash), enc)
	return tx.Commit()
}

// LookupReceipt reads back a previously stored receipt by operation hash.
func LookupReceipt(store *DurableStore, opHash Hash) (Receipt, bool, error) {
	data, err := store.Read(receiptPath(opHash))
	if err != nil {
		return Receipt{}, false, err
	}
	if data == nil {
		return Receipt{}, false, nil
	}
	r, err := DecodeReceipt(data)
	if err != nil {
		return Receipt{}, false, err
	}
	return r, true, nil
}

// dispatchSignedOperation runs the full verify -> nonce-check -> execute ->
// commit-or-rollback -> receipt pipeline for one signed operation.
func (d *Dispatcher) dispatchSignedOperation(signed SignedOperation) (receipt Receipt) {
	op := signed.Operation
	opHash, err := op.Hash()
	if err != nil {
		return NewFailureReceipt(Hash{}, err, 0)
	}

	meter := NewMeter(d.schedule, d.gasLimit)
	if err := meter.ChargeBaseOperation(); err != nil {
		return NewFailureReceipt(opHash, err, meter.Used())
	}

	derived, err := DeriveAddress(signed.PublicKey)
	if err != nil {
		return NewFailureReceipt(opHash, NewError(KindBadSignature, "derive address from public key", err), meter.Used())
	}
	if derived != op.Source {
		return NewFailureReceipt(opHash, NewError(KindAddressMismatch, fmt.Sprintf("operation source %s does not match key-derived address %s", op.Source, derived), nil), meter.Used())
	}

	if err := meter.ChargeCryptoVerify(); err != nil {
		return NewFailureReceipt(opHash, err, meter.Used())
	}
	ok, err := Verify(signed.PublicKey, opHash, signed.Signature)
	if err != nil {
		return NewFailureReceipt(opHash, NewError(KindBadSignature, "verify signature", err), meter.Used())
	}
	if !ok {
		return NewFailureReceipt(opHash, NewError(KindBadSignature, "signature does not verify", nil), meter.Used())
	}

	// Nonce check-and-bump commits in its own top-level transaction, ahead
	// of and independent from content execution: a failed operation must
	// still consume its nonce, so the bump must survive even when the
	// content transaction below rolls back in full.
	nonceTx := d.engine.Begin()
	accounts := NewAccounts(nonceTx)
	current, err := accounts.NonceOf(op.Source)
	if err != nil {
		nonceTx.Rollback()
		return NewFailureReceipt(opHash, err, meter.Used())
	}
	if op.Nonce < current {
		nonceTx.Rollback()
		return NewFailureReceipt(opHash, NewError(KindNonceReplay, fmt.Sprintf("have %d, got %d", current, op.Nonce), nil), meter.Used())
	}
	if op.Nonce > current {
		nonceTx.Rollback()
		return NewFailureReceipt(opHash, NewError(KindNonceGap, fmt.Sprintf("expected %d, got %d", current, op.Nonce), nil), meter.Used())
	}
	if err := accounts.IncrementNonce(op.Source); err != nil {
		nonceTx.Rollback()
		return NewFailureReceipt(opHash, err, meter.Used())
	}
	if err := nonceTx.Commit(); err != nil {
		return NewFailureReceipt(opHash, err, meter.Used())
	}

	// A *LifetimeViolation panic from here on propagates straight through:
	// the kernel loop is the only place that recovers it, and only to halt
	// rather than continue with corrupted transaction state.
	tx := d.engine.Begin()
	result, execErr := d.execute(tx, opHash, op, meter)
	if execErr != nil {
		tx.Rollback()
		return NewFailureReceipt(opHash, execErr, meter.Used())
	}
	if err := tx.Commit(); err != nil {
		return NewFailureReceipt(opHash, err, meter.Used())
	}
	return result
}

// execute dispatches op's content (selected by op.Kind) against tx,
// returning a success receipt.
func (d *Dispatcher) execute(tx *Tx, opHash Hash, op Operation, meter *Meter) (Receipt, error) {
	switch op.Kind {
	case ContentDeployFunction:
		return d.execDeploy(tx, opHash, op, meter)
	case ContentRunFunction:
		return d.execRun(tx, opHash, op, meter)
	case ContentRevealLargePayload:
		return d.execReveal(tx, opHash, op, meter)
	default:
		return Receipt{}, NewError(KindDecode, "unknown operation content kind", nil)
	}
}

func (d *Dispatcher) execDeploy(tx *Tx, opHash Hash, op Operation, meter *Meter) (Receipt, error) {
	if op.Deploy == nil {
		return Receipt{}, NewError(KindDecode, "missing deploy content", nil)
	}
	if err := meter.ChargeCryptoHash(); err != nil {
		return Receipt{}, err
	}
	addr := DeriveSmartFunctionAddress(op.Source, op.Nonce, op.Deploy.Code)

	var receipt Receipt
	err := tx.WithChild(func(child *Tx) error {
		accounts := NewAccounts(child)
		if err := meter.ChargeStorageWrite(len(op.Deploy.Code)); err != nil {
			return err
		}
		if err := accounts.Deploy(addr, op.Deploy.Code, op.Deploy.InitialCredit); err != nil {
			return err
		}
		receipt = NewDeployReceipt(opHash, addr, meter.Used())
		return nil
	})
	return receipt, err
}

func (d *Dispatcher) execRun(tx *Tx, opHash Hash, op Operation, meter *Meter) (Receipt, error) {
	if op.Run == nil {
		return Receipt{}, NewError(KindDecode, "missing run content", nil)
	}
	// Bound this call to its own gas_limit on top of the dispatcher-wide
	// ceiling: charging the call's base cost first means gas_limit = 0
	// always fails with OutOfGas before the target's code is even looked
	// up, let alone any transfer or invocation taking effect.
	callMeter := meter.BoundedBy(op.Run.GasLimit)
	if err := callMeter.ChargeBaseOperation(); err != nil {
		return Receipt{}, err
	}

	accounts := NewAccounts(tx)
	code, err := accounts.CodeOf(op.Run.Target)
	if err != nil {
		return Receipt{}, err
	}
	if code == nil {
		return Receipt{}, NewError(KindNoSuchFunction, op.Run.Target.String(), nil)
	}

	var receipt Receipt
	err = tx.WithChild(func(child *Tx) error {
		if op.Run.Amount > 0 {
			if err := NewAccounts(child).Transfer(op.Source, op.Run.Target, op.Run.Amount); err != nil {
				return err
			}
		}
		req := VMRequest{
			Method:  op.Run.Method,
			URL:     op.Run.Entry,
			Headers: op.Run.Headers,
			Body:    op.Run.Body,
			Amount:  op.Run.Amount,
		}
		resp, err := d.vm.Invoke(child, d.host, CallContext{Caller: op.Source, Depth: 0}, op.Run.Target, code, req, callMeter)
		if err != nil {
			return err
		}
		receipt = NewRunReceipt(opHash, RunResult{StatusCode: resp.StatusCode, Headers: resp.Headers, Body: resp.Body}, meter.Used())
		return nil
	})
	return receipt, err
}

func (d *Dispatcher) execReveal(tx *Tx, opHash Hash, op Operation, meter *Meter) (Receipt, error) {
	if op.Reveal == nil {
		return Receipt{}, NewError(KindDecode, "missing reveal content", nil)
	}
	if !d.injectors.allows(op.Source) {
		return Receipt{}, NewError(KindUnauthorizedInject, fmt.Sprintf("%s is not an authorized injector", op.Source), nil)
	}
	if err := meter.Charge(d.schedule.RevealChunk * uint64(op.Reveal.NumLeaves)); err != nil {
		return Receipt{}, err
	}
	payload, err := d.assembler.Assemble(op.Reveal.Root, 64*1024*1024)
	if err != nil {
		return Receipt{}, err
	}

	decodedOp, err := DecodeOperation(payload)
	if err != nil {
		return Receipt{}, err
	}

	inner := Operation{Source: op.Source, Nonce: op.Nonce, Kind: op.Reveal.Reconstruct}
	switch op.Reveal.Reconstruct {
	case ContentDeployFunction:
		inner.Deploy = decodedOp.Deploy
	case ContentRunFunction:
		inner.Run = decodedOp.Run
	default:
		return Receipt{}, NewError(KindDecode, "reveal targets an unsupported content kind", nil)
	}

	innerHash, err := inner.Hash()
	if err != nil {
		return Receipt{}, err
	}
	if innerHash != op.Reveal.OriginalOpHash {
		return Receipt{}, NewError(KindHashMismatch, fmt.Sprintf("reassembled operation hash %s does not match original_op_hash %s", innerHash, op.Reveal.OriginalOpHash), nil)
	}

	return d.execute(tx, opHash, inner, meter)
}
