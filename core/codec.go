package core

// Canonical binary encoding. Every hash, signature digest and durable
// receipt in the system is defined over this one deterministic encoding, so
// it is implemented with a single well-audited library rather than
// hand-rolled varint/length-prefix code: github.com/ethereum/go-ethereum/rlp,
// the same encoder a canonical transaction hash would lean on.

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/rlp"
)

// EncodeOperation canonically encodes an unsigned Operation.
func EncodeOperation(op Operation) ([]byte, error) {
	enc, err := rlp.EncodeToBytes(&op)
	if err != nil {
		return nil, NewError(KindDecode, "encode operation", err)
	}
	return enc, nil
}

// DecodeOperation inverts EncodeOperation.
func DecodeOperation(data []byte) (Operation, error) {
	var op Operation
	if err := rlp.DecodeBytes(data, &op); err != nil {
		return Operation{}, NewError(KindDecode, "decode operation", err)
	}
	return op, nil
}

// EncodeSignedOperation canonically encodes a signed operation envelope, the
// form actually carried inside an External inbox message.
func EncodeSignedOperation(op SignedOperation) ([]byte, error) {
	enc, err := rlp.EncodeToBytes(&op)
	if err != nil {
		return nil, NewError(KindDecode, "encode signed operation", err)
	}
	return enc, nil
}

// DecodeSignedOperation inverts EncodeSignedOperation.
func DecodeSignedOperation(data []byte) (SignedOperation, error) {
	var op SignedOperation
	if err := rlp.DecodeBytes(data, &op); err != nil {
		return SignedOperation{}, NewError(KindDecode, "decode signed operation", err)
	}
	return op, nil
}

// EncodeReceipt canonically encodes a receipt for durable storage.
func EncodeReceipt(r Receipt) ([]byte, error) {
	enc, err := rlp.EncodeToBytes(&r)
	if err != nil {
		return nil, NewError(KindDecode, "encode receipt", err)
	}
	return enc, nil
}

// DecodeReceipt inverts EncodeReceipt.
func DecodeReceipt(data []byte) (Receipt, error) {
	var r Receipt
	if err := rlp.DecodeBytes(data, &r); err != nil {
		return Receipt{}, NewError(KindDecode, "decode receipt", err)
	}
	return r, nil
}

// EncodeOracleResponseBody renders an OracleResponse as the JSON body
// delivered to a resumed handler — JSON rather than RLP here since this
// body is consumed by the JS sandbox's req.json(), never re-decoded by Go.
func EncodeOracleResponseBody(resp OracleResponse) ([]byte, error) {
	body, err := json.Marshal(struct {
		StatusCode int               `json:"statusCode"`
		Headers    map[string][]string `json:"headers"`
		Body       string            `json:"body"`
		Timeout    bool              `json:"timeout"`
	}{
		StatusCode: resp.StatusCode,
		Headers:    HeadersToMap(resp.Headers),
		Body:       string(resp.Body),
		Timeout:    resp.Timeout,
	})
	if err != nil {
		return nil, NewError(KindDecode, "encode oracle response body", err)
	}
	return body, nil
}

// InboxKind tags the shape a raw inbox message payload takes.
type InboxKind uint8

const (
	// InboxExternal carries an RLP-encoded SignedOperation submitted by an
	// off-chain signer.
	InboxExternal InboxKind = iota
	// InboxInternal carries a Deposit credited by the layer-1 bridge
	// contract directly, bypassing signature verification entirely (it was
	// already authorized by the L1 inclusion of the deposit itself).
	InboxInternal
	// InboxOracleResponse carries a response to a previously issued oracle
	// request, routed back to the smart function that suspended awaiting it.
	InboxOracleResponse
)

// Deposit is an internal message crediting an L1 bridge transfer to a jstz
// account, FA-bridge style: the deposit always targets a user address and
// never runs code directly.
type Deposit struct {
	Receiver Address
	Amount   uint64
	// L1Ticketer identifies the originating ticket issuer on layer 1, kept
	// opaque here since jstz does not interpret ticket contents itself.
	L1Ticketer []byte
}

// OracleResponse carries the resolution of a previously suspended fetch
// issued by a smart function through the oracle bridge.
type OracleResponse struct {
	RequestID  uint64
	StatusCode int
	Headers    []Header
	Body       []byte
	Timeout    bool
}

// inboxEnvelope is the wire wrapper every raw InboxMessage.Payload decodes
// to: an RLP list of the kind tag and the kind-specific RLP body.
type inboxEnvelope struct {
	Kind InboxKind
	Body []byte
}

// EncodeInboxExternal wraps a signed operation for injection onto the
// inbox.
func EncodeInboxExternal(op SignedOperation) ([]byte, error) {
	body, err := EncodeSignedOperation(op)
	if err != nil {
		return nil, err
	}
	return encodeEnvelope(InboxExternal, body)
}

// EncodeInboxDeposit wraps a deposit for injection onto the inbox.
func EncodeInboxDeposit(d Deposit) ([]byte, error) {
	body, err := rlp.EncodeToBytes(&d)
	if err != nil {
		return nil, NewError(KindDecode, "encode deposit", err)
	}
	return encodeEnvelope(InboxInternal, body)
}

// EncodeInboxOracleResponse wraps an oracle response for injection onto the
// inbox.
func EncodeInboxOracleResponse(r OracleResponse) ([]byte, error) {
	body, err := rlp.EncodeToBytes(&r)
	if err != nil {
		return nil, NewError(KindDecode, "encode oracle response", err)
	}
	return encodeEnvelope(InboxOracleResponse, body)
}

func encodeEnvelope(kind InboxKind, body []byte) ([]byte, error) {
	enc, err := rlp.EncodeToBytes(&inboxEnvelope{Kind: kind, Body: body})
	if err != nil {
		return nil, NewError(KindDecode, "encode inbox envelope", err)
	}
	return enc, nil
}

// DecodeInboxMessage unwraps a raw inbox payload into its kind and
// kind-specific decoded value (one of SignedOperation, Deposit or
// OracleResponse).
func DecodeInboxMessage(payload []byte) (InboxKind, interface{}, error) {
	var env inboxEnvelope
	if err := rlp.DecodeBytes(payload, &env); err != nil {
		return 0, nil, NewError(KindDecode, "decode inbox envelope", err)
	}
	switch env.Kind {
	case InboxExternal:
		op, err := DecodeSignedOperation(env.Body)
		if err != nil {
			return 0, nil, err
		}
		return InboxExternal, op, nil
	case InboxInternal:
		var d Deposit
		if err := rlp.DecodeBytes(env.Body, &d); err != nil {
			return 0, nil, NewError(KindDecode, "decode deposit", err)
		}
		return InboxInternal, d, nil
	case InboxOracleResponse:
		var r OracleResponse
		if err := rlp.DecodeBytes(env.Body, &r); err != nil {
			return 0, nil, NewError(KindDecode, "decode oracle response", err)
		}
		return InboxOracleResponse, r, nil
	default:
		return 0, nil, NewError(KindDecode, "unknown inbox kind", nil)
	}
}
