package core

// Operation data types: the operation kinds a signer can submit, the
// envelope that carries a signature over them, and the receipt the
// dispatcher produces for each one. Shaped after a Transaction/Receipt
// split, generalised from a single payment kind to a tagged operation
// union.

import (
	"fmt"
	"sort"
)

// ContentKind tags which of an Operation's Deploy/Run/Reveal fields is set.
type ContentKind uint8

const (
	ContentDeployFunction ContentKind = iota
	ContentRunFunction
	ContentRevealLargePayload
)

func (k ContentKind) String() string {
	switch k {
	case ContentDeployFunction:
		return "DeployFunction"
	case ContentRunFunction:
		return "RunFunction"
	case ContentRevealLargePayload:
		return "RevealLargePayload"
	default:
		return fmt.Sprintf("ContentKind(%d)", k)
	}
}

// DeployFunction originates a new smart function from inline code.
type DeployFunction struct {
	Code         []byte
	InitialCredit uint64
}

// Header is one HTTP header entry. RLP has no native map type, so request
// and response headers are carried as an ordered slice of entries rather
// than a map[string][]string — the same shape the codec uses everywhere
// else headers cross the wire (RunResult, OracleResponse).
type Header struct {
	Key    string
	Values []string
}

// HeadersFromMap converts a Go map into the canonical ordered Header slice,
// sorting keys for determinism.
func HeadersFromMap(m map[string][]string) []Header {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Header, 0, len(keys))
	for _, k := range keys {
		out = append(out, Header{Key: k, Values: m[k]})
	}
	return out
}

// HeadersToMap converts a Header slice back into a Go map for convenient
// lookup.
func HeadersToMap(h []Header) map[string][]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string][]string, len(h))
	for _, e := range h {
		out[e.Key] = e.Values
	}
	return out
}

// RunFunction invokes an existing smart function's handler, optionally
// attaching mutez to the call. GasLimit bounds this call alone, independent
// of any other operation sharing the same level — a RunFunction with
// GasLimit 0 always fails with OutOfGas before any observable effect.
type RunFunction struct {
	Target    Address
	Entry     string // request path, e.g. "/"
	Method    string // "GET", "POST", ...
	Headers   []Header
	Body      []byte
	Amount    uint64
	GasLimit  uint64
}

// RevealLargePayload names a Merkle root whose leaves must already have been
// revealed before the payload they reconstruct to can take effect as either
// a DeployFunction or a RunFunction. OriginalOpHash binds the reveal to the
// specific signed operation whose large field was elided at signing time:
// once the chunks are reassembled, the reassembled inner operation's hash
// must equal OriginalOpHash before it is allowed to execute, so a reveal
// can never be used to smuggle in content nobody signed.
type RevealLargePayload struct {
	Root           Hash
	NumLeaves      uint32
	FanOut         uint32
	Reconstruct    ContentKind // which of the two kinds the assembled bytes decode to
	OriginalOpHash Hash
}

// Operation is the unsigned envelope every signer-originated action is
// wrapped in.
type Operation struct {
	Source Address
	Nonce  uint64
	Kind   ContentKind
	Deploy *DeployFunction     `rlp:"nil"`
	Run    *RunFunction        `rlp:"nil"`
	Reveal *RevealLargePayload `rlp:"nil"`
}

// SignedOperation is what actually arrives over the inbox: an Operation plus
// the public key and signature attesting to it.
type SignedOperation struct {
	Operation Operation
	PublicKey PublicKey
	Signature []byte
}

// Hash returns the canonical operation hash used as its receipt key and as
// the message digest signers sign over.
func (op Operation) Hash() (Hash, error) {
	enc, err := EncodeOperation(op)
	if err != nil {
		return Hash{}, err
	}
	return Keccak256(enc), nil
}

// ReceiptStatus is the coarse outcome recorded for an operation.
type ReceiptStatus uint8

const (
	ReceiptSuccess ReceiptStatus = iota
	ReceiptFailed
)

// RunResult carries a RunFunction's handler response back to the caller.
type RunResult struct {
	StatusCode int
	Headers    []Header
	Body       []byte
}

// Receipt is the durable record of an operation's outcome.
// Exactly one of Run/Deployed is meaningful, selected by the source
// operation's Kind; a RevealLargePayload receipt is the receipt of the
// reassembled inner operation, so it carries Deployed or Run accordingly.
type Receipt struct {
	OperationHash Hash
	Status        ReceiptStatus
	ErrorKind     Kind
	ErrorMessage  string
	Deployed      Address
	Run           *RunResult `rlp:"nil"`
	GasUsed       uint64
}

// NewDeployReceipt builds a success receipt for a DeployFunction operation.
func NewDeployReceipt(opHash Hash, deployed Address, gasUsed uint64) Receipt {
	return Receipt{OperationHash: opHash, Status: ReceiptSuccess, Deployed: deployed, GasUsed: gasUsed}
}

// NewRunReceipt builds a success receipt for a RunFunction operation.
func NewRunReceipt(opHash Hash, result RunResult, gasUsed uint64) Receipt {
	return Receipt{OperationHash: opHash, Status: ReceiptSuccess, Run: &result, GasUsed: gasUsed}
}

// NewFailureReceipt builds a failure receipt from a classified error.
func NewFailureReceipt(opHash Hash, err error, gasUsed uint64) Receipt {
	return Receipt{
		OperationHash: opHash,
		Status:        ReceiptFailed,
		ErrorKind:     KindOf(err),
		ErrorMessage:  err.Error(),
		GasUsed:       gasUsed,
	}
}

func receiptPath(opHash Hash) string {
	return fmt.Sprintf("receipts/%s", opHash)
}
