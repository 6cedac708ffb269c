package core

// Reveal / preimage assembler: reconstructs a large operation payload (one
// that would not fit in a single inbox message) from a Merkle tree of
// chunks pulled one at a time through Host.RevealPreimage. The tree-of-
// hashes layout and content-addressed chunk cache are generalised from
// arbitrary-fanout file chunking to this component's fixed fan-out scheme.

import (
	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
)

// DefaultChunkFanOut bounds how many child hashes an interior Merkle node
// may list, matching the inbox message size budget: each node must itself
// fit in one revealed chunk. At 32 a full tree addresses 128 MiB of payload
// in three levels (32^3 leaves) at the 4 KiB leaf size below.
const DefaultChunkFanOut = 32

// DefaultLeafSize is the maximum payload carried by a single leaf chunk.
const DefaultLeafSize = 4096

// nodeKind tags whether a chunk is a leaf (raw payload bytes) or an interior
// node (a list of child hashes).
type nodeKind byte

const (
	nodeLeaf    nodeKind = 0
	nodeInterior nodeKind = 1
)

// Assembler reconstructs payloads from a Host's reveal channel.
type Assembler struct {
	host Host
}

// NewAssembler binds an Assembler to host.
func NewAssembler(host Host) *Assembler { return &Assembler{host: host} }

// chunkCID derives a content identifier for a raw chunk: a multihash over
// the chunk bytes, wrapped in a CIDv1 with the raw codec. Nothing in this
// module calls it; internally addressing is by the raw Hash alone.
func chunkCID(data []byte) (cid.Cid, error) {
	sum, err := mh.Sum(data, mh.KECCAK_256, -1)
	if err != nil {
		return cid.Undef, NewError(KindStorageFailure, "multihash chunk", err)
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

// ChunkHash returns the Hash a chunk's bytes reveal under, which is exactly
// Keccak256 of the encoded node (leaf or interior) — the identifier a
// RevealLargePayload operation's tree is built from.
func ChunkHash(encoded []byte) Hash { return Keccak256(encoded) }

func encodeLeaf(payload []byte) []byte {
	return append([]byte{byte(nodeLeaf)}, payload...)
}

func encodeInterior(children []Hash) []byte {
	out := make([]byte, 1, 1+len(children)*HashSize)
	out[0] = byte(nodeInterior)
	for _, c := range children {
		out = append(out, c[:]...)
	}
	return out
}

// BuildTree splits data into leaves and folds them into a Merkle tree with
// the given fan-out, returning the root hash and the full set of encoded
// chunks keyed by their own hash, ready to be seeded into a Host's reveal
// channel (e.g. via WALHost.SeedPreimage / MemHost.SeedPreimage) ahead of
// submitting a RevealLargePayload operation referencing the root.
func BuildTree(data []byte, leafSize, fanOut int) (root Hash, chunks map[Hash][]byte, numLeaves uint32, err error) {
	if leafSize <= 0 {
		leafSize = DefaultLeafSize
	}
	if fanOut <= 1 {
		fanOut = DefaultChunkFanOut
	}
	chunks = make(map[Hash][]byte)

	var level []Hash
	for off := 0; off < len(data) || len(level) == 0; off += leafSize {
		end := off + leafSize
		if end > len(data) {
			end = len(data)
		}
		enc := encodeLeaf(data[off:end])
		h := ChunkHash(enc)
		chunks[h] = enc
		level = append(level, h)
		if end == len(data) {
			break
		}
	}
	numLeaves = uint32(len(level))

	for len(level) > 1 {
		var next []Hash
		for i := 0; i < len(level); i += fanOut {
			j := i + fanOut
			if j > len(level) {
				j = len(level)
			}
			enc := encodeInterior(level[i:j])
			h := ChunkHash(enc)
			chunks[h] = enc
			next = append(next, h)
		}
		level = next
	}
	root = level[0]
	return root, chunks, numLeaves, nil
}

// Assemble walks the tree rooted at root via RevealPreimage and returns the
// concatenated leaf payload. Fails with KindPreimageMissing if any chunk was
// never revealed, or KindSizeExceeded if the reconstructed payload would
// exceed maxSize (protecting the dispatcher from an unbounded-memory
// reveal).
func (a *Assembler) Assemble(root Hash, maxSize int) ([]byte, error) {
	var out []byte
	var walk func(h Hash) error
	walk = func(h Hash) error {
		enc, err := a.host.RevealPreimage(h)
		if err != nil {
			return err
		}
		if len(enc) == 0 {
			return NewError(KindPreimageMissing, h.String(), nil)
		}
		if ChunkHash(enc) != h {
			return NewError(KindHashMismatch, h.String(), nil)
		}
		switch nodeKind(enc[0]) {
		case nodeLeaf:
			out = append(out, enc[1:]...)
			if maxSize > 0 && len(out) > maxSize {
				return NewError(KindSizeExceeded, "revealed payload exceeds limit", nil)
			}
			return nil
		case nodeInterior:
			body := enc[1:]
			if len(body)%HashSize != 0 {
				return NewError(KindDecode, "malformed interior chunk", nil)
			}
			for i := 0; i+HashSize <= len(body); i += HashSize {
				var child Hash
				copy(child[:], body[i:i+HashSize])
				if err := walk(child); err != nil {
					return err
				}
			}
			return nil
		default:
			return NewError(KindDecode, "unknown chunk kind", nil)
		}
	}
	if err := walk(root); err != nil {
		return nil, err
	}
	return out, nil
}
