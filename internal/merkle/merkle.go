package merkle

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Leaf is one (recipient, amount owed) payout commitment. Amount is in token
// minor units.
type Leaf struct {
	Address string
	Amount  *big.Int
}

// Hash is keccak256(address ‖ uint256 amount), the packed encoding the claim
// contract verifies against.
func (l Leaf) Hash() [32]byte {
	addr := common.HexToAddress(l.Address)
	amount := make([]byte, 32)
	if l.Amount != nil {
		l.Amount.FillBytes(amount)
	}
	var out [32]byte
	copy(out[:], crypto.Keccak256(addr.Bytes(), amount))
	return out
}

// Tree is a sorted-pair Merkle tree: each parent is keccak256 of its two
// children in byte order, so the root and every proof are deterministic for
// a fixed leaf set regardless of construction order. Odd nodes are promoted
// unhashed.
type Tree struct {
	leaves []Leaf
	hashes [][32]byte
	levels [][][32]byte
}

// Build constructs a tree over the given leaves. Leaves are sorted by hash
// before building, so two calls with the same set in different order yield
// the same root.
func Build(leaves []Leaf) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, fmt.Errorf("merkle: no leaves")
	}

	sorted := make([]Leaf, len(leaves))
	copy(sorted, leaves)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i].Hash(), sorted[j].Hash()
		return bytes.Compare(a[:], b[:]) < 0
	})

	hashes := make([][32]byte, len(sorted))
	for i, leaf := range sorted {
		hashes[i] = leaf.Hash()
	}

	levels := [][][32]byte{hashes}
	level := hashes
	for len(level) > 1 {
		next := make([][32]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			next = append(next, hashPair(level[i], level[i+1]))
		}
		levels = append(levels, next)
		level = next
	}

	return &Tree{leaves: sorted, hashes: hashes, levels: levels}, nil
}

func (t *Tree) Root() [32]byte {
	top := t.levels[len(t.levels)-1]
	return top[0]
}

func (t *Tree) RootHex() string {
	root := t.Root()
	return "0x" + hex.EncodeToString(root[:])
}

func (t *Tree) Leaves() []Leaf {
	return t.leaves
}

// Proof returns the sibling path for the leaf with the given hash.
func (t *Tree) Proof(leafHash [32]byte) ([][32]byte, error) {
	index := -1
	for i, h := range t.hashes {
		if h == leafHash {
			index = i
			break
		}
	}
	if index < 0 {
		return nil, fmt.Errorf("merkle: leaf not in tree")
	}

	var proof [][32]byte
	for _, level := range t.levels[:len(t.levels)-1] {
		sibling := index ^ 1
		if sibling < len(level) {
			proof = append(proof, level[sibling])
		}
		index /= 2
	}
	return proof, nil
}

// ProofHex returns the proof for one recipient address, hex-encoded.
func (t *Tree) ProofHex(address string, amount *big.Int) ([]string, error) {
	proof, err := t.Proof(Leaf{Address: address, Amount: amount}.Hash())
	if err != nil {
		return nil, err
	}
	out := make([]string, len(proof))
	for i, h := range proof {
		out[i] = "0x" + hex.EncodeToString(h[:])
	}
	return out, nil
}

// RootFromHex decodes a 0x-prefixed 32-byte root.
func RootFromHex(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return out, fmt.Errorf("merkle: bad root %q: %w", s, err)
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("merkle: root %q is %d bytes, want 32", s, len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

// Verify walks a proof up to the root using sorted-pair hashing.
func Verify(root [32]byte, leafHash [32]byte, proof [][32]byte) bool {
	computed := leafHash
	for _, sibling := range proof {
		computed = hashPair(computed, sibling)
	}
	return computed == root
}

func hashPair(a, b [32]byte) [32]byte {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	var out [32]byte
	copy(out[:], crypto.Keccak256(a[:], b[:]))
	return out
}
