package domain

import (
	"bytes"
	"crypto/sha256"

	"github.com/totegamma/eventchain"
)

// ReceiptStep is a single merkle proof step. Exactly one of Left and Right is set.
type ReceiptStep struct {
	Left  string `json:"left,omitempty"`
	Right string `json:"right,omitempty"`
}

// Receipt is a chainpoint style proof that an event hash was included in an anchored merkle tree.
// All hashes are base58 encoded SHA-256 digests.
type Receipt struct {
	Type       string        `json:"type,omitempty"`
	TargetHash string        `json:"targetHash"`
	MerkleRoot string        `json:"merkleRoot"`
	Proof      []ReceiptStep `json:"proof"`
}

// Validate recomputes the merkle path from the target hash up to the root.
func (r *Receipt) Validate() *Validation {
	v := NewValidation()

	target := eventchain.Base58Decode(r.TargetHash)
	if target == nil {
		v.AddError("targetHash is required")
	}
	root := eventchain.Base58Decode(r.MerkleRoot)
	if root == nil {
		v.AddError("merkleRoot is required")
	}
	if v.Failed() {
		return v
	}

	current := target
	for i, step := range r.Proof {
		var combined []byte
		switch {
		case step.Left != "" && step.Right == "":
			sibling := eventchain.Base58Decode(step.Left)
			combined = append(append(combined, sibling...), current...)
		case step.Right != "" && step.Left == "":
			sibling := eventchain.Base58Decode(step.Right)
			combined = append(append(combined, current...), sibling...)
		default:
			v.AddError("proof step %d must have either left or right", i)
			return v
		}
		digest := sha256.Sum256(combined)
		current = digest[:]
	}

	if !bytes.Equal(current, root) {
		v.AddError("merkle root doesn't match")
	}

	return v
}
