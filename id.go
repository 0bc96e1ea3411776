package eventchain

import (
	"bytes"
	"crypto/rand"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/blake2b"
)

const (
	ChainIDVersion byte = 0x40
	ChainIDSize         = 45

	nonceSize    = 20
	keyHashSize  = 20
	checksumSize = 4
)

func secureHash(data []byte) []byte {
	digest := blake2b.Sum256(data)
	return crypto.Keccak256(digest[:])
}

// CreateChainID derives a chain id for the genesis signer key.
// When nonce is nil a random nonce is used.
func CreateChainID(signkey []byte, nonce []byte) (string, error) {
	n := make([]byte, nonceSize)
	if nonce == nil {
		if _, err := rand.Read(n); err != nil {
			return "", fmt.Errorf("failed to create nonce: %w", err)
		}
	} else {
		copy(n, GetHash(nonce))
	}

	raw := make([]byte, 0, ChainIDSize)
	raw = append(raw, ChainIDVersion)
	raw = append(raw, n...)
	raw = append(raw, secureHash(signkey)[:keyHashSize]...)
	raw = append(raw, secureHash(raw)[:checksumSize]...)

	return Base58Encode(raw), nil
}

// IsValidChainID reports whether id was derived from the base58 encoded signkey.
func IsValidChainID(id string, signkey string) bool {
	raw := Base58Decode(id)
	if len(raw) != ChainIDSize {
		return false
	}

	key := Base58Decode(signkey)
	if key == nil {
		return false
	}

	if raw[0] != ChainIDVersion {
		return false
	}

	keyHash := raw[1+nonceSize : 1+nonceSize+keyHashSize]
	if !bytes.Equal(keyHash, secureHash(key)[:keyHashSize]) {
		return false
	}

	body := raw[:ChainIDSize-checksumSize]
	checksum := raw[ChainIDSize-checksumSize:]
	return bytes.Equal(checksum, secureHash(body)[:checksumSize])
}
